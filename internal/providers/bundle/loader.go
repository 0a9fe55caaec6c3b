package bundle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/steptrace/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/steptrace/internal/shared/utils"
)

// MaxBundleBytes caps a decoded prelude bundle.
const MaxBundleBytes = 4 << 20

var (
	ErrDigest   = errors.New("bundle digest mismatch")
	ErrTooLarge = errors.New("bundle exceeds size limit")
)

// Options configures a Loader.
type Options struct {
	Timeout    time.Duration
	RetryMax   int
	RetryWait  time.Duration
	Logger     *zap.Logger
	OnFetch    func(status string) // metrics hook: "ok", "error", "rejected"
	HTTPClient *http.Client        // overrides the retrying client in tests
}

// Loader downloads the sandbox prelude bundle through a retrying HTTP
// client guarded by a circuit breaker.
type Loader struct {
	client  *resty.Client
	breaker *resilience.Breaker
	hasher  *utils.Hasher
	logger  *zap.Logger
	onFetch func(string)
}

// NewLoader creates a loader.
func NewLoader(opts Options) *Loader {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryWait == 0 {
		opts.RetryWait = 500 * time.Millisecond
	}
	if opts.OnFetch == nil {
		opts.OnFetch = func(string) {}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		retryClient := retryablehttp.NewClient()
		retryClient.RetryMax = opts.RetryMax
		retryClient.RetryWaitMin = opts.RetryWait
		retryClient.RetryWaitMax = 10 * opts.RetryWait
		retryClient.Logger = leveledLogger{opts.Logger.Sugar()}
		httpClient = retryClient.StandardClient()
	}

	client := resty.NewWithClient(httpClient).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", "steptrace-bundle/1.0").
		SetHeader("Accept", "application/javascript, application/gzip")

	breaker := resilience.New("bundle", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to resilience.State) {
			opts.Logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})

	return &Loader{
		client:  client,
		breaker: breaker,
		hasher:  utils.DefaultHasher(),
		logger:  opts.Logger,
		onFetch: opts.OnFetch,
	}
}

// Fetch downloads the bundle at url, gunzips it when needed, and verifies
// the decoded text against the hex SHA-256 digest.
func (l *Loader) Fetch(ctx context.Context, url, digest string) (string, error) {
	start := time.Now()
	body, err := resilience.Call(ctx, l.breaker, func(ctx context.Context) ([]byte, error) {
		return l.download(ctx, url)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
			l.onFetch("rejected")
		} else {
			l.onFetch("error")
		}
		return "", fmt.Errorf("fetch bundle: %w", err)
	}

	if err := l.hasher.Verify(body, digest); err != nil {
		l.onFetch("error")
		return "", fmt.Errorf("%w: %v", ErrDigest, err)
	}

	l.onFetch("ok")
	l.logger.Info("Prelude bundle loaded",
		zap.String("url", url),
		zap.Int("bytes", len(body)),
		zap.String("sha256", utils.ShortHash(digest)),
		zap.Duration("duration", time.Since(start)))
	return string(body), nil
}

func (l *Loader) download(ctx context.Context, url string) ([]byte, error) {
	resp, err := l.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, err
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}

	data, err := readLimited(raw, MaxBundleBytes)
	if err != nil {
		return nil, err
	}
	return decode(data)
}

// decode gunzips data when it starts with the gzip magic bytes.
func decode(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gunzip bundle: %w", err)
	}
	defer zr.Close()
	return readLimited(zr, MaxBundleBytes)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
