package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/steptrace/internal/domain/trace"
	"github.com/GriffinCanCode/steptrace/internal/infrastructure/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Sandbox.PoolSize = 1
	cfg.Sandbox.MaxSteps = 1000
	cfg.RateLimit.Enabled = false
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv, err := NewServer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServerRoutes(t *testing.T) {
	srv := newTestServer(t, testConfig())
	h := srv.Handler()

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"root", http.MethodGet, "/", http.StatusOK},
		{"health", http.MethodGet, "/health", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"metrics json", http.MethodGet, "/metrics/json", http.StatusOK},
		{"sessions", http.MethodGet, "/sessions", http.StatusOK},
		{"ws without upgrade", http.MethodGet, "/sessions/ws", http.StatusBadRequest},
		{"unknown", http.MethodGet, "/apps", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestServerTraceThroughPool(t *testing.T) {
	srv := newTestServer(t, testConfig())

	w := post(srv.Handler(), "/trace", `{"code":"x = 1\nprint(x)"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	res, err := trace.DecodeJSON(w.Body.Bytes())
	require.NoError(t, err)
	require.True(t, res.OK)
	last, _ := res.Last()
	assert.Equal(t, "1\n", last.Stdout)
}

func TestServerRejectsOversizedSource(t *testing.T) {
	cfg := testConfig()
	cfg.Sandbox.MaxSourceBytes = 32
	srv := newTestServer(t, cfg)

	w := post(srv.Handler(), "/trace", `{"code":"`+strings.Repeat("a", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestServerCacheEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Enabled = true
	cfg.Cache.MaxBytes = 1 << 20
	srv := newTestServer(t, cfg)

	w := post(srv.Handler(), "/trace", `{"code":"print(1)"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "MISS", w.Header().Get("X-Cache"))
}

func TestServerCORS(t *testing.T) {
	cfg := testConfig()
	cfg.Server.AllowOrigins = []string{"http://localhost:5173"}
	srv := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerPreludeBundle(t *testing.T) {
	prelude := []byte("var greeting = 'hi';\n")
	sum := sha256.Sum256(prelude)
	digest := hex.EncodeToString(sum[:])

	bundleSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(prelude)
	}))
	defer bundleSrv.Close()

	t.Run("verified bundle is used", func(t *testing.T) {
		cfg := testConfig()
		cfg.Sandbox.BundleURL = bundleSrv.URL
		cfg.Sandbox.BundleSHA256 = digest
		srv := newTestServer(t, cfg)

		w := post(srv.Handler(), "/trace", `{"code":"print(greeting)"}`)
		require.Equal(t, http.StatusOK, w.Code)
		res, err := trace.DecodeJSON(w.Body.Bytes())
		require.NoError(t, err)
		require.True(t, res.OK)
		last, _ := res.Last()
		assert.Equal(t, "hi\n", last.Stdout)
	})

	t.Run("digest mismatch fails startup", func(t *testing.T) {
		cfg := testConfig()
		cfg.Sandbox.BundleURL = bundleSrv.URL
		cfg.Sandbox.BundleSHA256 = strings.Repeat("0", 64)

		_, err := NewServer(context.Background(), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "prelude bundle")
	})
}

func TestServerRunShutsDown(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	srv := newTestServer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	assert.NoError(t, <-done)
}

func TestServerGlobalRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.GlobalRPS = 1
	srv := newTestServer(t, cfg)

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestBodyLimit(t *testing.T) {
	assert.Equal(t, int64(1<<20), bodyLimit(64<<10))
	assert.Equal(t, int64(4<<20), bodyLimit(2<<20))
}
