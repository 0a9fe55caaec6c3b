package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/GriffinCanCode/steptrace/internal/api/http"
	"github.com/GriffinCanCode/steptrace/internal/api/middleware"
	"github.com/GriffinCanCode/steptrace/internal/api/ws"
	"github.com/GriffinCanCode/steptrace/internal/domain/session"
	"github.com/GriffinCanCode/steptrace/internal/domain/worker"
	"github.com/GriffinCanCode/steptrace/internal/infrastructure/cache"
	"github.com/GriffinCanCode/steptrace/internal/infrastructure/config"
	"github.com/GriffinCanCode/steptrace/internal/infrastructure/logging"
	"github.com/GriffinCanCode/steptrace/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/steptrace/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/steptrace/internal/providers/bundle"
	"github.com/GriffinCanCode/steptrace/internal/providers/sandbox"
	"github.com/GriffinCanCode/steptrace/internal/shared/utils"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	sessions *session.Manager
	pool     *sandbox.Pool
	cache    *cache.TraceCache
	tracer   *tracing.Tracer
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// NewServer creates a new server instance. ctx bounds startup work such as
// fetching the prelude bundle.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	}
	logCfg.Level = cfg.Logging.Level
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.Info("Initializing steptrace server",
		zap.String("port", cfg.Server.Port),
		zap.Int("pool_size", cfg.Sandbox.PoolSize),
		zap.Int("max_steps", cfg.Sandbox.MaxSteps),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()
	tracer := tracing.New("steptrace", logger.Component("tracing"))

	sbCfg, err := sandboxConfig(ctx, cfg.Sandbox, metrics, logger)
	if err != nil {
		tracer.Close()
		return nil, err
	}

	// Prewarmed runtimes when configured, otherwise one fresh runtime per run
	factory := worker.SandboxFactory(sbCfg)
	var pool *sandbox.Pool
	if cfg.Sandbox.PoolSize > 0 {
		pool, err = sandbox.NewPool(sbCfg, cfg.Sandbox.PoolSize)
		if err != nil {
			tracer.Close()
			return nil, fmt.Errorf("failed to create sandbox pool: %w", err)
		}
		factory = worker.PoolFactory(pool)
		logger.Info("Sandbox pool initialized", zap.Int("size", cfg.Sandbox.PoolSize))
	}

	var traceCache *cache.TraceCache
	if cfg.Cache.Enabled {
		traceCache, err = cache.New(cfg.Cache.MaxBytes)
		if err != nil {
			if pool != nil {
				pool.Close()
			}
			tracer.Close()
			return nil, err
		}
		logger.Info("Trace cache enabled", zap.Int64("max_bytes", cfg.Cache.MaxBytes))
	}

	sessions := session.NewManager(
		session.ManagerConfig{
			MaxSessions: cfg.Session.MaxSessions,
			IdleTTL:     cfg.Session.IdleTTL.Std(),
		},
		session.Options{
			Factory:    factory,
			Logger:     logger.Component("session"),
			Observer:   metrics.SessionObserver(),
			Cadence:    cfg.Session.Cadence.Std(),
			RunTimeout: cfg.Sandbox.RunTimeout.Std(),
		},
	)

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.CORSFromOrigins(cfg.Server.AllowOrigins)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}
	if cfg.RateLimit.GlobalRPS > 0 {
		logger.Info("Global rate limit enabled", zap.Int("rps", cfg.RateLimit.GlobalRPS))
		router.Use(middleware.GlobalRateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.GlobalRPS,
			Burst:             2 * cfg.RateLimit.GlobalRPS,
		}))
	}
	router.Use(middleware.BodyLimit(bodyLimit(cfg.Sandbox.MaxSourceBytes)))

	validator := utils.NewSourceValidator(cfg.Sandbox.MaxSourceBytes)
	hasher := utils.DefaultHasher()

	handlers := apihttp.NewHandlers(apihttp.Options{
		Sessions:  sessions,
		Validator: validator,
		Cache:     traceCache,
		CacheKey: func(code string) string {
			return hasher.SourceKey(code, cfg.Sandbox.MaxSteps, cfg.Sandbox.MaxCallStackSize)
		},
		Pool:    pool,
		Metrics: metrics,
		Tracer:  tracer,
		Logger:  logger.Component("api"),
	})
	wsHandler := ws.NewHandler(ws.Options{
		Sessions:    sessions,
		Validator:   validator,
		Metrics:     metrics,
		Logger:      logger.Component("ws"),
		CheckOrigin: ws.OriginChecker(cfg.Server.AllowOrigins),
	})

	// Register routes
	handlers.Register(router)
	handlers.RegisterMetrics(router)
	router.GET("/sessions/ws", wsHandler.HandleConnection)

	logger.Info("Server initialized successfully")

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		sessions: sessions,
		pool:     pool,
		cache:    traceCache,
		tracer:   tracer,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}, nil
}

// sandboxConfig maps settings onto the runtime config, fetching the prelude
// bundle when one is configured. A configured bundle that cannot be fetched
// or verified fails startup.
func sandboxConfig(ctx context.Context, cfg config.SandboxConfig, metrics *monitoring.Metrics, logger *logging.Logger) (sandbox.Config, error) {
	sbCfg := sandbox.DefaultConfig()
	sbCfg.MaxCallStackSize = cfg.MaxCallStackSize
	sbCfg.MaxSteps = cfg.MaxSteps

	if cfg.BundleURL == "" {
		return sbCfg, nil
	}

	loader := bundle.NewLoader(bundle.Options{
		Logger:  logger.Component("bundle"),
		OnFetch: metrics.RecordBundleFetch,
	})
	prelude, err := loader.Fetch(ctx, cfg.BundleURL, cfg.BundleSHA256)
	if err != nil {
		return sandbox.Config{}, fmt.Errorf("failed to load prelude bundle: %w", err)
	}
	sbCfg.Prelude = prelude
	logger.Info("Prelude bundle loaded",
		zap.String("url", cfg.BundleURL),
		zap.String("sha256", utils.ShortHash(cfg.BundleSHA256)),
		zap.Int("bytes", len(prelude)),
	)
	return sbCfg, nil
}

// bodyLimit leaves room for JSON escaping around the largest accepted source.
func bodyLimit(maxSource int) int64 {
	return max(int64(utils.MaxMessageSize), 2*int64(maxSource))
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Run serves HTTP and reaps idle sessions until ctx is cancelled, then shuts
// the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.sessions.StartReaper(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close tears down every session, then the shared sandbox resources.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.sessions.Close(ctx); err != nil {
		s.logger.Error("Failed to close sessions", zap.Error(err))
		errs = append(errs, fmt.Errorf("failed to close sessions: %w", err))
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close sandbox pool: %w", err))
		}
	}
	if s.cache != nil {
		s.cache.Close()
	}
	s.tracer.Close()

	// Sync logger before exit
	s.logger.Sync()

	return errors.Join(errs...)
}
