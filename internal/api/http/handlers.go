package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/steptrace/internal/domain/session"
	"github.com/GriffinCanCode/steptrace/internal/infrastructure/cache"
	"github.com/GriffinCanCode/steptrace/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/steptrace/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/steptrace/internal/providers/sandbox"
	"github.com/GriffinCanCode/steptrace/internal/shared/utils"
)

// Version is reported by the root endpoint.
const Version = "0.3.0"

// Options carries the collaborators handlers need. Only Sessions is required;
// a nil Cache disables the one-shot cache and Pool is only reported by /health.
type Options struct {
	Sessions  *session.Manager
	Validator *utils.SourceValidator
	Cache     *cache.TraceCache
	CacheKey  func(code string) string
	Pool      *sandbox.Pool
	Metrics   *monitoring.Metrics
	Tracer    *tracing.Tracer
	Logger    *zap.Logger
}

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions  *session.Manager
	validator *utils.SourceValidator
	cache     *cache.TraceCache
	cacheKey  func(code string) string
	pool      *sandbox.Pool
	metrics   *monitoring.Metrics
	tracer    *tracing.Tracer
	logger    *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(opts Options) *Handlers {
	h := &Handlers{
		sessions:  opts.Sessions,
		validator: opts.Validator,
		cache:     opts.Cache,
		cacheKey:  opts.CacheKey,
		pool:      opts.Pool,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		logger:    opts.Logger,
	}
	if h.validator == nil {
		h.validator = utils.NewSourceValidator(utils.DefaultMaxSourceSize)
	}
	if h.cacheKey == nil {
		hasher := utils.DefaultHasher()
		h.cacheKey = func(code string) string { return hasher.HashString(code) }
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

// Register mounts every REST route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	r.POST("/trace", h.Trace)

	r.POST("/sessions", h.CreateSession)
	r.GET("/sessions", h.ListSessions)
	r.GET("/sessions/:id", h.GetSession)
	r.GET("/sessions/:id/frames", h.GetFrames)
	r.POST("/sessions/:id/run", h.RunSession)
	r.POST("/sessions/:id/forward", h.Forward)
	r.POST("/sessions/:id/back", h.Back)
	r.POST("/sessions/:id/play", h.Play)
	r.POST("/sessions/:id/pause", h.Pause)
	r.POST("/sessions/:id/reset", h.Reset)
	r.POST("/sessions/:id/stop", h.Stop)
	r.DELETE("/sessions/:id", h.DeleteSession)
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "steptrace",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":           "healthy",
		"sessions":         h.sessions.Count(),
		"max_source_bytes": h.validator.MaxSize(),
	}
	if h.pool != nil {
		body["sandbox_pool"] = h.pool.Stats()
	}
	if h.cache != nil {
		body["cache"] = h.cache.Stats()
	}
	c.JSON(http.StatusOK, body)
}

// CodeRequest is the body of POST /trace and POST /sessions/:id/run.
type CodeRequest struct {
	Code string `json:"code"`
}

// Trace runs code once on a fresh worker and returns the whole result.
// Sandbox failures are reported in the body with ok=false and status 200.
func (h *Handlers) Trace(c *gin.Context) {
	code, ok := h.bindCode(c)
	if !ok {
		return
	}

	key := ""
	if h.cache != nil {
		key = h.cacheKey(code)
		res, hit := h.cache.Get(key)
		h.recordCache(hit)
		if hit {
			c.Header("X-Cache", "HIT")
			c.JSON(http.StatusOK, res)
			return
		}
		c.Header("X-Cache", "MISS")
	}

	ctx := c.Request.Context()
	if h.tracer != nil {
		span, spanCtx := h.tracer.StartSpan(ctx, "sandbox.run")
		defer h.finishSpan(span)
		ctx = spanCtx
		span.SetTag("source_bytes", strconv.Itoa(len(code)))
	}

	s := h.sessions.Detached()
	defer s.Close()

	res, err := s.Run(ctx, code)
	if err != nil {
		h.logger.Warn("One-shot run failed", zap.Error(err))
		respondError(c, err)
		return
	}
	if h.cache != nil {
		h.cache.Put(key, res)
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) bindCode(c *gin.Context) (string, bool) {
	var req CodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return "", false
	}
	if err := h.validator.Validate(req.Code); err != nil {
		respondError(c, err)
		return "", false
	}
	return req.Code, true
}

func (h *Handlers) finishSpan(span *tracing.Span) {
	span.Finish()
	h.tracer.Submit(span)
}

func (h *Handlers) recordCache(hit bool) {
	if h.metrics != nil {
		h.metrics.RecordCacheLookup(hit)
	}
}
