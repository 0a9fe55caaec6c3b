package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/steptrace/internal/infrastructure/monitoring"
)

// StatsSnapshot is the JSON view of the service's counters
type StatsSnapshot struct {
	Timestamp time.Time                  `json:"timestamp"`
	Backend   monitoring.MetricsSnapshot `json:"backend"`
	Sandbox   map[string]interface{}     `json:"sandbox,omitempty"`
	Cache     map[string]interface{}     `json:"cache,omitempty"`
	Summary   StatsSummary               `json:"summary"`
}

// StatsSummary provides high-level metrics
type StatsSummary struct {
	TotalRequests     int64   `json:"total_requests"`
	AverageLatencyMs  float64 `json:"average_latency_ms"`
	ErrorRate         float64 `json:"error_rate"`
	ActiveSessions    int     `json:"active_sessions"`
	ActiveConnections int64   `json:"active_connections"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// RegisterMetrics mounts /metrics and /metrics/json. It does nothing when
// the handlers were built without metrics.
func (h *Handlers) RegisterMetrics(r gin.IRouter) {
	if h.metrics == nil {
		return
	}
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	r.GET("/metrics/json", h.Stats)
}

// Stats returns metrics from every component as JSON
func (h *Handlers) Stats(c *gin.Context) {
	snap := h.metrics.GetSnapshot()

	stats := StatsSnapshot{
		Timestamp: time.Now(),
		Backend:   snap,
		Summary:   summarize(snap, h.sessions.Count()),
	}
	if h.pool != nil {
		stats.Sandbox = h.pool.Stats()
	}
	if h.cache != nil {
		stats.Cache = h.cache.Stats()
	}
	c.JSON(http.StatusOK, stats)
}

func summarize(snap monitoring.MetricsSnapshot, sessions int) StatsSummary {
	var errorRate float64
	if snap.TotalRequests > 0 {
		errorRate = float64(snap.TotalErrors) / float64(snap.TotalRequests)
	}
	return StatsSummary{
		TotalRequests:     snap.TotalRequests,
		AverageLatencyMs:  snap.AvgDurationMs,
		ErrorRate:         errorRate,
		ActiveSessions:    sessions,
		ActiveConnections: snap.ActiveConnections,
		UptimeSeconds:     snap.UptimeSeconds,
	}
}
