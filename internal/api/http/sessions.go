package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/steptrace/internal/domain/session"
	"github.com/GriffinCanCode/steptrace/internal/shared/utils"
)

// CreateSession opens an idle debugger session
func (h *Handlers) CreateSession(c *gin.Context) {
	s, err := h.sessions.Create()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":      s.ID(),
		"session": s.Snapshot(),
	})
}

// ListSessions lists all open sessions
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.sessions.List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession returns one session snapshot
func (h *Handlers) GetSession(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// GetFrames returns the loaded trace of a session
func (h *Handlers) GetFrames(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	if !s.Status().CanPlay() {
		respondError(c, session.ErrNoFrames)
		return
	}
	frames := s.Frames()
	c.JSON(http.StatusOK, gin.H{
		"steps": frames,
		"total": len(frames),
	})
}

// RunSession starts a run, terminating any previous one, and waits for it.
func (h *Handlers) RunSession(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	code, ok := h.bindCode(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if h.tracer != nil {
		span, spanCtx := h.tracer.StartSpan(ctx, "session.run")
		defer h.finishSpan(span)
		span.SetTag("session", s.ID().String())
		ctx = spanCtx
	}

	res, err := s.Run(ctx, code)
	if err != nil {
		h.logger.Info("Session run did not settle",
			zap.String("session", s.ID().String()),
			zap.Error(err))
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"result":  res,
		"session": s.Snapshot(),
	})
}

// Forward moves the cursor one frame ahead
func (h *Handlers) Forward(c *gin.Context) { h.control(c, (*session.Session).Forward) }

// Back moves the cursor one frame back
func (h *Handlers) Back(c *gin.Context) { h.control(c, (*session.Session).Back) }

// Play starts auto-play
func (h *Handlers) Play(c *gin.Context) { h.control(c, (*session.Session).Play) }

// Pause stops auto-play
func (h *Handlers) Pause(c *gin.Context) { h.control(c, (*session.Session).Pause) }

// Reset rewinds to the first frame
func (h *Handlers) Reset(c *gin.Context) { h.control(c, (*session.Session).Reset) }

// Stop terminates the outstanding run, if any
func (h *Handlers) Stop(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	s.Terminate()
	c.JSON(http.StatusOK, s.Snapshot())
}

// DeleteSession closes a session
func (h *Handlers) DeleteSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := utils.ValidateID(sessionID, "session id"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.sessions.Delete(sessionID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) control(c *gin.Context, op func(*session.Session) (session.Snapshot, error)) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	snap, err := op(s)
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{
			"error":   err.Error(),
			"session": snap,
		})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handlers) lookup(c *gin.Context) (*session.Session, bool) {
	sessionID := c.Param("id")
	if err := utils.ValidateID(sessionID, "session id"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	s, err := h.sessions.Get(sessionID)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return s, true
}
