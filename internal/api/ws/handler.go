package ws

import (
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/steptrace/internal/domain/session"
	"github.com/GriffinCanCode/steptrace/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/steptrace/internal/shared/utils"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	replyQueue = 16
)

// Client message types
const (
	TypeStart   = "start"
	TypeForward = "forward"
	TypeBack    = "back"
	TypePlay    = "play"
	TypePause   = "pause"
	TypeReset   = "reset"
	TypeStop    = "stop"
	TypePing    = "ping"
)

// Server message types
const (
	TypeStatus = "status"
	TypeFrame  = "frame"
	TypeError  = "error"
	TypePong   = "pong"
)

// ClientMessage is sent by the browser.
type ClientMessage struct {
	Type string `json:"type"`
	Code string `json:"code,omitempty"`
}

// ServerMessage is pushed to the browser. Status and frame messages carry
// the full session snapshot.
type ServerMessage struct {
	Type      string            `json:"type"`
	Session   *session.Snapshot `json:"session,omitempty"`
	Error     string            `json:"error,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Options configures the WebSocket handler.
type Options struct {
	Sessions    *session.Manager
	Validator   *utils.SourceValidator
	Metrics     *monitoring.Metrics
	Logger      *zap.Logger
	CheckOrigin func(r *http.Request) bool
}

// Handler manages WebSocket connections. Each connection owns one session
// for its whole lifetime.
type Handler struct {
	sessions  *session.Manager
	validator *utils.SourceValidator
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

// NewHandler creates a new WebSocket handler
func NewHandler(opts Options) *Handler {
	h := &Handler{
		sessions:  opts.Sessions,
		validator: opts.Validator,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
	}
	if h.validator == nil {
		h.validator = utils.NewSourceValidator(utils.DefaultMaxSourceSize)
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.upgrader.CheckOrigin == nil {
		h.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	return h
}

// OriginChecker accepts requests whose Origin is listed. An empty list or a
// "*" entry accepts everything.
func OriginChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}

// HandleConnection upgrades the request and serves one debugger session
// until the socket closes. Closing the socket tears the session down, which
// terminates any outstanding run.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	s, err := h.sessions.Create()
	if err != nil {
		h.logger.Warn("Refusing WebSocket session", zap.Error(err))
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if b, mErr := sonic.Marshal(ServerMessage{Type: TypeError, Error: err.Error(), Timestamp: time.Now().Unix()}); mErr == nil {
			conn.WriteMessage(websocket.TextMessage, b)
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		return
	}
	sessionID := s.ID().String()
	defer h.sessions.Delete(sessionID)

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	logger := h.logger.With(zap.String("session", sessionID))
	logger.Info("WebSocket connected", zap.String("remote", c.ClientIP()))

	cl := newClient(conn, s, h, logger)
	unsubscribe := s.Subscribe(cl.publish)
	cl.publish(s.Snapshot())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cl.writePump()
	}()

	cl.readPump()
	unsubscribe()
	close(cl.done)
	wg.Wait()

	logger.Info("WebSocket disconnected")
}

// client pairs a connection with its session. The reader goroutine
// dispatches commands; the writer goroutine owns every write.
type client struct {
	conn    *websocket.Conn
	session *session.Session
	h       *Handler
	logger  *zap.Logger

	replies chan ServerMessage
	notify  chan struct{}
	done    chan struct{}
	stopped chan struct{}

	mu     sync.Mutex
	latest *session.Snapshot
}

func newClient(conn *websocket.Conn, s *session.Session, h *Handler, logger *zap.Logger) *client {
	return &client{
		conn:    conn,
		session: s,
		h:       h,
		logger:  logger,
		replies: make(chan ServerMessage, replyQueue),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// publish records the newest snapshot and wakes the writer. It never blocks:
// snapshots are complete views, so the writer only needs the latest one.
func (cl *client) publish(snap session.Snapshot) {
	cl.mu.Lock()
	cl.latest = &snap
	cl.mu.Unlock()

	select {
	case cl.notify <- struct{}{}:
	default:
	}
}

func (cl *client) takeLatest() *session.Snapshot {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	snap := cl.latest
	cl.latest = nil
	return snap
}

func (cl *client) readPump() {
	cl.conn.SetReadLimit(utils.MaxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cl.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			cl.reply(ServerMessage{Type: TypeError, Error: "malformed message"})
			continue
		}
		cl.record("in", inboundLabel(msg.Type))
		cl.dispatch(msg)
	}
}

func (cl *client) dispatch(msg ClientMessage) {
	var err error
	switch msg.Type {
	case TypeStart:
		if err = cl.h.validator.Validate(msg.Code); err == nil {
			_, err = cl.session.Start(msg.Code)
		}
	case TypeForward:
		_, err = cl.session.Forward()
	case TypeBack:
		_, err = cl.session.Back()
	case TypePlay:
		_, err = cl.session.Play()
	case TypePause:
		_, err = cl.session.Pause()
	case TypeReset:
		_, err = cl.session.Reset()
	case TypeStop:
		cl.session.Terminate()
	case TypePing:
		cl.reply(ServerMessage{Type: TypePong})
	default:
		cl.reply(ServerMessage{Type: TypeError, Error: "unknown message type"})
	}
	if err != nil {
		cl.reply(ServerMessage{Type: TypeError, Error: err.Error()})
	}
}

// reply queues a direct answer. It is only called from the reader, so it
// may block while the writer catches up, but not once the writer is gone.
func (cl *client) reply(msg ServerMessage) {
	msg.Timestamp = time.Now().Unix()
	select {
	case cl.replies <- msg:
	case <-cl.stopped:
	}
}

// writePump closes the connection on exit so a blocked reader returns.
func (cl *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(cl.stopped)
		cl.conn.Close()
	}()

	var lastStatus session.Status
	var lastError string

	for {
		select {
		case <-cl.done:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			cl.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case msg := <-cl.replies:
			if !cl.write(msg) {
				return
			}

		case <-cl.notify:
			snap := cl.takeLatest()
			if snap == nil {
				continue
			}
			msgType := TypeFrame
			if snap.Status != lastStatus || snap.Error != lastError || snap.Frame == nil {
				msgType = TypeStatus
			}
			lastStatus, lastError = snap.Status, snap.Error
			if !cl.write(ServerMessage{Type: msgType, Session: snap, Timestamp: time.Now().Unix()}) {
				return
			}

		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (cl *client) write(msg ServerMessage) bool {
	b, err := sonic.Marshal(msg)
	if err != nil {
		cl.logger.Error("Failed to encode WebSocket message", zap.Error(err))
		return true
	}
	cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := cl.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		cl.logger.Debug("WebSocket write failed", zap.Error(err))
		return false
	}
	cl.record("out", msg.Type)
	return true
}

// inboundLabel keeps client-chosen strings out of metric labels.
func inboundLabel(msgType string) string {
	switch msgType {
	case TypeStart, TypeForward, TypeBack, TypePlay, TypePause, TypeReset, TypeStop, TypePing:
		return msgType
	}
	return "unknown"
}

func (cl *client) record(direction, msgType string) {
	if cl.h.metrics != nil {
		cl.h.metrics.RecordWSMessage(direction, msgType)
	}
}
