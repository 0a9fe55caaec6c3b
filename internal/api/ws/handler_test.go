package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/steptrace/internal/domain/session"
	"github.com/GriffinCanCode/steptrace/internal/domain/worker"
	"github.com/GriffinCanCode/steptrace/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/steptrace/internal/providers/sandbox"
)

func setupServer(t *testing.T, maxSessions int) (*httptest.Server, *session.Manager, *monitoring.Metrics) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	config := sandbox.DefaultConfig()
	config.MaxSteps = 1000
	manager := session.NewManager(
		session.ManagerConfig{MaxSessions: maxSessions},
		session.Options{Factory: worker.SandboxFactory(config)},
	)
	metrics := monitoring.NewMetrics()

	h := NewHandler(Options{Sessions: manager, Metrics: metrics})
	router := gin.New()
	router.GET("/sessions/ws", h.HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		manager.Close(context.Background())
	})
	return srv, manager, metrics
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil reads messages until match returns true.
func readUntil(t *testing.T, conn *websocket.Conn, match func(ServerMessage) bool) ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var msg ServerMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func TestConnectSendsIdleStatus(t *testing.T) {
	srv, manager, metrics := setupServer(t, 4)
	conn := dial(t, srv)

	msg := readUntil(t, conn, func(m ServerMessage) bool { return m.Type == TypeStatus })
	require.NotNil(t, msg.Session)
	assert.Equal(t, session.StatusIdle, msg.Session.Status)
	assert.Equal(t, 1, manager.Count())
	assert.Equal(t, int64(1), metrics.GetSnapshot().ActiveConnections)
}

func TestStartAndStep(t *testing.T) {
	srv, _, _ := setupServer(t, 4)
	conn := dial(t, srv)

	send(t, conn, ClientMessage{Type: TypeStart, Code: "let x = 1\nx = x + 1\nprint(x)"})
	ready := readUntil(t, conn, func(m ServerMessage) bool {
		return m.Type == TypeStatus && m.Session != nil && m.Session.Status == session.StatusReady
	})
	require.Greater(t, ready.Session.Total, 2)
	assert.Equal(t, 0, ready.Session.Cursor)
	require.NotNil(t, ready.Session.Frame)

	send(t, conn, ClientMessage{Type: TypeForward})
	msg := readUntil(t, conn, func(m ServerMessage) bool { return m.Type == TypeFrame })
	assert.Equal(t, 1, msg.Session.Cursor)
	assert.Equal(t, 2, msg.Session.Step)

	send(t, conn, ClientMessage{Type: TypeReset})
	msg = readUntil(t, conn, func(m ServerMessage) bool { return m.Type == TypeFrame })
	assert.Equal(t, 0, msg.Session.Cursor)

	send(t, conn, ClientMessage{Type: TypePlay})
	msg = readUntil(t, conn, func(m ServerMessage) bool { return m.Type == TypeStatus })
	assert.Equal(t, session.StatusPlaying, msg.Session.Status)

	send(t, conn, ClientMessage{Type: TypePause})
	msg = readUntil(t, conn, func(m ServerMessage) bool { return m.Type == TypeStatus })
	assert.Equal(t, session.StatusReady, msg.Session.Status)
	assert.False(t, msg.Session.Playing)
}

func TestStopTerminatesRun(t *testing.T) {
	srv, _, _ := setupServer(t, 4)
	conn := dial(t, srv)

	send(t, conn, ClientMessage{Type: TypeStart, Code: "for (;;) {}"})
	readUntil(t, conn, func(m ServerMessage) bool {
		return m.Session != nil && m.Session.Status == session.StatusLoading
	})

	send(t, conn, ClientMessage{Type: TypeStop})
	msg := readUntil(t, conn, func(m ServerMessage) bool {
		return m.Session != nil && m.Session.Status == session.StatusIdle
	})
	assert.Empty(t, msg.Session.RunID)
}

func TestCommandErrors(t *testing.T) {
	srv, _, _ := setupServer(t, 4)
	conn := dial(t, srv)

	tests := []struct {
		name string
		msg  ClientMessage
		want string
	}{
		{"forward without trace", ClientMessage{Type: TypeForward}, session.ErrNoFrames.Error()},
		{"unknown type", ClientMessage{Type: "launch"}, "unknown message type"},
		{"invalid source", ClientMessage{Type: TypeStart, Code: "a\x00b"}, "NUL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, conn, tt.msg)
			msg := readUntil(t, conn, func(m ServerMessage) bool { return m.Type == TypeError })
			assert.Contains(t, msg.Error, tt.want)
		})
	}
}

func TestPingPong(t *testing.T) {
	srv, _, _ := setupServer(t, 4)
	conn := dial(t, srv)

	send(t, conn, ClientMessage{Type: TypePing})
	msg := readUntil(t, conn, func(m ServerMessage) bool { return m.Type == TypePong })
	assert.NotZero(t, msg.Timestamp)
}

func TestCloseTearsDownSession(t *testing.T) {
	srv, manager, metrics := setupServer(t, 4)
	conn := dial(t, srv)

	readUntil(t, conn, func(m ServerMessage) bool { return m.Type == TypeStatus })
	require.Equal(t, 1, manager.Count())

	send(t, conn, ClientMessage{Type: TypeStart, Code: "for (;;) {}"})
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	assert.Eventually(t, func() bool { return manager.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return metrics.GetSnapshot().ActiveConnections == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSessionLimitRejectsConnection(t *testing.T) {
	srv, _, _ := setupServer(t, 1)
	first := dial(t, srv)
	readUntil(t, first, func(m ServerMessage) bool { return m.Type == TypeStatus })

	second := dial(t, srv)
	msg := readUntil(t, second, func(m ServerMessage) bool { return m.Type == TypeError })
	assert.Equal(t, session.ErrTooManySessions.Error(), msg.Error)
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    bool
	}{
		{"empty list allows all", nil, "http://evil.example", true},
		{"wildcard allows all", []string{"*"}, "http://evil.example", true},
		{"listed origin", []string{"http://localhost:5173"}, "http://localhost:5173", true},
		{"unlisted origin", []string{"http://localhost:5173"}, "http://evil.example", false},
		{"no origin header", []string{"http://localhost:5173"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/sessions/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, OriginChecker(tt.origins)(req))
		})
	}
}
