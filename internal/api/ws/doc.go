// Package ws provides the WebSocket surface for interactive debugging.
//
// Each connection opens one debugger session and closes it when the socket
// goes away, which terminates any run still in flight. Session snapshots are
// pushed as they change; a slow client only ever sees the newest one.
//
// Message Types (Client → Server):
//   - start: Trace the given code, superseding any previous run
//   - forward, back: Move the cursor one frame
//   - play, pause: Toggle auto-play
//   - reset: Rewind to the first frame
//   - stop: Terminate the outstanding run
//   - ping: Keep-alive ping
//
// Message Types (Server → Client):
//   - status: Lifecycle change (idle, loading, ready, playing, error)
//   - frame: Cursor moved within a loaded trace
//   - error: A command was rejected
//   - pong: Reply to ping
//
// Example Usage:
//
//	handler := ws.NewHandler(ws.Options{Sessions: manager})
//	router.GET("/sessions/ws", handler.HandleConnection)
package ws
