package streamserver

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/quoradb/quoradb/internal/clientbuf"
	"github.com/quoradb/quoradb/internal/dispatch"
)

// Server accepts client-stream WebSocket connections and hands each one to
// a fresh session. One Server instance exists per node; it shares a single
// ClientBuffer registry and Dispatcher across every connection.
type Server struct {
	Secret     string
	Buffers    *clientbuf.Registry
	Dispatcher *dispatch.Dispatcher
	Logger     *slog.Logger
	Tracker    *Tracker

	upgrader websocket.Upgrader
}

// NewServer builds a Server ready to be mounted as an http.Handler. Its
// Tracker is exposed so the observability API (internal/health) can
// snapshot currently connected sessions without this package depending on
// health.
func NewServer(secret string, buffers *clientbuf.Registry, dispatcher *dispatch.Dispatcher, logger *slog.Logger) *Server {
	return &Server{
		Secret:     secret,
		Buffers:    buffers,
		Dispatcher: dispatcher,
		Logger:     logger,
		Tracker:    &Tracker{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The client stream is an internal node-to-node/client-to-leader
			// protocol, not a browser API; origin checks don't apply the way
			// they would to a public-facing websocket endpoint.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs its session to completion.
// Session lifetime tracks connection lifetime: this call blocks until the
// session reaches Closed.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	sess := newSession(conn, s.Secret, s.Buffers, s.Dispatcher, s.Logger, s.Tracker)
	sess.run()
}
