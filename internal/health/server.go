package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quoradb/quoradb/internal/config"
)

// Server wraps the observability API in an http.Server, grounded on the
// teacher's web UI listener (internal/server/server.go).
type Server struct {
	httpSrv *http.Server
	logger  *slog.Logger
}

// NewServer builds a Server bound to cfg.Health.Listen, serving the router
// built from raft/sessions/buffers/acl.
func NewServer(cfg config.HealthConfig, raft RaftStatus, sessions SessionSource, buffers BufferSource, logger *slog.Logger) *Server {
	acl := NewACL(cfg.ParsedCIDRs)
	router := NewRouter(raft, sessions, buffers, acl)

	return &Server{
		logger: logger,
		httpSrv: &http.Server{
			Addr:              cfg.Listen,
			Handler:           router,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 2 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
			MaxHeaderBytes:    1 << 20,
		},
	}
}

// Start runs the HTTP listener in a background goroutine. It does not block.
func (s *Server) Start() {
	go func() {
		s.logger.Info("observability api listening", "address", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("observability api error", "error", err)
		}
	}()
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("health: shutdown: %w", err)
	}
	return nil
}
