package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/lomi/client/internal/logging"
)

// ShutdownTimeout bounds graceful shutdown once the run context ends.
var ShutdownTimeout = 10 * time.Second

// Server wraps the http.Server serving the local control API.
type Server struct {
	inner  *http.Server
	logger *slog.Logger
}

// New constructs a server bound to the loopback interface on port. Port 0
// picks a free port.
func New(port int, handler http.Handler, logger *slog.Logger) *Server {
	return &Server{
		inner: &http.Server{
			Addr:              net.JoinHostPort("127.0.0.1", fmt.Sprint(port)),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logging.OrDefault(logger),
	}
}

// Run serves until ctx is cancelled, then shuts down within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.inner.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.inner.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control api listening", "addr", ln.Addr().String())
		errCh <- s.inner.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.inner.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown control api: %w", err)
	}
	s.logger.Info("control api stopped")
	return nil
}
