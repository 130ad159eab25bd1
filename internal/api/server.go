// Package api hosts the local HTTP server. Routes are registered by the
// versioned packages; see internal/api/v1.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/hrconsole/notifyd/internal/api/middleware"
	"github.com/hrconsole/notifyd/internal/errors"
	"github.com/hrconsole/notifyd/internal/logger"
)

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// Server is the echo server with notifyd middleware applied.
type Server struct {
	echo            *echo.Echo
	listen          string
	shutdownTimeout time.Duration
	log             logger.Logger
	onShutdown      []func()
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithShutdownTimeout sets how long Run waits for requests to drain.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// NewServer creates a Server listening on listen once Run is called.
func NewServer(listen string, opts ...ServerOption) *Server {
	s := &Server{
		echo:            echo.New(),
		listen:          listen,
		shutdownTimeout: DefaultShutdownTimeout,
		log:             logger.NewDiscard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Module("http")

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(echomw.Recover())
	s.echo.Use(middleware.NewRequestLoggerWithSkipper(s.log, middleware.SkipStreams))
	s.echo.Use(echomw.BodyLimit("64K"))
	return s
}

// Echo returns the underlying echo instance for route registration.
func (s *Server) Echo() *echo.Echo { return s.echo }

// OnShutdown registers fn to run before the server drains.
func (s *Server) OnShutdown(fn func()) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Addr returns the bound address, or nil before the listener is up.
func (s *Server) Addr() net.Addr { return s.echo.ListenerAddr() }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.echo.Start(s.listen) }()

	s.log.Info("http server starting", logger.String("address", s.listen))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New(err).
			Component("http").
			Category(errors.CategoryNetwork).
			Context("address", s.listen).
			Build()
	case <-ctx.Done():
	}

	for _, fn := range s.onShutdown {
		fn()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	err := s.echo.Shutdown(shutdownCtx)
	<-errCh
	if err != nil {
		s.log.Error("http server shutdown", logger.Error(err))
		return errors.New(err).
			Component("http").
			Category(errors.CategoryNetwork).
			Context("operation", "shutdown").
			Build()
	}
	s.log.Info("http server stopped")
	return nil
}
