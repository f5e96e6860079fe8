// Package httpserver serves agent status and Prometheus metrics over HTTP.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/wildwatch-go/internal/agent"
	"github.com/tphakala/wildwatch-go/internal/debounce"
	"github.com/tphakala/wildwatch-go/internal/logger"
	"github.com/tphakala/wildwatch-go/internal/monitor"
)

// Server timeouts
const (
	ReadTimeout     = 10 * time.Second
	WriteTimeout    = 30 * time.Second
	IdleTimeout     = 60 * time.Second
	ShutdownTimeout = 5 * time.Second
)

// StatusProvider exposes the running agent.
type StatusProvider interface {
	Status() agent.Status
	Tracks() []debounce.ClassTrackState
}

// DiskStatusFunc reports usage of the agent's storage paths.
type DiskStatusFunc func() ([]monitor.MountStatus, error)

// Config holds the server collaborators. Metrics and Disk are optional.
type Config struct {
	Listen  string
	Version string
	Status  StatusProvider
	Metrics http.Handler
	Disk    DiskStatusFunc
}

// Server is the status and metrics HTTP server.
type Server struct {
	config Config
	echo   *echo.Echo
	log    logger.Logger
	now    func() time.Time
}

// GetLogger returns the module logger for the HTTP server
func GetLogger() logger.Logger {
	return logger.Global().Module("httpserver")
}

// New creates the server and registers its routes.
func New(cfg Config) *Server {
	s := &Server{
		config: cfg,
		echo:   echo.New(),
		log:    GetLogger(),
		now:    time.Now,
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = ReadTimeout
	s.echo.Server.WriteTimeout = WriteTimeout
	s.echo.Server.IdleTimeout = IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.String("ip", v.RemoteIP),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}
			s.log.Debug("request", fields...)
			return nil
		},
	}))
}

func (s *Server) setupRoutes() {
	if s.config.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.config.Metrics))
	}

	api := s.echo.Group("/api/v1")
	api.GET("/health", s.health)
	api.GET("/tracks", s.tracks)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	s.echo.Listener = ln
	s.log.Info("starting status server", logger.String("address", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start("")
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("status server shutdown failed", logger.Error(err))
		return err
	}
	<-errCh
	s.log.Info("status server stopped")
	return nil
}
