package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/hydroguard/pestwatch/internal/analysis"
	mw "github.com/hydroguard/pestwatch/internal/api/middleware"
	"github.com/hydroguard/pestwatch/internal/conf"
	"github.com/hydroguard/pestwatch/internal/diskmanager"
	"github.com/hydroguard/pestwatch/internal/errors"
	"github.com/hydroguard/pestwatch/internal/logger"
	"github.com/hydroguard/pestwatch/internal/observability"
	"github.com/hydroguard/pestwatch/internal/observability/metrics"
	"github.com/hydroguard/pestwatch/internal/recordstore"
)

// Server is the HTTP server for pestwatch.
// It manages the Echo framework instance, middleware, and all HTTP routes.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	log      logger.Logger

	// Dependencies
	processor *analysis.Processor
	records   recordstore.Store
	metrics   *observability.Metrics
	disk      *diskmanager.Manager
	rateStore *mw.GlobalRateStore

	startTime time.Time
	addr      chan net.Addr
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithProcessor sets the detection pipeline behind /upload and /detect_latest_image.
func WithProcessor(proc *analysis.Processor) ServerOption {
	return func(s *Server) {
		s.processor = proc
	}
}

// WithRecordStore sets the store /detect_latest_image reads from.
func WithRecordStore(store recordstore.Store) ServerOption {
	return func(s *Server) {
		s.records = store
	}
}

// WithMetrics sets the observability metrics for the server.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithDiskManager sets the manager whose directories /health reports on.
func WithDiskManager(m *diskmanager.Manager) ServerOption {
	return func(s *Server) {
		s.disk = m
	}
}

// New creates a new HTTP server with the given settings and options.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, errors.New(fmt.Errorf("invalid server configuration: %w", err)).
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	s := &Server{
		config:    config,
		settings:  settings,
		log:       GetLogger(),
		startTime: time.Now(),
		addr:      make(chan net.Addr, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.HTTPErrorHandler = s.handleError

	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.Bool("rate_limit", config.RateLimitEnabled),
		logger.Bool("record_store", s.records != nil),
		logger.Bool("debug", config.Debug))

	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())

	s.echo.Use(mw.NewRequestLogger(s.log.Module("http"), s.httpMetrics()))

	s.echo.Use(mw.NewCORS(mw.SecurityConfig{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowCredentials: true,
	}))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders())
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	var limited []echo.MiddlewareFunc
	if s.config.RateLimitEnabled {
		s.rateStore = mw.NewGlobalRateStore(s.config.RateLimit)
		limited = append(limited, mw.NewRateLimiter(s.rateStore, nil))
	}

	s.echo.GET("/", s.root, limited...)
	s.echo.POST("/upload", s.upload, limited...)
	s.echo.GET("/detect_latest_image", s.detectLatestImage)
	s.echo.GET("/health", s.healthCheck)

	if dir := s.settings.Storage.OutputDir; dir != "" {
		s.echo.Static(analysis.OutputRoute, dir)
	}

	if s.metrics != nil && s.config.MetricsPath != "" {
		s.echo.GET(s.config.MetricsPath, echo.WrapHandler(s.metrics.Handler()))
	}
}

func (s *Server) httpMetrics() *metrics.HTTPMetrics {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.HTTP
}

// ServeHTTP lets the server be mounted or driven by httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Addr returns the bound listener address once the server is listening.
func (s *Server) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case a := <-s.addr:
		s.addr <- a
		return a, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run serves until ctx is canceled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.startBlocking() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// startBlocking begins serving HTTP requests and blocks until the server is shut down.
func (s *Server) startBlocking() error {
	addr := s.config.Address()
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New(fmt.Errorf("failed to listen on %s: %w", addr, err)).
			Component("api").
			Category(errors.CategoryNetwork).
			Build()
	}
	s.echo.Listener = l
	s.addr <- l.Addr()

	s.log.Info("HTTP server listening", logger.String("address", l.Addr().String()))

	if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
