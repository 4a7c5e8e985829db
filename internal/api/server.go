package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/specphone/specphone/internal/analysis"
	mw "github.com/specphone/specphone/internal/api/middleware"
	"github.com/specphone/specphone/internal/calibration"
	"github.com/specphone/specphone/internal/conf"
	"github.com/specphone/specphone/internal/device"
	"github.com/specphone/specphone/internal/logger"
	"github.com/specphone/specphone/internal/observability/metrics"
	"github.com/specphone/specphone/internal/quant"
)

// Server is the HTTP server exposing the quantification contract, the curve
// library and operational endpoints.
type Server struct {
	echo   *echo.Echo
	config *Config
	log    logger.Logger

	// Dependencies
	quantifier analysis.Quantifier
	library    *calibration.Library
	profiles   *device.Store
	metrics    *metrics.Metrics
	params     quant.Params
	version    string

	// Lifecycle management
	wg        sync.WaitGroup
	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLibrary enables the curve endpoints.
func WithLibrary(lib *calibration.Library) ServerOption {
	return func(s *Server) {
		s.library = lib
	}
}

// WithProfiles sets the device profile store reported by /health and /profile.
func WithProfiles(store *device.Store) ServerOption {
	return func(s *Server) {
		s.profiles = store
	}
}

// WithMetrics enables the /metrics endpoint.
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithParams sets the parameters used for curve acceptance notes.
func WithParams(p quant.Params) ServerOption {
	return func(s *Server) {
		s.params = p.WithDefaults()
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// New creates a server for config serving q.
func New(config *Config, q analysis.Quantifier, opts ...ServerOption) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}
	if q == nil {
		return nil, fmt.Errorf("a quantifier is required")
	}

	s := &Server{
		config:     config,
		log:        GetLogger(),
		quantifier: q,
		params:     quant.DefaultParams(),
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = config.Debug
	s.echo.HTTPErrorHandler = s.handleError

	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Address()),
		logger.Bool("curves", s.library != nil),
		logger.Bool("metrics", s.metrics != nil))

	return s, nil
}

// NewFromSettings creates a server configured from settings.
func NewFromSettings(settings *conf.Settings, q analysis.Quantifier, opts ...ServerOption) (*Server, error) {
	opts = append([]ServerOption{WithParams(settings.AnalysisParams())}, opts...)
	return New(ConfigFromSettings(settings), q, opts...)
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, func(c echo.Context) bool {
		return c.Path() == "/health" || c.Path() == "/metrics"
	}))
	s.echo.Use(mw.NewCORS(mw.SecurityConfig{AllowedOrigins: s.config.AllowedOrigins}))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(echomw.Gzip())
	s.echo.Use(mw.NewSecureHeaders())
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", s.serveMetrics)
	s.echo.GET("/profile", s.getProfile)

	s.echo.POST("/process-references", s.processReferences)
	s.echo.POST("/analyze", s.analyze)

	curves := s.echo.Group("/curves", s.requireLibrary)
	curves.GET("", s.listCurves)
	curves.POST("", s.createCurve)
	curves.GET("/:id", s.getCurve)
	curves.DELETE("/:id", s.deleteCurve)
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)

	profileLoaded := false
	if s.profiles != nil {
		_, err := s.profiles.Get()
		profileLoaded = err == nil
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        s.version,
		"profile_loaded": profileLoaded,
		"curves_enabled": s.library != nil,
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Start begins serving HTTP requests in a background goroutine and returns
// immediately. Use Shutdown to stop the server.
func (s *Server) Start() {
	s.wg.Go(func() {
		if err := s.startBlocking(); err != nil {
			s.log.Error("server error", logger.Error(err))
		}
	})
}

// startBlocking serves until the server is shut down.
func (s *Server) startBlocking() error {
	addr := s.config.Address()
	s.log.Info("starting HTTP server", logger.String("address", addr))

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.wg.Wait()

	s.log.Info("server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
// This is useful for testing or advanced configuration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
