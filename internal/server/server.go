package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradeguard/internal/surveillance"
)

// Engine is the part of the surveillance engine the control API drives.
type Engine interface {
	State() surveillance.State
	Submit(ev surveillance.TradeEvent) bool
	SubmitBatch(events []surveillance.TradeEvent) int
	TogglePattern(name string, enabled bool) bool
	UpdatePatternConfig(name string, cfg surveillance.PatternConfig) bool
	Pattern(name string) (surveillance.PatternStatus, bool)
	Patterns() []surveillance.PatternStatus
	Statistics() surveillance.ProcessingStats
	UpdateQuote(instrument string, q surveillance.Quote)
}

// AlertReader serves stored alerts.
type AlertReader interface {
	Recent(ctx context.Context, limit int) ([]surveillance.Alert, error)
	ByPattern(ctx context.Context, pattern string, limit int) ([]surveillance.Alert, error)
}

// Server represents the HTTP control server
type Server struct {
	logger      *zap.Logger
	engine      Engine
	alerts      AlertReader
	metricsPath string
	gatherer    prometheus.Gatherer
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics serves gatherer at path in the Prometheus text format.
func WithMetrics(path string, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.gatherer = gatherer
	}
}

// WithAlertReader enables the alert query endpoint.
func WithAlertReader(r AlertReader) Option {
	return func(s *Server) { s.alerts = r }
}

// NewServer creates a new HTTP server
func NewServer(logger *zap.Logger, engine Engine, opts ...Option) *Server {
	s := &Server{logger: logger.Named("http"), engine: engine}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router creates a new HTTP router
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))

	router.GET("/health", s.handleHealth)
	if s.gatherer != nil {
		router.GET(s.metricsPath, gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/stats", s.handleStats)
		v1.POST("/trades", s.handleSubmitTrades)
		v1.PUT("/quotes/:instrument", s.handleUpdateQuote)
		v1.GET("/alerts", s.handleGetAlerts)

		patterns := v1.Group("/patterns")
		{
			patterns.GET("", s.handleGetPatterns)
			patterns.GET("/:name", s.handleGetPattern)
			patterns.POST("/:name/toggle", s.handleTogglePattern)
			patterns.PUT("/:name/config", s.handleUpdatePatternConfig)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		s.writeProblem(c, notFound(c))
	})
	return router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Control API listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Control API shutdown failed", zap.Error(err))
		return err
	}
	s.logger.Info("Control API stopped")
	return nil
}
