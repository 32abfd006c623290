package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"

	"github.com/aukanara2010-dot/facepass-sub001/internal/config"
	"github.com/aukanara2010-dot/facepass-sub001/internal/web/handlers"
	"github.com/aukanara2010-dot/facepass-sub001/internal/web/middleware"
)

// Handlers groups the endpoint handlers mounted by the server. Index and
// Metrics may be nil, which leaves their routes unregistered.
type Handlers struct {
	Index    *handlers.IndexHandler
	Search   *handlers.SearchHandler
	Sessions *handlers.SessionsHandler
	Health   *handlers.HealthHandler
	Metrics  http.Handler
}

// Server represents the web server
type Server struct {
	config        *config.Config
	router        *chi.Mux
	httpServer    *http.Server
	indexLimiter  *middleware.RateLimiter
	searchLimiter *middleware.RateLimiter
}

// NewServer creates a new web server. meterProvider may be nil.
func NewServer(cfg *config.Config, h Handlers, meterProvider metric.MeterProvider) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:        cfg,
		router:        r,
		indexLimiter:  middleware.NewRateLimiter(cfg.Web.IndexRatePerMinute),
		searchLimiter: middleware.NewRateLimiter(cfg.Web.SearchRatePerMinute),
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(5 * time.Minute))
	r.Use(middleware.CORS(cfg.Web.CORSOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes(h)

	otelOpts := []otelhttp.Option{
		// Skip HTTP metrics for probes and scrapes.
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != healthPath && r.URL.Path != metricsPath
		}),
	}
	if meterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(meterProvider))
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Web.Addr(),
		Handler:      otelhttp.NewHandler(r, "facepass-api", otelOpts...),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long timeout for uploads and large sessions
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting web server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down web server")

	s.indexLimiter.Stop()
	s.searchLimiter.Stop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the instrumented root handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
