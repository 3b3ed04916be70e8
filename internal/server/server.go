// Package server provides the HTTP server and routing for fundfolio.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aristath/fundfolio/internal/database"
	optimizationhandlers "github.com/aristath/fundfolio/internal/modules/optimization/handlers"
	universehandlers "github.com/aristath/fundfolio/internal/modules/universe/handlers"
)

// WebhookPath is where Telegram delivers updates in webhook mode.
const WebhookPath = "/telegram/webhook"

// Config holds server configuration
type Config struct {
	Log        zerolog.Logger
	Port       int
	DataDir    string
	Databases  map[string]*database.DB
	Gatherer   prometheus.Gatherer
	Optimizer  optimizationhandlers.Runner
	RunTimeout time.Duration
	Reference  universehandlers.ReferenceSource
	Cache      PriceCache
	Charts     universehandlers.ChartProvider
	Users      UserCounter
	Refresh    RefreshTrigger
	Bot        DialogueCounter  // nil when the bot is disabled
	Webhook    http.HandlerFunc // nil unless the bot runs in webhook mode
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	port           int
	databases      map[string]*database.DB
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		port:      cfg.Port,
		databases: cfg.Databases,
		systemHandlers: NewSystemHandlers(
			cfg.Log,
			cfg.DataDir,
			cfg.Databases,
			cfg.Cache,
			cfg.Users,
			cfg.Refresh,
			cfg.Bot,
		),
	}

	s.setupMiddleware()
	s.setupRoutes(cfg)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RunTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes(cfg Config) {
	s.router.Get("/health", s.handleHealth)

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if cfg.Webhook != nil {
		s.router.Post(WebhookPath, cfg.Webhook)
	}

	s.router.Route("/api", func(r chi.Router) {
		optimizationhandlers.NewHandler(cfg.Optimizer, cfg.RunTimeout, cfg.Log).RegisterRoutes(r)
		universehandlers.NewUniverseHandlers(cfg.Reference, cfg.Cache, cfg.Charts, cfg.Log).RegisterRoutes(r)

		r.Route("/prices", func(r chi.Router) {
			r.Post("/refresh", s.systemHandlers.HandleTriggerRefresh)
			r.Get("/refresh", s.systemHandlers.HandleRefreshStatus)
		})

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/databases", s.systemHandlers.HandleDatabaseStats)
		})
	})
}

// Handler returns the root handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
