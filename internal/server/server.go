// Package server provides the HTTP API for the cash management engine.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/dfpersonal/cash-management/internal/config"
	"github.com/dfpersonal/cash-management/internal/database"
	"github.com/dfpersonal/cash-management/internal/events"
	"github.com/dfpersonal/cash-management/internal/modules/planning"
	"github.com/dfpersonal/cash-management/internal/modules/snapshots"
)

// Config holds server wiring.
type Config struct {
	Log         zerolog.Logger
	Config      *config.Config
	PortfolioDB *database.DB
	ConfigDB    *database.DB
	CacheDB     *database.DB
	Planner     *planning.Service
	Recs        *planning.RecommendationRepository
	Snaps       *snapshots.Store
	Bus         *events.Bus
}

// Server is the HTTP server.
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	portfolioDB    *database.DB
	configDB       *database.DB
	cacheDB        *database.DB
	planner        *planning.Service
	recs           *planning.RecommendationRepository
	snaps          *snapshots.Store
	bus            *events.Bus
	systemHandlers *SystemHandlers

	runMu   sync.Mutex // serializes optimization runs
	lastRun *runCache
}

// New creates the HTTP server with routes and middleware configured.
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		cfg:            cfg.Config,
		portfolioDB:    cfg.PortfolioDB,
		configDB:       cfg.ConfigDB,
		cacheDB:        cfg.CacheDB,
		planner:        cfg.Planner,
		recs:           cfg.Recs,
		snaps:          cfg.Snaps,
		bus:            cfg.Bus,
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.Config.DataDir, cfg.PortfolioDB, cfg.ConfigDB, cfg.CacheDB),
		lastRun:        &runCache{},
	}

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // optimization runs and SSE need headroom
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/events/stream", NewEventsStreamHandler(s.bus, s.log).ServeHTTP)

		r.Post("/optimize", s.handleOptimize)
		r.Get("/optimize/latest", s.handleLatestRun)
		r.Get("/compliance/report", s.handleComplianceReport)
		r.Get("/recommendations", s.handleRecommendations)
		r.Get("/alerts/missing-frn", s.handleMissingFRNAlerts)
		r.Get("/snapshots/latest", s.handleLatestSnapshot)

		r.Get("/system/status", s.systemHandlers.HandleSystemStatus)
		r.Get("/system/databases", s.systemHandlers.HandleDatabaseStats)
		r.Get("/system/disk", s.systemHandlers.HandleDiskUsage)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the chi mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests.
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
