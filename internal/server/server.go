package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/michaelbrown/assessor/internal/config"
	"github.com/michaelbrown/assessor/internal/grading"
	"github.com/michaelbrown/assessor/internal/limiter"
	"github.com/michaelbrown/assessor/internal/logging"
	"github.com/michaelbrown/assessor/internal/storage"
)

// Server is the HTTP API for grading submissions.
type Server struct {
	cfg         *config.Config
	coordinator *grading.Coordinator
	store       storage.Store // nil when storage is disabled
	runs        *RunTracker
	limiter     *limiter.RateLimiter
	logger      zerolog.Logger
	router      chi.Router
	http        *http.Server
	stop        context.CancelFunc
}

// New creates a Server. store may be nil.
func New(cfg *config.Config, coordinator *grading.Coordinator, store storage.Store, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		coordinator: coordinator,
		store:       store,
		runs:        NewRunTracker(),
		limiter: limiter.NewRateLimiter(cfg.Limits.GlobalRPS, cfg.Limits.ClientRPS,
			cfg.Limits.ClientBurst, cfg.Limits.MaxConcurrent),
		logger: logger.With().Str("component", "server").Logger(),
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	if s.cfg.Limits.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Grading, rate limited
	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.With(jsonContentType).Post("/execute", s.handleExecute)
		r.Get("/execute/ws", s.handleExecuteWS)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(jsonContentType)

		// Submissions
		r.Get("/submissions", s.handleListSubmissions)
		r.Get("/submissions/{id}", s.handleGetSubmission)
		r.Get("/submissions/{id}/export", s.handleExportSubmission)
		r.Delete("/submissions/{id}", s.handleDeleteSubmission)

		// In-flight runs
		r.Get("/runs", s.handleListRuns)
		r.Delete("/runs/{id}", s.handleCancelRun)
	})
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and blocks until the server
// stops. It returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	ctx, stop := context.WithCancel(context.Background())
	s.stop = stop
	s.limiter.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)

	s.http = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.Server.ReadTimeout,
	}

	s.logger.Info().
		Str("addr", s.http.Addr).
		Str("backend", s.cfg.Sandbox.Backend).
		Str("storage", s.cfg.Storage.Driver).
		Msg("assessor server starting")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown cancels in-flight gradings and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server")
	s.runs.CloseAll()
	if s.stop != nil {
		s.stop()
	}
	if s.http == nil {
		return nil
	}

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}
