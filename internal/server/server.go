package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/mailwise/mailwise/internal/ai"
	"github.com/mailwise/mailwise/internal/auth"
	"github.com/mailwise/mailwise/internal/gmail"
	"github.com/mailwise/mailwise/internal/instrumentation"
	"github.com/mailwise/mailwise/internal/logging"
	"github.com/mailwise/mailwise/internal/store"
)

const (
	// DefaultReadHeaderTimeout is the default read header timeout for the API server.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultWriteTimeout is the default write timeout for the API server.
	// Assistant calls can take a while, so this is generous.
	DefaultWriteTimeout = 60 * time.Second

	// DefaultIdleTimeout is the default idle timeout for the API server.
	DefaultIdleTimeout = 120 * time.Second
)

// Config holds the HTTP-level configuration for the API server.
type Config struct {
	// Addr is the address to bind to (e.g. ":8000").
	Addr string

	// FrontendURL is the base URL of the web frontend; the OAuth
	// callback redirects there with either a token or an error.
	FrontendURL string

	// CORSOrigins is the list of allowed origins for browser requests.
	CORSOrigins []string

	// RateLimitPerMinute is the per-user request budget for
	// authenticated routes.
	RateLimitPerMinute int
}

// Deps bundles the services the handlers depend on.
type Deps struct {
	Logger    *slog.Logger
	Broker    *auth.Broker
	Guard     *auth.Guard
	Refresher *auth.Refresher
	Store     store.Store
	Gmail     gmail.ClientFactory
	Assistant *ai.Assistant
	Metrics   *instrumentation.Metrics
	Audit     *instrumentation.AuditLogger
}

// Server is the mailwise API server.
type Server struct {
	cfg       Config
	logger    *slog.Logger
	broker    *auth.Broker
	guard     *auth.Guard
	refresher *auth.Refresher
	store     store.Store
	gmail     gmail.ClientFactory
	assistant *ai.Assistant
	metrics   *instrumentation.Metrics
	audit     *instrumentation.AuditLogger
	health    *HealthChecker
	limiter   *RateLimiter

	httpServer *http.Server
}

// New creates the API server. The health checker reports the backing
// store's connectivity on /readyz.
func New(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = &instrumentation.Metrics{}
	}

	audit := deps.Audit
	if audit == nil {
		audit = instrumentation.NewAuditLogger(logger)
	}

	return &Server{
		cfg:       cfg,
		logger:    logger.With(logging.Component("server")),
		broker:    deps.Broker,
		guard:     deps.Guard,
		refresher: deps.Refresher,
		store:     deps.Store,
		gmail:     deps.Gmail,
		assistant: deps.Assistant,
		metrics:   metrics,
		audit:     audit,
		health:    NewHealthChecker(deps.Store),
		limiter:   NewRateLimiter(RateLimiterConfigFor(cfg.RateLimitPerMinute)),
	}
}

// Health returns the health checker, for readiness control during startup
// and shutdown.
func (s *Server) Health() *HealthChecker {
	return s.health
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.health.RegisterRoutes(r)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Get("/login", s.handleLogin)
			r.Get("/callback", s.handleCallback)

			r.Group(func(r chi.Router) {
				r.Use(s.guard.RequireUser)
				r.Get("/me", s.handleMe)
				r.Post("/logout", s.handleLogout)
			})
		})

		// Authenticated, rate-limited routes.
		r.Group(func(r chi.Router) {
			r.Use(s.guard.RequireUser)
			r.Use(s.limiter.Middleware())

			r.Route("/emails", func(r chi.Router) {
				r.Get("/recent", s.handleRecentEmails)
				r.Get("/search", s.handleSearchEmails)
				r.Get("/categories", s.handleCategorizeEmails)
				r.Get("/digest", s.handleDigest)
				r.With(s.limiter.SendMiddleware()).Post("/send", s.handleSendEmail)
				r.Get("/{id}", s.handleGetEmail)
				r.Delete("/{id}", s.handleTrashEmail)
			})

			r.Route("/chat", func(r chi.Router) {
				r.Post("/message", s.handleChatMessage)
				r.Get("/history", s.handleChatHistory)
				r.Post("/generate-reply", s.handleGenerateReply)
				r.Get("/suggestions", s.handleSuggestions)
			})
		})
	})

	return r
}

// Start runs the API server in a blocking manner.
// Call this in a goroutine if you need non-blocking operation.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}

	s.logger.Info("starting API server", "addr", s.cfg.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the API server and stops the rate
// limiter's background cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetShuttingDown()
	s.limiter.Stop()

	if s.httpServer != nil {
		s.logger.Info("shutting down API server")
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
