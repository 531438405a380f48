package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/codespace-tools/warden/internal/auth"
	"github.com/codespace-tools/warden/internal/engine"
	"github.com/codespace-tools/warden/internal/events"
	"github.com/codespace-tools/warden/internal/outcome"
	"github.com/codespace-tools/warden/internal/policy"
)

// EngineService is the slice of the enforcement engine the API drives.
type EngineService interface {
	PeriodicCheck(ctx context.Context) error
	ActivityEvent(ctx context.Context, id string) error
	ManualStop(ctx context.Context, id string) error
	Stats() engine.CycleStats
}

// OutcomeReader reads the durable outcome trail for the status endpoint.
type OutcomeReader interface {
	Recent(ctx context.Context, limit int) ([]outcome.Outcome, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	// APIKey is a single bearer token with admin/full access.
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
}

// Server is the HTTP collaborator surface: activity ingress, manual stops,
// status and the outcome event stream.
type Server struct {
	config    Config
	engine    EngineService
	outcomes  OutcomeReader
	rules     func() policy.Rules
	hub       *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. rules yields the current policy
// snapshot for /v1/status.
func New(config Config, eng EngineService, outcomes OutcomeReader, rules func() policy.Rules, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		engine:    eng,
		outcomes:  outcomes,
		rules:     rules,
		hub:       hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// server fails.
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // SSE connections are long-lived
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Protected API.
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes("status:ro", "*")).Get("/v1/status", s.handleStatus)
		r.With(s.requireScopes("events:ro", "*")).Get("/v1/events", s.handleEvents)
		r.With(s.requireScopes("control:rw", "*")).Post("/v1/workspaces/{workspaceID}/activity", s.handleActivity)
		r.With(s.requireScopes("control:rw", "*")).Post("/v1/workspaces/{workspaceID}/stop", s.handleStop)
		r.With(s.requireScopes("control:rw", "*")).Post("/v1/sweep", s.handleSweep)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		principal, ok := auth.Authenticate(token, s.config.APIKey, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			if !auth.HasAnyScope(principal, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
