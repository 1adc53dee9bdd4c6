// Package api provides the HTTP REST API for presence, projects, sessions
// and task executions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/opencommander/commander/internal/api/middleware"
	"github.com/opencommander/commander/internal/auth"
	"github.com/opencommander/commander/internal/core"
	"github.com/opencommander/commander/internal/diagnostics"
	"github.com/opencommander/commander/internal/events"
	"github.com/opencommander/commander/internal/logging"
	"github.com/opencommander/commander/internal/presence"
	"github.com/opencommander/commander/internal/tasks"
	"github.com/opencommander/commander/internal/web/sse"
)

const maxBodyBytes = 1 << 20

// DefaultRequestTimeout bounds every request except the event stream.
const DefaultRequestTimeout = 60 * time.Second

// Store is the persistence the handlers use directly.
type Store interface {
	auth.UserLookup
	Ping(ctx context.Context) error
	GetUser(ctx context.Context, id string) (*core.User, error)
	CreateProject(ctx context.Context, p *core.Project) error
	GetProject(ctx context.Context, id string) (*core.Project, error)
	ListProjectsForUser(ctx context.Context, userID string) ([]core.Project, error)
	IsProjectMember(ctx context.Context, projectID, userID string) (bool, error)
	AddProjectMember(ctx context.Context, projectID, userID string) error
	CreateSession(ctx context.Context, sess *core.Session) error
	GetSession(ctx context.Context, id string) (*core.Session, error)
	ListSessions(ctx context.Context, projectID string) ([]core.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// QueueStats reports job counts.
type QueueStats interface {
	Counts(ctx context.Context) (core.JobCounts, error)
}

// Deps are the services behind the API.
type Deps struct {
	Store    Store
	Presence *presence.Service
	Tasks    *tasks.Service
	Queue    QueueStats
	Bus      *events.EventBus
}

// Server provides the HTTP endpoints.
type Server struct {
	router         chi.Router
	deps           Deps
	sse            *sse.Handler
	collector      *diagnostics.Collector
	logger         *logging.Logger
	corsOrigins    []string
	requestTimeout time.Duration
	version        string
	started        time.Time
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithCORSOrigins sets the browser origins allowed to call the API.
func WithCORSOrigins(origins []string) ServerOption {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithRequestTimeout bounds non-streaming requests.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.requestTimeout = d }
}

// WithCollector adds host diagnostics to /health.
func WithCollector(c *diagnostics.Collector) ServerOption {
	return func(s *Server) { s.collector = c }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// NewServer creates a new API server.
func NewServer(deps Deps, opts ...ServerOption) *Server {
	s := &Server{
		deps:           deps,
		logger:         logging.NewNop(),
		requestTimeout: DefaultRequestTimeout,
		version:        "dev",
		started:        time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sse = sse.NewHandler(deps.Bus, s.authorizeEvents, s.writeStreamError, sse.WithLogger(s.logger))
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.With(chimw.Timeout(s.requestTimeout)).Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireUser(middleware.Bearer(auth.NewAuthenticator(s.deps.Store)), s.logger))

		// Streams outlive the request timeout.
		r.Get("/events", s.sse.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(s.requestTimeout))

			r.Get("/me", s.handleMe)

			r.Route("/presence", func(r chi.Router) {
				r.Get("/", s.handleListPresence)
				r.Post("/heartbeat", s.handleHeartbeat)
				r.Post("/leave", s.handleLeave)
			})

			r.Route("/projects", func(r chi.Router) {
				r.Get("/", s.handleListProjects)
				r.Post("/", s.handleCreateProject)
				r.Route("/{projectID}", func(r chi.Router) {
					r.Get("/", s.handleGetProject)
					r.Post("/members", s.handleAddMember)
					r.Get("/sessions", s.handleListSessions)
					r.Post("/sessions", s.handleCreateSession)
					r.Get("/tasks", s.handleListTasks)
					r.Post("/tasks", s.handleCreateTask)
				})
			})

			r.Route("/sessions/{sessionID}", func(r chi.Router) {
				r.Delete("/", s.handleDeleteSession)
				r.Get("/presence", s.handleSessionPresence)
			})

			r.Route("/tasks/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Post("/executions", s.handleRerunTask)
			})

			r.Get("/executions/{executionID}", s.handleGetExecution)
			r.Get("/queue/stats", s.handleQueueStats)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// currentUser returns the authenticated caller. Routes under /api/v1 always
// have one.
func currentUser(r *http.Request) *core.User {
	u, _ := auth.UserFromContext(r.Context())
	return u
}

// decodeJSON reads a JSON request body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return core.ErrValidation("INVALID_BODY", fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.Error("failed to encode response", "error", err)
		}
	}
}

// respondOK sends the {"ok":true} acknowledgement.
func (s *Server) respondOK(w http.ResponseWriter) {
	s.respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ListenAndServe serves until ctx is done, then shuts down gracefully
// within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	_ = s.sse.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}
