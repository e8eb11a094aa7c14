package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

// Server exposes the sync service wire contract over HTTP: project
// documents with optimistic-concurrency PUTs, a health probe, and the
// presence websocket.
type Server struct {
	store  *Store
	hub    *Hub
	logger *slog.Logger
	token  string
}

// Config carries the dependencies for New.
type Config struct {
	Store  *Store
	Logger *slog.Logger

	// Token, when non-empty, requires every request to carry it as a
	// bearer token. Empty disables authentication (local development).
	Token string
}

// New wires a dev server over the given store.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		store:  cfg.Store,
		hub:    NewHub(logger),
		logger: logger,
		token:  cfg.Token,
	}
}

// Hub returns the presence hub, for callers that broadcast their own
// events or inspect client counts in tests.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler builds the HTTP routing tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.echoRequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)

		r.Get("/ws", s.hub.HandleWS)

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Get("/{projectID}", s.handleGet)
			r.Put("/{projectID}", s.handlePut)
			r.Delete("/{projectID}", s.handleDelete)
			r.Get("/{projectID}/revisions", s.handleRevisions)
		})
	})

	return r
}

// Serve runs the HTTP server and the hub until ctx is canceled, then
// shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.hub.Run(ctx)
	})

	g.Go(func() error {
		s.logger.Info("dev server listening", "addr", addr)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("dev server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// --- Wire shapes ---

// projectDoc is the GET/PUT document body. The payload is carried as
// raw JSON: the server never needs to understand plot internals, only
// to version and store them.
type projectDoc struct {
	Project json.RawMessage `json:"project"`
	Version int64           `json:"version"`
}

// projectMeta is the minimal slice of a snapshot the server reads.
type projectMeta struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type projectInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

type revisionInfo struct {
	Version   int64     `json:"version"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// --- Handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")

	row, err := s.store.Get(r.Context(), id)
	if errors.Is(err, ErrProjectNotFound) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("project %s not found", id))

		return
	}

	if err != nil {
		s.logger.Error("loading project", "project_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")

		return
	}

	s.writeJSON(w, http.StatusOK, projectDoc{
		Project: row.Payload,
		Version: row.Version,
	})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")

	var doc projectDoc
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed document: "+err.Error())

		return
	}

	if len(doc.Project) == 0 {
		s.writeError(w, http.StatusBadRequest, "document has no project")

		return
	}

	var meta projectMeta
	if err := json.Unmarshal(doc.Project, &meta); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed project: "+err.Error())

		return
	}

	if meta.ID != id {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("project id %q does not match path %q", meta.ID, id))

		return
	}

	newVersion, err := s.store.Put(r.Context(), id, meta.Name, doc.Project, doc.Version)

	var conflict *ConflictError
	if errors.As(err, &conflict) {
		s.logger.Info("stale write rejected",
			"project_id", id, "base", conflict.Base, "current", conflict.Current)

		s.writeJSON(w, http.StatusConflict, map[string]any{
			"error":          "version conflict",
			"server_version": conflict.Current,
		})

		return
	}

	if err != nil {
		s.logger.Error("storing project", "project_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")

		return
	}

	s.hub.Broadcast(Event{Type: EventProjectUpdated, ProjectID: id, Version: newVersion})

	s.writeJSON(w, http.StatusOK, map[string]int64{"version": newVersion})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")

	err := s.store.Delete(r.Context(), id)
	if errors.Is(err, ErrProjectNotFound) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("project %s not found", id))

		return
	}

	if err != nil {
		s.logger.Error("deleting project", "project_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")

		return
	}

	s.hub.Broadcast(Event{Type: EventProjectDeleted, ProjectID: id})

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.List(r.Context())
	if err != nil {
		s.logger.Error("listing projects", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")

		return
	}

	infos := make([]projectInfo, len(rows))
	for i, row := range rows {
		infos[i] = projectInfo{
			ID:        row.ID,
			Name:      row.Name,
			Version:   row.Version,
			UpdatedAt: row.UpdatedAt,
		}
	}

	s.writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleRevisions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "projectID")

	rows, err := s.store.Revisions(r.Context(), id, 0)
	if err != nil {
		s.logger.Error("listing revisions", "project_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")

		return
	}

	infos := make([]revisionInfo, len(rows))
	for i, row := range rows {
		infos[i] = revisionInfo{
			Version:   row.Version,
			Size:      len(row.Payload),
			CreatedAt: row.CreatedAt,
		}
	}

	s.writeJSON(w, http.StatusOK, infos)
}

// --- Middleware ---

// echoRequestID reflects the generated request id back to the client.
func (s *Server) echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-Id", reqID)
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

// requireToken rejects requests without the configured bearer token.
// A server with no token configured accepts everything.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)

			return
		}

		const prefix = "Bearer "

		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, prefix) || auth[len(prefix):] != s.token {
			s.writeError(w, http.StatusUnauthorized, "missing or invalid token")

			return
		}

		next.ServeHTTP(w, r)
	})
}

// --- Response helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
