// Package web exposes the HTTP API: the sync control plane, the event read
// surface for the display, and the source registry CRUD backing the admin
// UI.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kioskcal/internal/config"
	appLog "kioskcal/internal/log"
	"kioskcal/internal/secret"
	"kioskcal/internal/store"
	syncpkg "kioskcal/internal/sync"
)

// Server carries the HTTP handlers' dependencies.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	engine  *syncpkg.Engine
	secrets *secret.Encryptor
	router  chi.Router
}

// NewServer constructs the API server and its routes.
func NewServer(cfg *config.Config, st *store.Store, engine *syncpkg.Engine, secrets *secret.Encryptor) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		engine:  engine,
		secrets: secrets,
	}

	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)

	// The sync control plane and the event read surface are served both at
	// the root and under /api, so browser clients and bare automation hit
	// the same handlers.
	core := func(r chi.Router) {
		r.Post("/sync/trigger", s.handleSyncTrigger)
		r.Get("/sync/status", s.handleSyncStatus)
		r.Post("/sync/reset-retry/{sourceID}", s.handleResetRetry)

		r.Get("/events", s.handleEvents)
		r.Get("/events/count", s.handleEventsCount)
	}
	r.Group(core)

	r.Route("/api", func(r chi.Router) {
		core(r)

		r.Get("/sources", s.handleListSources)
		r.Post("/sources", s.handleCreateSource)
		r.Get("/sources/{sourceID}", s.handleGetSource)
		r.Put("/sources/{sourceID}", s.handleUpdateSource)
		r.Delete("/sources/{sourceID}", s.handleDeleteSource)
		r.Put("/sources/{sourceID}/calendars", s.handleReplaceCalendars)
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler, wrapped with basic auth when
// configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) basicAuthEnabled() bool {
	ba := s.cfg.BasicAuth
	return ba != nil && ba.Username != "" && ba.Password != ""
}

// basicAuthMiddleware guards all handlers except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="kioskcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("web: encoding response failed", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	appLog.Error("web: store operation failed", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
