// Package web exposes the HTTP API: job submission and polling, the
// rendered report, the live event stream, and health.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dealsense/dealsense/internal/buildinfo"
	"github.com/dealsense/dealsense/internal/events"
	"github.com/dealsense/dealsense/internal/job"
	"github.com/dealsense/dealsense/internal/queue"
)

// Enqueuer hands accepted jobs to the worker. Satisfied by *queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

var _ Enqueuer = (*queue.Queue)(nil)

// Server holds the handlers' dependencies.
type Server struct {
	store  *job.Store
	queue  Enqueuer
	bus    *events.Bus
	logger *slog.Logger
}

// NewServer creates the HTTP server facade.
func NewServer(store *job.Store, q Enqueuer, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:  store,
		queue:  q,
		bus:    bus,
		logger: logger.With("component", "web"),
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Post("/jobs/{jobID}/cancel", s.handleCancelJob)
		r.Get("/jobs/{jobID}/report", s.handleReport)
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": buildinfo.Version,
		"uptime":  buildinfo.Uptime().String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
