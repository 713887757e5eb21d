// Package backendrpc exposes the inbound control-plane RPCs the scheduler
// issues to a backend node: UpdateModelTable and CheckAlive (spec §6).
package backendrpc

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutu-network/tutu/internal/domain"
)

// Enqueuer is the narrow capability the server needs to hand a directive
// off to the reconciliation daemon without blocking the request.
type Enqueuer interface {
	Enqueue(directive domain.ModelTableConfig)
}

// StatusReporter backs the optional introspection endpoint.
type StatusReporter interface {
	Status() any
}

// Server is the backend node's HTTP control-plane surface.
type Server struct {
	queue          Enqueuer
	status         StatusReporter
	metricsEnabled bool
}

// NewServer creates a Server queueing UpdateModelTable directives onto the
// reconciliation daemon so the handler returns immediately (spec §6).
func NewServer(queue Enqueuer, status StatusReporter) *Server {
	return &Server{queue: queue, status: status}
}

// EnableMetrics mounts the Prometheus /metrics endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all control-plane routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/model_table", s.handleUpdateModelTable)
		r.Get("/healthz", s.handleCheckAlive)
		if s.status != nil {
			r.Get("/status", s.handleStatus)
		}
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleUpdateModelTable(w http.ResponseWriter, r *http.Request) {
	var directive domain.ModelTableConfig
	if err := json.NewDecoder(r.Body).Decode(&directive); err != nil {
		writeError(w, http.StatusBadRequest, "invalid model table directive: "+err.Error())
		return
	}

	s.queue.Enqueue(directive)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCheckAlive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
