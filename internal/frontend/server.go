// Package frontend implements the query intake surface frontends connect to:
// resolve the session's resident executor, relay or enqueue a Task, and
// block until its reply is dispatched or the deadline passes (spec §4.5
// Request path). The wire framing of the query/result bodies themselves is
// out of scope (spec §1); this package picks a concrete HTTP/JSON shape so
// the GetModel → Task → enqueue logic has somewhere to be exercised from.
package frontend

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/metrics"
	"github.com/tutu-network/tutu/internal/modelexec"
	"github.com/tutu-network/tutu/internal/wire"
)

// defaultQueryTimeout bounds how long a query with no explicit deadline
// waits before the handler gives up and replies TIMEOUT.
const defaultQueryTimeout = 30 * time.Second

// replyGraceBudget is added on top of a task's own deadline so a task that
// times out inside the queue/executor has a chance to report TIMEOUT itself
// before the HTTP handler's own wait gives up first.
const replyGraceBudget = 50 * time.Millisecond

// ModelLookup is the narrow capability the frontend server needs from the
// model table.
type ModelLookup interface {
	GetModel(sessionID string) (*modelexec.ModelExecutor, bool)
}

// BackupRelay is the narrow capability the frontend server needs from the
// backup connection pool: occupancy lookups for the relay decision, and the
// relay send itself.
type BackupRelay interface {
	modelexec.OccupancyLookup
	Relay(ctx context.Context, nodeID string, task *domain.Task) error
}

// Server is the HTTP surface frontends send queries to.
type Server struct {
	table            ModelLookup
	backups          BackupRelay
	occupancyValidMS int64
}

// NewServer creates a Server resolving sessions against table and relaying
// overflow through backups per ModelExecutor.ShouldRelay's trigger. backups
// may be nil, disabling relay (every query is served locally or not at all).
func NewServer(table ModelLookup, backups BackupRelay, occupancyValidMS int64) *Server {
	return &Server{table: table, backups: backups, occupancyValidMS: occupancyValidMS}
}

// Handler returns the chi router with the query route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Post("/v1/query", s.handleQuery)
	return r
}

type queryRequest struct {
	SessionID  string `json:"session_id"`
	Payload    []byte `json:"payload"`
	DeadlineMS int64  `json:"deadline_ms"`
}

type queryResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Payload   []byte `json:"payload,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid query: "+err.Error())
		return
	}

	exec, ok := s.table.GetModel(req.SessionID)
	if !ok {
		metrics.RepliesTotal.WithLabelValues(req.SessionID, wire.StatusModelSessionNotLoaded.String()).Inc()
		writeJSON(w, http.StatusNotFound, queryResponse{Status: wire.StatusModelSessionNotLoaded.String()})
		return
	}

	deadline := time.Now().Add(defaultQueryTimeout)
	if req.DeadlineMS > 0 {
		deadline = time.Now().Add(time.Duration(req.DeadlineMS) * time.Millisecond)
	}

	reply := newReplyChannel()
	task := &domain.Task{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		Conn:      reply,
		Input:     req.Payload,
		Deadline:  deadline,
		Status:    domain.TaskQueued,
	}

	s.dispatch(r.Context(), exec, task, deadline)

	select {
	case payload := <-reply.ch:
		writeJSON(w, http.StatusOK, queryResponse{RequestID: task.ID, Status: task.ReplyStatus().String(), Payload: payload})
	case <-r.Context().Done():
	case <-time.After(time.Until(deadline) + replyGraceBudget):
		writeJSON(w, http.StatusGatewayTimeout, queryResponse{RequestID: task.ID, Status: wire.StatusTimeout.String()})
	}
}

// dispatch enqueues task on exec's own queue, unless ModelExecutor.ShouldRelay
// fires and the relay send succeeds, in which case the backup peer owns
// completing it (spec §4.5).
func (s *Server) dispatch(ctx context.Context, exec *modelexec.ModelExecutor, task *domain.Task, deadline time.Time) {
	if s.backups != nil {
		if backend, relay := exec.ShouldRelay(0, task.SessionID, deadline, s.backups, time.Now(), s.occupancyValidMS); relay {
			if err := s.backups.Relay(ctx, backend.NodeID, task); err == nil {
				return
			}
		}
	}
	exec.Queue.Push(task)
}

// replyChannel is a one-shot wire.ReplyChannel backing a synchronous HTTP
// query: Task.Dispatch's Send delivers the result to the blocked handler
// goroutine.
type replyChannel struct {
	ch chan []byte
}

func newReplyChannel() *replyChannel {
	return &replyChannel{ch: make(chan []byte, 1)}
}

func (c *replyChannel) Send(payload []byte) error {
	select {
	case c.ch <- payload:
	default:
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
