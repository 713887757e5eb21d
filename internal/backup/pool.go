package backup

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/metrics"
	"github.com/tutu-network/tutu/internal/wire"
)

// Transport sends a relay request to a peer backend. The wire format and
// actual connection are out of scope (spec §1); a real implementation dials
// the peer's backend RPC port and frames the request as a BackendRelay.
type Transport interface {
	SendRelay(ctx context.Context, address string, req wire.Request) error
}

// BackupClient is one peer backend connection used for relay, gated by its
// own circuit breaker so a peer that is erroring repeatedly stops receiving
// relay traffic without blocking the relaying goroutine. The breaker does
// not look at occupancy; stale reports are screened out by
// ModelExecutor.ShouldRelay before a relay is attempted.
type BackupClient struct {
	NodeID  string
	Address string

	breaker *CircuitBreaker

	mu          sync.RWMutex
	occupancy   float64
	occupancyAt time.Time
	pending     map[string]*domain.Task // request id -> task awaiting a RelayReply
}

func newBackupClient(backend domain.BackupBackend) *BackupClient {
	return &BackupClient{
		NodeID:  backend.NodeID,
		Address: backend.Address,
		breaker: NewCircuitBreaker(backend.NodeID, DefaultCircuitBreakerConfig()),
		pending: make(map[string]*domain.Task),
	}
}

// UpdateOccupancy records a freshly observed occupancy report from the peer.
func (c *BackupClient) UpdateOccupancy(value float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.occupancy = value
	c.occupancyAt = at
	metrics.BackupOccupancy.WithLabelValues(c.NodeID).Set(value)
}

// Occupancy returns the last-reported occupancy value and when it was
// observed, satisfying modelexec.OccupancyLookup.
func (c *BackupClient) Occupancy() (float64, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.occupancyAt.IsZero() {
		return 0, time.Time{}, false
	}
	return c.occupancy, c.occupancyAt, true
}

// Relay forwards task to this peer as a BackendRelay, registering it as
// pending so a later RelayReply can be matched back to it by request id.
func (c *BackupClient) Relay(ctx context.Context, transport Transport, task *domain.Task) error {
	if err := c.breaker.Allow(); err != nil {
		return err
	}

	c.mu.Lock()
	c.pending[task.ID] = task
	c.mu.Unlock()

	req := wire.Request{
		Type:      wire.BackendRelay,
		RequestID: task.ID,
		SessionID: task.SessionID,
		Payload:   task.Input,
	}
	if err := transport.SendRelay(ctx, c.Address, req); err != nil {
		c.mu.Lock()
		delete(c.pending, task.ID)
		c.mu.Unlock()
		c.breaker.RecordFailure()
		metrics.CircuitBreakerState.WithLabelValues(c.NodeID).Set(float64(c.breaker.State()))
		metrics.RelaysTotal.WithLabelValues("send_failed").Inc()
		return fmt.Errorf("relay to %s: %w", c.NodeID, domain.ErrRelayFailed)
	}
	metrics.RelaysTotal.WithLabelValues("sent").Inc()
	return nil
}

// HandleReply completes the pending task matching reply.RequestID, if any,
// and records a circuit-breaker success or failure accordingly.
func (c *BackupClient) HandleReply(reply wire.RelayReply) {
	c.mu.Lock()
	task, ok := c.pending[reply.RequestID]
	if ok {
		delete(c.pending, reply.RequestID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	if reply.Status == wire.StatusOK {
		task.Status = domain.TaskCompleted
		task.Result = reply.Payload
		c.breaker.RecordSuccess()
		metrics.RelaysTotal.WithLabelValues("replied").Inc()
	} else {
		task.Status = domain.TaskFailed
		task.Err = domain.ErrRelayFailed
		c.breaker.RecordFailure()
		metrics.RelaysTotal.WithLabelValues("failed").Inc()
	}
	metrics.CircuitBreakerState.WithLabelValues(c.NodeID).Set(float64(c.breaker.State()))
	if err := task.Dispatch(); err != nil {
		log.Printf("[backup] dispatch relay reply for %s: %v", reply.RequestID, err)
	}
}

// BackendPool is id → BackupClient; membership tracks the union of
// backup-backends across the model table's configs (spec §3).
type BackendPool struct {
	transport Transport

	mu      sync.RWMutex
	clients map[string]*BackupClient
}

// NewBackendPool creates an empty pool.
func NewBackendPool(transport Transport) *BackendPool {
	return &BackendPool{transport: transport, clients: make(map[string]*BackupClient)}
}

// Reconcile adds BackupClients for newly-seen node ids and removes ones no
// longer present, implementing modeltable.BackendPool.
func (p *BackendPool) Reconcile(backends []domain.BackupBackend) {
	p.mu.Lock()
	defer p.mu.Unlock()

	desired := make(map[string]domain.BackupBackend, len(backends))
	for _, b := range backends {
		desired[b.NodeID] = b
	}

	for id := range p.clients {
		if _, ok := desired[id]; !ok {
			delete(p.clients, id)
			log.Printf("[backup] dropped backend pool connection to %s", id)
		}
	}
	for id, b := range desired {
		if _, ok := p.clients[id]; !ok {
			p.clients[id] = newBackupClient(b)
			log.Printf("[backup] added backend pool connection to %s (%s)", id, b.Address)
		}
	}
}

// Get returns the client for nodeID, if the pool has one.
func (p *BackendPool) Get(nodeID string) (*BackupClient, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clients[nodeID]
	return c, ok
}

// ClientStatus is a point-in-time snapshot of one backup connection, for
// the introspection endpoint.
type ClientStatus struct {
	NodeID    string  `json:"node_id"`
	Address   string  `json:"address"`
	Occupancy float64 `json:"occupancy"`
	State     string  `json:"circuit_state"`
}

// Snapshot returns the current status of every backup connection in the
// pool, for the introspection endpoint.
func (p *BackendPool) Snapshot() []ClientStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]ClientStatus, 0, len(p.clients))
	for _, c := range p.clients {
		occupancy, _, _ := c.Occupancy()
		out = append(out, ClientStatus{
			NodeID:    c.NodeID,
			Address:   c.Address,
			Occupancy: occupancy,
			State:     c.breaker.State().String(),
		})
	}
	return out
}

// Occupancy satisfies modelexec.OccupancyLookup by delegating to the named
// peer's last-reported occupancy.
func (p *BackendPool) Occupancy(nodeID string) (float64, time.Time, bool) {
	c, ok := p.Get(nodeID)
	if !ok {
		return 0, time.Time{}, false
	}
	return c.Occupancy()
}

// Relay forwards task to the named backup via the pool's transport.
func (p *BackendPool) Relay(ctx context.Context, nodeID string, task *domain.Task) error {
	c, ok := p.Get(nodeID)
	if !ok {
		return domain.ErrNoBackupAvailable
	}
	return c.Relay(ctx, p.transport, task)
}

// RouteReply hands an inbound BackendRelayReply to the peer client that
// issued the matching relay.
func (p *BackendPool) RouteReply(nodeID string, reply wire.RelayReply) {
	c, ok := p.Get(nodeID)
	if !ok {
		log.Printf("[backup] relay reply from unknown backend %s, request %s dropped", nodeID, reply.RequestID)
		return
	}
	c.HandleReply(reply)
}
