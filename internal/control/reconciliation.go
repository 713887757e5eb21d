package control

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/metrics"
)

// ModelTable is the narrow capability the reconciliation daemon needs.
type ModelTable interface {
	UpdateModelTable(directive domain.ModelTableConfig) error
}

const reconcilePollInterval = 500 * time.Millisecond

type queuedDirective struct {
	id        string
	directive domain.ModelTableConfig
}

// ReconciliationDaemon applies queued directives one at a time, in arrival
// order; a directive fully completes before the next begins (spec §4.6,
// §5 ordering guarantees).
type ReconciliationDaemon struct {
	table ModelTable

	mu      sync.Mutex
	pending []queuedDirective
}

// NewReconciliationDaemon creates a daemon applying directives to table.
func NewReconciliationDaemon(table ModelTable) *ReconciliationDaemon {
	return &ReconciliationDaemon{table: table}
}

// Enqueue appends directive to the pending queue, tagged with a correlation
// id so its eventual apply (possibly seconds later, on another goroutine's
// poll tick) can be tied back to this call in the logs. Safe to call from
// any goroutine (e.g. the backendrpc HTTP handler).
func (d *ReconciliationDaemon) Enqueue(directive domain.ModelTableConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, queuedDirective{id: uuid.NewString(), directive: directive})
}

// Run polls the pending queue every 500ms and applies directives in
// arrival order until ctx is cancelled.
func (d *ReconciliationDaemon) Run(ctx context.Context) {
	ticker := time.NewTicker(reconcilePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain()
		}
	}
}

func (d *ReconciliationDaemon) drain() {
	for {
		queued, ok := d.pop()
		if !ok {
			return
		}

		start := time.Now()
		err := d.table.UpdateModelTable(queued.directive)
		metrics.ReconciliationDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.ReconciliationErrors.Inc()
			log.Printf("[control] directive %s failed to apply: %v", queued.id, err)
		}
	}
}

func (d *ReconciliationDaemon) pop() (queuedDirective, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return queuedDirective{}, false
	}
	queued := d.pending[0]
	d.pending = d.pending[1:]
	return queued, true
}
