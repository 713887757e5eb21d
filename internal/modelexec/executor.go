// Package modelexec wraps a ModelRunner with its queue, batch size, backup
// set, and meters — the unit the ModelTable and GpuExecutor operate on.
package modelexec

import (
	"sync"
	"time"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/queue"
	"github.com/tutu-network/tutu/internal/runner"
)

// defaultRelayK is the tunable queue-length × batch-size multiplier from the
// backup relay trigger.
const defaultRelayK = 2.0

// OccupancyLookup reports a backup backend's last-known occupancy, as
// maintained by the BackendPool. Kept as a narrow interface here so
// modelexec does not depend on the backup package.
type OccupancyLookup interface {
	Occupancy(nodeID string) (value float64, observedAt time.Time, ok bool)
}

// ModelExecutor owns exactly one ModelRunner, a task queue, a mutable batch
// size, a set of backup-backend ids, and request-rate/drop-rate meters. It
// is exclusively owned by the ModelTable; the GpuExecutor holds a
// non-owning reference to it while resident.
type ModelExecutor struct {
	Queue *queue.BatchQueue

	mu         sync.RWMutex
	runner     runner.ModelRunner
	backups    []domain.BackupBackend
	backupRole bool
	nextBackup int

	db             domain.ModelDatabase
	latencyMu      sync.RWMutex
	latencyEWMA    time.Duration
	latencySamples int
}

// minSamplesForMeasured is how many observed batches must land before the
// measured EWMA is preferred over the model-database's static profile.
const minSamplesForMeasured = 5

// New creates a ModelExecutor wrapping r.
func New(r runner.ModelRunner, db domain.ModelDatabase) *ModelExecutor {
	return &ModelExecutor{Queue: queue.NewBatchQueue(), runner: r, db: db}
}

// Runner returns the wrapped ModelRunner.
func (e *ModelExecutor) Runner() runner.ModelRunner { return e.runner }

// Kind returns the wrapped runner's variant.
func (e *ModelExecutor) Kind() runner.Kind { return e.runner.Kind() }

// SetBatch is idempotent; it takes effect on the runner's next batch
// dequeue (the runner itself reads the field under its own lock).
func (e *ModelExecutor) SetBatch(b int) { e.runner.SetBatch(b) }

// Batch returns the current configured batch size.
func (e *ModelExecutor) Batch() int { return e.runner.Batch() }

// UpdateBackupBackends atomically replaces the backup set. In-flight relays
// already dispatched to a backend that is no longer in the set are
// unaffected — only future relay decisions consult the new set.
func (e *ModelExecutor) UpdateBackupBackends(backends []domain.BackupBackend) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backups = append([]domain.BackupBackend(nil), backends...)
	if e.nextBackup >= len(e.backups) {
		e.nextBackup = 0
	}
}

// BackupBackends returns a copy of the current backup set.
func (e *ModelExecutor) BackupBackends() []domain.BackupBackend {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.BackupBackend(nil), e.backups...)
}

// SetBackupRole marks whether this executor is itself acting as a backup for
// its session(s) — per the config's own backup flag. A backup-role executor
// prefers not to initiate further relays for the sessions it is backing up.
func (e *ModelExecutor) SetBackupRole(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backupRole = v
}

// IsBackupRole reports the backup-role flag set by SetBackupRole.
func (e *ModelExecutor) IsBackupRole() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backupRole
}

// RecordLatency folds an observed per-batch Forward duration into the
// measured-latency EWMA, in per-sample terms.
func (e *ModelExecutor) RecordLatency(batchDuration time.Duration, batchSize int) {
	if batchSize <= 0 {
		return
	}
	perSample := batchDuration / time.Duration(batchSize)

	e.latencyMu.Lock()
	defer e.latencyMu.Unlock()
	if e.latencySamples == 0 {
		e.latencyEWMA = perSample
	} else {
		e.latencyEWMA = (e.latencyEWMA + perSample) / 2
	}
	e.latencySamples++
}

// EstimatedLatencyPerSample returns the measured EWMA once enough samples
// have landed, otherwise the model-database's static profile, otherwise
// whatever measured EWMA has accumulated so far (zero if no batch has been
// recorded yet).
func (e *ModelExecutor) EstimatedLatencyPerSample(sessionID string) time.Duration {
	e.latencyMu.RLock()
	samples, measured := e.latencySamples, e.latencyEWMA
	e.latencyMu.RUnlock()

	if samples >= minSamplesForMeasured {
		return measured
	}
	if e.db != nil {
		if profile, ok := e.db.LatencyProfile(sessionID); ok {
			return profile
		}
	}
	return measured
}

// ShouldRelay implements the backup relay trigger (spec §4.5): the queue
// length exceeds batch-size × k, or the predicted finish time for the next
// task exceeds its deadline, and a fresh, non-overloaded backup is
// available. It returns the chosen backup (round-robin over the backup
// set) and whether a relay should happen.
func (e *ModelExecutor) ShouldRelay(k float64, sessionID string, nextDeadline time.Time, lookup OccupancyLookup, now time.Time, occupancyValidMS int64) (domain.BackupBackend, bool) {
	if e.IsBackupRole() {
		return domain.BackupBackend{}, false
	}

	batch := e.Batch()
	if batch <= 0 {
		batch = 1
	}
	if k <= 0 {
		k = defaultRelayK
	}

	overloaded := float64(e.Queue.Len()) > float64(batch)*k
	if !overloaded && !nextDeadline.IsZero() {
		perSample := e.EstimatedLatencyPerSample(sessionID)
		predictedFinish := now.Add(perSample * time.Duration(e.Queue.Len()+1))
		overloaded = predictedFinish.After(nextDeadline)
	}
	if !overloaded {
		return domain.BackupBackend{}, false
	}

	return e.pickBackup(lookup, now, occupancyValidMS)
}

func (e *ModelExecutor) pickBackup(lookup OccupancyLookup, now time.Time, occupancyValidMS int64) (domain.BackupBackend, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.backups)
	if n == 0 || lookup == nil {
		return domain.BackupBackend{}, false
	}

	maxAge := time.Duration(occupancyValidMS) * time.Millisecond
	for i := 0; i < n; i++ {
		idx := (e.nextBackup + i) % n
		candidate := e.backups[idx]
		occ, observedAt, ok := lookup.Occupancy(candidate.NodeID)
		if !ok || occ > 1.0 || now.Sub(observedAt) > maxAge {
			continue
		}
		e.nextBackup = (idx + 1) % n
		return candidate, true
	}
	return domain.BackupBackend{}, false
}
