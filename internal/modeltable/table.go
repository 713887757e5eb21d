// Package modeltable maintains the session-id → ModelExecutor mapping and
// reconciles it against scheduler directives (spec §4.4).
package modeltable

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/gpuexec"
	"github.com/tutu-network/tutu/internal/modelexec"
	"github.com/tutu-network/tutu/internal/runner"
)

// BackendPool is the narrow capability ModelTable needs from the backup
// connection pool: replace its membership with exactly the given set of
// peer backends, creating missing connections and tearing down absent ones.
// Kept as an interface here so modeltable does not depend on the backup
// package's circuit-breaker machinery.
type BackendPool interface {
	Reconcile(backends []domain.BackupBackend)
}

// ModelTable is the session-id → ModelExecutor mapping described in spec
// §3. Reconciliation is serialized by mu; GetModel is linearizable with
// respect to UpdateModelTable.
type ModelTable struct {
	mu      sync.Mutex
	entries map[string]*modelexec.ModelExecutor

	backend runner.Backend
	gpu     *gpuexec.GpuExecutor
	db      domain.ModelDatabase
	backups BackendPool
}

// New creates an empty ModelTable. backend is the shared NN-framework
// binding every ModelRunner variant is constructed against.
func New(backend runner.Backend, gpu *gpuexec.GpuExecutor, db domain.ModelDatabase, backups BackendPool) *ModelTable {
	return &ModelTable{
		entries: make(map[string]*modelexec.ModelExecutor),
		backend: backend,
		gpu:     gpu,
		db:      db,
		backups: backups,
	}
}

// GetModel looks up the executor serving sessionID, if any.
func (t *ModelTable) GetModel(sessionID string) (*modelexec.ModelExecutor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[sessionID]
	return e, ok
}

// SessionStats returns the request-rate/drop-rate snapshot for every
// resident session, for the heartbeat daemon's per-model KeepAlive report.
// Distinct sessions mapped to the same composite executor each get their
// own entry since rate/drop is what the scheduler tracks per session id.
func (t *ModelTable) SessionStats() []domain.ModelStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := make([]domain.ModelStats, 0, len(t.entries))
	for sid, e := range t.entries {
		stats = append(stats, domain.ModelStats{
			SessionID: sid,
			RPS:       e.Queue.RequestRate(),
			DropRate:  e.Queue.DropRate(),
		})
	}
	return stats
}

// UpdateModelTable applies a scheduler directive under a single lock, in
// the five phases of spec §4.4: backup pool refresh, desired-session
// collection, eviction, install/update, and duty-cycle update.
func (t *ModelTable) UpdateModelTable(directive domain.ModelTableConfig) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.refreshBackupPool(directive.Instances)

	desired := desiredSessions(directive.Instances)
	t.evict(desired)

	for _, cfg := range directive.Instances {
		if err := t.installOrUpdate(cfg); err != nil {
			return err
		}
	}

	t.gpu.SetDutyCycle(directive.DutyCycleUS)
	return nil
}

// refreshBackupPool computes the union of backup-backend node ids across
// the directive and reconciles the pool against it.
func (t *ModelTable) refreshBackupPool(instances []domain.ModelInstanceConfig) {
	if t.backups == nil {
		return
	}
	seen := make(map[string]domain.BackupBackend)
	for _, cfg := range instances {
		for _, b := range cfg.BackupBackends {
			seen[b.NodeID] = b
		}
	}
	union := make([]domain.BackupBackend, 0, len(seen))
	for _, b := range seen {
		union = append(union, b)
	}
	t.backups.Reconcile(union)
}

func desiredSessions(instances []domain.ModelInstanceConfig) map[string]bool {
	desired := make(map[string]bool)
	for _, cfg := range instances {
		for _, s := range cfg.Sessions {
			desired[s.String()] = true
		}
	}
	return desired
}

// evict detaches every currently-mapped session absent from desired.
func (t *ModelTable) evict(desired map[string]bool) {
	for sid := range t.entries {
		if !desired[sid] {
			t.detach(sid)
		}
	}
}

// detach removes sid from its executor's runner (if composite) and, once
// the executor has no sessions left, from the GPU executor, then erases the
// table entry. Safe to call even if sid maps to an executor also serving
// other still-desired sessions.
func (t *ModelTable) detach(sid string) {
	e, ok := t.entries[sid]
	if !ok {
		return
	}
	delete(t.entries, sid)

	switch e.Kind() {
	case runner.TFShare, runner.SharePrefix:
		binder, ok := e.Runner().(runner.SessionBinder)
		if ok {
			binder.RemoveModelSession(sid)
			if binder.NumModelSessions() == 0 {
				t.gpu.RemoveModel(e)
			}
		}
	default:
		t.gpu.RemoveModel(e)
	}
}

func (t *ModelTable) installOrUpdate(cfg domain.ModelInstanceConfig) error {
	switch {
	case cfg.IsTFShare():
		return t.installTFShare(cfg)
	case cfg.IsComposite():
		return t.installSharePrefix(cfg)
	default:
		return t.installPlain(cfg)
	}
}

func (t *ModelTable) installTFShare(cfg domain.ModelInstanceConfig) error {
	trunkName := cfg.Sessions[0].Name
	heads, ok := t.db.TrunkSuffixHeads(trunkName)
	if !ok {
		return fmt.Errorf("install tf_share %s: %w", trunkName, domain.ErrTrunkNotFound)
	}
	headSet := make(map[string]bool, len(heads))
	for _, h := range heads {
		headSet[h] = true
	}
	for _, s := range cfg.Sessions[1:] {
		if !headSet[s.Name] {
			return fmt.Errorf("install tf_share %s: session %s: %w", trunkName, s.Name, domain.ErrSessionNotDeclared)
		}
	}

	existing := t.findExisting(cfg, runner.TFShare)
	if existing == nil {
		// A session might still be mapped to a non-TFShare executor (e.g.
		// left over from a prior directive); evict it before building the
		// fresh composite.
		for _, s := range cfg.Sessions {
			if e, ok := t.entries[s.String()]; ok && e.Kind() != runner.TFShare {
				t.detach(s.String())
			}
		}
		r := runner.NewTFShare(t.backend, trunkName, cfg.Batch)
		for _, s := range cfg.Sessions {
			r.AddModelSession(s.String())
		}
		exec := modelexec.New(r, t.db)
		exec.UpdateBackupBackends(cfg.BackupBackends)
		exec.SetBackupRole(cfg.Backup)
		t.gpu.AddModel(exec)
		for _, s := range cfg.Sessions {
			t.entries[s.String()] = exec
		}
		return nil
	}

	binder := existing.Runner().(runner.SessionBinder)
	for _, s := range cfg.Sessions {
		sid := s.String()
		if !binder.HasModelSession(sid) {
			binder.AddModelSession(sid)
		}
		t.entries[sid] = existing
	}
	t.refreshExisting(existing, cfg)
	return nil
}

func (t *ModelTable) installSharePrefix(cfg domain.ModelInstanceConfig) error {
	existing := t.findExisting(cfg, runner.SharePrefix)
	if existing == nil {
		// A session might still be mapped to a non-SharePrefix executor
		// (e.g. left over from a prior directive); evict it before
		// building the fresh composite.
		for _, s := range cfg.Sessions {
			if e, ok := t.entries[s.String()]; ok && e.Kind() != runner.SharePrefix {
				t.detach(s.String())
			}
		}
		r := runner.NewSharePrefix(t.backend, prefixGraphName(cfg.Sessions), cfg.Batch, nil)
		for _, s := range cfg.Sessions {
			r.AddModelSession(s.String())
		}
		exec := modelexec.New(r, t.db)
		exec.UpdateBackupBackends(cfg.BackupBackends)
		exec.SetBackupRole(cfg.Backup)
		t.gpu.AddModel(exec)
		for _, s := range cfg.Sessions {
			t.entries[s.String()] = exec
		}
		return nil
	}

	binder := existing.Runner().(runner.SessionBinder)
	for _, s := range cfg.Sessions {
		sid := s.String()
		if !binder.HasModelSession(sid) {
			binder.AddModelSession(sid)
		}
		t.entries[sid] = existing
	}
	t.refreshExisting(existing, cfg)
	return nil
}

func (t *ModelTable) installPlain(cfg domain.ModelInstanceConfig) error {
	sid := cfg.Sessions[0].String()
	existing, ok := t.entries[sid]
	if !ok {
		r := runner.NewPlain(t.backend, cfg.Sessions[0], cfg.Batch)
		exec := modelexec.New(r, t.db)
		exec.UpdateBackupBackends(cfg.BackupBackends)
		exec.SetBackupRole(cfg.Backup)
		t.gpu.AddModel(exec)
		t.entries[sid] = exec
		return nil
	}
	t.refreshExisting(existing, cfg)
	return nil
}

// refreshExisting updates an already-mapped executor's batch size (only if
// changed) and replaces its backup set and backup-role flag.
func (t *ModelTable) refreshExisting(e *modelexec.ModelExecutor, cfg domain.ModelInstanceConfig) {
	if e.Batch() != cfg.Batch {
		e.SetBatch(cfg.Batch)
	}
	e.UpdateBackupBackends(cfg.BackupBackends)
	e.SetBackupRole(cfg.Backup)
}

// findExisting looks for any of cfg's sessions already mapped to an
// executor of the given kind.
func (t *ModelTable) findExisting(cfg domain.ModelInstanceConfig, kind runner.Kind) *modelexec.ModelExecutor {
	for _, s := range cfg.Sessions {
		if e, ok := t.entries[s.String()]; ok && e.Kind() == kind {
			return e
		}
	}
	return nil
}

// prefixGraphName derives a stable graph id for a SharePrefix composite
// from its sorted session ids, so the same session set always maps to the
// same shared-prefix graph across reconciliations.
func prefixGraphName(sessions []domain.ModelSession) string {
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.String()
	}
	sort.Strings(ids)
	name := "prefix"
	for _, id := range ids {
		name += "+" + id
	}
	return name
}
