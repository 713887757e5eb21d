package modelexec

import (
	"testing"
	"time"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/runner"
)

type fakeOccupancy struct {
	byNode map[string]struct {
		val float64
		at  time.Time
	}
}

func (f *fakeOccupancy) Occupancy(nodeID string) (float64, time.Time, bool) {
	v, ok := f.byNode[nodeID]
	return v.val, v.at, ok
}

func newExecutor() *ModelExecutor {
	backend := runner.NewMockBackend()
	session := domain.ModelSession{Framework: "caffe", Name: "a", Version: "1"}
	return New(runner.NewPlain(backend, session, 4), nil)
}

func TestModelExecutor_SetBatch(t *testing.T) {
	e := newExecutor()
	e.SetBatch(16)
	if e.Batch() != 16 {
		t.Fatalf("Batch() = %d, want 16", e.Batch())
	}
}

func TestModelExecutor_UpdateBackupBackends(t *testing.T) {
	e := newExecutor()
	e.UpdateBackupBackends([]domain.BackupBackend{{NodeID: "n1", Address: "10.0.0.1:9"}})
	if len(e.BackupBackends()) != 1 {
		t.Fatalf("BackupBackends() len = %d, want 1", len(e.BackupBackends()))
	}
}

func TestModelExecutor_BackupRoleSkipsRelay(t *testing.T) {
	e := newExecutor()
	e.SetBackupRole(true)
	e.UpdateBackupBackends([]domain.BackupBackend{{NodeID: "n1"}})
	for i := 0; i < 100; i++ {
		e.Queue.Push(&domain.Task{ID: "x", SessionID: "s"})
	}
	now := time.Now()
	lookup := &fakeOccupancy{byNode: map[string]struct {
		val float64
		at  time.Time
	}{"n1": {val: 0.1, at: now}}}

	_, relay := e.ShouldRelay(1, "s", time.Time{}, lookup, now, 10)
	if relay {
		t.Error("a backup-role executor should never initiate a relay")
	}
}

func TestModelExecutor_ShouldRelay_QueueLengthTrigger(t *testing.T) {
	e := newExecutor()
	e.SetBatch(2)
	e.UpdateBackupBackends([]domain.BackupBackend{{NodeID: "n1"}})
	for i := 0; i < 10; i++ {
		e.Queue.Push(&domain.Task{ID: "x", SessionID: "s"})
	}
	now := time.Now()
	lookup := &fakeOccupancy{byNode: map[string]struct {
		val float64
		at  time.Time
	}{"n1": {val: 0.2, at: now}}}

	backend, relay := e.ShouldRelay(1, "s", time.Time{}, lookup, now, 10)
	if !relay {
		t.Fatal("expected relay trigger when queue length exceeds batch*k")
	}
	if backend.NodeID != "n1" {
		t.Fatalf("backend.NodeID = %q, want n1", backend.NodeID)
	}
}

func TestModelExecutor_ShouldRelay_StaleOccupancyBlocks(t *testing.T) {
	e := newExecutor()
	e.SetBatch(2)
	e.UpdateBackupBackends([]domain.BackupBackend{{NodeID: "n1"}})
	for i := 0; i < 10; i++ {
		e.Queue.Push(&domain.Task{ID: "x", SessionID: "s"})
	}
	now := time.Now()
	stale := now.Add(-time.Hour)
	lookup := &fakeOccupancy{byNode: map[string]struct {
		val float64
		at  time.Time
	}{"n1": {val: 0.2, at: stale}}}

	_, relay := e.ShouldRelay(1, "s", time.Time{}, lookup, now, 10)
	if relay {
		t.Error("stale occupancy report should block relay")
	}
}

func TestModelExecutor_RecordLatencyFoldsIntoEstimate(t *testing.T) {
	e := newExecutor()
	e.RecordLatency(100*time.Millisecond, 10)
	est := e.EstimatedLatencyPerSample("s")
	if est <= 0 {
		t.Error("estimated latency should be non-zero after one sample")
	}
}
