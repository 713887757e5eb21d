package modeltable

import (
	"context"
	"testing"
	"time"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/gpuexec"
	"github.com/tutu-network/tutu/internal/modelexec"
	"github.com/tutu-network/tutu/internal/runner"
)

type fakeDB struct {
	suffixHeads map[string][]string
}

func (f *fakeDB) TrunkSuffixHeads(trunkName string) ([]string, bool) {
	h, ok := f.suffixHeads[trunkName]
	return h, ok
}
func (f *fakeDB) LatencyProfile(sessionID string) (time.Duration, bool)     { return 0, false }
func (f *fakeDB) RecordLatency(sessionID string, perSample time.Duration) error { return nil }

type fakePool struct {
	reconciled []domain.BackupBackend
}

func (f *fakePool) Reconcile(backends []domain.BackupBackend) { f.reconciled = backends }

func plainSession(name string) domain.ModelSession {
	return domain.ModelSession{Framework: "caffe", Name: name, Version: "1", ImageHeight: 224, ImageWidth: 224}
}

func newTable() (*ModelTable, *gpuexec.GpuExecutor) {
	backend := runner.NewMockBackend()
	gpu := gpuexec.New(gpuexec.MultiBatching, 2)
	db := &fakeDB{suffixHeads: map[string][]string{"trunk": {"head-a", "head-b"}}}
	table := New(backend, gpu, db, &fakePool{})
	return table, gpu
}

func TestModelTable_InstallPlain(t *testing.T) {
	table, _ := newTable()
	cfg := domain.ModelInstanceConfig{Sessions: []domain.ModelSession{plainSession("a")}, Batch: 4}
	if err := table.UpdateModelTable(domain.ModelTableConfig{Instances: []domain.ModelInstanceConfig{cfg}}); err != nil {
		t.Fatalf("UpdateModelTable: %v", err)
	}
	e, ok := table.GetModel(cfg.Sessions[0].String())
	if !ok {
		t.Fatal("expected session to be mapped after install")
	}
	if e.Kind() != runner.Plain {
		t.Fatalf("Kind() = %v, want Plain", e.Kind())
	}
}

func TestModelTable_EvictRemovesAbsentSessions(t *testing.T) {
	table, _ := newTable()
	cfg := domain.ModelInstanceConfig{Sessions: []domain.ModelSession{plainSession("a")}, Batch: 4}
	_ = table.UpdateModelTable(domain.ModelTableConfig{Instances: []domain.ModelInstanceConfig{cfg}})

	if err := table.UpdateModelTable(domain.ModelTableConfig{Instances: nil}); err != nil {
		t.Fatalf("UpdateModelTable: %v", err)
	}
	if _, ok := table.GetModel(cfg.Sessions[0].String()); ok {
		t.Fatal("session should be evicted once absent from the directive")
	}
}

func TestModelTable_PlainBatchUpdateOnlyWhenChanged(t *testing.T) {
	table, _ := newTable()
	cfg := domain.ModelInstanceConfig{Sessions: []domain.ModelSession{plainSession("a")}, Batch: 4}
	_ = table.UpdateModelTable(domain.ModelTableConfig{Instances: []domain.ModelInstanceConfig{cfg}})
	e, _ := table.GetModel(cfg.Sessions[0].String())

	cfg.Batch = 8
	_ = table.UpdateModelTable(domain.ModelTableConfig{Instances: []domain.ModelInstanceConfig{cfg}})
	if e.Batch() != 8 {
		t.Fatalf("Batch() = %d, want 8 after update", e.Batch())
	}
}

func TestModelTable_TFShareComposite(t *testing.T) {
	table, gpu := newTable()
	cfg := domain.ModelInstanceConfig{
		Sessions: []domain.ModelSession{
			{Framework: "tf_share", Name: "trunk", Version: "1"},
			{Framework: "tf_share", Name: "head-a", Version: "1"},
			{Framework: "tf_share", Name: "head-b", Version: "1"},
		},
		Batch: 4,
	}
	if err := table.UpdateModelTable(domain.ModelTableConfig{Instances: []domain.ModelInstanceConfig{cfg}}); err != nil {
		t.Fatalf("UpdateModelTable: %v", err)
	}

	e1, ok1 := table.GetModel(cfg.Sessions[1].String())
	e2, ok2 := table.GetModel(cfg.Sessions[2].String())
	if !ok1 || !ok2 || e1 != e2 {
		t.Fatal("both suffix-head sessions should map to the same TFShare executor")
	}
	if len(gpu.Resident()) != 0 {
		t.Fatal("AddModel should not take effect before an applyPending boundary")
	}
}

func TestModelTable_TFShareUndeclaredHeadFails(t *testing.T) {
	table, _ := newTable()
	cfg := domain.ModelInstanceConfig{
		Sessions: []domain.ModelSession{
			{Framework: "tf_share", Name: "trunk", Version: "1"},
			{Framework: "tf_share", Name: "head-unknown", Version: "1"},
		},
		Batch: 4,
	}
	if err := table.UpdateModelTable(domain.ModelTableConfig{Instances: []domain.ModelInstanceConfig{cfg}}); err == nil {
		t.Fatal("expected an error for an undeclared suffix head")
	}
}

func TestModelTable_SharePrefixComposite(t *testing.T) {
	table, _ := newTable()
	cfg := domain.ModelInstanceConfig{
		Sessions: []domain.ModelSession{plainSession("x"), plainSession("y")},
		Batch:    4,
	}
	if err := table.UpdateModelTable(domain.ModelTableConfig{Instances: []domain.ModelInstanceConfig{cfg}}); err != nil {
		t.Fatalf("UpdateModelTable: %v", err)
	}
	ex, _ := table.GetModel(cfg.Sessions[0].String())
	ey, _ := table.GetModel(cfg.Sessions[1].String())
	if ex != ey {
		t.Fatal("SharePrefix composite sessions should map to the same executor")
	}
	if ex.Kind() != runner.SharePrefix {
		t.Fatalf("Kind() = %v, want SharePrefix", ex.Kind())
	}
}

// waitForResidentCount drives gpu's driver loop just long enough for its
// pending add/remove intents to apply, then returns its resident snapshot.
func waitForResidentCount(t *testing.T, gpu *gpuexec.GpuExecutor, want int) []*modelexec.ModelExecutor {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gpu.Start(ctx, nil)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(gpu.Resident()) == want {
			break
		}
		time.Sleep(time.Millisecond)
	}
	gpu.Stop()

	resident := gpu.Resident()
	if len(resident) != want {
		t.Fatalf("Resident() len = %d, want %d", len(resident), want)
	}
	return resident
}

func TestModelTable_PlainEvictedOnSharePrefixMerge(t *testing.T) {
	table, gpu := newTable()
	sx := plainSession("x")

	plainCfg := domain.ModelInstanceConfig{Sessions: []domain.ModelSession{sx}, Batch: 4}
	if err := table.UpdateModelTable(domain.ModelTableConfig{Instances: []domain.ModelInstanceConfig{plainCfg}}); err != nil {
		t.Fatalf("UpdateModelTable (plain): %v", err)
	}
	plainExec, ok := table.GetModel(sx.String())
	if !ok || plainExec.Kind() != runner.Plain {
		t.Fatal("expected a resident Plain executor for session x")
	}
	waitForResidentCount(t, gpu, 1)

	mergeCfg := domain.ModelInstanceConfig{Sessions: []domain.ModelSession{sx, plainSession("y")}, Batch: 4}
	if err := table.UpdateModelTable(domain.ModelTableConfig{Instances: []domain.ModelInstanceConfig{mergeCfg}}); err != nil {
		t.Fatalf("UpdateModelTable (share_prefix): %v", err)
	}

	composite, ok := table.GetModel(sx.String())
	if !ok || composite.Kind() != runner.SharePrefix {
		t.Fatal("expected session x to now map to a SharePrefix composite")
	}
	if composite == plainExec {
		t.Fatal("a fresh composite executor should replace the original Plain one")
	}

	resident := waitForResidentCount(t, gpu, 1)
	if resident[0] == plainExec {
		t.Fatal("original Plain executor should have been evicted from the GPU, not left resident")
	}
}

func TestModelTable_PlainEvictedOnTFShareMerge(t *testing.T) {
	table, gpu := newTable()
	trunk := domain.ModelSession{Framework: "tf_share", Name: "trunk", Version: "1"}

	plainCfg := domain.ModelInstanceConfig{Sessions: []domain.ModelSession{trunk}, Batch: 4}
	if err := table.UpdateModelTable(domain.ModelTableConfig{Instances: []domain.ModelInstanceConfig{plainCfg}}); err != nil {
		t.Fatalf("UpdateModelTable (plain): %v", err)
	}
	plainExec, ok := table.GetModel(trunk.String())
	if !ok || plainExec.Kind() != runner.Plain {
		t.Fatal("expected a resident Plain executor for the trunk session")
	}
	waitForResidentCount(t, gpu, 1)

	tfShareCfg := domain.ModelInstanceConfig{
		Sessions: []domain.ModelSession{
			trunk,
			{Framework: "tf_share", Name: "head-a", Version: "1"},
		},
		Batch: 4,
	}
	if err := table.UpdateModelTable(domain.ModelTableConfig{Instances: []domain.ModelInstanceConfig{tfShareCfg}}); err != nil {
		t.Fatalf("UpdateModelTable (tf_share): %v", err)
	}

	composite, ok := table.GetModel(trunk.String())
	if !ok || composite.Kind() != runner.TFShare {
		t.Fatal("expected the trunk session to now map to a TFShare composite")
	}
	if composite == plainExec {
		t.Fatal("a fresh composite executor should replace the original Plain one")
	}

	resident := waitForResidentCount(t, gpu, 1)
	if resident[0] == plainExec {
		t.Fatal("original Plain executor should have been evicted from the GPU, not left resident")
	}
}

func TestModelTable_BackupPoolReconciledFromDirective(t *testing.T) {
	backend := runner.NewMockBackend()
	gpu := gpuexec.New(gpuexec.MultiBatching, 2)
	db := &fakeDB{}
	pool := &fakePool{}
	table := New(backend, gpu, db, pool)

	cfg := domain.ModelInstanceConfig{
		Sessions:       []domain.ModelSession{plainSession("a")},
		Batch:          2,
		BackupBackends: []domain.BackupBackend{{NodeID: "n1", Address: "10.0.0.1:9"}},
	}
	_ = table.UpdateModelTable(domain.ModelTableConfig{Instances: []domain.ModelInstanceConfig{cfg}})
	if len(pool.reconciled) != 1 || pool.reconciled[0].NodeID != "n1" {
		t.Fatalf("expected backup pool to be reconciled with n1, got %+v", pool.reconciled)
	}
}

func TestModelTable_SessionStats(t *testing.T) {
	table, _ := newTable()
	cfg := domain.ModelInstanceConfig{Sessions: []domain.ModelSession{plainSession("a")}, Batch: 4}
	if err := table.UpdateModelTable(domain.ModelTableConfig{Instances: []domain.ModelInstanceConfig{cfg}}); err != nil {
		t.Fatalf("UpdateModelTable: %v", err)
	}

	stats := table.SessionStats()
	if len(stats) != 1 || stats[0].SessionID != cfg.Sessions[0].String() {
		t.Fatalf("SessionStats = %+v, want one entry for %q", stats, cfg.Sessions[0].String())
	}
}
