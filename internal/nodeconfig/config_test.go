package nodeconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Node.ListenPort != 9000 {
		t.Errorf("Node.ListenPort = %d, want 9000", cfg.Node.ListenPort)
	}
	if cfg.Node.RPCPort != 9001 {
		t.Errorf("Node.RPCPort = %d, want 9001", cfg.Node.RPCPort)
	}
	if !cfg.GPU.MultiBatch {
		t.Error("GPU.MultiBatch = false, want true by default")
	}
	if cfg.Backup.OccupancyValidMS != 10 {
		t.Errorf("Backup.OccupancyValidMS = %d, want 10", cfg.Backup.OccupancyValidMS)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("Load(missing file) = %+v, want defaults", cfg)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
[node]
listen_port = 9500
rpc_port = 9501

[scheduler]
address = "scheduler.internal:7000"

[gpu]
device_id = 1
multi_batch = false
`
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.ListenPort != 9500 || cfg.Node.RPCPort != 9501 {
		t.Fatalf("Node = %+v, want ListenPort=9500/RPCPort=9501", cfg.Node)
	}
	if cfg.Scheduler.Address != "scheduler.internal:7000" {
		t.Fatalf("Scheduler.Address = %q", cfg.Scheduler.Address)
	}
	if cfg.GPU.DeviceID != 1 || cfg.GPU.MultiBatch {
		t.Fatalf("GPU = %+v, want DeviceID=1/MultiBatch=false", cfg.GPU)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Backup.OccupancyValidMS != 10 {
		t.Fatalf("Backup.OccupancyValidMS = %d, want default 10", cfg.Backup.OccupancyValidMS)
	}
}

func TestLoad_RejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("not = [valid toml"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject malformed TOML")
	}
}

func TestNodeHome_RespectsEnvOverride(t *testing.T) {
	t.Setenv("NEXUSBACKEND_HOME", "/tmp/custom-home")
	if got := NodeHome(); got != "/tmp/custom-home" {
		t.Fatalf("NodeHome() = %q, want /tmp/custom-home", got)
	}
}
