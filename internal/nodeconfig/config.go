// Package nodeconfig holds the backend node's TOML-backed configuration,
// with CLI flags taking precedence over whatever the file declares.
package nodeconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds the full backend node configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	GPU       GPUConfig       `toml:"gpu"`
	Backup    BackupConfig    `toml:"backup"`
}

// NodeConfig controls the node's own listen surface.
type NodeConfig struct {
	ListenPort int    `toml:"listen_port"`
	RPCPort    int    `toml:"rpc_port"`
	NodeType   string `toml:"node_type"`
}

// SchedulerConfig controls the scheduler control-plane connection.
type SchedulerConfig struct {
	Address string `toml:"address"`
}

// GPUConfig controls GPU driver-thread behavior.
type GPUConfig struct {
	DeviceID   int    `toml:"device_id"`
	Workers    int    `toml:"workers"` // 0 = auto (4 workers)
	Cores      string `toml:"cores"`   // comma list; advisory affinity, logged by the GPU driver but not pinned
	MultiBatch bool   `toml:"multi_batch"`
}

// BackupConfig controls the backup-relay trigger.
type BackupConfig struct {
	OccupancyValidMS int64 `toml:"occupancy_valid_ms"`
}

// defaultSchedulerPort is the port of the default scheduler address. A
// scheduler address supplied without a port is used as given; no port is
// appended to it.
const defaultSchedulerPort = "7000"

// DefaultConfig returns the configuration applied before any TOML file or
// CLI flag is consulted.
func DefaultConfig() Config {
	return Config{
		Node: NodeConfig{
			ListenPort: 9000,
			RPCPort:    9001,
			NodeType:   "backend",
		},
		Scheduler: SchedulerConfig{
			Address: "127.0.0.1:" + defaultSchedulerPort,
		},
		GPU: GPUConfig{
			DeviceID:   0,
			Workers:    0,
			MultiBatch: true,
		},
		Backup: BackupConfig{
			OccupancyValidMS: 10,
		},
	}
}

// Load reads config from path, falling back to DefaultConfig for any field
// the file doesn't set. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// NodeHome returns the directory backend node state (the model database)
// lives in.
func NodeHome() string {
	if env := os.Getenv("NEXUSBACKEND_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".nexusbackend")
}
