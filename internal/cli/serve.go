package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tutu-network/tutu/internal/node"
	"github.com/tutu-network/tutu/internal/nodeconfig"
	"github.com/tutu-network/tutu/internal/runner"
)

var (
	serveConfigPath       string
	serveListenPort       int
	serveRPCPort          int
	serveScheduler        string
	serveGPUID            int
	serveWorkers          int
	serveCores            string
	serveMultiBatch       bool
	serveOccupancyValidMS int64
)

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to node TOML config file")
	serveCmd.Flags().IntVar(&serveListenPort, "listen-port", 0, "Port frontends connect to (overrides config)")
	serveCmd.Flags().IntVar(&serveRPCPort, "rpc-port", 0, "Port the scheduler's control RPCs arrive on (overrides config)")
	serveCmd.Flags().StringVar(&serveScheduler, "scheduler", "", "Scheduler address, host:port (overrides config)")
	serveCmd.Flags().IntVar(&serveGPUID, "gpu-id", -1, "Local GPU device id to probe and serve from (overrides config)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", -1, "Preprocess/postprocess worker pool size, 0 = auto (overrides config)")
	serveCmd.Flags().StringVar(&serveCores, "cores", "", "Comma-separated CPU core ids for driver-thread affinity (overrides config)")
	serveCmd.Flags().BoolVar(&serveMultiBatch, "multi-batch", true, "Proportion the duty cycle across resident models instead of round-robin")
	serveCmd.Flags().Int64Var(&serveOccupancyValidMS, "occupancy-valid", -1, "Backup occupancy staleness window in ms (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Register with the scheduler and start serving models",
	Long:  `Start the backend node: register with the cluster scheduler, reconcile the resident model table against its directives, and serve frontend/backup connections.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := nodeconfig.Load(serveConfigPath)
	if err != nil {
		return err
	}

	if serveListenPort > 0 {
		cfg.Node.ListenPort = serveListenPort
	}
	if serveRPCPort > 0 {
		cfg.Node.RPCPort = serveRPCPort
	}
	if serveScheduler != "" {
		cfg.Scheduler.Address = serveScheduler
	}
	if serveGPUID >= 0 {
		cfg.GPU.DeviceID = serveGPUID
	}
	if serveWorkers >= 0 {
		cfg.GPU.Workers = serveWorkers
	}
	if serveCores != "" {
		cfg.GPU.Cores = serveCores
	}
	if cmd.Flags().Changed("multi-batch") {
		cfg.GPU.MultiBatch = serveMultiBatch
	}
	if serveOccupancyValidMS >= 0 {
		cfg.Backup.OccupancyValidMS = serveOccupancyValidMS
	}

	n, err := node.New(cfg, runner.NewMockBackend(), nil)
	if err != nil {
		return err
	}
	defer n.Close()

	return n.Serve(context.Background())
}
