// Package node wires a backend node's components into a single runtime and
// owns its lifecycle: registration, the GPU driver thread, the reconciliation
// and heartbeat daemons, and the inbound control-plane HTTP server (spec §5).
package node

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tutu-network/tutu/internal/backendrpc"
	"github.com/tutu-network/tutu/internal/backup"
	"github.com/tutu-network/tutu/internal/control"
	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/frontend"
	"github.com/tutu-network/tutu/internal/gpudevice"
	"github.com/tutu-network/tutu/internal/gpuexec"
	"github.com/tutu-network/tutu/internal/modeldb"
	"github.com/tutu-network/tutu/internal/modeldb/sqlite"
	"github.com/tutu-network/tutu/internal/modeltable"
	"github.com/tutu-network/tutu/internal/nodeconfig"
	"github.com/tutu-network/tutu/internal/runner"
	"github.com/tutu-network/tutu/internal/schedulerrpc"
)

// BackendNode is one serving node: it owns the GPU, the resident model
// table, the backup connection pool, and the control-plane daemons that
// keep it registered and reconciled with the cluster scheduler.
type BackendNode struct {
	config nodeconfig.Config

	db        *sqlite.DB
	models    *modeldb.Manager
	gpu       *gpuexec.GpuExecutor
	backups   *backup.BackendPool
	table     *modeltable.ModelTable
	scheduler domain.SchedulerClient

	registrar   *control.Registrar
	heartbeat   *control.HeartbeatDaemon
	reconciler  *control.ReconciliationDaemon
	rpcServer   *backendrpc.Server
	queryServer *frontend.Server

	nodeID string
}

// New wires a BackendNode from cfg and backend, the caller-supplied
// NN-framework binding every ModelRunner variant is constructed against. A
// nil scheduler defaults to the HTTP client pointed at cfg.Scheduler.Address;
// tests pass a schedulerrpc.FakeClient instead.
func New(cfg nodeconfig.Config, backend runner.Backend, scheduler domain.SchedulerClient) (*BackendNode, error) {
	db, err := sqlite.Open(nodeconfig.NodeHome())
	if err != nil {
		return nil, fmt.Errorf("open model database: %w", err)
	}
	models := modeldb.NewManager(db)

	mode := gpuexec.MultiBatching
	if !cfg.GPU.MultiBatch {
		mode = gpuexec.NoMultiBatching
	}
	gpu := gpuexec.New(mode, cfg.GPU.Workers)

	backups := backup.NewBackendPool(backup.NewHTTPTransport())
	table := modeltable.New(backend, gpu, models, backups)

	if scheduler == nil {
		scheduler = schedulerrpc.New("http://" + cfg.Scheduler.Address)
	}

	reconciler := control.NewReconciliationDaemon(table)
	status := &nodeStatus{table: table, gpu: gpu, backups: backups}
	rpcServer := backendrpc.NewServer(reconciler, status)
	rpcServer.EnableMetrics()

	queryServer := frontend.NewServer(table, backups, cfg.Backup.OccupancyValidMS)

	return &BackendNode{
		config:      cfg,
		db:          db,
		models:      models,
		gpu:         gpu,
		backups:     backups,
		table:       table,
		scheduler:   scheduler,
		reconciler:  reconciler,
		rpcServer:   rpcServer,
		queryServer: queryServer,
	}, nil
}

// Serve registers with the scheduler, starts the GPU driver, the
// reconciliation and heartbeat daemons, and the control-plane HTTP server,
// then blocks until ctx is cancelled or a termination signal arrives. A
// registration failure is fatal, per spec §7: the node cannot usefully run
// unregistered, so Serve returns the error without starting anything else.
func (n *BackendNode) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	info, _ := gpudevice.Probe(n.config.GPU.DeviceID)
	identity := control.NodeIdentity{
		NodeType:      n.config.Node.NodeType,
		ServerPort:    n.config.Node.ListenPort,
		RPCPort:       n.config.Node.RPCPort,
		GPUDeviceName: info.Name,
		GPUFreeMemory: info.FreeMemoryBytes,
	}
	n.registrar = control.NewRegistrar(n.scheduler, identity)

	nodeID, beaconInterval, err := n.registrar.Register(ctx)
	if err != nil {
		return fmt.Errorf("registration: %w", err)
	}
	n.nodeID = strconv.FormatUint(uint64(nodeID), 10)
	n.heartbeat = control.NewHeartbeatDaemon(n.scheduler, n.table, n.nodeID, beaconInterval)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); n.gpu.Start(ctx, parseCores(n.config.GPU.Cores)) }()
	go func() { defer wg.Done(); n.reconciler.Run(ctx) }()
	go func() { defer wg.Done(); n.heartbeat.Run(ctx) }()

	queryAddr := fmt.Sprintf(":%d", n.config.Node.ListenPort)
	queryHTTPServer := &http.Server{
		Addr:         queryAddr,
		Handler:      n.queryServer.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	rpcAddr := fmt.Sprintf(":%d", n.config.Node.RPCPort)
	rpcHTTPServer := &http.Server{
		Addr:         rpcAddr,
		Handler:      n.rpcServer.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		control.Unregister(shutdownCtx, n.scheduler, n.nodeID)

		cancel()
		n.gpu.Stop()
		_ = queryHTTPServer.Shutdown(shutdownCtx)
		_ = rpcHTTPServer.Shutdown(shutdownCtx)
	}()

	rpcErrCh := make(chan error, 1)
	go func() {
		log.Printf("[node] registered as node %s, control RPCs on %s", n.nodeID, rpcAddr)
		if err := rpcHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cancel()
			rpcErrCh <- err
			return
		}
		rpcErrCh <- nil
	}()

	log.Printf("[node] serving queries on %s", queryAddr)
	queryErr := queryHTTPServer.ListenAndServe()
	if queryErr != nil && queryErr != http.ErrServerClosed {
		cancel()
		rpcHTTPServer.Close()
		<-rpcErrCh
		wg.Wait()
		return queryErr
	}

	if err := <-rpcErrCh; err != nil {
		wg.Wait()
		return err
	}
	wg.Wait()
	return nil
}

// Close releases resources that outlive a single Serve call (e.g. a test
// wiring its own context cancellation instead of a signal).
func (n *BackendNode) Close() {
	if n.gpu != nil {
		n.gpu.Stop()
	}
	if n.db != nil {
		_ = n.db.Close()
	}
}

// nodeStatus aggregates a point-in-time snapshot of the resident model
// table, GPU occupancy, and backup pool state for the optional introspection
// endpoint (GET /v1/status).
type nodeStatus struct {
	table   *modeltable.ModelTable
	gpu     *gpuexec.GpuExecutor
	backups *backup.BackendPool
}

func (s *nodeStatus) Status() any {
	return map[string]any{
		"sessions": s.table.SessionStats(),
		"resident": len(s.gpu.Resident()),
		"backups":  s.backups.Snapshot(),
	}
}

// parseCores parses a comma list of CPU core ids ("0,1,2") into ints. An
// empty or malformed list yields nil, letting the GPU driver thread run
// without explicit affinity.
func parseCores(s string) []int {
	if s == "" {
		return nil
	}
	fields := strings.Split(s, ",")
	cores := make([]int, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil
		}
		cores = append(cores, id)
	}
	return cores
}
