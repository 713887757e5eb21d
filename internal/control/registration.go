// Package control runs the scheduler-facing control-plane daemons: one-shot
// registration, the periodic heartbeat, and the directive-applying
// reconciliation loop (spec §4.6).
package control

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/metrics"
)

// NodeIdentity is the static capability set posted at registration time.
type NodeIdentity struct {
	NodeType      string
	ServerPort    int
	RPCPort       int
	GPUDeviceName string
	GPUFreeMemory uint64
}

// Registrar runs the one-shot registration handshake. A scheduler-unreachable
// or otherwise non-OK response is fatal, per spec §7; a node-id conflict
// regenerates and retries indefinitely.
type Registrar struct {
	client   domain.SchedulerClient
	identity NodeIdentity
	rand     *rand.Rand
}

// NewRegistrar creates a Registrar posting identity through client.
func NewRegistrar(client domain.SchedulerClient, identity NodeIdentity) *Registrar {
	return &Registrar{
		client:   client,
		identity: identity,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Register retries on CTRL_BACKEND_NODE_ID_CONFLICT with a freshly generated
// node id; any other non-OK status or transport error is returned as a
// fatal error to the caller, which is expected to exit the process.
func (r *Registrar) Register(ctx context.Context) (nodeID uint32, beaconInterval time.Duration, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}

		id := r.randomNodeID()
		reply, err := r.client.Register(ctx, domain.RegisterRequest{
			NodeType:      r.identity.NodeType,
			NodeID:        id,
			ServerPort:    r.identity.ServerPort,
			RPCPort:       r.identity.RPCPort,
			GPUDeviceName: r.identity.GPUDeviceName,
			GPUFreeMemory: r.identity.GPUFreeMemory,
		})
		if err != nil {
			return 0, 0, fmt.Errorf("register: %w", err)
		}

		switch reply.Status {
		case domain.CtrlOK:
			log.Printf("[control] registered as node %d, beacon interval %ds", id, reply.BeaconIntervalSec)
			return id, time.Duration(reply.BeaconIntervalSec) * time.Second, nil
		case domain.CtrlBackendNodeIDConflict:
			metrics.RegistrationConflicts.Inc()
			log.Printf("[control] node id %d conflicted, regenerating", id)
			continue
		default:
			return 0, 0, fmt.Errorf("register: scheduler rejected with status %q", reply.Status)
		}
	}
}

// randomNodeID never returns 0, reserved as a sentinel for "unregistered".
func (r *Registrar) randomNodeID() uint32 {
	for {
		if id := r.rand.Uint32(); id != 0 {
			return id
		}
	}
}

// Unregister notifies the scheduler this node is going offline. Errors are
// logged, not fatal (spec §7).
func Unregister(ctx context.Context, client domain.SchedulerClient, nodeID string) {
	if err := client.Unregister(ctx, nodeID); err != nil {
		log.Printf("[control] unregister failed: %v", err)
	}
}
