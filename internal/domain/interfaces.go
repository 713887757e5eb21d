package domain

import (
	"context"
	"time"
)

// Service interfaces define boundaries between layers. Infrastructure
// implements them; the reconciliation/execution core depends only on these.

// SchedulerClient abstracts the scheduler control-plane RPCs.
type SchedulerClient interface {
	// Register posts node identity/capability to the scheduler and returns
	// the beacon interval governing KeepAlive cadence.
	Register(ctx context.Context, req RegisterRequest) (RegisterReply, error)
	Unregister(ctx context.Context, nodeID string) error
	KeepAlive(ctx context.Context, nodeID string, stats []ModelStats) error
}

// RegisterRequest is posted once at startup by the registration daemon.
type RegisterRequest struct {
	NodeType       string
	NodeID         uint32
	ServerPort     int
	RPCPort        int
	GPUDeviceName  string
	GPUFreeMemory  uint64
}

// RegisterStatus mirrors the scheduler's control-RPC status codes.
type RegisterStatus string

const (
	CtrlOK                     RegisterStatus = "CTRL_OK"
	CtrlBackendNodeIDConflict  RegisterStatus = "CTRL_BACKEND_NODE_ID_CONFLICT"
)

// RegisterReply is the scheduler's response to Register.
type RegisterReply struct {
	Status             RegisterStatus
	BeaconIntervalSec  int
}

// ModelStats is a per-session rate/drop snapshot sent with KeepAlive.
type ModelStats struct {
	SessionID string
	RPS       float64
	DropRate  float64
}

// ModelDatabase abstracts the resident-model latency/suffix-head catalog.
type ModelDatabase interface {
	// TrunkSuffixHeads returns the suffix-head session names declared for a
	// tf_share trunk model, by trunk name.
	TrunkSuffixHeads(trunkName string) ([]string, bool)

	// LatencyProfile returns the static per-sample forward latency (seconds)
	// recorded for a session, used until a measured EWMA is available.
	LatencyProfile(sessionID string) (time.Duration, bool)

	// RecordLatency persists an updated measured-latency sample for a
	// session so it survives restarts.
	RecordLatency(sessionID string, perSample time.Duration) error
}
