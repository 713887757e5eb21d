package schedulerrpc

import (
	"context"
	"sync"

	"github.com/tutu-network/tutu/internal/domain"
)

// FakeClient is an in-memory domain.SchedulerClient for tests: no network,
// fully inspectable call history.
type FakeClient struct {
	mu sync.Mutex

	BeaconIntervalSec int
	ConflictUntilCall int // Register returns CtrlBackendNodeIDConflict for the first ConflictUntilCall calls
	RegisterErr       error
	UnregisterErr     error
	KeepAliveErr      error

	Registered   []domain.RegisterRequest
	Unregistered []string
	KeepAlives   []domain.ModelStats
	calls        int
}

// NewFake returns a FakeClient that accepts Register on the first call.
func NewFake(beaconIntervalSec int) *FakeClient {
	return &FakeClient{BeaconIntervalSec: beaconIntervalSec}
}

func (f *FakeClient) Register(_ context.Context, req domain.RegisterRequest) (domain.RegisterReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RegisterErr != nil {
		return domain.RegisterReply{}, f.RegisterErr
	}

	f.calls++
	f.Registered = append(f.Registered, req)
	if f.calls <= f.ConflictUntilCall {
		return domain.RegisterReply{Status: domain.CtrlBackendNodeIDConflict}, nil
	}
	return domain.RegisterReply{Status: domain.CtrlOK, BeaconIntervalSec: f.BeaconIntervalSec}, nil
}

func (f *FakeClient) Unregister(_ context.Context, nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UnregisterErr != nil {
		return f.UnregisterErr
	}
	f.Unregistered = append(f.Unregistered, nodeID)
	return nil
}

func (f *FakeClient) KeepAlive(_ context.Context, _ string, stats []domain.ModelStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.KeepAliveErr != nil {
		return f.KeepAliveErr
	}
	f.KeepAlives = append(f.KeepAlives, stats...)
	return nil
}
