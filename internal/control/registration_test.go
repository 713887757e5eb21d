package control

import (
	"context"
	"errors"
	"testing"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/schedulerrpc"
)

func TestRegistrar_Register_Success(t *testing.T) {
	fake := schedulerrpc.NewFake(15)
	r := NewRegistrar(fake, NodeIdentity{NodeType: "backend", ServerPort: 9000, RPCPort: 9001})

	nodeID, beacon, err := r.Register(context.Background())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if nodeID == 0 {
		t.Fatal("Register returned node id 0, want a nonzero random id")
	}
	if beacon.Seconds() != 15 {
		t.Fatalf("beacon interval = %v, want 15s", beacon)
	}
	if len(fake.Registered) != 1 {
		t.Fatalf("Registered calls = %d, want 1", len(fake.Registered))
	}
}

func TestRegistrar_Register_RetriesOnConflict(t *testing.T) {
	fake := schedulerrpc.NewFake(15)
	fake.ConflictUntilCall = 3
	r := NewRegistrar(fake, NodeIdentity{NodeType: "backend"})

	nodeID, _, err := r.Register(context.Background())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if nodeID == 0 {
		t.Fatal("expected a nonzero node id after retrying past the conflict")
	}
	if len(fake.Registered) != 4 {
		t.Fatalf("Registered calls = %d, want 4 (3 conflicts + 1 success)", len(fake.Registered))
	}
}

func TestRegistrar_Register_FatalOnTransportError(t *testing.T) {
	fake := schedulerrpc.NewFake(15)
	fake.RegisterErr = errors.New("connection refused")
	r := NewRegistrar(fake, NodeIdentity{NodeType: "backend"})

	_, _, err := r.Register(context.Background())
	if err == nil {
		t.Fatal("expected Register to return an error when the scheduler is unreachable")
	}
}

func TestRegistrar_Register_RespectsCancelledContext(t *testing.T) {
	fake := schedulerrpc.NewFake(15)
	fake.ConflictUntilCall = 1 << 30 // always conflicts, to force the loop to keep checking ctx
	r := NewRegistrar(fake, NodeIdentity{NodeType: "backend"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := r.Register(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Register err = %v, want context.Canceled", err)
	}
}

var _ domain.SchedulerClient = (*schedulerrpc.FakeClient)(nil)
