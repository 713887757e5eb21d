package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/tutu-network/tutu/internal/nodeconfig"
	"github.com/tutu-network/tutu/internal/runner"
	"github.com/tutu-network/tutu/internal/schedulerrpc"
)

var errRegistrationUnreachable = errors.New("scheduler unreachable")

var testPort = 19000

func testConfig(t *testing.T) nodeconfig.Config {
	t.Helper()
	t.Setenv("NEXUSBACKEND_HOME", t.TempDir())

	testPort += 2
	cfg := nodeconfig.DefaultConfig()
	cfg.Node.ListenPort = testPort
	cfg.Node.RPCPort = testPort + 1
	cfg.GPU.Workers = 1
	return cfg
}

func TestNew_WiresWithoutError(t *testing.T) {
	cfg := testConfig(t)
	n, err := New(cfg, runner.NewMockBackend(), schedulerrpc.NewFake(30))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()

	if n.table == nil || n.gpu == nil || n.backups == nil {
		t.Fatal("New did not wire table/gpu/backups")
	}
}

func TestBackendNode_ServeRegistersAndShutsDownOnCancel(t *testing.T) {
	cfg := testConfig(t)
	fake := schedulerrpc.NewFake(1)
	n, err := New(cfg, runner.NewMockBackend(), fake)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- n.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(fake.Registered) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if len(fake.Registered) == 0 {
		t.Fatal("Serve never registered with the scheduler")
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}

	if len(fake.Unregistered) != 1 {
		t.Fatalf("Unregistered calls = %d, want 1", len(fake.Unregistered))
	}
}

func TestBackendNode_StatusEndpointReportsResidentState(t *testing.T) {
	cfg := testConfig(t)
	fake := schedulerrpc.NewFake(1)
	n, err := New(cfg, runner.NewMockBackend(), fake)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Serve(ctx)

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get(fmt.Sprintf("http://127.0.0.1:%d/v1/status", cfg.Node.RPCPort))
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /v1/status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestBackendNode_QueryEndpointServesOnListenPort(t *testing.T) {
	cfg := testConfig(t)
	fake := schedulerrpc.NewFake(1)
	n, err := New(cfg, runner.NewMockBackend(), fake)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Serve(ctx)

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Post(
			fmt.Sprintf("http://127.0.0.1:%d/v1/query", cfg.Node.ListenPort),
			"application/json",
			strings.NewReader(`{"session_id":"none:loaded:v1:1x1"}`),
		)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("POST /v1/query: %v", err)
	}
	defer resp.Body.Close()

	// No model is resident, so the query surface replies NOT_LOADED rather
	// than ever reaching the control-plane RPC port.
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestBackendNode_ServeFailsFatallyOnRegistrationError(t *testing.T) {
	cfg := testConfig(t)
	fake := schedulerrpc.NewFake(1)
	fake.RegisterErr = errRegistrationUnreachable

	n, err := New(cfg, runner.NewMockBackend(), fake)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Close()

	if err := n.Serve(context.Background()); err == nil {
		t.Fatal("expected Serve to fail when registration errors")
	}
}
