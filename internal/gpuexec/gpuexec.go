// Package gpuexec owns the GPU and drives resident ModelExecutors through a
// duty-cycle-bounded (or round-robin) batched forward pass.
package gpuexec

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tutu-network/tutu/internal/metrics"
	"github.com/tutu-network/tutu/internal/modelexec"
)

// Mode selects the GPU driver's scheduling discipline.
type Mode int

const (
	// MultiBatching proportions the duty cycle across resident models by
	// configured batch size × per-sample latency.
	MultiBatching Mode = iota
	// NoMultiBatching serves resident models round-robin with no
	// duty-cycle pacing, draining each up to its batch size before
	// yielding.
	NoMultiBatching
)

const defaultPopTimeout = 2 * time.Millisecond

type intent struct {
	add  bool
	exec *modelexec.ModelExecutor
}

// GpuExecutor owns the GPU; it is mutated only from its own driver thread,
// except AddModel/RemoveModel which enqueue intents applied at the next
// iteration boundary.
type GpuExecutor struct {
	mode Mode
	pool *workerPool

	mu       sync.Mutex
	pending  []intent
	resident []*modelexec.ModelExecutor

	dutyCycle time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a GpuExecutor in the given mode with a worker pool of
// `workers` goroutines (0 = teacher's default of 4) for Preprocess/
// Postprocess.
func New(mode Mode, workers int) *GpuExecutor {
	return &GpuExecutor{
		mode:      mode,
		pool:      newWorkerPool(workers),
		dutyCycle: 50 * time.Millisecond,
	}
}

// AddModel enqueues an intent to make exec resident; applied at the next
// iteration boundary, never interrupting an in-flight batch.
func (g *GpuExecutor) AddModel(exec *modelexec.ModelExecutor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = append(g.pending, intent{add: true, exec: exec})
}

// RemoveModel enqueues an intent to evict exec from the resident set.
func (g *GpuExecutor) RemoveModel(exec *modelexec.ModelExecutor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = append(g.pending, intent{add: false, exec: exec})
}

// SetDutyCycle sets the wall-clock budget the MultiBatching driver aims to
// serve one pass over resident models within.
func (g *GpuExecutor) SetDutyCycle(us int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dutyCycle = time.Duration(us) * time.Microsecond
}

// DutyCycle returns the current duty cycle.
func (g *GpuExecutor) DutyCycle() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dutyCycle
}

// Resident returns a snapshot of the currently resident executors.
func (g *GpuExecutor) Resident() []*modelexec.ModelExecutor {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*modelexec.ModelExecutor(nil), g.resident...)
}

// Start runs the GPU driver loop in the current goroutine until Stop is
// called or ctx is cancelled. coreAffinity is advisory only (see
// DESIGN.md); the last element would pin the driver thread, the rest round-
// robin to workers, were OS-level pinning wired in.
func (g *GpuExecutor) Start(ctx context.Context, coreAffinity []int) {
	if len(coreAffinity) > 0 {
		log.Printf("[gpuexec] advisory core affinity requested: %v (not pinned)", coreAffinity)
	}

	g.mu.Lock()
	g.stopCh = make(chan struct{})
	g.doneCh = make(chan struct{})
	g.mu.Unlock()
	defer close(g.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopCh:
			return
		default:
		}

		g.applyPending()

		switch g.mode {
		case NoMultiBatching:
			g.roundRobinIteration()
		default:
			g.multiBatchIteration()
		}
	}
}

// Stop signals the driver loop to exit after its current iteration and
// waits for it to do so.
func (g *GpuExecutor) Stop() {
	g.mu.Lock()
	stopCh := g.stopCh
	doneCh := g.doneCh
	if stopCh != nil {
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
	}
	g.mu.Unlock()
	if stopCh == nil {
		return
	}
	if doneCh != nil {
		<-doneCh
	}
	g.pool.Close()
}

func (g *GpuExecutor) applyPending() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pending) == 0 {
		return
	}
	for _, in := range g.pending {
		if in.add {
			if !containsExec(g.resident, in.exec) {
				g.resident = append(g.resident, in.exec)
			}
		} else {
			g.resident = removeExec(g.resident, in.exec)
		}
	}
	g.pending = nil
	metrics.ResidentModels.Set(float64(len(g.resident)))
}

func containsExec(list []*modelexec.ModelExecutor, e *modelexec.ModelExecutor) bool {
	for _, x := range list {
		if x == e {
			return true
		}
	}
	return false
}

func removeExec(list []*modelexec.ModelExecutor, e *modelexec.ModelExecutor) []*modelexec.ModelExecutor {
	out := list[:0]
	for _, x := range list {
		if x != e {
			out = append(out, x)
		}
	}
	return out
}
