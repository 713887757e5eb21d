// Package runner provides the framework-opaque ModelRunner abstraction and
// its three variants (plain, prefix-shared, suffix-shared). The concrete
// neural-network framework bindings are out of scope; Backend stands in for
// them so the reconciliation and execution logic above can be exercised and
// tested without one.
package runner

import (
	"fmt"
	"sync"

	"github.com/tutu-network/tutu/internal/domain"
)

// Kind tags which ModelRunner variant an executor wraps. The reconciliation
// code branches on Kind instead of doing a runtime type assertion.
type Kind string

const (
	Plain       Kind = "plain"
	SharePrefix Kind = "share_prefix"
	TFShare     Kind = "tf_share"
)

// Backend performs the actual batched forward pass for a named computation
// graph. A real implementation binds to a concrete NN framework; MockBackend
// stands in for tests and for an implementer wiring their own framework.
type Backend interface {
	// Forward runs graph on a batch of opaque preprocessed inputs, returning
	// one opaque output per input in the same order.
	Forward(graph string, batch [][]byte) ([][]byte, error)
}

// BatchItem is one preprocessed task queued for a Forward call, tagged with
// the session it belongs to — composite runners need the tag to split the
// batch across shared prefixes or per-session suffix heads.
type BatchItem struct {
	SessionID string
	Data      []byte
}

// ModelRunner is the polymorphic capability set every variant exposes.
type ModelRunner interface {
	Kind() Kind
	Preprocess(t *domain.Task) ([]byte, error)
	Forward(items []BatchItem) ([][]byte, error)
	Postprocess(t *domain.Task, output []byte) error
	Batch() int
	SetBatch(size int)
}

// SessionBinder is implemented by the composite variants (SharePrefix,
// TFShare), whose bound session set changes as the scheduler adds or removes
// sessions from the composite without tearing down shared weights.
type SessionBinder interface {
	HasModelSession(sessionID string) bool
	AddModelSession(sessionID string) bool // true if newly inserted
	RemoveModelSession(sessionID string) bool
	NumModelSessions() int
}

// baseRunner holds the batch size shared by all three variants; SetBatch
// takes effect immediately, the next GpuExecutor iteration picks it up.
type baseRunner struct {
	mu    sync.RWMutex
	batch int
}

func (b *baseRunner) Batch() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.batch
}

func (b *baseRunner) SetBatch(size int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batch = size
}

// defaultPreprocess and defaultPostprocess pass task input/output through
// unchanged — the real decode/encode bodies are a spec non-goal (they belong
// to individual model kinds, out of scope per the purpose statement).
func defaultPreprocess(t *domain.Task) ([]byte, error) {
	return t.Input, nil
}

func defaultPostprocess(t *domain.Task, output []byte) error {
	t.Result = output
	t.Status = domain.TaskCompleted
	return nil
}

func fwdErr(graph string, err error) error {
	return fmt.Errorf("forward %s: %w", graph, err)
}
