package runner

import (
	"sync"

	"github.com/tutu-network/tutu/internal/domain"
)

// TFShareModel is a single pre-trained trunk exposing multiple suffix heads.
// The set of currently bound sessions is a subset of the suffix heads
// declared by the trunk's model-database entry; the trunk itself is shared,
// heads are per-session.
type TFShareModel struct {
	baseRunner
	backend Backend
	trunk   string
	mu      sync.RWMutex
	heads   map[string]bool // bound session id -> present
}

// NewTFShare creates an empty TFShare runner bound to a trunk graph.
func NewTFShare(backend Backend, trunkGraph string, batch int) *TFShareModel {
	m := &TFShareModel{backend: backend, trunk: trunkGraph, heads: make(map[string]bool)}
	m.batch = batch
	return m
}

func (m *TFShareModel) Kind() Kind { return TFShare }

func (m *TFShareModel) Preprocess(t *domain.Task) ([]byte, error) { return defaultPreprocess(t) }

func (m *TFShareModel) Postprocess(t *domain.Task, output []byte) error {
	return defaultPostprocess(t, output)
}

func (m *TFShareModel) HasModelSession(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.heads[sessionID]
}

// AddModelSession returns true if sessionID was newly inserted, false if it
// was already bound.
func (m *TFShareModel) AddModelSession(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.heads[sessionID] {
		return false
	}
	m.heads[sessionID] = true
	return true
}

func (m *TFShareModel) RemoveModelSession(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.heads[sessionID] {
		return false
	}
	delete(m.heads, sessionID)
	return true
}

func (m *TFShareModel) NumModelSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.heads)
}

// Forward runs the shared trunk once over the whole batch, then each bound
// session's head on its corresponding slice.
func (m *TFShareModel) Forward(items []BatchItem) ([][]byte, error) {
	if len(items) == 0 {
		return nil, nil
	}

	inputs := make([][]byte, len(items))
	for i, it := range items {
		inputs[i] = it.Data
	}
	trunkOut, err := m.backend.Forward(m.trunk, inputs)
	if err != nil {
		return nil, fwdErr(m.trunk, err)
	}

	results := make([][]byte, len(items))
	groups := groupBySession(items)
	for sid, idxs := range groups {
		head := headGraph(m.trunk, sid)
		sliceIn := make([][]byte, len(idxs))
		for j, idx := range idxs {
			sliceIn[j] = trunkOut[idx]
		}
		sliceOut, err := m.backend.Forward(head, sliceIn)
		if err != nil {
			return nil, fwdErr(head, err)
		}
		for j, idx := range idxs {
			results[idx] = sliceOut[j]
		}
	}
	return results, nil
}

func headGraph(trunk, sessionID string) string {
	return trunk + "#" + sessionID
}
