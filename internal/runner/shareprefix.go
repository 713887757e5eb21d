package runner

import (
	"sync"

	"github.com/tutu-network/tutu/internal/domain"
)

// SharePrefixModel is N sessions sharing the first K layers of a network.
// Adding or removing a session never invalidates the prefix weights or the
// queues of the other bound sessions.
type SharePrefixModel struct {
	baseRunner
	backend    Backend
	prefix     string // shared-prefix graph id
	mu         sync.RWMutex
	sessions   map[string]string // session id -> per-session suffix graph id
	suffixName func(sessionID string) string
}

// NewSharePrefix creates an empty SharePrefix runner for the given prefix
// graph. suffixName derives a per-session suffix graph id; nil uses the
// session id itself (one suffix graph registered per session in Backend).
func NewSharePrefix(backend Backend, prefixGraph string, batch int, suffixName func(string) string) *SharePrefixModel {
	if suffixName == nil {
		suffixName = func(s string) string { return s }
	}
	m := &SharePrefixModel{
		backend:    backend,
		prefix:     prefixGraph,
		sessions:   make(map[string]string),
		suffixName: suffixName,
	}
	m.batch = batch
	return m
}

func (m *SharePrefixModel) Kind() Kind { return SharePrefix }

func (m *SharePrefixModel) Preprocess(t *domain.Task) ([]byte, error) { return defaultPreprocess(t) }

func (m *SharePrefixModel) Postprocess(t *domain.Task, output []byte) error {
	return defaultPostprocess(t, output)
}

func (m *SharePrefixModel) HasModelSession(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[sessionID]
	return ok
}

func (m *SharePrefixModel) AddModelSession(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; ok {
		return false
	}
	m.sessions[sessionID] = m.suffixName(sessionID)
	return true
}

func (m *SharePrefixModel) RemoveModelSession(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return false
	}
	delete(m.sessions, sessionID)
	return true
}

func (m *SharePrefixModel) NumModelSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Forward runs the shared prefix once over the whole batch, then each
// session's suffix on its corresponding slice. If the batch holds items from
// a single session only, it falls back to a single full forward through that
// session's suffix graph directly (an optimization, not required for
// correctness).
func (m *SharePrefixModel) Forward(items []BatchItem) ([][]byte, error) {
	if len(items) == 0 {
		return nil, nil
	}

	if onlySession(items) != "" {
		sid := items[0].SessionID
		suffix := m.suffixGraph(sid)
		inputs := make([][]byte, len(items))
		for i, it := range items {
			inputs[i] = it.Data
		}
		out, err := m.backend.Forward(suffix, inputs)
		if err != nil {
			return nil, fwdErr(suffix, err)
		}
		return out, nil
	}

	inputs := make([][]byte, len(items))
	for i, it := range items {
		inputs[i] = it.Data
	}
	trunkOut, err := m.backend.Forward(m.prefix, inputs)
	if err != nil {
		return nil, fwdErr(m.prefix, err)
	}

	results := make([][]byte, len(items))
	groups := groupBySession(items)
	for sid, idxs := range groups {
		suffix := m.suffixGraph(sid)
		sliceIn := make([][]byte, len(idxs))
		for j, idx := range idxs {
			sliceIn[j] = trunkOut[idx]
		}
		sliceOut, err := m.backend.Forward(suffix, sliceIn)
		if err != nil {
			return nil, fwdErr(suffix, err)
		}
		for j, idx := range idxs {
			results[idx] = sliceOut[j]
		}
	}
	return results, nil
}

func (m *SharePrefixModel) suffixGraph(sessionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if g, ok := m.sessions[sessionID]; ok {
		return g
	}
	return m.suffixName(sessionID)
}

func onlySession(items []BatchItem) string {
	sid := items[0].SessionID
	for _, it := range items[1:] {
		if it.SessionID != sid {
			return ""
		}
	}
	return sid
}

func groupBySession(items []BatchItem) map[string][]int {
	groups := make(map[string][]int)
	for i, it := range items {
		groups[it.SessionID] = append(groups[it.SessionID], i)
	}
	return groups
}
