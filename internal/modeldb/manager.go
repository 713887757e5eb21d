// Package modeldb persists the resident-model catalog: per-session static
// and measured latency profiles, and the declared suffix-head set for each
// TFShare trunk. Repurposed from the teacher's downloadable-model registry
// (content-addressed blobs + HuggingFace pull) down to just the metadata
// shape this serving backend needs; dynamic model download is a spec
// Non-goal.
package modeldb

import (
	"time"

	"github.com/tutu-network/tutu/internal/modeldb/sqlite"
)

// Manager implements domain.ModelDatabase over a sqlite-backed store.
type Manager struct {
	db *sqlite.DB
}

// NewManager wraps an already-open sqlite.DB.
func NewManager(db *sqlite.DB) *Manager {
	return &Manager{db: db}
}

// TrunkSuffixHeads returns the suffix-head session names declared for a
// tf_share trunk.
func (m *Manager) TrunkSuffixHeads(trunkName string) ([]string, bool) {
	heads, ok, err := m.db.TrunkSuffixHeads(trunkName)
	if err != nil {
		return nil, false
	}
	return heads, ok
}

// DeclareTrunk registers (or replaces) the suffix heads a tf_share trunk
// exposes — called once per trunk at catalog load time, outside the hot
// reconciliation path.
func (m *Manager) DeclareTrunk(trunkName string, heads []string) error {
	return m.db.SetTrunkSuffixHeads(trunkName, heads)
}

// SetStaticLatencyProfile records a session's static per-sample forward
// latency, used until a measured EWMA is available.
func (m *Manager) SetStaticLatencyProfile(sessionID string, perSample time.Duration) error {
	return m.db.UpsertStaticLatency(sessionID, perSample)
}

// LatencyProfile returns the static per-sample forward latency recorded for
// a session.
func (m *Manager) LatencyProfile(sessionID string) (time.Duration, bool) {
	d, ok, err := m.db.LatencyProfile(sessionID)
	if err != nil {
		return 0, false
	}
	return d, ok
}

// RecordLatency persists an updated measured-latency EWMA sample for a
// session so it survives restarts.
func (m *Manager) RecordLatency(sessionID string, perSample time.Duration) error {
	return m.db.RecordMeasuredLatency(sessionID, perSample)
}
