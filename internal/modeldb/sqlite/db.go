// Package sqlite provides SQLite-based persistent storage for the resident-
// model latency/suffix-head catalog. Uses WAL mode for concurrent reads and
// crash-safe writes.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO required
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/modeldb.db. Enables WAL
// mode, foreign keys, and a 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "modeldb.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error { return d.db.Close() }

// Ping checks database connectivity.
func (d *DB) Ping() error { return d.db.Ping() }

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id       TEXT PRIMARY KEY,
			static_latency_ns INTEGER NOT NULL DEFAULT 0,
			measured_ewma_ns  INTEGER NOT NULL DEFAULT 0,
			sample_count      INTEGER NOT NULL DEFAULT 0,
			updated_at        INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tf_share_heads (
			trunk_name TEXT NOT NULL,
			head_name  TEXT NOT NULL,
			PRIMARY KEY (trunk_name, head_name)
		)`,
		`CREATE TABLE IF NOT EXISTS node_info (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Session latency profiles ───────────────────────────────────────────────

// UpsertStaticLatency records a session's static per-sample latency profile
// (e.g. loaded once from a model card), without touching the measured EWMA.
func (d *DB) UpsertStaticLatency(sessionID string, perSample time.Duration) error {
	_, err := d.db.Exec(
		`INSERT INTO sessions (session_id, static_latency_ns, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			static_latency_ns=excluded.static_latency_ns,
			updated_at=excluded.updated_at`,
		sessionID, perSample.Nanoseconds(), time.Now().Unix(),
	)
	return err
}

// RecordMeasuredLatency folds an observed per-sample latency into the
// persisted EWMA for sessionID so it survives restarts.
func (d *DB) RecordMeasuredLatency(sessionID string, perSample time.Duration) error {
	row := d.db.QueryRow(`SELECT measured_ewma_ns, sample_count FROM sessions WHERE session_id = ?`, sessionID)
	var ewmaNS int64
	var samples int
	err := row.Scan(&ewmaNS, &samples)
	switch {
	case err == sql.ErrNoRows:
		ewmaNS, samples = 0, 0
	case err != nil:
		return err
	}

	next := perSample.Nanoseconds()
	if samples > 0 {
		next = (ewmaNS + next) / 2
	}

	_, err = d.db.Exec(
		`INSERT INTO sessions (session_id, measured_ewma_ns, sample_count, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			measured_ewma_ns=excluded.measured_ewma_ns,
			sample_count=excluded.sample_count,
			updated_at=excluded.updated_at`,
		sessionID, next, samples+1, time.Now().Unix(),
	)
	return err
}

// LatencyProfile returns a session's static latency profile, if recorded.
func (d *DB) LatencyProfile(sessionID string) (time.Duration, bool, error) {
	var ns int64
	err := d.db.QueryRow(`SELECT static_latency_ns FROM sessions WHERE session_id = ?`, sessionID).Scan(&ns)
	if err == sql.ErrNoRows || ns == 0 {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return time.Duration(ns), true, nil
}

// ─── TFShare trunk -> declared suffix heads ─────────────────────────────────

// SetTrunkSuffixHeads replaces the declared suffix-head set for a trunk.
func (d *DB) SetTrunkSuffixHeads(trunkName string, heads []string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM tf_share_heads WHERE trunk_name = ?`, trunkName); err != nil {
		return err
	}
	for _, h := range heads {
		if _, err := tx.Exec(
			`INSERT INTO tf_share_heads (trunk_name, head_name) VALUES (?, ?)`,
			trunkName, h,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// TrunkSuffixHeads returns the suffix-head names declared for trunkName.
func (d *DB) TrunkSuffixHeads(trunkName string) ([]string, bool, error) {
	rows, err := d.db.Query(`SELECT head_name FROM tf_share_heads WHERE trunk_name = ?`, trunkName)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var heads []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, false, err
		}
		heads = append(heads, h)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return heads, len(heads) > 0, nil
}

// ─── Node info ──────────────────────────────────────────────────────────────

// SetNodeInfo stores a key-value pair, e.g. the last assigned node id.
func (d *DB) SetNodeInfo(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO node_info (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// GetNodeInfo retrieves a value from node_info, "" if absent.
func (d *DB) GetNodeInfo(key string) (string, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM node_info WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
