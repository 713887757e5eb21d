package domain

import "errors"

// Sentinel errors are pure — no infrastructure dependency.

var (
	// Reconciliation errors
	ErrSessionNotDeclared = errors.New("tf_share suffix session not declared by trunk")
	ErrTrunkNotFound      = errors.New("tf_share trunk model-database entry not found")
	ErrConfigInvalid      = errors.New("model instance config invalid")

	// Request-path errors
	ErrModelSessionNotLoaded = errors.New("model session not loaded")
	ErrTaskTimeout           = errors.New("task deadline exceeded before dispatch")
	ErrForward               = errors.New("model forward pass failed")
	ErrRelayFailed           = errors.New("relay reply missing or timed out")

	// Backup pool errors
	ErrNoBackupAvailable = errors.New("no backup backend available")
	ErrBackupStale       = errors.New("backup occupancy report is stale")

	// Scheduler RPC errors
	ErrNodeIDConflict      = errors.New("backend node id conflict")
	ErrSchedulerUnreachable = errors.New("scheduler unreachable")

	// Circuit breaker
	ErrCircuitOpen = errors.New("circuit breaker is open")
)
