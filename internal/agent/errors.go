package agent

import "errors"

var (
	// ErrResourceExhausted is returned when a spawn would exceed the
	// concurrency ceiling.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrNotFound is returned for unknown agent names.
	ErrNotFound = errors.New("agent not found")
	// ErrStreamFailure wraps runtime failures that put an agent in error.
	ErrStreamFailure = errors.New("stream failure")
	// ErrSpawnVerification is returned when a spawned agent is absent from
	// the pool snapshot.
	ErrSpawnVerification = errors.New("spawn verification failed")
	// ErrDependencyCycle is returned when wait-for entries form a cycle.
	ErrDependencyCycle = errors.New("dependency cycle")
	// ErrBusy is returned when a prompt arrives while a turn is in flight.
	ErrBusy = errors.New("agent is busy")
	// ErrSessionClosed is returned for prompts to complete or failed agents.
	ErrSessionClosed = errors.New("agent session closed")
	// ErrInvalidRequest is returned for malformed spawn requests.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrPoolClosed is returned by Spawn after Close.
	ErrPoolClosed = errors.New("pool is closed")
)
