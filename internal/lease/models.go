package lease

import (
	"errors"
	"time"
)

// DefaultTTL is the lifetime of a claim when none is requested.
const DefaultTTL = time.Hour

var (
	// ErrConflict is returned in strict mode when a requested pattern overlaps
	// another agent's claim and either side is exclusive.
	ErrConflict = errors.New("claim conflict")
	// ErrNotFound is returned for unknown claim ids.
	ErrNotFound = errors.New("claim not found")
)

// Claim is a path-pattern reservation held by one agent.
type Claim struct {
	ID        string    `json:"id"`
	AgentName string    `json:"agent_name"`
	Pattern   string    `json:"pattern"`
	Exclusive bool      `json:"exclusive"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the claim has lapsed at now.
func (c Claim) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// EventType identifies a lease event.
type EventType string

const (
	EventAcquired EventType = "claims.acquired"
	EventReleased EventType = "claims.released"
	EventConflict EventType = "claims.conflict"
	EventWaiting  EventType = "claims.waiting"
)

// Event is emitted whenever the claim set changes or a conflict is seen.
type Event struct {
	Type      EventType `json:"type"`
	AgentName string    `json:"agent_name"`
	Claims    []Claim   `json:"claims,omitempty"`
	Conflicts []Claim   `json:"conflicts,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AcquireRequest asks for one claim per pattern.
type AcquireRequest struct {
	AgentName string        `json:"agent_name"`
	Patterns  []string      `json:"patterns"`
	Exclusive bool          `json:"exclusive"`
	Reason    string        `json:"reason,omitempty"`
	TTL       time.Duration `json:"ttl,omitempty"`
	// Wait blocks a strict-mode request until the conflicting claims go away
	// instead of failing with ErrConflict.
	Wait bool `json:"wait,omitempty"`
}

// AcquireResult carries the created claims and, in advisory mode, the
// claims of other agents they overlap.
type AcquireResult struct {
	Claims    []Claim `json:"claims"`
	Conflicts []Claim `json:"conflicts,omitempty"`
}

// Options configures a Manager.
type Options struct {
	DefaultTTL time.Duration
	Strict     bool
	Now        func() time.Time
}
