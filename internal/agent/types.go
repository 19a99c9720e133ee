// Package agent runs worker agents: the per-agent session state machine and
// the pool that schedules them under a concurrency ceiling and a dependency
// wait queue.
package agent

import (
	"time"

	"github.com/mbourmaud/conductor/internal/lease"
	"github.com/mbourmaud/conductor/internal/runtime"
)

// Status represents the current state of an agent.
type Status string

const (
	// StatusInitializing means the session exists but has not started.
	StatusInitializing Status = "initializing"
	// StatusWaiting means the agent is queued behind unmet dependencies.
	StatusWaiting Status = "waiting"
	// StatusIdle means the agent is ready for a prompt.
	StatusIdle Status = "idle"
	// StatusProcessing means a runtime stream is in flight.
	StatusProcessing Status = "processing"
	// StatusPaused means the agent was paused; prompts are buffered.
	StatusPaused Status = "paused"
	// StatusComplete means the agent was told its work is done.
	StatusComplete Status = "complete"
	// StatusError means the runtime stream failed.
	StatusError Status = "error"
)

// Terminal reports whether no further prompts are accepted.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Reachable reports whether mail notifications are delivered in this state.
func (s Status) Reachable() bool {
	return s != StatusWaiting && !s.Terminal()
}

// Message roles in an agent's log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Message represents one entry of an agent's log.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ToolName  string    `json:"tool_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SpawnRequest is a spawn intent. The pool may rewrite Name for uniqueness.
type SpawnRequest struct {
	Name             string   `json:"name"`
	Role             string   `json:"role"`
	Focus            string   `json:"focus"`
	SystemPrompt     string   `json:"system_prompt,omitempty"`
	WaitFor          []string `json:"wait_for,omitempty"`
	WorkingDirectory string   `json:"working_directory,omitempty"`
	WorkItemID       string   `json:"work_item_id,omitempty"`
}

// Info is a point-in-time snapshot of an agent.
type Info struct {
	Name             string    `json:"name"`
	Role             string    `json:"role"`
	Focus            string    `json:"focus"`
	Status           Status    `json:"status"`
	SessionID        string    `json:"session_id,omitempty"`
	CostUSD          float64   `json:"cost_usd"`
	WaitFor          []string  `json:"wait_for,omitempty"`
	WorkItemID       string    `json:"work_item_id,omitempty"`
	WorkingDirectory string    `json:"working_directory,omitempty"`
	PendingPrompt    string    `json:"pending_prompt,omitempty"`
	Error            string    `json:"error,omitempty"`
	MessageCount     int       `json:"message_count"`
	CreatedAt        time.Time `json:"created_at"`
}

// PoolStatus is the pool-wide snapshot.
type PoolStatus struct {
	Agents        []Info        `json:"agents"`
	Pending       []string      `json:"pending"`
	TotalCostUSD  float64       `json:"total_cost_usd"`
	MaxConcurrent int           `json:"max_concurrent"`
	Leases        []lease.Claim `json:"leases"`
	UnreadMail    int           `json:"unread_mail"`
}

// Has reports whether name is live or pending.
func (s PoolStatus) Has(name string) bool {
	for _, a := range s.Agents {
		if a.Name == name {
			return true
		}
	}
	for _, p := range s.Pending {
		if p == name {
			return true
		}
	}
	return false
}

// EventType identifies a pool event.
type EventType string

const (
	EventSpawned   EventType = "agent.spawned"
	EventWaiting   EventType = "agent.waiting"
	EventStatus    EventType = "agent.status"
	EventOutput    EventType = "agent.output"
	EventDestroyed EventType = "agent.destroyed"
	EventError     EventType = "agent.error"
	EventClaims    EventType = "claims.updated"
	EventPool      EventType = "pool.status"
)

// Event is published on the pool's event broker.
type Event struct {
	Type      EventType      `json:"type"`
	Agent     string         `json:"agent,omitempty"`
	Status    Status         `json:"status,omitempty"`
	Previous  Status         `json:"previous,omitempty"`
	Output    *runtime.Event `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Claims    []lease.Claim  `json:"claims,omitempty"`
	Pool      *PoolStatus    `json:"pool,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
