// Package orchestrator runs the coordinating agent: a FIFO task queue drained
// one turn at a time, and the tool catalog it uses to drive the worker pool
// and the work-item board.
package orchestrator

import (
	"time"

	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/runtime"
)

// AgentName labels orchestrator turns for the runtime and activity logs.
const AgentName = "orchestrator"

// Role is the author of a conversation entry.
type Role string

const (
	RoleUser         Role = "user"
	RoleAssistant    Role = "assistant"
	RoleOrchestrator Role = "orchestrator"
)

// ReportType classifies a report entry.
type ReportType string

const (
	ReportProgress ReportType = "progress"
	ReportComplete ReportType = "complete"
	ReportError    ReportType = "error"
	ReportQuestion ReportType = "question"
)

// ParseReportType validates a report type; empty means progress.
func ParseReportType(s string) (ReportType, bool) {
	switch ReportType(s) {
	case "":
		return ReportProgress, true
	case ReportProgress, ReportComplete, ReportError, ReportQuestion:
		return ReportType(s), true
	}
	return "", false
}

// Message is one entry of the orchestrator conversation. It is never routed.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ReportType ReportType `json:"report_type,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// EventType identifies an orchestrator event.
type EventType string

const (
	EventMessage  EventType = "orchestrator.message"
	EventOutput   EventType = "orchestrator.output"
	EventTask     EventType = "orchestrator.task"
	EventSpawn    EventType = "orchestrator.spawn"
	EventRollback EventType = "orchestrator.rollback"
)

// Event is published on the orchestrator's broker.
type Event struct {
	Type       EventType      `json:"type"`
	Message    *Message       `json:"message,omitempty"`
	Output     *runtime.Event `json:"output,omitempty"`
	Task       *Task          `json:"task,omitempty"`
	QueueDepth int            `json:"queue_depth"`
	Agent      string         `json:"agent,omitempty"`
	WorkItemID string         `json:"work_item_id,omitempty"`
	Success    bool           `json:"success,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// SpawnOutcome is the result of one two-phase spawn.
type SpawnOutcome struct {
	Requested  string      `json:"requested"`
	Agent      *agent.Info `json:"agent,omitempty"`
	WorkItemID string      `json:"work_item_id,omitempty"`
	Err        error       `json:"-"`
	Error      string      `json:"error,omitempty"`
	// Rollback names the compensating action applied, e.g.
	// "rolled back WI-004 to todo".
	Rollback string `json:"rollback,omitempty"`
}

// Orphan is a work item in doing whose assignee is not in the pool.
type Orphan struct {
	WorkItemID string `json:"work_item_id"`
	Title      string `json:"title"`
	Assignee   string `json:"assignee"`
	Fixed      bool   `json:"fixed"`
}
