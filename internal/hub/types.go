package hub

import (
	"time"

	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/orchestrator"
)

// Event is one server-sent event. Type carries the domain event name, e.g.
// "agent.status" or "orchestrator.task".
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventConnected is the first event of every stream.
const EventConnected = "connected"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error    string `json:"error"`
	Rollback string `json:"rollback,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	AgentsLive    int    `json:"agents_live"`
	AgentsPending int    `json:"agents_pending"`
	QueueDepth    int    `json:"queue_depth"`
	Uptime        string `json:"uptime"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Pool         agent.PoolStatus `json:"pool"`
	QueueDepth   int              `json:"queue_depth"`
	Draining     bool             `json:"draining"`
	SessionID    string           `json:"session_id,omitempty"`
	OrchCostUSD  float64          `json:"orchestrator_cost_usd"`
	TotalCostUSD float64          `json:"total_cost_usd"`
}

// TaskRequest submits work to the orchestrator.
type TaskRequest struct {
	Text string `json:"text"`
}

// PromptRequest sends a direct prompt to a worker.
type PromptRequest struct {
	Text string `json:"text"`
	// Notify delivers the text as a system notification when the worker is
	// busy instead of failing.
	Notify bool `json:"notify,omitempty"`
}

// CompleteRequest marks a worker complete.
type CompleteRequest struct {
	Summary string `json:"summary"`
}

// MoveRequest moves a work item.
type MoveRequest struct {
	Status string `json:"status"`
}

// ToolInfo describes one orchestrator tool.
type ToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolCallRequest invokes an orchestrator tool.
type ToolCallRequest struct {
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolCallResponse carries a tool result. Tool failures are results, not
// HTTP errors.
type ToolCallResponse struct {
	Output  string `json:"output"`
	IsError bool   `json:"is_error,omitempty"`
}

// ConsistencyResponse is returned by POST /consistency.
type ConsistencyResponse struct {
	Orphans []orchestrator.Orphan `json:"orphans"`
}
