package hub

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/orchestrator"
)

// handleHealth handles GET /health
func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := h.pool.Status()
	h.jsonResponse(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		AgentsLive:    len(st.Agents),
		AgentsPending: len(st.Pending),
		QueueDepth:    h.orch.QueueDepth(),
		Uptime:        time.Since(h.started).Round(time.Second).String(),
	})
}

// handleStatus handles GET /status
func (h *Hub) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, h.status())
}

func (h *Hub) status() StatusResponse {
	st := h.pool.Status()
	orchCost := h.orch.CostUSD()
	return StatusResponse{
		Pool:         st,
		QueueDepth:   h.orch.QueueDepth(),
		Draining:     h.orch.Draining(),
		SessionID:    h.orch.SessionID(),
		OrchCostUSD:  orchCost,
		TotalCostUSD: st.TotalCostUSD + orchCost,
	}
}

// handleMetrics handles GET /metrics
func (h *Hub) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		h.jsonError(w, http.StatusNotFound, "metrics are disabled")
		return
	}
	h.metrics.ObservePool(h.pool.Status())
	w.Header().Del("Content-Type")
	h.metrics.Handler().ServeHTTP(w, r)
}

// handleSubmitTask handles POST /tasks
func (h *Hub) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		h.jsonError(w, http.StatusBadRequest, "text is required")
		return
	}

	task, err := h.orch.SubmitTask(req.Text)
	if err != nil {
		h.jsonError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	h.jsonResponse(w, http.StatusAccepted, task)
}

// handleListTasks handles GET /tasks
func (h *Hub) handleListTasks(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, h.orch.Tasks())
}

// handleConversation handles GET /conversation
func (h *Hub) handleConversation(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, http.StatusOK, h.orch.Messages())
}

// handleConsistency handles POST /consistency?autofix=true
func (h *Hub) handleConsistency(w http.ResponseWriter, r *http.Request) {
	autofix := r.URL.Query().Get("autofix") == "true"
	orphans, err := h.orch.CheckConsistency(r.Context(), autofix)
	if err != nil {
		h.fail(w, err)
		return
	}
	if orphans == nil {
		orphans = []orchestrator.Orphan{}
	}
	h.jsonResponse(w, http.StatusOK, ConsistencyResponse{Orphans: orphans})
}

// handleListAgents handles GET /agents
func (h *Hub) handleListAgents(w http.ResponseWriter, r *http.Request) {
	names := h.pool.Names()
	agents := make([]agent.Info, 0, len(names))
	for _, name := range names {
		if info, err := h.pool.Get(name); err == nil {
			agents = append(agents, info)
		}
	}
	h.jsonResponse(w, http.StatusOK, agents)
}

// handleSpawnAgent handles POST /agents. Spawns go through the orchestrator
// so work-item assignment is rolled back on failure.
func (h *Hub) handleSpawnAgent(w http.ResponseWriter, r *http.Request) {
	var req agent.SpawnRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	out := h.orch.Spawn(r.Context(), req)
	if out.Err != nil {
		h.jsonResponse(w, StatusFor(out.Err), ErrorResponse{Error: out.Error, Rollback: out.Rollback})
		return
	}
	h.jsonResponse(w, http.StatusCreated, out.Agent)
}

// handleGetAgent handles GET /agents/{name}
func (h *Hub) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	info, err := h.pool.Get(r.PathValue("name"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, info)
}

// handleDestroyAgent handles DELETE /agents/{name}
func (h *Hub) handleDestroyAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.pool.Destroy(r.Context(), name); err != nil {
		h.fail(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, map[string]string{"status": "destroyed", "name": name})
}

// handleAgentMessages handles GET /agents/{name}/messages
func (h *Hub) handleAgentMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.pool.Messages(r.PathValue("name"))
	if err != nil {
		h.fail(w, err)
		return
	}
	if msgs == nil {
		msgs = []agent.Message{}
	}
	h.jsonResponse(w, http.StatusOK, msgs)
}

// handlePromptAgent handles POST /agents/{name}/prompt
func (h *Hub) handlePromptAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req PromptRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		h.jsonError(w, http.StatusBadRequest, "text is required")
		return
	}

	err := h.pool.SubmitPrompt(name, req.Text)
	if errors.Is(err, agent.ErrBusy) && req.Notify {
		err = h.pool.Notify(name, "Message from user: "+req.Text)
		if err == nil {
			h.jsonResponse(w, http.StatusAccepted, map[string]string{"status": "queued", "name": name})
			return
		}
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	h.jsonResponse(w, http.StatusAccepted, map[string]string{"status": "sent", "name": name})
}

// handlePauseAgent handles POST /agents/{name}/pause
func (h *Hub) handlePauseAgent(w http.ResponseWriter, r *http.Request) {
	h.agentAction(w, r, "paused", h.pool.Pause)
}

// handleResumeAgent handles POST /agents/{name}/resume
func (h *Hub) handleResumeAgent(w http.ResponseWriter, r *http.Request) {
	h.agentAction(w, r, "resumed", h.pool.Resume)
}

// handleCompleteAgent handles POST /agents/{name}/complete
func (h *Hub) handleCompleteAgent(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	h.agentAction(w, r, "complete", func(name string) error {
		return h.pool.Complete(name, req.Summary)
	})
}

func (h *Hub) agentAction(w http.ResponseWriter, r *http.Request, done string, action func(string) error) {
	name := r.PathValue("name")
	if err := action(name); err != nil {
		h.fail(w, err)
		return
	}
	info, err := h.pool.Get(name)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.log.Debug("agent %s %s", name, done)
	h.jsonResponse(w, http.StatusOK, info)
}

// handleListTools handles GET /tools
func (h *Hub) handleListTools(w http.ResponseWriter, r *http.Request) {
	specs := orchestrator.Tools()
	tools := make([]ToolInfo, len(specs))
	for i, spec := range specs {
		tools[i] = ToolInfo{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.JSONSchema(),
		}
	}
	h.jsonResponse(w, http.StatusOK, tools)
}

// handleCallTool handles POST /tools/{name}
func (h *Hub) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	known := false
	for _, spec := range orchestrator.Tools() {
		if spec.Name == name {
			known = true
			break
		}
	}
	if !known {
		h.jsonError(w, http.StatusNotFound, fmt.Sprintf("unknown tool %q", name))
		return
	}

	var req ToolCallRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	out, err := h.orch.Execute(r.Context(), name, req.Arguments)
	if err != nil {
		h.jsonResponse(w, http.StatusOK, ToolCallResponse{Output: err.Error(), IsError: true})
		return
	}
	h.jsonResponse(w, http.StatusOK, ToolCallResponse{Output: out})
}
