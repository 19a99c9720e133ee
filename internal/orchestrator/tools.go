package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/mailbox"
	"github.com/mbourmaud/conductor/internal/runtime"
	"github.com/mbourmaud/conductor/internal/workitem"
)

// Tool names.
const (
	ToolSpawnAgent         = "spawn_agent"
	ToolSpawnAgentsForItem = "spawn_agents_for_items"
	ToolDestroyAgent       = "destroy_agent"
	ToolPauseAgent         = "pause_agent"
	ToolResumeAgent        = "resume_agent"
	ToolMessageAgent       = "message_agent"
	ToolSendMail           = "send_mail"
	ToolCheckInbox         = "check_inbox"
	ToolReadMail           = "read_mail"
	ToolGetStatus          = "get_status"
	ToolListAgents         = "list_agents"
	ToolCreateWorkItem     = "create_work_item"
	ToolListWorkItems      = "list_work_items"
	ToolMoveWorkItem       = "move_work_item"
	ToolUpdateWorkItem     = "update_work_item"
	ToolCheckConsistency   = "check_consistency"
	ToolReport             = "report"
)

var statusNames = func() []string {
	out := make([]string, len(workitem.Statuses))
	for i, s := range workitem.Statuses {
		out[i] = string(s)
	}
	return out
}()

// Tools returns the orchestrator tool catalog.
func Tools() []runtime.ToolSpec {
	str := func(desc string) runtime.Param { return runtime.Param{Type: "string", Description: desc} }
	strs := func(desc string) runtime.Param {
		return runtime.Param{Type: "array", Description: desc, Items: &runtime.Param{Type: "string"}}
	}
	name := map[string]runtime.Param{"name": str("Agent name")}

	return []runtime.ToolSpec{
		{
			Name:        ToolSpawnAgent,
			Description: "Spawn a worker agent. With work_item_id the item is assigned and moved to doing, and rolled back to todo if the spawn fails.",
			Parameters: map[string]runtime.Param{
				"name":              str("Agent name; made unique if taken"),
				"role":              str("Role, e.g. backend, frontend, reviewer"),
				"focus":             str("The assignment, sent as the first prompt"),
				"system_prompt":     str("Extra instructions"),
				"wait_for":          strs("Agents that must be complete before this one starts"),
				"working_directory": str("Directory the agent works in"),
				"work_item_id":      str("Work item to assign, e.g. WI-004"),
			},
			Required: []string{"role", "focus"},
		},
		{
			Name:        ToolSpawnAgentsForItem,
			Description: "Spawn one agent per work item, concurrently. The batch is capped to the free pool capacity; the rest is skipped.",
			Parameters: map[string]runtime.Param{
				"items": {
					Type:        "array",
					Description: "Items to staff",
					Items: &runtime.Param{Type: "object", Properties: map[string]runtime.Param{
						"work_item_id": str("Work item id"),
						"name":         str("Agent name"),
						"role":         str("Role"),
						"focus":        str("Assignment; defaults to the item title and description"),
						"wait_for":     strs("Agents that must be complete first"),
					}},
				},
			},
			Required: []string{"items"},
		},
		{Name: ToolDestroyAgent, Description: "Stop an agent, release its file claims and remove it.", Parameters: name, Required: []string{"name"}},
		{Name: ToolPauseAgent, Description: "Pause an agent, cancelling its current turn.", Parameters: name, Required: []string{"name"}},
		{Name: ToolResumeAgent, Description: "Resume a paused agent.", Parameters: name, Required: []string{"name"}},
		{
			Name:        ToolMessageAgent,
			Description: "Send a direct prompt to an agent. If it is busy the text is delivered when its turn ends.",
			Parameters:  map[string]runtime.Param{"name": str("Agent name"), "text": str("Prompt text")},
			Required:    []string{"name", "text"},
		},
		{
			Name:        ToolSendMail,
			Description: "Send mail to an agent. The agent is notified and reads it on its own.",
			Parameters:  map[string]runtime.Param{"to": str("Recipient"), "subject": str("Subject"), "body": str("Body")},
			Required:    []string{"to", "subject", "body"},
		},
		{
			Name:        ToolCheckInbox,
			Description: "List your mail (headers only).",
			Parameters: map[string]runtime.Param{
				"include_archived": {Type: "boolean", Description: "Include archived messages"},
				"unread_only":      {Type: "boolean", Description: "Only unread messages"},
			},
		},
		{
			Name:        ToolReadMail,
			Description: "Read a message and mark it read.",
			Parameters:  map[string]runtime.Param{"id": str("Message id")},
			Required:    []string{"id"},
		},
		{Name: ToolGetStatus, Description: "Pool status: agents, pending agents, cost, claims, unread mail."},
		{Name: ToolListAgents, Description: "List agents with their status and focus."},
		{
			Name:        ToolCreateWorkItem,
			Description: "Create a work item in todo.",
			Parameters: map[string]runtime.Param{
				"title":       str("Title"),
				"description": str("Description"),
				"labels":      strs("Labels"),
			},
			Required: []string{"title"},
		},
		{
			Name:        ToolListWorkItems,
			Description: "List work items, optionally filtered by status.",
			Parameters: map[string]runtime.Param{
				"status": {Type: "string", Description: "Status filter", Enum: statusNames},
			},
		},
		{
			Name:        ToolMoveWorkItem,
			Description: "Move a work item to another status.",
			Parameters: map[string]runtime.Param{
				"id":     str("Work item id"),
				"status": {Type: "string", Description: "New status", Enum: statusNames},
			},
			Required: []string{"id", "status"},
		},
		{
			Name:        ToolUpdateWorkItem,
			Description: "Update fields of a work item. Omitted fields are kept.",
			Parameters: map[string]runtime.Param{
				"id":          str("Work item id"),
				"title":       str("Title"),
				"description": str("Description"),
				"assignee":    str("Assignee; empty string clears it"),
			},
			Required: []string{"id"},
		},
		{
			Name:        ToolCheckConsistency,
			Description: "Find work items in doing whose assignee is not in the pool. With autofix they go back to todo.",
			Parameters: map[string]runtime.Param{
				"autofix": {Type: "boolean", Description: "Move orphans back to todo"},
			},
		},
		{
			Name:        ToolReport,
			Description: "Record a report for the user.",
			Parameters: map[string]runtime.Param{
				"type":    {Type: "string", Description: "Report type", Enum: []string{"progress", "complete", "error", "question"}},
				"message": str("Report text"),
			},
			Required: []string{"message"},
		},
	}
}

// HandleToolCall runs an orchestrator tool. It satisfies runtime.ToolHandler.
func (o *Orchestrator) HandleToolCall(ctx context.Context, call runtime.ToolInvocation) (string, error) {
	return o.Execute(ctx, call.Name, call.Arguments)
}

// Execute runs a tool by name.
func (o *Orchestrator) Execute(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	arg := func(key string) string { return strings.TrimSpace(runtime.StringArg(args, key)) }

	switch tool {
	case ToolSpawnAgent:
		return o.toolSpawnAgent(ctx, args)
	case ToolSpawnAgentsForItem:
		return o.toolSpawnBatch(ctx, args)
	case ToolDestroyAgent:
		if err := o.pool.Destroy(ctx, arg("name")); err != nil {
			return "", err
		}
		return fmt.Sprintf("Destroyed %s.", arg("name")), nil
	case ToolPauseAgent:
		if err := o.pool.Pause(arg("name")); err != nil {
			return "", err
		}
		return fmt.Sprintf("Paused %s.", arg("name")), nil
	case ToolResumeAgent:
		if err := o.pool.Resume(arg("name")); err != nil {
			return "", err
		}
		return fmt.Sprintf("Resumed %s.", arg("name")), nil
	case ToolMessageAgent:
		return o.toolMessageAgent(arg("name"), runtime.StringArg(args, "text"))
	case ToolSendMail:
		msg, err := o.pool.SendMail(ctx, mailbox.SendRequest{
			From:    mailbox.Orchestrator,
			To:      arg("to"),
			Subject: runtime.StringArg(args, "subject"),
			Body:    runtime.StringArg(args, "body"),
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Sent message %s to %s.", msg.ID, msg.To), nil
	case ToolCheckInbox:
		msgs, err := o.pool.Mail().Inbox(ctx, mailbox.Orchestrator, mailbox.Filter{
			IncludeArchived: runtime.BoolArg(args, "include_archived"),
			UnreadOnly:      runtime.BoolArg(args, "unread_only"),
		})
		if err != nil {
			return "", err
		}
		return agent.FormatInbox(msgs), nil
	case ToolReadMail:
		return o.toolReadMail(ctx, arg("id"))
	case ToolGetStatus:
		return FormatStatus(o.pool.Status()), nil
	case ToolListAgents:
		return FormatAgents(o.pool.Status()), nil
	case ToolCreateWorkItem:
		it, err := o.items.Create(ctx, workitem.CreateRequest{
			Title:       arg("title"),
			Description: runtime.StringArg(args, "description"),
			Labels:      runtime.StringsArg(args, "labels"),
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Created %s: %s", it.ID, it.Title), nil
	case ToolListWorkItems:
		return o.toolListItems(ctx, arg("status"))
	case ToolMoveWorkItem:
		st, err := workitem.ParseStatus(arg("status"))
		if err != nil {
			return "", err
		}
		it, err := o.items.Move(ctx, arg("id"), st)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Moved %s to %s.", it.ID, it.Status), nil
	case ToolUpdateWorkItem:
		return o.toolUpdateItem(ctx, args)
	case ToolCheckConsistency:
		return o.toolCheckConsistency(ctx, runtime.BoolArg(args, "autofix"))
	case ToolReport:
		typ, ok := ParseReportType(arg("type"))
		if !ok {
			return "", fmt.Errorf("unknown report type %q", arg("type"))
		}
		text := runtime.StringArg(args, "message")
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("message is required")
		}
		o.Report(typ, text)
		return "Reported.", nil
	default:
		return "", fmt.Errorf("unknown tool %q", tool)
	}
}

func (o *Orchestrator) toolSpawnAgent(ctx context.Context, args map[string]interface{}) (string, error) {
	out := o.Spawn(ctx, agent.SpawnRequest{
		Name:             strings.TrimSpace(runtime.StringArg(args, "name")),
		Role:             runtime.StringArg(args, "role"),
		Focus:            runtime.StringArg(args, "focus"),
		SystemPrompt:     runtime.StringArg(args, "system_prompt"),
		WaitFor:          runtime.StringsArg(args, "wait_for"),
		WorkingDirectory: runtime.StringArg(args, "working_directory"),
		WorkItemID:       strings.TrimSpace(runtime.StringArg(args, "work_item_id")),
	})
	if out.Err != nil {
		return "", errors.New(FormatOutcome(out))
	}
	return FormatOutcome(out), nil
}

func (o *Orchestrator) toolSpawnBatch(ctx context.Context, args map[string]interface{}) (string, error) {
	raw := runtime.ObjectsArg(args, "items")
	if len(raw) == 0 {
		return "", fmt.Errorf("items is required")
	}
	items := make([]BatchItem, 0, len(raw))
	for _, m := range raw {
		items = append(items, BatchItem{
			WorkItemID: strings.TrimSpace(runtime.StringArg(m, "work_item_id")),
			Name:       strings.TrimSpace(runtime.StringArg(m, "name")),
			Role:       runtime.StringArg(m, "role"),
			Focus:      runtime.StringArg(m, "focus"),
			WaitFor:    runtime.StringsArg(m, "wait_for"),
		})
	}
	return FormatBatch(o.SpawnForItems(ctx, items)), nil
}

func (o *Orchestrator) toolMessageAgent(name, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("text is required")
	}
	before, err := o.pool.Get(name)
	if err != nil {
		return "", err
	}
	err = o.pool.SubmitPrompt(name, text)
	if errors.Is(err, agent.ErrBusy) {
		if err := o.pool.Notify(name, "Message from orchestrator: "+text); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s is busy; the message is delivered when its turn ends.", name), nil
	}
	if err != nil {
		return "", err
	}
	// A paused agent holds a single buffered prompt.
	if before.Status == agent.StatusPaused {
		if before.PendingPrompt != "" {
			return fmt.Sprintf("%s is paused; this message replaced the one already buffered and is delivered on resume.", name), nil
		}
		return fmt.Sprintf("%s is paused; the message is buffered until resume and a later message would replace it.", name), nil
	}
	return fmt.Sprintf("Sent to %s.", name), nil
}

func (o *Orchestrator) toolReadMail(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("id is required")
	}
	mail := o.pool.Mail()
	msg, err := mail.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if msg.To != mailbox.Orchestrator && msg.From != mailbox.Orchestrator {
		return "", fmt.Errorf("%w: %s", mailbox.ErrNotFound, id)
	}
	if msg.To == mailbox.Orchestrator && !msg.Read {
		if msg, err = mail.Read(ctx, id); err != nil {
			return "", err
		}
	}
	return agent.FormatMessage(msg), nil
}

func (o *Orchestrator) toolListItems(ctx context.Context, status string) (string, error) {
	var st workitem.Status
	if status != "" {
		var err error
		if st, err = workitem.ParseStatus(status); err != nil {
			return "", err
		}
	}
	items, err := o.items.List(ctx, st)
	if err != nil {
		return "", err
	}
	return FormatItems(items), nil
}

func (o *Orchestrator) toolUpdateItem(ctx context.Context, args map[string]interface{}) (string, error) {
	id := strings.TrimSpace(runtime.StringArg(args, "id"))
	var patch workitem.Patch
	if _, ok := args["title"]; ok {
		v := runtime.StringArg(args, "title")
		patch.Title = &v
	}
	if _, ok := args["description"]; ok {
		v := runtime.StringArg(args, "description")
		patch.Description = &v
	}
	if _, ok := args["assignee"]; ok {
		v := strings.TrimSpace(runtime.StringArg(args, "assignee"))
		patch.Assignee = &v
	}
	it, err := o.items.Update(ctx, id, patch)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Updated %s.", it.ID), nil
}

func (o *Orchestrator) toolCheckConsistency(ctx context.Context, autofix bool) (string, error) {
	orphans, err := o.CheckConsistency(ctx, autofix)
	if err != nil {
		return "", err
	}
	if len(orphans) == 0 {
		return "Board and pool are consistent.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d orphaned work item(s) in doing:", len(orphans))
	for _, orphan := range orphans {
		assignee := orphan.Assignee
		if assignee == "" {
			assignee = "nobody"
		}
		fmt.Fprintf(&b, "\n- %s %q assigned to %s", orphan.WorkItemID, orphan.Title, assignee)
		if orphan.Fixed {
			fmt.Fprintf(&b, " (rolled back %s to todo)", orphan.WorkItemID)
		}
	}
	if !autofix {
		b.WriteString("\nRun check_consistency with autofix to move them back to todo.")
	}
	return b.String(), nil
}

// FormatOutcome renders one spawn result.
func FormatOutcome(out SpawnOutcome) string {
	if out.Err != nil {
		name := out.Requested
		if name == "" {
			name = "agent"
		}
		s := fmt.Sprintf("spawn of %s failed: %v", name, out.Err)
		if out.Rollback != "" {
			s += "; " + out.Rollback
		}
		return s
	}

	info := out.Agent
	var s string
	if info.Status == agent.StatusWaiting {
		s = fmt.Sprintf("Queued %s; it starts once %s complete.", info.Name, strings.Join(info.WaitFor, ", "))
	} else {
		s = fmt.Sprintf("Spawned %s (%s).", info.Name, info.Status)
	}
	if out.WorkItemID != "" {
		s += fmt.Sprintf(" %s is now in doing, assigned to %s.", out.WorkItemID, info.Name)
	}
	return s
}

// FormatBatch renders a batch spawn result.
func FormatBatch(res BatchResult) string {
	var b strings.Builder
	ok := 0
	for _, out := range res.Outcomes {
		if out.Err == nil {
			ok++
		}
	}
	fmt.Fprintf(&b, "%d of %d spawned.", ok, len(res.Outcomes))
	for _, out := range res.Outcomes {
		b.WriteString("\n- ")
		if out.WorkItemID != "" {
			b.WriteString(out.WorkItemID + ": ")
		}
		b.WriteString(FormatOutcome(out))
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintf(&b, "\nSkipped (pool at capacity): %s", strings.Join(res.Skipped, ", "))
	}
	if len(res.Rollbacks) > 0 {
		fmt.Fprintf(&b, "\nRollbacks: %s", strings.Join(res.Rollbacks, "; "))
	}
	return b.String()
}

// FormatStatus renders a pool snapshot.
func FormatStatus(st agent.PoolStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agents: %d/%d live", len(st.Agents), st.MaxConcurrent)
	if len(st.Pending) > 0 {
		fmt.Fprintf(&b, ", %d waiting (%s)", len(st.Pending), strings.Join(st.Pending, ", "))
	}
	fmt.Fprintf(&b, "\nTotal cost: $%.4f", st.TotalCostUSD)
	fmt.Fprintf(&b, "\nUnread mail: %d", st.UnreadMail)
	fmt.Fprintf(&b, "\nActive claims: %d", len(st.Leases))
	if len(st.Agents) > 0 {
		b.WriteString("\n")
		b.WriteString(FormatAgents(st))
	}
	return b.String()
}

// FormatAgents renders one line per agent.
func FormatAgents(st agent.PoolStatus) string {
	if len(st.Agents) == 0 && len(st.Pending) == 0 {
		return "No agents."
	}
	lines := make([]string, 0, len(st.Agents)+len(st.Pending))
	for _, a := range st.Agents {
		line := fmt.Sprintf("- %s [%s] %s", a.Name, a.Status, firstLine(a.Focus))
		if a.WorkItemID != "" {
			line += " (" + a.WorkItemID + ")"
		}
		lines = append(lines, line)
	}
	pending := append([]string(nil), st.Pending...)
	sort.Strings(pending)
	for _, name := range pending {
		lines = append(lines, fmt.Sprintf("- %s [waiting]", name))
	}
	return strings.Join(lines, "\n")
}

// FormatItems renders one line per work item.
func FormatItems(items []*workitem.Item) string {
	if len(items) == 0 {
		return "No work items."
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		line := fmt.Sprintf("- %s [%s] %s", it.ID, it.Status, it.Title)
		if it.Assignee != "" {
			line += " @" + it.Assignee
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
