package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/workitem"
)

// Spawn starts a worker and keeps the board consistent with the pool.
//
// With a work item the item is first assigned and moved to doing. If the
// spawn fails, or the new agent is missing from the pool snapshot right
// after, the item is moved back to todo with its assignee cleared.
func (o *Orchestrator) Spawn(ctx context.Context, req agent.SpawnRequest) SpawnOutcome {
	out := SpawnOutcome{Requested: req.Name, WorkItemID: req.WorkItemID}

	if req.WorkItemID != "" {
		mutated, err := o.assignItem(ctx, req.WorkItemID, req.Name)
		if err != nil {
			if mutated {
				out.Rollback, _ = o.rollback(ctx, req.WorkItemID)
			}
			return o.spawnFailed(out, err)
		}
	}

	info, err := o.pool.Spawn(ctx, req)
	if err == nil && !o.status().Has(info.Name) {
		err = fmt.Errorf("%w: %s is not in the pool", agent.ErrSpawnVerification, info.Name)
	}
	if err != nil {
		if req.WorkItemID != "" {
			out.Rollback, _ = o.rollback(ctx, req.WorkItemID)
		}
		return o.spawnFailed(out, err)
	}

	out.Agent = info
	if req.WorkItemID != "" && info.Name != req.Name {
		name := info.Name
		if _, err := o.items.Update(ctx, req.WorkItemID, workitem.Patch{Assignee: &name}); err != nil {
			o.log.Warn("updating assignee of %s to %s: %v", req.WorkItemID, name, err)
		}
	}

	o.log.Info("spawned %s (%s)", info.Name, info.Status)
	o.publish(Event{Type: EventSpawn, Agent: info.Name, WorkItemID: req.WorkItemID, Success: true, Detail: string(info.Status)})
	return out
}

func (o *Orchestrator) spawnFailed(out SpawnOutcome, err error) SpawnOutcome {
	out.Err = err
	out.Error = err.Error()
	o.log.Warn("spawn of %q failed: %v", out.Requested, err)
	o.publish(Event{Type: EventSpawn, Agent: out.Requested, WorkItemID: out.WorkItemID, Detail: out.Error})
	return out
}

// assignItem sets the assignee and moves the item to doing. mutated reports
// whether anything was written before a failure.
func (o *Orchestrator) assignItem(ctx context.Context, id, assignee string) (mutated bool, err error) {
	if _, err := o.items.Get(ctx, id); err != nil {
		return false, err
	}
	if _, err := o.items.Update(ctx, id, workitem.Patch{Assignee: &assignee}); err != nil {
		return false, fmt.Errorf("assigning %s: %w", id, err)
	}
	if _, err := o.items.Move(ctx, id, workitem.StatusDoing); err != nil {
		return true, fmt.Errorf("moving %s to doing: %w", id, err)
	}
	return true, nil
}

// rollback moves an item back to todo and clears its assignee. It returns
// the compensating action for the caller's report.
func (o *Orchestrator) rollback(ctx context.Context, id string) (string, bool) {
	var failures []string
	if _, err := o.items.Move(ctx, id, workitem.StatusTodo); err != nil {
		failures = append(failures, err.Error())
	}
	empty := ""
	if _, err := o.items.Update(ctx, id, workitem.Patch{Assignee: &empty}); err != nil {
		failures = append(failures, err.Error())
	}

	action := fmt.Sprintf("rolled back %s to todo", id)
	if len(failures) > 0 {
		action = fmt.Sprintf("rollback of %s incomplete: %s", id, strings.Join(failures, "; "))
		o.log.Error("%s", action)
	}
	o.publish(Event{Type: EventRollback, WorkItemID: id, Success: len(failures) == 0, Detail: action})
	return action, len(failures) == 0
}

// BatchItem is one entry of a batch spawn.
type BatchItem struct {
	WorkItemID string   `json:"work_item_id"`
	Name       string   `json:"name,omitempty"`
	Role       string   `json:"role"`
	Focus      string   `json:"focus,omitempty"`
	WaitFor    []string `json:"wait_for,omitempty"`
}

// BatchResult reports a batch spawn.
type BatchResult struct {
	Outcomes  []SpawnOutcome `json:"outcomes"`
	Skipped   []string       `json:"skipped,omitempty"`
	Rollbacks []string       `json:"rollbacks,omitempty"`
}

// SpawnForItems spawns one worker per item, concurrently. The batch is capped
// to the free capacity of the pool; items beyond it are skipped untouched.
func (o *Orchestrator) SpawnForItems(ctx context.Context, items []BatchItem) BatchResult {
	capacity := o.pool.MaxConcurrent() - o.pool.LiveCount()
	if capacity < 0 {
		capacity = 0
	}
	accepted := items
	var res BatchResult
	if len(items) > capacity {
		accepted = items[:capacity]
		for _, it := range items[capacity:] {
			res.Skipped = append(res.Skipped, it.WorkItemID)
		}
	}

	res.Outcomes = make([]SpawnOutcome, len(accepted))
	var g errgroup.Group
	for i, it := range accepted {
		g.Go(func() error {
			req, err := o.batchRequest(ctx, it)
			if err != nil {
				res.Outcomes[i] = o.spawnFailed(SpawnOutcome{Requested: it.Name, WorkItemID: it.WorkItemID}, err)
				return nil
			}
			res.Outcomes[i] = o.Spawn(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	for _, out := range res.Outcomes {
		if out.Rollback != "" {
			res.Rollbacks = append(res.Rollbacks, out.Rollback)
		}
	}
	return res
}

func (o *Orchestrator) batchRequest(ctx context.Context, it BatchItem) (agent.SpawnRequest, error) {
	if it.WorkItemID == "" {
		return agent.SpawnRequest{}, fmt.Errorf("work_item_id is required")
	}
	focus := strings.TrimSpace(it.Focus)
	if focus == "" {
		item, err := o.items.Get(ctx, it.WorkItemID)
		if err != nil {
			return agent.SpawnRequest{}, err
		}
		focus = item.Title
		if item.Description != "" {
			focus += "\n\n" + item.Description
		}
	}
	return agent.SpawnRequest{
		Name:       it.Name,
		Role:       it.Role,
		Focus:      focus,
		WaitFor:    it.WaitFor,
		WorkItemID: it.WorkItemID,
	}, nil
}

// CheckConsistency finds work items in doing whose assignee is neither live
// nor pending. With autofix they are moved back to todo and unassigned.
func (o *Orchestrator) CheckConsistency(ctx context.Context, autofix bool) ([]Orphan, error) {
	doing, err := o.items.List(ctx, workitem.StatusDoing)
	if err != nil {
		return nil, err
	}
	st := o.status()

	var orphans []Orphan
	for _, it := range doing {
		if it.Assignee != "" && st.Has(it.Assignee) {
			continue
		}
		orphan := Orphan{WorkItemID: it.ID, Title: it.Title, Assignee: it.Assignee}
		if autofix {
			_, orphan.Fixed = o.rollback(ctx, it.ID)
		}
		orphans = append(orphans, orphan)
	}
	return orphans, nil
}
