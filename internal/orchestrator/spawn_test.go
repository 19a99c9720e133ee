package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/workitem"
)

func TestSpawn_AssignsAndMovesItem(t *testing.T) {
	h := newHarness(t, 2, Config{}, nil)
	h.createItem(t, "Add login")

	out := h.orch.Spawn(context.Background(), agent.SpawnRequest{Name: "dev", Role: "backend", Focus: "login", WorkItemID: "WI-001"})
	require.NoError(t, out.Err)
	require.NotNil(t, out.Agent)
	assert.Equal(t, "dev", out.Agent.Name)
	assert.Equal(t, "WI-001", out.Agent.WorkItemID)
	assert.Empty(t, out.Rollback)

	it := h.item(t, "WI-001")
	assert.Equal(t, workitem.StatusDoing, it.Status)
	assert.Equal(t, "dev", it.Assignee)
}

func TestSpawn_RenamedAgentIsAssigned(t *testing.T) {
	h := newHarness(t, 3, Config{}, nil)
	ctx := context.Background()
	h.createItem(t, "Add login")

	_, err := h.pool.Spawn(ctx, agent.SpawnRequest{Name: "dev", Focus: "other work"})
	require.NoError(t, err)

	out := h.orch.Spawn(ctx, agent.SpawnRequest{Name: "dev", Focus: "login", WorkItemID: "WI-001"})
	require.NoError(t, out.Err)
	assert.Equal(t, "dev-2", out.Agent.Name)
	assert.Equal(t, "dev-2", h.item(t, "WI-001").Assignee)
}

func TestSpawn_RollbackAtCapacity(t *testing.T) {
	h := newHarness(t, 1, Config{}, nil)
	ctx := context.Background()
	h.createItem(t, "Add login")

	_, err := h.pool.Spawn(ctx, agent.SpawnRequest{Name: "A", Focus: "busy"})
	require.NoError(t, err)

	rollbacks := h.orch.Subscribe(16)
	defer h.orch.Unsubscribe(rollbacks)

	out, err := h.orch.Execute(ctx, ToolSpawnAgent, map[string]interface{}{
		"name": "B", "role": "backend", "focus": "login", "work_item_id": "WI-001",
	})
	require.Error(t, err)
	assert.Empty(t, out)
	assert.ErrorContains(t, err, "resource exhausted")
	assert.ErrorContains(t, err, "rolled back WI-001 to todo")

	it := h.item(t, "WI-001")
	assert.Equal(t, workitem.StatusTodo, it.Status)
	assert.Empty(t, it.Assignee)
	assert.False(t, h.pool.Status().Has("B"))

	var found bool
	for !found {
		ev := <-rollbacks
		if ev.Type == EventRollback {
			found = true
			assert.True(t, ev.Success)
			assert.Equal(t, "WI-001", ev.WorkItemID)
		}
	}
}

func TestSpawn_VerificationFailureRollsBack(t *testing.T) {
	h := newHarness(t, 2, Config{}, nil)
	h.createItem(t, "Add login")
	h.orch.statusFn = func() agent.PoolStatus { return agent.PoolStatus{} }

	out := h.orch.Spawn(context.Background(), agent.SpawnRequest{Name: "dev", Focus: "login", WorkItemID: "WI-001"})
	require.Error(t, out.Err)
	assert.ErrorIs(t, out.Err, agent.ErrSpawnVerification)
	assert.Equal(t, "rolled back WI-001 to todo", out.Rollback)

	it := h.item(t, "WI-001")
	assert.Equal(t, workitem.StatusTodo, it.Status)
	assert.Empty(t, it.Assignee)
}

func TestSpawn_UnknownItemLeavesPoolUntouched(t *testing.T) {
	h := newHarness(t, 2, Config{}, nil)

	out := h.orch.Spawn(context.Background(), agent.SpawnRequest{Name: "dev", Focus: "login", WorkItemID: "WI-042"})
	require.Error(t, out.Err)
	assert.ErrorIs(t, out.Err, workitem.ErrNotFound)
	assert.Empty(t, out.Rollback)
	assert.Zero(t, h.pool.LiveCount())
}

func TestSpawn_WaitingAgentKeepsAssignment(t *testing.T) {
	h := newHarness(t, 2, Config{}, nil)
	ctx := context.Background()
	h.createItem(t, "Handlers")

	_, err := h.pool.Spawn(ctx, agent.SpawnRequest{Name: "A", Focus: "schema"})
	require.NoError(t, err)

	res, err := h.orch.Execute(ctx, ToolSpawnAgent, map[string]interface{}{
		"name": "B", "role": "backend", "focus": "handlers", "work_item_id": "WI-001", "wait_for": []interface{}{"A"},
	})
	require.NoError(t, err)
	assert.Contains(t, res, "Queued B; it starts once A complete.")

	it := h.item(t, "WI-001")
	assert.Equal(t, workitem.StatusDoing, it.Status)
	assert.Equal(t, "B", it.Assignee)

	orphans, err := h.orch.CheckConsistency(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, orphans, "a waiting agent is part of the pool")
}

func TestSpawnForItems_CapsBatch(t *testing.T) {
	h := newHarness(t, 3, Config{}, nil)
	ctx := context.Background()
	for _, title := range []string{"one", "two", "three"} {
		h.createItem(t, title)
	}

	_, err := h.pool.Spawn(ctx, agent.SpawnRequest{Name: "lead", Focus: "coordinate"})
	require.NoError(t, err)

	res := h.orch.SpawnForItems(ctx, []BatchItem{
		{WorkItemID: "WI-001", Name: "w1", Role: "dev"},
		{WorkItemID: "WI-002", Name: "w2", Role: "dev"},
		{WorkItemID: "WI-003", Name: "w3", Role: "dev"},
	})
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, []string{"WI-003"}, res.Skipped)
	assert.Empty(t, res.Rollbacks)
	for _, out := range res.Outcomes {
		assert.NoError(t, out.Err)
	}

	assert.Equal(t, "w1", h.item(t, "WI-001").Assignee)
	assert.Equal(t, "w2", h.item(t, "WI-002").Assignee)
	skipped := h.item(t, "WI-003")
	assert.Equal(t, workitem.StatusTodo, skipped.Status)
	assert.Empty(t, skipped.Assignee)
	assert.Equal(t, 3, h.pool.LiveCount())
}

func TestSpawnForItems_DefaultFocusAndErrors(t *testing.T) {
	h := newHarness(t, 4, Config{}, nil)
	ctx := context.Background()
	h.createItem(t, "Add login")

	res, err := h.orch.Execute(ctx, ToolSpawnAgentsForItem, map[string]interface{}{
		"items": []interface{}{
			map[string]interface{}{"work_item_id": "WI-001", "name": "dev", "role": "backend"},
			map[string]interface{}{"name": "stray", "role": "backend"},
			map[string]interface{}{"work_item_id": "WI-009", "name": "ghost", "role": "backend"},
		},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res, "1 of 3 spawned."), res)
	assert.Contains(t, res, "work_item_id is required")
	assert.Contains(t, res, "WI-009: spawn of ghost failed")

	info, err := h.pool.Get("dev")
	require.NoError(t, err)
	assert.Equal(t, "Add login\n\ndetails of Add login", info.Focus)
	assert.False(t, h.pool.Status().Has("ghost"))

	_, err = h.orch.Execute(ctx, ToolSpawnAgentsForItem, map[string]interface{}{})
	assert.Error(t, err)
}

func TestSpawnForItems_FullPoolSkipsEverything(t *testing.T) {
	h := newHarness(t, 1, Config{}, nil)
	ctx := context.Background()
	h.createItem(t, "one")

	_, err := h.pool.Spawn(ctx, agent.SpawnRequest{Name: "A", Focus: "busy"})
	require.NoError(t, err)

	res, err := h.orch.Execute(ctx, ToolSpawnAgentsForItem, map[string]interface{}{
		"items": []interface{}{map[string]interface{}{"work_item_id": "WI-001", "role": "dev"}},
	})
	require.NoError(t, err)
	assert.Contains(t, res, "0 of 0 spawned.")
	assert.Contains(t, res, "Skipped (pool at capacity): WI-001")
	assert.Equal(t, workitem.StatusTodo, h.item(t, "WI-001").Status)
}

func TestCheckConsistency(t *testing.T) {
	h := newHarness(t, 2, Config{}, nil)
	ctx := context.Background()

	_, err := h.pool.Spawn(ctx, agent.SpawnRequest{Name: "A", Focus: "schema"})
	require.NoError(t, err)

	ghost, live, unassigned, todo := "ghost", "A", "", "nobody"
	for _, c := range []struct {
		title    string
		assignee *string
		status   workitem.Status
	}{
		{"ghost work", &ghost, workitem.StatusDoing},
		{"live work", &live, workitem.StatusDoing},
		{"unassigned work", &unassigned, workitem.StatusDoing},
		{"backlog", &todo, workitem.StatusTodo},
	} {
		it := h.createItem(t, c.title)
		_, err := h.items.Update(ctx, it.ID, workitem.Patch{Assignee: c.assignee})
		require.NoError(t, err)
		_, err = h.items.Move(ctx, it.ID, c.status)
		require.NoError(t, err)
	}

	orphans, err := h.orch.CheckConsistency(ctx, false)
	require.NoError(t, err)
	require.Len(t, orphans, 2)
	assert.Equal(t, Orphan{WorkItemID: "WI-001", Title: "ghost work", Assignee: "ghost"}, orphans[0])
	assert.Equal(t, Orphan{WorkItemID: "WI-003", Title: "unassigned work"}, orphans[1])
	assert.Equal(t, workitem.StatusDoing, h.item(t, "WI-001").Status, "report-only mode must not fix")

	text, err := h.orch.Execute(ctx, ToolCheckConsistency, map[string]interface{}{"autofix": true})
	require.NoError(t, err)
	assert.Contains(t, text, "2 orphaned work item(s)")
	assert.Contains(t, text, "(rolled back WI-001 to todo)")

	for _, id := range []string{"WI-001", "WI-003"} {
		it := h.item(t, id)
		assert.Equal(t, workitem.StatusTodo, it.Status, id)
		assert.Empty(t, it.Assignee, id)
	}
	assert.Equal(t, workitem.StatusDoing, h.item(t, "WI-002").Status)

	text, err = h.orch.Execute(ctx, ToolCheckConsistency, nil)
	require.NoError(t, err)
	assert.Equal(t, "Board and pool are consistent.", text)
}
