package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/hub"
	"github.com/mbourmaud/conductor/internal/orchestrator"
	"github.com/mbourmaud/conductor/internal/workitem"
)

type fakeSource struct {
	status *hub.StatusResponse
	err    error
}

func (f *fakeSource) Status(context.Context) (*hub.StatusResponse, error) {
	return f.status, f.err
}

func (f *fakeSource) Items(context.Context, workitem.Status) ([]*workitem.Item, error) {
	return []*workitem.Item{
		{ID: "WI-001", Status: workitem.StatusDoing},
		{ID: "WI-002", Status: workitem.StatusTodo},
		{ID: "WI-003", Status: workitem.StatusTodo},
	}, nil
}

func (f *fakeSource) Tasks(context.Context) ([]orchestrator.Task, error) {
	return nil, nil
}

func testStatus() *hub.StatusResponse {
	return &hub.StatusResponse{
		Pool: agent.PoolStatus{
			Agents: []agent.Info{
				{Name: "dev", Role: "backend", Status: agent.StatusProcessing, Focus: "build the API", WorkItemID: "WI-001", CostUSD: 0.12},
			},
			Pending:       []string{"qa"},
			MaxConcurrent: 4,
			UnreadMail:    3,
		},
		QueueDepth:   1,
		TotalCostUSD: 0.5,
	}
}

var _ Source = (*hub.Client)(nil)

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return model
}

func TestModel_FetchAndView(t *testing.T) {
	m := NewModel(&fakeSource{status: testStatus()})

	if view := m.View(); !strings.Contains(view, "Connecting") {
		t.Errorf("Expected connecting view, got:\n%s", view)
	}

	m = update(t, m, m.fetchData())
	view := m.View()

	for _, want := range []string{"dev", "[backend]", "WI-001", "qa (waiting)", "1/4 live", "1 waiting", "todo 2", "doing 1", "No events yet"} {
		if !strings.Contains(view, want) {
			t.Errorf("View missing %q:\n%s", want, view)
		}
	}
}

func TestModel_ConnectionError(t *testing.T) {
	m := NewModel(&fakeSource{err: errors.New("connection refused")})
	m = update(t, m, m.fetchData())

	view := m.View()
	if !strings.Contains(view, "connection refused") {
		t.Errorf("Expected error in view, got:\n%s", view)
	}
	if m.connected {
		t.Error("Model should not be connected")
	}
}

func TestModel_QuitKeys(t *testing.T) {
	m := NewModel(&fakeSource{status: testStatus()})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("Expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("Expected tea.QuitMsg")
	}
}

func rawEvent(t *testing.T, typ string, data interface{}) hub.RawEvent {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	return hub.RawEvent{Type: typ, Data: raw, Timestamp: time.Now()}
}

func TestModel_FeedIsBounded(t *testing.T) {
	m := NewModel(&fakeSource{status: testStatus()})
	m = update(t, m, m.fetchData())

	for i := 0; i < feedSize+5; i++ {
		m = update(t, m, eventMsg(rawEvent(t, "agent.spawned", agent.Event{Agent: "dev"})))
	}
	if len(m.feed) != feedSize {
		t.Errorf("Expected %d feed lines, got %d", feedSize, len(m.feed))
	}

	m = update(t, m, eventMsg(rawEvent(t, "agent.output", agent.Event{Agent: "dev"})))
	if len(m.feed) != feedSize {
		t.Error("Output events should not reach the feed")
	}
}

func TestDescribeEvent(t *testing.T) {
	tests := []struct {
		name string
		typ  string
		data interface{}
		want string
	}{
		{"spawned", "agent.spawned", agent.Event{Agent: "dev"}, "spawned dev"},
		{"status", "agent.status", agent.Event{Agent: "dev", Previous: agent.StatusIdle, Status: agent.StatusProcessing}, "dev idle -> processing"},
		{"waiting", "agent.waiting", agent.Event{Agent: "qa"}, "qa is waiting"},
		{"destroyed", "agent.destroyed", agent.Event{Agent: "dev"}, "destroyed dev"},
		{"agent error", "agent.error", agent.Event{Agent: "dev", Error: "stream failure"}, "dev: stream failure"},
		{"task", "orchestrator.task", orchestrator.Event{Task: &orchestrator.Task{Text: "plan", Status: orchestrator.TaskStatusCompleted}}, "task completed: plan"},
		{"spawn ok", "orchestrator.spawn", orchestrator.Event{Agent: "dev", Success: true}, "orchestrator spawned dev"},
		{"spawn failed", "orchestrator.spawn", orchestrator.Event{Agent: "dev", Detail: "resource exhausted"}, "spawn of dev failed: resource exhausted"},
		{"rollback", "orchestrator.rollback", orchestrator.Event{Detail: "rolled back WI-001 to todo"}, "rolled back WI-001 to todo"},
		{"mail", "mail.received", map[string]interface{}{"message": map[string]string{"from": "dev", "to": "user", "subject": "done"}}, "mail dev -> user: done"},
		{"pool snapshot", "pool.status", agent.Event{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DescribeEvent(rawEvent(t, tt.typ, tt.data))
			if tt.want == "" {
				if got != "" {
					t.Errorf("Expected no line, got %q", got)
				}
				return
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("Expected %q in %q", tt.want, got)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("Expected short, got %q", got)
	}
	if got := truncate("a long line\nthat wraps", 10); got != "a long ..." {
		t.Errorf("Expected truncated line, got %q", got)
	}
}
