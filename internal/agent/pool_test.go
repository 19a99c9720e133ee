package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbourmaud/conductor/internal/lease"
	"github.com/mbourmaud/conductor/internal/logger"
	"github.com/mbourmaud/conductor/internal/mailbox"
	"github.com/mbourmaud/conductor/internal/runtime"
)

func newTestPool(t *testing.T, max int, responder runtime.Responder, leases *lease.Manager) (*Pool, *runtime.Scripted) {
	t.Helper()
	adapter := runtime.NewScripted(responder)
	p := NewPool(PoolConfig{
		MaxConcurrentAgents: max,
		BasePrompt:          "base instructions",
		Logger:              logger.Nop(),
	}, adapter, leases, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Close(ctx)
	})
	return p, adapter
}

func eventuallyAgent(t *testing.T, p *Pool, name string, want Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		info, err := p.Get(name)
		return err == nil && info.Status == want
	}, waitTimeout, waitTick, "agent %s never reached %s", name, want)
}

func notifications(calls []runtime.Call) []string {
	var out []string
	for _, c := range calls {
		if strings.HasPrefix(c.Request.Prompt, NotificationPrefix) {
			out = append(out, c.Request.Prompt)
		}
	}
	return out
}

func TestPool_SpawnStartsImmediately(t *testing.T) {
	p, adapter := newTestPool(t, 2, nil, nil)

	info, err := p.Spawn(context.Background(), SpawnRequest{Name: "A", Role: "dev", Focus: "build the api"})
	require.NoError(t, err)
	assert.NotEqual(t, StatusWaiting, info.Status)

	eventuallyAgent(t, p, "A", StatusIdle)

	calls := adapter.CallsFor("A")
	require.Len(t, calls, 1)
	assert.Equal(t, "build the api", calls[0].Request.Prompt)
	assert.Contains(t, calls[0].Request.SystemPrompt, "base instructions")
	assert.Contains(t, calls[0].Request.SystemPrompt, "Focus: build the api")
	assert.Len(t, calls[0].Request.Tools, len(WorkerTools()))

	st := p.Status()
	assert.Len(t, st.Agents, 1)
	assert.Empty(t, st.Pending)
	assert.Equal(t, 2, st.MaxConcurrent)
}

func TestPool_SpawnValidation(t *testing.T) {
	p, _ := newTestPool(t, 2, nil, nil)

	_, err := p.Spawn(context.Background(), SpawnRequest{Name: "A"})
	assert.Error(t, err)

	_, err = p.Spawn(context.Background(), SpawnRequest{Name: mailbox.Orchestrator, Focus: "x"})
	assert.Error(t, err)
	assert.Zero(t, p.LiveCount())
}

func TestPool_WaitForScenario(t *testing.T) {
	p, adapter := newTestPool(t, 4, nil, nil)
	ctx := context.Background()

	_, err := p.Spawn(ctx, SpawnRequest{Name: "A", Focus: "schema"})
	require.NoError(t, err)

	info, err := p.Spawn(ctx, SpawnRequest{Name: "B", Focus: "handlers", WaitFor: []string{"A"}})
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, info.Status)
	assert.Empty(t, info.SessionID)

	eventuallyAgent(t, p, "A", StatusIdle)

	st := p.Status()
	assert.Len(t, st.Agents, 1)
	assert.Equal(t, []string{"B"}, st.Pending)
	assert.True(t, st.Has("B"))
	assert.Empty(t, adapter.CallsFor("B"), "an idle dependency does not release B")

	require.NoError(t, p.Complete("A", "schema merged"))

	require.Eventually(t, func() bool { return len(adapter.CallsFor("B")) == 1 }, waitTimeout, waitTick)
	eventuallyAgent(t, p, "B", StatusIdle)

	st = p.Status()
	assert.Len(t, st.Agents, 2)
	assert.Empty(t, st.Pending)

	// Later transitions must not start B a second time.
	_, err = p.Spawn(ctx, SpawnRequest{Name: "C", Focus: "docs"})
	require.NoError(t, err)
	eventuallyAgent(t, p, "C", StatusIdle)
	require.NoError(t, p.Complete("C", ""))
	eventuallyAgent(t, p, "C", StatusComplete)
	assert.Len(t, adapter.CallsFor("B"), 1)
	assert.Equal(t, []string{"A", "B", "C"}, p.Names())
}

func TestPool_CeilingScenario(t *testing.T) {
	p, _ := newTestPool(t, 1, nil, nil)
	ctx := context.Background()

	_, err := p.Spawn(ctx, SpawnRequest{Name: "A", Focus: "one"})
	require.NoError(t, err)

	_, err = p.Spawn(ctx, SpawnRequest{Name: "B", Focus: "two"})
	assert.ErrorIs(t, err, ErrResourceExhausted)
	assert.Equal(t, 1, p.LiveCount())

	require.NoError(t, p.Destroy(ctx, "A"))

	_, err = p.Spawn(ctx, SpawnRequest{Name: "B", Focus: "two"})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, p.Names())
}

func TestPool_DequeueRespectsCeiling(t *testing.T) {
	p, adapter := newTestPool(t, 2, nil, nil)
	ctx := context.Background()

	_, err := p.Spawn(ctx, SpawnRequest{Name: "A", Focus: "base"})
	require.NoError(t, err)
	_, err = p.Spawn(ctx, SpawnRequest{Name: "B", Focus: "first", WaitFor: []string{"A"}})
	require.NoError(t, err)
	_, err = p.Spawn(ctx, SpawnRequest{Name: "C", Focus: "second", WaitFor: []string{"A"}})
	require.NoError(t, err)
	eventuallyAgent(t, p, "A", StatusIdle)

	require.NoError(t, p.Complete("A", ""))
	eventuallyAgent(t, p, "B", StatusIdle)

	info, err := p.Get("C")
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, info.Status, "queue order wins and the ceiling is full")
	assert.Equal(t, 2, p.LiveCount())

	// A is complete but still live; destroying it would drop C's dependency,
	// so free the slot by destroying B instead.
	require.NoError(t, p.Destroy(ctx, "B"))
	eventuallyAgent(t, p, "C", StatusIdle)
	assert.Len(t, adapter.CallsFor("C"), 1)
}

func TestPool_UniqueNames(t *testing.T) {
	p, _ := newTestPool(t, 4, nil, nil)
	ctx := context.Background()

	a, err := p.Spawn(ctx, SpawnRequest{Name: "dev", Focus: "x"})
	require.NoError(t, err)
	b, err := p.Spawn(ctx, SpawnRequest{Name: "dev", Focus: "y"})
	require.NoError(t, err)
	c, err := p.Spawn(ctx, SpawnRequest{Name: "dev", Focus: "z", WaitFor: []string{"dev"}})
	require.NoError(t, err)
	d, err := p.Spawn(ctx, SpawnRequest{Role: "Backend Dev!", Focus: "w"})
	require.NoError(t, err)

	assert.Equal(t, "dev", a.Name)
	assert.Equal(t, "dev-2", b.Name)
	assert.Equal(t, "dev-3", c.Name)
	assert.Equal(t, StatusWaiting, c.Status)
	assert.Equal(t, "backend-dev", d.Name)
}

func TestPool_DependencyCycle(t *testing.T) {
	p, _ := newTestPool(t, 4, nil, nil)
	ctx := context.Background()

	_, err := p.Spawn(ctx, SpawnRequest{Name: "A", Focus: "x", WaitFor: []string{"B"}})
	require.NoError(t, err)

	_, err = p.Spawn(ctx, SpawnRequest{Name: "B", Focus: "y", WaitFor: []string{"A"}})
	require.ErrorIs(t, err, ErrDependencyCycle)
	assert.Contains(t, err.Error(), "B -> A -> B")

	_, err = p.Spawn(ctx, SpawnRequest{Name: "C", Focus: "z", WaitFor: []string{"C"}})
	assert.ErrorIs(t, err, ErrDependencyCycle)

	assert.Equal(t, []string{"A"}, p.Names())
}

func TestFindCycle(t *testing.T) {
	edges := map[string][]string{
		"b": {"c"},
		"c": {"d"},
		"x": {"y"},
	}
	assert.Nil(t, findCycle("a", []string{"b", "x"}, edges))
	assert.Equal(t, []string{"d", "b", "c", "d"}, findCycle("d", []string{"b"}, edges))
	assert.Equal(t, []string{"e", "e"}, findCycle("e", []string{"e"}, edges))
}

func TestPool_Destroy(t *testing.T) {
	leases := lease.NewManager(lease.Options{}, nil)
	p, _ := newTestPool(t, 4, nil, leases)
	ctx := context.Background()

	assert.ErrorIs(t, p.Destroy(ctx, "ghost"), ErrNotFound)

	_, err := p.Spawn(ctx, SpawnRequest{Name: "A", Focus: "x"})
	require.NoError(t, err)
	_, err = p.Spawn(ctx, SpawnRequest{Name: "B", Focus: "y", WaitFor: []string{"A"}})
	require.NoError(t, err)
	_, err = leases.Acquire(ctx, lease.AcquireRequest{AgentName: "A", Patterns: []string{"src/**"}})
	require.NoError(t, err)

	require.NoError(t, p.Destroy(ctx, "B"))
	require.NoError(t, p.Destroy(ctx, "A"))

	assert.Empty(t, p.Names())
	assert.Zero(t, leases.Count(), "destroy releases leases")
	_, err = p.Get("A")
	assert.ErrorIs(t, err, ErrNotFound)
}

type forgettingAdapter struct {
	*runtime.Scripted

	mu        sync.Mutex
	forgotten []string
}

func (f *forgettingAdapter) ForgetSession(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, id)
}

func (f *forgettingAdapter) Forgotten() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.forgotten...)
}

func TestPool_ForgetsSessionHistory(t *testing.T) {
	adapter := &forgettingAdapter{Scripted: runtime.NewScripted(nil)}
	p := NewPool(PoolConfig{Logger: logger.Nop()}, adapter, nil, nil)
	ctx := context.Background()

	_, err := p.Spawn(ctx, SpawnRequest{Name: "A", Focus: "x"})
	require.NoError(t, err)
	_, err = p.Spawn(ctx, SpawnRequest{Name: "B", Focus: "y"})
	require.NoError(t, err)
	eventuallyAgent(t, p, "A", StatusIdle)
	eventuallyAgent(t, p, "B", StatusIdle)

	a, err := p.Get("A")
	require.NoError(t, err)
	b, err := p.Get("B")
	require.NoError(t, err)
	require.NotEmpty(t, a.SessionID)

	require.NoError(t, p.Destroy(ctx, "A"))
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{a.SessionID}, adapter.Forgotten())
	}, waitTimeout, waitTick, "destroy drops the session history")

	closeCtx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	require.NoError(t, p.Close(closeCtx))
	assert.ElementsMatch(t, []string{a.SessionID, b.SessionID}, adapter.Forgotten())
}

func TestPool_PauseResume(t *testing.T) {
	p, adapter := newTestPool(t, 2, nil, nil)
	ctx := context.Background()

	_, err := p.Spawn(ctx, SpawnRequest{Name: "A", Focus: "x"})
	require.NoError(t, err)
	eventuallyAgent(t, p, "A", StatusIdle)

	require.NoError(t, p.Pause("A"))
	require.NoError(t, p.SubmitPrompt("A", "first"))
	require.NoError(t, p.SubmitPrompt("A", "second"))
	info, _ := p.Get("A")
	assert.Equal(t, StatusPaused, info.Status)
	assert.Equal(t, "second", info.PendingPrompt)

	require.NoError(t, p.Resume("A"))
	require.Eventually(t, func() bool { return len(adapter.CallsFor("A")) == 2 }, waitTimeout, waitTick)
	assert.Equal(t, "second", adapter.CallsFor("A")[1].Request.Prompt)

	assert.ErrorIs(t, p.Pause("nobody"), ErrNotFound)
}

func TestPool_MailNotifiesWithoutBody(t *testing.T) {
	p, adapter := newTestPool(t, 4, nil, nil)
	ctx := context.Background()

	for _, n := range []string{"A", "B"} {
		_, err := p.Spawn(ctx, SpawnRequest{Name: n, Focus: "work"})
		require.NoError(t, err)
		eventuallyAgent(t, p, n, StatusIdle)
	}

	out, err := p.HandleToolCall(ctx, "A", runtime.ToolInvocation{
		Name:      ToolSendMail,
		Arguments: map[string]interface{}{"to": "B", "subject": "api ready", "body": "the secret body"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Sent message")

	inbox, err := p.Mail().Inbox(ctx, "B", mailbox.Filter{})
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	id := inbox[0].ID

	require.Eventually(t, func() bool { return len(notifications(adapter.CallsFor("B"))) == 1 }, waitTimeout, waitTick)
	eventuallyAgent(t, p, "B", StatusIdle)

	notes := notifications(adapter.CallsFor("B"))
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], id)
	assert.NotContains(t, notes[0], "the secret body")
	assert.Empty(t, notifications(adapter.CallsFor("A")))

	// The body is only handed out on an explicit read.
	body, err := p.HandleToolCall(ctx, "B", runtime.ToolInvocation{
		Name: ToolReadMail, Arguments: map[string]interface{}{"id": id},
	})
	require.NoError(t, err)
	assert.Contains(t, body, "the secret body")

	msg, err := p.Mail().Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, msg.Read)

	list, err := p.HandleToolCall(ctx, "B", runtime.ToolInvocation{Name: ToolCheckInbox})
	require.NoError(t, err)
	assert.Contains(t, list, "[read]")
	assert.NotContains(t, list, "the secret body")

	_, err = p.HandleToolCall(ctx, "A", runtime.ToolInvocation{
		Name: ToolArchiveMail, Arguments: map[string]interface{}{"id": id},
	})
	assert.ErrorIs(t, err, mailbox.ErrNotFound, "only the recipient archives")
}

func TestPool_MailToWaitingAgentIsNotPushed(t *testing.T) {
	p, adapter := newTestPool(t, 4, nil, nil)
	ctx := context.Background()

	_, err := p.Spawn(ctx, SpawnRequest{Name: "A", Focus: "x"})
	require.NoError(t, err)
	_, err = p.Spawn(ctx, SpawnRequest{Name: "B", Focus: "y", WaitFor: []string{"A"}})
	require.NoError(t, err)

	_, err = p.SendMail(ctx, mailbox.SendRequest{From: mailbox.Orchestrator, To: "B", Subject: "hi", Body: "later"})
	require.NoError(t, err)

	assert.Empty(t, adapter.CallsFor("B"))
	n, err := p.Mail().UnreadCount(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "mail is kept for later")
}

func TestPool_MailToOrchestratorUsesHook(t *testing.T) {
	p, _ := newTestPool(t, 4, nil, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var got []mailbox.Message
	p.SetMailHook(func(msg mailbox.Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg)
	})

	_, err := p.Spawn(ctx, SpawnRequest{Name: "A", Focus: "x"})
	require.NoError(t, err)

	_, err = p.HandleToolCall(ctx, "A", runtime.ToolInvocation{
		Name:      ToolSendMail,
		Arguments: map[string]interface{}{"to": mailbox.Orchestrator, "subject": "done", "body": "all good"},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].From)
	assert.Equal(t, 1, p.Status().UnreadMail)
}

func TestPool_ClaimTools(t *testing.T) {
	p, _ := newTestPool(t, 4, nil, nil)
	ctx := context.Background()
	events := p.Subscribe(64)

	out, err := p.HandleToolCall(ctx, "A", runtime.ToolInvocation{
		Name: ToolClaimFiles,
		Arguments: map[string]interface{}{
			"patterns":  []interface{}{"src/**"},
			"exclusive": true,
			"reason":    "refactor",
		},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "src/** (exclusive)")
	assert.NotContains(t, out, "Warning")

	out, err = p.HandleToolCall(ctx, "B", runtime.ToolInvocation{
		Name:      ToolClaimFiles,
		Arguments: map[string]interface{}{"patterns": "src/api/*.go"},
	})
	require.NoError(t, err, "advisory mode never rejects")
	assert.Contains(t, out, "Warning")
	assert.Contains(t, out, "A holds src/** (exclusive): refactor")

	list, err := p.HandleToolCall(ctx, "B", runtime.ToolInvocation{Name: ToolListClaims})
	require.NoError(t, err)
	assert.Contains(t, list, "A: src/**")
	assert.Contains(t, list, "B: src/api/*.go")

	out, err = p.HandleToolCall(ctx, "A", runtime.ToolInvocation{Name: ToolReleaseFiles})
	require.NoError(t, err)
	assert.Equal(t, "Released 1 claim(s).", out)

	var claimEvents []Event
	timeout := time.After(waitTimeout)
	for len(claimEvents) < 3 {
		select {
		case ev := <-events:
			if ev.Type == EventClaims {
				claimEvents = append(claimEvents, ev)
			}
		case <-timeout:
			t.Fatalf("got %d claims events, want 3", len(claimEvents))
		}
	}
	assert.Len(t, claimEvents[1].Claims, 2, "events carry the full lease set")
	assert.Len(t, claimEvents[2].Claims, 1)
}

func TestPool_StrictClaimConflict(t *testing.T) {
	p, _ := newTestPool(t, 4, nil, lease.NewManager(lease.Options{Strict: true}, nil))
	ctx := context.Background()

	_, err := p.HandleToolCall(ctx, "A", runtime.ToolInvocation{
		Name:      ToolClaimFiles,
		Arguments: map[string]interface{}{"patterns": []interface{}{"src/**"}, "exclusive": true},
	})
	require.NoError(t, err)

	_, err = p.HandleToolCall(ctx, "B", runtime.ToolInvocation{
		Name:      ToolClaimFiles,
		Arguments: map[string]interface{}{"patterns": []interface{}{"src/main.go"}},
	})
	assert.ErrorIs(t, err, lease.ErrConflict)
}

func TestPool_MarkCompleteTool(t *testing.T) {
	p, _ := newTestPool(t, 4, func(req runtime.Request) runtime.Turn {
		return runtime.Turn{Steps: []runtime.Step{
			{Text: "all done"},
			{Tool: &runtime.ToolInvocation{Name: ToolMarkComplete, Arguments: map[string]interface{}{"summary": "shipped"}}},
		}}
	}, nil)
	ctx := context.Background()

	_, err := p.Spawn(ctx, SpawnRequest{Name: "A", Focus: "ship it"})
	require.NoError(t, err)
	_, err = p.Spawn(ctx, SpawnRequest{Name: "B", Focus: "after", WaitFor: []string{"A"}})
	require.NoError(t, err)

	eventuallyAgent(t, p, "A", StatusComplete)
	// B runs the same script and completes too, once A released it.
	eventuallyAgent(t, p, "B", StatusComplete)

	msgs, err := p.Messages("A")
	require.NoError(t, err)
	assert.Equal(t, "Completed: shipped", msgs[len(msgs)-1].Content)

	_, err = p.HandleToolCall(ctx, "A", runtime.ToolInvocation{Name: "rm_rf"})
	assert.Error(t, err)
}

func TestPool_Events(t *testing.T) {
	p, _ := newTestPool(t, 4, nil, nil)
	events := p.Subscribe(256)

	_, err := p.Spawn(context.Background(), SpawnRequest{Name: "A", Focus: "x"})
	require.NoError(t, err)

	seen := map[EventType]bool{}
	timeout := time.After(waitTimeout)
	for !(seen[EventSpawned] && seen[EventOutput] && seen[EventPool] && seen[EventStatus]) {
		select {
		case ev := <-events:
			assert.False(t, ev.Timestamp.IsZero())
			seen[ev.Type] = true
			if ev.Type == EventOutput {
				assert.Equal(t, "A", ev.Agent)
			}
		case <-timeout:
			t.Fatalf("missing events, saw %v", seen)
		}
	}

	_, err = p.Spawn(context.Background(), SpawnRequest{Name: "B", Focus: "y", WaitFor: []string{"B"}})
	require.Error(t, err)
	for {
		select {
		case ev := <-events:
			if ev.Type == EventError {
				assert.Equal(t, "B", ev.Agent)
				return
			}
		case <-time.After(waitTimeout):
			t.Fatal("no error event")
		}
	}
}

func TestPool_CloseStopsEverything(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p, _ := newTestPool(t, 4, gated(release), nil)
	ctx := context.Background()
	events := p.Subscribe(256)

	_, err := p.Spawn(ctx, SpawnRequest{Name: "A", Focus: "block"})
	require.NoError(t, err)
	eventuallyAgent(t, p, "A", StatusProcessing)

	closeCtx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	require.NoError(t, p.Close(closeCtx))

	assert.Zero(t, p.LiveCount())
	_, err = p.Spawn(ctx, SpawnRequest{Name: "B", Focus: "x"})
	assert.ErrorIs(t, err, ErrPoolClosed)

	for range events {
	}
}

func TestComposeSystemPrompt(t *testing.T) {
	got := ComposeSystemPrompt("base", SpawnRequest{
		Name:         "api-dev",
		Role:         "backend",
		Focus:        "users endpoint",
		WorkItemID:   "WI-004",
		WaitFor:      []string{"schema"},
		SystemPrompt: "Use Go 1.24.",
	})
	for _, want := range []string{"base", "Name: api-dev", "Role: backend", "Focus: users endpoint",
		"Work item: WI-004", "Started after: schema", "Use Go 1.24."} {
		assert.Contains(t, got, want)
	}
}
