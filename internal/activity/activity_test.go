package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/logger"
	"github.com/mbourmaud/conductor/internal/orchestrator"
	"github.com/mbourmaud/conductor/internal/runtime"
)

var ts = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func expectAdd(mock redismock.ClientMock, maxLen int64, e Entry) {
	for _, key := range []string{StreamKey(e.Agent), AllKey} {
		mock.ExpectXAdd(&redis.XAddArgs{
			Stream: key,
			MaxLen: maxLen,
			Approx: true,
			Values: e.values(),
		}).SetVal("1-0")
	}
}

func TestStreamKey(t *testing.T) {
	assert.Equal(t, "conductor:activity:dev", StreamKey("dev"))
	assert.Equal(t, AllKey, StreamKey(""))
	assert.Equal(t, AllKey, StreamKey("all"))
}

func TestRecorder_Record(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rec := NewRecorder(db, 500, logger.Nop())
	e := Entry{Timestamp: ts, Agent: "dev", Event: EventText, Content: "hello"}

	expectAdd(mock, 500, e)
	require.NoError(t, rec.Record(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecorder_RecordError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rec := NewRecorder(db, 0, logger.Nop())
	e := Entry{Timestamp: ts, Agent: "dev", Event: EventText, Content: "hello"}

	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: StreamKey("dev"),
		MaxLen: DefaultMaxLen,
		Approx: true,
		Values: e.values(),
	}).SetErr(errors.New("connection refused"))

	err := rec.Record(context.Background(), e)
	assert.ErrorContains(t, err, "conductor:activity:dev")
}

func TestRecorder_Run(t *testing.T) {
	db, mock := redismock.NewClientMock()
	rec := NewRecorder(db, 100, logger.Nop())

	pool := make(chan agent.Event, 4)
	pool <- agent.Event{Type: agent.EventStatus, Agent: "dev", Previous: agent.StatusIdle, Status: agent.StatusProcessing, Timestamp: ts}
	pool <- agent.Event{Type: agent.EventPool, Timestamp: ts}
	out := runtime.TextEvent("working on it")
	pool <- agent.Event{Type: agent.EventOutput, Agent: "dev", Output: &out, Timestamp: ts}
	close(pool)

	expectAdd(mock, 100, Entry{Timestamp: ts, Agent: "dev", Event: EventStatus, Content: "idle -> processing"})
	expectAdd(mock, 100, Entry{Timestamp: ts, Agent: "dev", Event: EventText, Content: "working on it"})

	done := make(chan struct{})
	go func() {
		rec.Run(context.Background(), pool, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the channel closed")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFromAgentEvent(t *testing.T) {
	tool := runtime.ToolEvent(runtime.ToolInvocation{Name: "claim_files"})
	done := runtime.CompletionEvent(runtime.Completion{CostUSD: 0.5, DurationMs: 1200})

	tests := []struct {
		name    string
		event   agent.Event
		want    Entry
		skipped bool
	}{
		{
			name:  "tool call",
			event: agent.Event{Type: agent.EventOutput, Agent: "dev", Output: &tool},
			want:  Entry{Agent: "dev", Event: EventToolCall, Content: "claim_files"},
		},
		{
			name:  "completion",
			event: agent.Event{Type: agent.EventOutput, Agent: "dev", Output: &done},
			want:  Entry{Agent: "dev", Event: EventTurnDone, Content: "$0.5000 in 1200ms"},
		},
		{
			name:  "error",
			event: agent.Event{Type: agent.EventError, Agent: "dev", Error: "stream failure"},
			want:  Entry{Agent: "dev", Event: EventError, Content: "stream failure"},
		},
		{
			name:  "waiting",
			event: agent.Event{Type: agent.EventWaiting, Agent: "B", Status: agent.StatusWaiting},
			want:  Entry{Agent: "B", Event: EventWaiting, Content: "waiting"},
		},
		{name: "claims", event: agent.Event{Type: agent.EventClaims, Agent: "dev"}, skipped: true},
		{name: "pool-wide error", event: agent.Event{Type: agent.EventError, Error: "x"}, skipped: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FromAgentEvent(tt.event)
			if tt.skipped {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromOrchestratorEvent(t *testing.T) {
	got, ok := FromOrchestratorEvent(orchestrator.Event{Type: orchestrator.EventRollback, Detail: "rolled back WI-001 to todo"})
	require.True(t, ok)
	assert.Equal(t, orchestrator.AgentName, got.Agent)
	assert.Equal(t, EventRollback, got.Event)
	assert.Equal(t, "rolled back WI-001 to todo", got.Content)

	got, ok = FromOrchestratorEvent(orchestrator.Event{Type: orchestrator.EventSpawn, Agent: "dev", Detail: "resource exhausted"})
	require.True(t, ok)
	assert.Equal(t, "spawn of dev failed: resource exhausted", got.Content)

	msg := orchestrator.Message{Role: orchestrator.RoleUser, Content: "ship it"}
	got, ok = FromOrchestratorEvent(orchestrator.Event{Type: orchestrator.EventMessage, Message: &msg})
	require.True(t, ok)
	assert.Equal(t, "user: ship it", got.Content)

	_, ok = FromOrchestratorEvent(orchestrator.Event{Type: orchestrator.EventTask})
	assert.False(t, ok)
}

func TestReader_Tail(t *testing.T) {
	db, mock := redismock.NewClientMock()
	reader := NewReader(db)

	mock.ExpectXRevRangeN("conductor:activity:dev", "+", "-", 2).SetVal([]redis.XMessage{
		{ID: "2-0", Values: map[string]interface{}{"timestamp": ts.Add(time.Second).Format(time.RFC3339Nano), "agent": "dev", "event": "text", "content": "second"}},
		{ID: "1-0", Values: map[string]interface{}{"timestamp": ts.Format(time.RFC3339Nano), "agent": "dev", "event": "text", "content": "first"}},
	})

	entries, err := reader.Tail(context.Background(), "dev", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Content)
	assert.Equal(t, "1-0", entries[0].ID)
	assert.True(t, entries[0].Timestamp.Equal(ts))
	assert.Equal(t, "second", entries[1].Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReader_Follow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	reader := NewReader(db)
	stop := errors.New("stop")

	mock.ExpectXRead(&redis.XReadArgs{Streams: []string{AllKey, "$"}, Block: time.Second, Count: 10}).RedisNil()
	mock.ExpectXRead(&redis.XReadArgs{Streams: []string{AllKey, "$"}, Block: time.Second, Count: 10}).SetVal([]redis.XStream{{
		Stream: AllKey,
		Messages: []redis.XMessage{
			{ID: "5-0", Values: map[string]interface{}{"agent": "dev", "event": "text", "content": "a"}},
			{ID: "6-0", Values: map[string]interface{}{"agent": "qa", "event": "text", "content": "b"}},
		},
	}})
	mock.ExpectXRead(&redis.XReadArgs{Streams: []string{AllKey, "6-0"}, Block: time.Second, Count: 10}).SetVal([]redis.XStream{{
		Stream:   AllKey,
		Messages: []redis.XMessage{{ID: "7-0", Values: map[string]interface{}{"agent": "dev", "event": "status", "content": "idle -> complete"}}},
	}})

	var seen []string
	err := reader.Follow(context.Background(), "", "", time.Second, func(e Entry) error {
		seen = append(seen, e.Agent+":"+e.Content)
		if len(seen) == 3 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []string{"dev:a", "qa:b", "dev:idle -> complete"}, seen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "a b...", Truncate("a\nbcdef", 3))
	assert.Equal(t, "unbounded", Truncate("unbounded", 0))
}
