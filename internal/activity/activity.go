// Package activity records agent and orchestrator output to Redis streams
// and reads it back for `conductor logs`.
package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/logger"
	"github.com/mbourmaud/conductor/internal/orchestrator"
	"github.com/mbourmaud/conductor/internal/runtime"
)

const (
	// KeyPrefix prefixes every activity stream.
	KeyPrefix = "conductor:activity:"
	// AllKey is the stream that receives every entry.
	AllKey = KeyPrefix + "all"
	// DefaultMaxLen bounds each stream (approximate trimming).
	DefaultMaxLen = 10000
)

// Event names written to the streams.
const (
	EventText      = "text"
	EventToolCall  = "tool_call"
	EventTurnDone  = "turn_complete"
	EventStatus    = "status"
	EventSpawned   = "spawned"
	EventWaiting   = "waiting"
	EventDestroyed = "destroyed"
	EventError     = "error"
	EventMessage   = "message"
	EventTask      = "task"
	EventSpawn     = "spawn"
	EventRollback  = "rollback"
)

// StreamKey returns the stream of one agent, or AllKey for an empty name.
func StreamKey(agentName string) string {
	if agentName == "" || agentName == "all" {
		return AllKey
	}
	return KeyPrefix + agentName
}

// Entry is one activity record.
type Entry struct {
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Agent     string    `json:"agent"`
	Event     string    `json:"event"`
	Content   string    `json:"content"`
}

func (e Entry) values() []interface{} {
	return []interface{}{
		"timestamp", e.Timestamp.UTC().Format(time.RFC3339Nano),
		"agent", e.Agent,
		"event", e.Event,
		"content", e.Content,
	}
}

func parseEntry(msg redis.XMessage) Entry {
	str := func(key string) string {
		if v, ok := msg.Values[key]; ok {
			return fmt.Sprintf("%v", v)
		}
		return ""
	}
	e := Entry{ID: msg.ID, Agent: str("agent"), Event: str("event"), Content: str("content")}
	if ts, err := time.Parse(time.RFC3339Nano, str("timestamp")); err == nil {
		e.Timestamp = ts
	}
	return e
}

// Recorder appends entries to the per-agent stream and the shared stream.
type Recorder struct {
	rdb    redis.Cmdable
	maxLen int64
	log    *logger.Logger
}

// NewRecorder creates a recorder. maxLen <= 0 uses DefaultMaxLen.
func NewRecorder(rdb redis.Cmdable, maxLen int64, log *logger.Logger) *Recorder {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if log == nil {
		log = logger.Default()
	}
	return &Recorder{rdb: rdb, maxLen: maxLen, log: log.Component("activity")}
}

// Record writes one entry to both streams.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	for _, key := range []string{StreamKey(e.Agent), AllKey} {
		err := r.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: key,
			MaxLen: r.maxLen,
			Approx: true,
			Values: e.values(),
		}).Err()
		if err != nil {
			return fmt.Errorf("appending to %s: %w", key, err)
		}
	}
	return nil
}

// Run records pool and orchestrator events until ctx is done or both
// channels are closed. Either channel may be nil.
func (r *Recorder) Run(ctx context.Context, pool <-chan agent.Event, orch <-chan orchestrator.Event) {
	for pool != nil || orch != nil {
		var (
			entry Entry
			ok    bool
		)
		select {
		case <-ctx.Done():
			return
		case ev, open := <-pool:
			if !open {
				pool = nil
				continue
			}
			entry, ok = FromAgentEvent(ev)
		case ev, open := <-orch:
			if !open {
				orch = nil
				continue
			}
			entry, ok = FromOrchestratorEvent(ev)
		}
		if !ok {
			continue
		}
		if err := r.Record(ctx, entry); err != nil {
			r.log.Warn("recording %s/%s: %v", entry.Agent, entry.Event, err)
		}
	}
}

// FromAgentEvent maps a pool event to an entry. Pool snapshots and claim
// updates are not recorded.
func FromAgentEvent(ev agent.Event) (Entry, bool) {
	e := Entry{Timestamp: ev.Timestamp, Agent: ev.Agent}
	switch ev.Type {
	case agent.EventOutput:
		if ev.Output == nil {
			return Entry{}, false
		}
		return fromOutput(e, *ev.Output), true
	case agent.EventStatus:
		e.Event = EventStatus
		e.Content = fmt.Sprintf("%s -> %s", ev.Previous, ev.Status)
	case agent.EventSpawned:
		e.Event = EventSpawned
		e.Content = string(ev.Status)
	case agent.EventWaiting:
		e.Event = EventWaiting
		e.Content = string(ev.Status)
	case agent.EventDestroyed:
		e.Event = EventDestroyed
	case agent.EventError:
		e.Event = EventError
		e.Content = ev.Error
	default:
		return Entry{}, false
	}
	if e.Agent == "" {
		return Entry{}, false
	}
	return e, true
}

// FromOrchestratorEvent maps an orchestrator event to an entry.
func FromOrchestratorEvent(ev orchestrator.Event) (Entry, bool) {
	e := Entry{Timestamp: ev.Timestamp, Agent: orchestrator.AgentName}
	switch ev.Type {
	case orchestrator.EventOutput:
		if ev.Output == nil {
			return Entry{}, false
		}
		return fromOutput(e, *ev.Output), true
	case orchestrator.EventMessage:
		if ev.Message == nil {
			return Entry{}, false
		}
		e.Event = EventMessage
		e.Content = fmt.Sprintf("%s: %s", ev.Message.Role, ev.Message.Content)
	case orchestrator.EventTask:
		if ev.Task == nil {
			return Entry{}, false
		}
		e.Event = EventTask
		e.Content = fmt.Sprintf("%s %s (%s)", ev.Task.Status, ev.Task.ID, ev.Task.Source)
	case orchestrator.EventSpawn:
		e.Event = EventSpawn
		if ev.Success {
			e.Content = fmt.Sprintf("spawned %s", ev.Agent)
		} else {
			e.Content = fmt.Sprintf("spawn of %s failed: %s", ev.Agent, ev.Detail)
		}
	case orchestrator.EventRollback:
		e.Event = EventRollback
		e.Content = ev.Detail
	default:
		return Entry{}, false
	}
	return e, true
}

func fromOutput(e Entry, out runtime.Event) Entry {
	switch out.Kind {
	case runtime.KindText:
		e.Event = EventText
		e.Content = out.Text
	case runtime.KindToolCall:
		e.Event = EventToolCall
		if out.ToolCall != nil {
			e.Content = out.ToolCall.Name
		}
	case runtime.KindCompletion:
		e.Event = EventTurnDone
		if out.Completion != nil {
			e.Content = fmt.Sprintf("$%.4f in %dms", out.Completion.CostUSD, out.Completion.DurationMs)
		}
	}
	return e
}

// Reader reads activity streams.
type Reader struct {
	rdb redis.Cmdable
}

// NewReader creates a reader.
func NewReader(rdb redis.Cmdable) *Reader {
	return &Reader{rdb: rdb}
}

// Tail returns the last n entries of a stream, oldest first.
func (r *Reader) Tail(ctx context.Context, agentName string, n int64) ([]Entry, error) {
	if n <= 0 {
		n = 100
	}
	msgs, err := r.rdb.XRevRangeN(ctx, StreamKey(agentName), "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", StreamKey(agentName), err)
	}
	out := make([]Entry, len(msgs))
	for i, msg := range msgs {
		out[len(msgs)-1-i] = parseEntry(msg)
	}
	return out, nil
}

// Follow blocks on a stream and calls fn for every new entry after lastID
// ("$" for entries added from now on). It returns when ctx is done or fn
// returns an error.
func (r *Reader) Follow(ctx context.Context, agentName, lastID string, block time.Duration, fn func(Entry) error) error {
	if lastID == "" {
		lastID = "$"
	}
	key := StreamKey(agentName)
	for {
		streams, err := r.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, lastID},
			Block:   block,
			Count:   10,
		}).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading %s: %w", key, err)
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				if err := fn(parseEntry(msg)); err != nil {
					return err
				}
				lastID = msg.ID
			}
		}
	}
}

// Truncate shortens content for one-line display.
func Truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
