// Package runtime defines the boundary to the language-model backend: a
// cancellable, resumable producer of text, tool invocation and completion
// events. Adapters own the tool-result round trip.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// EventKind identifies an output event.
type EventKind string

const (
	KindText       EventKind = "text"
	KindToolCall   EventKind = "tool_invocation"
	KindCompletion EventKind = "completion"
)

// Event is one item of an adapter stream. Exactly one payload is set.
type Event struct {
	Kind       EventKind       `json:"kind"`
	Text       string          `json:"text,omitempty"`
	ToolCall   *ToolInvocation `json:"tool_call,omitempty"`
	Completion *Completion     `json:"completion,omitempty"`
}

// ToolInvocation is a model request to run a tool.
type ToolInvocation struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// Completion closes a successful turn.
type Completion struct {
	SessionID  string  `json:"session_id"`
	CostUSD    float64 `json:"cost_usd"`
	DurationMs int64   `json:"duration_ms"`
	Result     string  `json:"result,omitempty"`
}

// TextEvent builds a text chunk event.
func TextEvent(text string) Event {
	return Event{Kind: KindText, Text: text}
}

// ToolEvent builds a tool invocation event.
func ToolEvent(call ToolInvocation) Event {
	return Event{Kind: KindToolCall, ToolCall: &call}
}

// CompletionEvent builds a completion event.
func CompletionEvent(c Completion) Event {
	return Event{Kind: KindCompletion, Completion: &c}
}

// ToolHandler executes a tool on behalf of the model. The returned text is
// fed back to the model; a non-nil error is fed back as an error result.
type ToolHandler func(ctx context.Context, call ToolInvocation) (string, error)

// Request describes one turn.
type Request struct {
	Agent           string // label for logs and activity
	Prompt          string
	SystemPrompt    string
	Tools           []ToolSpec
	Handler         ToolHandler
	ResumeSessionID string
}

// Adapter opens turns against a backend.
type Adapter interface {
	Name() string
	Open(ctx context.Context, req Request) (*Stream, error)
}

// SessionForgetter is implemented by adapters that keep per-session state
// between turns. The pool calls it once a worker is gone.
type SessionForgetter interface {
	ForgetSession(id string)
}

// ErrBackend marks failures reported by the model backend itself.
var ErrBackend = errors.New("runtime backend error")

// Stream is the ordered event sequence of one turn. Events is closed when the
// turn ends; Err then reports why. A cancelled turn reports an error wrapping
// context.Canceled.
type Stream struct {
	events chan Event
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Go runs produce in its own goroutine and returns the stream it feeds.
// emit blocks until the consumer takes the event or ctx is cancelled.
func Go(ctx context.Context, produce func(ctx context.Context, emit func(Event) error) error) *Stream {
	s := &Stream{
		events: make(chan Event),
		done:   make(chan struct{}),
	}

	emit := func(ev Event) error {
		select {
		case s.events <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: producer panic: %v", ErrBackend, r)
			}
			if err == nil && ctx.Err() != nil {
				err = ctx.Err()
			}
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			close(s.events)
			close(s.done)
		}()
		err = produce(ctx, emit)
	}()

	return s
}

// Events returns the event channel.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Wait blocks until the producer has finished and returns its error.
func (s *Stream) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// IsCancellation reports whether err stems from a cancelled turn.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
