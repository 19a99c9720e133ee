package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Step is one scripted action within a turn.
type Step struct {
	Text  string
	Tool  *ToolInvocation
	Fail  error
	Wait  <-chan struct{} // block until closed or the turn is cancelled
	Delay time.Duration
}

// Turn is the scripted outcome of one Open call.
type Turn struct {
	Steps   []Step
	CostUSD float64
	Result  string
}

// ToolResult records what a handler returned during a scripted turn.
type ToolResult struct {
	Call   ToolInvocation
	Output string
	Err    error
}

// Call records one Open invocation.
type Call struct {
	Request     Request
	SessionID   string
	ToolResults []ToolResult
}

// Responder chooses the turn for a request.
type Responder func(req Request) Turn

// Scripted is a deterministic in-process adapter. With a nil responder it
// echoes the prompt and completes at zero cost.
type Scripted struct {
	responder Responder

	mu    sync.Mutex
	calls []*Call
}

// NewScripted creates a scripted adapter.
func NewScripted(responder Responder) *Scripted {
	return &Scripted{responder: responder}
}

// Name implements Adapter.
func (s *Scripted) Name() string { return "scripted" }

// SetResponder swaps the responder for subsequent turns.
func (s *Scripted) SetResponder(r Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responder = r
}

// Open implements Adapter.
func (s *Scripted) Open(ctx context.Context, req Request) (*Stream, error) {
	s.mu.Lock()
	responder := s.responder
	sessionID := req.ResumeSessionID
	if sessionID == "" {
		sessionID = "scripted-" + uuid.New().String()[:8]
	}
	call := &Call{Request: req, SessionID: sessionID}
	s.calls = append(s.calls, call)
	s.mu.Unlock()

	turn := Turn{
		Steps:  []Step{{Text: "ack: " + req.Prompt}},
		Result: "ack: " + req.Prompt,
	}
	if responder != nil {
		turn = responder(req)
	}

	return Go(ctx, func(ctx context.Context, emit func(Event) error) error {
		started := time.Now()

		for _, step := range turn.Steps {
			if step.Delay > 0 {
				select {
				case <-time.After(step.Delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if step.Wait != nil {
				select {
				case <-step.Wait:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if step.Fail != nil {
				return fmt.Errorf("%w: %v", ErrBackend, step.Fail)
			}
			if step.Text != "" {
				if err := emit(TextEvent(step.Text)); err != nil {
					return err
				}
			}
			if step.Tool != nil {
				tc := *step.Tool
				if tc.ID == "" {
					tc.ID = "toolu_" + uuid.New().String()[:8]
				}
				if err := emit(ToolEvent(tc)); err != nil {
					return err
				}
				res := ToolResult{Call: tc}
				if req.Handler != nil {
					res.Output, res.Err = req.Handler(ctx, tc)
				}
				s.mu.Lock()
				call.ToolResults = append(call.ToolResults, res)
				s.mu.Unlock()
			}
		}

		return emit(CompletionEvent(Completion{
			SessionID:  sessionID,
			CostUSD:    turn.CostUSD,
			DurationMs: time.Since(started).Milliseconds(),
			Result:     turn.Result,
		}))
	}), nil
}

// Calls returns a copy of every recorded Open call.
func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	for i, c := range s.calls {
		out[i] = *c
		out[i].ToolResults = append([]ToolResult(nil), c.ToolResults...)
	}
	return out
}

// CallsFor returns the calls made on behalf of one agent label.
func (s *Scripted) CallsFor(agent string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Request.Agent == agent {
			out = append(out, c)
		}
	}
	return out
}
