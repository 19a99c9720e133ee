package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mbourmaud/conductor/internal/logger"
	"github.com/mbourmaud/conductor/internal/runtime"
)

// NotificationPrefix marks prompts injected by the system rather than a user.
const NotificationPrefix = "[SYSTEM NOTIFICATION] "

// SessionHooks receive session callbacks. They are never called with the
// session lock held, so they may call back into the session.
type SessionHooks struct {
	OnStatus func(name string, from, to Status)
	OnOutput func(name string, ev runtime.Event)
	OnError  func(name string, err error)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	Request      SpawnRequest
	SystemPrompt string
	Adapter      runtime.Adapter
	Tools        []runtime.ToolSpec
	Handler      runtime.ToolHandler
	Hooks        SessionHooks
	Logger       *logger.Logger
}

// Session drives one worker through its runtime turns.
//
// Every turn carries a generation number. Pause, MarkComplete and Stop bump
// it, so late events from a cancelled stream are drained and discarded
// instead of being applied to the log.
type Session struct {
	req          SpawnRequest
	systemPrompt string
	adapter      runtime.Adapter
	tools        []runtime.ToolSpec
	handler      runtime.ToolHandler
	hooks        SessionHooks
	log          *logger.Logger
	createdAt    time.Time

	mu            sync.Mutex
	status        Status
	paused        bool
	stopped       bool
	sessionID     string
	costUSD       float64
	messages      []Message
	pendingPrompt string
	queuedNotice  string
	lastErr       string
	cancel        context.CancelFunc
	turn          uint64

	wg sync.WaitGroup
}

// NewSession creates a session in the initializing state.
func NewSession(cfg SessionConfig) *Session {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Session{
		req:          cfg.Request,
		systemPrompt: cfg.SystemPrompt,
		adapter:      cfg.Adapter,
		tools:        cfg.Tools,
		handler:      cfg.Handler,
		hooks:        cfg.Hooks,
		log:          log.WithField("agent", cfg.Request.Name),
		createdAt:    time.Now(),
		status:       StatusInitializing,
	}
}

// Name returns the agent name.
func (s *Session) Name() string { return s.req.Name }

// Start moves the session to idle and submits the focus as the first prompt.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.status != StatusInitializing || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusIdle
	if s.req.Focus == "" {
		s.mu.Unlock()
		s.fireStatus(StatusInitializing, StatusIdle)
		return nil
	}
	run := s.beginTurnLocked(s.req.Focus)
	s.mu.Unlock()

	s.fireStatus(StatusInitializing, StatusIdle)
	s.fireStatus(StatusIdle, StatusProcessing)
	run()
	return nil
}

// SubmitPrompt starts a turn. While paused the prompt replaces whatever was
// buffered before; only the latest survives until Resume.
func (s *Session) SubmitPrompt(text string) error {
	s.mu.Lock()
	switch {
	case s.stopped || s.status.Terminal():
		st := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrSessionClosed, s.req.Name, st)
	case s.paused:
		s.pendingPrompt = text
		s.mu.Unlock()
		s.log.Debug("buffered prompt while paused")
		return nil
	case s.status == StatusProcessing, s.status == StatusInitializing:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBusy, s.req.Name)
	}

	from := s.status
	run := s.beginTurnLocked(text)
	s.mu.Unlock()

	s.fireStatus(from, StatusProcessing)
	run()
	return nil
}

// InjectNotification logs a system message and submits it wrapped with
// NotificationPrefix. A paused agent keeps it in the single pending slot like
// any other prompt. A processing agent gets it once the turn ends.
func (s *Session) InjectNotification(text string) error {
	wrapped := NotificationPrefix + text

	s.mu.Lock()
	if s.stopped || s.status.Terminal() {
		st := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrSessionClosed, s.req.Name, st)
	}
	s.messages = append(s.messages, Message{Role: RoleSystem, Content: text, Timestamp: time.Now()})
	if !s.paused && (s.status == StatusProcessing || s.status == StatusInitializing) {
		s.queuedNotice = wrapped
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return s.SubmitPrompt(wrapped)
}

// Pause cancels the in-flight turn, if any, and parks the session.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.stopped || s.status.Terminal() {
		st := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrSessionClosed, s.req.Name, st)
	}
	if s.paused {
		s.mu.Unlock()
		return nil
	}
	from := s.status
	s.paused = true
	s.abortTurnLocked()
	s.status = StatusPaused
	s.mu.Unlock()

	s.fireStatus(from, StatusPaused)
	return nil
}

// Resume returns a paused session to idle and submits the buffered prompt,
// clearing the slot first.
func (s *Session) Resume() error {
	s.mu.Lock()
	if !s.paused {
		s.mu.Unlock()
		return nil
	}
	s.paused = false
	s.status = StatusIdle

	prompt := s.pendingPrompt
	s.pendingPrompt = ""
	if prompt == "" {
		prompt = s.queuedNotice
		s.queuedNotice = ""
	}
	if prompt == "" {
		s.mu.Unlock()
		s.fireStatus(StatusPaused, StatusIdle)
		return nil
	}
	run := s.beginTurnLocked(prompt)
	s.mu.Unlock()

	s.fireStatus(StatusPaused, StatusIdle)
	s.fireStatus(StatusIdle, StatusProcessing)
	run()
	return nil
}

// MarkComplete ends the agent's work. Any turn in flight is cancelled and
// buffered prompts are dropped.
func (s *Session) MarkComplete(summary string) {
	s.mu.Lock()
	if s.stopped || s.status == StatusComplete {
		s.mu.Unlock()
		return
	}
	from := s.status
	s.abortTurnLocked()
	s.paused = false
	s.pendingPrompt = ""
	s.queuedNotice = ""
	s.status = StatusComplete
	if summary != "" {
		s.messages = append(s.messages, Message{Role: RoleSystem, Content: "Completed: " + summary, Timestamp: time.Now()})
	}
	s.mu.Unlock()

	s.fireStatus(from, StatusComplete)
}

// Stop cancels any turn and refuses further prompts. It fires no hooks.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.abortTurnLocked()
}

// Wait blocks until every turn goroutine has exited.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Info returns a snapshot.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		Name:             s.req.Name,
		Role:             s.req.Role,
		Focus:            s.req.Focus,
		Status:           s.status,
		SessionID:        s.sessionID,
		CostUSD:          s.costUSD,
		WaitFor:          append([]string(nil), s.req.WaitFor...),
		WorkItemID:       s.req.WorkItemID,
		WorkingDirectory: s.req.WorkingDirectory,
		PendingPrompt:    s.pendingPrompt,
		Error:            s.lastErr,
		MessageCount:     len(s.messages),
		CreatedAt:        s.createdAt,
	}
}

// Messages returns a copy of the log.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

func (s *Session) beginTurnLocked(prompt string) func() {
	s.messages = append(s.messages, Message{Role: RoleUser, Content: prompt, Timestamp: time.Now()})
	s.status = StatusProcessing
	s.lastErr = ""

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.turn++
	gen := s.turn

	req := runtime.Request{
		Agent:           s.req.Name,
		Prompt:          prompt,
		SystemPrompt:    s.systemPrompt,
		Tools:           s.tools,
		Handler:         s.handler,
		ResumeSessionID: s.sessionID,
	}

	s.wg.Add(1)
	return func() { go s.run(ctx, gen, req) }
}

func (s *Session) abortTurnLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.turn++
}

func (s *Session) run(ctx context.Context, gen uint64, req runtime.Request) {
	defer s.wg.Done()

	stream, err := s.adapter.Open(ctx, req)
	if err != nil {
		s.finish(gen, err)
		return
	}
	for ev := range stream.Events() {
		if s.record(gen, ev) && s.hooks.OnOutput != nil {
			s.hooks.OnOutput(s.req.Name, ev)
		}
	}
	s.finish(gen, stream.Wait())
}

func (s *Session) record(gen uint64, ev runtime.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.turn {
		return false
	}

	now := time.Now()
	switch ev.Kind {
	case runtime.KindText:
		s.messages = append(s.messages, Message{Role: RoleAssistant, Content: ev.Text, Timestamp: now})
	case runtime.KindToolCall:
		args, _ := json.Marshal(ev.ToolCall.Arguments)
		s.messages = append(s.messages, Message{
			Role:      RoleTool,
			Content:   string(args),
			ToolName:  ev.ToolCall.Name,
			Timestamp: now,
		})
	case runtime.KindCompletion:
		if ev.Completion.SessionID != "" {
			s.sessionID = ev.Completion.SessionID
		}
		s.costUSD += ev.Completion.CostUSD
	}
	return true
}

func (s *Session) finish(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.turn {
		s.mu.Unlock()
		return
	}
	s.cancel = nil
	from := s.status

	var to Status
	switch {
	case err == nil:
		to = StatusIdle
	case runtime.IsCancellation(err):
		to = StatusIdle
		if s.paused {
			to = StatusPaused
		}
	default:
		to = StatusError
		s.lastErr = err.Error()
	}
	s.status = to

	var notice string
	if to == StatusIdle {
		notice, s.queuedNotice = s.queuedNotice, ""
	}
	s.mu.Unlock()

	if to == StatusError {
		s.log.Error("turn failed: %v", err)
		if s.hooks.OnError != nil {
			s.hooks.OnError(s.req.Name, fmt.Errorf("%w: %s: %v", ErrStreamFailure, s.req.Name, err))
		}
	}
	s.fireStatus(from, to)

	if notice != "" {
		if err := s.SubmitPrompt(notice); errors.Is(err, ErrBusy) {
			s.requeueNotice(notice)
		}
	}
}

func (s *Session) requeueNotice(notice string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queuedNotice == "" {
		s.queuedNotice = notice
	}
}

func (s *Session) fireStatus(from, to Status) {
	if from == to {
		return
	}
	s.log.Debug("status %s -> %s", from, to)
	if s.hooks.OnStatus != nil {
		s.hooks.OnStatus(s.req.Name, from, to)
	}
}
