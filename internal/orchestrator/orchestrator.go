package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/event"
	"github.com/mbourmaud/conductor/internal/logger"
	"github.com/mbourmaud/conductor/internal/mailbox"
	"github.com/mbourmaud/conductor/internal/runtime"
	"github.com/mbourmaud/conductor/internal/workitem"
)

// Config configures an Orchestrator.
type Config struct {
	SystemPrompt string
	// AutoReport enqueues a task whenever a worker completes or fails.
	AutoReport bool
	Logger     *logger.Logger
}

// Orchestrator drains submitted tasks one at a time through a single
// runtime session. At most one turn is in flight.
type Orchestrator struct {
	pool    *agent.Pool
	items   workitem.Store
	adapter runtime.Adapter
	cfg     Config
	log     *logger.Logger
	queue   *Queue
	events  *event.Broker[Event]

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu        sync.Mutex
	messages  []Message
	draining  bool
	closed    bool
	sessionID string
	costUSD   float64
	cancel    context.CancelFunc
	poolSub   chan agent.Event

	// statusFn overrides the snapshot used for spawn verification.
	statusFn func() agent.PoolStatus
}

// New creates an orchestrator and hooks it up to the pool's mail and events.
func New(cfg Config, pool *agent.Pool, items workitem.Store, adapter runtime.Adapter) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if items == nil {
		items = workitem.NewMemoryStore()
	}

	ctx, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		pool:    pool,
		items:   items,
		adapter: adapter,
		cfg:     cfg,
		log:     cfg.Logger.Component("orchestrator"),
		queue:   NewQueue(0),
		events:  event.NewBroker[Event](),
		ctx:     ctx,
		stop:    stop,
	}

	pool.SetMailHook(o.onMail)
	if cfg.AutoReport {
		o.poolSub = pool.Subscribe(256)
		o.wg.Add(1)
		go o.watchPool(o.poolSub)
	}
	return o
}

// Pool returns the worker pool.
func (o *Orchestrator) Pool() *agent.Pool { return o.pool }

// Items returns the work-item store.
func (o *Orchestrator) Items() workitem.Store { return o.items }

// SubmitTask logs a user message and queues it. It never waits for the turn.
func (o *Orchestrator) SubmitTask(text string) (Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Task{}, fmt.Errorf("task text is required")
	}
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return Task{}, fmt.Errorf("orchestrator is closed")
	}

	o.appendMessage(Message{Role: RoleUser, Content: text})
	return o.enqueue(text, SourceUser), nil
}

// Report appends a report entry to the conversation.
func (o *Orchestrator) Report(typ ReportType, text string) {
	o.appendMessage(Message{Role: RoleOrchestrator, Content: text, ReportType: typ})
}

func (o *Orchestrator) enqueue(text string, source TaskSource) Task {
	task := o.queue.Enqueue(text, source)
	o.publish(Event{Type: EventTask, Task: &task, QueueDepth: o.queue.Depth()})

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed && !o.draining {
		o.draining = true
		o.wg.Add(1)
		go o.drain()
	}
	return task
}

func (o *Orchestrator) drain() {
	defer o.wg.Done()

	for {
		o.mu.Lock()
		if o.closed {
			o.draining = false
			o.mu.Unlock()
			return
		}
		task, ok := o.queue.Next()
		if !ok {
			o.draining = false
			o.mu.Unlock()
			return
		}
		ctx, cancel := context.WithCancel(o.ctx)
		o.cancel = cancel
		o.mu.Unlock()

		o.publish(Event{Type: EventTask, Task: &task, QueueDepth: o.queue.Depth()})
		o.processTask(ctx, task)
		cancel()

		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
	}
}

// processTask runs exactly one runtime turn for a task.
func (o *Orchestrator) processTask(ctx context.Context, task Task) {
	o.mu.Lock()
	resume := o.sessionID
	o.mu.Unlock()

	o.log.Debug("processing task %s (%s)", task.ID, task.Source)
	started := time.Now()

	stream, err := o.adapter.Open(ctx, runtime.Request{
		Agent:           AgentName,
		Prompt:          task.Text,
		SystemPrompt:    o.cfg.SystemPrompt,
		Tools:           Tools(),
		Handler:         o.HandleToolCall,
		ResumeSessionID: resume,
	})
	if err != nil {
		o.failTask(task, err)
		return
	}

	var text strings.Builder
	var cost float64
	for ev := range stream.Events() {
		switch ev.Kind {
		case runtime.KindText:
			if text.Len() > 0 {
				text.WriteString("\n\n")
			}
			text.WriteString(ev.Text)
		case runtime.KindCompletion:
			cost = ev.Completion.CostUSD
			o.mu.Lock()
			if ev.Completion.SessionID != "" {
				o.sessionID = ev.Completion.SessionID
			}
			o.costUSD += cost
			o.mu.Unlock()
		}
		out := ev
		o.publish(Event{Type: EventOutput, Output: &out})
	}
	err = stream.Wait()

	if text.Len() > 0 {
		o.appendMessage(Message{Role: RoleAssistant, Content: text.String()})
	}

	switch {
	case err == nil:
		_ = o.queue.Complete(task.ID, text.String(), cost)
		o.log.Debug("task %s done in %s", task.ID, time.Since(started).Round(time.Millisecond))
	case runtime.IsCancellation(err):
		_ = o.queue.Fail(task.ID, "cancelled")
	default:
		o.failTask(task, err)
	}
	if t, err := o.queue.Get(task.ID); err == nil {
		o.publish(Event{Type: EventTask, Task: &t, QueueDepth: o.queue.Depth()})
	}
}

func (o *Orchestrator) failTask(task Task, err error) {
	o.log.Error("task %s failed: %v", task.ID, err)
	_ = o.queue.Fail(task.ID, err.Error())
	o.appendMessage(Message{
		Role:       RoleOrchestrator,
		Content:    fmt.Sprintf("Task failed: %v", err),
		ReportType: ReportError,
	})
}

// onMail wakes the orchestrator for mail from workers. The body stays in the
// mailbox until read_mail.
func (o *Orchestrator) onMail(msg mailbox.Message) {
	if msg.From == mailbox.Orchestrator {
		return
	}
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return
	}
	o.enqueue(fmt.Sprintf("New mail from %s: %q (message id %s). Read it with read_mail and act on it.",
		msg.From, msg.Subject, msg.ID), SourceMail)
}

func (o *Orchestrator) watchPool(events chan agent.Event) {
	defer o.wg.Done()
	for ev := range events {
		if ev.Type != agent.EventStatus {
			continue
		}
		switch ev.Status {
		case agent.StatusComplete:
			o.enqueue(fmt.Sprintf("Agent %s is complete. Review its work, update the board and decide what comes next.", ev.Agent), SourceReport)
		case agent.StatusError:
			detail := ""
			if info, err := o.pool.Get(ev.Agent); err == nil && info.Error != "" {
				detail = ": " + info.Error
			}
			o.enqueue(fmt.Sprintf("Agent %s failed%s. Decide whether to destroy it and respawn the work.", ev.Agent, detail), SourceReport)
		}
	}
}

// Messages returns a copy of the conversation.
func (o *Orchestrator) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.messages...)
}

// Tasks returns recent and pending tasks.
func (o *Orchestrator) Tasks() []Task { return o.queue.List() }

// QueueDepth returns the number of tasks not yet started.
func (o *Orchestrator) QueueDepth() int { return o.queue.Depth() }

// Draining reports whether the drain loop is running.
func (o *Orchestrator) Draining() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.draining
}

// SessionID returns the runtime session handle of the orchestrator.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// CostUSD returns the orchestrator's own spend.
func (o *Orchestrator) CostUSD() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.costUSD
}

// Subscribe returns a channel of orchestrator events.
func (o *Orchestrator) Subscribe(buffer int) chan Event { return o.events.Subscribe(buffer) }

// Unsubscribe closes a channel returned by Subscribe.
func (o *Orchestrator) Unsubscribe(ch chan Event) { o.events.Unsubscribe(ch) }

// Close cancels the running turn, drops pending tasks and waits for the
// drain loop until ctx is done. The pool is left to its owner.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	if o.cancel != nil {
		o.cancel()
	}
	sub := o.poolSub
	o.mu.Unlock()

	if n := o.queue.Cancel(); n > 0 {
		o.log.Info("dropped %d pending task(s)", n)
	}
	o.stop()
	if sub != nil {
		o.pool.Unsubscribe(sub)
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	o.events.Close()
	return err
}

func (o *Orchestrator) appendMessage(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	o.mu.Lock()
	o.messages = append(o.messages, msg)
	o.mu.Unlock()
	o.publish(Event{Type: EventMessage, Message: &msg, QueueDepth: o.queue.Depth()})
}

func (o *Orchestrator) publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	o.events.Publish(ev)
}

func (o *Orchestrator) status() agent.PoolStatus {
	if o.statusFn != nil {
		return o.statusFn()
	}
	return o.pool.Status()
}
