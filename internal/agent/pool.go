package agent

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mbourmaud/conductor/internal/event"
	"github.com/mbourmaud/conductor/internal/lease"
	"github.com/mbourmaud/conductor/internal/logger"
	"github.com/mbourmaud/conductor/internal/mailbox"
	"github.com/mbourmaud/conductor/internal/runtime"
)

// DefaultMaxConcurrentAgents is used when PoolConfig leaves the ceiling unset.
const DefaultMaxConcurrentAgents = 4

// PoolConfig configures a Pool.
type PoolConfig struct {
	MaxConcurrentAgents int
	// BasePrompt is prepended to every worker's system prompt.
	BasePrompt string
	Logger     *logger.Logger
}

// MailHook receives mail addressed to the orchestrator.
type MailHook func(msg mailbox.Message)

// Pool owns the live workers, the dependency wait queue and, through the
// lease manager, their file claims.
//
// Lock order is pool.mu before any session lock. Session methods that fire
// hooks are never called with pool.mu held.
type Pool struct {
	cfg     PoolConfig
	adapter runtime.Adapter
	leases  *lease.Manager
	mail    *mailbox.Router
	log     *logger.Logger
	events  *event.Broker[Event]

	mu       sync.RWMutex
	live     map[string]*Session
	order    []string
	pending  []pendingEntry
	closed   bool
	mailHook MailHook
}

type pendingEntry struct {
	req       SpawnRequest
	createdAt time.Time
}

// NewPool creates a pool. Nil lease manager or router get private in-memory
// instances.
func NewPool(cfg PoolConfig, adapter runtime.Adapter, leases *lease.Manager, mail *mailbox.Router) *Pool {
	if cfg.MaxConcurrentAgents <= 0 {
		cfg.MaxConcurrentAgents = DefaultMaxConcurrentAgents
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if leases == nil {
		leases = lease.NewManager(lease.Options{}, nil)
	}
	if mail == nil {
		mail = mailbox.NewRouter(nil, nil)
	}
	return &Pool{
		cfg:     cfg,
		adapter: adapter,
		leases:  leases,
		mail:    mail,
		log:     cfg.Logger.Component("pool"),
		events:  event.NewBroker[Event](),
		live:    make(map[string]*Session),
	}
}

// SetMailHook registers the receiver of mail sent to the orchestrator.
func (p *Pool) SetMailHook(hook MailHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mailHook = hook
}

// MaxConcurrent returns the concurrency ceiling.
func (p *Pool) MaxConcurrent() int { return p.cfg.MaxConcurrentAgents }

// Leases returns the lease manager.
func (p *Pool) Leases() *lease.Manager { return p.leases }

// Mail returns the mailbox router.
func (p *Pool) Mail() *mailbox.Router { return p.mail }

// Spawn starts a worker, or queues it when its wait-for set is not yet
// complete. Queued workers come back as a placeholder in StatusWaiting.
func (p *Pool) Spawn(ctx context.Context, req SpawnRequest) (*Info, error) {
	req, err := normalizeRequest(req)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	req.Name = p.uniqueNameLocked(req.Name)

	if cycle := findCycle(req.Name, req.WaitFor, p.pendingEdgesLocked()); cycle != nil {
		p.mu.Unlock()
		err := fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(cycle, " -> "))
		p.publishError(req.Name, err)
		return nil, err
	}

	if len(p.live) >= p.cfg.MaxConcurrentAgents {
		live := len(p.live)
		p.mu.Unlock()
		err := fmt.Errorf("%w: %d/%d agents running", ErrResourceExhausted, live, p.cfg.MaxConcurrentAgents)
		p.publishError(req.Name, err)
		return nil, err
	}

	if !p.satisfiedLocked(req.WaitFor) {
		entry := pendingEntry{req: req, createdAt: time.Now()}
		p.pending = append(p.pending, entry)
		p.mu.Unlock()

		p.log.Info("agent %s waiting for %s", req.Name, strings.Join(req.WaitFor, ", "))
		p.publish(Event{Type: EventWaiting, Agent: req.Name, Status: StatusWaiting})
		p.publishStatus()
		info := entry.info()
		return &info, nil
	}

	s := p.addSessionLocked(req)
	p.mu.Unlock()

	p.startSession(s)
	p.publishStatus()
	info := s.Info()
	return &info, nil
}

// Destroy stops a worker, drops its claims and removes it from the pool.
// Pending workers are simply dequeued.
func (p *Pool) Destroy(ctx context.Context, name string) error {
	p.mu.Lock()
	s, ok := p.live[name]
	if ok {
		delete(p.live, name)
		p.order = slices.DeleteFunc(p.order, func(n string) bool { return n == name })
	} else {
		idx := slices.IndexFunc(p.pending, func(e pendingEntry) bool { return e.req.Name == name })
		if idx < 0 {
			p.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		p.pending = slices.Delete(p.pending, idx, idx+1)
	}
	p.mu.Unlock()

	if s != nil {
		s.Stop()
		go func() {
			s.Wait()
			p.forgetSession(s)
		}()
	}
	if released := p.leases.Release(name); len(released) > 0 {
		p.publishClaims(name)
	}

	p.log.Info("agent %s destroyed", name)
	p.publish(Event{Type: EventDestroyed, Agent: name})

	p.rescan()
	p.publishStatus()
	return nil
}

// Complete marks a worker's work as done. Dependents waiting on it may start.
func (p *Pool) Complete(name, summary string) error {
	s, err := p.session(name)
	if err != nil {
		return err
	}
	s.MarkComplete(summary)
	return nil
}

// Pause pauses a live worker.
func (p *Pool) Pause(name string) error {
	s, err := p.session(name)
	if err != nil {
		return err
	}
	return s.Pause()
}

// Resume resumes a paused worker.
func (p *Pool) Resume(name string) error {
	s, err := p.session(name)
	if err != nil {
		return err
	}
	return s.Resume()
}

// SubmitPrompt sends a prompt to a live worker.
func (p *Pool) SubmitPrompt(name, text string) error {
	s, err := p.session(name)
	if err != nil {
		return err
	}
	return s.SubmitPrompt(text)
}

// Notify injects a system notification into a live worker.
func (p *Pool) Notify(name, text string) error {
	s, err := p.session(name)
	if err != nil {
		return err
	}
	return s.InjectNotification(text)
}

// SendMail stores a message and wakes the recipient. Workers get a
// notification naming the message id; the body is only handed out by
// read_mail. Mail to the orchestrator goes to the mail hook.
func (p *Pool) SendMail(ctx context.Context, req mailbox.SendRequest) (*mailbox.Message, error) {
	msg, err := p.mail.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	p.wake(msg)
	return msg, nil
}

func (p *Pool) wake(msg *mailbox.Message) {
	p.mu.RLock()
	hook := p.mailHook
	s := p.live[msg.To]
	p.mu.RUnlock()

	if msg.To == mailbox.Orchestrator {
		if hook != nil {
			hook(*msg)
		}
		return
	}
	if s == nil {
		return
	}
	if !s.Status().Reachable() {
		p.log.Debug("not notifying %s of mail %s: %s", msg.To, msg.ID, s.Status())
		return
	}

	note := fmt.Sprintf("New mail from %s (id: %s). Subject: %s. Use read_mail with this id to read it.",
		msg.From, msg.ID, msg.Subject)
	if err := s.InjectNotification(note); err != nil {
		p.log.Warn("notifying %s of mail %s: %v", msg.To, msg.ID, err)
	}
}

// Claim acquires file claims on behalf of a worker and announces the new
// claim set.
func (p *Pool) Claim(ctx context.Context, req lease.AcquireRequest) (*lease.AcquireResult, error) {
	if strings.TrimSpace(req.AgentName) == "" {
		return nil, fmt.Errorf("%w: agent_name is required", ErrInvalidRequest)
	}
	res, err := p.leases.Acquire(ctx, req)
	if err != nil {
		return nil, err
	}
	p.publishClaims(req.AgentName)
	return res, nil
}

// ReleaseClaim drops a single claim by id.
func (p *Pool) ReleaseClaim(id string) (lease.Claim, error) {
	c, err := p.leases.ReleaseClaim(id)
	if err != nil {
		return lease.Claim{}, err
	}
	p.publishClaims(c.AgentName)
	return c, nil
}

// Get returns a snapshot of a live or pending worker.
func (p *Pool) Get(name string) (Info, error) {
	p.mu.RLock()
	s, ok := p.live[name]
	if !ok {
		for _, e := range p.pending {
			if e.req.Name == name {
				p.mu.RUnlock()
				return e.info(), nil
			}
		}
		p.mu.RUnlock()
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	p.mu.RUnlock()
	return s.Info(), nil
}

// Messages returns a live worker's log.
func (p *Pool) Messages(name string) ([]Message, error) {
	s, err := p.session(name)
	if err != nil {
		return nil, err
	}
	return s.Messages(), nil
}

// Names returns live workers in spawn order followed by pending ones.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := append([]string(nil), p.order...)
	for _, e := range p.pending {
		names = append(names, e.req.Name)
	}
	return names
}

// LiveCount returns the number of started workers.
func (p *Pool) LiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.live)
}

// Status returns a pool snapshot. Agents and pending names are read under one
// lock so a worker never shows up in both or in neither.
func (p *Pool) Status() PoolStatus {
	p.mu.RLock()
	agents := make([]Info, 0, len(p.order))
	var total float64
	for _, name := range p.order {
		info := p.live[name].Info()
		total += info.CostUSD
		agents = append(agents, info)
	}
	pending := make([]string, 0, len(p.pending))
	for _, e := range p.pending {
		pending = append(pending, e.req.Name)
	}
	p.mu.RUnlock()

	unread, err := p.mail.UnreadCount(context.Background(), mailbox.Orchestrator)
	if err != nil {
		p.log.Warn("counting orchestrator mail: %v", err)
	}

	return PoolStatus{
		Agents:        agents,
		Pending:       pending,
		TotalCostUSD:  total,
		MaxConcurrent: p.cfg.MaxConcurrentAgents,
		Leases:        p.leases.Unexpired(time.Now()),
		UnreadMail:    unread,
	}
}

// Subscribe returns a channel of pool events.
func (p *Pool) Subscribe(buffer int) chan Event {
	return p.events.Subscribe(buffer)
}

// Unsubscribe closes a channel returned by Subscribe.
func (p *Pool) Unsubscribe(ch chan Event) {
	p.events.Unsubscribe(ch)
}

// Close stops every worker, clears the queue and closes subscriber channels.
// It waits for turn goroutines to exit until ctx is done.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	sessions := make([]*Session, 0, len(p.live))
	for _, name := range p.order {
		sessions = append(sessions, p.live[name])
	}
	p.live = make(map[string]*Session)
	p.order = nil
	p.pending = nil
	p.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
		p.leases.Release(s.Name())
	}

	done := make(chan struct{})
	go func() {
		for _, s := range sessions {
			s.Wait()
		}
		close(done)
	}()

	var err error
	select {
	case <-done:
		for _, s := range sessions {
			p.forgetSession(s)
		}
	case <-ctx.Done():
		err = ctx.Err()
	}
	p.events.Close()
	return err
}

// forgetSession drops the adapter's history for a finished worker.
func (p *Pool) forgetSession(s *Session) {
	f, ok := p.adapter.(runtime.SessionForgetter)
	if !ok {
		return
	}
	if id := s.Info().SessionID; id != "" {
		f.ForgetSession(id)
	}
}

func (p *Pool) session(name string) (*Session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.live[name]; ok {
		return s, nil
	}
	for _, e := range p.pending {
		if e.req.Name == name {
			return nil, fmt.Errorf("%w: %s is waiting for %s", ErrNotFound, name, strings.Join(e.req.WaitFor, ", "))
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

func (p *Pool) uniqueNameLocked(name string) string {
	taken := func(n string) bool {
		if _, ok := p.live[n]; ok {
			return true
		}
		return slices.ContainsFunc(p.pending, func(e pendingEntry) bool { return e.req.Name == n })
	}
	if !taken(name) {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		if !taken(candidate) {
			return candidate
		}
	}
}

func (p *Pool) pendingEdgesLocked() map[string][]string {
	edges := make(map[string][]string, len(p.pending))
	for _, e := range p.pending {
		edges[e.req.Name] = e.req.WaitFor
	}
	return edges
}

// satisfiedLocked reports whether every dependency is live and complete.
func (p *Pool) satisfiedLocked(waitFor []string) bool {
	for _, dep := range waitFor {
		s, ok := p.live[dep]
		if !ok || s.Status() != StatusComplete {
			return false
		}
	}
	return true
}

func (p *Pool) addSessionLocked(req SpawnRequest) *Session {
	name := req.Name
	s := NewSession(SessionConfig{
		Request:      req,
		SystemPrompt: ComposeSystemPrompt(p.cfg.BasePrompt, req),
		Adapter:      p.adapter,
		Tools:        WorkerTools(),
		Handler: func(ctx context.Context, call runtime.ToolInvocation) (string, error) {
			return p.HandleToolCall(ctx, name, call)
		},
		Hooks: SessionHooks{
			OnStatus: p.onStatus,
			OnOutput: p.onOutput,
			OnError:  p.onError,
		},
		Logger: p.cfg.Logger,
	})
	p.live[name] = s
	p.order = append(p.order, name)
	return s
}

func (p *Pool) startSession(s *Session) {
	p.log.Info("agent %s started", s.Name())
	p.publish(Event{Type: EventSpawned, Agent: s.Name(), Status: StatusInitializing})
	if err := s.Start(); err != nil {
		p.onError(s.Name(), err)
	}
}

// rescan starts every queued worker whose dependencies are all complete,
// in queue order, while there is room under the ceiling.
func (p *Pool) rescan() {
	p.mu.Lock()
	if p.closed || len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	var started []*Session
	remaining := make([]pendingEntry, 0, len(p.pending))
	for _, e := range p.pending {
		if len(p.live) < p.cfg.MaxConcurrentAgents && p.satisfiedLocked(e.req.WaitFor) {
			started = append(started, p.addSessionLocked(e.req))
			continue
		}
		remaining = append(remaining, e)
	}
	p.pending = remaining
	p.mu.Unlock()

	for _, s := range started {
		p.startSession(s)
	}
}

func (p *Pool) onStatus(name string, from, to Status) {
	p.publish(Event{Type: EventStatus, Agent: name, Status: to, Previous: from})
	if to == StatusComplete || to == StatusIdle {
		p.rescan()
	}
	p.publishStatus()
}

func (p *Pool) onOutput(name string, ev runtime.Event) {
	out := ev
	p.publish(Event{Type: EventOutput, Agent: name, Output: &out})
}

func (p *Pool) onError(name string, err error) {
	p.publishError(name, err)
}

func (p *Pool) publishError(name string, err error) {
	p.log.Error("agent %s: %v", name, err)
	p.publish(Event{Type: EventError, Agent: name, Error: err.Error()})
}

func (p *Pool) publishClaims(name string) {
	p.publish(Event{Type: EventClaims, Agent: name, Claims: p.leases.AllActive()})
}

func (p *Pool) publishStatus() {
	st := p.Status()
	p.publish(Event{Type: EventPool, Pool: &st})
}

func (p *Pool) publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	p.events.Publish(ev)
}

func (e pendingEntry) info() Info {
	return Info{
		Name:             e.req.Name,
		Role:             e.req.Role,
		Focus:            e.req.Focus,
		Status:           StatusWaiting,
		WaitFor:          append([]string(nil), e.req.WaitFor...),
		WorkItemID:       e.req.WorkItemID,
		WorkingDirectory: e.req.WorkingDirectory,
		CreatedAt:        e.createdAt,
	}
}

var nameSanitizer = regexp.MustCompile(`[^a-z0-9-]+`)

// normalizeRequest validates a spawn request and fills defaults.
func normalizeRequest(req SpawnRequest) (SpawnRequest, error) {
	req.Focus = strings.TrimSpace(req.Focus)
	if req.Focus == "" {
		return req, fmt.Errorf("%w: focus is required", ErrInvalidRequest)
	}
	req.Role = strings.TrimSpace(req.Role)

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		base := strings.Trim(nameSanitizer.ReplaceAllString(strings.ToLower(req.Role), "-"), "-")
		if base == "" {
			base = "agent"
		}
		req.Name = base
	}
	if req.Name == mailbox.Orchestrator || req.Name == mailbox.User {
		return req, fmt.Errorf("%w: %q is a reserved name", ErrInvalidRequest, req.Name)
	}

	var deps []string
	for _, d := range req.WaitFor {
		if d = strings.TrimSpace(d); d != "" && !slices.Contains(deps, d) {
			deps = append(deps, d)
		}
	}
	req.WaitFor = deps
	return req, nil
}
