package lease

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbourmaud/conductor/internal/event"
)

// EventHandler is called when lease events occur
type EventHandler func(event Event)

// Manager tracks file claims per agent. Exclusivity is advisory unless
// Options.Strict is set. Expired claims are never swept; readers filter them.
type Manager struct {
	mu         sync.RWMutex
	claims     []*Claim
	waiters    []*waiterEntry
	opts       Options
	dispatcher *event.Dispatcher[Event]
}

type waiterEntry struct {
	agentName string
	notifyCh  chan struct{}
	// expires is the earliest expiry among the claims blocking the request.
	expires time.Time
}

// NewManager creates a lease manager
func NewManager(opts Options, handler EventHandler) *Manager {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{opts: opts}
	if handler != nil {
		// One worker keeps events in the order they were emitted.
		m.dispatcher = event.NewDispatcher(handler, 1, 256)
		m.dispatcher.Start()
	}
	return m
}

// Close shuts down the event dispatcher and wakes any waiters.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, w := range m.waiters {
		close(w.notifyCh)
	}
	m.waiters = nil
	m.mu.Unlock()

	if m.dispatcher != nil {
		m.dispatcher.Stop()
	}
}

// Strict reports whether overlapping exclusive claims are rejected.
func (m *Manager) Strict() bool {
	return m.opts.Strict
}

// Acquire creates one claim per pattern for the agent. In advisory mode it
// never rejects and returns the overlapping claims of other agents alongside.
// In strict mode an overlap where either side is exclusive fails the whole
// request with ErrConflict, or blocks until it clears when req.Wait is set.
func (m *Manager) Acquire(ctx context.Context, req AcquireRequest) (*AcquireResult, error) {
	if req.AgentName == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	patterns := cleanPatterns(req.Patterns)
	if len(patterns) == 0 {
		return nil, fmt.Errorf("at least one pattern is required")
	}
	req.Patterns = patterns

	for {
		res, entry, err := m.tryAcquire(req)
		if entry == nil {
			return res, err
		}

		// Claims expire lazily, so nothing releases the blocking claim when
		// its TTL runs out. Retry at the earliest expiry.
		timer := time.NewTimer(max(entry.expires.Sub(m.opts.Now()), 0))
		select {
		case _, ok := <-entry.notifyCh:
			timer.Stop()
			if !ok {
				return nil, fmt.Errorf("lease manager closed")
			}
			// A claim was released; try again.
		case <-timer.C:
			m.removeWaiter(entry)
		case <-ctx.Done():
			timer.Stop()
			m.removeWaiter(entry)
			return nil, ctx.Err()
		}
	}
}

func (m *Manager) tryAcquire(req AcquireRequest) (*AcquireResult, *waiterEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.opts.Now()
	conflicts := m.conflictsLocked(req.AgentName, req.Patterns, now)

	if m.opts.Strict {
		blocking := blockingConflicts(conflicts, req.Exclusive)
		if len(blocking) > 0 {
			m.emit(Event{
				Type:      EventConflict,
				AgentName: req.AgentName,
				Conflicts: blocking,
				Timestamp: now,
			})
			if req.Wait {
				entry := &waiterEntry{
					agentName: req.AgentName,
					notifyCh:  make(chan struct{}, 1),
					expires:   earliestExpiry(blocking),
				}
				m.waiters = append(m.waiters, entry)
				m.emit(Event{
					Type:      EventWaiting,
					AgentName: req.AgentName,
					Conflicts: blocking,
					Timestamp: now,
				})
				return nil, entry, nil
			}
			return nil, nil, fmt.Errorf("%w: %s", ErrConflict, describe(blocking))
		}
		conflicts = nil
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = m.opts.DefaultTTL
	}

	created := make([]Claim, 0, len(req.Patterns))
	for _, pattern := range req.Patterns {
		c := &Claim{
			ID:        uuid.New().String(),
			AgentName: req.AgentName,
			Pattern:   pattern,
			Exclusive: req.Exclusive,
			Reason:    req.Reason,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
		m.claims = append(m.claims, c)
		created = append(created, *c)
	}

	m.emit(Event{
		Type:      EventAcquired,
		AgentName: req.AgentName,
		Claims:    created,
		Conflicts: conflicts,
		Timestamp: now,
	})
	if len(conflicts) > 0 {
		m.emit(Event{
			Type:      EventConflict,
			AgentName: req.AgentName,
			Conflicts: conflicts,
			Timestamp: now,
		})
	}

	return &AcquireResult{Claims: created, Conflicts: conflicts}, nil, nil
}

// Release removes every claim owned by the agent and returns them.
func (m *Manager) Release(agentName string) []Claim {
	m.mu.Lock()
	defer m.mu.Unlock()

	released := make([]Claim, 0)
	kept := m.claims[:0]
	for _, c := range m.claims {
		if c.AgentName == agentName {
			released = append(released, *c)
			continue
		}
		kept = append(kept, c)
	}
	clear(m.claims[len(kept):])
	m.claims = kept

	if len(released) > 0 {
		m.emit(Event{
			Type:      EventReleased,
			AgentName: agentName,
			Claims:    released,
			Timestamp: m.opts.Now(),
		})
		m.notifyWaiters()
	}
	return released
}

// ReleaseClaim removes a single claim by id.
func (m *Manager) ReleaseClaim(id string) (Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := slices.IndexFunc(m.claims, func(c *Claim) bool { return c.ID == id })
	if idx < 0 {
		return Claim{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c := *m.claims[idx]
	m.claims = slices.Delete(m.claims, idx, idx+1)

	m.emit(Event{
		Type:      EventReleased,
		AgentName: c.AgentName,
		Claims:    []Claim{c},
		Timestamp: m.opts.Now(),
	})
	m.notifyWaiters()
	return c, nil
}

// AllActive returns every claim regardless of expiry, oldest first.
func (m *Manager) AllActive() []Claim {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Claim, 0, len(m.claims))
	for _, c := range m.claims {
		out = append(out, *c)
	}
	return out
}

// Unexpired returns the claims that have not lapsed at now.
func (m *Manager) Unexpired(now time.Time) []Claim {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Claim, 0, len(m.claims))
	for _, c := range m.claims {
		if !c.Expired(now) {
			out = append(out, *c)
		}
	}
	return out
}

// ForAgent returns all claims owned by the agent, expired ones included.
func (m *Manager) ForAgent(agentName string) []Claim {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Claim, 0)
	for _, c := range m.claims {
		if c.AgentName == agentName {
			out = append(out, *c)
		}
	}
	return out
}

// Conflicts returns unexpired claims of other agents that overlap any of the
// given patterns.
func (m *Manager) Conflicts(agentName string, patterns []string) []Claim {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conflictsLocked(agentName, cleanPatterns(patterns), m.opts.Now())
}

// HoldersOf returns unexpired claims whose pattern matches a concrete path.
func (m *Manager) HoldersOf(path string) []Claim {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.opts.Now()
	out := make([]Claim, 0)
	for _, c := range m.claims {
		if !c.Expired(now) && Matches(path, c.Pattern) {
			out = append(out, *c)
		}
	}
	return out
}

// Count returns the number of unexpired claims.
func (m *Manager) Count() int {
	return len(m.Unexpired(m.opts.Now()))
}

// Waiting returns the agents blocked in a strict Acquire with Wait set.
func (m *Manager) Waiting() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.waiters))
	for _, w := range m.waiters {
		out = append(out, w.agentName)
	}
	return out
}

// DroppedEvents returns how many lease events were discarded.
func (m *Manager) DroppedEvents() int64 {
	if m.dispatcher == nil {
		return 0
	}
	return m.dispatcher.Dropped()
}

// QueuedEvents returns how many lease events await their handler.
func (m *Manager) QueuedEvents() int {
	if m.dispatcher == nil {
		return 0
	}
	return m.dispatcher.QueueLength()
}

func (m *Manager) conflictsLocked(agentName string, patterns []string, now time.Time) []Claim {
	out := make([]Claim, 0)
	for _, c := range m.claims {
		if c.AgentName == agentName || c.Expired(now) {
			continue
		}
		for _, p := range patterns {
			if Overlaps(p, c.Pattern) {
				out = append(out, *c)
				break
			}
		}
	}
	return out
}

func (m *Manager) removeWaiter(entry *waiterEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiters = slices.DeleteFunc(m.waiters, func(w *waiterEntry) bool { return w == entry })
}

// notifyWaiters wakes every waiter; each retries its own request.
func (m *Manager) notifyWaiters() {
	for _, w := range m.waiters {
		select {
		case w.notifyCh <- struct{}{}:
		default:
		}
	}
	m.waiters = nil
}

func (m *Manager) emit(ev Event) {
	if m.dispatcher != nil {
		m.dispatcher.Dispatch(ev)
	}
}

func blockingConflicts(conflicts []Claim, exclusive bool) []Claim {
	if exclusive {
		return conflicts
	}
	out := make([]Claim, 0)
	for _, c := range conflicts {
		if c.Exclusive {
			out = append(out, c)
		}
	}
	return out
}

func earliestExpiry(claims []Claim) time.Time {
	var out time.Time
	for _, c := range claims {
		if out.IsZero() || c.ExpiresAt.Before(out) {
			out = c.ExpiresAt
		}
	}
	return out
}

func cleanPatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p != "" && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func describe(claims []Claim) string {
	parts := make([]string, 0, len(claims))
	for _, c := range claims {
		mode := "shared"
		if c.Exclusive {
			mode = "exclusive"
		}
		parts = append(parts, fmt.Sprintf("%s holds %s (%s)", c.AgentName, c.Pattern, mode))
	}
	return strings.Join(parts, "; ")
}
