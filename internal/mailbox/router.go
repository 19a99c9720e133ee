package mailbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbourmaud/conductor/internal/event"
)

// EventHandler is called when mailbox events occur
type EventHandler func(event Event)

// Router stores mail between participants and announces arrivals. Message
// bodies are only ever returned on explicit reads; wake-up notifications are
// the caller's concern.
type Router struct {
	store      Store
	dispatcher *event.Dispatcher[Event]

	// mu serialises read-modify-write state transitions.
	mu sync.Mutex
}

// NewRouter creates a router over a store. A nil store means in-memory.
func NewRouter(store Store, handler EventHandler) *Router {
	if store == nil {
		store = NewMemoryStore()
	}
	r := &Router{store: store}
	if handler != nil {
		r.dispatcher = event.NewDispatcher(handler, 1, 256)
		r.dispatcher.Start()
	}
	return r
}

// Close shuts down the event dispatcher.
func (r *Router) Close() {
	if r.dispatcher != nil {
		r.dispatcher.Stop()
	}
}

// DroppedEvents returns how many mailbox events were discarded.
func (r *Router) DroppedEvents() int64 {
	if r.dispatcher == nil {
		return 0
	}
	return r.dispatcher.Dropped()
}

// QueuedEvents returns how many mailbox events await their handler.
func (r *Router) QueuedEvents() int {
	if r.dispatcher == nil {
		return 0
	}
	return r.dispatcher.QueueLength()
}

// Send stores a new message in the recipient's inbox.
func (r *Router) Send(ctx context.Context, req SendRequest) (*Message, error) {
	if req.From == "" {
		return nil, fmt.Errorf("from is required")
	}
	if req.To == "" {
		return nil, fmt.Errorf("to is required")
	}

	msg := &Message{
		ID:        uuid.New().String(),
		From:      req.From,
		To:        req.To,
		Subject:   req.Subject,
		Body:      req.Body,
		Timestamp: time.Now().UTC(),
	}
	if err := r.store.Save(ctx, msg); err != nil {
		return nil, err
	}

	r.emitEvent(EventReceived, msg)
	return msg, nil
}

// Get returns a message without changing its state.
func (r *Router) Get(ctx context.Context, id string) (*Message, error) {
	return r.store.Get(ctx, id)
}

// Read returns a message and marks it read.
func (r *Router) Read(ctx context.Context, id string) (*Message, error) {
	return r.transition(ctx, id, EventRead, func(m *Message) bool {
		if m.Read {
			return false
		}
		m.Read = true
		return true
	})
}

// MarkRead marks a message read. Marking twice is a no-op.
func (r *Router) MarkRead(ctx context.Context, id string) error {
	_, err := r.Read(ctx, id)
	return err
}

// Archive hides a message from default inbox listings without losing it.
func (r *Router) Archive(ctx context.Context, id string) error {
	_, err := r.transition(ctx, id, EventArchived, func(m *Message) bool {
		if m.Archived {
			return false
		}
		m.Archived = true
		return true
	})
	return err
}

// Unarchive returns a message to the inbox.
func (r *Router) Unarchive(ctx context.Context, id string) error {
	_, err := r.transition(ctx, id, EventUnarchived, func(m *Message) bool {
		if !m.Archived {
			return false
		}
		m.Archived = false
		return true
	})
	return err
}

// Delete removes a message permanently.
func (r *Router) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	r.emitEvent(EventDeleted, msg)
	return nil
}

// Inbox lists messages addressed to the participant, oldest first.
func (r *Router) Inbox(ctx context.Context, participant string, filter Filter) ([]*Message, error) {
	all, err := r.store.ListTo(ctx, participant)
	if err != nil {
		return nil, err
	}

	out := make([]*Message, 0, len(all))
	for _, m := range all {
		if m.Archived && !filter.IncludeArchived {
			continue
		}
		if filter.UnreadOnly && m.Read {
			continue
		}
		out = append(out, m)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

// Sent lists messages sent by the participant, oldest first.
func (r *Router) Sent(ctx context.Context, participant string) ([]*Message, error) {
	return r.store.ListFrom(ctx, participant)
}

// UnreadCount counts unread, unarchived mail for the participant.
func (r *Router) UnreadCount(ctx context.Context, participant string) (int, error) {
	msgs, err := r.Inbox(ctx, participant, Filter{UnreadOnly: true})
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

func (r *Router) transition(ctx context.Context, id string, typ EventType, apply func(*Message) bool) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !apply(msg) {
		return msg, nil
	}
	if err := r.store.Save(ctx, msg); err != nil {
		return nil, err
	}
	r.emitEvent(typ, msg)
	return msg, nil
}

func (r *Router) emitEvent(typ EventType, msg *Message) {
	if r.dispatcher != nil {
		r.dispatcher.Dispatch(Event{
			Type:      typ,
			Message:   msg.Header(),
			Timestamp: time.Now(),
		})
	}
}
