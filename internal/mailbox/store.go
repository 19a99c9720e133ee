package mailbox

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Store persists messages. Implementations return ErrNotFound (wrapped) for
// unknown ids and list messages oldest first.
type Store interface {
	Save(ctx context.Context, msg *Message) error
	Get(ctx context.Context, id string) (*Message, error)
	Delete(ctx context.Context, id string) error
	ListTo(ctx context.Context, participant string) ([]*Message, error)
	ListFrom(ctx context.Context, participant string) ([]*Message, error)
}

// MemoryStore keeps messages in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*Message
	byTo     map[string][]string // participant -> message ids, insertion order
	byFrom   map[string][]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*Message),
		byTo:     make(map[string][]string),
		byFrom:   make(map[string][]string),
	}
}

// Save inserts or replaces a message.
func (s *MemoryStore) Save(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *msg
	if _, exists := s.messages[msg.ID]; !exists {
		s.byTo[msg.To] = append(s.byTo[msg.To], msg.ID)
		s.byFrom[msg.From] = append(s.byFrom[msg.From], msg.ID)
	}
	s.messages[msg.ID] = &cp
	return nil
}

// Get returns a copy of the message.
func (s *MemoryStore) Get(_ context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *msg
	return &cp, nil
}

// Delete removes a message permanently.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.byTo[msg.To] = removeID(s.byTo[msg.To], id)
	s.byFrom[msg.From] = removeID(s.byFrom[msg.From], id)
	delete(s.messages, id)
	return nil
}

// ListTo returns messages addressed to the participant.
func (s *MemoryStore) ListTo(_ context.Context, participant string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byTo[participant]), nil
}

// ListFrom returns messages sent by the participant.
func (s *MemoryStore) ListFrom(_ context.Context, participant string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byFrom[participant]), nil
}

func (s *MemoryStore) collect(ids []string) []*Message {
	out := make([]*Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := s.messages[id]; ok {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out
}

func removeID(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(s string) bool { return s == id })
}
