package workitem

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store is the work item board. It offers single-step mutations only; callers
// that chain steps compensate on failure themselves.
type Store interface {
	Create(ctx context.Context, req CreateRequest) (*Item, error)
	Get(ctx context.Context, id string) (*Item, error)
	// List returns items in id order; an empty status lists everything.
	List(ctx context.Context, status Status) ([]*Item, error)
	Update(ctx context.Context, id string, patch Patch) (*Item, error)
	Move(ctx context.Context, id string, status Status) (*Item, error)
	Close() error
}

// MemoryStore keeps the board in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Item
	order []string
	next  int
}

// NewMemoryStore creates an empty board.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Item), next: 1}
}

func (s *MemoryStore) Create(_ context.Context, req CreateRequest) (*Item, error) {
	if err := validateCreate(&req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	it := &Item{
		ID:          FormatID(s.next),
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Labels:      append([]string(nil), req.Labels...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.next++
	s.items[it.ID] = it
	s.order = append(s.order, it.ID)
	return clone(it), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(it), nil
}

func (s *MemoryStore) List(_ context.Context, status Status) ([]*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Item, 0, len(s.order))
	for _, id := range s.order {
		it := s.items[id]
		if status != "" && it.Status != status {
			continue
		}
		out = append(out, clone(it))
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, patch Patch) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	patch.apply(it)
	it.UpdatedAt = time.Now().UTC()
	return clone(it), nil
}

func (s *MemoryStore) Move(_ context.Context, id string, status Status) (*Item, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	it.Status = status
	it.UpdatedAt = time.Now().UTC()
	return clone(it), nil
}

func (s *MemoryStore) Close() error { return nil }

func clone(it *Item) *Item {
	cp := *it
	cp.Labels = append([]string(nil), it.Labels...)
	return &cp
}
