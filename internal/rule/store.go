package rule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store manages rule persistence. Implementations must be safe for
// concurrent use; the host process picks the implementation and
// injects it into the engine.
type Store interface {
	Save(ctx context.Context, r *Rule) error
	Get(ctx context.Context, id string) (*Rule, error)
	// List returns every rule ordered by CreatedAt ascending, which is
	// the deterministic tie-break for equal priorities.
	List(ctx context.Context) ([]*Rule, error)
	Update(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, id string) error
	// IncrementExecutions bumps the cumulative execution counter.
	IncrementExecutions(ctx context.Context, id string) error
}

// ErrNotFound is returned when a rule id does not exist.
var ErrNotFound = fmt.Errorf("rule not found")

// InMemoryStore implements Store with a mutex-guarded map.
type InMemoryStore struct {
	mu    sync.RWMutex
	rules map[string]*Rule
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rules: make(map[string]*Rule)}
}

func (s *InMemoryStore) Save(_ context.Context, r *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rules[r.ID]; exists {
		return fmt.Errorf("rule %s already exists", r.ID)
	}
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.rules[r.ID] = r
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) Update(_ context.Context, r *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rules[r.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, r.ID)
	}
	r.CreatedAt = existing.CreatedAt
	r.ExecutionCount = existing.ExecutionCount
	r.UpdatedAt = time.Now()
	s.rules[r.ID] = r
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.rules, id)
	return nil
}

func (s *InMemoryStore) IncrementExecutions(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.ExecutionCount++
	return nil
}
