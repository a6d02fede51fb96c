package saga

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemoryStore keeps transaction records in memory.
type InMemoryStore struct {
	mu   sync.Mutex
	txns map[string]*Transaction
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{txns: make(map[string]*Transaction)}
}

func (s *InMemoryStore) Create(ctx context.Context, txn *Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txns[txn.ReferenceID]; ok {
		return ErrDuplicateRef
	}
	s.txns[txn.ReferenceID] = txn.Clone()
	return nil
}

func (s *InMemoryStore) Transition(ctx context.Context, txn *Transaction, from State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.txns[txn.ReferenceID]
	if !ok {
		return ErrNotFound
	}
	if stored.State.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, stored.State)
	}
	if stored.State != from {
		return fmt.Errorf("%w: stored state %s, expected %s", ErrInvalidTransition, stored.State, from)
	}
	s.txns[txn.ReferenceID] = txn.Clone()
	return nil
}

func (s *InMemoryStore) GetByReference(ctx context.Context, referenceID string) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	txn, ok := s.txns[referenceID]
	if !ok {
		return nil, ErrNotFound
	}
	return txn.Clone(), nil
}

func (s *InMemoryStore) ListByState(ctx context.Context, states ...State) ([]*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := make(map[State]bool, len(states))
	for _, st := range states {
		want[st] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Transaction
	for _, txn := range s.txns {
		if len(want) == 0 || want[txn.State] {
			out = append(out, txn.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
