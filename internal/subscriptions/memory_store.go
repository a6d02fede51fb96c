package subscriptions

import (
	"context"
	"sync"
)

type activationKey struct {
	userID string
	source string
}

// InMemoryStore keeps subscriptions in memory.
type InMemoryStore struct {
	mu          sync.Mutex
	subs        map[string]Subscription
	activations map[activationKey]Subscription
}

// NewInMemoryStore constructs an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		subs:        make(map[string]Subscription),
		activations: make(map[activationKey]Subscription),
	}
}

func (s *InMemoryStore) Activate(ctx context.Context, rec ActivationRecord) (Subscription, bool, error) {
	if err := ctx.Err(); err != nil {
		return Subscription{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := activationKey{userID: rec.UserID, source: rec.SourceTransactionID}
	if prev, ok := s.activations[key]; ok {
		return prev, false, nil
	}
	sub := Subscription{
		UserID:              rec.UserID,
		PlanType:            rec.PlanType,
		StartDate:           rec.StartDate,
		EndDate:             rec.EndDate,
		SourceTransactionID: rec.SourceTransactionID,
	}
	s.activations[key] = sub
	if current, ok := s.subs[rec.UserID]; !ok || sub.EndDate.After(current.EndDate) {
		s.subs[rec.UserID] = sub
	}
	return sub, true, nil
}

func (s *InMemoryStore) Get(ctx context.Context, userID string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return Subscription{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[userID]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return sub, nil
}
