package payments

import (
	"context"
	"errors"
	"sync"
)

// ErrPurchaseInProgress is returned when the user already has a purchase in flight.
var ErrPurchaseInProgress = errors.New("purchase already in progress")

// PurchaseGuard serializes purchase attempts per user. Acquire never blocks
// waiting for another holder; it fails fast with ErrPurchaseInProgress.
type PurchaseGuard interface {
	Acquire(ctx context.Context, userID string) (release func(), err error)
}

// LocalGuard is a process-local PurchaseGuard.
type LocalGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewLocalGuard constructs an empty LocalGuard.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{active: make(map[string]struct{})}
}

func (g *LocalGuard) Acquire(ctx context.Context, userID string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[userID]; busy {
		return nil, ErrPurchaseInProgress
	}
	g.active[userID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, userID)
			g.mu.Unlock()
		})
	}, nil
}
