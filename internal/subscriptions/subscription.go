package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"nutripay/internal/payments/saga"
)

var (
	// ErrStoreUnavailable wraps every failed store write.
	ErrStoreUnavailable = errors.New("subscription store unavailable")
	// ErrNotCommitted is returned when activation is requested for a transaction that was never charged.
	ErrNotCommitted = errors.New("transaction not committed")
	// ErrNotFound is returned by Get for users without a subscription.
	ErrNotFound = errors.New("subscription not found")
)

// Subscription is the user's current plan.
type Subscription struct {
	UserID              string
	PlanType            saga.PlanType
	StartDate           time.Time
	EndDate             time.Time
	SourceTransactionID string
}

// ActivationRecord is one activation write, keyed by (UserID, SourceTransactionID).
type ActivationRecord struct {
	UserID              string
	PlanType            saga.PlanType
	StartDate           time.Time
	EndDate             time.Time
	SourceTransactionID string
}

// Store persists subscriptions. Activate is an idempotent upsert: when the
// (UserID, SourceTransactionID) pair was already applied it returns the
// stored subscription untouched and applied=false. A new activation becomes
// the user's current subscription only when it ends later than the current
// one, so a delayed retry of an older charge never shortens access.
type Store interface {
	Activate(ctx context.Context, rec ActivationRecord) (sub Subscription, applied bool, err error)
	Get(ctx context.Context, userID string) (Subscription, error)
}

// Activator marks a plan active once its charge is committed.
type Activator struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// NewActivator constructs an Activator. now defaults to time.Now.
func NewActivator(store Store, now func() time.Time, logger *zap.Logger) *Activator {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activator{store: store, now: now, logger: logger}
}

// Activate records the subscription bought by a COMMITTED transaction. It is
// safe to call repeatedly for the same transaction.
func (a *Activator) Activate(ctx context.Context, txn *saga.Transaction) (Subscription, error) {
	if txn == nil || txn.State != saga.StateCommitted {
		return Subscription{}, ErrNotCommitted
	}
	period := txn.PlanType.Period()
	if period <= 0 {
		return Subscription{}, fmt.Errorf("unknown plan type %q", txn.PlanType)
	}

	start := a.now().UTC()
	sub, applied, err := a.store.Activate(ctx, ActivationRecord{
		UserID:              txn.UserID,
		PlanType:            txn.PlanType,
		StartDate:           start,
		EndDate:             start.Add(period),
		SourceTransactionID: txn.GatewayTransactionID,
	})
	if err != nil {
		return Subscription{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	a.logger.Info("subscription.activated",
		zap.String("user_id", sub.UserID),
		zap.String("plan_type", string(sub.PlanType)),
		zap.Time("end_date", sub.EndDate),
		zap.String("source_transaction_id", sub.SourceTransactionID),
		zap.Bool("applied", applied),
	)
	return sub, nil
}
