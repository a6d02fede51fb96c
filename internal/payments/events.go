package payments

import (
	"context"
	"time"

	"nutripay/internal/payments/saga"
)

// OutcomeEvent is emitted once per terminal purchase attempt and per activation retry.
type OutcomeEvent struct {
	Transaction *saga.Transaction
	Outcome     Outcome
	OccurredAt  time.Time
}

// NeedsReconciliation reports whether money may have moved without a matching record.
func (e OutcomeEvent) NeedsReconciliation() bool {
	return e.Outcome.needsReconciliation()
}

// OutcomeSink receives outcome events. A failed Publish never changes the outcome.
type OutcomeSink interface {
	Publish(ctx context.Context, event OutcomeEvent) error
}
