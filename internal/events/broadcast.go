package events

import (
	"context"
	"encoding/json"

	"nutripay/internal/payments"
)

// Broadcaster pushes messages to connected operator consoles.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// BroadcastSink forwards reconciliation events to a Broadcaster.
type BroadcastSink struct {
	broadcaster Broadcaster
	all         bool
}

// NewBroadcastSink constructs a sink. With all set every outcome is
// broadcast, not only the ones needing reconciliation.
func NewBroadcastSink(b Broadcaster, all bool) *BroadcastSink {
	return &BroadcastSink{broadcaster: b, all: all}
}

func (s *BroadcastSink) Publish(ctx context.Context, event payments.OutcomeEvent) error {
	if s.broadcaster == nil || (!s.all && !event.NeedsReconciliation()) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(NewOutcomeMessage(event))
	if err != nil {
		return err
	}
	s.broadcaster.Broadcast(data)
	return nil
}
