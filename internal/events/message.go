package events

import (
	"time"

	"nutripay/internal/payments"
)

// OutcomeMessage is the wire form of a payments.OutcomeEvent.
type OutcomeMessage struct {
	Type                 string    `json:"type"`
	ReferenceID          string    `json:"reference_id"`
	GatewayTransactionID string    `json:"gateway_transaction_id,omitempty"`
	UserID               string    `json:"user_id"`
	State                string    `json:"state"`
	Success              bool      `json:"success"`
	ErrorKind            string    `json:"error_kind,omitempty"`
	CauseKind            string    `json:"cause_kind,omitempty"`
	PlanType             string    `json:"plan_type"`
	Amount               string    `json:"amount"`
	Currency             string    `json:"currency"`
	ActiveUntil          time.Time `json:"active_until,omitzero"`
	NeedsReconciliation  bool      `json:"needs_reconciliation"`
	OccurredAt           time.Time `json:"occurred_at"`
}

const (
	TypeOutcome        = "payment.outcome"
	TypeReconciliation = "payment.reconciliation"
)

// NewOutcomeMessage flattens event for publication.
func NewOutcomeMessage(event payments.OutcomeEvent) OutcomeMessage {
	msg := OutcomeMessage{
		Type:                TypeOutcome,
		Success:             event.Outcome.Success,
		State:               string(event.Outcome.State),
		ErrorKind:           string(event.Outcome.ErrorKind),
		CauseKind:           string(event.Outcome.CauseKind),
		ActiveUntil:         event.Outcome.SubscriptionActiveUntil,
		ReferenceID:         event.Outcome.ReferenceID,
		NeedsReconciliation: event.NeedsReconciliation(),
		OccurredAt:          event.OccurredAt,
	}
	if msg.NeedsReconciliation {
		msg.Type = TypeReconciliation
	}
	if txn := event.Transaction; txn != nil {
		msg.ReferenceID = txn.ReferenceID
		msg.GatewayTransactionID = txn.GatewayTransactionID
		msg.UserID = txn.UserID
		msg.PlanType = string(txn.PlanType)
		msg.Amount = txn.Amount.StringFixed(2)
		msg.Currency = txn.Currency
	}
	return msg
}
