package grpc

import (
	"time"

	"nutripay/internal/payments"
)

type PurchaseRequest struct {
	UserID       string `json:"user_id"`
	PlanType     string `json:"plan_type"`
	PayerAccount string `json:"payer_account"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Description  string `json:"description,omitempty"`
}

type RetryActivationRequest struct {
	UserID      string `json:"user_id"`
	ReferenceID string `json:"reference_id"`
}

// OutcomeResponse is returned by both RPCs. Business failures are reported
// here with Success false, not as a gRPC error.
type OutcomeResponse struct {
	Success                 bool      `json:"success"`
	ErrorKind               string    `json:"error_kind,omitempty"`
	CauseKind               string    `json:"cause_kind,omitempty"`
	Message                 string    `json:"message,omitempty"`
	SubscriptionActiveUntil time.Time `json:"subscription_active_until,omitzero"`
	ReferenceID             string    `json:"reference_id,omitempty"`
	State                   string    `json:"state,omitempty"`
}

func (r *PurchaseRequest) toDomain() payments.PurchaseRequest {
	return payments.PurchaseRequest{
		UserID:       r.UserID,
		PlanType:     r.PlanType,
		PayerAccount: r.PayerAccount,
		Amount:       r.Amount,
		Currency:     r.Currency,
		Description:  r.Description,
	}
}

func newOutcomeResponse(out payments.Outcome) *OutcomeResponse {
	return &OutcomeResponse{
		Success:                 out.Success,
		ErrorKind:               string(out.ErrorKind),
		CauseKind:               string(out.CauseKind),
		Message:                 out.Message,
		SubscriptionActiveUntil: out.SubscriptionActiveUntil,
		ReferenceID:             out.ReferenceID,
		State:                   string(out.State),
	}
}
