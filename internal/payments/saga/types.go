package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// State captures where a purchase attempt is in the authorize/commit/cancel saga.
type State string

const (
	StateInit               State = "INIT"
	StateAuthorizing        State = "AUTHORIZING"
	StateAuthorized         State = "AUTHORIZED"
	StateRejected           State = "REJECTED"
	StateCommitting         State = "COMMITTING"
	StateCommitted          State = "COMMITTED"
	StateCommitFailed       State = "COMMIT_FAILED"
	StateCompensating       State = "COMPENSATING"
	StateCancelled          State = "CANCELLED"
	StateCompensationFailed State = "COMPENSATION_FAILED"
)

// transitions is the saga graph. COMMIT_FAILED is kept as a distinct
// record state but is always followed by COMPENSATING.
var transitions = map[State][]State{
	StateInit:         {StateAuthorizing},
	StateAuthorizing:  {StateAuthorized, StateRejected},
	StateAuthorized:   {StateCommitting},
	StateCommitting:   {StateCommitted, StateCommitFailed, StateCompensating},
	StateCommitFailed: {StateCompensating},
	StateCompensating: {StateCancelled, StateCompensationFailed},
}

// CanTransition reports whether the saga graph has an edge from -> to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateCommitted, StateCancelled, StateCompensationFailed:
		return true
	}
	return false
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateInit, StateAuthorizing, StateAuthorized, StateRejected, StateCommitting,
		StateCommitted, StateCommitFailed, StateCompensating, StateCancelled, StateCompensationFailed:
		return true
	}
	return false
}

// PlanType is the subscription plan being purchased.
type PlanType string

const (
	PlanMonthly PlanType = "MONTHLY"
	PlanYearly  PlanType = "YEARLY"
)

// ParsePlanType accepts the plan names case-insensitively.
func ParsePlanType(raw string) (PlanType, error) {
	switch PlanType(strings.ToUpper(strings.TrimSpace(raw))) {
	case PlanMonthly:
		return PlanMonthly, nil
	case PlanYearly:
		return PlanYearly, nil
	}
	return "", fmt.Errorf("unknown plan type %q", raw)
}

// Period returns the subscription length bought by the plan.
func (p PlanType) Period() time.Duration {
	switch p {
	case PlanYearly:
		return 365 * 24 * time.Hour
	case PlanMonthly:
		return 30 * 24 * time.Hour
	}
	return 0
}

// Transaction is the saga's unit of work. It is mutated only by the coordinator.
type Transaction struct {
	ReferenceID          string
	GatewayTransactionID string
	UserID               string
	State                State
	PlanType             PlanType
	Amount               decimal.Decimal
	Currency             string
	PayerAccount         string
	ErrorKind            string
	CreatedAt            time.Time
	LastTransitionAt     time.Time
	History              []State
}

// NewTransaction returns a transaction in INIT.
func NewTransaction(referenceID, userID string, plan PlanType, amount decimal.Decimal, currency, payer string, now time.Time) *Transaction {
	return &Transaction{
		ReferenceID:      referenceID,
		UserID:           userID,
		State:            StateInit,
		PlanType:         plan,
		Amount:           amount,
		Currency:         currency,
		PayerAccount:     payer,
		CreatedAt:        now,
		LastTransitionAt: now,
		History:          []State{StateInit},
	}
}

// Transition moves the transaction along the saga graph.
func (t *Transaction) Transition(to State, now time.Time) error {
	if t.State.Terminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, t.State)
	}
	if !CanTransition(t.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, to)
	}
	t.State = to
	t.LastTransitionAt = now
	t.History = append(t.History, to)
	return nil
}

// Authorized records the processor transaction id and moves to AUTHORIZED.
// The id is set only on this edge.
func (t *Transaction) Authorized(gatewayTransactionID string, now time.Time) error {
	if gatewayTransactionID == "" {
		return errors.New("gateway transaction id required")
	}
	if err := t.Transition(StateAuthorized, now); err != nil {
		return err
	}
	t.GatewayTransactionID = gatewayTransactionID
	return nil
}

// Clone returns a deep copy safe to hand to stores and sinks.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	c.History = append([]State(nil), t.History...)
	return &c
}

// TransactionStore persists transaction records for audit and reconciliation.
type TransactionStore interface {
	Create(ctx context.Context, txn *Transaction) error
	Transition(ctx context.Context, txn *Transaction, from State) error
	GetByReference(ctx context.Context, referenceID string) (*Transaction, error)
	ListByState(ctx context.Context, states ...State) ([]*Transaction, error)
}

var (
	ErrInvalidTransition = errors.New("invalid saga transition")
	ErrTerminal          = errors.New("transaction is in a terminal state")
	ErrNotFound          = errors.New("transaction not found")
	ErrDuplicateRef      = errors.New("reference id already recorded")
)
