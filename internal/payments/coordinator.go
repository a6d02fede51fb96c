package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"nutripay/internal/gateway"
	"nutripay/internal/payments/saga"
	"nutripay/internal/subscriptions"
)

// ErrNotCommitted is returned by RetryActivation for transactions that were never charged.
var ErrNotCommitted = errors.New("transaction not committed")

// Gateway is the processor surface the coordinator drives.
type Gateway interface {
	Authorize(ctx context.Context, req gateway.AuthorizeRequest) (gateway.Result, error)
	Commit(ctx context.Context, gatewayTransactionID, description string) (gateway.Result, error)
	Cancel(ctx context.Context, gatewayTransactionID, description string) (gateway.Result, error)
}

// Activator applies the subscription bought by a committed transaction.
type Activator interface {
	Activate(ctx context.Context, txn *saga.Transaction) (subscriptions.Subscription, error)
}

// Metrics receives per-call and per-outcome observations.
type Metrics interface {
	ObserveGatewayCall(op string, d time.Duration, err error)
	ObserveOutcome(state, errorKind string)
}

// Outcome is what the caller learns about one purchase attempt.
type Outcome struct {
	Success   bool
	ErrorKind ErrorKind
	// CauseKind is the classified commit failure behind a Cancelled or
	// CompensationFailed outcome.
	CauseKind               ErrorKind
	Message                 string
	SubscriptionActiveUntil time.Time
	ReferenceID             string
	State                   saga.State
}

// Config wires a Coordinator.
type Config struct {
	Gateway        Gateway
	Store          saga.TransactionStore
	Activator      Activator
	Guard          PurchaseGuard
	Accounts       *AccountValidator
	Sinks          []OutcomeSink
	Metrics        Metrics
	Logger         *zap.Logger
	Now            func() time.Time
	NewReferenceID func() string
}

// Coordinator drives purchases through authorize, commit and, on failure,
// a compensating cancel.
type Coordinator struct {
	gateway   Gateway
	store     saga.TransactionStore
	activator Activator
	guard     PurchaseGuard
	accounts  *AccountValidator
	sinks     []OutcomeSink
	metrics   Metrics
	logger    *zap.Logger
	now       func() time.Time
	newRef    func() string
}

// NewCoordinator validates cfg and fills defaults.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("coordinator: gateway required")
	}
	if cfg.Store == nil {
		return nil, errors.New("coordinator: transaction store required")
	}
	if cfg.Activator == nil {
		return nil, errors.New("coordinator: activator required")
	}
	c := &Coordinator{
		gateway:   cfg.Gateway,
		store:     cfg.Store,
		activator: cfg.Activator,
		guard:     cfg.Guard,
		accounts:  cfg.Accounts,
		sinks:     cfg.Sinks,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		now:       cfg.Now,
		newRef:    cfg.NewReferenceID,
	}
	if c.guard == nil {
		c.guard = NewLocalGuard()
	}
	if c.accounts == nil {
		accounts, err := NewAccountValidator("")
		if err != nil {
			return nil, err
		}
		c.accounts = accounts
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newRef == nil {
		c.newRef = NewReferenceID
	}
	return c, nil
}

// Purchase runs one purchase attempt to a terminal state. A non-nil error
// means the saga never started: the request was invalid, another purchase
// for the user is in flight, or the attempt could not be recorded.
func (c *Coordinator) Purchase(ctx context.Context, req PurchaseRequest) (Outcome, error) {
	in, err := c.accounts.validateRequest(req)
	if errors.Is(err, ErrInvalidPayerAccount) {
		return Outcome{
			ErrorKind: KindInvalidPayerAccount,
			Message:   KindInvalidPayerAccount.Message(),
		}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	release, err := c.guard.Acquire(ctx, in.userID)
	if err != nil {
		if !errors.Is(err, ErrPurchaseInProgress) {
			err = fmt.Errorf("purchase guard: %w", err)
		}
		return Outcome{}, err
	}
	defer release()

	txn := saga.NewTransaction(c.newRef(), in.userID, in.plan, in.amount, in.currency, in.payer, c.now().UTC())
	log := c.logger.With(zap.String("reference_id", txn.ReferenceID), zap.String("user_id", txn.UserID))

	if err := c.store.Create(ctx, txn.Clone()); err != nil {
		return Outcome{}, fmt.Errorf("record transaction: %w", err)
	}
	run := &sagaRun{txn: txn}
	if err := c.advance(ctx, run, saga.StateAuthorizing); err != nil {
		return Outcome{}, fmt.Errorf("record transaction: %w", err)
	}

	var res gateway.Result
	err = c.observe(gateway.OpAuthorize, func() error {
		var callErr error
		res, callErr = c.gateway.Authorize(ctx, gateway.AuthorizeRequest{
			ReferenceID:  txn.ReferenceID,
			PayerAccount: txn.PayerAccount,
			Amount:       txn.Amount.String(),
			Currency:     txn.Currency,
			Description:  in.description,
		})
		return callErr
	})

	// From here on the saga must reach a terminal state even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	switch {
	case err != nil:
		// No transaction id was observed, so there is no hold to release.
		cls := ClassifyError(err)
		log.Warn("payment.authorize.transport_error", zap.String("error_kind", string(cls.Kind)), zap.Error(err))
		return c.reject(ctx, run, cls), nil
	case !res.Success:
		cls := Classify(res)
		log.Info("payment.authorize.rejected",
			zap.String("error_kind", string(cls.Kind)),
			zap.String("response_code", string(res.ResponseCode)),
			zap.String("raw_message", cls.Raw),
		)
		return c.reject(ctx, run, cls), nil
	case res.TransactionID == "":
		log.Warn("payment.authorize.missing_transaction_id", zap.String("response_code", string(res.ResponseCode)))
		return c.reject(ctx, run, classified(KindUnknown, "approved without transaction id")), nil
	}

	if err := txn.Authorized(res.TransactionID, c.now().UTC()); err != nil {
		log.Error("payment.saga.transition_failed", zap.Error(err))
	}
	c.record(ctx, run)
	log = log.With(zap.String("gateway_transaction_id", txn.GatewayTransactionID))

	c.step(ctx, run, saga.StateCommitting)
	err = c.observe(gateway.OpCommit, func() error {
		var callErr error
		res, callErr = c.gateway.Commit(ctx, txn.GatewayTransactionID, in.description)
		return callErr
	})
	if err == nil && res.Success {
		c.step(ctx, run, saga.StateCommitted)
		log.Info("payment.saga.committed")
		return c.activate(ctx, txn), nil
	}

	cause := classifyFailure(res, err)
	log.Warn("payment.commit.failed",
		zap.String("error_kind", string(cause.Kind)),
		zap.String("raw_message", cause.Raw),
		zap.Error(err),
	)
	c.step(ctx, run, saga.StateCommitFailed)
	c.step(ctx, run, saga.StateCompensating)

	err = c.observe(gateway.OpCancel, func() error {
		var callErr error
		res, callErr = c.gateway.Cancel(ctx, txn.GatewayTransactionID, in.description)
		return callErr
	})
	if err == nil && res.Success {
		txn.ErrorKind = string(KindCancelled)
		c.step(ctx, run, saga.StateCancelled)
		log.Info("payment.saga.cancelled", zap.String("cause_kind", string(cause.Kind)))
		message := KindCancelled.Message()
		if cause.Kind != KindUnknown && cause.Kind != KindCancelled {
			message += " " + cause.Message
		}
		return c.finish(ctx, txn, Outcome{
			ErrorKind: KindCancelled,
			CauseKind: cause.Kind,
			Message:   message,
		}), nil
	}

	cancelFailure := classifyFailure(res, err)
	txn.ErrorKind = string(KindCompensationFailed)
	c.step(ctx, run, saga.StateCompensationFailed)
	log.Error("payment.saga.compensation_failed",
		zap.String("cancel_error_kind", string(cancelFailure.Kind)),
		zap.String("raw_message", cancelFailure.Raw),
		zap.Error(err),
	)
	return c.finish(ctx, txn, Outcome{
		ErrorKind: KindCompensationFailed,
		CauseKind: cause.Kind,
		Message:   KindCompensationFailed.Message(),
	}), nil
}

// RetryActivation re-applies the subscription for a committed transaction
// owned by userID. The processor is never called.
func (c *Coordinator) RetryActivation(ctx context.Context, userID, referenceID string) (Outcome, error) {
	txn, err := c.store.GetByReference(ctx, referenceID)
	if err != nil {
		return Outcome{}, err
	}
	if txn.UserID != userID {
		return Outcome{}, saga.ErrNotFound
	}
	if txn.State != saga.StateCommitted {
		return Outcome{ReferenceID: txn.ReferenceID, State: txn.State}, ErrNotCommitted
	}
	return c.activate(ctx, txn), nil
}

func (c *Coordinator) activate(ctx context.Context, txn *saga.Transaction) Outcome {
	sub, err := c.activator.Activate(ctx, txn)
	if err != nil {
		c.logger.Warn("payment.activation.failed", zap.String("reference_id", txn.ReferenceID), zap.Error(err))
		return c.finish(ctx, txn, Outcome{
			ErrorKind: KindChargedButActivationPending,
			Message:   KindChargedButActivationPending.Message(),
		})
	}
	return c.finish(ctx, txn, Outcome{
		Success:                 true,
		SubscriptionActiveUntil: sub.EndDate,
	})
}

func (c *Coordinator) reject(ctx context.Context, run *sagaRun, cls Classification) Outcome {
	run.txn.ErrorKind = string(cls.Kind)
	c.step(ctx, run, saga.StateRejected)
	return c.finish(ctx, run.txn, Outcome{ErrorKind: cls.Kind, Message: cls.Message})
}

// finish stamps the outcome with the transaction's identity and reports it.
func (c *Coordinator) finish(ctx context.Context, txn *saga.Transaction, out Outcome) Outcome {
	out.ReferenceID = txn.ReferenceID
	out.State = txn.State

	if out.needsReconciliation() {
		c.logger.Error("payment.reconciliation.required",
			zap.String("reference_id", txn.ReferenceID),
			zap.String("gateway_transaction_id", txn.GatewayTransactionID),
			zap.String("state", string(txn.State)),
			zap.String("user_id", txn.UserID),
			zap.String("error_kind", string(out.ErrorKind)),
		)
	}
	if c.metrics != nil {
		c.metrics.ObserveOutcome(string(out.State), string(out.ErrorKind))
	}

	event := OutcomeEvent{Transaction: txn.Clone(), Outcome: out, OccurredAt: c.now().UTC()}
	for _, sink := range c.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			c.logger.Warn("payment.outcome.publish_failed", zap.String("reference_id", txn.ReferenceID), zap.Error(err))
		}
	}
	return out
}

// storeAttempts bounds the writes tried for one saga step.
const storeAttempts = 3

// sagaRun is one purchase in flight. persisted indexes the last entry of
// txn.History that the store has accepted.
type sagaRun struct {
	txn       *saga.Transaction
	persisted int
}

// advance moves the run to the next state and persists it.
func (c *Coordinator) advance(ctx context.Context, run *sagaRun, to saga.State) error {
	if err := run.txn.Transition(to, c.now().UTC()); err != nil {
		return err
	}
	return c.flush(ctx, run)
}

// step is advance for the part of the saga that cannot be abandoned: errors
// are logged and the saga carries on. A write missed here is repaired by the
// next step.
func (c *Coordinator) step(ctx context.Context, run *sagaRun, to saga.State) {
	if err := run.txn.Transition(to, c.now().UTC()); err != nil {
		c.logger.Error("payment.saga.transition_failed",
			zap.String("reference_id", run.txn.ReferenceID),
			zap.String("state", string(to)),
			zap.Error(err),
		)
		return
	}
	c.record(ctx, run)
}

func (c *Coordinator) record(ctx context.Context, run *sagaRun) {
	if err := c.flush(ctx, run); err != nil {
		c.logger.Error("payment.saga.persist_failed",
			zap.String("reference_id", run.txn.ReferenceID),
			zap.String("state", string(run.txn.State)),
			zap.String("persisted_state", string(run.txn.History[run.persisted])),
			zap.Error(err),
		)
	}
}

// flush writes every state the store has not accepted yet, one saga edge at
// a time, so the stored row and its transition log never skip a state.
func (c *Coordinator) flush(ctx context.Context, run *sagaRun) error {
	var err error
	for attempt := 0; attempt < storeAttempts; attempt++ {
		if err = c.flushPending(ctx, run); err == nil || !retryableStoreError(err) {
			return err
		}
	}
	return err
}

func (c *Coordinator) flushPending(ctx context.Context, run *sagaRun) error {
	history := run.txn.History
	for run.persisted < len(history)-1 {
		next := run.persisted + 1
		snapshot := run.txn.Clone()
		snapshot.State = history[next]
		snapshot.History = snapshot.History[:next+1]
		if err := c.store.Transition(ctx, snapshot, history[run.persisted]); err != nil {
			return err
		}
		run.persisted = next
	}
	return nil
}

func retryableStoreError(err error) bool {
	switch {
	case errors.Is(err, saga.ErrTerminal), errors.Is(err, saga.ErrInvalidTransition), errors.Is(err, saga.ErrNotFound):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func (c *Coordinator) observe(op gateway.Operation, fn func() error) error {
	start := c.now()
	err := fn()
	if c.metrics != nil {
		c.metrics.ObserveGatewayCall(string(op), c.now().Sub(start), err)
	}
	return err
}

func classifyFailure(res gateway.Result, err error) Classification {
	if err != nil {
		return ClassifyError(err)
	}
	return Classify(res)
}

func (o Outcome) needsReconciliation() bool {
	return o.ErrorKind == KindCompensationFailed || o.ErrorKind == KindChargedButActivationPending
}
