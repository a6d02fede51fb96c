package paymentsdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"nutripay/internal/payments/saga"
)

// TransactionStore persists saga transactions and their transition log in Postgres.
type TransactionStore struct {
	db *sql.DB
}

var _ saga.TransactionStore = (*TransactionStore)(nil)

// NewTransactionStore constructs a TransactionStore backed by Postgres.
func NewTransactionStore(db *sql.DB) *TransactionStore {
	return &TransactionStore{db: db}
}

// NewTransactionStoreWithSchema initializes the schema then returns the store.
func NewTransactionStoreWithSchema(ctx context.Context, db *sql.DB) (*TransactionStore, error) {
	store := NewTransactionStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the transaction tables if they do not exist.
func (s *TransactionStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS payment_transactions (
			reference_id TEXT PRIMARY KEY,
			gateway_transaction_id TEXT,
			user_id TEXT NOT NULL,
			state TEXT NOT NULL,
			plan_type TEXT NOT NULL,
			amount NUMERIC(18, 2) NOT NULL,
			currency TEXT NOT NULL,
			payer_account TEXT NOT NULL,
			error_kind TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			last_transition_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS payment_transactions_state_idx ON payment_transactions (state)`,
		`CREATE TABLE IF NOT EXISTS payment_transaction_transitions (
			id BIGSERIAL PRIMARY KEY,
			reference_id TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			FOREIGN KEY (reference_id) REFERENCES payment_transactions(reference_id) ON DELETE CASCADE
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// Create inserts a new transaction. A reused reference id returns saga.ErrDuplicateRef.
func (s *TransactionStore) Create(ctx context.Context, txn *saga.Transaction) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_transactions (reference_id, gateway_transaction_id, user_id, state, plan_type,
			amount, currency, payer_account, error_kind, created_at, last_transition_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (reference_id) DO NOTHING`,
		txn.ReferenceID, nullable(txn.GatewayTransactionID), txn.UserID, string(txn.State), string(txn.PlanType),
		txn.Amount.String(), txn.Currency, txn.PayerAccount, txn.ErrorKind, txn.CreatedAt, txn.LastTransitionAt,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return saga.ErrDuplicateRef
	}
	return nil
}

// Transition stores txn's current state, provided the row is still in from,
// and appends a transition row in the same database transaction.
func (s *TransactionStore) Transition(ctx context.Context, txn *saga.Transaction, from saga.State) (err error) {
	if from.Terminal() {
		return fmt.Errorf("%w: %s", saga.ErrTerminal, from)
	}
	if !saga.CanTransition(from, txn.State) {
		return fmt.Errorf("%w: %s -> %s", saga.ErrInvalidTransition, from, txn.State)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE payment_transactions
		SET state = $2, gateway_transaction_id = COALESCE($3, gateway_transaction_id), error_kind = $4, last_transition_at = $5
		WHERE reference_id = $1 AND state = $6`,
		txn.ReferenceID, string(txn.State), nullable(txn.GatewayTransactionID), txn.ErrorKind, txn.LastTransitionAt, string(from),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return s.explainMiss(ctx, tx, txn.ReferenceID, from)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO payment_transaction_transitions (reference_id, from_state, to_state, created_at)
		VALUES ($1, $2, $3, $4)`,
		txn.ReferenceID, string(from), string(txn.State), txn.LastTransitionAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *TransactionStore) explainMiss(ctx context.Context, tx *sql.Tx, referenceID string, from saga.State) error {
	var current string
	err := tx.QueryRowContext(ctx, `SELECT state FROM payment_transactions WHERE reference_id = $1`, referenceID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return saga.ErrNotFound
	case err != nil:
		return err
	case saga.State(current).Terminal():
		return fmt.Errorf("%w: %s", saga.ErrTerminal, current)
	default:
		return fmt.Errorf("%w: stored state %s, expected %s", saga.ErrInvalidTransition, current, from)
	}
}

const selectColumns = `reference_id, COALESCE(gateway_transaction_id, ''), user_id, state, plan_type,
	amount::TEXT, currency, payer_account, error_kind, created_at, last_transition_at`

// GetByReference loads one transaction with its full state history.
func (s *TransactionStore) GetByReference(ctx context.Context, referenceID string) (*saga.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM payment_transactions WHERE reference_id = $1`, referenceID)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, saga.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT to_state FROM payment_transaction_transitions
		WHERE reference_id = $1
		ORDER BY id`,
		referenceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txn.History = []saga.State{saga.StateInit}
	for rows.Next() {
		var state string
		if err := rows.Scan(&state); err != nil {
			return nil, err
		}
		txn.History = append(txn.History, saga.State(state))
	}
	return txn, rows.Err()
}

// ListByState returns transactions in any of states, oldest first. History is not loaded.
func (s *TransactionStore) ListByState(ctx context.Context, states ...saga.State) ([]*saga.Transaction, error) {
	query := `SELECT ` + selectColumns + ` FROM payment_transactions`
	args := make([]any, 0, len(states))
	if len(states) > 0 {
		placeholders := make([]string, len(states))
		for i, st := range states {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, string(st))
		}
		query += ` WHERE state IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*saga.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*saga.Transaction, error) {
	var (
		txn               saga.Transaction
		state, plan, amt  string
		createdAt, lastAt time.Time
	)
	if err := row.Scan(&txn.ReferenceID, &txn.GatewayTransactionID, &txn.UserID, &state, &plan,
		&amt, &txn.Currency, &txn.PayerAccount, &txn.ErrorKind, &createdAt, &lastAt); err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(amt)
	if err != nil {
		return nil, fmt.Errorf("transaction %s amount: %w", txn.ReferenceID, err)
	}
	txn.State = saga.State(state)
	txn.PlanType = saga.PlanType(plan)
	txn.Amount = amount
	txn.CreatedAt = createdAt
	txn.LastTransitionAt = lastAt
	return &txn, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
