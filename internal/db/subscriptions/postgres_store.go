package subscriptionsdb

import (
	"context"
	"database/sql"
	"errors"

	"nutripay/internal/payments/saga"
	"nutripay/internal/subscriptions"
)

var _ subscriptions.Store = (*PostgresStore)(nil)

// PostgresStore persists subscriptions and the activations applied to them.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a subscriptions.Store backed by Postgres.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresStoreWithSchema initializes the schema then returns the store.
func NewPostgresStoreWithSchema(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	store := NewPostgresStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the subscription tables if they do not exist.
func (p *PostgresStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS subscriptions (
			user_id TEXT PRIMARY KEY,
			plan_type TEXT NOT NULL,
			start_date TIMESTAMPTZ NOT NULL,
			end_date TIMESTAMPTZ NOT NULL,
			source_transaction_id TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS subscription_activations (
			user_id TEXT NOT NULL,
			source_transaction_id TEXT NOT NULL,
			plan_type TEXT NOT NULL,
			start_date TIMESTAMPTZ NOT NULL,
			end_date TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, source_transaction_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Activate records the activation once per (user, source transaction) and
// upserts the user's subscription in the same database transaction. The
// current row is only replaced by a later end date.
func (p *PostgresStore) Activate(ctx context.Context, rec subscriptions.ActivationRecord) (sub subscriptions.Subscription, applied bool, err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return subscriptions.Subscription{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO subscription_activations (user_id, source_transaction_id, plan_type, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, source_transaction_id) DO NOTHING`,
		rec.UserID, rec.SourceTransactionID, string(rec.PlanType), rec.StartDate, rec.EndDate,
	)
	if err != nil {
		return subscriptions.Subscription{}, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return subscriptions.Subscription{}, false, err
	}

	if affected == 0 {
		sub = subscriptions.Subscription{UserID: rec.UserID, SourceTransactionID: rec.SourceTransactionID}
		var plan string
		row := tx.QueryRowContext(ctx, `
			SELECT plan_type, start_date, end_date
			FROM subscription_activations
			WHERE user_id = $1 AND source_transaction_id = $2`,
			rec.UserID, rec.SourceTransactionID,
		)
		if err = row.Scan(&plan, &sub.StartDate, &sub.EndDate); err != nil {
			return subscriptions.Subscription{}, false, err
		}
		sub.PlanType = saga.PlanType(plan)
		return sub, false, tx.Commit()
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, plan_type, start_date, end_date, source_transaction_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET plan_type = EXCLUDED.plan_type,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			source_transaction_id = EXCLUDED.source_transaction_id,
			updated_at = NOW()
		WHERE subscriptions.end_date < EXCLUDED.end_date`,
		rec.UserID, string(rec.PlanType), rec.StartDate, rec.EndDate, rec.SourceTransactionID,
	); err != nil {
		return subscriptions.Subscription{}, false, err
	}
	if err = tx.Commit(); err != nil {
		return subscriptions.Subscription{}, false, err
	}

	return subscriptions.Subscription{
		UserID:              rec.UserID,
		PlanType:            rec.PlanType,
		StartDate:           rec.StartDate,
		EndDate:             rec.EndDate,
		SourceTransactionID: rec.SourceTransactionID,
	}, true, nil
}

// Get returns the user's current subscription.
func (p *PostgresStore) Get(ctx context.Context, userID string) (subscriptions.Subscription, error) {
	sub := subscriptions.Subscription{UserID: userID}
	var plan string
	row := p.db.QueryRowContext(ctx, `
		SELECT plan_type, start_date, end_date, source_transaction_id
		FROM subscriptions
		WHERE user_id = $1`,
		userID,
	)
	if err := row.Scan(&plan, &sub.StartDate, &sub.EndDate, &sub.SourceTransactionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return subscriptions.Subscription{}, subscriptions.ErrNotFound
		}
		return subscriptions.Subscription{}, err
	}
	sub.PlanType = saga.PlanType(plan)
	return sub, nil
}
