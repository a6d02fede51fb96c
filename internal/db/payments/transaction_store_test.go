package paymentsdb

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"nutripay/internal/payments/saga"
)

var t0 = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	}

	return db, mock, cleanup
}

func newTxn() *saga.Transaction {
	return saga.NewTransaction("ref-1", "user-1", saga.PlanYearly, decimal.RequireFromString("120.00"), "TZS", "255712345678", t0)
}

var txnColumns = []string{
	"reference_id", "gateway_transaction_id", "user_id", "state", "plan_type",
	"amount", "currency", "payer_account", "error_kind", "created_at", "last_transition_at",
}

func TestTransactionStore_WithSchema(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS payment_transactions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS payment_transactions_state_idx").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS payment_transaction_transitions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	store, err := NewTransactionStoreWithSchema(context.Background(), db)
	if err != nil {
		t.Fatalf("WithSchema: %v", err)
	}
	if store == nil {
		t.Fatalf("expected store")
	}
}

func TestTransactionStore_WithSchemaError(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS payment_transactions").
		WillReturnError(errors.New("boom"))
	mock.ExpectClose()

	store, err := NewTransactionStoreWithSchema(context.Background(), db)
	if err == nil {
		t.Fatalf("expected error")
	}
	if store != nil {
		t.Fatalf("expected nil store on error")
	}
}

func TestTransactionStore_Create(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO payment_transactions").
		WithArgs("ref-1", nil, "user-1", "INIT", "YEARLY", "120", "TZS", "255712345678", "", t0, t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	if err := NewTransactionStore(db).Create(context.Background(), newTxn()); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestTransactionStore_CreateDuplicate(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectExec("INSERT INTO payment_transactions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	err := NewTransactionStore(db).Create(context.Background(), newTxn())
	if !errors.Is(err, saga.ErrDuplicateRef) {
		t.Fatalf("expected ErrDuplicateRef, got %v", err)
	}
}

func TestTransactionStore_TransitionWritesLog(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	txn := newTxn()
	if err := txn.Transition(saga.StateAuthorizing, t0); err != nil {
		t.Fatalf("transition: %v", err)
	}
	at := t0.Add(time.Second)
	if err := txn.Authorized("T1", at); err != nil {
		t.Fatalf("authorized: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payment_transactions").
		WithArgs("ref-1", "AUTHORIZED", "T1", "", at, "AUTHORIZING").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payment_transaction_transitions").
		WithArgs("ref-1", "AUTHORIZING", "AUTHORIZED", at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectClose()

	if err := NewTransactionStore(db).Transition(context.Background(), txn, saga.StateAuthorizing); err != nil {
		t.Fatalf("Transition: %v", err)
	}
}

func TestTransactionStore_TransitionRejectsTerminalRow(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	txn := newTxn()
	_ = txn.Transition(saga.StateAuthorizing, t0)
	_ = txn.Transition(saga.StateRejected, t0)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payment_transactions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT state FROM payment_transactions").
		WithArgs("ref-1").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow("REJECTED"))
	mock.ExpectRollback()
	mock.ExpectClose()

	err := NewTransactionStore(db).Transition(context.Background(), txn, saga.StateAuthorizing)
	if !errors.Is(err, saga.ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
}

func TestTransactionStore_TransitionMissingRow(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	txn := newTxn()
	_ = txn.Transition(saga.StateAuthorizing, t0)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payment_transactions").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT state FROM payment_transactions").
		WithArgs("ref-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()
	mock.ExpectClose()

	err := NewTransactionStore(db).Transition(context.Background(), txn, saga.StateInit)
	if !errors.Is(err, saga.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransactionStore_TransitionRejectsSkippedStep(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)
	mock.ExpectClose()

	txn := newTxn()
	txn.State = saga.StateCommitted

	err := NewTransactionStore(db).Transition(context.Background(), txn, saga.StateAuthorizing)
	if !errors.Is(err, saga.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransactionStore_GetByReference(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT reference_id").
		WithArgs("ref-1").
		WillReturnRows(sqlmock.NewRows(txnColumns).
			AddRow("ref-1", "T1", "user-1", "COMMITTED", "YEARLY", "120.00", "TZS", "255712345678", "", t0, t0))
	mock.ExpectQuery("SELECT to_state FROM payment_transaction_transitions").
		WithArgs("ref-1").
		WillReturnRows(sqlmock.NewRows([]string{"to_state"}).
			AddRow("AUTHORIZING").AddRow("AUTHORIZED").AddRow("COMMITTING").AddRow("COMMITTED"))
	mock.ExpectClose()

	txn, err := NewTransactionStore(db).GetByReference(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("GetByReference: %v", err)
	}
	if txn.State != saga.StateCommitted || txn.GatewayTransactionID != "T1" {
		t.Fatalf("unexpected txn: %+v", txn)
	}
	if !txn.Amount.Equal(decimal.RequireFromString("120")) {
		t.Fatalf("unexpected amount %s", txn.Amount)
	}
	if len(txn.History) != 5 || txn.History[0] != saga.StateInit || txn.History[4] != saga.StateCommitted {
		t.Fatalf("unexpected history: %v", txn.History)
	}
}

func TestTransactionStore_GetByReferenceMissing(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery("SELECT reference_id").
		WithArgs("ref-404").
		WillReturnRows(sqlmock.NewRows(txnColumns))
	mock.ExpectClose()

	_, err := NewTransactionStore(db).GetByReference(context.Background(), "ref-404")
	if !errors.Is(err, saga.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTransactionStore_ListByState(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	t.Cleanup(cleanup)

	mock.ExpectQuery(`WHERE state IN \(\$1, \$2\)`).
		WithArgs("COMPENSATION_FAILED", "COMMITTED").
		WillReturnRows(sqlmock.NewRows(txnColumns).
			AddRow("ref-1", "T1", "user-1", "COMPENSATION_FAILED", "MONTHLY", "10.00", "TZS", "255712345678", "CompensationFailed", t0, t0).
			AddRow("ref-2", "T2", "user-2", "COMMITTED", "YEARLY", "120.00", "TZS", "255712345679", "", t0, t0))
	mock.ExpectClose()

	txns, err := NewTransactionStore(db).ListByState(context.Background(), saga.StateCompensationFailed, saga.StateCommitted)
	if err != nil {
		t.Fatalf("ListByState: %v", err)
	}
	if len(txns) != 2 || txns[0].ReferenceID != "ref-1" || txns[1].PlanType != saga.PlanYearly {
		t.Fatalf("unexpected txns: %+v", txns)
	}
}
