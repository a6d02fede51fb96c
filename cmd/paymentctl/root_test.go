package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"

	grpcadapter "nutripay/internal/adapters/grpc"
	"nutripay/internal/payments/saga"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeActivationClient struct {
	got  *grpcadapter.RetryActivationRequest
	resp *grpcadapter.OutcomeResponse
}

func (f *fakeActivationClient) RetryActivation(_ context.Context, in *grpcadapter.RetryActivationRequest, _ ...grpc.CallOption) (*grpcadapter.OutcomeResponse, error) {
	f.got = in
	return f.resp, nil
}

func seededStore(t *testing.T) *saga.InMemoryStore {
	t.Helper()
	store := saga.NewInMemoryStore()
	ctx := context.Background()

	stuck := saga.NewTransaction("NP-stuck", "user-1", saga.PlanYearly, decimal.RequireFromString("120"), "USD", "5551234567", t0)
	if err := store.Create(ctx, stuck); err != nil {
		t.Fatalf("create: %v", err)
	}
	path := []saga.State{saga.StateAuthorizing, saga.StateAuthorized, saga.StateCommitting, saga.StateCommitFailed, saga.StateCompensating, saga.StateCompensationFailed}
	for _, to := range path {
		from := stuck.State
		if to == saga.StateAuthorized {
			if err := stuck.Authorized("gw-1", t0); err != nil {
				t.Fatalf("authorized: %v", err)
			}
		} else if err := stuck.Transition(to, t0); err != nil {
			t.Fatalf("transition: %v", err)
		}
		if err := store.Transition(ctx, stuck, from); err != nil {
			t.Fatalf("store transition: %v", err)
		}
	}

	pending := saga.NewTransaction("NP-init", "user-2", saga.PlanMonthly, decimal.RequireFromString("10"), "USD", "5551234568", t0.Add(time.Minute))
	if err := store.Create(ctx, pending); err != nil {
		t.Fatalf("create: %v", err)
	}
	return store
}

func execute(t *testing.T, d deps, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(d)
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func storeDeps(store saga.TransactionStore, dsn *string) deps {
	return deps{
		openStore: func(_ context.Context, got string) (saga.TransactionStore, func(), error) {
			*dsn = got
			return store, func() {}, nil
		},
	}
}

func TestReconcileListDefaultsToCompensationFailed(t *testing.T) {
	var dsn string
	out, err := execute(t, storeDeps(seededStore(t), &dsn), "reconcile", "list", "--database-url", "postgres://db/nutripay")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if dsn != "postgres://db/nutripay" {
		t.Fatalf("unexpected dsn: %q", dsn)
	}
	if !strings.Contains(out, "NP-stuck") || !strings.Contains(out, "gw-1") || !strings.Contains(out, "120.00 USD") {
		t.Fatalf("expected stuck transaction in output:\n%s", out)
	}
	if strings.Contains(out, "NP-init") {
		t.Fatalf("unexpected INIT transaction in output:\n%s", out)
	}
}

func TestReconcileListJSONWithState(t *testing.T) {
	var dsn string
	out, err := execute(t, storeDeps(seededStore(t), &dsn), "reconcile", "list", "--database-url", "x", "--state", "init", "-o", "json")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var rows []transactionRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(rows) != 1 || rows[0].ReferenceID != "NP-init" || rows[0].State != "INIT" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestReconcileListRejectsUnknownState(t *testing.T) {
	var dsn string
	if _, err := execute(t, storeDeps(seededStore(t), &dsn), "reconcile", "list", "--database-url", "x", "--state", "DONE"); err == nil {
		t.Fatalf("expected unknown state error")
	}
}

func TestReconcileListRequiresDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	var dsn string
	if _, err := execute(t, storeDeps(seededStore(t), &dsn), "reconcile", "list", "--database-url", ""); err == nil {
		t.Fatalf("expected missing dsn error")
	}
}

func TestReconcileActivate(t *testing.T) {
	client := &fakeActivationClient{resp: &grpcadapter.OutcomeResponse{
		Success:                 true,
		ReferenceID:             "NP-9",
		SubscriptionActiveUntil: t0.AddDate(1, 0, 0),
	}}
	var dialed string
	d := deps{dialServer: func(addr string) (activationClient, func(), error) {
		dialed = addr
		return client, func() {}, nil
	}}

	out, err := execute(t, d, "reconcile", "activate", "--addr", "svc:50051", "--user", "user-1", "--reference", "NP-9")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if dialed != "svc:50051" {
		t.Fatalf("unexpected addr: %q", dialed)
	}
	if client.got.UserID != "user-1" || client.got.ReferenceID != "NP-9" {
		t.Fatalf("unexpected request: %+v", client.got)
	}
	if !strings.Contains(out, "Activated NP-9 until 2027-03-01T12:00:00Z") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestReconcileActivateRequiresFlags(t *testing.T) {
	d := deps{dialServer: func(string) (activationClient, func(), error) {
		t.Fatalf("must not dial without flags")
		return nil, nil, nil
	}}
	if _, err := execute(t, d, "reconcile", "activate", "--user", "user-1"); err == nil {
		t.Fatalf("expected missing reference error")
	}
}
