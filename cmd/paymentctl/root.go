package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcadapter "nutripay/internal/adapters/grpc"
	paymentsdb "nutripay/internal/db/payments"
	"nutripay/internal/payments/saga"
)

// activationClient is the slice of PaymentServiceClient the CLI needs.
type activationClient interface {
	RetryActivation(ctx context.Context, in *grpcadapter.RetryActivationRequest, opts ...grpc.CallOption) (*grpcadapter.OutcomeResponse, error)
}

type deps struct {
	openStore  func(ctx context.Context, dsn string) (saga.TransactionStore, func(), error)
	dialServer func(addr string) (activationClient, func(), error)
}

func defaultDeps() deps {
	return deps{
		openStore: func(ctx context.Context, dsn string) (saga.TransactionStore, func(), error) {
			db, err := sql.Open("pgx", dsn)
			if err != nil {
				return nil, nil, err
			}
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := db.PingContext(pingCtx); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
			return paymentsdb.NewTransactionStore(db), func() { _ = db.Close() }, nil
		},
		dialServer: func(addr string) (activationClient, func(), error) {
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return nil, nil, err
			}
			return grpcadapter.NewPaymentServiceClient(conn), func() { _ = conn.Close() }, nil
		},
	}
}

func newRootCommand(d deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "paymentctl",
		Short:         "Operator tooling for subscription payments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newReconcileCommand(d))
	return cmd
}

func newReconcileCommand(d deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Inspect and repair transactions that need a human",
	}
	cmd.AddCommand(
		newReconcileListCommand(d),
		newReconcileActivateCommand(d),
	)
	return cmd
}

func newReconcileListCommand(d deps) *cobra.Command {
	var dsn, output string
	var states []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions by state (COMPENSATION_FAILED by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				return fmt.Errorf("--database-url or DATABASE_URL is required")
			}
			want := make([]saga.State, 0, len(states))
			for _, raw := range states {
				st := saga.State(strings.ToUpper(strings.TrimSpace(raw)))
				if !st.Valid() {
					return fmt.Errorf("unknown state %q", raw)
				}
				want = append(want, st)
			}
			store, cleanup, err := d.openStore(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			defer cleanup()
			txns, err := store.ListByState(cmd.Context(), want...)
			if err != nil {
				return err
			}
			return printTransactions(cmd, txns, output)
		},
	}
	cmd.Flags().StringVar(&dsn, "database-url", os.Getenv("DATABASE_URL"), "Postgres DSN of the transaction log")
	cmd.Flags().StringSliceVar(&states, "state", []string{string(saga.StateCompensationFailed)}, "states to list (repeatable)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (json|text)")
	return cmd
}

func newReconcileActivateCommand(d deps) *cobra.Command {
	var addr, userID, referenceID, output string
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Retry subscription activation for a committed charge",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(userID) == "" || strings.TrimSpace(referenceID) == "" {
				return fmt.Errorf("--user and --reference are required")
			}
			client, cleanup, err := d.dialServer(addr)
			if err != nil {
				return err
			}
			defer cleanup()
			resp, err := client.RetryActivation(cmd.Context(), &grpcadapter.RetryActivationRequest{
				UserID:      userID,
				ReferenceID: referenceID,
			})
			if err != nil {
				return err
			}
			return printOutcome(cmd, resp, output)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envOr("PAYMENTCTL_ADDR", "localhost:50051"), "payment service gRPC address")
	cmd.Flags().StringVar(&userID, "user", "", "owner of the transaction")
	cmd.Flags().StringVar(&referenceID, "reference", "", "transaction reference id")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (json|text)")
	return cmd
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}
