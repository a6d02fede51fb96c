package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	grpcadapter "nutripay/internal/adapters/grpc"
	"nutripay/internal/payments/saga"
)

type transactionRow struct {
	ReferenceID          string    `json:"reference_id"`
	GatewayTransactionID string    `json:"gateway_transaction_id,omitempty"`
	UserID               string    `json:"user_id"`
	State                string    `json:"state"`
	PlanType             string    `json:"plan_type"`
	Amount               string    `json:"amount"`
	Currency             string    `json:"currency"`
	ErrorKind            string    `json:"error_kind,omitempty"`
	LastTransitionAt     time.Time `json:"last_transition_at"`
}

func printTransactions(cmd *cobra.Command, txns []*saga.Transaction, output string) error {
	rows := make([]transactionRow, 0, len(txns))
	for _, txn := range txns {
		rows = append(rows, transactionRow{
			ReferenceID:          txn.ReferenceID,
			GatewayTransactionID: txn.GatewayTransactionID,
			UserID:               txn.UserID,
			State:                string(txn.State),
			PlanType:             string(txn.PlanType),
			Amount:               txn.Amount.StringFixed(2),
			Currency:             txn.Currency,
			ErrorKind:            txn.ErrorKind,
			LastTransitionAt:     txn.LastTransitionAt.UTC(),
		})
	}
	switch strings.ToLower(strings.TrimSpace(output)) {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "", "text":
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "REFERENCE\tGATEWAY TXN\tUSER\tSTATE\tAMOUNT\tLAST TRANSITION")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s %s\t%s\n",
				r.ReferenceID, r.GatewayTransactionID, r.UserID, r.State, r.Amount, r.Currency,
				r.LastTransitionAt.Format(time.RFC3339))
		}
		return w.Flush()
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func printOutcome(cmd *cobra.Command, resp *grpcadapter.OutcomeResponse, output string) error {
	switch strings.ToLower(strings.TrimSpace(output)) {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	case "", "text":
		w := cmd.OutOrStdout()
		if resp.Success {
			fmt.Fprintf(w, "Activated %s until %s\n", resp.ReferenceID, resp.SubscriptionActiveUntil.UTC().Format(time.RFC3339))
			return nil
		}
		fmt.Fprintf(w, "Activation pending for %s: %s (%s)\n", resp.ReferenceID, resp.Message, resp.ErrorKind)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}
