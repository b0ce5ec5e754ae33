package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/audit"
	"github.com/egannguyen/go-kafka-ecommerce/settlement/internal/money"
)

func issueInvoicesCmd(load configLoader) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "issue-invoices <group-order-id>",
		Short: "Issue second-payment shipping invoices for a group order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := withApp(cmd, load)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.invoices.IssueShippingInvoices(cmd.Context(), args[0], actor)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("%d invoice(s) failed", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "cli", "actor id recorded in the audit log")
	return cmd
}

func setShippingCostCmd(load configLoader) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "set-shipping-cost <group-order-id> <amount>",
		Short: "Record the actual shipping cost of a group order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cost, err := money.Parse(args[1])
			if err != nil {
				return err
			}
			a, err := withApp(cmd, load)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.invoices.SetActualShippingCost(cmd.Context(), args[0], cost, actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "group order %s: actual shipping cost %s\n", args[0], cost)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "cli", "actor id recorded in the audit log")
	return cmd
}

func previewCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <group-order-id>",
		Short: "Show each participant's shipping share without issuing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := withApp(cmd, load)
			if err != nil {
				return err
			}
			defer a.close()

			shares, err := a.invoices.PreviewShares(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), shares)
		},
	}
}

func auditTailCmd(load configLoader) *cobra.Command {
	var (
		group  string
		stored int
	)

	cmd := &cobra.Command{
		Use:   "audit-tail",
		Short: "Follow the audit stream, or print the latest stored records with --stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := withApp(cmd, load)
			if err != nil {
				return err
			}
			defer a.close()
			out := cmd.OutOrStdout()

			if stored > 0 {
				records, err := a.repos.audit.List(cmd.Context(), stored)
				if err != nil {
					return err
				}
				for i := len(records) - 1; i >= 0; i-- {
					fmt.Fprintln(out, audit.FormatRecord(records[i]))
				}
				return nil
			}

			if a.broker == nil {
				return errors.New("kafka.brokers is not configured, use --stored")
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			audit.Tail(ctx, a.broker, a.cfg.Kafka.AuditTopic, group, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "consumer group; empty reads the topic from the start")
	cmd.Flags().IntVar(&stored, "stored", 0, "print the latest N stored records and exit")
	return cmd
}

func withApp(cmd *cobra.Command, load configLoader) (*app, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
