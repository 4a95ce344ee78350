package commands

import (
	"context"

	"github.com/spf13/cobra"

	"envelopes/internal/core"
	"envelopes/internal/ledger"
)

func newTransactionCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "transaction",
		Aliases: []string{"tx"},
		Short:   "Record spending against envelopes",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list ENVELOPE_ID",
			Short: "List the transactions of an envelope",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				envID, err := parseID("envelope", args[0])
				if err != nil {
					return err
				}
				return a.run(cmd, func(ctx context.Context, svc *ledger.Service) (any, error) {
					txs, err := svc.Transactions.List(ctx, envID)
					return orEmpty(txs), err
				})
			},
		},
		&cobra.Command{
			Use:   "get ID",
			Short: "Show one transaction",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID("id", args[0])
				if err != nil {
					return err
				}
				return a.run(cmd, func(ctx context.Context, svc *ledger.Service) (any, error) {
					return svc.Transactions.Get(ctx, id)
				})
			},
		},
		newTransactionCreateCommand(a),
		newTransactionUpdateCommand(a),
		&cobra.Command{
			Use:   "delete ID",
			Short: "Delete a transaction and give its amount back to the envelope",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID("id", args[0])
				if err != nil {
					return err
				}
				return a.run(cmd, func(ctx context.Context, svc *ledger.Service) (any, error) {
					return nil, svc.Transactions.Delete(ctx, id)
				})
			},
		},
		&cobra.Command{
			Use:   "delete-all ENVELOPE_ID",
			Short: "Delete every transaction of an envelope",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				envID, err := parseID("envelope", args[0])
				if err != nil {
					return err
				}
				return a.run(cmd, func(ctx context.Context, svc *ledger.Service) (any, error) {
					removed, err := svc.Transactions.DeleteAll(ctx, envID)
					return orEmpty(removed), err
				})
			},
		},
	)
	return cmd
}

func newTransactionCreateCommand(a *app) *cobra.Command {
	var amount, name string

	cmd := &cobra.Command{
		Use:   "create ENVELOPE_ID",
		Short: "Record a transaction against an envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			envID, err := parseID("envelope", args[0])
			if err != nil {
				return err
			}
			amt, err := core.ParseAmount("amount", amount)
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, svc *ledger.Service) (any, error) {
				return svc.Transactions.Create(ctx, envID, amt, name)
			})
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "amount spent (required)")
	_ = cmd.MarkFlagRequired("amount")
	cmd.Flags().StringVar(&name, "name", "", "description (required)")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newTransactionUpdateCommand(a *app) *cobra.Command {
	var amount, name, envelope string

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change a transaction's name, amount or envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("id", args[0])
			if err != nil {
				return err
			}

			var patch core.TransactionPatch
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("amount") {
				d, err := core.ParseAmount("amount", amount)
				if err != nil {
					return err
				}
				patch.Amount = &d
			}
			if cmd.Flags().Changed("envelope") {
				envID, err := parseID("envelope", envelope)
				if err != nil {
					return err
				}
				patch.EnvelopeID = &envID
			}

			return a.run(cmd, func(ctx context.Context, svc *ledger.Service) (any, error) {
				return svc.Transactions.Update(ctx, id, patch)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "new description")
	cmd.Flags().StringVar(&amount, "amount", "", "new amount")
	cmd.Flags().StringVar(&envelope, "envelope", "", "move to this envelope id")

	return cmd
}
