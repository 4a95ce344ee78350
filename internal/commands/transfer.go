package commands

import (
	"context"

	"github.com/spf13/cobra"

	"envelopes/internal/core"
	"envelopes/internal/ledger"
)

func newTransferCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Move budget between envelopes",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List all transfers",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd, func(ctx context.Context, svc *ledger.Service) (any, error) {
					transfers, err := svc.Transfers.List(ctx)
					return orEmpty(transfers), err
				})
			},
		},
		&cobra.Command{
			Use:   "get ID",
			Short: "Show one transfer",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID("id", args[0])
				if err != nil {
					return err
				}
				return a.run(cmd, func(ctx context.Context, svc *ledger.Service) (any, error) {
					return svc.Transfers.Get(ctx, id)
				})
			},
		},
		newTransferCreateCommand(a),
		&cobra.Command{
			Use:   "delete ID",
			Short: "Delete a transfer record without reversing it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID("id", args[0])
				if err != nil {
					return err
				}
				return a.run(cmd, func(ctx context.Context, svc *ledger.Service) (any, error) {
					return nil, svc.Transfers.Delete(ctx, id)
				})
			},
		},
	)
	return cmd
}

func newTransferCreateCommand(a *app) *cobra.Command {
	var from, to, amount string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Transfer budget from one envelope to another",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fromID, err := parseID("from", from)
			if err != nil {
				return err
			}
			toID, err := parseID("to", to)
			if err != nil {
				return err
			}
			amt, err := core.ParseAmount("amount", amount)
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, svc *ledger.Service) (any, error) {
				return svc.Transfers.Create(ctx, fromID, toID, amt)
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "source envelope id (required)")
	_ = cmd.MarkFlagRequired("from")
	cmd.Flags().StringVar(&to, "to", "", "destination envelope id (required)")
	_ = cmd.MarkFlagRequired("to")
	cmd.Flags().StringVar(&amount, "amount", "", "amount to move (required)")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}
