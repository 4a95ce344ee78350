package commands

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"envelopes/internal/core"
	"envelopes/internal/ledger"
)

func newEnvelopeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "envelope",
		Aliases: []string{"env"},
		Short:   "Manage envelopes",
	}
	cmd.AddCommand(
		newEnvelopeListCommand(a),
		newEnvelopeGetCommand(a),
		newEnvelopeCreateCommand(a),
		newEnvelopeUpdateCommand(a),
		newEnvelopeDeleteCommand(a),
	)
	return cmd
}

func newEnvelopeListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all envelopes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, svc *ledger.Service) (any, error) {
				envs, err := svc.Envelopes.List(ctx)
				return orEmpty(envs), err
			})
		},
	}
}

func newEnvelopeGetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("id", args[0])
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, svc *ledger.Service) (any, error) {
				return svc.Envelopes.Get(ctx, id)
			})
		},
	}
}

func newEnvelopeCreateCommand(a *app) *cobra.Command {
	var name, budget, spent string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an envelope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := core.NewEnvelope{Name: name, Spent: decimal.Zero}
			var err error
			if in.Budget, err = core.ParseAmount("budget", budget); err != nil {
				return err
			}
			if cmd.Flags().Changed("spent") {
				if in.Spent, err = core.ParseAmount("spent", spent); err != nil {
					return err
				}
			}
			return a.run(cmd, func(ctx context.Context, svc *ledger.Service) (any, error) {
				return svc.Envelopes.Create(ctx, in)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "envelope name (required)")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&budget, "budget", "", "budget amount (required)")
	_ = cmd.MarkFlagRequired("budget")
	cmd.Flags().StringVar(&spent, "spent", "0", "amount already spent")

	return cmd
}

func newEnvelopeUpdateCommand(a *app) *cobra.Command {
	var name, budget, spent string

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change an envelope's name, budget or spent amount",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("id", args[0])
			if err != nil {
				return err
			}

			var patch core.EnvelopePatch
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("budget") {
				d, err := core.ParseAmount("budget", budget)
				if err != nil {
					return err
				}
				patch.Budget = &d
			}
			if cmd.Flags().Changed("spent") {
				d, err := core.ParseAmount("spent", spent)
				if err != nil {
					return err
				}
				patch.Spent = &d
			}

			return a.run(cmd, func(ctx context.Context, svc *ledger.Service) (any, error) {
				return svc.Envelopes.Update(ctx, id, patch)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&budget, "budget", "", "new budget")
	cmd.Flags().StringVar(&spent, "spent", "", "new spent amount")

	return cmd
}

func newEnvelopeDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an envelope with its transactions and transfers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("id", args[0])
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, svc *ledger.Service) (any, error) {
				return nil, svc.Envelopes.Delete(ctx, id)
			})
		},
	}
}
