// Package commands implements the envelopectl command line, which operates on
// a local SQLite ledger without going through the HTTP API.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"envelopes/internal/backend"
	"envelopes/internal/config"
	"envelopes/internal/core"
	"envelopes/internal/ledger"
	"envelopes/internal/log"
)

// app holds the persistent flags shared by every subcommand.
type app struct {
	dbPath   string
	logLevel string
	cfg      *config.Config
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	a := &app{cfg: config.Load()}

	rootCmd := &cobra.Command{
		Use:   "envelopectl",
		Short: "Manage envelope budgets, transfers and transactions",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&a.dbPath, "db", a.cfg.SQLiteDBPath, "path to the SQLite database")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level written to stderr")

	rootCmd.AddCommand(
		newMigrateCommand(a),
		newEnvelopeCommand(a),
		newTransferCommand(a),
		newTransactionCommand(a),
	)

	return rootCmd
}

func (a *app) logger(cmd *cobra.Command) *log.Logger {
	return log.New(log.Config{
		Level:     log.ParseLevel(a.logLevel),
		Component: log.ComponentCLI,
		Output:    cmd.ErrOrStderr(),
	})
}

// run opens the ledger, calls fn and prints its result as JSON. A nil result
// prints nothing.
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context, svc *ledger.Service) (any, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := a.logger(cmd)

	res, err := backend.NewFactory(logger).CreateBackend(ctx, backend.Config{
		Type:         backend.SQLiteBackend,
		SQLiteDBPath: a.dbPath,
		AMQPURL:      a.cfg.AMQPURL,
		AMQPExchange: a.cfg.AMQPExchange,
		AMQPQueue:    a.cfg.AMQPQueue,
	})
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Warn("Backend cleanup failed", log.FieldError, err.Error())
		}
	}()

	svc := ledger.New(res.Store, ledger.Options{
		MaxAttempts: a.cfg.TxMaxAttempts,
		Backoff:     a.cfg.TxBackoff,
		Publisher:   res.Publisher,
		Logger:      logger,
	})

	out, err := fn(ctx, svc)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

func parseID(field, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, core.InvalidArgument("%s: '%s' is not a number, must be a number", field, raw)
	}
	return id, nil
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
