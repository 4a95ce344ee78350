package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"envelopes/internal/storage"
)

type migrationStatus struct {
	Path    string `json:"path"`
	Version uint   `json:"version"`
	Dirty   bool   `json:"dirty"`
}

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(filepath.Dir(a.dbPath), 0o755); err != nil {
				return fmt.Errorf("create db directory: %w", err)
			}
			if err := storage.RunMigrations(a.dbPath); err != nil {
				return err
			}
			version, dirty, err := storage.MigrationVersion(a.dbPath)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), migrationStatus{Path: a.dbPath, Version: version, Dirty: dirty})
		},
	}
}
