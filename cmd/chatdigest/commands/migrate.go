package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/database"
)

// newMigrateCmd creates the `chatdigest migrate` command.
func newMigrateCmd() *cobra.Command {
	var target int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			auto := false
			cfg.Database.AutoMigrate = &auto

			hub, err := database.NewHub(cmd.Context(), cfg.Database, logger)
			if err != nil {
				return err
			}
			defer hub.Close()

			migrator := hub.Primary().Migrator
			before, err := migrator.CurrentVersion(cmd.Context())
			if err != nil {
				return err
			}
			if err := hub.Migrate(cmd.Context(), "", target); err != nil {
				return err
			}
			after, err := migrator.CurrentVersion(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if before == after {
				fmt.Fprintf(out, "Schema up to date at version %d.\n", after)
				return nil
			}
			fmt.Fprintf(out, "Schema migrated from version %d to %d.\n", before, after)
			return nil
		},
	}
	cmd.Flags().IntVar(&target, "to", 0, "target version (default latest)")
	return cmd
}
