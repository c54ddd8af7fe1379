// Package commands implements the chatdigest CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chatdigest",
		Short: "Chat digest bot",
		Long: `chatdigest records group chat activity, analyzes shared documents
and posts a daily digest to every chat at its configured time.

Examples:
  chatdigest serve
  chatdigest worker summary
  chatdigest digest run --dry-run
  chatdigest config set-secret llm_api_key`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newDigestCmd(),
		newMigrateCmd(),
		newStatusCmd(),
		newSetupCmd(),
		newConfigCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
