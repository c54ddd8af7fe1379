package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/config"
)

// newConfigCmd creates the `chatdigest config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the chatdigest configuration and secrets.

Examples:
  chatdigest config init
  chatdigest config show
  chatdigest config set-secret telegram_token`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetSecretCmd(),
		newConfigDeleteSecretCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			if path == "" {
				path = config.DefaultConfigPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.SaveConfigToFile(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets masked",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, found, err := config.Load(path, nil)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(cfg.Masked())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if found == "" {
				found = "(defaults)"
			}
			fmt.Fprintf(out, "# %s\n%s", found, data)
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(out, "\n# invalid:\n# %s\n", strings.ReplaceAll(err.Error(), "\n", "\n# "))
			}
			return nil
		},
	}
}

func newConfigSetSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "set-secret <name>",
		Short:     "Store a secret in the OS keyring",
		Long:      "Stores a secret in the OS keyring. Known names: " + strings.Join(config.SecretNames(), ", "),
		Args:      cobra.ExactArgs(1),
		ValidArgs: config.SecretNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !config.IsSecretName(name) {
				return fmt.Errorf("unknown secret %q (known: %s)", name, strings.Join(config.SecretNames(), ", "))
			}
			value, err := config.ReadPassword(name + ": ")
			if err != nil {
				return err
			}
			if value == "" {
				return errors.New("empty value, nothing stored")
			}
			if err := config.StoreKeyring(name, value); err != nil {
				return fmt.Errorf("keyring unavailable (export %s instead): %w", config.EnvName(name), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s in the OS keyring.\n", name)
			return nil
		},
	}
}

func newConfigDeleteSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-secret <name>",
		Short: "Remove a secret from the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !config.IsSecretName(args[0]) {
				return fmt.Errorf("unknown secret %q", args[0])
			}
			if err := config.DeleteKeyring(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from the OS keyring.\n", args[0])
			return nil
		},
	}
}
