package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newDigestCmd creates the `chatdigest digest` command group.
func newDigestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Digest operations",
	}
	cmd.AddCommand(newDigestRunCmd())
	return cmd
}

// newDigestRunCmd runs a single digest tick.
func newDigestRunCmd() *cobra.Command {
	var (
		at     string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one digest tick and exit",
		Long: `Generates digests for every chat due at the given instant (default now).
With --dry-run the digests are printed instead of saved and sent.`,
		Example: `  chatdigest digest run
  chatdigest digest run --at 2024-03-01T19:00:00Z --dry-run`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				now = t
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if dryRun {
				a.cfg.Digest.DryRun = true
			}

			ch, err := a.channel()
			if err != nil {
				return err
			}
			defer ch.Disconnect()
			completer, err := a.completer(cmd.Context())
			if err != nil {
				return err
			}
			generator, err := a.generator(ch, completer)
			if err != nil {
				return err
			}

			outcomes, err := generator.RunOnce(cmd.Context(), now)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(outcomes) == 0 {
				fmt.Fprintln(out, "No chats due.")
				return nil
			}
			for _, o := range outcomes {
				fmt.Fprintf(out, "chat %d [%s, %s): %s\n", o.ChatID,
					o.Since.Format(time.RFC3339), o.Until.Format(time.RFC3339), o.Status)
				if o.Err != nil {
					fmt.Fprintf(out, "  error: %v\n", o.Err)
				}
				if dryRun && o.Content != "" {
					fmt.Fprintf(out, "\n%s\n\n", o.Content)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "tick instant in RFC3339 (default now)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "generate without saving or sending")
	return cmd
}
