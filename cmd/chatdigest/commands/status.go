package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/models"
)

// newStatusCmd creates the `chatdigest status` command.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show database health and pipeline backlog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for name, h := range a.hub.Status(cmd.Context()) {
				state := "healthy"
				if !h.Healthy {
					state = "unhealthy: " + h.Error
				}
				fmt.Fprintf(w, "database %s\t%s\t%s\t%s\n", name, a.hub.Primary().Type, h.Version, state)
			}
			fmt.Fprintf(w, "chats\t%d\n", stats.Chats)
			fmt.Fprintf(w, "messages\t%d\n", stats.Messages)
			fmt.Fprintf(w, "summaries\t%d\n", stats.Summaries)
			for _, status := range models.AllStatuses {
				fmt.Fprintf(w, "documents %s\t%d\n", status, stats.Documents[status])
			}
			return w.Flush()
		},
	}
}
