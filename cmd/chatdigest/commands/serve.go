package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/daemon"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/health"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/ingest"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/scheduler"
)

// newServeCmd creates the `chatdigest serve` command that runs ingestion,
// both workers, maintenance and the status server in one process.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot with both workers",
		Long: `Connects to the chat platform, records group messages and documents,
and runs the document and digest workers until interrupted.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()
	cmd.SetContext(ctx)

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ch, err := a.channel()
	if err != nil {
		return err
	}
	completer, err := a.completer(ctx)
	if err != nil {
		return err
	}
	processor, err := a.processor(ctx, ch, completer)
	if err != nil {
		return err
	}
	generator, err := a.generator(ch, completer)
	if err != nil {
		return err
	}

	if err := ch.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", ch.Name(), err)
	}
	defer ch.Disconnect()

	recorder := ingest.NewRecorder(a.store, ch, ingest.Config{DefaultTime: a.cfg.DefaultTime()}, a.logger)

	loops := []daemon.Loop{
		{Name: "ingest", Run: func(ctx context.Context) error { return recorder.Run(ctx, ch.Messages()) }},
		{Name: "document-worker", Run: processor.RunForever},
		{Name: "summary-worker", Run: generator.RunForever},
	}
	loops = append(loops, a.maintenanceLoop())
	if a.cfg.Health.Enabled {
		srv := health.New(a.cfg.Health, a.hub, []health.ChannelHealth{ch}, a.logger)
		loops = append(loops, daemon.Loop{Name: "health", Run: srv.RunForever})
	}

	a.logger.Info("chatdigest running", "channel", ch.Name(), "backend", a.hub.Primary().Type)
	return daemon.Run(ctx, a.logger, loops...)
}

// maintenanceLoop registers the maintenance jobs on a cron scheduler.
func (a *app) maintenanceLoop() daemon.Loop {
	s := scheduler.New(a.cfg.Maintenance.JobTimeout, a.logger)
	m := scheduler.NewMaintenance(a.store, a.hub, a.cfg.Maintenance, a.logger)
	return daemon.Loop{
		Name: "maintenance",
		Run: func(ctx context.Context) error {
			if err := m.Register(s); err != nil {
				return err
			}
			return s.RunForever(ctx)
		},
	}
}
