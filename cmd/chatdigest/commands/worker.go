package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/daemon"
)

// Worker modes.
const (
	modeDaemon   = "daemon"
	modeDocument = "document"
	modeSummary  = "summary"
)

// newWorkerCmd creates the `chatdigest worker` command.
func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker [daemon|document|summary]",
		Short: "Run the background workers without ingestion",
		Long: `Runs the document worker, the digest worker, or both (daemon, the
default) against the shared database. Ingestion runs elsewhere (serve).`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{modeDaemon, modeDocument, modeSummary},
		RunE:      runWorker,
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	mode := modeDaemon
	if len(args) == 1 {
		mode = args[0]
	}
	switch mode {
	case modeDaemon, modeDocument, modeSummary:
	default:
		return fmt.Errorf("unknown worker mode %q (want daemon, document or summary)", mode)
	}

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
	defer ch.Disconnect()
	completer, err := a.completer(ctx)
	if err != nil {
		return err
	}

	var loops []daemon.Loop
	if mode != modeSummary {
		processor, err := a.processor(ctx, ch, completer)
		if err != nil {
			return err
		}
		loops = append(loops, daemon.Loop{Name: "document-worker", Run: processor.RunForever})
	}
	if mode != modeDocument {
		generator, err := a.generator(ch, completer)
		if err != nil {
			return err
		}
		loops = append(loops, daemon.Loop{Name: "summary-worker", Run: generator.RunForever})
	}
	if mode == modeDaemon {
		loops = append(loops, a.maintenanceLoop())
	}

	a.logger.Info("worker running", "mode", mode)
	return daemon.Run(ctx, a.logger, loops...)
}
