package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/analysis"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/channels"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/channels/discord"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/channels/telegram"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/config"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/database"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/digest"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/extract"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/lease"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/llm"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/store"
)

// app holds the components shared by the long-running commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	hub    *database.Hub
	store  *store.Store
	closer []func() error
}

// loadConfig reads the config selected by the persistent flags, validates
// it and builds the root logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, found, err := config.Load(path, nil)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := cfg.NewLogger(verbose)
	slog.SetDefault(logger)
	if found != "" {
		logger.Debug("config loaded", "path", found)
	} else {
		logger.Info("no config file found, using defaults")
	}
	return cfg, logger, nil
}

// openApp loads the config and opens the database.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	hub, err := database.NewHub(cmd.Context(), cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	st, err := store.NewFromHub(hub, store.WithDuePolicy(cfg.DuePolicy()), store.WithLogger(logger))
	if err != nil {
		hub.Close()
		return nil, err
	}
	return &app{
		cfg:    cfg,
		logger: logger,
		hub:    hub,
		store:  st,
		closer: []func() error{hub.Close},
	}, nil
}

// Close releases everything the app opened, newest first.
func (a *app) Close() {
	for i := len(a.closer) - 1; i >= 0; i-- {
		if err := a.closer[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

// channel builds the configured chat platform.
func (a *app) channel() (channels.Channel, error) {
	switch a.cfg.Channel.Type {
	case config.ChannelTelegram:
		if a.cfg.Channel.Telegram.Token == "" {
			return nil, errors.New("telegram token not set (chatdigest config set-secret telegram_token)")
		}
		return telegram.New(a.cfg.Channel.Telegram, a.logger), nil
	case config.ChannelDiscord:
		if a.cfg.Channel.Discord.Token == "" {
			return nil, errors.New("discord token not set (chatdigest config set-secret discord_token)")
		}
		return discord.New(a.cfg.Channel.Discord, a.logger), nil
	}
	return nil, fmt.Errorf("unknown channel %q", a.cfg.Channel.Type)
}

// processor builds the document analysis pipeline, with the redis lease
// when one is configured.
func (a *app) processor(ctx context.Context, transport channels.Transport, completer llm.Completer) (*analysis.Processor, error) {
	var l lease.Lease = lease.Nop{}
	if a.cfg.Lease.Enabled() {
		r, err := lease.NewRedis(ctx, a.cfg.Lease)
		if err != nil {
			return nil, err
		}
		a.closer = append(a.closer, r.Close)
		l = r
	}
	extractor := extract.New(a.cfg.Extract, a.logger)
	return analysis.NewProcessor(a.store, transport, extractor, completer, l, a.cfg.Analysis, a.logger), nil
}

// generator builds the digest generator.
func (a *app) generator(sender digest.Sender, completer llm.Completer) (*digest.Generator, error) {
	return digest.NewGenerator(a.store, sender, completer, a.cfg.Digest, a.logger)
}

// completer builds the configured LLM client.
func (a *app) completer(ctx context.Context) (llm.Completer, error) {
	return llm.New(ctx, a.cfg.LLM, a.logger)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
