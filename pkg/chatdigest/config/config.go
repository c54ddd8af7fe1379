// Package config holds the application configuration: one YAML file whose
// sections map onto each component's own Config type.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/analysis"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/channels/discord"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/channels/telegram"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/database"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/digest"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/extract"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/health"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/lease"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/llm"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/models"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/scheduler"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/store"
)

// Config is the complete application configuration.
type Config struct {
	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`

	// Database configures the storage backend.
	Database database.HubConfig `yaml:"database"`

	// Channel selects and configures the chat platform.
	Channel ChannelConfig `yaml:"channel"`

	// LLM configures the text-generation client.
	LLM llm.Config `yaml:"llm"`

	// Analysis configures the document analysis pipeline.
	Analysis analysis.Config `yaml:"analysis"`

	// Extract configures text extraction from documents.
	Extract extract.Config `yaml:"extract"`

	// Digest configures the digest scheduler.
	Digest digest.Config `yaml:"digest"`

	// Maintenance configures the cron maintenance jobs.
	Maintenance scheduler.Config `yaml:"maintenance"`

	// Lease configures the optional redis guard for multiple instances.
	Lease lease.Config `yaml:"lease"`

	// Health configures the status server.
	Health health.Config `yaml:"health"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// ChannelConfig selects the chat platform.
type ChannelConfig struct {
	// Type is "telegram" or "discord".
	Type string `yaml:"type"`

	Telegram telegram.Config `yaml:"telegram"`
	Discord  discord.Config  `yaml:"discord"`
}

// Supported channel types and llm drivers.
const (
	ChannelTelegram = "telegram"
	ChannelDiscord  = "discord"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Database: database.DefaultHubConfig(),
		Channel: ChannelConfig{
			Type:     ChannelTelegram,
			Telegram: telegram.DefaultConfig(),
		},
		LLM:         llm.DefaultConfig(),
		Analysis:    analysis.DefaultConfig(),
		Extract:     extract.DefaultConfig(),
		Digest:      digest.DefaultConfig(),
		Maintenance: scheduler.DefaultConfig(),
		Lease: lease.Config{
			Key: "chatdigest:analysis:lease",
			TTL: 10 * time.Minute,
		},
		Health: health.DefaultConfig(),
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if !c.Database.Effective().Backend.Valid() {
		errs = append(errs, fmt.Errorf("database.backend: unknown backend %q", c.Database.Backend))
	}
	switch c.Channel.Type {
	case ChannelTelegram, ChannelDiscord:
	default:
		errs = append(errs, fmt.Errorf("channel.type: unknown channel %q", c.Channel.Type))
	}
	switch c.LLM.Driver {
	case "", "http", "eino":
	default:
		errs = append(errs, fmt.Errorf("llm.driver: unknown driver %q", c.LLM.Driver))
	}

	if c.Analysis.BatchSize <= 0 {
		errs = append(errs, errors.New("analysis.batch_size must be positive"))
	}
	if c.Analysis.PollInterval <= 0 {
		errs = append(errs, errors.New("analysis.poll_interval must be positive"))
	}
	if c.Digest.Window <= 0 {
		errs = append(errs, errors.New("digest.window must be positive"))
	}
	if c.Digest.CatchUp <= 0 {
		errs = append(errs, errors.New("digest.catch_up must be positive"))
	}

	if _, err := time.LoadLocation(c.Digest.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("digest.timezone: %w", err))
	}
	if _, err := models.ParseTimeOfDay(c.Digest.DefaultTime); err != nil {
		errs = append(errs, fmt.Errorf("digest.default_time: %w", err))
	}

	schedules := map[string]string{
		"digest.schedule":             c.Digest.Schedule,
		"maintenance.health_schedule": c.Maintenance.HealthSchedule,
		"maintenance.stale_schedule":  c.Maintenance.StaleSchedule,
	}
	if c.Maintenance.Retry.Enabled {
		schedules["maintenance.retry_schedule"] = c.Maintenance.RetrySchedule
	}
	for field, expr := range schedules {
		if _, err := cron.ParseStandard(expr); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid cron expression %q: %w", field, expr, err))
		}
	}
	if c.Maintenance.StalePendingAfter <= c.Analysis.DocumentTimeout {
		errs = append(errs, errors.New("maintenance.stale_pending_after must exceed analysis.document_timeout"))
	}

	return errors.Join(errs...)
}

// Location returns the digest timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Digest.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DuePolicy returns how chat digest times are matched to ticks.
func (c *Config) DuePolicy() store.DuePolicy {
	return store.DuePolicy{Location: c.Location(), CatchUp: c.Digest.CatchUp}
}

// DefaultTime returns the digest time for newly registered chats.
func (c *Config) DefaultTime() models.TimeOfDay {
	t, err := models.ParseTimeOfDay(c.Digest.DefaultTime)
	if err != nil {
		return models.MustParseTimeOfDay(models.DefaultSummaryTime)
	}
	return t
}

// NewLogger builds the root logger from the logging section. verbose forces
// debug level.
func (c *Config) NewLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.Logging.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
