// Package digest writes the daily chat digests: on every tick it finds the
// chats whose digest time has come, summarizes their trailing window and
// posts the result.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/daemon"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/llm"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/metrics"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/models"
)

const systemPrompt = "You are a helpful assistant that writes daily chat digests. " +
	"Return concise plain-text summary (no markdown). Make it structured. " +
	"Don't forget to greet users in chat with a friendly 'Hello' or 'Hi'. " +
	"Introduce the message topic and highlight the main points."

// Store is the storage the generator needs.
type Store interface {
	GetChatsDueForSummary(ctx context.Context, now time.Time) ([]int64, error)
	LastSummaryUntil(ctx context.Context, chatID int64) (time.Time, bool, error)
	GetMessagesBetween(ctx context.Context, chatID int64, since, until time.Time) ([]models.Message, error)
	GetDocumentSummariesBetween(ctx context.Context, chatID int64, since, until time.Time) ([]string, error)
	SaveSummary(ctx context.Context, chatID int64, content string, since, until, generatedAt time.Time) (models.Summary, error)
}

// Sender delivers digest text to a chat.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Config configures the generator.
type Config struct {
	// Schedule is the cron expression for ticks (default: every minute).
	Schedule string `yaml:"schedule"`

	// Window is how far back a digest looks.
	Window time.Duration `yaml:"window"`

	// MaxTokens bounds the digest length.
	MaxTokens int `yaml:"max_tokens"`

	// Timezone is the IANA zone digest times are expressed in.
	Timezone string `yaml:"timezone"`

	// CatchUp is how long after its digest time a chat is still due.
	CatchUp time.Duration `yaml:"catch_up"`

	// DefaultTime is the digest time given to newly registered chats.
	DefaultTime string `yaml:"default_time"`

	// DryRun generates digests without saving or sending them.
	DryRun bool `yaml:"-"`
}

// DefaultConfig returns the default generator configuration.
func DefaultConfig() Config {
	return Config{
		Schedule:    "* * * * *",
		Window:      24 * time.Hour,
		MaxTokens:   1500,
		Timezone:    "UTC",
		CatchUp:     10 * time.Minute,
		DefaultTime: models.DefaultSummaryTime,
	}
}

// Outcome of one chat in a tick.
type Outcome struct {
	ChatID  int64
	Since   time.Time
	Until   time.Time
	Status  string
	Content string
	Err     error
}

// Generator produces and delivers digests.
type Generator struct {
	store    Store
	sender   Sender
	llm      llm.Completer
	cfg      Config
	schedule cron.Schedule
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the wall clock used by RunForever.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// NewGenerator creates a generator. It fails on an invalid schedule.
func NewGenerator(st Store, sender Sender, completer llm.Completer, cfg Config, logger *slog.Logger, opts ...Option) (*Generator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = defaults.Schedule
	}
	if cfg.Window <= 0 {
		cfg.Window = defaults.Window
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid digest schedule %q: %w", cfg.Schedule, err)
	}

	g := &Generator{
		store:    st,
		sender:   sender,
		llm:      completer,
		cfg:      cfg,
		schedule: schedule,
		now:      time.Now,
		logger:   logger.With("component", "digest"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// normalize converts an instant to the storage calendar: UTC, whole seconds.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// DueChats returns the chats that should receive a digest at now.
func (g *Generator) DueChats(ctx context.Context, now time.Time) ([]int64, error) {
	return g.store.GetChatsDueForSummary(ctx, normalize(now))
}

// RunOnce generates and delivers the digests due at now. Failing to list
// due chats or to save a digest is returned; per-chat collection,
// generation and delivery failures are logged and reported in the outcomes.
func (g *Generator) RunOnce(ctx context.Context, now time.Time) ([]Outcome, error) {
	now = normalize(now)

	chatIDs, err := g.DueChats(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("listing due chats: %w", err)
	}
	if len(chatIDs) == 0 {
		return nil, nil
	}
	g.logger.Info("chats due for digest", "count", len(chatIDs), "now", now)

	outcomes := make([]Outcome, 0, len(chatIDs))
	for _, chatID := range chatIDs {
		if ctx.Err() != nil {
			return outcomes, daemon.Shutdown(ctx)
		}
		out, err := g.runChat(ctx, chatID, now)
		outcomes = append(outcomes, out)
		metrics.DigestsTotal.WithLabelValues(out.Status).Inc()
		if err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

// window returns [since, until) for a chat. since never precedes the end of
// the chat's previous digest, so windows do not overlap.
func (g *Generator) window(ctx context.Context, chatID int64, now time.Time) (time.Time, time.Time, error) {
	since := now.Add(-g.cfg.Window)
	last, ok, err := g.store.LastSummaryUntil(ctx, chatID)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if ok && last.After(since) && last.Before(now) {
		since = last
	}
	return since, now, nil
}

func (g *Generator) runChat(ctx context.Context, chatID int64, now time.Time) (Outcome, error) {
	logger := g.logger.With("chat_id", chatID)
	out := Outcome{ChatID: chatID}

	since, until, err := g.window(ctx, chatID, now)
	if err != nil {
		logger.Warn("failed to read previous digest, skipping chat", "error", err)
		out.Status, out.Err = metrics.DigestReadFail, err
		return out, nil
	}
	out.Since, out.Until = since, until

	messages, err := g.store.GetMessagesBetween(ctx, chatID, since, until)
	if err != nil {
		logger.Warn("failed to collect messages, skipping chat", "error", err)
		out.Status, out.Err = metrics.DigestReadFail, err
		return out, nil
	}
	docs, err := g.store.GetDocumentSummariesBetween(ctx, chatID, since, until)
	if err != nil {
		logger.Warn("failed to collect document summaries, skipping chat", "error", err)
		out.Status, out.Err = metrics.DigestReadFail, err
		return out, nil
	}

	body := Body(messages, docs)
	if body == "" {
		logger.Debug("nothing to summarize")
		out.Status = metrics.DigestSkipped
		return out, nil
	}

	content, err := g.llm.Complete(ctx, systemPrompt, body, g.cfg.MaxTokens)
	if err != nil {
		logger.Warn("digest generation failed", "error", err)
		out.Status, out.Err = metrics.DigestFailed, err
		return out, nil
	}
	out.Content = content

	if g.cfg.DryRun {
		out.Status = metrics.DigestDryRun
		logger.Info("dry run, digest not saved", "since", since, "until", until)
		return out, nil
	}

	if _, err := g.store.SaveSummary(ctx, chatID, content, since, until, now); err != nil {
		out.Status, out.Err = metrics.DigestFailed, err
		return out, fmt.Errorf("saving digest for chat %d: %w", chatID, err)
	}

	if err := g.sender.SendText(ctx, chatID, content); err != nil {
		logger.Warn("failed to deliver digest", "error", err)
		out.Status, out.Err = metrics.DigestNotSent, err
		return out, nil
	}

	logger.Info("digest sent", "messages", len(messages), "documents", len(docs), "since", since)
	out.Status = metrics.DigestSent
	return out, nil
}

// Body joins non-empty message texts and document summaries, messages first.
func Body(messages []models.Message, docs []string) string {
	parts := make([]string, 0, len(messages)+len(docs))
	for _, m := range messages {
		if m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	for _, d := range docs {
		if d != "" {
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, "\n")
}

// RunForever runs RunOnce at every schedule tick until ctx is cancelled,
// returning daemon.ErrShutdown, or until a tick fails.
func (g *Generator) RunForever(ctx context.Context) error {
	g.logger.Info("digest scheduler started", "schedule", g.cfg.Schedule)
	for {
		next := g.schedule.Next(g.now())
		if err := daemon.Sleep(ctx, next.Sub(g.now())); err != nil {
			return err
		}
		if _, err := g.RunOnce(ctx, g.now()); err != nil {
			if ctx.Err() != nil {
				return daemon.Shutdown(ctx)
			}
			return err
		}
	}
}
