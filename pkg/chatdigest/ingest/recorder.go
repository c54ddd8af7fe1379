// Package ingest records inbound chat events into storage and answers the
// bot's private commands.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/channels"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/daemon"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/metrics"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/models"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/store"
)

// Replies sent by the bot.
const (
	replyGroupStart   = "Hi! I will send summaries every day."
	replyPrivateStart = "Welcome! Use /set_time to set the time for daily summaries.\n"
	replyNoChats      = "You have no chats to set time for. Please add the bot to any chat where you are admin."
	replyChooseChat   = "Please select a chat to set the time for daily summaries:"
	replySetTimeUsage = "Send /set_time <chat_id> HH:MM, e.g. /set_time %d 19:00"
	replyBadChatID    = "Invalid chat ID. Please try again. /set_time"
	replyBadTime      = "Invalid time format. Please try again. /set_time"
	replyNotAdmin     = "You are not an admin of that chat. /set_time"
	replyTimeSet      = "Time for daily summaries has been set successfully."
)

// Store is the storage ingestion writes to.
type Store interface {
	EnsureChat(ctx context.Context, chat models.Chat, defaultTime models.TimeOfDay) (bool, error)
	UpsertUser(ctx context.Context, user models.User) error
	AddChatAdmin(ctx context.Context, userID, chatID int64) error
	IsChatAdmin(ctx context.Context, userID, chatID int64) (bool, error)
	AdminChats(ctx context.Context, userID int64) ([]store.AdminChat, error)
	SetSummaryTime(ctx context.Context, chatID int64, at models.TimeOfDay) error
	AddMessage(ctx context.Context, msg models.Message) (int64, error)
	AddDocumentMessage(ctx context.Context, msg models.Message, doc models.Document) (int64, int64, error)
}

// Replier posts command replies.
type Replier interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Config configures the recorder.
type Config struct {
	// DefaultTime is the digest time given to newly registered chats.
	DefaultTime models.TimeOfDay

	// CacheSize bounds the known chat and user caches.
	CacheSize int

	// CacheTTL is how long a registration is trusted before it is refreshed.
	CacheTTL time.Duration
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTime: models.MustParseTimeOfDay(models.DefaultSummaryTime),
		CacheSize:   4096,
		CacheTTL:    time.Hour,
	}
}

// Recorder turns channel events into stored chats, users and messages.
type Recorder struct {
	store   Store
	replier Replier
	cfg     Config
	chats   *expirable.LRU[int64, struct{}]
	users   *expirable.LRU[int64, struct{}]
	logger  *slog.Logger
}

// NewRecorder creates a recorder.
func NewRecorder(st Store, replier Replier, cfg Config, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaults.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaults.CacheTTL
	}
	return &Recorder{
		store:   st,
		replier: replier,
		cfg:     cfg,
		chats:   expirable.NewLRU[int64, struct{}](cfg.CacheSize, nil, cfg.CacheTTL),
		users:   expirable.NewLRU[int64, struct{}](cfg.CacheSize, nil, cfg.CacheTTL),
		logger:  logger.With("component", "ingest"),
	}
}

// Run handles events until ctx is cancelled, returning daemon.ErrShutdown.
// Per-event failures are logged and do not stop the loop. A closed event
// stream is a fault.
func (r *Recorder) Run(ctx context.Context, events <-chan *channels.IncomingMessage) error {
	for {
		select {
		case <-ctx.Done():
			return daemon.Shutdown(ctx)
		case msg, ok := <-events:
			if !ok {
				return errors.New("event stream closed")
			}
			if err := r.Handle(ctx, msg); err != nil {
				r.logger.Error("failed to handle event",
					"chat_id", msg.ChatID, "kind", msg.Kind, "error", err)
			}
		}
	}
}

// Handle processes one event.
func (r *Recorder) Handle(ctx context.Context, msg *channels.IncomingMessage) error {
	if msg.From.ID != 0 {
		if err := r.ensureUser(ctx, msg.From); err != nil {
			return err
		}
	}

	if msg.Kind == channels.EventBotAdded {
		return r.botAdded(ctx, msg)
	}

	if cmd, args, ok := msg.Command(); ok {
		handled, err := r.command(ctx, msg, cmd, args)
		if handled || err != nil {
			return err
		}
	}

	if msg.IsGroup {
		return r.record(ctx, msg)
	}
	return nil
}

func (r *Recorder) ensureUser(ctx context.Context, from channels.Sender) error {
	if r.users.Contains(from.ID) {
		return nil
	}
	err := r.store.UpsertUser(ctx, models.User{
		ID:        from.ID,
		Username:  from.Username,
		FirstName: from.FirstName,
		LastName:  from.LastName,
	})
	if err != nil {
		return err
	}
	r.users.Add(from.ID, struct{}{})
	return nil
}

func (r *Recorder) ensureChat(ctx context.Context, msg *channels.IncomingMessage) error {
	if r.chats.Contains(msg.ChatID) {
		return nil
	}
	created, err := r.store.EnsureChat(ctx, models.Chat{ID: msg.ChatID, Title: msg.ChatTitle}, r.cfg.DefaultTime)
	if err != nil {
		return err
	}
	if created {
		r.logger.Info("chat registered", "chat_id", msg.ChatID, "title", msg.ChatTitle)
	}
	r.chats.Add(msg.ChatID, struct{}{})
	return nil
}

// botAdded registers the chat and makes the adding user its admin.
func (r *Recorder) botAdded(ctx context.Context, msg *channels.IncomingMessage) error {
	r.chats.Remove(msg.ChatID)
	if err := r.ensureChat(ctx, msg); err != nil {
		return err
	}
	if msg.From.ID == 0 {
		return nil
	}
	if err := r.store.AddChatAdmin(ctx, msg.From.ID, msg.ChatID); err != nil {
		return err
	}
	r.logger.Info("chat admin recorded", "chat_id", msg.ChatID, "user_id", msg.From.ID)
	return nil
}

// record stores a group text or document message.
func (r *Recorder) record(ctx context.Context, msg *channels.IncomingMessage) error {
	if msg.Type != models.MessageText && msg.Type != models.MessageDocument {
		return nil
	}
	if err := r.ensureChat(ctx, msg); err != nil {
		return err
	}

	m := models.Message{
		ChatID:       msg.ChatID,
		SenderUserID: msg.From.ID,
		Text:         msg.Text,
		Type:         msg.Type,
		SentAt:       msg.Timestamp,
	}

	if msg.Type == models.MessageDocument && msg.Document != nil {
		_, docID, err := r.store.AddDocumentMessage(ctx, m, models.Document{
			ChatID:     msg.ChatID,
			FileHandle: msg.Document.Handle,
			FileName:   msg.Document.FileName,
			MimeType:   msg.Document.MimeType,
			SizeBytes:  msg.Document.Size,
		})
		if errors.Is(err, store.ErrAlreadyExists) {
			r.logger.Debug("document already recorded", "chat_id", msg.ChatID, "file", msg.Document.FileName)
			return nil
		}
		if err != nil {
			return err
		}
		metrics.IngestedMessagesTotal.WithLabelValues(string(models.MessageDocument)).Inc()
		r.logger.Debug("document recorded", "chat_id", msg.ChatID, "document_id", docID)
		return nil
	}

	if m.Type == models.MessageDocument {
		m.Type = models.MessageText
	}
	if m.Text == "" {
		return nil
	}
	if _, err := r.store.AddMessage(ctx, m); err != nil {
		return err
	}
	metrics.IngestedMessagesTotal.WithLabelValues(string(models.MessageText)).Inc()
	return nil
}

// command answers bot commands. It reports whether the message was a
// command the bot owns, so other commands in groups are still recorded.
func (r *Recorder) command(ctx context.Context, msg *channels.IncomingMessage, cmd string, args []string) (bool, error) {
	switch cmd {
	case "/start":
		if msg.IsGroup {
			return true, r.reply(ctx, msg.ChatID, replyGroupStart)
		}
		return true, r.reply(ctx, msg.ChatID, replyPrivateStart)
	case "/chats":
		if msg.IsGroup {
			return true, nil
		}
		return true, r.listChats(ctx, msg, replyChooseChat)
	case "/set_time":
		if msg.IsGroup {
			return true, nil
		}
		return true, r.setTime(ctx, msg, args)
	}
	return false, nil
}

func (r *Recorder) listChats(ctx context.Context, msg *channels.IncomingMessage, header string) error {
	chats, err := r.store.AdminChats(ctx, msg.From.ID)
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		return r.reply(ctx, msg.ChatID, replyNoChats)
	}

	var b strings.Builder
	b.WriteString(header)
	for _, c := range chats {
		title := c.Chat.Title
		if title == "" {
			title = "untitled"
		}
		fmt.Fprintf(&b, "\n%s (%d): %s", title, c.Chat.ID, c.SummaryTime)
	}
	b.WriteString("\n\n")
	fmt.Fprintf(&b, replySetTimeUsage, chats[0].Chat.ID)
	return r.reply(ctx, msg.ChatID, b.String())
}

// setTime handles "/set_time <chat_id> HH:MM". Without arguments it lists
// the user's chats.
func (r *Recorder) setTime(ctx context.Context, msg *channels.IncomingMessage, args []string) error {
	if len(args) == 0 {
		return r.listChats(ctx, msg, replyChooseChat)
	}
	chatID, err := strconv.ParseInt(strings.Trim(args[0], "()"), 10, 64)
	if err != nil {
		return r.reply(ctx, msg.ChatID, replyBadChatID)
	}
	if len(args) < 2 {
		return r.reply(ctx, msg.ChatID, replyBadTime)
	}
	at, err := models.ParseTimeOfDay(args[1])
	if err != nil {
		return r.reply(ctx, msg.ChatID, replyBadTime)
	}

	admin, err := r.store.IsChatAdmin(ctx, msg.From.ID, chatID)
	if err != nil {
		return err
	}
	if !admin {
		return r.reply(ctx, msg.ChatID, replyNotAdmin)
	}
	if err := r.store.SetSummaryTime(ctx, chatID, at); err != nil {
		return err
	}
	r.logger.Info("digest time updated", "chat_id", chatID, "user_id", msg.From.ID, "time", at.String())
	return r.reply(ctx, msg.ChatID, replyTimeSet)
}

func (r *Recorder) reply(ctx context.Context, chatID int64, text string) error {
	if err := r.replier.SendText(ctx, chatID, text); err != nil {
		return fmt.Errorf("reply to chat %d: %w", chatID, err)
	}
	return nil
}
