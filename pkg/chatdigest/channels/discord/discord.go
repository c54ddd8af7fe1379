// Package discord implements the Discord channel using discordgo.
//
// Guild text channels play the role of group chats; direct messages carry
// the private admin commands. Attachment URLs serve as file handles.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/channels"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/models"
)

// MaxMessageLength is Discord's per-message character limit.
const MaxMessageLength = 2000

// Config holds Discord channel configuration.
type Config struct {
	// Token is the Discord bot token.
	Token string `yaml:"token"`

	// AllowedGuilds restricts which guild (server) IDs are recorded.
	// Empty means all guilds.
	AllowedGuilds []string `yaml:"allowed_guilds"`

	// MaxFileBytes bounds a single attachment download.
	MaxFileBytes int64 `yaml:"max_file_bytes"`
}

// Discord implements channels.Channel.
type Discord struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// httpClient downloads attachments.
	httpClient *http.Client

	// connectedAt filters out GuildCreate events for guilds joined earlier.
	connectedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New creates a new Discord channel instance.
func New(cfg Config, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = channels.DefaultMaxFileBytes
	}
	return &Discord{
		cfg:        cfg,
		logger:     logger.With("component", "discord"),
		messages:   make(chan *channels.IncomingMessage, 256),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		ctx:        context.Background(),
	}
}

// Name returns "discord".
func (d *Discord) Name() string { return "discord" }

// Connect opens the Discord gateway WebSocket connection.
func (d *Discord) Connect(ctx context.Context) error {
	if d.cfg.Token == "" {
		return fmt.Errorf("discord: bot token is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected.Load() {
		return nil
	}

	session, err := d.ensureSession()
	if err != nil {
		return err
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onGuildCreate)

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.connectedAt = time.Now()
	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}
	d.connected.Store(true)

	user := session.State.User
	d.logger.Info("discord: connected", "bot", user.Username, "id", user.ID)
	return nil
}

// ensureSession creates the REST session lazily, so SendText works without
// opening the gateway.
func (d *Discord) ensureSession() (*discordgo.Session, error) {
	if d.session != nil {
		return d.session, nil
	}
	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: creating session: %w", err)
	}
	d.session = session
	return session, nil
}

// Disconnect closes the Discord gateway connection.
func (d *Discord) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	if d.session != nil && d.connected.Load() {
		d.session.Close()
	}
	d.connected.Store(false)
	d.logger.Info("discord: disconnected")
	return nil
}

// Messages returns the incoming events channel.
func (d *Discord) Messages() <-chan *channels.IncomingMessage {
	return d.messages
}

// IsConnected returns true if the gateway is open.
func (d *Discord) IsConnected() bool { return d.connected.Load() }

// Health returns the channel health status.
func (d *Discord) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := d.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     d.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(d.errorCount.Load()),
	}
}

// SendText posts text to a channel in 2000 character chunks.
func (d *Discord) SendText(ctx context.Context, chatID int64, text string) error {
	d.mu.Lock()
	session, err := d.ensureSession()
	d.mu.Unlock()
	if err != nil {
		return err
	}

	channelID := strconv.FormatInt(chatID, 10)
	for _, chunk := range channels.SplitMessage(text, MaxMessageLength) {
		if _, err := session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			d.errorCount.Add(1)
			return restError("send message", err)
		}
	}
	return nil
}

// FetchFile downloads an attachment by URL.
func (d *Discord) FetchFile(ctx context.Context, handle string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, handle, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: discord: invalid attachment url: %v", channels.ErrFileNotFound, err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discord: download: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusForbidden, http.StatusGone:
		return nil, fmt.Errorf("%w: discord attachment returned %d", channels.ErrFileNotFound, resp.StatusCode)
	default:
		return nil, fmt.Errorf("discord: download returned %d", resp.StatusCode)
	}

	data, err := channels.ReadFile(resp.Body, d.cfg.MaxFileBytes)
	if err != nil {
		return nil, fmt.Errorf("discord: reading attachment: %w", err)
	}
	return data, nil
}

// restError maps discordgo REST failures onto channel sentinels.
func restError(op string, err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound:
			return fmt.Errorf("%w: discord %s: %v", channels.ErrBadRequest, op, err)
		}
	}
	return fmt.Errorf("discord: %s: %w", op, err)
}

// ---------- Event Handlers ----------

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	botID := ""
	if s.State != nil && s.State.User != nil {
		botID = s.State.User.ID
	}
	incoming := d.convertMessage(m.Message, botID)
	if incoming == nil {
		return
	}
	d.emit(incoming)
}

// onGuildCreate reports guilds joined while connected. The guild owner is
// recorded as the adding user since Discord does not expose the inviter.
func (d *Discord) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Guild == nil || g.JoinedAt.Before(d.connectedAt) || g.SystemChannelID == "" {
		return
	}
	if !d.guildAllowed(g.ID) {
		return
	}
	chatID, err := strconv.ParseInt(g.SystemChannelID, 10, 64)
	if err != nil {
		return
	}
	owner, _ := strconv.ParseInt(g.OwnerID, 10, 64)
	d.emit(&channels.IncomingMessage{
		Kind:      channels.EventBotAdded,
		Channel:   "discord",
		ChatID:    chatID,
		ChatTitle: g.Name,
		IsGroup:   true,
		From:      channels.Sender{ID: owner},
		Timestamp: g.JoinedAt.UTC(),
	})
}

func (d *Discord) emit(incoming *channels.IncomingMessage) {
	d.lastMsg.Store(time.Now())
	select {
	case d.messages <- incoming:
	case <-d.ctx.Done():
	}
}

// convertMessage turns a Discord message into an event, or nil when ignored.
func (d *Discord) convertMessage(m *discordgo.Message, botID string) *channels.IncomingMessage {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == botID {
		return nil
	}
	if m.GuildID != "" && !d.guildAllowed(m.GuildID) {
		return nil
	}

	chatID, err := strconv.ParseInt(m.ChannelID, 10, 64)
	if err != nil {
		d.logger.Warn("discord: non-numeric channel id", "channel_id", m.ChannelID)
		return nil
	}
	userID, err := strconv.ParseInt(m.Author.ID, 10, 64)
	if err != nil {
		return nil
	}

	incoming := &channels.IncomingMessage{
		Kind:    channels.EventMessage,
		ID:      m.ID,
		Channel: "discord",
		ChatID:  chatID,
		IsGroup: m.GuildID != "",
		From: channels.Sender{
			ID:        userID,
			Username:  m.Author.Username,
			FirstName: m.Author.GlobalName,
		},
		Type:      models.MessageText,
		Text:      m.Content,
		Timestamp: m.Timestamp.UTC(),
	}

	if len(m.Attachments) > 0 {
		att := m.Attachments[0]
		incoming.Type = models.MessageDocument
		incoming.Document = &channels.DocumentInfo{
			Handle:   att.URL,
			FileName: att.Filename,
			MimeType: att.ContentType,
			Size:     int64(att.Size),
		}
		return incoming
	}
	if m.Content == "" {
		return nil
	}
	return incoming
}

func (d *Discord) guildAllowed(guildID string) bool {
	if len(d.cfg.AllowedGuilds) == 0 {
		return true
	}
	for _, id := range d.cfg.AllowedGuilds {
		if id == guildID {
			return true
		}
	}
	return false
}

// Compile-time interface verification.
var _ channels.Channel = (*Discord)(nil)
