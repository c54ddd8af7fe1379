// Package telegram implements the Telegram channel using the Bot API
// directly via HTTP.
//
// Features:
//   - Long polling for updates (getUpdates)
//   - Group text and document messages, private commands
//   - Bot membership changes (my_chat_member)
//   - File download via getFile
//   - sendMessage with automatic splitting at the 4096 character limit
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/channels"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/models"
)

// MaxMessageLength is the Bot API limit for one text message.
const MaxMessageLength = 4096

// Config holds Telegram channel configuration.
type Config struct {
	// Token is the Telegram Bot API token (from @BotFather).
	Token string `yaml:"token"`

	// APIURL is the Bot API root (default: https://api.telegram.org).
	APIURL string `yaml:"api_url"`

	// PollTimeout is the long-poll timeout for getUpdates.
	PollTimeout time.Duration `yaml:"poll_timeout"`

	// AllowedChats restricts which group chat IDs are recorded.
	// Empty means all chats.
	AllowedChats []int64 `yaml:"allowed_chats"`

	// MaxFileBytes bounds a single file download.
	MaxFileBytes int64 `yaml:"max_file_bytes"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		APIURL:       "https://api.telegram.org",
		PollTimeout:  30 * time.Second,
		MaxFileBytes: channels.DefaultMaxFileBytes,
	}
}

// Telegram implements channels.Channel.
type Telegram struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	// baseURL is https://api.telegram.org/bot<token>.
	baseURL string

	// fileURL is https://api.telegram.org/file/bot<token>.
	fileURL string

	messages chan *channels.IncomingMessage

	connected  atomic.Bool
	lastMsg    atomic.Value // time.Time
	errorCount atomic.Int64

	// botID is filled by getMe on Connect.
	botID int64

	// offset is the last processed update ID + 1.
	offset int64

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// New creates a new Telegram channel instance.
func New(cfg Config, logger *slog.Logger) *Telegram {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.telegram.org"
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = channels.DefaultMaxFileBytes
	}
	root := strings.TrimRight(cfg.APIURL, "/")
	return &Telegram{
		cfg:      cfg,
		logger:   logger.With("component", "telegram"),
		client:   &http.Client{Timeout: cfg.PollTimeout + 30*time.Second},
		baseURL:  root + "/bot" + cfg.Token,
		fileURL:  root + "/file/bot" + cfg.Token,
		messages: make(chan *channels.IncomingMessage, 256),
	}
}

// Name returns "telegram".
func (t *Telegram) Name() string { return "telegram" }

// Connect verifies the token and starts the long-polling loop.
func (t *Telegram) Connect(ctx context.Context) error {
	if t.cfg.Token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected.Load() {
		return nil
	}

	me, err := t.getMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram: failed to verify token: %w", err)
	}
	t.botID = me.ID
	t.logger.Info("telegram: connected", "bot", me.Username, "id", me.ID)

	pollCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.connected.Store(true)

	go t.pollLoop(pollCtx)
	return nil
}

// Disconnect stops the polling loop and waits for it to exit.
func (t *Telegram) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		<-t.done
		t.cancel = nil
	}
	t.connected.Store(false)
	t.logger.Info("telegram: disconnected")
	return nil
}

// Messages returns the incoming events channel.
func (t *Telegram) Messages() <-chan *channels.IncomingMessage {
	return t.messages
}

// IsConnected returns true if the polling loop is running.
func (t *Telegram) IsConnected() bool { return t.connected.Load() }

// Health returns the channel health status.
func (t *Telegram) Health() channels.HealthStatus {
	var lastAt time.Time
	if v := t.lastMsg.Load(); v != nil {
		lastAt = v.(time.Time)
	}
	return channels.HealthStatus{
		Connected:     t.connected.Load(),
		LastMessageAt: lastAt,
		ErrorCount:    int(t.errorCount.Load()),
	}
}

// SendText posts text to a chat, split into Bot API sized chunks. Sending
// does not require the polling loop.
func (t *Telegram) SendText(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range channels.SplitMessageUTF16(text, MaxMessageLength) {
		_, err := t.apiCall(ctx, "sendMessage", map[string]any{
			"chat_id":                  chatID,
			"text":                     chunk,
			"disable_web_page_preview": true,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// FetchFile resolves a file_id with getFile and downloads the content.
func (t *Telegram) FetchFile(ctx context.Context, handle string) ([]byte, error) {
	file, err := t.getFile(ctx, handle)
	if err != nil {
		return nil, err
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("%w: telegram returned no file_path for %s", channels.ErrFileNotFound, handle)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.fileURL+"/"+file.FilePath, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: creating download request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", channels.ErrFileNotFound, handle)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("telegram: download returned %d", resp.StatusCode)
	}

	data, err := channels.ReadFile(resp.Body, t.cfg.MaxFileBytes)
	if err != nil {
		return nil, fmt.Errorf("telegram: reading file: %w", err)
	}
	return data, nil
}

// pollLoop runs the getUpdates long-polling loop.
func (t *Telegram) pollLoop(ctx context.Context) {
	defer close(t.done)
	t.logger.Info("telegram: polling started")
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram: polling stopped")
			return
		default:
		}

		updates, err := t.getUpdates(ctx, t.offset, 100, int(t.cfg.PollTimeout/time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.errorCount.Add(1)
			t.logger.Warn("telegram: getUpdates error", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		backoff = time.Second
		t.errorCount.Store(0)

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			if incoming := t.convertUpdate(u); incoming != nil {
				t.emit(ctx, incoming)
			}
		}
	}
}

func (t *Telegram) emit(ctx context.Context, incoming *channels.IncomingMessage) {
	t.lastMsg.Store(time.Now())
	select {
	case t.messages <- incoming:
	case <-ctx.Done():
	}
}

// convertUpdate turns an update into an event, or nil when it is ignored.
func (t *Telegram) convertUpdate(u tgUpdate) *channels.IncomingMessage {
	if u.MyChatMember != nil {
		return t.convertMembership(u.MyChatMember)
	}

	msg := u.Message
	if msg == nil || msg.From == nil {
		return nil
	}
	isGroup := msg.Chat.Type == "group" || msg.Chat.Type == "supergroup"
	if isGroup && !t.allowed(msg.Chat.ID) {
		return nil
	}

	incoming := &channels.IncomingMessage{
		Kind:      channels.EventMessage,
		ID:        fmt.Sprint(msg.MessageID),
		Channel:   "telegram",
		ChatID:    msg.Chat.ID,
		ChatTitle: msg.Chat.Title,
		IsGroup:   isGroup,
		From:      msg.From.sender(),
		Type:      models.MessageText,
		Text:      msg.Text,
		Timestamp: time.Unix(msg.Date, 0).UTC(),
	}

	for _, member := range msg.NewChatMembers {
		if member.ID == t.botID {
			incoming.Kind = channels.EventBotAdded
			return incoming
		}
	}
	if msg.GroupChatCreated || msg.SupergroupChatCreated {
		incoming.Kind = channels.EventBotAdded
		return incoming
	}

	if msg.Document != nil {
		incoming.Type = models.MessageDocument
		incoming.Text = msg.Caption
		incoming.Document = &channels.DocumentInfo{
			Handle:   msg.Document.FileID,
			FileName: msg.Document.FileName,
			MimeType: msg.Document.MimeType,
			Size:     msg.Document.FileSize,
		}
		return incoming
	}

	if strings.TrimSpace(incoming.Text) == "" || msg.From.IsBot {
		return nil
	}
	return incoming
}

// convertMembership reports the bot joining a group.
func (t *Telegram) convertMembership(m *tgChatMemberUpdated) *channels.IncomingMessage {
	if m.NewChatMember.User.ID != t.botID {
		return nil
	}
	joined := m.NewChatMember.Status == "member" || m.NewChatMember.Status == "administrator"
	wasOut := m.OldChatMember.Status == "left" || m.OldChatMember.Status == "kicked"
	if !joined || !wasOut || m.Chat.Type == "private" || !t.allowed(m.Chat.ID) {
		return nil
	}
	return &channels.IncomingMessage{
		Kind:      channels.EventBotAdded,
		Channel:   "telegram",
		ChatID:    m.Chat.ID,
		ChatTitle: m.Chat.Title,
		IsGroup:   true,
		From:      m.From.sender(),
		Timestamp: time.Unix(m.Date, 0).UTC(),
	}
}

func (t *Telegram) allowed(chatID int64) bool {
	if len(t.cfg.AllowedChats) == 0 {
		return true
	}
	for _, id := range t.cfg.AllowedChats {
		if id == chatID {
			return true
		}
	}
	return false
}

// ---------- Telegram Bot API Types ----------

type tgUpdate struct {
	UpdateID     int64                `json:"update_id"`
	Message      *tgMessage           `json:"message"`
	MyChatMember *tgChatMemberUpdated `json:"my_chat_member"`
}

type tgMessage struct {
	MessageID             int64       `json:"message_id"`
	From                  *tgUser     `json:"from"`
	Chat                  tgChat      `json:"chat"`
	Date                  int64       `json:"date"`
	Text                  string      `json:"text"`
	Caption               string      `json:"caption"`
	Document              *tgDocument `json:"document"`
	NewChatMembers        []tgUser    `json:"new_chat_members"`
	GroupChatCreated      bool        `json:"group_chat_created"`
	SupergroupChatCreated bool        `json:"supergroup_chat_created"`
}

type tgChatMemberUpdated struct {
	Chat          tgChat       `json:"chat"`
	From          tgUser       `json:"from"`
	Date          int64        `json:"date"`
	OldChatMember tgChatMember `json:"old_chat_member"`
	NewChatMember tgChatMember `json:"new_chat_member"`
}

type tgChatMember struct {
	Status string `json:"status"`
	User   tgUser `json:"user"`
}

type tgUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	IsBot     bool   `json:"is_bot"`
}

func (u *tgUser) sender() channels.Sender {
	return channels.Sender{ID: u.ID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName}
}

type tgChat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"` // "private", "group", "supergroup", "channel"
	Title string `json:"title"`
}

type tgDocument struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

type tgFile struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
	FileSize int64  `json:"file_size"`
}

type tgBotUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// ---------- API Helpers ----------

// apiCall makes a POST request to the Telegram Bot API.
func (t *Telegram) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("telegram: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("telegram: creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		ErrorCode   int             `json:"error_code"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("telegram: decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, apiError(method, result.ErrorCode, result.Description)
	}
	return result.Result, nil
}

// apiError maps Bot API failures onto channel sentinels.
func apiError(method string, code int, description string) error {
	desc := strings.ToLower(description)
	switch {
	case strings.Contains(desc, "file is too big"):
		return fmt.Errorf("%w: telegram %s: %s", channels.ErrBadRequest, method, description)
	case method == "getFile" && code == http.StatusBadRequest:
		return fmt.Errorf("%w: telegram %s: %s", channels.ErrFileNotFound, method, description)
	case code == http.StatusBadRequest || code == http.StatusForbidden:
		return fmt.Errorf("%w: telegram %s: %s", channels.ErrBadRequest, method, description)
	default:
		return fmt.Errorf("telegram: %s (%d): %s", method, code, description)
	}
}

// getMe verifies the bot token and returns bot info.
func (t *Telegram) getMe(ctx context.Context) (*tgBotUser, error) {
	data, err := t.apiCall(ctx, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var user tgBotUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("telegram: parsing getMe: %w", err)
	}
	return &user, nil
}

// getUpdates fetches new updates using long polling.
func (t *Telegram) getUpdates(ctx context.Context, offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	data, err := t.apiCall(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"limit":           limit,
		"timeout":         timeoutSecs,
		"allowed_updates": []string{"message", "my_chat_member"},
	})
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("telegram: parsing updates: %w", err)
	}
	return updates, nil
}

// getFile retrieves file info for downloading.
func (t *Telegram) getFile(ctx context.Context, fileID string) (*tgFile, error) {
	data, err := t.apiCall(ctx, "getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return nil, err
	}
	var file tgFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("telegram: parsing getFile: %w", err)
	}
	return &file, nil
}
