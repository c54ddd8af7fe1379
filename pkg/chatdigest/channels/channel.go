// Package channels defines the transport interfaces shared by the chat
// platforms the bot lives on. The pipeline only needs Transport (download a
// file, post text); ingestion additionally consumes the Channel event stream.
package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/models"
)

// Transport is what the analysis pipeline and digest scheduler consume.
type Transport interface {
	// FetchFile downloads the raw bytes behind a platform file handle.
	FetchFile(ctx context.Context, handle string) ([]byte, error)

	// SendText posts text to a chat, splitting it when it is too long.
	SendText(ctx context.Context, chatID int64, text string) error
}

// Channel is a connected chat platform.
type Channel interface {
	Transport

	// Name returns the channel identifier (e.g. "telegram", "discord").
	Name() string

	// Connect establishes the connection and starts receiving events.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Messages returns a Go channel that emits incoming events.
	Messages() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// EventKind distinguishes incoming events.
type EventKind string

const (
	// EventMessage is a regular message (group or private).
	EventMessage EventKind = "message"

	// EventBotAdded is emitted when the bot joins a group.
	EventBotAdded EventKind = "bot_added"
)

// Sender identifies the platform user behind an event.
type Sender struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}

// DocumentInfo describes a file attached to a message.
type DocumentInfo struct {
	// Handle is the platform file reference passed back to FetchFile.
	Handle   string
	FileName string
	MimeType string
	Size     int64
}

// IncomingMessage is an event received from any channel.
type IncomingMessage struct {
	Kind EventKind

	// ID is the message identifier in the source channel.
	ID string

	// Channel identifies the source channel.
	Channel string

	ChatID    int64
	ChatTitle string
	IsGroup   bool

	From Sender

	// Type is text or document.
	Type models.MessageType

	// Text is the message body, or the caption for documents.
	Text string

	Timestamp time.Time

	Document *DocumentInfo
}

// Command returns the bot command and its arguments when the text starts
// with '/', stripping any "@botname" suffix.
func (m *IncomingMessage) Command() (string, []string, bool) {
	if !strings.HasPrefix(m.Text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(m.Text)
	cmd := strings.ToLower(fields[0])
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	return cmd, fields[1:], true
}

// HealthStatus represents the health state of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
	Details       map[string]any
}

// Errors.
var (
	ErrNotConnected = errors.New("channel is not connected")
	ErrBadRequest   = errors.New("transport rejected the request")
	ErrFileNotFound = errors.New("file handle missing or expired")
	ErrFileTooLarge = errors.New("file exceeds the download limit")
)

// DefaultMaxFileBytes bounds a single file download (Telegram's own
// getFile limit).
const DefaultMaxFileBytes = 20 << 20

// ReadFile reads at most max bytes from r. A longer body is ErrFileTooLarge.
func ReadFile(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxFileBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrFileTooLarge, max)
	}
	return data, nil
}

// SplitMessage breaks text into chunks of at most limit runes, preferring
// paragraph, then line, then word boundaries.
func SplitMessage(text string, limit int) []string {
	return split(text, limit, func(rune) int { return 1 })
}

// SplitMessageUTF16 is SplitMessage with length counted in UTF-16 code
// units, which is how Telegram measures message text.
func SplitMessageUTF16(text string, limit int) []string {
	return split(text, limit, utf16.RuneLen)
}

func split(text string, limit int, width func(rune) int) []string {
	if limit <= 0 || measure(text, width) <= limit {
		return []string{text}
	}

	var chunks []string
	for measure(text, width) > limit {
		cut := cutOffset(text, limit, width)
		window := text[:cut]

		at := -1
		for _, sep := range []string{"\n\n", "\n", " "} {
			if i := strings.LastIndex(window, sep); i > cut/2 {
				at = i
				break
			}
		}
		if at <= 0 {
			at = cut
		}

		chunk := strings.TrimRight(text[:at], " \n")
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimLeft(text[at:], " \n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func measure(s string, width func(rune) int) int {
	n := 0
	for _, r := range s {
		n += width(r)
	}
	return n
}

// cutOffset returns the byte index of the first rune that no longer fits in
// limit units. At least one rune is always kept.
func cutOffset(s string, limit int, width func(rune) int) int {
	n := 0
	for pos, r := range s {
		n += width(r)
		if n > limit {
			if pos == 0 {
				_, size := utf8.DecodeRuneInString(s)
				return size
			}
			return pos
		}
	}
	return len(s)
}
