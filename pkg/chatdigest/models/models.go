// Package models defines the persistent entities shared by the ingestion
// layer, the document analysis pipeline and the digest scheduler.
// All timestamps are UTC; conversion to a chat's local calendar happens
// only where a time-of-day setting is evaluated.
package models

import (
	"fmt"
	"strings"
	"time"
)

// DefaultSummaryTime is the digest time assigned to a chat when it is created.
const DefaultSummaryTime = "19:00"

// Timestamps carries the bookkeeping columns every table has.
type Timestamps struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Chat is a group conversation the bot was added to.
type Chat struct {
	ID         int64
	Title      string
	BotAddedAt time.Time
	Timestamps
}

// ChatSettings holds the per-chat digest configuration. Exactly one row
// exists per chat, created together with the chat.
type ChatSettings struct {
	ChatID      int64
	SummaryTime TimeOfDay
	Timestamps
}

// User is a chat participant or someone who talked to the bot directly.
type User struct {
	ID                      int64
	Username                string
	FirstName               string
	LastName                string
	BotInteractionCreatedAt time.Time
	Timestamps
}

// DisplayName returns the best human-readable name for the user.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return fmt.Sprintf("user %d", u.ID)
}

// ChatAdmin records that a user may change a chat's settings.
type ChatAdmin struct {
	UserID                   int64
	ChatID                   int64
	FirstAcknowledgedAdminAt time.Time
	Timestamps
}

// MessageType tags what a recorded message carried.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageDocument MessageType = "document"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	return t == MessageText || t == MessageDocument
}

// Message is one recorded chat message. It is immutable except for
// SummaryID, which is set once when the message is folded into a digest.
type Message struct {
	ID           int64
	ChatID       int64
	SenderUserID int64
	Text         string
	Type         MessageType
	SentAt       time.Time
	SummaryID    string
	Timestamps
}

// Document is a file attachment owned by exactly one message.
type Document struct {
	ID                  int64
	MessageID           int64
	ChatID              int64
	FileHandle          string
	FileName            string
	MimeType            string
	SizeBytes           int64
	AnalysisContent     string
	Status              ProcessingStatus
	AnalysisStartedAt   *time.Time
	AnalysisCompletedAt *time.Time
	Attempts            int
	Timestamps
}

// Summary is one generated digest covering [Since, Until) of a chat.
type Summary struct {
	ID          string
	ChatID      int64
	Content     string
	Since       time.Time
	Until       time.Time
	GeneratedAt time.Time
	Timestamps
}

// TimeOfDay is a wall-clock time with minute resolution.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h). "HH:MM:SS" is accepted as stored by
// SQL TIME columns; seconds are ignored.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
}

// MustParseTimeOfDay is ParseTimeOfDay for constants.
func MustParseTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String formats as "HH:MM".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the instant at this time of day on the calendar date of day,
// evaluated in loc.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour, t.Minute, 0, 0, loc)
}
