package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/models"
)

// CreateChat inserts a chat together with its settings row holding the
// default digest time. Returns ErrAlreadyExists if the chat is known.
func (s *Store) CreateChat(ctx context.Context, chat models.Chat, defaultTime models.TimeOfDay) error {
	now := s.stamp()
	if chat.BotAddedAt.IsZero() {
		chat.BotAddedAt = now
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO chats (id, chat_title, bot_added_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`), chat.ID, chat.Title, utc(chat.BotAddedAt), now, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, s.q(`INSERT INTO chat_settings (chat_id, summary_time, created_at, updated_at)
			VALUES (?, ?, ?, ?)`), chat.ID, defaultTime.String(), now, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("create chat %d: %w", chat.ID, err)
	}
	return nil
}

// EnsureChat creates the chat if it is unknown and refreshes its title
// otherwise. Reports whether the chat was created.
func (s *Store) EnsureChat(ctx context.Context, chat models.Chat, defaultTime models.TimeOfDay) (bool, error) {
	err := s.CreateChat(ctx, chat, defaultTime)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrAlreadyExists) {
		return false, err
	}
	if chat.Title == "" {
		return false, nil
	}
	_, err = s.db.ExecContext(ctx, s.q(`UPDATE chats SET chat_title = ?, updated_at = ? WHERE id = ? AND chat_title <> ?`),
		chat.Title, s.stamp(), chat.ID, chat.Title)
	if err != nil {
		return false, fmt.Errorf("update chat %d title: %w", chat.ID, mapError(err))
	}
	return false, nil
}

// GetChat loads a chat.
func (s *Store) GetChat(ctx context.Context, id int64) (models.Chat, error) {
	var chat models.Chat
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, chat_title, bot_added_at, created_at, updated_at
		FROM chats WHERE id = ? AND deleted_at IS NULL`), id).
		Scan(&chat.ID, &chat.Title, &chat.BotAddedAt, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		return chat, fmt.Errorf("get chat %d: %w", id, mapError(err))
	}
	chat.BotAddedAt = chat.BotAddedAt.UTC()
	return chat, nil
}

// GetChatSettings loads the digest settings of a chat.
func (s *Store) GetChatSettings(ctx context.Context, chatID int64) (models.ChatSettings, error) {
	var (
		settings models.ChatSettings
		raw      string
	)
	err := s.db.QueryRowContext(ctx, s.q(`SELECT chat_id, summary_time, created_at, updated_at
		FROM chat_settings WHERE chat_id = ?`), chatID).
		Scan(&settings.ChatID, &raw, &settings.CreatedAt, &settings.UpdatedAt)
	if err != nil {
		return settings, fmt.Errorf("get settings of chat %d: %w", chatID, mapError(err))
	}
	settings.SummaryTime, err = models.ParseTimeOfDay(raw)
	if err != nil {
		return settings, fmt.Errorf("settings of chat %d: %w", chatID, err)
	}
	return settings, nil
}

// SetSummaryTime sets the daily digest time of a chat, creating the
// settings row if it is missing. Returns ErrForeignKey for unknown chats.
func (s *Store) SetSummaryTime(ctx context.Context, chatID int64, at models.TimeOfDay) error {
	now := s.stamp()
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO chat_settings (chat_id, summary_time, created_at, updated_at)
		VALUES (?, ?, ?, ?)`+s.upsertClause("chat_id", "summary_time", "updated_at")),
		chatID, at.String(), now, now)
	if err != nil {
		return fmt.Errorf("set summary time of chat %d: %w", chatID, mapError(err))
	}
	return nil
}

// UpsertUser records a user or refreshes their names.
func (s *Store) UpsertUser(ctx context.Context, user models.User) error {
	now := s.stamp()
	if user.BotInteractionCreatedAt.IsZero() {
		user.BotInteractionCreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO users
		(id, username, first_name, last_name, bot_interaction_created_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`+s.upsertClause("id", "username", "first_name", "last_name", "updated_at")),
		user.ID, user.Username, user.FirstName, user.LastName, utc(user.BotInteractionCreatedAt), now, now)
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", user.ID, mapError(err))
	}
	return nil
}

// GetUser loads a user.
func (s *Store) GetUser(ctx context.Context, id int64) (models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, username, first_name, last_name, bot_interaction_created_at,
		created_at, updated_at FROM users WHERE id = ? AND deleted_at IS NULL`), id).
		Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.BotInteractionCreatedAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return u, fmt.Errorf("get user %d: %w", id, mapError(err))
	}
	return u, nil
}

// AddChatAdmin records that userID administers chatID. Repeated calls keep
// the first acknowledgement time.
func (s *Store) AddChatAdmin(ctx context.Context, userID, chatID int64) error {
	now := s.stamp()
	prefix, suffix := s.insertIgnore()
	_, err := s.db.ExecContext(ctx, s.q(prefix+` chat_admins
		(user_id, chat_id, first_acknowledged_admin_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`+suffix), userID, chatID, now, now, now)
	if err != nil {
		return fmt.Errorf("add admin %d to chat %d: %w", userID, chatID, mapError(err))
	}
	return nil
}

// IsChatAdmin reports whether userID administers chatID.
func (s *Store) IsChatAdmin(ctx context.Context, userID, chatID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM chat_admins
		WHERE user_id = ? AND chat_id = ? AND deleted_at IS NULL`), userID, chatID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check admin %d of chat %d: %w", userID, chatID, mapError(err))
	}
	return n > 0, nil
}

// AdminChat is a chat administered by a user, with its digest time.
type AdminChat struct {
	Chat        models.Chat
	SummaryTime models.TimeOfDay
}

// AdminChats lists the chats userID administers.
func (s *Store) AdminChats(ctx context.Context, userID int64) ([]AdminChat, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT c.id, c.chat_title, c.bot_added_at, cs.summary_time
		FROM chat_admins a
		JOIN chats c ON c.id = a.chat_id
		JOIN chat_settings cs ON cs.chat_id = c.id
		WHERE a.user_id = ? AND a.deleted_at IS NULL AND c.deleted_at IS NULL
		ORDER BY c.chat_title, c.id`), userID)
	if err != nil {
		return nil, fmt.Errorf("list chats of admin %d: %w", userID, mapError(err))
	}
	defer rows.Close()

	var out []AdminChat
	for rows.Next() {
		var (
			ac  AdminChat
			raw string
		)
		if err := rows.Scan(&ac.Chat.ID, &ac.Chat.Title, &ac.Chat.BotAddedAt, &raw); err != nil {
			return nil, err
		}
		if ac.SummaryTime, err = models.ParseTimeOfDay(raw); err != nil {
			return nil, fmt.Errorf("settings of chat %d: %w", ac.Chat.ID, err)
		}
		out = append(out, ac)
	}
	return out, rows.Err()
}

// AddMessage records a chat message and returns its id.
func (s *Store) AddMessage(ctx context.Context, msg models.Message) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.insertMessage(ctx, tx, msg)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("add message to chat %d: %w", msg.ChatID, err)
	}
	return id, nil
}

// AddDocumentMessage records a message and the document it carries in one
// transaction. The document starts as not_started.
func (s *Store) AddDocumentMessage(ctx context.Context, msg models.Message, doc models.Document) (msgID, docID int64, err error) {
	msg.Type = models.MessageDocument
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if msgID, err = s.insertMessage(ctx, tx, msg); err != nil {
			return err
		}
		doc.MessageID = msgID
		docID, err = s.insertDocument(ctx, tx, doc)
		return err
	})
	if err != nil {
		return 0, 0, fmt.Errorf("add document to chat %d: %w", msg.ChatID, err)
	}
	return msgID, docID, nil
}

// AddDocument attaches a document to an existing message.
func (s *Store) AddDocument(ctx context.Context, doc models.Document) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.insertDocument(ctx, tx, doc)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("add document to message %d: %w", doc.MessageID, err)
	}
	return id, nil
}

func (s *Store) insertMessage(ctx context.Context, tx *sql.Tx, msg models.Message) (int64, error) {
	if !msg.Type.Valid() {
		return 0, fmt.Errorf("%w: message type %q", ErrInvalidValue, msg.Type)
	}
	now := s.stamp()
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = now
	}
	return s.insertReturningID(ctx, tx, `INSERT INTO messages
		(chat_id, sender_user_id, message_text, message_type, sent_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ChatID, msg.SenderUserID, nullString(msg.Text), string(msg.Type), utc(sentAt), now, now)
}

func (s *Store) insertDocument(ctx context.Context, tx *sql.Tx, doc models.Document) (int64, error) {
	now := s.stamp()
	return s.insertReturningID(ctx, tx, `INSERT INTO documents
		(message_id, file_handle, file_name, file_type, file_size_bytes, processing_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.MessageID, doc.FileHandle, doc.FileName, doc.MimeType, doc.SizeBytes,
		string(models.StatusNotStarted), now, now)
}
