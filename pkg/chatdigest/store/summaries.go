package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/models"
)

// GetMessagesBetween returns the messages of a chat with a non-empty text
// body sent in [since, until), oldest first.
func (s *Store) GetMessagesBetween(ctx context.Context, chatID int64, since, until time.Time) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, chat_id, sender_user_id, message_text, message_type, sent_at, summary_id
		FROM messages
		WHERE chat_id = ? AND sent_at >= ? AND sent_at < ?
		AND message_text IS NOT NULL AND message_text <> '' AND deleted_at IS NULL
		ORDER BY sent_at, id`), chatID, utc(since), utc(until))
	if err != nil {
		return nil, fmt.Errorf("select messages of chat %d: %w", chatID, mapError(err))
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var (
			m         models.Message
			text      sql.NullString
			typ       string
			summaryID sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderUserID, &text, &typ, &m.SentAt, &summaryID); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Text = text.String
		m.Type = models.MessageType(typ)
		m.SentAt = m.SentAt.UTC()
		m.SummaryID = summaryID.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetDocumentSummariesBetween returns the analysis texts of a chat's
// analyzed documents whose owning message was sent in [since, until).
func (s *Store) GetDocumentSummariesBetween(ctx context.Context, chatID int64, since, until time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT d.analysis_content
		FROM documents d JOIN messages m ON m.id = d.message_id
		WHERE m.chat_id = ? AND m.sent_at >= ? AND m.sent_at < ?
		AND d.processing_status = ? AND d.analysis_content IS NOT NULL AND d.analysis_content <> ''
		AND d.deleted_at IS NULL
		ORDER BY m.sent_at, d.id`), chatID, utc(since), utc(until), string(models.StatusAnalyzed))
	if err != nil {
		return nil, fmt.Errorf("select document summaries of chat %d: %w", chatID, mapError(err))
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("scan document summary: %w", err)
		}
		out = append(out, text)
	}
	return out, rows.Err()
}

// SaveSummary persists a digest and links the window's messages to it in
// the same transaction. Messages already linked to an earlier digest keep
// their link.
func (s *Store) SaveSummary(ctx context.Context, chatID int64, content string, since, until, generatedAt time.Time) (models.Summary, error) {
	now := s.stamp()
	sum := models.Summary{
		ID:          uuid.NewString(),
		ChatID:      chatID,
		Content:     content,
		Since:       utc(since),
		Until:       utc(until),
		GeneratedAt: utc(generatedAt),
	}
	sum.CreatedAt = now
	sum.UpdatedAt = now

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(`INSERT INTO summaries
			(id, chat_id, generated_at, summary_content, messages_since_time, messages_until_time, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			sum.ID, chatID, sum.GeneratedAt, content, sum.Since, sum.Until, now, now)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.q(`UPDATE messages SET summary_id = ?, updated_at = ?
			WHERE chat_id = ? AND sent_at >= ? AND sent_at < ? AND summary_id IS NULL`),
			sum.ID, now, chatID, sum.Since, sum.Until)
		return err
	})
	if err != nil {
		return models.Summary{}, fmt.Errorf("save summary of chat %d: %w", chatID, err)
	}
	return sum, nil
}

// LastSummaryUntil returns the end of the most recent digest window of a
// chat. ok is false when the chat never had a digest.
func (s *Store) LastSummaryUntil(ctx context.Context, chatID int64) (until time.Time, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, s.q(`SELECT messages_until_time FROM summaries
		WHERE chat_id = ? AND deleted_at IS NULL
		ORDER BY messages_until_time DESC LIMIT 1`), chatID).Scan(&until)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last summary of chat %d: %w", chatID, mapError(err))
	}
	return until.UTC(), true, nil
}

// ListSummaries returns the latest digests of a chat, newest first.
func (s *Store) ListSummaries(ctx context.Context, chatID int64, limit int) ([]models.Summary, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, chat_id, summary_content, messages_since_time,
		messages_until_time, generated_at, created_at, updated_at
		FROM summaries WHERE chat_id = ? AND deleted_at IS NULL
		ORDER BY messages_until_time DESC LIMIT ?`), chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list summaries of chat %d: %w", chatID, mapError(err))
	}
	defer rows.Close()

	var out []models.Summary
	for rows.Next() {
		var sum models.Summary
		if err := rows.Scan(&sum.ID, &sum.ChatID, &sum.Content, &sum.Since, &sum.Until,
			&sum.GeneratedAt, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.Since, sum.Until, sum.GeneratedAt = sum.Since.UTC(), sum.Until.UTC(), sum.GeneratedAt.UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}
