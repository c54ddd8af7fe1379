package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/models"
)

// DuePolicy decides when a chat's configured digest time has come.
type DuePolicy struct {
	// Location is the calendar summary_time values are expressed in.
	Location *time.Location

	// CatchUp is how long after the configured time a tick still counts as
	// matching it. It must cover at least one tick interval.
	CatchUp time.Duration
}

// DefaultDuePolicy evaluates digest times in UTC with a 10 minute catch-up.
func DefaultDuePolicy() DuePolicy {
	return DuePolicy{Location: time.UTC, CatchUp: 10 * time.Minute}
}

// Slot returns the most recent scheduled instant for summaryTime at or
// before now. ok is false when now is not within CatchUp of that instant.
func (p DuePolicy) Slot(summaryTime models.TimeOfDay, now time.Time) (slot time.Time, ok bool) {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	now = now.UTC()
	slot = summaryTime.On(now, loc)
	if slot.After(now) {
		// The catch-up window of yesterday's slot may cross midnight.
		local := now.In(loc)
		slot = summaryTime.On(time.Date(local.Year(), local.Month(), local.Day()-1, 12, 0, 0, 0, loc), loc)
	}
	slot = slot.UTC()
	return slot, now.Before(slot.Add(p.CatchUp))
}

// IsDue reports whether a chat with the given digest time is due at now.
// lastUntil is the end of the chat's most recent digest window, if any.
// A chat is due once per day: from its slot until slot+CatchUp, and only
// if no digest already covers the slot.
func (p DuePolicy) IsDue(summaryTime models.TimeOfDay, lastUntil *time.Time, now time.Time) bool {
	slot, ok := p.Slot(summaryTime, now)
	if !ok {
		return false
	}
	if lastUntil != nil && !lastUntil.Before(slot) {
		return false
	}
	return true
}

// GetChatsDueForSummary returns the ids of chats whose digest is due at now.
func (s *Store) GetChatsDueForSummary(ctx context.Context, now time.Time) ([]int64, error) {
	var due []int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT cs.chat_id, cs.summary_time
			FROM chat_settings cs JOIN chats c ON c.id = cs.chat_id
			WHERE c.deleted_at IS NULL AND cs.deleted_at IS NULL
			ORDER BY cs.chat_id`)
		if err != nil {
			return err
		}

		type candidate struct {
			chatID int64
			at     models.TimeOfDay
		}
		var candidates []candidate
		for rows.Next() {
			var (
				c   candidate
				raw string
			)
			if err := rows.Scan(&c.chatID, &raw); err != nil {
				rows.Close()
				return err
			}
			at, err := models.ParseTimeOfDay(raw)
			if err != nil {
				s.logger.Warn("skipping chat with malformed summary time", "chat_id", c.chatID, "value", raw)
				continue
			}
			c.at = at
			if s.due.IsDue(c.at, nil, now) {
				candidates = append(candidates, c)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, s.q(`SELECT messages_until_time FROM summaries
			WHERE chat_id = ? AND deleted_at IS NULL
			ORDER BY messages_until_time DESC LIMIT 1`))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range candidates {
			var until time.Time
			err := stmt.QueryRowContext(ctx, c.chatID).Scan(&until)
			switch {
			case err == sql.ErrNoRows:
				due = append(due, c.chatID)
			case err != nil:
				return err
			default:
				u := until.UTC()
				if s.due.IsDue(c.at, &u, now) {
					due = append(due, c.chatID)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("select chats due for summary: %w", err)
	}
	return due, nil
}
