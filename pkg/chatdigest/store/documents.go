package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/models"
)

const documentColumns = `d.id, d.message_id, m.chat_id, d.file_handle, d.file_name, d.file_type,
	d.file_size_bytes, d.analysis_content, d.processing_status, d.analysis_started_at,
	d.analysis_completed_at, d.analysis_attempts, d.created_at, d.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (models.Document, error) {
	var (
		doc       models.Document
		content   sql.NullString
		status    string
		started   sql.NullTime
		completed sql.NullTime
	)
	err := row.Scan(&doc.ID, &doc.MessageID, &doc.ChatID, &doc.FileHandle, &doc.FileName, &doc.MimeType,
		&doc.SizeBytes, &content, &status, &started, &completed, &doc.Attempts, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return doc, err
	}
	doc.AnalysisContent = content.String
	doc.Status = models.ProcessingStatus(status)
	doc.AnalysisStartedAt = timePtr(started)
	doc.AnalysisCompletedAt = timePtr(completed)
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return doc, nil
}

// GetUnprocessedDocuments returns up to limit documents that were never
// picked up, oldest first.
func (s *Store) GetUnprocessedDocuments(ctx context.Context, limit int) ([]models.Document, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+documentColumns+`
		FROM documents d JOIN messages m ON m.id = d.message_id
		WHERE d.processing_status = ? AND d.deleted_at IS NULL
		ORDER BY d.id LIMIT ?`), string(models.StatusNotStarted), limit)
	if err != nil {
		return nil, fmt.Errorf("select unprocessed documents: %w", mapError(err))
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// GetDocument loads one document by id.
func (s *Store) GetDocument(ctx context.Context, id int64) (models.Document, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+documentColumns+`
		FROM documents d JOIN messages m ON m.id = d.message_id
		WHERE d.id = ?`), id)
	doc, err := scanDocument(row)
	if err != nil {
		return doc, fmt.Errorf("get document %d: %w", id, mapError(err))
	}
	return doc, nil
}

// MarkPending moves the given documents from not_started to pending in a
// single transaction and returns the ones this call actually claimed.
// A document already claimed by someone else is left out of the result.
func (s *Store) MarkPending(ctx context.Context, docs []models.Document) ([]models.Document, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	now := s.stamp()
	claimed := make([]models.Document, 0, len(docs))

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.q(`UPDATE documents
			SET processing_status = ?, analysis_started_at = ?, analysis_attempts = analysis_attempts + 1, updated_at = ?
			WHERE id = ? AND processing_status = ?`))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, doc := range docs {
			res, err := stmt.ExecContext(ctx, string(models.StatusPending), now, now, doc.ID, string(models.StatusNotStarted))
			if err != nil {
				return fmt.Errorf("mark document %d pending: %w", doc.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				continue
			}
			doc.Status = models.StatusPending
			started := now
			doc.AnalysisStartedAt = &started
			doc.Attempts++
			doc.UpdatedAt = now
			claimed = append(claimed, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(claimed) < len(docs) {
		s.logger.Warn("some documents were claimed elsewhere",
			"selected", len(docs), "claimed", len(claimed))
	}
	return claimed, nil
}

// SaveDocumentSummary stores the analysis result and marks the document analyzed.
func (s *Store) SaveDocumentSummary(ctx context.Context, doc models.Document, summary string) error {
	now := s.stamp()
	return s.transition(ctx, doc.ID, models.StatusAnalyzed,
		`UPDATE documents SET processing_status = ?, analysis_content = ?, analysis_completed_at = ?, updated_at = ?
		WHERE id = ? AND processing_status = ?`,
		string(models.StatusAnalyzed), summary, now, now, doc.ID, string(models.StatusPending))
}

// MarkDocumentError records a failed analysis. The summary text and
// completion timestamp are left untouched.
func (s *Store) MarkDocumentError(ctx context.Context, doc models.Document) error {
	return s.transition(ctx, doc.ID, models.StatusError,
		`UPDATE documents SET processing_status = ?, updated_at = ?
		WHERE id = ? AND processing_status = ?`,
		string(models.StatusError), s.stamp(), doc.ID, string(models.StatusPending))
}

func (s *Store) transition(ctx context.Context, id int64, to models.ProcessingStatus, query string, args ...any) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(query), args...)
		if err != nil {
			return fmt.Errorf("mark document %d %s: %w", id, to, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("mark document %d %s: %w", id, to, ErrStatusConflict)
		}
		return nil
	})
}

// RequeueErroredDocuments resets failed documents to not_started so the
// pipeline picks them up again. Only documents whose last attempt started
// before startedBefore and that have fewer than maxAttempts attempts are
// touched. Returns the number of re-queued documents.
func (s *Store) RequeueErroredDocuments(ctx context.Context, startedBefore time.Time, maxAttempts int) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE documents SET processing_status = ?, updated_at = ?
		WHERE processing_status = ? AND deleted_at IS NULL
		AND (analysis_started_at IS NULL OR analysis_started_at < ?)
		AND analysis_attempts < ?`),
		string(models.StatusNotStarted), s.stamp(), string(models.StatusError), utc(startedBefore), maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("requeue errored documents: %w", mapError(err))
	}
	return res.RowsAffected()
}

// FailStalePending marks documents stuck in pending since before
// startedBefore as error. A document stays pending only if its worker died
// mid-analysis; failing it keeps the at-most-once attempt policy.
func (s *Store) FailStalePending(ctx context.Context, startedBefore time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE documents SET processing_status = ?, updated_at = ?
		WHERE processing_status = ? AND analysis_started_at < ?`),
		string(models.StatusError), s.stamp(), string(models.StatusPending), utc(startedBefore))
	if err != nil {
		return 0, fmt.Errorf("fail stale pending documents: %w", mapError(err))
	}
	return res.RowsAffected()
}
