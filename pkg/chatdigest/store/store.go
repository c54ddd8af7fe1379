// Package store is the storage gateway over the primary database backend.
// Every exported operation is one scoped session: it either runs a single
// statement or opens a transaction that is committed on success and rolled
// back on every other exit path. No operation holds a session across a
// call to an external service.
//
// Instants are normalized to UTC with whole-second precision on the way in,
// so comparisons behave the same on every backend.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/database"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/models"
)

// Store implements the storage gateway used by ingestion, the document
// analysis pipeline and the digest scheduler.
type Store struct {
	db      *sql.DB
	backend database.BackendType
	due     DuePolicy
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithDuePolicy sets how configured digest times are matched against ticks.
func WithDuePolicy(p DuePolicy) Option {
	return func(s *Store) { s.due = p }
}

// WithClock overrides the clock used for bookkeeping timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a Store over db speaking the given backend's SQL dialect.
func New(db *sql.DB, backend database.BackendType, opts ...Option) *Store {
	s := &Store{
		db:      db,
		backend: backend,
		due:     DefaultDuePolicy(),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store")
	return s
}

// NewFromHub creates a Store over the hub's primary backend.
func NewFromHub(hub *database.Hub, opts ...Option) (*Store, error) {
	primary := hub.Primary()
	if primary == nil {
		return nil, fmt.Errorf("database hub has no primary backend")
	}
	return New(primary.DB, primary.Type, opts...), nil
}

// Backend returns the SQL dialect in use.
func (s *Store) Backend() database.BackendType {
	return s.backend
}

// DuePolicy returns the configured due-detection policy.
func (s *Store) DuePolicy() DuePolicy {
	return s.due
}

// utc normalizes an instant for storage.
func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func (s *Store) stamp() time.Time {
	return utc(s.now())
}

func (s *Store) q(query string) string {
	return s.backend.Rebind(query)
}

// withTx runs fn inside a transaction. The transaction is committed only
// when fn returns nil; errors and panics roll it back.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", mapError(err))
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				s.logger.Warn("rollback failed", "error", rbErr)
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("commit transaction: %w", mapError(cErr))
		}
	}()

	return mapError(fn(tx))
}

// insertReturningID inserts one row and returns its generated id.
func (s *Store) insertReturningID(ctx context.Context, tx *sql.Tx, query string, args ...any) (int64, error) {
	if s.backend == database.BackendPostgreSQL {
		var id int64
		if err := tx.QueryRowContext(ctx, s.q(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := tx.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// upsertClause returns the dialect-specific conflict clause that updates cols.
func (s *Store) upsertClause(conflict string, cols ...string) string {
	if s.backend == database.BackendMySQL {
		out := " ON DUPLICATE KEY UPDATE "
		for i, c := range cols {
			if i > 0 {
				out += ", "
			}
			out += c + " = VALUES(" + c + ")"
		}
		return out
	}
	out := " ON CONFLICT (" + conflict + ") DO UPDATE SET "
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c + " = excluded." + c
	}
	return out
}

// insertIgnore returns the dialect-specific "insert unless present" prefix and suffix.
func (s *Store) insertIgnore() (prefix, suffix string) {
	switch s.backend {
	case database.BackendMySQL:
		return "INSERT IGNORE INTO", ""
	default:
		return "INSERT INTO", " ON CONFLICT DO NOTHING"
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// Stats summarizes the pipeline backlog.
type Stats struct {
	Documents map[models.ProcessingStatus]int
	Chats     int
	Messages  int
	Summaries int
}

// Stats returns row counts used by the status command and readiness probe.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Documents: make(map[models.ProcessingStatus]int, len(models.AllStatuses))}
	for _, status := range models.AllStatuses {
		st.Documents[status] = 0
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT processing_status, COUNT(*) FROM documents WHERE deleted_at IS NULL GROUP BY processing_status")
	if err != nil {
		return st, fmt.Errorf("count documents: %w", mapError(err))
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		st.Documents[models.ProcessingStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	counts := []struct {
		table string
		dst   *int
	}{
		{"chats", &st.Chats},
		{"messages", &st.Messages},
		{"summaries", &st.Summaries},
	}
	for _, c := range counts {
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table+" WHERE deleted_at IS NULL").Scan(c.dst)
		if err != nil {
			return st, fmt.Errorf("count %s: %w", c.table, mapError(err))
		}
	}
	return st, nil
}
