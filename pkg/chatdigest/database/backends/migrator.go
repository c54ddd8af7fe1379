package backends

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Migration is one versioned schema step. Statements run in order inside a
// single transaction where the backend supports transactional DDL.
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

// Migrator applies versioned migrations and records them in schema_version.
type Migrator struct {
	db                 *sql.DB
	versionTableDDL    string
	recordVersionQuery string
	migrations         []Migration
	logger             *slog.Logger
}

// NewMigrator creates a migrator for db. recordVersionQuery must insert one
// row with a single version parameter.
func NewMigrator(db *sql.DB, versionTableDDL, recordVersionQuery string, migrations []Migration, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{
		db:                 db,
		versionTableDDL:    versionTableDDL,
		recordVersionQuery: recordVersionQuery,
		migrations:         migrations,
		logger:             logger.With("component", "migrator"),
	}
}

// LatestVersion returns the highest known migration version.
func (m *Migrator) LatestVersion() int {
	latest := 0
	for _, mig := range m.migrations {
		if mig.Version > latest {
			latest = mig.Version
		}
	}
	return latest
}

// CurrentVersion returns the current schema version (0 for an empty database).
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	if _, err := m.db.ExecContext(ctx, m.versionTableDDL); err != nil {
		return 0, fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// Migrate applies migrations up to the target version.
// If target is 0, migrates to the latest version.
func (m *Migrator) Migrate(ctx context.Context, target int) error {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if target <= 0 {
		target = m.LatestVersion()
	}
	if target < current {
		return fmt.Errorf("schema is at version %d, downgrade to %d is not supported", current, target)
	}

	for _, mig := range m.migrations {
		if mig.Version <= current || mig.Version > target {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return fmt.Errorf("migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		m.logger.Info("schema migration applied", "version", mig.Version, "name", mig.Name)
	}
	return nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range mig.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, m.recordVersionQuery, mig.Version); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return tx.Commit()
}

// NeedsMigration returns true if the schema is outdated.
func (m *Migrator) NeedsMigration(ctx context.Context) (bool, error) {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return false, err
	}
	return current < m.LatestVersion(), nil
}
