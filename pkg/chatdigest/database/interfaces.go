// Package database provides the database hub that opens the configured
// backend (SQLite, PostgreSQL or MySQL), keeps its schema migrated and
// reports its health. SQLite is the default backend, requiring zero
// configuration.
package database

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/database/backends"
)

// BackendType identifies the type of database backend.
type BackendType string

const (
	BackendSQLite     BackendType = "sqlite"
	BackendPostgreSQL BackendType = "postgresql"
	BackendMySQL      BackendType = "mysql"
)

// Valid reports whether t names a supported backend.
func (t BackendType) Valid() bool {
	switch t {
	case BackendSQLite, BackendPostgreSQL, BackendMySQL:
		return true
	}
	return false
}

// Rebind converts '?' placeholders to the backend's native form.
// PostgreSQL uses $1..$n; SQLite and MySQL accept '?' as is.
// Placeholders inside quoted literals are not expected in our queries.
func (t BackendType) Rebind(query string) string {
	if t != BackendPostgreSQL {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Backend represents a database backend connection with all its capabilities.
type Backend struct {
	// Name is the identifier for this backend (e.g., "primary")
	Name string

	// Type indicates the database type
	Type BackendType

	// DB is the underlying database connection
	DB *sql.DB

	// Config holds the backend configuration
	Config Config

	// Migrator handles schema migrations
	Migrator Migrator

	// Health monitors database health
	Health HealthChecker
}

// Migrator interface for database schema migrations.
type Migrator interface {
	// CurrentVersion returns the current schema version.
	CurrentVersion(ctx context.Context) (int, error)

	// Migrate applies migrations up to the target version.
	// If target is 0, migrates to the latest version.
	Migrate(ctx context.Context, target int) error

	// NeedsMigration returns true if the schema is outdated.
	NeedsMigration(ctx context.Context) (bool, error)

	// LatestVersion returns the newest version this build knows about.
	LatestVersion() int
}

// HealthChecker interface for monitoring database health.
type HealthChecker interface {
	// Ping checks basic database connectivity.
	Ping(ctx context.Context) error

	// Status returns detailed health status.
	Status(ctx context.Context) HealthStatus
}

// HealthStatus represents the health state of a database backend.
type HealthStatus = backends.HealthStatus

// BackendFactory creates database backends based on configuration.
type BackendFactory interface {
	// Create creates a new backend with the given configuration.
	Create(config Config) (*Backend, error)

	// Supports returns true if this factory can create the given backend type.
	Supports(backendType BackendType) bool
}
