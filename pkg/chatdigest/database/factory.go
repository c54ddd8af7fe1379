package database

import (
	"fmt"
	"log/slog"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/database/backends"
)

// SQLiteFactory creates SQLite backends.
type SQLiteFactory struct {
	logger *slog.Logger
}

// NewSQLiteFactory creates a new SQLite factory.
func NewSQLiteFactory(logger *slog.Logger) *SQLiteFactory {
	return &SQLiteFactory{logger: logger}
}

// Create creates a new SQLite backend with the given configuration.
func (f *SQLiteFactory) Create(config Config) (*Backend, error) {
	if config.Type != BackendSQLite {
		return nil, fmt.Errorf("sqlite factory cannot create %s backend", config.Type)
	}

	b, err := backends.OpenSQLite(backends.SQLiteConfig{
		Path:        config.Path,
		JournalMode: config.JournalMode,
		BusyTimeout: config.BusyTimeout,
		ForeignKeys: true,
	}, f.logger)
	if err != nil {
		return nil, err
	}

	return &Backend{
		Type:     BackendSQLite,
		DB:       b.DB,
		Config:   config,
		Migrator: b.Migrator,
		Health:   b.Health,
	}, nil
}

// Supports returns true for SQLite backend type.
func (f *SQLiteFactory) Supports(backendType BackendType) bool {
	return backendType == BackendSQLite
}

// PostgreSQLFactory creates PostgreSQL backends.
type PostgreSQLFactory struct {
	logger *slog.Logger
}

// NewPostgreSQLFactory creates a new PostgreSQL factory.
func NewPostgreSQLFactory(logger *slog.Logger) *PostgreSQLFactory {
	return &PostgreSQLFactory{logger: logger}
}

// Create creates a new PostgreSQL backend with the given configuration.
func (f *PostgreSQLFactory) Create(config Config) (*Backend, error) {
	if config.Type != BackendPostgreSQL {
		return nil, fmt.Errorf("postgresql factory cannot create %s backend", config.Type)
	}

	b, err := backends.OpenPostgreSQL(backends.PostgreSQLConfig{
		URL:             config.URL,
		Host:            config.Host,
		Port:            config.Port,
		Database:        config.Database,
		User:            config.User,
		Password:        config.Password,
		SSLMode:         config.SSLMode,
		MaxOpenConns:    config.MaxOpenConns,
		MaxIdleConns:    config.MaxIdleConns,
		ConnMaxLifetime: config.ConnMaxLifetime,
	}, f.logger)
	if err != nil {
		return nil, err
	}

	return &Backend{
		Type:     BackendPostgreSQL,
		DB:       b.DB,
		Config:   config,
		Migrator: b.Migrator,
		Health:   b.Health,
	}, nil
}

// Supports returns true for PostgreSQL backend type.
func (f *PostgreSQLFactory) Supports(backendType BackendType) bool {
	return backendType == BackendPostgreSQL
}

// MySQLFactory creates MySQL backends.
type MySQLFactory struct {
	logger *slog.Logger
}

// NewMySQLFactory creates a new MySQL factory.
func NewMySQLFactory(logger *slog.Logger) *MySQLFactory {
	return &MySQLFactory{logger: logger}
}

// Create creates a new MySQL backend with the given configuration.
func (f *MySQLFactory) Create(config Config) (*Backend, error) {
	if config.Type != BackendMySQL {
		return nil, fmt.Errorf("mysql factory cannot create %s backend", config.Type)
	}

	b, err := backends.OpenMySQL(backends.MySQLConfig{
		Host:            config.Host,
		Port:            config.Port,
		Database:        config.Database,
		User:            config.User,
		Password:        config.Password,
		MaxOpenConns:    config.MaxOpenConns,
		MaxIdleConns:    config.MaxIdleConns,
		ConnMaxLifetime: config.ConnMaxLifetime,
	}, f.logger)
	if err != nil {
		return nil, err
	}

	return &Backend{
		Type:     BackendMySQL,
		DB:       b.DB,
		Config:   config,
		Migrator: b.Migrator,
		Health:   b.Health,
	}, nil
}

// Supports returns true for MySQL backend type.
func (f *MySQLFactory) Supports(backendType BackendType) bool {
	return backendType == BackendMySQL
}
