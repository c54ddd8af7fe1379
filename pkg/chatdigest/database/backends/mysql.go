package backends

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLBackend wraps the MySQL database connection.
type MySQLBackend struct {
	DB     *sql.DB
	Config MySQLConfig

	// Migrator handles schema migrations
	Migrator *Migrator

	// Health checker
	Health *HealthChecker
}

// MySQLConfig holds MySQL-specific configuration.
type MySQLConfig struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenMySQL opens a MySQL database connection.
func OpenMySQL(config MySQLConfig, logger *slog.Logger) (*MySQLBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == 0 {
		config.Port = 3306
	}
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.ConnMaxLifetime == 0 {
		config.ConnMaxLifetime = 30 * time.Minute
	}

	db, err := sql.Open("mysql", BuildMySQLDSN(config))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Debug("mysql connected", "host", config.Host, "database", config.Database)

	return &MySQLBackend{
		DB:     db,
		Config: config,
		Migrator: NewMigrator(db,
			`CREATE TABLE IF NOT EXISTS schema_version (
				version INT PRIMARY KEY,
				applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)`,
			"INSERT IGNORE INTO schema_version (version) VALUES (?)",
			MySQLMigrations(), logger),
		Health: NewHealthChecker(db, "SELECT VERSION()"),
	}, nil
}

// BuildMySQLDSN builds the driver DSN. Times are read and written as UTC.
func BuildMySQLDSN(config MySQLConfig) string {
	cfg := mysql.NewConfig()
	cfg.User = config.User
	cfg.Passwd = config.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", config.Host, config.Port)
	cfg.DBName = config.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Close closes the database connection.
func (b *MySQLBackend) Close() error {
	return b.DB.Close()
}
