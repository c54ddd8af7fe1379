package backends

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestSQLiteBackend_Open(t *testing.T) {
	config := SQLiteConfig{
		Path:        filepath.Join(t.TempDir(), "nested", "test.db"),
		ForeignKeys: true,
	}

	backend, err := OpenSQLite(config, nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer backend.Close()

	if backend.Config.JournalMode != "WAL" {
		t.Errorf("expected default journal mode WAL, got %q", backend.Config.JournalMode)
	}
	if backend.Config.BusyTimeout != 5000 {
		t.Errorf("expected default busy timeout 5000, got %d", backend.Config.BusyTimeout)
	}
}

func TestMigrator_StepwiseMigration(t *testing.T) {
	backend, err := OpenSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db"), ForeignKeys: true}, nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer backend.Close()

	ctx := context.Background()
	m := backend.Migrator

	if v, err := m.CurrentVersion(ctx); err != nil || v != 0 {
		t.Fatalf("expected version 0 on empty database, got %d (%v)", v, err)
	}

	if err := m.Migrate(ctx, 1); err != nil {
		t.Fatalf("Migrate(1) failed: %v", err)
	}
	if v, _ := m.CurrentVersion(ctx); v != 1 {
		t.Fatalf("expected version 1, got %d", v)
	}

	if err := m.Migrate(ctx, 0); err != nil {
		t.Fatalf("Migrate(latest) failed: %v", err)
	}
	if v, _ := m.CurrentVersion(ctx); v != m.LatestVersion() {
		t.Fatalf("expected version %d, got %d", m.LatestVersion(), v)
	}

	// analysis_attempts comes from migration 2.
	if _, err := backend.DB.ExecContext(ctx, "SELECT analysis_attempts FROM documents"); err != nil {
		t.Errorf("analysis_attempts column missing: %v", err)
	}

	if err := m.Migrate(ctx, 1); err == nil {
		t.Error("expected error when asking for a downgrade")
	}
}

func TestMigrator_ForeignKeysEnforced(t *testing.T) {
	backend, err := OpenSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db"), ForeignKeys: true}, nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	defer backend.Close()

	ctx := context.Background()
	if err := backend.Migrator.Migrate(ctx, 0); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	_, err = backend.DB.ExecContext(ctx,
		`INSERT INTO chat_settings (chat_id, summary_time, created_at, updated_at) VALUES (42, '19:00', datetime('now'), datetime('now'))`)
	if err == nil {
		t.Fatal("expected foreign key violation for settings without chat")
	}
}

func TestBuildDSNs(t *testing.T) {
	pg := BuildPostgreSQLDSN(PostgreSQLConfig{
		Host: "db", Port: 5433, User: "bot", Password: "p@ss", Database: "digest", SSLMode: "disable",
	})
	if pg != "postgres://bot:p%40ss@db:5433/digest?sslmode=disable" {
		t.Errorf("unexpected postgres DSN: %s", pg)
	}

	if got := BuildPostgreSQLDSN(PostgreSQLConfig{URL: "postgres://x"}); got != "postgres://x" {
		t.Errorf("URL should be used verbatim, got %s", got)
	}

	my := BuildMySQLDSN(MySQLConfig{Host: "db", Port: 3306, User: "bot", Password: "secret", Database: "digest"})
	for _, want := range []string{"bot:secret@tcp(db:3306)/digest", "parseTime=true", "charset=utf8mb4"} {
		if !strings.Contains(my, want) {
			t.Errorf("mysql DSN %q missing %q", my, want)
		}
	}
}

