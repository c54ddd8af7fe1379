package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "chatdigest-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	config := DefaultHubConfig()
	config.SQLite.Path = filepath.Join(tmpDir, "test.db")

	hub, err := NewHub(context.Background(), config, nil)
	if err != nil {
		t.Fatalf("NewHub failed: %v", err)
	}
	t.Cleanup(func() { hub.Close() })
	return hub
}

func TestHub_New(t *testing.T) {
	hub := newTestHub(t)

	primary := hub.Primary()
	if primary == nil {
		t.Fatal("primary backend is nil")
	}
	if primary.Type != BackendSQLite {
		t.Errorf("expected SQLite backend, got %s", primary.Type)
	}
	if hub.DB() == nil {
		t.Fatal("DB() returned nil")
	}
}

func TestHub_AutoMigrate(t *testing.T) {
	hub := newTestHub(t)
	ctx := context.Background()

	migrator := hub.Primary().Migrator
	version, err := migrator.CurrentVersion(ctx)
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != migrator.LatestVersion() {
		t.Errorf("expected version %d, got %d", migrator.LatestVersion(), version)
	}

	needs, err := migrator.NeedsMigration(ctx)
	if err != nil {
		t.Fatalf("NeedsMigration failed: %v", err)
	}
	if needs {
		t.Error("expected no pending migrations")
	}

	// Re-running is a no-op.
	if err := hub.Migrate(ctx, "", 0); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	for _, table := range []string{"chats", "chat_settings", "users", "chat_admins", "messages", "documents", "summaries"} {
		var name string
		err := hub.DB().QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestHub_AutoMigrateDisabled(t *testing.T) {
	tmpDir := t.TempDir()
	no := false
	config := HubConfig{
		Backend:     BackendSQLite,
		SQLite:      SQLiteConfig{Path: filepath.Join(tmpDir, "test.db")},
		AutoMigrate: &no,
	}

	hub, err := NewHub(context.Background(), config, nil)
	if err != nil {
		t.Fatalf("NewHub failed: %v", err)
	}
	defer hub.Close()

	needs, err := hub.Primary().Migrator.NeedsMigration(context.Background())
	if err != nil {
		t.Fatalf("NeedsMigration failed: %v", err)
	}
	if !needs {
		t.Error("expected pending migrations when auto_migrate is off")
	}
}

func TestHub_GetBackend(t *testing.T) {
	hub := newTestHub(t)

	backend, err := hub.GetBackend("")
	if err != nil {
		t.Fatalf("GetBackend failed: %v", err)
	}
	if backend.Name != "primary" {
		t.Errorf("expected primary, got %q", backend.Name)
	}

	if _, err := hub.GetBackend("nonexistent"); err == nil {
		t.Fatal("expected error for non-existent backend")
	}
}

func TestHub_Status(t *testing.T) {
	hub := newTestHub(t)

	status := hub.Status(context.Background())
	primary, ok := status["primary"]
	if !ok {
		t.Fatal("primary backend status not found")
	}
	if !primary.Healthy {
		t.Errorf("expected healthy, got error %q", primary.Error)
	}
	if primary.Version == "" || primary.Version == "unknown" {
		t.Errorf("expected sqlite version, got %q", primary.Version)
	}
	if err := hub.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestHub_UnsupportedBackend(t *testing.T) {
	_, err := NewHub(context.Background(), HubConfig{Backend: "oracle"}, nil)
	if err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

func TestBackendType_Rebind(t *testing.T) {
	tests := []struct {
		backend BackendType
		in      string
		want    string
	}{
		{BackendSQLite, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{BackendMySQL, "UPDATE t SET a = ?", "UPDATE t SET a = ?"},
		{BackendPostgreSQL, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{BackendPostgreSQL, "SELECT 1", "SELECT 1"},
	}

	for _, tt := range tests {
		if got := tt.backend.Rebind(tt.in); got != tt.want {
			t.Errorf("%s.Rebind(%q) = %q, want %q", tt.backend, tt.in, got, tt.want)
		}
	}
}
