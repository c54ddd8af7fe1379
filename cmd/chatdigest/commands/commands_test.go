package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootRegistersCommands(t *testing.T) {
	root := NewRootCmd("test")
	for _, name := range []string{"serve", "worker", "digest", "migrate", "status", "setup", "config"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered: %v", name, err)
		}
	}
}

func TestWorkerRejectsUnknownMode(t *testing.T) {
	_, err := execute(t, "worker", "everything")
	if err == nil || !strings.Contains(err.Error(), "unknown worker mode") {
		t.Fatalf("expected unknown mode error, got %v", err)
	}
}

func TestConfigShowMasksSecrets(t *testing.T) {
	keyring.MockInit()
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "llm:\n  api_key: sk-secret\n  model: gpt-4o-mini\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	out, err := execute(t, "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if strings.Contains(out, "sk-secret") {
		t.Fatal("secret printed")
	}
	if !strings.Contains(out, "gpt-4o-mini") || !strings.Contains(out, "********") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := execute(t, "config", "init", "--config", path); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if _, err := execute(t, "config", "init", "--config", path); err == nil {
		t.Fatal("expected error when file exists")
	}
}

func TestMigrateAndStatus(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := "database:\n  sqlite:\n    path: app.db\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	out, err := execute(t, "migrate", "--config", path)
	if err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if !strings.Contains(out, "migrated from version 0") {
		t.Errorf("migrate output = %q", out)
	}
	out, err = execute(t, "migrate", "--config", path)
	if err != nil || !strings.Contains(out, "up to date") {
		t.Errorf("second migrate = %q, %v", out, err)
	}

	out, err = execute(t, "status", "--config", path)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	for _, want := range []string{"chats", "documents not_started"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}
