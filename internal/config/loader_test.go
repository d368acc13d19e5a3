package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("expected path %s, got %s", path, resolved)
	}
	if cfg.Addr != ":8080" || cfg.ResolveDebounce != 500*time.Millisecond || cfg.Subscription.MaxAttempts != 5 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected default config file: %v", err)
	}
	if !strings.Contains(string(data), "resolve_debounce: 500ms") {
		t.Fatalf("unexpected config file contents:\n%s", data)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "addr: \":7000\"\nstore_driver: memory\nsubscription:\n  max_attempts: 9\nassistant:\n  model: test-model\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ROOMCHAT_ADDR", ":9000")
	t.Setenv("ROOMCHAT_TOKEN_TTL", "2h")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("expected env to win, got %s", cfg.Addr)
	}
	if cfg.TokenTTL != 2*time.Hour {
		t.Fatalf("expected env token ttl, got %v", cfg.TokenTTL)
	}
	if cfg.StoreDriver != "memory" || cfg.Subscription.MaxAttempts != 9 || cfg.Assistant.Model != "test-model" {
		t.Fatalf("expected file values, got %+v", cfg)
	}
	if cfg.Subscription.InitialBackoff != 250*time.Millisecond {
		t.Fatalf("expected default for unset nested key, got %v", cfg.Subscription.InitialBackoff)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("store_driver: postgres\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, err := Load(nil, path); err == nil || !strings.Contains(err.Error(), "postgres") {
		t.Fatalf("expected store driver error, got %v", err)
	}
}

func TestUpdateFrom(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{Addr: ":1234", DatabasePath: "/tmp/x.db"})
	if cfg.Addr != ":1234" || cfg.DatabasePath != "/tmp/x.db" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected merge result %+v", cfg)
	}
}
