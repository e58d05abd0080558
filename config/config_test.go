package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retrieval.DefaultLimit != 10 || cfg.Retrieval.MaxLimit != 50 {
		t.Fatalf("unexpected retrieval limits: %+v", cfg.Retrieval)
	}
	if cfg.Retrieval.OverfetchFactor != 3 || cfg.Retrieval.OverfetchMin != 10 {
		t.Fatalf("unexpected overfetch policy: %+v", cfg.Retrieval)
	}
	if cfg.Session.IdleTimeout != 30*time.Minute {
		t.Fatalf("expected 30m idle timeout, got %s", cfg.Session.IdleTimeout)
	}
	if cfg.Index.SQLitePath != filepath.Join("data", "index.db") {
		t.Fatalf("expected sqlite path derived from data dir, got %q", cfg.Index.SQLitePath)
	}
	if cfg.Articles.DataDir != "data" {
		t.Fatalf("expected articles data dir to default to general.data_dir, got %q", cfg.Articles.DataDir)
	}
	if cfg.Chat.Instructions != DefaultChatInstructions {
		t.Fatalf("expected default chat instructions")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `{
		"general": {"data_dir": "/srv/news"},
		"retrieval": {"default_limit": 5, "max_limit": 20},
		"session": {"idle_timeout": "10m", "store": "redis"},
		"chat": {"limit": 100}
	}`)
	t.Setenv("NEWSRAG_CONTEXT_TOKEN_BUDGET", "1200")
	t.Setenv("NEWSRAG_STORAGE_REDIS_HOST", "cache.internal")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retrieval.DefaultLimit != 5 {
		t.Fatalf("expected file value, got %d", cfg.Retrieval.DefaultLimit)
	}
	if cfg.Session.IdleTimeout != 10*time.Minute {
		t.Fatalf("expected 10m, got %s", cfg.Session.IdleTimeout)
	}
	if cfg.Context.TokenBudget != 1200 {
		t.Fatalf("expected env override, got %d", cfg.Context.TokenBudget)
	}
	if cfg.Storage.Redis.Addr() != "cache.internal:6379" {
		t.Fatalf("unexpected redis addr %q", cfg.Storage.Redis.Addr())
	}
	if cfg.Chat.Limit != 20 {
		t.Fatalf("expected chat limit clamped to max_limit, got %d", cfg.Chat.Limit)
	}
	if cfg.Index.SQLitePath != filepath.Join("/srv/news", "index.db") {
		t.Fatalf("unexpected sqlite path %q", cfg.Index.SQLitePath)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"limit above max":       `{"retrieval": {"default_limit": 60, "max_limit": 50}}`,
		"unknown store":         `{"session": {"store": "memcached"}}`,
		"provider without key":  `{"embedding": {"type": "provider"}}`,
		"kafka without brokers": `{"feed": {"kafka": {"enabled": true}}}`,
		"bad persist":           `{"index": {"persist": "s3"}}`,
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestLoadConfigPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	LoadConfig(writeConfig(t, `{"session": {"store": "nope"}}`))
}
