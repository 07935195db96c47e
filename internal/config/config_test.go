package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.ClonerDelaySeconds != 2 {
		t.Errorf("expected delay 2, got %d", cfg.ClonerDelaySeconds)
	}
	if cfg.Mode != "zip" {
		t.Errorf("expected zip, got %s", cfg.Mode)
	}
	if cfg.MaxPath != 200 {
		t.Errorf("expected 200, got %d", cfg.MaxPath)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	if err := os.WriteFile(path, []byte(`
telegram_api_hash = "abc123"
cloner_delay_seconds = 5
`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TelegramAPIHash != "abc123" {
		t.Errorf("expected abc123, got %s", cfg.TelegramAPIHash)
	}
	if cfg.ClonerDelaySeconds != 5 {
		t.Errorf("expected 5, got %d", cfg.ClonerDelaySeconds)
	}
	// Defaults preserved for keys not in the file.
	if cfg.Mode != "zip" {
		t.Errorf("default should be preserved, got %s", cfg.Mode)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("TELEGRAM_API_HASH", "env-hash")
	t.Setenv("CLONER_DELAY_SECONDS", "9")

	cfg, err := Load("/nonexistent/path.toml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TelegramAPIHash != "env-hash" {
		t.Errorf("expected env-hash, got %s", cfg.TelegramAPIHash)
	}
	if cfg.ClonerDelaySeconds != 9 {
		t.Errorf("expected 9, got %d", cfg.ClonerDelaySeconds)
	}
}

func TestMocChatIDFallback(t *testing.T) {
	cfg := Default()
	cfg.ChatID = 12345
	applyFallbacks(&cfg)
	if cfg.MocChatID != 12345 {
		t.Errorf("expected moc_chat_id to fall back to chat_id, got %d", cfg.MocChatID)
	}
}

func TestVideoExtensionsEnvOverride(t *testing.T) {
	t.Setenv("VIDEO_EXTENSIONS", ".mp4,.mov")
	cfg, err := Load("/nonexistent/path.toml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.VideoExtensions) != 2 || cfg.VideoExtensions[0] != ".mp4" {
		t.Errorf("unexpected video extensions: %v", cfg.VideoExtensions)
	}
}
