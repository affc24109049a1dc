package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.HTTPAddress != ":8080" {
		t.Errorf("Expected http address :8080, got %s", cfg.Server.HTTPAddress)
	}
	if cfg.Room.TTL != 24*time.Hour {
		t.Errorf("Expected room ttl 24h, got %v", cfg.Room.TTL)
	}
	if cfg.Game.RecentActions != 20 {
		t.Errorf("Expected 20 recent actions, got %d", cfg.Game.RecentActions)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("server:\n  http_address: \":7000\"\nroom:\n  ttl: 2h\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MAHJONG_AUTH_JWT_SECRET", "s3cret")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.HTTPAddress != ":7000" {
		t.Errorf("Expected :7000 from file, got %s", cfg.Server.HTTPAddress)
	}
	if cfg.Room.TTL != 2*time.Hour {
		t.Errorf("Expected ttl 2h from file, got %v", cfg.Room.TTL)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("Expected secret from env, got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Room.ExpiryWarning != time.Hour {
		t.Errorf("Expected default warning 1h, got %v", cfg.Room.ExpiryWarning)
	}
}
