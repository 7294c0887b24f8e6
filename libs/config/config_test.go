package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testConfig struct {
	Relay struct {
		BaseURL string        `yaml:"baseUrl" env:"TEST_RELAY_URL"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"relay"`
	Debounce time.Duration `yaml:"debounce"`
	Retries  int           `yaml:"retries"`
}

func TestLoadFromFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("relay:\n  baseUrl: http://file.example\nretries: 3\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TEST_RELAY_URL", "http://env.example")
	t.Setenv("RELAY_TIMEOUT", "5s")
	t.Setenv("DEBOUNCE", "800ms")

	var cfg testConfig
	if err := Load(&cfg); err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Relay.BaseURL != "http://env.example" {
		t.Fatalf("expected env override, got %q", cfg.Relay.BaseURL)
	}
	if cfg.Relay.Timeout != 5*time.Second {
		t.Fatalf("expected 5s from env, got %s", cfg.Relay.Timeout)
	}
	if cfg.Debounce != 800*time.Millisecond {
		t.Fatalf("expected 800ms from env, got %s", cfg.Debounce)
	}
	if cfg.Retries != 3 {
		t.Fatalf("expected retries 3, got %d", cfg.Retries)
	}
}

func TestLoadRejectsNonPointer(t *testing.T) {
	if err := Load(testConfig{}); err == nil {
		t.Fatal("expected error for non-pointer target")
	}
	if err := Load(nil); err == nil {
		t.Fatal("expected error for nil target")
	}
}
