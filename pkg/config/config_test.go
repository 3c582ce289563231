package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadBuilderConfigDefaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := LoadBuilderConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.QueueName != "build-queue" {
		t.Fatalf("unexpected queue name %q", cfg.QueueName)
	}
	if cfg.OutputDir != "build" {
		t.Fatalf("unexpected output dir %q", cfg.OutputDir)
	}
	if cfg.Concurrency != 1 {
		t.Fatalf("expected concurrency 1, got %d", cfg.Concurrency)
	}
	if cfg.BuildTimeout != 10*time.Minute {
		t.Fatalf("unexpected build timeout %s", cfg.BuildTimeout)
	}
	if len(cfg.BuildEnv) != 1 || cfg.BuildEnv[0] != "NODE_OPTIONS=--openssl-legacy-provider" {
		t.Fatalf("unexpected build env %v", cfg.BuildEnv)
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("PROXY_DEFAULT_PROJECT=rich-round-computer\nPROXY_STRIP_PREFIXES=/calculator,/app\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ENV_FILE", path)
	t.Cleanup(func() {
		os.Unsetenv("PROXY_DEFAULT_PROJECT")
		os.Unsetenv("PROXY_STRIP_PREFIXES")
	})

	cfg, err := LoadProxyConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DefaultProject != "rich-round-computer" {
		t.Fatalf("unexpected default project %q", cfg.DefaultProject)
	}
	if len(cfg.StripPrefixes) != 2 || cfg.StripPrefixes[0] != "/calculator" {
		t.Fatalf("unexpected strip prefixes %v", cfg.StripPrefixes)
	}
}

func TestCommonLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for name, want := range cases {
		if got := (Common{LogLevel: name}).Level(); got != want {
			t.Fatalf("level %q: expected %v, got %v", name, want, got)
		}
	}
}
