package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8000" {
		t.Errorf("server addr = %q, want :8000", cfg.Server.Addr)
	}
	if cfg.Worker.PollInterval != 2*time.Second {
		t.Errorf("poll interval = %s, want 2s", cfg.Worker.PollInterval)
	}
	if cfg.Worker.StaleAfter != 10*time.Minute {
		t.Errorf("stale after = %s, want 10m", cfg.Worker.StaleAfter)
	}
	if cfg.Vector.Collection != "files" {
		t.Errorf("collection = %q, want files", cfg.Vector.Collection)
	}
	if cfg.LLM.DescriptionModel != "gemini-2.5-flash" {
		t.Errorf("description model = %q", cfg.LLM.DescriptionModel)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "astra.yaml")
	data := []byte("server:\n  addr: \":9000\"\nworker:\n  stale_after: 5m\nvector:\n  fallback_cache: 16\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("server addr = %q, want :9000", cfg.Server.Addr)
	}
	if cfg.Worker.StaleAfter != 5*time.Minute {
		t.Errorf("stale after = %s, want 5m", cfg.Worker.StaleAfter)
	}
	if cfg.Vector.FallbackCache != 16 {
		t.Errorf("fallback cache = %d, want 16", cfg.Vector.FallbackCache)
	}
	// Unset keys fall back to defaults.
	if cfg.Database.Path != "astra.db" {
		t.Errorf("database path = %q, want astra.db", cfg.Database.Path)
	}
}

func TestLoad_MissingFileIsNotFatal(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing config file should not be fatal: %v", err)
	}
	if cfg.Server.Addr != ":8000" {
		t.Errorf("server addr = %q, want default", cfg.Server.Addr)
	}
}

func TestValidate_Warnings(t *testing.T) {
	cfg := &Config{}
	cfg.Worker.StaleAfter = 5 * time.Second
	cfg.Vector.FallbackCache = -1

	warnings := cfg.Validate()
	if len(warnings) < 3 {
		t.Errorf("got %d warnings, want at least 3: %v", len(warnings), warnings)
	}
}
