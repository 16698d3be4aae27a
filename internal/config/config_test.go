package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "curator.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  address: \"\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Address != ":3001" {
		t.Fatalf("expected default address, got %q", cfg.Server.Address)
	}
	if len(cfg.Curator.Feeds) == 0 {
		t.Fatal("expected default feed list")
	}
	if cfg.Curator.Interval() != 240*time.Minute {
		t.Fatalf("expected 240m interval, got %s", cfg.Curator.Interval())
	}
	if cfg.Curator.MaxAge() != 8*time.Hour {
		t.Fatalf("expected 8h max age, got %s", cfg.Curator.MaxAge())
	}
	if cfg.Curator.HistorySize != 200 {
		t.Fatalf("expected history 200, got %d", cfg.Curator.HistorySize)
	}
	if cfg.Payment.MinEth != "0.001" {
		t.Fatalf("expected default min_eth, got %q", cfg.Payment.MinEth)
	}
	if cfg.Payment.BetaMaxUses != 15 {
		t.Fatalf("expected beta cap 15, got %d", cfg.Payment.BetaMaxUses)
	}
	if cfg.Delivery.Driver != "memory" || cfg.Payment.Store.Driver != "memory" {
		t.Fatal("expected memory drivers by default")
	}
}

func TestLoadResolvesMemoryFileRelativeToConfig(t *testing.T) {
	path := writeConfig(t, "curator:\n  memory_file: \"data/memory.json\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := filepath.Join(filepath.Dir(path), "data", "memory.json")
	if cfg.Curator.MemoryFile != want {
		t.Fatalf("expected %q, got %q", want, cfg.Curator.MemoryFile)
	}
}

func TestLoadResolvesSecretsFromEnv(t *testing.T) {
	t.Setenv("TEST_CURATOR_TOKEN", "tok-123")
	t.Setenv("TEST_CURATOR_API_KEY", "sk-test")
	t.Setenv("TEST_CURATOR_BETA", "EARLYBIRD")

	path := writeConfig(t, `
server:
  legacy_token_env: "TEST_CURATOR_TOKEN"
llm:
  openrouter:
    api_key_env: "TEST_CURATOR_API_KEY"
payment:
  beta_code_env: "TEST_CURATOR_BETA"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.LegacyToken != "tok-123" {
		t.Fatalf("expected legacy token from env, got %q", cfg.Server.LegacyToken)
	}
	if cfg.LLM.OpenRouter.APIKey != "sk-test" {
		t.Fatalf("expected api key from env, got %q", cfg.LLM.OpenRouter.APIKey)
	}
	if cfg.Payment.BetaCode != "EARLYBIRD" {
		t.Fatalf("expected beta code from env, got %q", cfg.Payment.BetaCode)
	}
}

func TestLoadExplicitValueWinsOverEnv(t *testing.T) {
	t.Setenv("TEST_CURATOR_TOKEN", "from-env")

	path := writeConfig(t, `
server:
  legacy_token: "from-file"
  legacy_token_env: "TEST_CURATOR_TOKEN"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.LegacyToken != "from-file" {
		t.Fatalf("expected file value to win, got %q", cfg.Server.LegacyToken)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}
