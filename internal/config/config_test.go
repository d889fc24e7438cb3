package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nimbus.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
unknown_top_level_key: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadValidatesDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: openai
  providers:
    anthropic: {}
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "default_provider") {
		t.Fatalf("expected default_provider error, got %v", err)
	}
}

func TestLoadValidatesFallbackChain(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  fallback_chain: ["google"]
  providers:
    anthropic: {}
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "fallback_chain") {
		t.Fatalf("expected fallback_chain error, got %v", err)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  fallback_chain: ["google"]
  providers:
    anthropic: {}
    google: {}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.HooksPath != filepath.Join(".nimbus", "hooks.yaml") {
		t.Fatalf("HooksPath = %q, want default", cfg.HooksPath)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("Logging defaults = %+v", cfg.Logging)
	}
	if cfg.LLM.Bedrock.Region != "us-east-1" {
		t.Fatalf("Bedrock.Region = %q, want us-east-1 default", cfg.LLM.Bedrock.Region)
	}
}

func TestLoadHonorsExplicitHooksAndUsagePaths(t *testing.T) {
	path := writeConfig(t, `
hooks_path: custom/hooks.yaml
usage_db: custom/usage.db
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HooksPath != "custom/hooks.yaml" {
		t.Fatalf("HooksPath = %q, want custom/hooks.yaml", cfg.HooksPath)
	}
	if cfg.UsageDB != "custom/usage.db" {
		t.Fatalf("UsageDB = %q, want custom/usage.db", cfg.UsageDB)
	}
}

func TestLoadAppliesProviderAPIKeyEnvOverride(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	path := writeConfig(t, `
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Providers["anthropic"].APIKey != "env-key" {
		t.Fatalf("APIKey = %q, want env override", cfg.LLM.Providers["anthropic"].APIKey)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
