package router

import "testing"

func TestResolveAlias(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"sonnet", "claude-sonnet-4-20250514"},
		{"SONNET", "claude-sonnet-4-20250514"},
		{"gpt4o", "gpt-4o"},
		{"claude-sonnet-4-20250514", "claude-sonnet-4-20250514"},
		{"unknown-model", "unknown-model"},
	}
	for _, tt := range tests {
		if got := ResolveAlias(tt.in); got != tt.want {
			t.Errorf("ResolveAlias(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveAlias_Idempotent(t *testing.T) {
	for alias := range aliasTable {
		once := ResolveAlias(alias)
		twice := ResolveAlias(once)
		if once != twice {
			t.Errorf("ResolveAlias not idempotent for %q: %q != %q", alias, once, twice)
		}
	}
}

func TestDetectProvider_ExplicitPrefix(t *testing.T) {
	registered := map[string]bool{"anthropic": true, "openai": true}
	provider, preserve, ok := DetectProvider("anthropic/claude-sonnet-4-20250514", registered)
	if !ok || provider != "anthropic" || preserve {
		t.Errorf("got (%q, %v, %v), want (anthropic, false, true)", provider, preserve, ok)
	}
}

func TestDetectProvider_OpenRouterPreservesPrefix(t *testing.T) {
	registered := map[string]bool{"openrouter": true}
	provider, preserve, ok := DetectProvider("openrouter/meta-llama/llama-3", registered)
	if !ok || provider != "openrouter" || !preserve {
		t.Errorf("got (%q, %v, %v), want (openrouter, true, true)", provider, preserve, ok)
	}
}

func TestDetectProvider_UnknownPrefixFallsBackToAggregator(t *testing.T) {
	registered := map[string]bool{"openrouter": true}
	provider, preserve, ok := DetectProvider("some-vendor/weird-model", registered)
	if !ok || provider != "openrouter" || !preserve {
		t.Errorf("got (%q, %v, %v), want (openrouter, true, true)", provider, preserve, ok)
	}
}

func TestDetectProvider_PatternCascade(t *testing.T) {
	tests := []struct {
		model    string
		provider string
	}{
		{"claude-haiku-4-20250514", "anthropic"},
		{"gpt-4o", "openai"},
		{"gemini-1.5-pro", "google"},
		{"llama3.1", "ollama"},
		{"mistral-large", "ollama"},
		{"deepseek-coder", "deepseek"},
	}
	registered := map[string]bool{"anthropic": true, "openai": true, "google": true, "ollama": true, "deepseek": true}
	for _, tt := range tests {
		provider, _, ok := DetectProvider(tt.model, registered)
		if !ok || provider != tt.provider {
			t.Errorf("DetectProvider(%q) = (%q, %v), want (%q, true)", tt.model, provider, ok, tt.provider)
		}
	}
}

func TestDetectProvider_NotRegistered(t *testing.T) {
	_, _, ok := DetectProvider("claude-sonnet-4-20250514", map[string]bool{"openai": true})
	if ok {
		t.Error("expected detection to fail when the matching provider is not registered")
	}
}

func TestStripPrefix(t *testing.T) {
	if got := StripPrefix("anthropic/claude-sonnet-4-20250514", false); got != "claude-sonnet-4-20250514" {
		t.Errorf("got %q", got)
	}
	if got := StripPrefix("openrouter/meta-llama/llama-3", true); got != "openrouter/meta-llama/llama-3" {
		t.Errorf("expected preserved prefix unchanged, got %q", got)
	}
	if got := StripPrefix("gpt-4o", false); got != "gpt-4o" {
		t.Errorf("expected unprefixed model unchanged, got %q", got)
	}
}
