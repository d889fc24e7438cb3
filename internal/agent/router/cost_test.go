package router

import (
	"testing"

	"github.com/the-ai-project-co/nimbus-sub005/internal/agent"
)

func TestPricingTable_Compute(t *testing.T) {
	table := DefaultPricingTable()

	t.Run("known model", func(t *testing.T) {
		cost := table.Compute(nil, "anthropic", "claude-sonnet-4-20250514", agent.Usage{
			PromptTokens:     1000,
			CompletionTokens: 1000,
		})
		want := 0.003 + 0.015
		if cost.CostUSD != want {
			t.Errorf("got %v, want %v", cost.CostUSD, want)
		}
	})

	t.Run("ollama is always free", func(t *testing.T) {
		cost := table.Compute(nil, "ollama", "llama3.1", agent.Usage{PromptTokens: 100000, CompletionTokens: 100000})
		if cost.CostUSD != 0 {
			t.Errorf("expected zero cost for ollama, got %v", cost.CostUSD)
		}
	})

	t.Run("unknown provider yields zero cost, not an error", func(t *testing.T) {
		cost := table.Compute(nil, "mystery", "mystery-model", agent.Usage{PromptTokens: 500})
		if cost.CostUSD != 0 {
			t.Errorf("expected zero cost for unknown provider, got %v", cost.CostUSD)
		}
	})

	t.Run("unknown model under a known provider yields zero cost", func(t *testing.T) {
		cost := table.Compute(nil, "anthropic", "claude-nonexistent", agent.Usage{PromptTokens: 500})
		if cost.CostUSD != 0 {
			t.Errorf("expected zero cost for unknown model, got %v", cost.CostUSD)
		}
	})
}

func TestEstimateUsage(t *testing.T) {
	u := EstimateUsage([]string{"abcd", "efgh"}, "abcdefgh")
	if u.PromptTokens != 2 {
		t.Errorf("expected 2 prompt tokens (4 chars / 4 each), got %d", u.PromptTokens)
	}
	if u.CompletionTokens != 2 {
		t.Errorf("expected 2 completion tokens, got %d", u.CompletionTokens)
	}
	if u.TotalTokens != u.PromptTokens+u.CompletionTokens {
		t.Errorf("total should be the sum, got %d", u.TotalTokens)
	}
}
