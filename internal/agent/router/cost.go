package router

import (
	"log/slog"
	"math"

	"github.com/the-ai-project-co/nimbus-sub005/internal/agent"
)

// PricePerK is a provider/model pricing table entry, USD per 1000 tokens.
type PricePerK struct {
	Input  float64
	Output float64
}

// PricingTable is a static provider -> model -> price lookup. Grounded on
// internal/usage/usage.go's Cost struct; renamed to per-1K fields to match
// the spec's accounting formula directly.
type PricingTable map[string]map[string]PricePerK

// DefaultPricingTable seeds a handful of well-known models; callers may
// extend or replace the returned map before passing it to New. No config key
// populates it.
func DefaultPricingTable() PricingTable {
	return PricingTable{
		"anthropic": {
			"claude-sonnet-4-20250514": {Input: 0.003, Output: 0.015},
			"claude-opus-4-20250514":   {Input: 0.015, Output: 0.075},
			"claude-haiku-4-20250514":  {Input: 0.0008, Output: 0.004},
		},
		"openai": {
			"gpt-4o":      {Input: 0.0025, Output: 0.01},
			"gpt-4o-mini": {Input: 0.00015, Output: 0.0006},
			"gpt-4-turbo": {Input: 0.01, Output: 0.03},
		},
		"google": {
			"gemini-1.5-flash": {Input: 0.000075, Output: 0.0003},
			"gemini-1.5-pro":   {Input: 0.00125, Output: 0.005},
		},
	}
}

// Compute returns the Cost for (provider, model, usage). Ollama is forced
// to zero regardless of token counts. Unknown provider or model yields zero
// with a warn log, not an error — the response is still returned per spec
// invariant 7.
func (t PricingTable) Compute(logger *slog.Logger, provider, model string, usage agent.Usage) agent.Cost {
	if provider == "ollama" {
		return agent.Cost{}
	}
	models, ok := t[provider]
	if !ok {
		logf(logger, "cost: unknown provider, assuming zero cost", "provider", provider, "model", model)
		return agent.Cost{}
	}
	price, ok := models[model]
	if !ok {
		logf(logger, "cost: unknown model, assuming zero cost", "provider", provider, "model", model)
		return agent.Cost{}
	}
	input := float64(usage.PromptTokens) / 1000 * price.Input
	output := float64(usage.CompletionTokens) / 1000 * price.Output
	return agent.Cost{
		CostUSD:   input + output,
		Breakdown: agent.CostBreakdown{Input: input, Output: output},
	}
}

func logf(logger *slog.Logger, msg string, args ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn(msg, args...)
}

// EstimateUsage approximates token counts when a stream ended without a
// provider-reported usage block: ceil(len/4) per spec §4.1.
func EstimateUsage(promptTexts []string, completion string) agent.Usage {
	var prompt int64
	for _, t := range promptTexts {
		prompt += int64(math.Ceil(float64(len(t)) / 4))
	}
	output := int64(math.Ceil(float64(len(completion)) / 4))
	return agent.Usage{
		PromptTokens:     prompt,
		CompletionTokens: output,
		TotalTokens:      prompt + output,
	}
}
