package router

// CostOptimizationConfig enables task-class based model selection.
type CostOptimizationConfig struct {
	Enabled        bool
	CheapModel     string
	ExpensiveModel string
	CheapFor       []string
	ExpensiveFor   []string
}

// FallbackConfig controls the ordered fallback chain consulted on failure.
type FallbackConfig struct {
	Enabled   bool
	Providers []string
}

// TokenBudgetConfig caps request.max_tokens.
type TokenBudgetConfig struct {
	MaxTokensPerRequest int
}

// Config is the router's configuration record (spec §4.1).
type Config struct {
	DefaultProvider  string
	DefaultModel     string
	CostOptimization CostOptimizationConfig
	Fallback         FallbackConfig
	TokenBudget      TokenBudgetConfig
	MaxRetries       int
	RateLimit        RateLimiterConfig
}

// DefaultConfig returns spec-mandated defaults: 3 retries (4 attempts total
// per provider), 4096/32768 token ceiling.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		TokenBudget: TokenBudgetConfig{
			MaxTokensPerRequest: 32768,
		},
	}
}

// clampMaxTokens applies spec §4.1's budget formula:
// max_tokens = min(max_tokens or 4096, token_budget.max_tokens_per_request or 32768).
func (c Config) clampMaxTokens(requested int) int {
	if requested <= 0 {
		requested = 4096
	}
	ceiling := c.TokenBudget.MaxTokensPerRequest
	if ceiling <= 0 {
		ceiling = 32768
	}
	if requested > ceiling {
		return ceiling
	}
	return requested
}
