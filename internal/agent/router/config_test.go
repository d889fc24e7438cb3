package router

import "testing"

func TestConfig_ClampMaxTokens(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		requested int
		want      int
	}{
		{"zero requested defaults to 4096", Config{}, 0, 4096},
		{"negative requested defaults to 4096", Config{}, -1, 4096},
		{"default ceiling of 32768 applies", Config{}, 100000, 32768},
		{"custom ceiling caps the request", Config{TokenBudget: TokenBudgetConfig{MaxTokensPerRequest: 8000}}, 100000, 8000},
		{"under the ceiling passes through", Config{TokenBudget: TokenBudgetConfig{MaxTokensPerRequest: 8000}}, 500, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.clampMaxTokens(tt.requested); got != tt.want {
				t.Errorf("clampMaxTokens(%d) = %d, want %d", tt.requested, got, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRetries != 3 {
		t.Errorf("expected MaxRetries 3, got %d", cfg.MaxRetries)
	}
	if cfg.TokenBudget.MaxTokensPerRequest != 32768 {
		t.Errorf("expected default ceiling 32768, got %d", cfg.TokenBudget.MaxTokensPerRequest)
	}
}
