package agent

// FinishReason normalizes the many provider-specific terminal conditions
// into a fixed set.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
)

// Usage carries token counts as reported by (or estimated for) a provider.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// CostBreakdown splits a Cost into its input/output contributions.
type CostBreakdown struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// Cost is the router-computed price of a completion, attached after a
// pricing-table lookup.
type Cost struct {
	CostUSD   float64       `json:"cost_usd"`
	Breakdown CostBreakdown `json:"breakdown"`
}

// LLMResponse is the unary result of a completion call.
type LLMResponse struct {
	Content      string       `json:"content"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	Usage        Usage        `json:"usage"`
	Model        string       `json:"model"`
	FinishReason FinishReason `json:"finish_reason"`
	Cost         *Cost        `json:"cost,omitempty"`
}

// RouterMeta describes which provider actually served a request, surfaced
// to the caller once the router has completed (§4.1).
type RouterMeta struct {
	ActiveProvider         string `json:"active_provider"`
	OriginalFailedProvider string `json:"original_failed_provider,omitempty"`
	IsFallback             bool   `json:"is_fallback"`
}
