package agent

import (
	"context"
	"strings"
)

// Model describes an available model and its capabilities, backing
// Provider.Models and Router.AvailableModels.
type Model struct {
	ID              string `json:"id"`
	Provider        string `json:"provider"`
	ContextWindow   int    `json:"context_window"`
	MaxOutputTokens int    `json:"max_output_tokens"`
	SupportsTools   bool   `json:"supports_tools"`
	SupportsVision  bool   `json:"supports_vision"`
}

// Provider is the uniform contract every per-vendor adapter satisfies. An
// adapter is constructed with credentials obtained from the credential
// resolver (internal/credentials) and an optional base URL override; it
// owns no router-level concerns (retry, failover, cost) — those live in
// internal/agent/router and are layered on top.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *CompletionRequest) (*LLMResponse, error)
	Stream(ctx context.Context, req *CompletionRequest) (<-chan *StreamChunk, error)
	CompleteWithTools(ctx context.Context, req *ToolCompletionRequest) (*LLMResponse, error)
	CountTokens(text string) int
	MaxTokensForModel(model string) int
	Models() []Model
	SupportsTools() bool
}

// StreamingToolProvider is the optional capability a Provider may also
// satisfy: streaming completion with tool definitions in play.
type StreamingToolProvider interface {
	Provider
	StreamWithTools(ctx context.Context, req *ToolCompletionRequest) (<-chan *StreamChunk, error)
}

// normalizeFinishReason collapses a provider-reported finish reason into
// the fixed set {stop, length, tool_calls, content_filter}, matching
// case-insensitively since providers spell these inconsistently (Google's
// "STOP"/"RECITATION" vs. Anthropic's "end_turn").
func normalizeFinishReason(raw string) FinishReason {
	switch strings.ToLower(raw) {
	case "end_turn", "stop", "complete":
		return FinishStop
	case "max_tokens", "length":
		return FinishLength
	case "tool_use", "function_call", "tool_calls":
		return FinishToolCalls
	case "safety", "content_filtered", "content_filter", "recitation":
		return FinishContentFilter
	default:
		return FinishStop
	}
}

// NormalizeFinishReason is the exported form of normalizeFinishReason, used
// by adapters outside this package (internal/agent/providers).
func NormalizeFinishReason(raw string) FinishReason { return normalizeFinishReason(raw) }
