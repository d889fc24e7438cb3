package agent

// ResponseFormat constrains how a provider renders its final text.
type ResponseFormat string

const (
	ResponseFormatText = ResponseFormat("text")
	ResponseFormatJSON = ResponseFormat("json_object")
)

// CompletionRequest is a logical, provider-agnostic chat completion
// request. Model may be empty (provider default applies), an alias (see
// router.ResolveAlias), or a "provider/model" prefixed identifier.
type CompletionRequest struct {
	Model          string         `json:"model,omitempty"`
	Messages       []Message      `json:"messages"`
	Temperature    *float64       `json:"temperature,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	StopSequences  []string       `json:"stop_sequences,omitempty"`
	ResponseFormat ResponseFormat `json:"response_format,omitempty"`
}

// ToolCompletionRequest is a CompletionRequest plus tool definitions. Tools
// must be non-empty; callers that want a plain completion should use
// CompletionRequest instead.
type ToolCompletionRequest struct {
	CompletionRequest
	Tools      []ToolDefinition `json:"tools"`
	ToolChoice ToolChoice       `json:"tool_choice,omitempty"`
}
