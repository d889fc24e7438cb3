package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/the-ai-project-co/nimbus-sub005/internal/agent"
)

// OpenAIConfig configures the shared OpenAI-compatible adapter. Multiple
// OpenAI-compatible hosts (OpenAI, OpenRouter, Groq, Together, DeepSeek,
// Fireworks, Perplexity, Mistral) share this one struct, parameterized by
// {Name, APIKey, BaseURL, DefaultModel, DefaultHeaders} per spec §4.2.
type OpenAIConfig struct {
	Name           string
	APIKey         string
	BaseURL        string
	DefaultModel   string
	DefaultHeaders map[string]string
	MaxRetries     int
	RetryDelay     time.Duration

	// PreservePrefix keeps a "vendor/model" prefix on the wire instead of
	// stripping it — only OpenRouter's aggregator wire protocol expects the
	// prefixed form (spec §4.1 alias resolution).
	PreservePrefix bool
}

// OpenAIProvider implements agent.Provider / agent.StreamingToolProvider
// over the OpenAI chat completions wire contract, shared by every
// OpenAI-compatible host. Grounded on haasonsaas-nexus's providers/openai.go
// (index-keyed tool-call delta accumulator) and providers/openrouter.go
// (custom BaseURL + prefix-preserving model id), via
// github.com/sashabaranov/go-openai.
type OpenAIProvider struct {
	BaseProvider
	client         *openai.Client
	name           string
	defaultModel   string
	preservePrefix bool
}

func newOpenAICompatible(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api key is required", cfg.Name)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if len(cfg.DefaultHeaders) > 0 {
		clientCfg.HTTPClient = &http.Client{
			Transport: headerRoundTripper{base: http.DefaultTransport, headers: cfg.DefaultHeaders},
		}
	}
	return &OpenAIProvider{
		BaseProvider:   NewBaseProvider(cfg.Name, cfg.MaxRetries, cfg.RetryDelay),
		client:         openai.NewClientWithConfig(clientCfg),
		name:           cfg.Name,
		defaultModel:   cfg.DefaultModel,
		preservePrefix: cfg.PreservePrefix,
	}, nil
}

// headerRoundTripper injects fixed headers (OpenRouter's X-Title/HTTP-Referer
// app-identification headers) on every outbound request.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (h headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	return h.base.RoundTrip(req)
}

// NewOpenAIProvider constructs the adapter for api.openai.com.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	cfg.Name = "openai"
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	return newOpenAICompatible(cfg)
}

// NewOpenAIProviderWithConfig is an alias of NewOpenAIProvider kept for
// callers that want to name the config explicitly.
func NewOpenAIProviderWithConfig(cfg OpenAIConfig) *OpenAIProvider {
	p, _ := NewOpenAIProvider(cfg)
	return p
}

// NewGroqProvider constructs the adapter for Groq's OpenAI-compatible host.
func NewGroqProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	cfg.Name = "groq"
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.groq.com/openai/v1"
	}
	return newOpenAICompatible(cfg)
}

// NewTogetherProvider constructs the adapter for Together AI.
func NewTogetherProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	cfg.Name = "together"
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.together.xyz/v1"
	}
	return newOpenAICompatible(cfg)
}

// NewDeepSeekProvider constructs the adapter for DeepSeek.
func NewDeepSeekProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	cfg.Name = "deepseek"
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepseek.com/v1"
	}
	return newOpenAICompatible(cfg)
}

// NewFireworksProvider constructs the adapter for Fireworks AI.
func NewFireworksProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	cfg.Name = "fireworks"
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.fireworks.ai/inference/v1"
	}
	return newOpenAICompatible(cfg)
}

// NewPerplexityProvider constructs the adapter for Perplexity.
func NewPerplexityProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	cfg.Name = "perplexity"
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.perplexity.ai"
	}
	return newOpenAICompatible(cfg)
}

// NewMistralProvider constructs the adapter for Mistral's chat-completions
// compatible endpoint.
func NewMistralProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	cfg.Name = "mistral"
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.mistral.ai/v1"
	}
	return newOpenAICompatible(cfg)
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gpt-4o", Provider: p.name, ContextWindow: 128000, MaxOutputTokens: 16384, SupportsTools: true, SupportsVision: true},
		{ID: "gpt-4-turbo", Provider: p.name, ContextWindow: 128000, MaxOutputTokens: 4096, SupportsTools: true, SupportsVision: true},
		{ID: "gpt-4o-mini", Provider: p.name, ContextWindow: 128000, MaxOutputTokens: 16384, SupportsTools: true, SupportsVision: true},
		{ID: "gpt-3.5-turbo", Provider: p.name, ContextWindow: 16385, MaxOutputTokens: 4096, SupportsTools: true},
	}
}

var openAIContextWindows = map[string]int{
	"gpt-4o":        128000,
	"gpt-4o-mini":   128000,
	"gpt-4-turbo":   128000,
	"gpt-4":         8192,
	"gpt-3.5-turbo": 16385,
}

func (p *OpenAIProvider) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

func (p *OpenAIProvider) MaxTokensForModel(model string) int {
	if n, ok := openAIContextWindows[model]; ok {
		return n
	}
	return 4096
}

func (p *OpenAIProvider) model(req *agent.CompletionRequest) string {
	m := req.Model
	if m == "" {
		m = p.defaultModel
	}
	if !p.preservePrefix {
		if idx := strings.IndexByte(m, '/'); idx >= 0 {
			m = m[idx+1:]
		}
	}
	return m
}

func (p *OpenAIProvider) convertMessages(messages []agent.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case agent.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.ExtractText()})
		case agent.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleTool, Content: msg.ExtractText(), ToolCallID: msg.ToolCallID,
			})
		case agent.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID: tc.ID, Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: string(tc.Arguments)},
				})
			}
			result = append(result, oaiMsg)
		default: // user
			if len(msg.Blocks) > 0 {
				var parts []openai.ChatMessagePart
				for _, b := range msg.Blocks {
					switch b.Type {
					case agent.BlockText:
						parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: b.Text})
					case agent.BlockImage:
						parts = append(parts, openai.ChatMessagePart{
							Type: openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{
								URL: fmt.Sprintf("data:%s;base64,%s", b.MediaType, b.Data),
							},
						})
					}
				}
				result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts})
			} else {
				result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
			}
		}
	}
	return result
}

func convertOpenAITools(tools []agent.ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name: t.Name, Description: t.Description, Parameters: schema,
			},
		}
	}
	return result
}

func convertOpenAIToolChoice(choice agent.ToolChoice) any {
	switch choice.Mode {
	case agent.ToolChoiceNone:
		return "none"
	case agent.ToolChoiceFunction:
		return openai.ToolChoice{Type: openai.ToolTypeFunction, Function: openai.ToolFunction{Name: choice.Function}}
	default:
		return nil
	}
}

func (p *OpenAIProvider) buildRequest(req *agent.CompletionRequest, tools []agent.ToolDefinition, choice agent.ToolChoice) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model(req),
		Messages: p.convertMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		chatReq.Stop = req.StopSequences
	}
	if req.ResponseFormat == agent.ResponseFormatJSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	if len(tools) > 0 {
		chatReq.Tools = convertOpenAITools(tools)
		if tc := convertOpenAIToolChoice(choice); tc != nil {
			chatReq.ToolChoice = tc
		}
	}
	return chatReq
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.LLMResponse, error) {
	return p.complete(ctx, req, nil, agent.ToolChoice{})
}

func (p *OpenAIProvider) CompleteWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (*agent.LLMResponse, error) {
	return p.complete(ctx, &req.CompletionRequest, req.Tools, req.ToolChoice)
}

func (p *OpenAIProvider) complete(ctx context.Context, req *agent.CompletionRequest, tools []agent.ToolDefinition, choice agent.ToolChoice) (*agent.LLMResponse, error) {
	chatReq := p.buildRequest(req, tools, choice)

	var resp openai.ChatCompletionResponse
	err := p.Retry(ctx, IsRetryable, func() error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, chatReq)
		if callErr != nil {
			callErr = NewProviderError(p.name, chatReq.Model, callErr)
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, NewProviderError(p.name, chatReq.Model, fmt.Errorf("empty choices in response"))
	}
	choice0 := resp.Choices[0]
	out := &agent.LLMResponse{
		Content:      choice0.Message.Content,
		Model:        resp.Model,
		FinishReason: agent.NormalizeFinishReason(string(choice0.FinishReason)),
		Usage: agent.Usage{
			PromptTokens:     int64(resp.Usage.PromptTokens),
			CompletionTokens: int64(resp.Usage.CompletionTokens),
			TotalTokens:      int64(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range choice0.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, agent.ToolCall{
			ID: tc.ID, Type: "function", Name: tc.Function.Name, Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = agent.FinishToolCalls
	}
	return out, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.StreamChunk, error) {
	return p.stream(ctx, req, nil, agent.ToolChoice{})
}

func (p *OpenAIProvider) StreamWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (<-chan *agent.StreamChunk, error) {
	return p.stream(ctx, &req.CompletionRequest, req.Tools, req.ToolChoice)
}

// streamToolCall accumulates one tool call's argument fragments, keyed by
// the provider-reported index (spec §4.2 tool-call streaming reassembly).
type streamToolCall struct {
	id   string
	name string
	args strings.Builder
}

func (p *OpenAIProvider) stream(ctx context.Context, req *agent.CompletionRequest, tools []agent.ToolDefinition, choice agent.ToolChoice) (<-chan *agent.StreamChunk, error) {
	chatReq := p.buildRequest(req, tools, choice)
	chatReq.Stream = true
	chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	var sdkStream *openai.ChatCompletionStream
	err := p.Retry(ctx, IsRetryable, func() error {
		var callErr error
		sdkStream, callErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if callErr != nil {
			callErr = NewProviderError(p.name, chatReq.Model, callErr)
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}

	out := make(chan *agent.StreamChunk)
	go func() {
		defer close(out)
		defer sdkStream.Close()

		calls := make(map[int]*streamToolCall)
		var order []int
		var usage *agent.Usage
		finish := agent.FinishStop
		haveFinish := false

		for {
			resp, err := sdkStream.Recv()
			if err != nil {
				if err == io.EOF {
					break
				}
				out <- &agent.StreamChunk{Err: fmt.Errorf("%s: stream error: %w", p.name, err)}
				return
			}
			if resp.Usage != nil {
				usage = &agent.Usage{
					PromptTokens:     int64(resp.Usage.PromptTokens),
					CompletionTokens: int64(resp.Usage.CompletionTokens),
					TotalTokens:      int64(resp.Usage.TotalTokens),
				}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if delta.Content != "" {
				out <- &agent.StreamChunk{Content: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				entry, ok := calls[idx]
				if !ok {
					entry = &streamToolCall{}
					calls[idx] = entry
					order = append(order, idx)
				}
				if tc.ID != "" {
					entry.id = tc.ID
				}
				if tc.Function.Name != "" {
					entry.name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					entry.args.WriteString(tc.Function.Arguments)
				}
			}
			if resp.Choices[0].FinishReason != "" {
				finish = agent.NormalizeFinishReason(string(resp.Choices[0].FinishReason))
				haveFinish = true
			}
		}

		var toolCalls []agent.ToolCall
		for _, idx := range order {
			c := calls[idx]
			toolCalls = append(toolCalls, agent.ToolCall{
				ID: c.id, Type: "function", Name: c.name, Arguments: json.RawMessage(c.args.String()),
			})
		}
		if !haveFinish && len(toolCalls) > 0 {
			finish = agent.FinishToolCalls
		}
		out <- &agent.StreamChunk{Done: true, ToolCalls: toolCalls, FinishReason: finish, Usage: usage}
	}()
	return out, nil
}

var _ agent.Provider = (*OpenAIProvider)(nil)
var _ agent.StreamingToolProvider = (*OpenAIProvider)(nil)
