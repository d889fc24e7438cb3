// Package providers implements the per-vendor Provider adapters: the
// translation layer between the neutral internal/agent message/response
// model and each vendor's wire protocol.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/the-ai-project-co/nimbus-sub005/internal/agent"
)

// anthropicModelContextWindows is the static per-model table backing
// MaxTokensForModel (spec §4.2), with a 4096 fallback for unknown models.
var anthropicModelContextWindows = map[string]int{
	"claude-opus-4-20250514":       32000,
	"claude-sonnet-4-20250514":     64000,
	"claude-3-7-sonnet-20250219":   64000,
	"claude-3-5-sonnet-20241022":   8192,
	"claude-3-5-haiku-20241022":    8192,
	"claude-3-opus-20240229":       4096,
	"claude-3-haiku-20240307":      4096,
}

// AnthropicConfig configures an AnthropicProvider. Credentials are expected
// to come from the credential resolver (internal/credentials); this struct
// only pins the provider's own knobs.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// AnthropicProvider implements agent.Provider and agent.StreamingToolProvider
// over the Anthropic Messages API, via the typed anthropic-sdk-go client.
// Grounded on haasonsaas-nexus's providers/anthropic.go SSE event handling
// (message_start/content_block_start/content_block_delta/message_delta/
// message_stop), trimmed of its computer-use beta path, which belongs to
// the conversational agent-loop harness this module does not implement.
type AnthropicProvider struct {
	BaseProvider
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider constructs an AnthropicProvider from resolved
// credentials and provider-specific tuning.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicProvider{
		BaseProvider: NewBaseProvider("anthropic", cfg.MaxRetries, cfg.RetryDelay),
		client:       anthropic.NewClient(opts...),
		defaultModel: model,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SupportsTools() bool { return true }

func (p *AnthropicProvider) Models() []agent.Model {
	models := make([]agent.Model, 0, len(anthropicModelContextWindows))
	for id, ctx := range anthropicModelContextWindows {
		models = append(models, agent.Model{
			ID: id, Provider: "anthropic", ContextWindow: 200000, MaxOutputTokens: ctx,
			SupportsTools: true, SupportsVision: true,
		})
	}
	return models
}

func (p *AnthropicProvider) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

func (p *AnthropicProvider) MaxTokensForModel(model string) int {
	if n, ok := anthropicModelContextWindows[model]; ok {
		return n
	}
	return 4096
}

func (p *AnthropicProvider) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

// extractSystem pulls system messages out of the turn sequence per spec
// §4.2, joining multiple system messages with blank lines.
func extractSystem(messages []agent.Message) (string, []agent.Message) {
	var system []string
	rest := make([]agent.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == agent.RoleSystem {
			system = append(system, m.ExtractText())
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

func (p *AnthropicProvider) convertMessages(messages []agent.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion

		if msg.Role == agent.RoleTool {
			blocks = append(blocks, anthropic.NewToolResultBlock(msg.ToolCallID, msg.ExtractText(), false))
			result = append(result, anthropic.NewUserMessage(blocks...))
			continue
		}

		if len(msg.Blocks) > 0 {
			for _, b := range msg.Blocks {
				switch b.Type {
				case agent.BlockText:
					if b.Text != "" {
						blocks = append(blocks, anthropic.NewTextBlock(b.Text))
					}
				case agent.BlockImage:
					blocks = append(blocks, anthropic.NewImageBlockBase64(string(b.MediaType), b.Data))
				}
			}
		} else if msg.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
		}

		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(tc.Arguments, &input); err != nil {
				input = map[string]any{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}

		if msg.Role == agent.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		} else {
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}
	return result, nil
}

func (p *AnthropicProvider) convertTools(tools []agent.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid tool schema for %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(t.Description)
		}
		result = append(result, param)
	}
	return result, nil
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest, tools []agent.ToolDefinition, choice agent.ToolChoice) (anthropic.MessageNewParams, error) {
	system, turn := extractSystem(req.Messages)
	messages, err := p.convertMessages(turn)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  messages,
		MaxTokens: int64(req.MaxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(req.StopSequences) > 0 {
		params.StopSequences = req.StopSequences
	}
	if len(tools) > 0 {
		converted, err := p.convertTools(tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = converted
		// tool_choice = none is expressed by omitting the parameter entirely
		// while still sending tools (spec §9 open question resolution) —
		// any other mode is left to the SDK's auto default.
		if choice.Mode == agent.ToolChoiceFunction && choice.Function != "" {
			params.ToolChoice = anthropic.ToolChoiceParamOfTool(choice.Function)
		}
	}
	return params, nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.LLMResponse, error) {
	return p.complete(ctx, req, nil, agent.ToolChoice{})
}

func (p *AnthropicProvider) CompleteWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (*agent.LLMResponse, error) {
	return p.complete(ctx, &req.CompletionRequest, req.Tools, req.ToolChoice)
}

func (p *AnthropicProvider) complete(ctx context.Context, req *agent.CompletionRequest, tools []agent.ToolDefinition, choice agent.ToolChoice) (*agent.LLMResponse, error) {
	params, err := p.buildParams(req, tools, choice)
	if err != nil {
		return nil, err
	}

	var msg *anthropic.Message
	err = p.Retry(ctx, IsRetryable, func() error {
		var callErr error
		msg, callErr = p.client.Messages.New(ctx, params)
		if callErr != nil {
			callErr = NewProviderError("anthropic", string(params.Model), callErr)
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}

	resp := &agent.LLMResponse{
		Model:        string(msg.Model),
		FinishReason: agent.NormalizeFinishReason(string(msg.StopReason)),
		Usage: agent.Usage{
			PromptTokens:     msg.Usage.InputTokens,
			CompletionTokens: msg.Usage.OutputTokens,
			TotalTokens:      msg.Usage.InputTokens + msg.Usage.OutputTokens,
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			args, _ := json.Marshal(variant.Input)
			resp.ToolCalls = append(resp.ToolCalls, agent.ToolCall{
				ID: variant.ID, Type: "function", Name: variant.Name, Arguments: args,
			})
		}
	}
	resp.Content = text.String()
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = agent.FinishToolCalls
	}
	return resp, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.StreamChunk, error) {
	return p.stream(ctx, req, nil, agent.ToolChoice{})
}

func (p *AnthropicProvider) StreamWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (<-chan *agent.StreamChunk, error) {
	return p.stream(ctx, &req.CompletionRequest, req.Tools, req.ToolChoice)
}

func (p *AnthropicProvider) stream(ctx context.Context, req *agent.CompletionRequest, tools []agent.ToolDefinition, choice agent.ToolChoice) (<-chan *agent.StreamChunk, error) {
	params, err := p.buildParams(req, tools, choice)
	if err != nil {
		return nil, err
	}

	out := make(chan *agent.StreamChunk)
	go func() {
		defer close(out)
		sdkStream := p.client.Messages.NewStreaming(ctx, params)
		p.processStream(sdkStream, out, string(params.Model))
	}()
	return out, nil
}

// processStream consumes Anthropic SSE events (spec §4.2 Anthropic-style
// adapter) and emits one StreamChunk per text delta, plus a single terminal
// Done chunk carrying accumulated tool calls and usage.
func (p *AnthropicProvider) processStream(stream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}, out chan<- *agent.StreamChunk, model string) {
	var inputTokens, outputTokens int64
	var toolCalls []agent.ToolCall
	var currentID, currentName string
	var currentArgs strings.Builder
	inToolBlock := false
	stopReason := ""

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			inputTokens = ms.Message.Usage.InputTokens
		case "content_block_start":
			cbs := event.AsContentBlockStart()
			if cbs.ContentBlock.Type == "tool_use" {
				toolUse := cbs.ContentBlock.AsToolUse()
				currentID = toolUse.ID
				currentName = toolUse.Name
				currentArgs.Reset()
				inToolBlock = true
				out <- &agent.StreamChunk{ToolCallStart: &agent.ToolCallStart{ID: currentID, Name: currentName}}
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- &agent.StreamChunk{Content: delta.Text}
				}
			case "input_json_delta":
				currentArgs.WriteString(delta.PartialJSON)
			}
		case "content_block_stop":
			if inToolBlock {
				toolCalls = append(toolCalls, agent.ToolCall{
					ID: currentID, Type: "function", Name: currentName,
					Arguments: json.RawMessage(currentArgs.String()),
				})
				inToolBlock = false
			}
		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = md.Usage.OutputTokens
			}
			stopReason = string(md.Delta.StopReason)
		case "message_stop":
			finish := agent.NormalizeFinishReason(stopReason)
			if len(toolCalls) > 0 {
				finish = agent.FinishToolCalls
			}
			out <- &agent.StreamChunk{
				Done:         true,
				ToolCalls:    toolCalls,
				FinishReason: finish,
				Usage: &agent.Usage{
					PromptTokens:     inputTokens,
					CompletionTokens: outputTokens,
					TotalTokens:      inputTokens + outputTokens,
				},
			}
			return
		}
	}
	if err := stream.Err(); err != nil {
		out <- &agent.StreamChunk{Err: fmt.Errorf("anthropic: stream error: %w", err)}
	}
}

var _ agent.Provider = (*AnthropicProvider)(nil)
var _ agent.StreamingToolProvider = (*AnthropicProvider)(nil)
