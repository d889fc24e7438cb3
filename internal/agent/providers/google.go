// Package providers implements LLM provider integrations for the router.
//
// This file implements the Google/Gemini adapter using the Google Gen AI Go
// SDK (google.golang.org/genai), consuming its Go 1.23 iterator-based
// streaming API.
package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/the-ai-project-co/nimbus-sub005/internal/agent"
)

// GoogleProvider implements agent.Provider / agent.StreamingToolProvider for
// Google's Gemini API. Tool calls are surfaced only on the stream's
// terminal chunk (Gemini never reports a call ID, so one is synthesized per
// spec §9's resolved Open Question on final-chunk-only tool emission).
type GoogleProvider struct {
	BaseProvider
	client       *genai.Client
	defaultModel string
}

// GoogleConfig configures the Gemini adapter.
type GoogleConfig struct {
	APIKey       string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewGoogleProvider constructs a Gemini adapter against the public
// Generative Language API backend.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}
	return &GoogleProvider{
		BaseProvider: NewBaseProvider("google", cfg.MaxRetries, cfg.RetryDelay),
		client:       client,
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) SupportsTools() bool { return true }

func (p *GoogleProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gemini-2.0-flash", Provider: "google", ContextWindow: 1000000, MaxOutputTokens: 8192, SupportsTools: true, SupportsVision: true},
		{ID: "gemini-2.0-flash-lite", Provider: "google", ContextWindow: 1000000, MaxOutputTokens: 8192, SupportsTools: true, SupportsVision: true},
		{ID: "gemini-1.5-pro", Provider: "google", ContextWindow: 2000000, MaxOutputTokens: 8192, SupportsTools: true, SupportsVision: true},
		{ID: "gemini-1.5-flash", Provider: "google", ContextWindow: 1000000, MaxOutputTokens: 8192, SupportsTools: true, SupportsVision: true},
	}
}

var googleContextWindows = map[string]int{
	"gemini-2.0-flash":      1000000,
	"gemini-2.0-flash-lite": 1000000,
	"gemini-1.5-pro":        2000000,
	"gemini-1.5-flash":      1000000,
	"gemini-1.5-flash-8b":   1000000,
}

func (p *GoogleProvider) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

func (p *GoogleProvider) MaxTokensForModel(model string) int {
	if n, ok := googleContextWindows[model]; ok {
		return n
	}
	return 32768
}

func (p *GoogleProvider) model(req *agent.CompletionRequest) string {
	if req.Model == "" {
		return p.defaultModel
	}
	return req.Model
}

// splitSystem pulls every system message, wherever it appears, out of the
// turn sequence and joins their text with blank lines into the single
// SystemInstruction Gemini expects, mirroring how the Anthropic adapter
// lifts the system prompt out of the turn sequence.
func splitSystem(messages []agent.Message) (string, []agent.Message) {
	var system strings.Builder
	rest := make([]agent.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == agent.RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(m.ExtractText())
			continue
		}
		rest = append(rest, m)
	}
	return system.String(), rest
}

func (p *GoogleProvider) convertMessages(messages []agent.Message) ([]*genai.Content, error) {
	var result []*genai.Content
	for _, msg := range messages {
		content := &genai.Content{}
		switch msg.Role {
		case agent.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if len(msg.Blocks) > 0 {
			for _, b := range msg.Blocks {
				switch b.Type {
				case agent.BlockText:
					content.Parts = append(content.Parts, &genai.Part{Text: b.Text})
				case agent.BlockImage:
					data, err := base64.StdEncoding.DecodeString(b.Data)
					if err != nil {
						return nil, fmt.Errorf("google: decode image block: %w", err)
					}
					content.Parts = append(content.Parts, &genai.Part{
						InlineData: &genai.Blob{Data: data, MIMEType: string(b.MediaType)},
					})
				}
			}
		} else if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Arguments, &args); err != nil {
				args = make(map[string]any)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}

		if msg.Role == agent.RoleTool {
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]any{"result": msg.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: msg.Name, Response: response},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result, nil
}

func convertGoogleTools(tools []agent.ToolDefinition) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			continue
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name: t.Name, Description: t.Description, Parameters: toGeminiSchema(schema),
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// toGeminiSchema converts a JSON Schema map (our wire-agnostic parameter
// representation) into Gemini's typed Schema.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}
	return schema
}

func (p *GoogleProvider) buildConfig(req *agent.CompletionRequest, system string, tools []agent.ToolDefinition) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(min(req.MaxTokens, math.MaxInt32))
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}
	if len(tools) > 0 {
		cfg.Tools = convertGoogleTools(tools)
	}
	return cfg
}

func (p *GoogleProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.LLMResponse, error) {
	return p.complete(ctx, req, nil)
}

func (p *GoogleProvider) CompleteWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (*agent.LLMResponse, error) {
	return p.complete(ctx, &req.CompletionRequest, req.Tools)
}

// complete drains the streaming API into a single response, since the
// genai SDK exposes only an iterator-based streaming surface.
func (p *GoogleProvider) complete(ctx context.Context, req *agent.CompletionRequest, tools []agent.ToolDefinition) (*agent.LLMResponse, error) {
	ch, err := p.doStream(ctx, req, tools)
	if err != nil {
		return nil, err
	}
	out := &agent.LLMResponse{Model: p.model(req)}
	var text strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		text.WriteString(chunk.Content)
		if chunk.Done {
			out.ToolCalls = chunk.ToolCalls
			out.FinishReason = chunk.FinishReason
			if chunk.Usage != nil {
				out.Usage = *chunk.Usage
			}
		}
	}
	out.Content = text.String()
	return out, nil
}

func (p *GoogleProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.StreamChunk, error) {
	return p.doStream(ctx, req, nil)
}

func (p *GoogleProvider) StreamWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (<-chan *agent.StreamChunk, error) {
	return p.doStream(ctx, &req.CompletionRequest, req.Tools)
}

func (p *GoogleProvider) doStream(ctx context.Context, req *agent.CompletionRequest, tools []agent.ToolDefinition) (<-chan *agent.StreamChunk, error) {
	system, turns := splitSystem(req.Messages)
	contents, err := p.convertMessages(turns)
	if err != nil {
		return nil, p.wrapError(err, p.model(req))
	}
	config := p.buildConfig(req, system, tools)
	model := p.model(req)

	out := make(chan *agent.StreamChunk)
	go func() {
		defer close(out)

		var toolCalls []agent.ToolCall
		var usage *agent.Usage

		err := p.Retry(ctx, p.isRetryableError, func() error {
			toolCalls = nil
			streamIter := p.client.Models.GenerateContentStream(ctx, model, contents, config)
			return p.processStream(ctx, streamIter, out, &toolCalls, &usage)
		})
		if err != nil {
			out <- &agent.StreamChunk{Err: p.wrapError(err, model)}
			return
		}

		finish := agent.FinishStop
		if len(toolCalls) > 0 {
			finish = agent.FinishToolCalls
		}
		out <- &agent.StreamChunk{Done: true, ToolCalls: toolCalls, FinishReason: finish, Usage: usage}
	}()
	return out, nil
}

func (p *GoogleProvider) processStream(ctx context.Context, streamIter iter.Seq2[*genai.GenerateContentResponse, error], out chan<- *agent.StreamChunk, toolCalls *[]agent.ToolCall, usage **agent.Usage) error {
	for resp, err := range streamIter {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return err
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			*usage = &agent.Usage{
				PromptTokens:     int64(resp.UsageMetadata.PromptTokenCount),
				CompletionTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:      int64(resp.UsageMetadata.TotalTokenCount),
			}
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					out <- &agent.StreamChunk{Content: part.Text}
				}
				if part.FunctionCall != nil {
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					*toolCalls = append(*toolCalls, agent.ToolCall{
						ID:        fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, len(*toolCalls)),
						Type:      "function",
						Name:      part.FunctionCall.Name,
						Arguments: argsJSON,
					})
				}
			}
		}
	}
	return nil
}

func (p *GoogleProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"),
		strings.Contains(msg, "resource exhausted"), strings.Contains(msg, "quota"):
		return true
	case strings.Contains(msg, "500"), strings.Contains(msg, "502"),
		strings.Contains(msg, "503"), strings.Contains(msg, "504"):
		return true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return true
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"):
		return true
	}
	return false
}

func (p *GoogleProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	providerErr := NewProviderError("google", model, err)
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "unauthenticated"):
		providerErr = providerErr.WithStatus(http.StatusUnauthorized)
	case strings.Contains(msg, "403"), strings.Contains(msg, "permission denied"):
		providerErr = providerErr.WithStatus(http.StatusForbidden)
	case strings.Contains(msg, "404"):
		providerErr = providerErr.WithStatus(http.StatusNotFound)
	case strings.Contains(msg, "429"), strings.Contains(msg, "resource exhausted"):
		providerErr = providerErr.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(msg, "503"):
		providerErr = providerErr.WithStatus(http.StatusServiceUnavailable)
	}
	return providerErr
}

var _ agent.Provider = (*GoogleProvider)(nil)
var _ agent.StreamingToolProvider = (*GoogleProvider)(nil)
