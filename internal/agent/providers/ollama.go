package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/the-ai-project-co/nimbus-sub005/internal/agent"
)

// OllamaConfig configures the Ollama adapter, which talks to a local or
// self-hosted Ollama daemon's native /api/chat NDJSON streaming protocol
// rather than its OpenAI-compatible shim, so tool-call and usage fields
// come through without translation loss. The OpenAI-compatible
// /v1/chat/completions endpoint is kept in reserve for models that don't
// surface tool calls on /api/chat (spec §4.2).
type OllamaConfig struct {
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
}

// OllamaProvider implements agent.Provider / agent.StreamingToolProvider
// against Ollama's native chat endpoint, falling back to an
// OpenAI-compatible tool-streaming endpoint and then prompt-engineered
// degradation for models that never surface native tool_calls.
type OllamaProvider struct {
	client       *http.Client
	chatClient   *openai.Client
	baseURL      string
	defaultModel string

	contextCache sync.Map // model string -> context window int
}

// showProbeTimeout bounds the /api/show context-window probe (spec §5):
// independent of the adapter's overall per-request timeout, since the probe
// result is cached and must not block a slow daemon for 2 minutes.
const showProbeTimeout = 5 * time.Second

// NewOllamaProvider constructs the adapter. baseURL defaults to
// http://localhost:11434.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	chatCfg := openai.DefaultConfig("ollama")
	chatCfg.BaseURL = baseURL + "/v1"

	return &OllamaProvider{
		client:       &http.Client{Timeout: timeout},
		chatClient:   openai.NewClientWithConfig(chatCfg),
		baseURL:      baseURL,
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) SupportsTools() bool { return true }

func (p *OllamaProvider) Models() []agent.Model {
	if p.defaultModel == "" {
		return nil
	}
	return []agent.Model{{ID: p.defaultModel, Provider: "ollama", SupportsTools: true}}
}

func (p *OllamaProvider) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// MaxTokensForModel discovers model's actual context window via /api/show,
// caching the result in memory (spec §4.2, §5). Falls back to 8192 when the
// probe fails or the daemon reports nothing usable.
func (p *OllamaProvider) MaxTokensForModel(model string) int {
	model = strings.TrimSpace(model)
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return 4096
	}
	if v, ok := p.contextCache.Load(model); ok {
		return v.(int)
	}
	n := p.probeContextWindow(model)
	if n <= 0 {
		n = 8192
	}
	p.contextCache.Store(model, n)
	return n
}

type ollamaShowRequest struct {
	Model string `json:"model"`
}

type ollamaShowResponse struct {
	Parameters string         `json:"parameters"`
	ModelInfo  map[string]any `json:"model_info"`
}

func (p *OllamaProvider) probeContextWindow(model string) int {
	ctx, cancel := context.WithTimeout(context.Background(), showProbeTimeout)
	defer cancel()

	body, err := json.Marshal(ollamaShowRequest{Model: model})
	if err != nil {
		return 0
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/show", bytes.NewReader(body))
	if err != nil {
		return 0
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return 0
	}
	var show ollamaShowResponse
	if err := json.NewDecoder(resp.Body).Decode(&show); err != nil {
		return 0
	}
	return contextWindowFromShow(show)
}

// contextWindowFromShow reads the context length out of /api/show's
// model_info map (newer daemons, keyed "<arch>.context_length") or, failing
// that, the legacy "num_ctx N" line in the parameters blob.
func contextWindowFromShow(show ollamaShowResponse) int {
	for key, val := range show.ModelInfo {
		if !strings.HasSuffix(key, ".context_length") {
			continue
		}
		if n, ok := val.(float64); ok && n > 0 {
			return int(n)
		}
	}
	for _, line := range strings.Split(show.Parameters, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "num_ctx" {
			if n, err := strconv.Atoi(fields[1]); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

func (p *OllamaProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.LLMResponse, error) {
	ch, err := p.doStream(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	return drainToResponse(ch, p.model(req))
}

func (p *OllamaProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.StreamChunk, error) {
	return p.doStream(ctx, req, nil)
}

func (p *OllamaProvider) CompleteWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (*agent.LLMResponse, error) {
	ch, err := p.StreamWithTools(ctx, req)
	if err != nil {
		return nil, err
	}
	return drainToResponse(ch, p.model(&req.CompletionRequest))
}

// StreamWithTools tries native /api/chat tool calls first. If the response
// carries no tool_calls, it degrades in two further steps (spec §4.2): the
// OpenAI-compatible /v1/chat/completions endpoint, then prompt-engineered
// extraction from plain assistant text.
func (p *OllamaProvider) StreamWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (<-chan *agent.StreamChunk, error) {
	if len(req.Tools) == 0 {
		return p.doStream(ctx, &req.CompletionRequest, nil)
	}
	return p.streamWithToolsDegrading(ctx, &req.CompletionRequest, req.Tools)
}

func (p *OllamaProvider) streamWithToolsDegrading(ctx context.Context, req *agent.CompletionRequest, tools []agent.ToolDefinition) (<-chan *agent.StreamChunk, error) {
	ch, err := p.doStream(ctx, req, tools)
	if err != nil {
		return nil, err
	}
	chunks, resp, err := bufferStream(ch)
	if err != nil {
		return nil, err
	}
	if len(resp.ToolCalls) > 0 {
		return replayStream(chunks), nil
	}

	if ch2, err := p.openAICompatToolStream(ctx, req, tools); err == nil {
		if chunks2, resp2, err2 := bufferStream(ch2); err2 == nil && len(resp2.ToolCalls) > 0 {
			return replayStream(chunks2), nil
		}
	}

	return p.degradeViaPromptEngineering(ctx, req, tools, chunks)
}

// degradeViaPromptEngineering reissues the request with a tool-describing
// system preamble and no native tool declarations, then extracts tool calls
// from the assistant's plain text. native is the original attempt's chunks,
// returned unmodified if the degradation finds nothing.
func (p *OllamaProvider) degradeViaPromptEngineering(ctx context.Context, req *agent.CompletionRequest, tools []agent.ToolDefinition, native []*agent.StreamChunk) (<-chan *agent.StreamChunk, error) {
	degraded := *req
	degraded.Messages = append([]agent.Message{{Role: agent.RoleSystem, Content: toolPreamble(tools)}}, req.Messages...)

	ch, err := p.doStream(ctx, &degraded, nil)
	if err != nil {
		return replayStream(native), nil
	}
	_, resp, err := bufferStream(ch)
	if err != nil {
		return replayStream(native), nil
	}

	calls := extractDegradedToolCalls(resp.Content)
	if len(calls) == 0 {
		return replayStream(native), nil
	}

	final := &agent.StreamChunk{Done: true, ToolCalls: calls, FinishReason: agent.FinishToolCalls}
	if resp.Usage.TotalTokens > 0 {
		usage := resp.Usage
		final.Usage = &usage
	}
	if resp.Content != "" {
		return replayStream([]*agent.StreamChunk{{Content: resp.Content}, final}), nil
	}
	return replayStream([]*agent.StreamChunk{final}), nil
}

// openAICompatToolStream tries Ollama's OpenAI-compatible endpoint for tool
// streaming, for models whose native /api/chat support lags their
// OpenAI-shim support.
func (p *OllamaProvider) openAICompatToolStream(ctx context.Context, req *agent.CompletionRequest, tools []agent.ToolDefinition) (<-chan *agent.StreamChunk, error) {
	model := p.model(req)
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: ollamaMessagesToOpenAI(req),
		Tools:    convertOpenAITools(tools),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	sdkStream, err := p.chatClient.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, NewProviderError("ollama", model, fmt.Errorf("openai-compatible stream: %w", err))
	}

	out := make(chan *agent.StreamChunk)
	go func() {
		defer close(out)
		defer sdkStream.Close()

		calls := make(map[int]*streamToolCall)
		var order []int
		var usage *agent.Usage
		finish := agent.FinishStop

		for {
			resp, err := sdkStream.Recv()
			if err != nil {
				if err == io.EOF {
					break
				}
				out <- &agent.StreamChunk{Err: fmt.Errorf("ollama: openai-compatible stream error: %w", err)}
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
			}
		}

		var toolCalls []agent.ToolCall
		for _, idx := range order {
			c := calls[idx]
			toolCalls = append(toolCalls, agent.ToolCall{
				ID: c.id, Type: "function", Name: c.name, Arguments: json.RawMessage(c.args.String()),
			})
		}
		if len(toolCalls) > 0 {
			finish = agent.FinishToolCalls
		}
		out <- &agent.StreamChunk{Done: true, ToolCalls: toolCalls, FinishReason: finish, Usage: usage}
	}()
	return out, nil
}

func ollamaMessagesToOpenAI(req *agent.CompletionRequest) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case agent.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.ExtractText()})
		case agent.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID: tc.ID, Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: string(tc.Arguments)},
				})
			}
			result = append(result, oaiMsg)
		case agent.RoleTool:
			result = append(result, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleTool, Content: msg.Content, ToolCallID: msg.ToolCallID,
			})
		default:
			result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.ExtractText()})
		}
	}
	return result
}

// degradedToolCall is the wire shape the prompt-engineering preamble asks
// for: {"tool":"name","arguments":{...}}.
type degradedToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// toolPreamble describes the available tools and the JSON reply form a
// model without native function-calling should use (spec §4.2).
func toolPreamble(tools []agent.ToolDefinition) string {
	var b strings.Builder
	b.WriteString("You have access to the following tools. To call one, respond with ONLY a JSON object of the form {\"tool\":\"<name>\",\"arguments\":{...}} and nothing else.\n\n")
	for _, t := range tools {
		b.WriteString("- ")
		b.WriteString(t.Name)
		if t.Description != "" {
			b.WriteString(": ")
			b.WriteString(t.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// extractDegradedToolCalls applies the spec's three-strategy extractor in
// order, stopping at the first strategy that yields a match: JSON fenced in
// code blocks, the whole content parsed as JSON, then a balanced-brace scan.
func extractDegradedToolCalls(content string) []agent.ToolCall {
	found := extractFencedToolCalls(content)
	if len(found) == 0 {
		found = extractWholeContentToolCall(content)
	}
	if len(found) == 0 {
		found = extractBalancedBraceToolCalls(content)
	}

	calls := make([]agent.ToolCall, 0, len(found))
	for _, f := range found {
		args, err := json.Marshal(f.Arguments)
		if err != nil {
			continue
		}
		calls = append(calls, agent.ToolCall{ID: uuid.NewString(), Type: "function", Name: f.Tool, Arguments: args})
	}
	return calls
}

func extractFencedToolCalls(content string) []degradedToolCall {
	var out []degradedToolCall
	for _, m := range fencedJSONPattern.FindAllStringSubmatch(content, -1) {
		if tc, ok := parseDegradedToolCall(m[1]); ok {
			out = append(out, tc)
		}
	}
	return out
}

func extractWholeContentToolCall(content string) []degradedToolCall {
	if tc, ok := parseDegradedToolCall(strings.TrimSpace(content)); ok {
		return []degradedToolCall{tc}
	}
	return nil
}

func extractBalancedBraceToolCalls(content string) []degradedToolCall {
	var out []degradedToolCall
	depth, start := 0, -1
	for i, r := range content {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				if tc, ok := parseDegradedToolCall(content[start : i+1]); ok {
					out = append(out, tc)
				}
				start = -1
			}
		}
	}
	return out
}

func parseDegradedToolCall(s string) (degradedToolCall, bool) {
	var tc degradedToolCall
	if err := json.Unmarshal([]byte(s), &tc); err != nil {
		return degradedToolCall{}, false
	}
	if strings.TrimSpace(tc.Tool) == "" || tc.Arguments == nil {
		return degradedToolCall{}, false
	}
	return tc, true
}

func (p *OllamaProvider) model(req *agent.CompletionRequest) string {
	m := strings.TrimSpace(req.Model)
	if m == "" {
		m = p.defaultModel
	}
	return m
}

func (p *OllamaProvider) doStream(ctx context.Context, req *agent.CompletionRequest, tools []agent.ToolDefinition) (<-chan *agent.StreamChunk, error) {
	if req == nil {
		return nil, errors.New("ollama: request is nil")
	}
	model := p.model(req)
	if model == "" {
		return nil, NewProviderError("ollama", req.Model, errors.New("model is required"))
	}

	payload := ollamaChatRequest{
		Model:    model,
		Stream:   true,
		Messages: buildOllamaMessages(req),
	}
	if len(tools) > 0 {
		payload.Tools = convertOllamaTools(tools)
	}
	if req.MaxTokens > 0 {
		payload.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewProviderError("ollama", model, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError("ollama", model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewProviderError("ollama", model, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, NewProviderError("ollama", model, fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))).WithStatus(resp.StatusCode)
	}

	out := make(chan *agent.StreamChunk)
	go p.streamResponse(ctx, resp.Body, out, model)
	return out, nil
}

func (p *OllamaProvider) streamResponse(ctx context.Context, body io.ReadCloser, out chan *agent.StreamChunk, model string) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	var toolCalls []agent.ToolCall
	emitted := map[string]struct{}{}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			out <- &agent.StreamChunk{Err: ctx.Err()}
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var resp ollamaChatResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			out <- &agent.StreamChunk{Err: NewProviderError("ollama", model, fmt.Errorf("decode response: %w", err))}
			return
		}
		if resp.Error != "" {
			out <- &agent.StreamChunk{Err: NewProviderError("ollama", model, errors.New(resp.Error))}
			return
		}
		if resp.Message != nil {
			if resp.Message.Content != "" {
				out <- &agent.StreamChunk{Content: resp.Message.Content}
			}
			for _, tc := range resp.Message.ToolCalls {
				callID := strings.TrimSpace(tc.ID)
				if callID == "" {
					callID = toolCallKey(tc)
					if callID == "" {
						callID = uuid.NewString()
					}
				}
				if _, ok := emitted[callID]; ok {
					continue
				}
				emitted[callID] = struct{}{}
				args := tc.Function.Arguments
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				toolCalls = append(toolCalls, agent.ToolCall{
					ID: callID, Type: "function", Name: strings.TrimSpace(tc.Function.Name), Arguments: args,
				})
			}
		}
		if resp.Done {
			finish := agent.FinishStop
			if len(toolCalls) > 0 {
				finish = agent.FinishToolCalls
			}
			out <- &agent.StreamChunk{
				Done: true, ToolCalls: toolCalls, FinishReason: finish,
				Usage: &agent.Usage{
					PromptTokens:     int64(resp.PromptEvalCount),
					CompletionTokens: int64(resp.EvalCount),
					TotalTokens:      int64(resp.PromptEvalCount + resp.EvalCount),
				},
			}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		out <- &agent.StreamChunk{Err: NewProviderError("ollama", model, err)}
	}
}

// drainToResponse folds a stream's chunks into a single LLMResponse for
// callers using the unary Complete/CompleteWithTools surface.
func drainToResponse(ch <-chan *agent.StreamChunk, model string) (*agent.LLMResponse, error) {
	out := &agent.LLMResponse{Model: model}
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

// bufferStream drains ch into a slice (so it can be replayed to a caller)
// while also folding it into an LLMResponse the degradation cascade can
// inspect for tool_calls.
func bufferStream(ch <-chan *agent.StreamChunk) ([]*agent.StreamChunk, *agent.LLMResponse, error) {
	var chunks []*agent.StreamChunk
	resp := &agent.LLMResponse{}
	var text strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return nil, nil, chunk.Err
		}
		chunks = append(chunks, chunk)
		text.WriteString(chunk.Content)
		if chunk.Done {
			resp.ToolCalls = chunk.ToolCalls
			resp.FinishReason = chunk.FinishReason
			if chunk.Usage != nil {
				resp.Usage = *chunk.Usage
			}
		}
	}
	resp.Content = text.String()
	return chunks, resp, nil
}

func replayStream(chunks []*agent.StreamChunk) <-chan *agent.StreamChunk {
	out := make(chan *agent.StreamChunk, len(chunks))
	for _, c := range chunks {
		out <- c
	}
	close(out)
	return out
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Tools    []ollamaTool        `json:"tools,omitempty"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaTool struct {
	Type     string                `json:"type"`
	Function ollamaToolDeclaration `json:"function"`
}

type ollamaToolDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaChatResponse struct {
	Message         *ollamaChatMessage `json:"message"`
	Done            bool               `json:"done"`
	Error           string             `json:"error"`
	EvalCount       int                `json:"eval_count"`
	PromptEvalCount int                `json:"prompt_eval_count"`
}

type ollamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func convertOllamaTools(tools []agent.ToolDefinition) []ollamaTool {
	result := make([]ollamaTool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = ollamaTool{
			Type: "function",
			Function: ollamaToolDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func buildOllamaMessages(req *agent.CompletionRequest) []ollamaChatMessage {
	messages := make([]ollamaChatMessage, 0, len(req.Messages)+1)
	toolNames := map[string]string{}
	for _, msg := range req.Messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID != "" && tc.Name != "" {
				toolNames[tc.ID] = tc.Name
			}
		}
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case agent.RoleSystem:
			if text := strings.TrimSpace(msg.ExtractText()); text != "" {
				messages = append(messages, ollamaChatMessage{Role: "system", Content: text})
			}
		case agent.RoleAssistant:
			ollamaMsg := ollamaChatMessage{Role: "assistant", Content: msg.Content}
			if len(msg.ToolCalls) > 0 {
				ollamaMsg.ToolCalls = make([]ollamaToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					args := tc.Arguments
					if len(args) == 0 {
						args = json.RawMessage(`{}`)
					}
					ollamaMsg.ToolCalls[i] = ollamaToolCall{
						ID: tc.ID, Type: "function",
						Function: ollamaToolFunction{Name: tc.Name, Arguments: args},
					}
				}
			}
			messages = append(messages, ollamaMsg)
		case agent.RoleTool:
			messages = append(messages, ollamaChatMessage{
				Role: "tool", Content: msg.Content, ToolName: toolNames[msg.ToolCallID],
			})
		default:
			messages = append(messages, ollamaChatMessage{Role: "user", Content: msg.ExtractText()})
		}
	}
	return messages
}

func toolCallKey(tc ollamaToolCall) string {
	if strings.TrimSpace(tc.ID) != "" {
		return strings.TrimSpace(tc.ID)
	}
	name := strings.TrimSpace(tc.Function.Name)
	args := strings.TrimSpace(string(tc.Function.Arguments))
	if name == "" && args == "" {
		return ""
	}
	return name + ":" + args
}

var _ agent.Provider = (*OllamaProvider)(nil)
var _ agent.StreamingToolProvider = (*OllamaProvider)(nil)
