package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/the-ai-project-co/nimbus-sub005/internal/agent"
)

// fakeProvider is a minimal agent.Provider double for exercising Router
// failover without a real network call, in the style of the teacher's own
// in-process test doubles.
type fakeProvider struct {
	name string

	completeErr   error
	completeResp  *agent.LLMResponse
	completeCalls int
	lastModel     string

	streamErr    error
	streamChunks []*agent.StreamChunk

	toolsErr  error
	toolsResp *agent.LLMResponse

	streamToolChunks []*agent.StreamChunk
	streamToolErr    error
	supportsStream   bool

	modelsResp []agent.Model
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.LLMResponse, error) {
	f.completeCalls++
	f.lastModel = req.Model
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return f.completeResp, nil
}

func (f *fakeProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.StreamChunk, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan *agent.StreamChunk, len(f.streamChunks))
	for _, c := range f.streamChunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) CompleteWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (*agent.LLMResponse, error) {
	if f.toolsErr != nil {
		return nil, f.toolsErr
	}
	return f.toolsResp, nil
}

func (f *fakeProvider) CountTokens(text string) int        { return len(text) / 4 }
func (f *fakeProvider) MaxTokensForModel(model string) int { return 32768 }
func (f *fakeProvider) Models() []agent.Model              { return f.modelsResp }
func (f *fakeProvider) SupportsTools() bool                { return true }

// fakeStreamingToolProvider additionally implements StreamWithTools.
type fakeStreamingToolProvider struct{ *fakeProvider }

func (f *fakeStreamingToolProvider) StreamWithTools(ctx context.Context, req *agent.ToolCompletionRequest) (<-chan *agent.StreamChunk, error) {
	if f.streamToolErr != nil {
		return nil, f.streamToolErr
	}
	ch := make(chan *agent.StreamChunk, len(f.streamToolChunks))
	for _, c := range f.streamToolChunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func newTestRouter(t *testing.T) (*Router, *CircuitBreaker) {
	t.Helper()
	breaker := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour}, nil)
	cfg := Config{
		MaxRetries: 1,
		Fallback:   FallbackConfig{Enabled: true, Providers: []string{"anthropic", "openai"}},
	}
	return New(cfg, breaker, DefaultPricingTable(), nil, nil, nil), breaker
}

func req(model string) *agent.CompletionRequest {
	return &agent.CompletionRequest{
		Model:    model,
		Messages: []agent.Message{{Role: agent.RoleUser, Content: "hello"}},
	}
}

func TestRouter_Complete_Success(t *testing.T) {
	r, _ := newTestRouter(t)
	r.RegisterProvider("anthropic", &fakeProvider{
		name:         "anthropic",
		completeResp: &agent.LLMResponse{Content: "hi", Model: "claude-sonnet-4-20250514", Usage: agent.Usage{PromptTokens: 10, CompletionTokens: 5}},
	})

	resp, err := r.Complete(context.Background(), req("claude-sonnet-4-20250514"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("got content %q", resp.Content)
	}
	if resp.Cost == nil {
		t.Fatal("expected cost to be attached")
	}
	meta := r.LastMeta()
	if meta.ActiveProvider != "anthropic" || meta.IsFallback {
		t.Errorf("unexpected meta: %+v", meta)
	}
}

func TestRouter_Complete_FailsOverToSecondProvider(t *testing.T) {
	r, _ := newTestRouter(t)
	r.RegisterProvider("anthropic", &fakeProvider{
		name:        "anthropic",
		completeErr: errors.New("rate limited"),
	})
	r.RegisterProvider("openai", &fakeProvider{
		name:         "openai",
		completeResp: &agent.LLMResponse{Content: "fallback response", Model: "gpt-4o"},
	})

	resp, err := r.Complete(context.Background(), req("claude-sonnet-4-20250514"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "fallback response" {
		t.Errorf("got content %q", resp.Content)
	}
	meta := r.LastMeta()
	if meta.ActiveProvider != "openai" || !meta.IsFallback || meta.OriginalFailedProvider != "anthropic" {
		t.Errorf("unexpected meta: %+v", meta)
	}
}

func TestRouter_Complete_AllProvidersFail(t *testing.T) {
	r, _ := newTestRouter(t)
	r.RegisterProvider("anthropic", &fakeProvider{name: "anthropic", completeErr: errors.New("invalid request")})
	r.RegisterProvider("openai", &fakeProvider{name: "openai", completeErr: errors.New("invalid request")})

	_, err := r.Complete(context.Background(), req("claude-sonnet-4-20250514"), "")
	var allFailed *ErrAllProvidersFailed
	if !errors.As(err, &allFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v (%T)", err, err)
	}
	if len(allFailed.Attempted) != 2 {
		t.Errorf("expected both providers attempted, got %v", allFailed.Attempted)
	}
}

func TestRouter_Complete_NoProviderAvailable(t *testing.T) {
	r, _ := newTestRouter(t)
	_, err := r.Complete(context.Background(), req("claude-sonnet-4-20250514"), "")
	var noProvider *ErrNoProviderAvailable
	if !errors.As(err, &noProvider) {
		t.Fatalf("expected ErrNoProviderAvailable, got %v (%T)", err, err)
	}
}

func TestRouter_Complete_SkipsOpenCircuit(t *testing.T) {
	r, breaker := newTestRouter(t)
	breaker.RecordFailure("anthropic") // threshold=1, opens immediately
	r.RegisterProvider("anthropic", &fakeProvider{name: "anthropic", completeResp: &agent.LLMResponse{Content: "should not be used"}})
	r.RegisterProvider("openai", &fakeProvider{name: "openai", completeResp: &agent.LLMResponse{Content: "used instead"}})

	resp, err := r.Complete(context.Background(), req("claude-sonnet-4-20250514"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "used instead" {
		t.Errorf("expected the open-circuit provider to be skipped, got %q", resp.Content)
	}
}

func drainStream(t *testing.T, ch <-chan *agent.StreamChunk) []*agent.StreamChunk {
	t.Helper()
	var out []*agent.StreamChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestRouter_Stream_BuffersAndReplaysOnCleanCompletion(t *testing.T) {
	r, _ := newTestRouter(t)
	chunks := []*agent.StreamChunk{
		{Content: "hel"},
		{Content: "lo"},
		{Done: true, FinishReason: agent.FinishStop, Usage: &agent.Usage{PromptTokens: 5, CompletionTokens: 2}},
	}
	r.RegisterProvider("anthropic", &fakeProvider{name: "anthropic", streamChunks: chunks})

	ch, err := r.Stream(context.Background(), req("claude-sonnet-4-20250514"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := drainStream(t, ch)
	if len(got) != 3 {
		t.Fatalf("expected 3 replayed chunks, got %d", len(got))
	}
	if !got[2].Done {
		t.Errorf("expected final chunk to be Done")
	}
}

func TestRouter_Stream_FailsOverOnMidStreamError(t *testing.T) {
	r, _ := newTestRouter(t)
	r.RegisterProvider("anthropic", &fakeProvider{
		name: "anthropic",
		streamChunks: []*agent.StreamChunk{
			{Content: "partial"},
			{Err: errors.New("rate limited mid-stream")},
		},
	})
	r.RegisterProvider("openai", &fakeProvider{
		name: "openai",
		streamChunks: []*agent.StreamChunk{
			{Content: "fresh"},
			{Done: true, FinishReason: agent.FinishStop},
		},
	})

	ch, err := r.Stream(context.Background(), req("claude-sonnet-4-20250514"), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := drainStream(t, ch)
	if len(got) != 2 {
		t.Fatalf("expected the failed attempt's partial chunk discarded, got %d chunks: %+v", len(got), got)
	}
	if got[0].Content != "fresh" {
		t.Errorf("expected only the successful provider's chunks replayed, got %q", got[0].Content)
	}
}

func TestRouter_StreamWithTools_DegradesWhenNoNativeSupport(t *testing.T) {
	r, _ := newTestRouter(t)
	r.RegisterProvider("anthropic", &fakeProvider{
		name: "anthropic",
		toolsResp: &agent.LLMResponse{
			Content:      "let me check",
			ToolCalls:    []agent.ToolCall{{ID: "call_1", Name: "get_weather", Arguments: []byte(`{"city":"nyc"}`)}},
			FinishReason: agent.FinishToolCalls,
		},
	})

	toolReq := &agent.ToolCompletionRequest{
		CompletionRequest: *req("claude-sonnet-4-20250514"),
		Tools:             []agent.ToolDefinition{{Name: "get_weather"}},
	}
	ch, err := r.StreamWithTools(context.Background(), toolReq, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := drainStream(t, ch)
	if len(got) != 2 {
		t.Fatalf("expected a content chunk plus a terminal tool-call chunk, got %d", len(got))
	}
	if got[0].Content != "let me check" {
		t.Errorf("unexpected first chunk: %+v", got[0])
	}
	if !got[1].Done || len(got[1].ToolCalls) != 1 {
		t.Errorf("unexpected terminal chunk: %+v", got[1])
	}
}

func TestRouter_StreamWithTools_UsesNativeStreamingWhenAvailable(t *testing.T) {
	r, _ := newTestRouter(t)
	base := &fakeProvider{name: "anthropic"}
	provider := &fakeStreamingToolProvider{fakeProvider: base}
	provider.streamToolChunks = []*agent.StreamChunk{
		{ToolCallStart: &agent.ToolCallStart{ID: "call_1", Name: "get_weather"}},
		{Done: true, ToolCalls: []agent.ToolCall{{ID: "call_1", Name: "get_weather", Arguments: []byte(`{}`)}}, FinishReason: agent.FinishToolCalls},
	}
	r.RegisterProvider("anthropic", provider)

	toolReq := &agent.ToolCompletionRequest{
		CompletionRequest: *req("claude-sonnet-4-20250514"),
		Tools:             []agent.ToolDefinition{{Name: "get_weather"}},
	}
	ch, err := r.StreamWithTools(context.Background(), toolReq, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := drainStream(t, ch)
	if len(got) != 2 {
		t.Fatalf("expected native stream's 2 chunks replayed verbatim, got %d", len(got))
	}
	if got[0].ToolCallStart == nil || got[0].ToolCallStart.Name != "get_weather" {
		t.Errorf("expected the native ToolCallStart chunk preserved, got %+v", got[0])
	}
}

func TestRouter_Complete_ExplicitTaskClassOverridesHeuristic(t *testing.T) {
	breaker := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour}, nil)
	cfg := Config{
		MaxRetries: 1,
		CostOptimization: CostOptimizationConfig{
			Enabled:    true,
			CheapModel: "claude-haiku-4-20250514",
			CheapFor:   []string{"quick"},
		},
	}
	r := New(cfg, breaker, DefaultPricingTable(), nil, nil, HeuristicClassifier{})
	anthropic := &fakeProvider{
		name:         "anthropic",
		completeResp: &agent.LLMResponse{Content: "ok"},
	}
	r.RegisterProvider("anthropic", anthropic)

	// The message content itself would not trigger the "quick" heuristic, but
	// an explicit taskClass of "quick" must still route to the cheap model.
	longReq := &agent.CompletionRequest{
		Model:    "claude-sonnet-4-20250514",
		Messages: []agent.Message{{Role: agent.RoleUser, Content: strings.Repeat("analyze this carefully ", 10)}},
	}
	if _, err := r.Complete(context.Background(), longReq, "quick"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	meta := r.LastMeta()
	if meta.ActiveProvider != "anthropic" {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	if anthropic.lastModel != "claude-haiku-4-20250514" {
		t.Fatalf("model sent = %q, want the cheap model claude-haiku-4-20250514", anthropic.lastModel)
	}
}

func TestRouter_AvailableModels_GroupsByProvider(t *testing.T) {
	r, _ := newTestRouter(t)
	r.RegisterProvider("anthropic", &fakeProvider{name: "anthropic", modelsResp: []agent.Model{{ID: "claude-sonnet-4-20250514", Provider: "anthropic"}}})
	r.RegisterProvider("openai", &fakeProvider{name: "openai", modelsResp: []agent.Model{{ID: "gpt-4o", Provider: "openai"}}})

	got := r.AvailableModels()
	if len(got) != 2 {
		t.Fatalf("AvailableModels() = %+v, want 2 providers", got)
	}
	if len(got["anthropic"]) != 1 || got["anthropic"][0].ID != "claude-sonnet-4-20250514" {
		t.Errorf("anthropic models = %+v", got["anthropic"])
	}
	if len(got["openai"]) != 1 || got["openai"][0].ID != "gpt-4o" {
		t.Errorf("openai models = %+v", got["openai"])
	}
}

func TestRouter_AvailableAndDisabledProviders(t *testing.T) {
	r, breaker := newTestRouter(t)
	r.RegisterProvider("anthropic", &fakeProvider{name: "anthropic"})
	r.RegisterProvider("openai", &fakeProvider{name: "openai"})
	breaker.RecordFailure("openai")

	disabled := r.DisabledProviders()
	if len(disabled) != 1 || disabled[0] != "openai" {
		t.Errorf("expected openai disabled, got %v", disabled)
	}
	available := r.AvailableProviders()
	found := false
	for _, p := range available {
		if p == "anthropic" {
			found = true
		}
		if p == "openai" {
			t.Errorf("expected openai excluded from available providers, got %v", available)
		}
	}
	if !found {
		t.Errorf("expected anthropic in available providers, got %v", available)
	}
}
