// Package router implements the LLM Router: alias resolution, provider
// selection, budget enforcement, retry-with-backoff, circuit breaking, and
// failover across unary, streaming, and tool-call completion paths.
// Grounded on haasonsaas-nexus's internal/agent/failover.go
// (FailoverOrchestrator) and internal/agent/routing/router.go, generalized to
// the three-state circuit breaker and buffered streaming-replay semantics.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/the-ai-project-co/nimbus-sub005/internal/agent"
	"github.com/the-ai-project-co/nimbus-sub005/internal/observability"
	"github.com/the-ai-project-co/nimbus-sub005/internal/usage"
)

// Router ties a provider registry to the circuit breaker, pricing table, and
// usage sink, and implements the public operations spec §4.1 names.
type Router struct {
	mu        sync.Mutex
	providers map[string]agent.Provider
	cfg       Config
	breaker   *CircuitBreaker
	pricing   PricingTable
	sink      usage.Sink
	logger    *slog.Logger
	classify  Classifier
	limiter   *rateLimiterSet
	tracer    *observability.Tracer

	lastMeta agent.RouterMeta
}

// New constructs a Router. A nil sink defaults to usage.NopSink{}, a nil
// classifier disables cost-optimization routing, and a nil logger defaults
// to slog.Default().
func New(cfg Config, breaker *CircuitBreaker, pricing PricingTable, sink usage.Sink, logger *slog.Logger, classify Classifier) *Router {
	if sink == nil {
		sink = usage.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		providers: make(map[string]agent.Provider),
		cfg:       cfg,
		breaker:   breaker,
		pricing:   pricing,
		sink:      sink,
		logger:    logger,
		classify:  classify,
		limiter:   newRateLimiterSet(cfg.RateLimit),
	}
}

// SetTracer attaches a tracer used to emit a span around each provider's
// Complete/CompleteWithTools call (retries included); Stream and
// StreamWithTools are not traced. A nil tracer (the default) disables
// tracing entirely.
func (r *Router) SetTracer(t *observability.Tracer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracer = t
}

// RegisterProvider adds (or replaces) a provider under name.
func (r *Router) RegisterProvider(name string, p agent.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

func (r *Router) registeredSet() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]bool, len(r.providers))
	for name := range r.providers {
		out[name] = true
	}
	return out
}

func (r *Router) provider(name string) (agent.Provider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.providers[name]
	return p, ok
}

func (r *Router) setMeta(m agent.RouterMeta) {
	r.mu.Lock()
	r.lastMeta = m
	r.mu.Unlock()
}

// LastMeta returns the RouterMeta recorded by the most recently completed
// call. Shared mutable state by design (spec §9): callers that need
// per-request meta should read it immediately after the call returns.
func (r *Router) LastMeta() agent.RouterMeta {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastMeta
}

// AvailableProviders lists registered providers whose circuit is not
// currently open.
func (r *Router) AvailableProviders() []string {
	var out []string
	for name := range r.registeredSet() {
		if r.breaker.IsAvailable(name) {
			out = append(out, name)
		}
	}
	return out
}

// DisabledProviders lists registered providers whose circuit is currently
// open with an unexpired cooldown.
func (r *Router) DisabledProviders() []string {
	registered := r.registeredSet()
	var out []string
	for _, name := range r.breaker.OpenCircuits() {
		if registered[name] {
			out = append(out, name)
		}
	}
	return out
}

// AvailableModels maps each registered provider name to its Models() list
// (spec §4.1: "mapping provider → list of model ids").
func (r *Router) AvailableModels() map[string][]agent.Model {
	r.mu.Lock()
	providers := make(map[string]agent.Provider, len(r.providers))
	for name, p := range r.providers {
		providers[name] = p
	}
	r.mu.Unlock()

	out := make(map[string][]agent.Model, len(providers))
	for name, p := range providers {
		out[name] = p.Models()
	}
	return out
}

// resolveCandidates applies alias resolution, cost-optimization model
// override, and provider detection, returning the effective model id and an
// ordered candidate provider list (primary first, then the fallback chain).
// taskClass, when non-empty, is checked directly against CheapFor/
// ExpensiveFor; only when the caller leaves it blank does routing fall back
// to the Classifier's heuristic tags (spec §4.1).
func (r *Router) resolveCandidates(req *agent.CompletionRequest, taskClass string) (model string, candidates []string, err error) {
	model = req.Model
	if model == "" {
		model = r.cfg.DefaultModel
	}
	model = ResolveAlias(model)

	if r.cfg.CostOptimization.Enabled {
		var tags []string
		if taskClass != "" {
			tags = []string{taskClass}
		} else if r.classify != nil {
			tags = r.classify.Classify(req)
		}
		switch {
		case tagsContainAny(tags, r.cfg.CostOptimization.CheapFor) && r.cfg.CostOptimization.CheapModel != "":
			model = ResolveAlias(r.cfg.CostOptimization.CheapModel)
		case tagsContainAny(tags, r.cfg.CostOptimization.ExpensiveFor) && r.cfg.CostOptimization.ExpensiveModel != "":
			model = ResolveAlias(r.cfg.CostOptimization.ExpensiveModel)
		}
	}

	registered := r.registeredSet()
	primary, _, ok := DetectProvider(model, registered)
	if !ok {
		if r.cfg.DefaultProvider != "" && registered[r.cfg.DefaultProvider] {
			primary = r.cfg.DefaultProvider
		} else {
			return model, nil, &ErrNoProviderAvailable{Model: model}
		}
	}

	candidates = []string{primary}
	if r.cfg.Fallback.Enabled {
		for _, name := range r.cfg.Fallback.Providers {
			if name != primary && registered[name] {
				candidates = append(candidates, name)
			}
		}
	}
	return model, candidates, nil
}

func wireModelFor(model, providerName string) string {
	return StripPrefix(model, providerName == "openrouter")
}

func (r *Router) recordUsage(provider, model string, u agent.Usage, cost agent.Cost) {
	r.sink.Record(usage.NewRow(provider, model, u.PromptTokens, u.CompletionTokens, cost.CostUSD))
}

// traceCall wraps fn in an LLM-request span when a tracer is attached,
// recording fn's error on the span before returning it unchanged.
func (r *Router) traceCall(ctx context.Context, provider, model string, fn func(context.Context) error) error {
	if r.tracer == nil {
		return fn(ctx)
	}
	spanCtx, span := r.tracer.TraceLLMRequest(ctx, provider, model)
	defer span.End()
	err := fn(spanCtx)
	r.tracer.RecordError(span, err)
	return err
}

// Complete performs a budget-clamped, retried, failed-over unary completion.
// taskClass drives cost-optimization model selection (spec §4.1); pass ""
// to fall back to the Classifier's content-based heuristic.
func (r *Router) Complete(ctx context.Context, req *agent.CompletionRequest, taskClass string) (*agent.LLMResponse, error) {
	model, candidates, err := r.resolveCandidates(req, taskClass)
	if err != nil {
		return nil, err
	}
	original := candidates[0]

	base := *req
	base.MaxTokens = r.cfg.clampMaxTokens(req.MaxTokens)

	var attempted []string
	var lastErr error
	for i, name := range candidates {
		if !r.breaker.IsAvailable(name) {
			attempted = append(attempted, name)
			lastErr = fmt.Errorf("circuit open for provider %s", name)
			continue
		}
		provider, ok := r.provider(name)
		if !ok {
			continue
		}
		attempted = append(attempted, name)

		if err := r.limiter.wait(ctx, name); err != nil {
			lastErr = err
			continue
		}

		wireReq := base
		wireReq.Model = wireModelFor(model, name)

		var resp *agent.LLMResponse
		retryErr := r.traceCall(ctx, name, wireReq.Model, func(spanCtx context.Context) error {
			return WithRetry(spanCtx, r.cfg.MaxRetries, func(int) error {
				var cerr error
				resp, cerr = provider.Complete(spanCtx, &wireReq)
				return cerr
			})
		})
		if retryErr != nil {
			lastErr = retryErr
			r.breaker.RecordFailure(name)
			continue
		}

		r.breaker.RecordSuccess(name)
		cost := r.pricing.Compute(r.logger, name, wireReq.Model, resp.Usage)
		resp.Cost = &cost
		r.recordUsage(name, wireReq.Model, resp.Usage, cost)

		meta := agent.RouterMeta{ActiveProvider: name, IsFallback: i > 0}
		if i > 0 {
			meta.OriginalFailedProvider = original
		}
		r.setMeta(meta)
		return resp, nil
	}
	return nil, &ErrAllProvidersFailed{Attempted: attempted, Last: lastErr}
}

// CompleteWithTools is Complete's tool-calling counterpart.
func (r *Router) CompleteWithTools(ctx context.Context, req *agent.ToolCompletionRequest, taskClass string) (*agent.LLMResponse, error) {
	model, candidates, err := r.resolveCandidates(&req.CompletionRequest, taskClass)
	if err != nil {
		return nil, err
	}
	original := candidates[0]

	base := *req
	base.MaxTokens = r.cfg.clampMaxTokens(req.MaxTokens)

	var attempted []string
	var lastErr error
	for i, name := range candidates {
		if !r.breaker.IsAvailable(name) {
			attempted = append(attempted, name)
			lastErr = fmt.Errorf("circuit open for provider %s", name)
			continue
		}
		provider, ok := r.provider(name)
		if !ok {
			continue
		}
		attempted = append(attempted, name)

		if err := r.limiter.wait(ctx, name); err != nil {
			lastErr = err
			continue
		}

		wireReq := base
		wireReq.Model = wireModelFor(model, name)

		var resp *agent.LLMResponse
		retryErr := r.traceCall(ctx, name, wireReq.Model, func(spanCtx context.Context) error {
			return WithRetry(spanCtx, r.cfg.MaxRetries, func(int) error {
				var cerr error
				resp, cerr = provider.CompleteWithTools(spanCtx, &wireReq)
				return cerr
			})
		})
		if retryErr != nil {
			lastErr = retryErr
			r.breaker.RecordFailure(name)
			continue
		}

		r.breaker.RecordSuccess(name)
		cost := r.pricing.Compute(r.logger, name, wireReq.Model, resp.Usage)
		resp.Cost = &cost
		r.recordUsage(name, wireReq.Model, resp.Usage, cost)

		meta := agent.RouterMeta{ActiveProvider: name, IsFallback: i > 0}
		if i > 0 {
			meta.OriginalFailedProvider = original
		}
		r.setMeta(meta)
		return resp, nil
	}
	return nil, &ErrAllProvidersFailed{Attempted: attempted, Last: lastErr}
}

// bufferStream drains a provider's stream into memory, returning the full
// chunk sequence only once it completes cleanly (a Done chunk, or the
// channel closing without error). A mid-stream error discards the buffer.
func bufferStream(ch <-chan *agent.StreamChunk) ([]*agent.StreamChunk, error) {
	var buf []*agent.StreamChunk
	for chunk := range ch {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		buf = append(buf, chunk)
		if chunk.Done {
			break
		}
	}
	return buf, nil
}

func finalUsage(buf []*agent.StreamChunk, promptTexts []string) (agent.Usage, string) {
	var content string
	var u agent.Usage
	haveUsage := false
	for _, c := range buf {
		content += c.Content
		if c.Usage != nil {
			u = *c.Usage
			haveUsage = true
		}
	}
	if !haveUsage {
		u = EstimateUsage(promptTexts, content)
	}
	return u, content
}

func promptTexts(messages []agent.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ExtractText())
	}
	return out
}

func emitBuffered(ctx context.Context, buf []*agent.StreamChunk, out chan<- *agent.StreamChunk) {
	for _, chunk := range buf {
		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}
	}
}

// Stream performs a budget-clamped, buffered-replay failover streaming
// completion. The returned channel is closed once the stream is exhausted
// or every candidate has failed.
func (r *Router) Stream(ctx context.Context, req *agent.CompletionRequest, taskClass string) (<-chan *agent.StreamChunk, error) {
	model, candidates, err := r.resolveCandidates(req, taskClass)
	if err != nil {
		return nil, err
	}
	base := *req
	base.MaxTokens = r.cfg.clampMaxTokens(req.MaxTokens)

	out := make(chan *agent.StreamChunk)
	go r.runStream(ctx, model, candidates, base, out)
	return out, nil
}

func (r *Router) runStream(ctx context.Context, model string, candidates []string, base agent.CompletionRequest, out chan<- *agent.StreamChunk) {
	defer close(out)
	original := candidates[0]
	var attempted []string
	var lastErr error

	for i, name := range candidates {
		if !r.breaker.IsAvailable(name) {
			attempted = append(attempted, name)
			lastErr = fmt.Errorf("circuit open for provider %s", name)
			continue
		}
		provider, ok := r.provider(name)
		if !ok {
			continue
		}
		attempted = append(attempted, name)

		if err := r.limiter.wait(ctx, name); err != nil {
			lastErr = err
			continue
		}

		wireReq := base
		wireReq.Model = wireModelFor(model, name)

		ch, streamErr := provider.Stream(ctx, &wireReq)
		if streamErr != nil {
			lastErr = streamErr
			r.breaker.RecordFailure(name)
			continue
		}
		buf, bufErr := bufferStream(ch)
		if bufErr != nil {
			lastErr = bufErr
			r.breaker.RecordFailure(name)
			continue
		}

		r.breaker.RecordSuccess(name)
		u, content := finalUsage(buf, promptTexts(wireReq.Messages))
		cost := r.pricing.Compute(r.logger, name, wireReq.Model, u)
		r.recordUsage(name, wireReq.Model, u, cost)
		_ = content

		meta := agent.RouterMeta{ActiveProvider: name, IsFallback: i > 0}
		if i > 0 {
			meta.OriginalFailedProvider = original
		}
		r.setMeta(meta)

		emitBuffered(ctx, buf, out)
		return
	}

	select {
	case out <- &agent.StreamChunk{Done: true, Err: &ErrAllProvidersFailed{Attempted: attempted, Last: lastErr}}:
	case <-ctx.Done():
	}
}

// StreamWithTools streams a tool-enabled completion across candidates that
// implement StreamingToolProvider. When no candidate supports native
// streaming-with-tools, it degrades to a non-streaming CompleteWithTools
// call and repackages the result as a two-chunk sequence: one content chunk
// (if any text is present) followed by a terminal Done chunk carrying the
// tool calls, usage, and finish reason (spec §4.1).
func (r *Router) StreamWithTools(ctx context.Context, req *agent.ToolCompletionRequest, taskClass string) (<-chan *agent.StreamChunk, error) {
	model, candidates, err := r.resolveCandidates(&req.CompletionRequest, taskClass)
	if err != nil {
		return nil, err
	}
	base := *req
	base.MaxTokens = r.cfg.clampMaxTokens(req.MaxTokens)

	out := make(chan *agent.StreamChunk)
	go r.runStreamWithTools(ctx, model, candidates, base, out)
	return out, nil
}

func (r *Router) runStreamWithTools(ctx context.Context, model string, candidates []string, base agent.ToolCompletionRequest, out chan<- *agent.StreamChunk) {
	defer close(out)
	original := candidates[0]
	var attempted []string
	var lastErr error

	for i, name := range candidates {
		if !r.breaker.IsAvailable(name) {
			attempted = append(attempted, name)
			lastErr = fmt.Errorf("circuit open for provider %s", name)
			continue
		}
		provider, ok := r.provider(name)
		if !ok {
			continue
		}
		streaming, supportsNative := provider.(agent.StreamingToolProvider)
		attempted = append(attempted, name)

		if err := r.limiter.wait(ctx, name); err != nil {
			lastErr = err
			continue
		}

		wireReq := base
		wireReq.Model = wireModelFor(model, name)

		if supportsNative {
			ch, streamErr := streaming.StreamWithTools(ctx, &wireReq)
			if streamErr != nil {
				lastErr = streamErr
				r.breaker.RecordFailure(name)
				continue
			}
			buf, bufErr := bufferStream(ch)
			if bufErr != nil {
				lastErr = bufErr
				r.breaker.RecordFailure(name)
				continue
			}
			r.breaker.RecordSuccess(name)
			u, content := finalUsage(buf, promptTexts(wireReq.Messages))
			cost := r.pricing.Compute(r.logger, name, wireReq.Model, u)
			r.recordUsage(name, wireReq.Model, u, cost)
			_ = content
			r.setMetaFor(name, original, i)
			emitBuffered(ctx, buf, out)
			return
		}

		var resp *agent.LLMResponse
		retryErr := WithRetry(ctx, r.cfg.MaxRetries, func(int) error {
			var cerr error
			resp, cerr = provider.CompleteWithTools(ctx, &wireReq)
			return cerr
		})
		if retryErr != nil {
			lastErr = retryErr
			r.breaker.RecordFailure(name)
			continue
		}

		r.breaker.RecordSuccess(name)
		cost := r.pricing.Compute(r.logger, name, wireReq.Model, resp.Usage)
		r.recordUsage(name, wireReq.Model, resp.Usage, cost)
		r.setMetaFor(name, original, i)

		buf := degradedChunks(resp)
		emitBuffered(ctx, buf, out)
		return
	}

	select {
	case out <- &agent.StreamChunk{Done: true, Err: &ErrAllProvidersFailed{Attempted: attempted, Last: lastErr}}:
	case <-ctx.Done():
	}
}

func (r *Router) setMetaFor(name, original string, i int) {
	meta := agent.RouterMeta{ActiveProvider: name, IsFallback: i > 0}
	if i > 0 {
		meta.OriginalFailedProvider = original
	}
	r.setMeta(meta)
}

// degradedChunks repackages a non-streaming tool completion into the
// two-chunk sequence streaming callers expect.
func degradedChunks(resp *agent.LLMResponse) []*agent.StreamChunk {
	var buf []*agent.StreamChunk
	if resp.Content != "" {
		buf = append(buf, &agent.StreamChunk{Content: resp.Content})
	}
	buf = append(buf, &agent.StreamChunk{
		Done:         true,
		ToolCalls:    resp.ToolCalls,
		Usage:        &resp.Usage,
		FinishReason: resp.FinishReason,
	})
	return buf
}
