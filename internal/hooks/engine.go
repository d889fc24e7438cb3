package hooks

import (
	"context"
	"fmt"
	"time"
)

// RunPreToolUse runs every PreToolUse hook matching hc.Tool in declaration
// order, returning the moment any hook blocks — the result's Message is
// that hook's message. If no hook blocks, the result is allowed, carrying
// the last non-empty message seen (if any).
func (e *Engine) RunPreToolUse(ctx context.Context, hc HookContext) (HookResult, error) {
	start := time.Now()
	var lastMessage string
	for _, h := range e.matching(EventPreToolUse, hc.Tool) {
		r := e.runTraced(ctx, string(EventPreToolUse), h.def, hc)
		if !r.Allowed {
			return HookResult{Allowed: false, Message: r.Message, Duration: time.Since(start)}, nil
		}
		if r.Message != "" {
			lastMessage = r.Message
		}
	}
	return HookResult{Allowed: true, Message: lastMessage, Duration: time.Since(start)}, nil
}

// RunPostToolUse fires every PostToolUse hook matching hc.Tool to
// completion, fire-and-forget: callers don't act on an allow/block verdict
// for this event.
func (e *Engine) RunPostToolUse(ctx context.Context, hc HookContext) {
	for _, h := range e.matching(EventPostToolUse, hc.Tool) {
		e.runTraced(ctx, string(EventPostToolUse), h.def, hc)
	}
}

// RunPermissionRequest fires every PermissionRequest hook matching hc.Tool,
// fire-and-forget like RunPostToolUse.
func (e *Engine) RunPermissionRequest(ctx context.Context, hc HookContext) {
	for _, h := range e.matching(EventPermissionRequest, hc.Tool) {
		e.runTraced(ctx, string(EventPermissionRequest), h.def, hc)
	}
}

// runTraced runs def under an optional tracing span, recording the hook's
// allow/block verdict as a span attribute.
func (e *Engine) runTraced(ctx context.Context, event string, def HookDefinition, hc HookContext) HookResult {
	if e.tracer == nil {
		return runHook(ctx, def, hc)
	}
	spanCtx, span := e.tracer.TraceHookRun(ctx, event, hc.Tool)
	defer span.End()
	r := runHook(spanCtx, def, hc)
	if !r.Allowed {
		e.tracer.RecordError(span, fmt.Errorf("hook blocked: %s", r.Message))
	}
	return r
}
