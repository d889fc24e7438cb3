package hooks

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/the-ai-project-co/nimbus-sub005/internal/observability"
)

const defaultTimeoutMs = 30000

// compiledHook is a HookDefinition with its match regex pre-compiled.
type compiledHook struct {
	def     HookDefinition
	pattern *regexp.Regexp
}

// Engine holds the compiled hook definitions for each event, in the order
// they were declared in the source config.
type Engine struct {
	byEvent map[Event][]compiledHook
	tracer  *observability.Tracer
}

// SetTracer attaches a tracer used to emit a span around each hook
// subprocess run. A nil tracer (the default) disables tracing entirely.
func (e *Engine) SetTracer(t *observability.Tracer) {
	e.tracer = t
}

// Load reads and validates a hooks.yaml file at path. A missing file is not
// an error — it yields an Engine with no hooks configured for any event.
// An unknown event key, an invalid match regex, an empty command, or a
// negative timeout_ms is a load-time error; an omitted or zero timeout_ms
// defaults to 30000.
func Load(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Engine{byEvent: map[Event][]compiledHook{}}, nil
		}
		return nil, fmt.Errorf("hooks: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("hooks: parse %s: %w", path, err)
	}

	byEvent := map[Event][]compiledHook{}
	for name, defs := range cfg.Hooks {
		event := Event(name)
		if event != EventPreToolUse && event != EventPostToolUse && event != EventPermissionRequest {
			return nil, fmt.Errorf("hooks: unknown event %q", name)
		}
		compiled := make([]compiledHook, 0, len(defs))
		for i, def := range defs {
			if def.Match == "" {
				return nil, fmt.Errorf("hooks: %s[%d]: match is required", name, i)
			}
			pattern, err := regexp.Compile(def.Match)
			if err != nil {
				return nil, fmt.Errorf("hooks: %s[%d]: invalid match regex %q: %w", name, i, def.Match, err)
			}
			if def.Command == "" {
				return nil, fmt.Errorf("hooks: %s[%d]: command is required", name, i)
			}
			if def.TimeoutMs == 0 {
				def.TimeoutMs = defaultTimeoutMs
			}
			if def.TimeoutMs <= 0 {
				return nil, fmt.Errorf("hooks: %s[%d]: timeout_ms must be positive", name, i)
			}
			compiled = append(compiled, compiledHook{def: def, pattern: pattern})
		}
		byEvent[event] = compiled
	}
	return &Engine{byEvent: byEvent}, nil
}

// matching returns the subsequence of event's hooks whose match regex tests
// true against toolName, preserving declaration order.
func (e *Engine) matching(event Event, toolName string) []compiledHook {
	var out []compiledHook
	for _, h := range e.byEvent[event] {
		if h.pattern.MatchString(toolName) {
			out = append(out, h)
		}
	}
	return out
}
