package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolCall is a structured request from the model to invoke a named
// function with JSON arguments. Arguments round-trip as a raw JSON value
// rather than a parsed map so that byte-for-byte provider output is
// preserved — providers disagree subtly on JSON canonicalization and
// callers may depend on exact bytes for signatures (see DESIGN.md).
type ToolCall struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolChoiceMode selects how a provider is steered toward tool use.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceFunction ToolChoiceMode = "function"
)

// ToolChoice pins generation to a specific function when Mode ==
// ToolChoiceFunction.
type ToolChoice struct {
	Mode     ToolChoiceMode `json:"mode"`
	Function string         `json:"function,omitempty"`
}

// ToolDefinition describes a callable function offered to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolRegistry holds the set of tool definitions a request may offer,
// keyed by name with insertion-order-independent equality. Registering an
// existing name is a no-op error — callers are expected to treat it as a
// silent startup condition, matching the spec's registry invariant.
type ToolRegistry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]ToolDefinition
}

// NewToolRegistry returns an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{byName: make(map[string]ToolDefinition)}
}

// Register adds a tool definition. Re-registering an existing name returns
// an error; callers that want spec's "silently ignored at startup" behavior
// should discard it. Parameters must be a valid JSON Schema document; an
// empty or malformed schema is rejected rather than handed to a provider
// that would reject it mid-call.
func (r *ToolRegistry) Register(def ToolDefinition) error {
	if err := validateParameterSchema(def.Name, def.Parameters); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	r.byName[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

var schemaCache sync.Map

func validateParameterSchema(name string, params json.RawMessage) error {
	if len(params) == 0 {
		return fmt.Errorf("tool %q: parameters schema is empty", name)
	}
	key := string(params)
	compiled, ok := schemaCache.Load(key)
	if !ok {
		schema, err := jsonschema.CompileString(name+".parameters.json", key)
		if err != nil {
			return fmt.Errorf("tool %q: invalid parameters schema: %w", name, err)
		}
		schemaCache.Store(key, schema)
		compiled = schema
	}
	_ = compiled.(*jsonschema.Schema)
	return nil
}

// List returns all registered definitions in registration order.
func (r *ToolRegistry) List() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Get looks up a tool definition by name.
func (r *ToolRegistry) Get(name string) (ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[name]
	return def, ok
}
