// Package tools registers external tool schemas, validates and enriches
// tool-call arguments, and formats results for display.
package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tranvh/contextgate/pkg/models"
)

// registered pairs a schema with its compiled validator.
type registered struct {
	schema   models.ToolSchema
	compiled *jsonschema.Schema
}

// Registry holds tool schemas. Schemas are validated once at registration
// and immutable afterwards.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registered
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*registered)}
}

// Register validates and stores a tool schema. Duplicate names and
// malformed schemas are rejected.
func (r *Registry) Register(schema models.ToolSchema) error {
	if schema.Name == "" {
		return fmt.Errorf("tool name is required")
	}

	raw, err := json.Marshal(schema.InputSchema())
	if err != nil {
		return fmt.Errorf("tool %s: failed to encode schema: %w", schema.Name, err)
	}
	compiled, err := jsonschema.CompileString("tool_"+schema.Name, string(raw))
	if err != nil {
		return fmt.Errorf("tool %s: invalid schema: %w", schema.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[schema.Name]; exists {
		return fmt.Errorf("tool %s is already registered", schema.Name)
	}
	r.tools[schema.Name] = &registered{schema: schema, compiled: compiled}
	return nil
}

// Get returns a registered schema by name.
func (r *Registry) Get(name string) (models.ToolSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return models.ToolSchema{}, false
	}
	return reg.schema, true
}

// List returns all registered schemas.
func (r *Registry) List() []models.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolSchema, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, reg.schema)
	}
	return out
}

// ApplyDefaults fills missing arguments from schema defaults and validates
// the result. The returned JSON always parses against the tool's schema.
func (r *Registry) ApplyDefaults(name string, args json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	reg, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tool %s is not registered", name)
	}

	parsed := map[string]any{}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, fmt.Errorf("tool %s: arguments are not a JSON object: %w", name, err)
		}
	}

	for prop, spec := range reg.schema.Properties {
		if _, present := parsed[prop]; !present && spec.Default != nil {
			parsed[prop] = spec.Default
		}
	}

	if err := reg.compiled.Validate(parsed); err != nil {
		return nil, fmt.Errorf("tool %s: invalid arguments: %w", name, err)
	}

	out, err := json.Marshal(parsed)
	if err != nil {
		return nil, fmt.Errorf("tool %s: failed to encode arguments: %w", name, err)
	}
	return out, nil
}
