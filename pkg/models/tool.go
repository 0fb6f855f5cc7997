package models

// ToolProperty describes one field of a tool's input object.
type ToolProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
}

// ToolSchema is a JSON-schema-shaped tool definition. Schemas are validated
// once at registration and immutable thereafter.
type ToolSchema struct {
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Properties  map[string]ToolProperty `json:"properties"`
	Required    []string                `json:"required,omitempty"`
}

// InputSchema renders the schema as a plain JSON-schema object, the shape
// provider APIs expect.
func (t *ToolSchema) InputSchema() map[string]any {
	props := make(map[string]any, len(t.Properties))
	for name, p := range t.Properties {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(t.Required) > 0 {
		schema["required"] = t.Required
	}
	return schema
}
