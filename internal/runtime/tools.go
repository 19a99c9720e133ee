package runtime

import (
	"fmt"
	"strconv"
	"strings"
)

// Param describes one tool argument as a JSON schema fragment.
type Param struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Items       *Param   `json:"items,omitempty"`
	// Properties is used for arrays of objects.
	Properties map[string]Param `json:"properties,omitempty"`
}

// ToolSpec is a tool definition handed to the backend.
type ToolSpec struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Parameters  map[string]Param `json:"parameters,omitempty"`
	Required    []string         `json:"required,omitempty"`
}

// Schema renders the parameter set as a JSON schema "properties" map.
func (t ToolSpec) Schema() map[string]interface{} {
	props := make(map[string]interface{}, len(t.Parameters))
	for name, p := range t.Parameters {
		props[name] = p.schema()
	}
	return props
}

// JSONSchema renders the tool input as a complete JSON schema object, the
// shape MCP clients expect.
func (t ToolSpec) JSONSchema() map[string]interface{} {
	out := map[string]interface{}{
		"type":       "object",
		"properties": t.Schema(),
	}
	if len(t.Required) > 0 {
		out["required"] = append([]string(nil), t.Required...)
	}
	return out
}

func (p Param) schema() map[string]interface{} {
	out := map[string]interface{}{"type": p.Type}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	if p.Items != nil {
		out["items"] = p.Items.schema()
	}
	if len(p.Properties) > 0 {
		props := make(map[string]interface{}, len(p.Properties))
		for name, sub := range p.Properties {
			props[name] = sub.schema()
		}
		out["properties"] = props
	}
	return out
}

// Catalog is an ordered set of tools with a single dispatch function.
type Catalog struct {
	Specs   []ToolSpec
	Handler ToolHandler
}

// Lookup returns the tool with the given name.
func (c Catalog) Lookup(name string) (ToolSpec, bool) {
	for _, s := range c.Specs {
		if s.Name == name {
			return s, true
		}
	}
	return ToolSpec{}, false
}

// Argument helpers. Models send JSON, so numbers arrive as float64 and
// lists as []interface{}; these normalise the common shapes.

// StringArg returns a string argument or "".
func StringArg(args map[string]interface{}, key string) string {
	switch v := args[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// BoolArg returns a boolean argument, accepting "true"/"false" strings.
func BoolArg(args map[string]interface{}, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	default:
		return false
	}
}

// IntArg returns an integer argument or def.
func IntArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// StringsArg returns a list argument. A single string, or a comma separated
// string, is accepted as well.
func StringsArg(args map[string]interface{}, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		return nil
	}
}

// ObjectsArg returns a list of objects argument.
func ObjectsArg(args map[string]interface{}, key string) []map[string]interface{} {
	raw, ok := args[key].([]interface{})
	if !ok {
		if typed, ok := args[key].([]map[string]interface{}); ok {
			return typed
		}
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}
