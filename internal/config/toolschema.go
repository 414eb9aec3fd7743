package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ToolDefinition is one normalized tools-catalog entry. The catalog accepts
// both the nested {type:"function", function:{...}} shape and the flat
// {type:"function", name, ...} shape; both normalize to this.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	Strict      bool                   `json:"strict,omitempty"`
}

// rawToolEntry covers both accepted wire shapes.
type rawToolEntry struct {
	Type     string `json:"type"`
	Function *struct {
		Name        string      `json:"name"`
		Description string      `json:"description"`
		Parameters  interface{} `json:"parameters"`
		Strict      bool        `json:"strict"`
	} `json:"function"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  interface{} `json:"parameters"`
	Strict      bool        `json:"strict"`
}

// LoadTools reads and normalizes the tools catalog. A missing file is not
// an error; the runtime falls back to its built-in tool table.
func (c *Config) LoadTools() ([]ToolDefinition, error) {
	data, err := os.ReadFile(c.ToolsCatalog)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tools catalog: %w", err)
	}
	return ParseToolsCatalog(data)
}

// ParseToolsCatalog parses a JSON array of tool definitions in either
// accepted shape, normalizing parameter sub-schemas as it goes.
func ParseToolsCatalog(data []byte) ([]ToolDefinition, error) {
	var raw []rawToolEntry
	if err := json.Unmarshal([]byte(stripJSONC(string(data))), &raw); err != nil {
		return nil, fmt.Errorf("parse tools catalog: %w", err)
	}

	out := make([]ToolDefinition, 0, len(raw))
	for i, entry := range raw {
		def := ToolDefinition{}
		switch {
		case entry.Function != nil:
			def.Name = entry.Function.Name
			def.Description = entry.Function.Description
			def.Parameters = normalizeSchemaValue(entry.Function.Parameters)
			def.Strict = entry.Function.Strict
		case entry.Name != "":
			def.Name = entry.Name
			def.Description = entry.Description
			def.Parameters = normalizeSchemaValue(entry.Parameters)
			def.Strict = entry.Strict
		default:
			return nil, fmt.Errorf("tools catalog entry %d has neither a function object nor a name", i)
		}
		if def.Name == "" {
			return nil, fmt.Errorf("tools catalog entry %d has an empty name", i)
		}
		out = append(out, def)
	}
	return out, nil
}

// normalizeSchemaValue turns a parameters value into a schema map. The
// value may already be an object, or a JSON string (often single-quoted)
// that needs parsing first.
func normalizeSchemaValue(v interface{}) map[string]interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return coerceSchema(val)
	case string:
		parsed, ok := parseLooseJSONObject(val)
		if !ok {
			return map[string]interface{}{}
		}
		return coerceSchema(parsed)
	default:
		return map[string]interface{}{}
	}
}

// parseLooseJSONObject parses a stringified schema, retrying with single
// quotes replaced by double quotes, the form Python-generated catalogs
// commonly carry.
func parseLooseJSONObject(s string) (map[string]interface{}, bool) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err == nil {
		return m, true
	}
	requoted := strings.ReplaceAll(s, "'", `"`)
	if err := json.Unmarshal([]byte(requoted), &m); err == nil {
		return m, true
	}
	return nil, false
}

// schemaDescendKeys are the sub-schema carriers coercion recurses into.
var schemaDescendKeys = []string{"items", "not"}

var schemaDescendListKeys = []string{"anyOf", "oneOf", "allOf"}

var schemaDescendMapKeys = []string{"properties", "patternProperties"}

// coerceSchema recursively fixes up a schema object: stringified numbers
// and booleans (including Python's "True"/"False") become real numbers and
// booleans, and nested stringified schemas are parsed.
func coerceSchema(schema map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		out[k] = v
	}

	for _, key := range schemaDescendMapKeys {
		if sub, ok := out[key].(map[string]interface{}); ok {
			fixed := make(map[string]interface{}, len(sub))
			for name, prop := range sub {
				fixed[name] = coerceNestedSchema(prop)
			}
			out[key] = fixed
		}
	}
	for _, key := range schemaDescendKeys {
		if _, ok := out[key]; ok {
			out[key] = coerceNestedSchema(out[key])
		}
	}
	for _, key := range schemaDescendListKeys {
		if list, ok := out[key].([]interface{}); ok {
			fixed := make([]interface{}, len(list))
			for i, item := range list {
				fixed[i] = coerceNestedSchema(item)
			}
			out[key] = fixed
		}
	}

	for k, v := range out {
		if isDescendKey(k) {
			continue
		}
		out[k] = coerceScalar(v)
	}
	return out
}

func isDescendKey(k string) bool {
	for _, key := range schemaDescendMapKeys {
		if k == key {
			return true
		}
	}
	for _, key := range schemaDescendKeys {
		if k == key {
			return true
		}
	}
	for _, key := range schemaDescendListKeys {
		if k == key {
			return true
		}
	}
	return false
}

// coerceNestedSchema handles a value expected to be a schema: an object is
// coerced in place, a string is parsed (single-quote tolerant) first.
func coerceNestedSchema(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return coerceSchema(val)
	case string:
		if parsed, ok := parseLooseJSONObject(val); ok {
			return coerceSchema(parsed)
		}
		return val
	default:
		return v
	}
}

// coerceScalar converts stringified numbers and booleans. Strings that are
// neither stay strings; non-strings pass through, with lists coerced
// element-wise.
func coerceScalar(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		switch val {
		case "true", "True":
			return true
		case "false", "False":
			return false
		}
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return float64(n)
		}
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
		return val
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = coerceScalar(item)
		}
		return out
	default:
		return v
	}
}
