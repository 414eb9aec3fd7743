package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.MaxIterations != 100 {
		t.Fatalf("default max_iterations should be 100, got %d", cfg.MaxIterations)
	}
	if cfg.ChatsDir != filepath.Join(dir, "chats") {
		t.Fatalf("unexpected chats_dir: %s", cfg.ChatsDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadFromFileOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `{"max_iterations": 7, "default_model": "fast"}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.MaxIterations != 7 || cfg.DefaultModel != "fast" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestMemoryFilePathEnvOverride(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatal(err)
	}

	t.Setenv("DCODE_MEMORY_FILE", "/tmp/custom-memory.md")
	if got := cfg.MemoryFilePath(); got != "/tmp/custom-memory.md" {
		t.Fatalf("env override not honored: %s", got)
	}
}

func TestLoadModelsCatalog(t *testing.T) {
	dir := t.TempDir()
	catalog := `[
		{"name": "main", "model_id": "gpt-5", "reasoning_effort": "high"},
		{"name": "flash", "model_id": "gemini-2.5-flash", "tool_name_allowlist": ["read_file", "rg"]}
	]`
	if err := os.WriteFile(filepath.Join(dir, "models.json"), []byte(catalog), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatal(err)
	}
	models, err := cfg.LoadModels()
	if err != nil {
		t.Fatalf("LoadModels: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	if err := ValidateModels(models); err != nil {
		t.Fatalf("catalog should validate: %v", err)
	}

	m := FindModel(models, "flash")
	if m == nil || m.ModelID != "gemini-2.5-flash" {
		t.Fatalf("FindModel failed: %+v", m)
	}
	if len(m.ToolNameAllowlist) != 2 {
		t.Fatalf("allowlist not parsed: %+v", m)
	}
	if !m.Equal(models[1]) || m.Equal(models[0]) {
		t.Fatalf("model equality should be by name")
	}
}

func TestLoadModelsRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	catalog := `[{"name": "a", "model_id": "x"}, {"name": "a", "model_id": "y"}]`
	if err := os.WriteFile(filepath.Join(dir, "models.json"), []byte(catalog), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.LoadModels(); err == nil {
		t.Fatalf("expected duplicate-name error")
	}
}

func TestModelReloadAPIKeyFromFile(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key.txt")
	if err := os.WriteFile(keyFile, []byte("sk-first\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	m := &Model{Name: "m", ModelID: "gpt-5", APIKeyFile: keyFile}
	if err := m.ReloadAPIKey(); err != nil {
		t.Fatal(err)
	}
	if m.APIKey != "sk-first" {
		t.Fatalf("key not loaded/trimmed: %q", m.APIKey)
	}

	if err := os.WriteFile(keyFile, []byte("sk-second"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := m.ReloadAPIKey(); err != nil {
		t.Fatal(err)
	}
	if m.APIKey != "sk-second" {
		t.Fatalf("key not reloaded: %q", m.APIKey)
	}
}

func TestParseToolsCatalogBothShapes(t *testing.T) {
	catalog := `[
		{"type": "function", "function": {"name": "nested_tool", "description": "d", "parameters": {"type": "object"}}},
		{"type": "function", "name": "flat_tool", "description": "d", "parameters": {"type": "object"}}
	]`
	defs, err := ParseToolsCatalog([]byte(catalog))
	if err != nil {
		t.Fatalf("ParseToolsCatalog: %v", err)
	}
	if len(defs) != 2 || defs[0].Name != "nested_tool" || defs[1].Name != "flat_tool" {
		t.Fatalf("both shapes should normalize: %+v", defs)
	}
}

func TestParseToolsCatalogSingleQuotedStringSchema(t *testing.T) {
	catalog := `[{"type": "function", "name": "t", "parameters": "{'type': 'object', 'properties': {'n': {'type': 'integer'}}}"}]`
	defs, err := ParseToolsCatalog([]byte(catalog))
	if err != nil {
		t.Fatalf("ParseToolsCatalog: %v", err)
	}
	params := defs[0].Parameters
	if params["type"] != "object" {
		t.Fatalf("stringified schema not parsed: %+v", params)
	}
	props, _ := params["properties"].(map[string]interface{})
	n, _ := props["n"].(map[string]interface{})
	if n["type"] != "integer" {
		t.Fatalf("nested property lost: %+v", params)
	}
}

func TestCoerceSchemaStringifiedScalars(t *testing.T) {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"count": map[string]interface{}{
				"type":    "integer",
				"minimum": "0",
				"maximum": "100",
			},
			"flag": map[string]interface{}{
				"type":    "boolean",
				"default": "True",
			},
			"nested": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "number", "minimum": "1.5"},
			},
		},
		"additionalProperties": "False",
	}

	out := coerceSchema(schema)
	if out["additionalProperties"] != false {
		t.Fatalf(`"False" should coerce to false: %+v`, out["additionalProperties"])
	}
	props := out["properties"].(map[string]interface{})
	count := props["count"].(map[string]interface{})
	if count["minimum"] != float64(0) || count["maximum"] != float64(100) {
		t.Fatalf("stringified numbers not coerced: %+v", count)
	}
	flag := props["flag"].(map[string]interface{})
	if flag["default"] != true {
		t.Fatalf(`"True" should coerce to true: %+v`, flag)
	}
	items := props["nested"].(map[string]interface{})["items"].(map[string]interface{})
	if items["minimum"] != 1.5 {
		t.Fatalf("nested items not coerced: %+v", items)
	}
}

func TestCoerceSchemaDescendsCombinators(t *testing.T) {
	schema := map[string]interface{}{
		"anyOf": []interface{}{
			map[string]interface{}{"type": "integer", "minimum": "1"},
			"{'type': 'string'}",
		},
		"not": map[string]interface{}{"type": "null", "x": "False"},
	}

	out := coerceSchema(schema)
	anyOf := out["anyOf"].([]interface{})
	first := anyOf[0].(map[string]interface{})
	if first["minimum"] != float64(1) {
		t.Fatalf("anyOf[0] not coerced: %+v", first)
	}
	second, ok := anyOf[1].(map[string]interface{})
	if !ok || second["type"] != "string" {
		t.Fatalf("anyOf[1] stringified schema not parsed: %+v", anyOf[1])
	}
	not := out["not"].(map[string]interface{})
	if not["x"] != false {
		t.Fatalf("not sub-schema not coerced: %+v", not)
	}
}

func TestValidateModelsCatchesProblems(t *testing.T) {
	models := []*Model{
		{Name: "", ModelID: "x"},
		{Name: "b", ModelID: ""},
		{Name: "c", ModelID: "y", SystemPrompt: "p", SystemPromptFile: "f"},
	}
	err := ValidateModels(models)
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok || len(verrs) != 3 {
		t.Fatalf("expected 3 errors, got %v", err)
	}
}
