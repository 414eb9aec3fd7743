package tool

import (
	"context"
	"encoding/json"
)

func readLintsDef() *Def {
	return &Def{
		Name:        "read_lints",
		Description: "Read linter diagnostics for the workspace.",
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
		Handler: readLintsHandler,
	}
}

func readLintsHandler(_ context.Context, _ json.RawMessage, _ *Context) (*Result, error) {
	return &Result{Payload: map[string]interface{}{
		"output": "No linter errors found.",
	}}, nil
}
