package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type listDirArgs struct {
	TargetDirectory string   `json:"target_directory"`
	IgnoreGlobs     []string `json:"ignore_globs,omitempty"`
}

func listDirDef() *Def {
	return &Def{
		Name:        "list_dir",
		Description: "List a directory's immediate children alphabetically. Dotfiles are hidden, directories are suffixed with '/', and ignore_globs filters entries out.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"target_directory": map[string]interface{}{"type": "string"},
				"ignore_globs": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
			},
			"required": []string{"target_directory"},
		},
		Handler: listDirHandler,
	}
}

func listDirHandler(_ context.Context, raw json.RawMessage, tc *Context) (*Result, error) {
	var args listDirArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.TargetDirectory == "" {
		return nil, fmt.Errorf("target_directory is required")
	}

	path := args.TargetDirectory
	if !filepath.IsAbs(path) && tc.WorkDir != "" {
		path = filepath.Join(tc.WorkDir, path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", args.TargetDirectory, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if ignored(name, args.IgnoreGlobs) {
			continue
		}
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return &Result{Payload: map[string]interface{}{"entries": names}}, nil
}

func ignored(name string, globs []string) bool {
	for _, g := range globs {
		if matchGlob(g, name) {
			return true
		}
	}
	return false
}
