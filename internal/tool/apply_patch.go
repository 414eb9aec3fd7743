package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type applyPatchArgs struct {
	PatchCommand string `json:"patchCommand"`
}

func applyPatchDef() *Def {
	return &Def{
		Name:        "apply_patch",
		Description: "Apply a multi-file patch in the '*** Begin Patch' / '*** Add File:' / '*** Update File:' / '*** Delete File:' / '*** End Patch' envelope format.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"patchCommand": map[string]interface{}{"type": "string"},
			},
			"required": []string{"patchCommand"},
		},
		Handler: applyPatchHandler,
	}
}

func applyPatchHandler(_ context.Context, raw json.RawMessage, tc *Context) (*Result, error) {
	var args applyPatchArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.PatchCommand == "" {
		return nil, fmt.Errorf("patchCommand is required")
	}

	ops, err := parsePatch(args.PatchCommand)
	if err != nil {
		return nil, fmt.Errorf("invalid patch: %w", err)
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("patch contains no file operations")
	}

	resolve := func(p string) string {
		if filepath.IsAbs(p) || tc.WorkDir == "" {
			return p
		}
		return filepath.Join(tc.WorkDir, p)
	}

	var diffs []string
	filesChanged := make([]string, 0, len(ops))

	for _, op := range ops {
		path := resolve(op.Path)
		switch op.Kind {
		case "add":
			if _, err := os.Stat(path); err == nil {
				return nil, fmt.Errorf("cannot add %s: file already exists", op.Path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(path, []byte(op.AddBody), 0o644); err != nil {
				return nil, err
			}
			diffs = append(diffs, unifiedDiff(op.Path, "", op.AddBody))

		case "delete":
			original, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("cannot delete %s: %w", op.Path, err)
			}
			if err := os.Remove(path); err != nil {
				return nil, err
			}
			if tc.Session != nil {
				tc.Session.Data.FileOriginals[path] = string(original)
			}
			diffs = append(diffs, unifiedDiff(op.Path, string(original), ""))

		case "update":
			original, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("cannot update %s: %w", op.Path, err)
			}
			updated, err := applyUpdateHunks(string(original), op.Hunks)
			if err != nil {
				return nil, fmt.Errorf("update %s: %w", op.Path, err)
			}

			destPath := path
			destLabel := op.Path
			if op.MovePath != "" {
				destPath = resolve(op.MovePath)
				destLabel = op.MovePath
			}

			if tc.Session != nil {
				if _, captured := tc.Session.Data.FileOriginals[path]; !captured {
					tc.Session.Data.FileOriginals[path] = string(original)
				}
			}

			if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
				return nil, err
			}
			if err := os.WriteFile(destPath, []byte(updated), 0o644); err != nil {
				return nil, err
			}
			if op.MovePath != "" && destPath != path {
				_ = os.Remove(path)
			}
			diffs = append(diffs, unifiedDiff(destLabel, string(original), updated))

		default:
			return nil, fmt.Errorf("unknown patch operation %q", op.Kind)
		}
		filesChanged = append(filesChanged, op.Path)
	}

	combined := ""
	for _, d := range diffs {
		combined += d
	}

	return &Result{
		Payload: map[string]interface{}{
			"success":       true,
			"files_changed": filesChanged,
		},
		SideEffects: SideEffects{
			Diff:         combined,
			PatchCommand: args.PatchCommand,
		},
	}, nil
}
