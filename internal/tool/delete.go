package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
)

type deleteFileArgs struct {
	TargetFile string `json:"target_file"`
}

func deleteFileDef() *Def {
	return &Def{
		Name:        "delete_file",
		Description: "Delete a file. Returns {ok:false} rather than an error if the file does not exist.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"target_file": map[string]interface{}{"type": "string"},
			},
			"required": []string{"target_file"},
		},
		Handler: deleteFileHandler,
	}
}

func deleteFileHandler(_ context.Context, raw json.RawMessage, tc *Context) (*Result, error) {
	var args deleteFileArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	path := args.TargetFile
	if !filepath.IsAbs(path) && tc.WorkDir != "" {
		path = filepath.Join(tc.WorkDir, path)
	}

	original, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Result{Payload: map[string]interface{}{"ok": false, "error": "File does not exist"}}, nil
		}
		return nil, err
	}

	if err := os.Remove(path); err != nil {
		return nil, err
	}

	if tc.Session != nil {
		tc.Session.Data.FileOriginals[path] = string(original)
	}

	return &Result{
		Payload: map[string]interface{}{"ok": true},
		SideEffects: SideEffects{
			Diff:         unifiedDiff(args.TargetFile, string(original), ""),
			PatchCommand: "delete_file " + args.TargetFile,
		},
	}, nil
}
