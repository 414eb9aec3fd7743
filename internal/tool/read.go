package tool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type readFileArgs struct {
	TargetFile string `json:"target_file"`
	Offset     int    `json:"offset,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

var imageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

func readFileDef() *Def {
	return &Def{
		Name:        "read_file",
		Description: "Read a text or image file. Text files are returned with line numbers; images are returned as base64.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"target_file": map[string]interface{}{"type": "string"},
				"offset":      map[string]interface{}{"type": "integer"},
				"limit":       map[string]interface{}{"type": "integer"},
			},
			"required": []string{"target_file"},
		},
		Handler: readFileHandler,
	}
}

func readFileHandler(_ context.Context, raw json.RawMessage, tc *Context) (*Result, error) {
	var args readFileArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.TargetFile == "" {
		return nil, fmt.Errorf("target_file is required")
	}

	path := args.TargetFile
	if !filepath.IsAbs(path) && tc.WorkDir != "" {
		path = filepath.Join(tc.WorkDir, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", args.TargetFile)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", args.TargetFile)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if mime, ok := imageExtensions[ext]; ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return &Result{Payload: map[string]interface{}{
			"mime_type": mime,
			"data_b64":  base64.StdEncoding.EncodeToString(data),
		}}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return &Result{Payload: map[string]interface{}{"content": ""}}, nil
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" && strings.HasSuffix(string(data), "\n") {
		lines = lines[:len(lines)-1]
	}
	total := len(lines)

	start := 0
	if args.Offset > 1 {
		start = args.Offset - 1
	}
	if start > total {
		start = total
	}
	end := total
	if args.Limit > 0 && start+args.Limit < end {
		end = start + args.Limit
	}

	padWidth := len(strconv.Itoa(total))
	if padWidth < 3 {
		padWidth = 3
	}

	numbered := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		numbered = append(numbered, fmt.Sprintf("L%0*d:%s", padWidth, i+1, lines[i]))
	}

	return &Result{Payload: map[string]interface{}{"content": strings.Join(numbered, "\n")}}, nil
}
