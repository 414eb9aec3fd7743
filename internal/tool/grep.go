package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

type rgArgs struct {
	Pattern         string `json:"pattern"`
	Path            string `json:"path,omitempty"`
	OutputMode      string `json:"output_mode,omitempty"` // content|files_with_matches|count
	CaseInsensitive bool   `json:"-i,omitempty"`
	After           int    `json:"-A,omitempty"`
	Before          int    `json:"-B,omitempty"`
	Around          int    `json:"-C,omitempty"`
	Type            string `json:"type,omitempty"`
	Glob            string `json:"glob,omitempty"`
	Multiline       bool   `json:"multiline,omitempty"`
	HeadLimit       int    `json:"head_limit,omitempty"`
}

func rgDef() *Def {
	return &Def{
		Name:        "rg",
		Description: "Search file contents with ripgrep. output_mode 'content' (default) returns matching lines grouped by file; 'files_with_matches' and 'count' return file-level summaries.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"pattern":     map[string]interface{}{"type": "string"},
				"path":        map[string]interface{}{"type": "string"},
				"output_mode": map[string]interface{}{"type": "string", "enum": []string{"content", "files_with_matches", "count"}},
				"-i":          map[string]interface{}{"type": "boolean"},
				"-A":          map[string]interface{}{"type": "integer"},
				"-B":          map[string]interface{}{"type": "integer"},
				"-C":          map[string]interface{}{"type": "integer"},
				"type":        map[string]interface{}{"type": "string"},
				"glob":        map[string]interface{}{"type": "string"},
				"multiline":   map[string]interface{}{"type": "boolean"},
				"head_limit":  map[string]interface{}{"type": "integer"},
			},
			"required": []string{"pattern"},
		},
		Handler: rgHandler,
	}
}

func rgHandler(ctx context.Context, raw json.RawMessage, tc *Context) (*Result, error) {
	var args rgArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Pattern == "" {
		return nil, fmt.Errorf("pattern is required")
	}
	if _, err := exec.LookPath("rg"); err != nil {
		return nil, fmt.Errorf("ripgrep (rg) is not installed")
	}

	mode := args.OutputMode
	if mode == "" {
		mode = "content"
	}

	searchPath := args.Path
	if searchPath == "" {
		searchPath = "."
	}
	if !filepath.IsAbs(searchPath) && tc.WorkDir != "" {
		searchPath = filepath.Join(tc.WorkDir, searchPath)
	}

	var cmdArgs []string
	switch mode {
	case "files_with_matches":
		cmdArgs = append(cmdArgs, "--files-with-matches")
	case "count":
		cmdArgs = append(cmdArgs, "--count")
	default:
		cmdArgs = append(cmdArgs, "--no-heading", "--line-number", "--with-filename")
	}
	if args.CaseInsensitive {
		cmdArgs = append(cmdArgs, "--ignore-case")
	}
	if args.Around > 0 {
		cmdArgs = append(cmdArgs, fmt.Sprintf("--context=%d", args.Around))
	} else {
		if args.After > 0 {
			cmdArgs = append(cmdArgs, fmt.Sprintf("--after-context=%d", args.After))
		}
		if args.Before > 0 {
			cmdArgs = append(cmdArgs, fmt.Sprintf("--before-context=%d", args.Before))
		}
	}
	if args.Type != "" {
		cmdArgs = append(cmdArgs, "--type", args.Type)
	}
	if args.Glob != "" {
		cmdArgs = append(cmdArgs, "--glob", args.Glob)
	}
	if args.Multiline {
		cmdArgs = append(cmdArgs, "--multiline", "--multiline-dotall")
	}
	cmdArgs = append(cmdArgs, "--", args.Pattern, searchPath)

	cmd := exec.CommandContext(ctx, "rg", cmdArgs...)
	cmd.Dir = tc.WorkDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	workspacePath := tc.WorkDir
	if workspacePath == "" {
		workspacePath = "."
	}

	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return &Result{Payload: map[string]interface{}{
				"output": wrapWorkspaceResult(workspacePath, "Found 0 matching lines"),
			}}, nil
		}
		return nil, fmt.Errorf("rg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	out := strings.TrimRight(stdout.String(), "\n")
	if mode != "content" {
		lines := strings.Split(out, "\n")
		if args.HeadLimit > 0 && len(lines) > args.HeadLimit {
			lines = lines[:args.HeadLimit]
		}
		body := fmt.Sprintf("Found %d matching lines\n%s", len(lines), strings.Join(lines, "\n"))
		return &Result{Payload: map[string]interface{}{
			"output": wrapWorkspaceResult(workspacePath, body),
		}}, nil
	}

	return &Result{Payload: map[string]interface{}{
		"output": wrapWorkspaceResult(workspacePath, formatContentMatches(out, workspacePath, args.HeadLimit)),
	}}, nil
}

// formatContentMatches regroups ripgrep's file:line:text output by file:
//
//	Found N matching lines
//	<file>
//	<lineno>:<content>
func formatContentMatches(raw, workspacePath string, headLimit int) string {
	if raw == "" {
		return "Found 0 matching lines"
	}

	byFile := map[string][]string{}
	var order []string
	total := 0

	for _, line := range strings.Split(raw, "\n") {
		file, rest, ok := splitFileLine(line)
		if !ok {
			continue
		}
		if rel, err := filepath.Rel(workspacePath, file); err == nil && !strings.HasPrefix(rel, "..") {
			file = rel
		}
		if headLimit > 0 && total >= headLimit {
			break
		}
		if _, seen := byFile[file]; !seen {
			order = append(order, file)
		}
		byFile[file] = append(byFile[file], rest)
		total++
	}
	sort.Strings(order)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d matching lines", total)
	for _, file := range order {
		sb.WriteString("\n" + file)
		for _, m := range byFile[file] {
			sb.WriteString("\n" + m)
		}
	}
	return sb.String()
}

// splitFileLine splits "path:lineno:content" at the path boundary: the
// first colon followed by a digit run and another colon.
func splitFileLine(line string) (file, rest string, ok bool) {
	idx := strings.Index(line, ":")
	for idx >= 0 {
		tail := line[idx+1:]
		if n := strings.IndexByte(tail, ':'); n > 0 && allDigits(tail[:n]) {
			return line[:idx], tail, true
		}
		next := strings.Index(tail, ":")
		if next < 0 {
			break
		}
		idx = idx + 1 + next
	}
	return "", "", false
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func wrapWorkspaceResult(workspacePath, body string) string {
	return fmt.Sprintf("<workspace_result workspace_path=%q>\n%s\n</workspace_result>", workspacePath, body)
}
