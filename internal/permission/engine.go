package permission

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Engine implements the permission checking logic.
type Engine struct {
	mu       sync.Mutex
	config   *Config
	ruleSet  *RuleSet
	mode     Mode
	cache    map[string]*Response
	cacheMax int
}

// NewEngine creates a new permission engine.
func NewEngine(cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig(".")
	}

	ruleSet, err := NewRuleSet(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ruleset: %w", err)
	}

	return &Engine{
		config:   cfg,
		ruleSet:  ruleSet,
		mode:     cfg.DefaultMode,
		cache:    make(map[string]*Response),
		cacheMax: 1000,
	}, nil
}

// CheckTool classifies a tool call and checks it. path carries the target
// file for file tools or the command text for run_terminal_cmd.
func (e *Engine) CheckTool(ctx context.Context, toolName, path string) (*Response, error) {
	return e.Check(ctx, &Request{
		Action: ActionForTool(toolName),
		Tool:   toolName,
		Path:   path,
	})
}

// Check verifies if an action is allowed.
func (e *Engine) Check(ctx context.Context, req *Request) (*Response, error) {
	e.mu.Lock()

	cacheKey := fmt.Sprintf("%s:%s:%s", req.Action, req.Tool, req.Path)
	if cached, ok := e.cache[cacheKey]; ok {
		e.mu.Unlock()
		return cached, nil
	}

	mode := e.getModeForAction(req.Action)

	// Session-state mutations never leave the session file; they are not
	// gated regardless of mode.
	if req.Action == ActionSession {
		resp := &Response{Allowed: true, Mode: mode, Reason: "Session-scoped mutation"}
		e.cacheResponse(cacheKey, resp)
		e.mu.Unlock()
		return resp, nil
	}

	switch mode {
	case ModeAuto:
		if denied, reason := e.deniedByRules(req); denied {
			resp := &Response{Allowed: false, Mode: mode, Reason: reason}
			e.cacheResponse(cacheKey, resp)
			e.mu.Unlock()
			return resp, nil
		}
		resp := &Response{Allowed: true, Mode: mode, Reason: "Auto-approved"}
		e.cacheResponse(cacheKey, resp)
		e.mu.Unlock()
		return resp, nil

	case ModeDeny:
		resp := &Response{Allowed: false, Mode: mode, Reason: "Denied by deny mode"}
		e.cacheResponse(cacheKey, resp)
		e.mu.Unlock()
		return resp, nil

	case ModePrompt:
		if denied, reason := e.deniedByRules(req); denied {
			resp := &Response{Allowed: false, Mode: mode, Reason: reason}
			e.cacheResponse(cacheKey, resp)
			e.mu.Unlock()
			return resp, nil
		}
		if allowed, reason := e.allowedByRules(req); allowed {
			resp := &Response{Allowed: true, Mode: mode, Reason: reason}
			e.cacheResponse(cacheKey, resp)
			e.mu.Unlock()
			return resp, nil
		}

		promptFn := e.config.PromptFunc
		e.mu.Unlock()
		if promptFn == nil {
			return nil, ErrNoPromptFunc
		}
		allowed, err := promptFn(ctx, req)
		if err != nil {
			return nil, err
		}
		resp := &Response{Allowed: allowed, Mode: mode, Reason: "User decision"}
		e.mu.Lock()
		e.cacheResponse(cacheKey, resp)
		e.mu.Unlock()
		return resp, nil
	}

	e.mu.Unlock()
	return &Response{Allowed: false, Mode: mode, Reason: "Unknown permission mode"}, nil
}

// SetMode changes the global permission mode.
func (e *Engine) SetMode(mode Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = mode
	e.cache = make(map[string]*Response)
}

// GetMode returns the current permission mode.
func (e *Engine) GetMode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetActionMode sets the mode for a specific action.
func (e *Engine) SetActionMode(action Action, mode Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch action {
	case ActionBash:
		e.config.BashMode = mode
	case ActionEdit:
		e.config.EditMode = mode
	case ActionDelete:
		e.config.DeleteMode = mode
	}

	e.cache = make(map[string]*Response)
}

func (e *Engine) getModeForAction(action Action) Mode {
	switch action {
	case ActionBash:
		if e.config.BashMode != "" {
			return e.config.BashMode
		}
	case ActionEdit:
		if e.config.EditMode != "" {
			return e.config.EditMode
		}
	case ActionDelete:
		if e.config.DeleteMode != "" {
			return e.config.DeleteMode
		}
	}
	return e.mode
}

func (e *Engine) deniedByRules(req *Request) (bool, string) {
	switch req.Action {
	case ActionBash:
		if e.ruleSet.IsCommandDenied(req.Path) {
			return true, "Command matches denied pattern"
		}
	case ActionRead, ActionEdit, ActionDelete:
		if req.Path == "" {
			return false, ""
		}
		if e.ruleSet.IsPathDenied(req.Path) {
			return true, "Path matches denied pattern"
		}
		if isSensitiveFile(req.Path) && req.Action != ActionRead {
			return true, "Refusing to modify a sensitive file"
		}
	}
	return false, ""
}

func (e *Engine) allowedByRules(req *Request) (bool, string) {
	switch req.Action {
	case ActionBash:
		if e.ruleSet.IsCommandAllowed(req.Path) {
			return true, "Command matches allowed pattern"
		}
		if IsSafeCommand(req.Path) {
			return true, "Command is considered safe"
		}
	case ActionRead, ActionEdit, ActionDelete:
		if e.ruleSet.IsPathAllowed(req.Path) {
			return true, "Path matches allowed pattern"
		}
		if req.Path != "" && !IsExternalPath(req.Path, e.config.ProjectDir) && !isSensitiveFile(req.Path) {
			return true, "File is within project and not sensitive"
		}
	}
	return false, ""
}

func (e *Engine) cacheResponse(key string, resp *Response) {
	if len(e.cache) >= e.cacheMax {
		for k := range e.cache {
			delete(e.cache, k)
			if len(e.cache) < e.cacheMax/2 {
				break
			}
		}
	}
	e.cache[key] = resp
}

// isSensitiveFile checks if a path names a credentials-bearing file.
func isSensitiveFile(path string) bool {
	sensitive := []string{
		".env", ".env.local", ".env.production",
		"credentials", "secrets", "id_rsa", "id_ed25519",
		".npmrc", ".pypirc", ".netrc",
	}

	base := filepath.Base(filepath.ToSlash(path))
	for _, s := range sensitive {
		if base == s {
			return true
		}
	}
	return strings.HasPrefix(base, ".env.")
}

// ClearCache clears the permission cache.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]*Response)
}
