// Package tool implements the Tool Registry & Executors and the
// Patch/Edit Engine: a fixed table of named tool
// handlers, each with strict argument validation, cancellation, and
// session-scoped side effects.
package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dcode-run/agentrt/internal/session"
)

// CommandOutEvent is streamed to Context.OnCommandOut while a foreground
// run_terminal_cmd invocation is in flight.
type CommandOutEvent struct {
	Phase  string // "stream"
	Stream string // "stdout" | "stderr"
	Data   string
}

// ProcessHandle lets the agent loop forcibly terminate a registered child
// process on cancellation.
type ProcessHandle interface {
	Kill() error
}

// ProcessTable is the activeProcesses map, keyed by an opaque pid+timestamp
// token; handlers register their child processes here for the duration of
// the call.
type ProcessTable struct {
	mu    sync.Mutex
	procs map[string]ProcessHandle
}

// NewProcessTable returns an empty process table.
func NewProcessTable() *ProcessTable {
	return &ProcessTable{procs: map[string]ProcessHandle{}}
}

// Register adds a running process under key.
func (t *ProcessTable) Register(key string, p ProcessHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.procs[key] = p
}

// Unregister removes a process once it has exited.
func (t *ProcessTable) Unregister(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, key)
}

// KillAll sends SIGTERM (via Kill) to every registered process; used by
// the agent loop's cancellation path.
func (t *ProcessTable) KillAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.procs {
		_ = p.Kill()
	}
}

// Context carries everything a handler needs beyond its own arguments:
// the owning session (for persistence side effects), a streaming output
// callback, a cancellation probe, and the process table.
type Context struct {
	Session         *session.Session
	Store           *session.Store
	WorkDir         string
	OnCommandOut    func(CommandOutEvent)
	IsCancelled     func() bool
	ActiveProcesses *ProcessTable
}

func (c *Context) cancelled() bool {
	return c.IsCancelled != nil && c.IsCancelled()
}

func (c *Context) commandOut(ev CommandOutEvent) {
	if c.OnCommandOut != nil {
		c.OnCommandOut(ev)
	}
}

// SideEffects carries the "_"-prefixed out-of-band fields a tool result
// may produce; the registry routes these into session.Data.Diffs and
// strips them from the JSON sent back to the model.
type SideEffects struct {
	Diff         string
	PatchCommand string
}

func (s SideEffects) any() bool {
	return s.Diff != "" || s.PatchCommand != ""
}

// Result is what a handler returns: a JSON-able payload plus optional
// side effects the registry routes to the session rather than the model.
type Result struct {
	Payload     map[string]interface{}
	SideEffects SideEffects
}

// Handler is the typed signature every tool implements: decode args,
// execute, return a result or an error. The registry's Execute wraps the
// error return so it never propagates past the wrapper.
type Handler func(ctx context.Context, raw json.RawMessage, tc *Context) (*Result, error)

// Def is one entry in the fixed tool table: its name, JSON-schema
// parameter description (for the Provider Adapter's tool conversion),
// and handler.
type Def struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Handler     Handler
}

// Registry is the fixed table of named tool handlers.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Def
}

// NewRegistry returns a Registry pre-populated with the fixed built-in
// tool set.
func NewRegistry() *Registry {
	r := &Registry{tools: map[string]*Def{}}
	for _, def := range builtinTools() {
		r.register(def)
	}
	return r
}

func (r *Registry) register(def *Def) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = def
}

// OverrideSchema replaces the description and parameter schema of an
// already-registered tool, used when a tools catalog carries
// schemas for the built-in tool set. Unknown names are ignored.
func (r *Registry) OverrideSchema(name, description string, parameters map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.tools[name]
	if !ok {
		return
	}
	if description != "" {
		d.Description = description
	}
	if len(parameters) > 0 {
		d.Parameters = parameters
	}
}

// Get retrieves a tool definition by name.
func (r *Registry) Get(name string) (*Def, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// Filtered returns the subset of tools whose name appears in allowed; an
// empty allowlist means "all tools".
func (r *Registry) Filtered(allowed []string) []*Def {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(allowed) == 0 {
		out := make([]*Def, 0, len(r.tools))
		for _, d := range r.tools {
			out = append(out, d)
		}
		return out
	}
	out := make([]*Def, 0, len(allowed))
	for _, name := range allowed {
		if d, ok := r.tools[name]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Execute runs tool name with raw JSON arguments, wrapping a thrown error
// into a validation-shaped failure payload rather than letting it
// propagate.
func (r *Registry) Execute(ctx context.Context, name string, raw json.RawMessage, tc *Context) *Result {
	def, ok := r.Get(name)
	if !ok {
		return errorResult(fmt.Sprintf("unknown tool: %s", name))
	}
	if tc.cancelled() {
		return errorResult("Operation cancelled")
	}
	res, err := def.Handler(ctx, raw, tc)
	if err != nil {
		return errorResult(err.Error())
	}
	return res
}

func errorResult(msg string) *Result {
	return &Result{Payload: map[string]interface{}{"success": false, "error": msg}}
}

func decodeArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func builtinTools() []*Def {
	return []*Def{
		todoWriteDef(),
		runTerminalCmdDef(),
		readFileDef(),
		applyPatchDef(),
		editFileDef(),
		rgDef(),
		deleteFileDef(),
		updateMemoryDef(),
		listDirDef(),
		globFileSearchDef(),
		readLintsDef(),
	}
}
