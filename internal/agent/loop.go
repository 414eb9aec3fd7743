package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dcode-run/agentrt/internal/config"
	"github.com/dcode-run/agentrt/internal/hooks"
	"github.com/dcode-run/agentrt/internal/permission"
	"github.com/dcode-run/agentrt/internal/provider"
	"github.com/dcode-run/agentrt/internal/session"
	"github.com/dcode-run/agentrt/internal/tool"
	"github.com/dcode-run/agentrt/internal/worktree"
)

// ErrCancelled is returned whenever a run is aborted; callers treat it as
// non-failure.
var ErrCancelled = errors.New("Operation cancelled")

// DefaultMaxIterations bounds the request/tool loop when the config does
// not say otherwise.
const DefaultMaxIterations = 100

// titleMaxLen caps the stored session title.
const titleMaxLen = 200

// Streamer is the provider surface the loop drives; *provider.Adapter
// satisfies it.
type Streamer interface {
	Stream(ctx context.Context, req *provider.MessageRequest) (<-chan *provider.Event, error)
}

// Result is what one Complete call yields once the model stops requesting
// tools.
type Result struct {
	Text       string
	Reasoning  string
	Usage      provider.Usage
	Iterations int
}

// Loop drives the bounded request → stream parse → tool dispatch →
// tool-message injection iteration for one session.
type Loop struct {
	Store       *session.Store
	Session     *session.Session
	Provider    Streamer
	Registry    *tool.Registry
	Hooks       *hooks.Hooks
	Model       *config.Model
	Agent       *Agent
	Permissions *permission.Engine

	MaxIterations int
	MaxTokens     int

	mu        sync.Mutex
	cancelled bool
	cancelCtx context.CancelFunc
	procs     *tool.ProcessTable
}

// New assembles a Loop with defaults filled in.
func New(store *session.Store, sess *session.Session, prov Streamer, reg *tool.Registry, h *hooks.Hooks, model *config.Model) *Loop {
	return &Loop{
		Store:         store,
		Session:       sess,
		Provider:      prov,
		Registry:      reg,
		Hooks:         h,
		Model:         model,
		Agent:         GetAgent("coder"),
		MaxIterations: DefaultMaxIterations,
		MaxTokens:     8192,
		procs:         tool.NewProcessTable(),
	}
}

// Cancel aborts the in-flight request and terminates every registered
// child process. Safe to call from any goroutine.
func (l *Loop) Cancel() {
	l.mu.Lock()
	l.cancelled = true
	cancel := l.cancelCtx
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	l.procs.KillAll()
}

func (l *Loop) isCancelled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancelled
}

// Complete appends userMessage to the session and iterates model calls and
// tool dispatch until the model yields no tool calls, the iteration bound
// is hit, or the run is cancelled.
func (l *Loop) Complete(ctx context.Context, userMessage string) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	l.mu.Lock()
	l.cancelCtx = cancel
	l.cancelled = false
	l.mu.Unlock()

	if err := l.Store.ApplySystemPrompt(l.Session, l.systemPrompt(), l.systemPromptFile()); err != nil {
		return nil, err
	}
	if userMessage != "" {
		if err := l.Store.AddMessage(l.Session, session.Message{Role: "user", Content: userMessage}); err != nil {
			return nil, err
		}
	}

	maxIter := l.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	var total provider.Usage
	prunedOnce := false

	for iter := 0; iter < maxIter; iter++ {
		if l.isCancelled() {
			return nil, ErrCancelled
		}

		req := l.buildRequest()
		turn, err := l.streamOnce(ctx, req)
		if err != nil {
			var ce *provider.ClassifiedError
			if errors.As(err, &ce) && ce.Type == provider.ErrorTypeContextOverflow && !prunedOnce {
				// Drop stale tool outputs and retry the same iteration once.
				l.Session.Messages = session.PruneToolOutputs(l.Session.Messages, true)
				_ = l.Store.Save(l.Session)
				prunedOnce = true
				iter--
				continue
			}
			if l.isCancelled() || errors.Is(err, context.Canceled) {
				return nil, ErrCancelled
			}
			return nil, err
		}

		total = total.Add(turn.usage)

		if turn.staleResponseID != "" {
			_ = l.Store.ClearResponseID(l.Session, turn.staleResponseID)
		}

		assistant := session.Message{
			Role:       "assistant",
			Content:    turn.text,
			Reasoning:  turn.reasoning,
			ResponseID: turn.responseID,
			ToolCalls:  toolCallsFromDeltas(turn.toolCalls),
		}
		if err := l.Store.AddMessage(l.Session, assistant); err != nil {
			return nil, err
		}

		if l.Session.Title == "" && strings.TrimSpace(turn.text) != "" {
			l.synthesizeTitle(ctx)
		}

		if len(turn.toolCalls) == 0 {
			return &Result{
				Text:       turn.text,
				Reasoning:  turn.reasoning,
				Usage:      total,
				Iterations: iter + 1,
			}, nil
		}

		if err := l.dispatchToolCalls(ctx, assistant.ToolCalls); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("agent loop did not converge within %d iterations", maxIter)
}

// turnResult accumulates one streamed provider turn.
type turnResult struct {
	text            string
	reasoning       string
	toolCalls       []provider.ToolCallDelta
	usage           provider.Usage
	responseID      string
	staleResponseID string
}

// streamOnce issues one provider call and folds its event stream, firing
// hooks in provider order. Each hook is invoked before the next event is
// consumed, preserving observability ordering.
func (l *Loop) streamOnce(ctx context.Context, req *provider.MessageRequest) (*turnResult, error) {
	events, err := l.Provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	turn := &turnResult{}
	var text, reasoning strings.Builder

	for ev := range events {
		if l.isCancelled() {
			return nil, ErrCancelled
		}
		switch ev.Type {
		case provider.EventRequestStart:
			l.Hooks.RequestStart()
		case provider.EventReasonStart:
			l.Hooks.ReasoningStart()
		case provider.EventReasonData:
			reasoning.WriteString(ev.Text)
			l.Hooks.ReasoningData(ev.Text)
		case provider.EventReasonDone:
			l.Hooks.ReasoningDone()
		case provider.EventResponseStart:
			l.Hooks.ResponseStart()
		case provider.EventResponseData:
			text.WriteString(ev.Text)
			l.Hooks.ResponseData(ev.Text)
		case provider.EventResponseDone:
			if ev.Err != nil {
				return nil, ev.Err
			}
			l.Hooks.ResponseDone()
		case provider.EventToolCalls:
			turn.toolCalls = append(turn.toolCalls, ev.ToolCalls...)
		case provider.EventRequestDone:
			turn.usage = ev.Usage
			turn.responseID = ev.ResponseID
			turn.staleResponseID = ev.StaleResponseID
			l.Hooks.RequestDone(ev.Usage)
		}
	}

	turn.text = text.String()
	turn.reasoning = reasoning.String()
	return turn, nil
}

// dispatchToolCalls runs each requested tool strictly in order, appending a
// tool message per call.
func (l *Loop) dispatchToolCalls(ctx context.Context, calls []session.ToolCall) error {
	for _, call := range calls {
		if l.isCancelled() {
			return ErrCancelled
		}

		started := time.Now()
		l.Hooks.ToolCallStart(call.Function.Name, call.ID)

		var payload map[string]interface{}
		release, wtErr := worktree.Acquire(l.Session.BaseDir)
		if wtErr != nil {
			payload = map[string]interface{}{"success": false, "error": wtErr.Error()}
		} else {
			payload = l.executeToolCall(ctx, call)
			release()
		}

		data, err := json.Marshal(payload)
		if err != nil {
			data = []byte(fmt.Sprintf(`{"success":false,"error":%q}`, err.Error()))
		}

		if err := l.Store.AddMessage(l.Session, session.Message{
			Role:       "tool",
			Content:    string(data),
			ToolCallID: call.ID,
			Name:       call.Function.Name,
		}); err != nil {
			return err
		}

		l.Hooks.ToolCallEnd(call.Function.Name, call.ID, map[string]interface{}{
			"result":     payload,
			"elapsed_ms": time.Since(started).Milliseconds(),
		})
	}
	return nil
}

// executeToolCall gates, runs, and post-processes one call. Side-effect
// fields are routed into the session's diffs map and stripped from the
// payload the model sees.
func (l *Loop) executeToolCall(ctx context.Context, call session.ToolCall) map[string]interface{} {
	name := call.Function.Name
	raw := json.RawMessage(call.Function.Arguments)

	if resp := l.checkPermission(ctx, name, raw); resp != nil && !resp.Allowed {
		return map[string]interface{}{
			"success": false,
			"error":   fmt.Sprintf("Permission denied: %s", resp.Reason),
		}
	}

	tc := &tool.Context{
		Session: l.Session,
		Store:   l.Store,
		WorkDir: l.Session.BaseDir,
		OnCommandOut: func(ev tool.CommandOutEvent) {
			l.Hooks.ToolCallData(name, call.ID, ev)
		},
		IsCancelled:     l.isCancelled,
		ActiveProcesses: l.procs,
	}

	res := l.Registry.Execute(ctx, name, raw, tc)

	if res.SideEffects.Diff != "" || res.SideEffects.PatchCommand != "" {
		l.Session.Data.Diffs[call.ID] = session.DiffRecord{
			Diff:         res.SideEffects.Diff,
			PatchCommand: res.SideEffects.PatchCommand,
			ToolName:     name,
		}
		_ = l.Store.Save(l.Session)
	}
	return res.Payload
}

// checkPermission consults the engine, if configured, using the call's
// target path or command as the pattern.
func (l *Loop) checkPermission(ctx context.Context, name string, raw json.RawMessage) *permission.Response {
	if l.Permissions == nil {
		return nil
	}
	resp, err := l.Permissions.CheckTool(ctx, name, permissionTarget(raw))
	if err != nil {
		return &permission.Response{Allowed: false, Reason: err.Error()}
	}
	return resp
}

// permissionTarget pulls the path/command a tool call operates on out of
// its raw arguments.
func permissionTarget(raw json.RawMessage) string {
	var probe struct {
		TargetFile      string `json:"target_file"`
		TargetDirectory string `json:"target_directory"`
		Command         string `json:"command"`
	}
	_ = json.Unmarshal(raw, &probe)
	switch {
	case probe.TargetFile != "":
		return probe.TargetFile
	case probe.TargetDirectory != "":
		return probe.TargetDirectory
	default:
		return probe.Command
	}
}

// buildRequest assembles the uniform provider request from the session
// history, the agent's tool set, and the last stored continuation token.
func (l *Loop) buildRequest() *provider.MessageRequest {
	req := &provider.MessageRequest{
		Model:     l.Model.ModelID,
		MaxTokens: l.MaxTokens,
		Stream:    true,
	}
	if l.Model.ReasoningEffort != "" {
		req.ReasoningLevel = l.Model.ReasoningEffort
	}

	for _, m := range l.Session.Messages {
		if m.Role == "system" {
			req.System = m.Content
			continue
		}
		pm := provider.Message{
			Role:       m.Role,
			Content:    messageContent(l.Session, m),
			Reasoning:  m.Reasoning,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
			ResponseID: m.ResponseID,
		}
		for _, tc := range m.ToolCalls {
			pm.ToolCalls = append(pm.ToolCalls, provider.ToolCall{
				ID:               tc.ID,
				Type:             tc.Type,
				Function:         provider.ToolCallFunc{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
				ThoughtSignature: tc.ThoughtSignature,
			})
		}
		req.Messages = append(req.Messages, pm)
		if m.Role == "assistant" && m.ResponseID != "" {
			req.PreviousResponseID = m.ResponseID
		}
	}

	req.Tools = l.toolSchemas()
	return req
}

// messageContent renders a session message for the wire: plain text passes
// through, image blocks expand their asset references into inline base64
// content blocks.
func messageContent(sess *session.Session, m session.Message) interface{} {
	if m.Block == nil {
		return m.Content
	}

	switch m.Block.Type {
	case session.BlockImagePrompt, session.BlockVideoPrompt:
		return m.Block.Prompt
	case session.BlockImage:
		var blocks []provider.ContentBlock
		if m.Content != "" {
			blocks = append(blocks, provider.ContentBlock{Type: "text", Text: m.Content})
		}
		for _, id := range m.Block.Images {
			if rec, ok := sess.Images[id]; ok {
				blocks = append(blocks, provider.ContentBlock{
					Type: "image",
					Source: &provider.ImageSource{
						Type:      "base64",
						MediaType: rec.MimeType,
						Data:      rec.DataB64,
					},
				})
			}
		}
		return blocks
	default:
		return m.Content
	}
}

// toolSchemas builds the provider tool list: the registry filtered by the
// model's allowlist, the agent's tool set, and any fully-denied tools.
func (l *Loop) toolSchemas() []provider.Tool {
	allowed := l.Model.ToolNameAllowlist
	if len(allowed) == 0 && l.Agent != nil {
		allowed = l.Agent.Tools
	}
	defs := l.Registry.Filtered(allowed)

	var ruleset []PermissionRule
	if l.Agent != nil {
		ruleset = l.Agent.Permission
	}
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	disabled := DisabledTools(names, ruleset)

	out := make([]provider.Tool, 0, len(defs))
	for _, d := range defs {
		if disabled[d.Name] {
			continue
		}
		out = append(out, provider.Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.Parameters,
		})
	}
	return out
}

func toolCallsFromDeltas(deltas []provider.ToolCallDelta) []session.ToolCall {
	out := make([]session.ToolCall, 0, len(deltas))
	for _, d := range deltas {
		out = append(out, session.ToolCall{
			ID:               d.ID,
			Type:             "function",
			Function:         session.ToolCallFunction{Name: d.Name, Arguments: d.Arguments},
			ThoughtSignature: d.ThoughtSignature,
		})
	}
	return out
}

// synthesizeTitle issues a separate small completion to name the session.
// Best-effort: every error is swallowed.
func (l *Loop) synthesizeTitle(ctx context.Context) {
	var firstUser string
	for _, m := range l.Session.Messages {
		if m.Role == "user" && m.Content != "" {
			firstUser = m.Content
			break
		}
	}
	if firstUser == "" {
		return
	}

	req := &provider.MessageRequest{
		Model:     l.Model.ModelID,
		MaxTokens: 64,
		Stream:    false,
		System:    TitlePrompt,
		Messages:  []provider.Message{{Role: "user", Content: firstUser}},
	}

	events, err := l.Provider.Stream(ctx, req)
	if err != nil {
		return
	}
	var sb strings.Builder
	for ev := range events {
		if ev.Err != nil {
			return
		}
		if ev.Type == provider.EventResponseData {
			sb.WriteString(ev.Text)
		}
	}

	title := strings.TrimSpace(sb.String())
	if title == "" {
		return
	}
	if len(title) > titleMaxLen {
		title = title[:titleMaxLen]
	}
	l.Session.Title = title
	_ = l.Store.Save(l.Session)
	l.Hooks.Title(title)
}

func (l *Loop) systemPrompt() string {
	if l.Model != nil && l.Model.SystemPrompt != "" {
		return l.Model.SystemPrompt
	}
	if l.Agent != nil {
		return l.Agent.Prompt
	}
	return ""
}

func (l *Loop) systemPromptFile() string {
	if l.Model != nil {
		return l.Model.SystemPromptFile
	}
	return ""
}
