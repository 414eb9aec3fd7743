// Package hooks implements the Agent Loop's observability surface: a
// struct of optional function pointers the Loop invokes at well-defined
// points. Every field is optional; dispatch is nil-safe so
// a caller that only cares about tool calls need not implement the rest.
package hooks

import "github.com/dcode-run/agentrt/internal/provider"

// Hooks is the full observability surface the agent loop exposes: one
// optional function pointer per phase.
type Hooks struct {
	OnRequestStart func()
	OnRequestDone  func(usage provider.Usage)

	OnReasoningStart func()
	OnReasoningData  func(text string)
	OnReasoningDone  func()

	OnResponseStart func()
	OnResponseData  func(text string)
	OnResponseDone  func()

	OnToolCallStart func(name, id string)
	OnToolCallData  func(name, id string, event interface{})
	OnToolCallEnd   func(name, id string, result interface{})

	OnTitle func(title string)
}

func (h *Hooks) RequestStart() {
	if h != nil && h.OnRequestStart != nil {
		h.OnRequestStart()
	}
}

func (h *Hooks) RequestDone(usage provider.Usage) {
	if h != nil && h.OnRequestDone != nil {
		h.OnRequestDone(usage)
	}
}

func (h *Hooks) ReasoningStart() {
	if h != nil && h.OnReasoningStart != nil {
		h.OnReasoningStart()
	}
}

func (h *Hooks) ReasoningData(text string) {
	if h != nil && h.OnReasoningData != nil {
		h.OnReasoningData(text)
	}
}

func (h *Hooks) ReasoningDone() {
	if h != nil && h.OnReasoningDone != nil {
		h.OnReasoningDone()
	}
}

func (h *Hooks) ResponseStart() {
	if h != nil && h.OnResponseStart != nil {
		h.OnResponseStart()
	}
}

func (h *Hooks) ResponseData(text string) {
	if h != nil && h.OnResponseData != nil {
		h.OnResponseData(text)
	}
}

func (h *Hooks) ResponseDone() {
	if h != nil && h.OnResponseDone != nil {
		h.OnResponseDone()
	}
}

func (h *Hooks) ToolCallStart(name, id string) {
	if h != nil && h.OnToolCallStart != nil {
		h.OnToolCallStart(name, id)
	}
}

func (h *Hooks) ToolCallData(name, id string, event interface{}) {
	if h != nil && h.OnToolCallData != nil {
		h.OnToolCallData(name, id, event)
	}
}

func (h *Hooks) ToolCallEnd(name, id string, result interface{}) {
	if h != nil && h.OnToolCallEnd != nil {
		h.OnToolCallEnd(name, id, result)
	}
}

func (h *Hooks) Title(title string) {
	if h != nil && h.OnTitle != nil {
		h.OnTitle(title)
	}
}
