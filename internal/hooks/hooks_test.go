package hooks

import (
	"testing"

	"github.com/dcode-run/agentrt/internal/provider"
)

func TestNilHooksAreSafe(t *testing.T) {
	var h *Hooks
	h.RequestStart()
	h.RequestDone(provider.Usage{})
	h.ReasoningStart()
	h.ReasoningData("x")
	h.ReasoningDone()
	h.ResponseStart()
	h.ResponseData("x")
	h.ResponseDone()
	h.ToolCallStart("rg", "id")
	h.ToolCallData("rg", "id", nil)
	h.ToolCallEnd("rg", "id", nil)
	h.Title("t")
}

func TestPartialHooksDispatch(t *testing.T) {
	var got []string
	h := &Hooks{
		OnResponseData: func(text string) { got = append(got, text) },
	}
	h.RequestStart() // unset: no-op
	h.ResponseData("a")
	h.ResponseData("b")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected dispatch: %v", got)
	}
}
