package provider

import (
	"strings"
	"testing"

	"google.golang.org/genai"
)

func TestResolveDialect(t *testing.T) {
	cases := []struct {
		modelID string
		want    Dialect
	}{
		{"gemini-2.5-flash", DialectGemini},
		{"gemini-3-pro-preview", DialectGemini},
		{"veo-3.0-generate-001", DialectGemini},
		{"google/gemma-7b", DialectGemini},
		{"gpt-4o", DialectResponses},
		{"gpt-4o-mini", DialectResponses},
		{"gpt-4-turbo", DialectResponses},
		{"gpt-5", DialectResponses},
		{"gpt-5.2-codex", DialectResponses},
		{"gpt-4", DialectChat},
		{"gpt-3.5-turbo", DialectChat},
		{"gpt-4.1-mini", DialectChat},
		{"llama-3.3-70b", DialectChat},
		{"deepseek-chat", DialectChat},
	}
	for _, c := range cases {
		if got := ResolveDialect(c.modelID); got != c.want {
			t.Errorf("ResolveDialect(%q) = %q, want %q", c.modelID, got, c.want)
		}
	}
}

func TestAppendArgsWithoutDuplication(t *testing.T) {
	cases := []struct {
		name            string
		existing, delta string
		want            string
	}{
		{"empty delta", `{"a":1}`, "", `{"a":1}`},
		{"empty existing", "", `{"a":`, `{"a":`},
		{"normal concatenation", `{"a":`, `1}`, `{"a":1}`},
		{"full retransmission dropped", `{"a":1}`, `{"a":1}`, `{"a":1}`},
		{"equivalent json dropped", `{"a": 1}`, `{"a":1}`, `{"a": 1}`},
		{"different json appended", `{"a":1}`, `{"b":2}`, `{"a":1}{"b":2}`},
	}
	for _, c := range cases {
		if got := appendArgsWithoutDuplication(c.existing, c.delta); got != c.want {
			t.Errorf("%s: got %q, want %q", c.name, got, c.want)
		}
	}
}

func TestNewItemsSince(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "first", ResponseID: "resp_1"},
		{Role: "user", Content: "two"},
	}
	got := newItemsSince(messages)
	if len(got) != 1 || got[0].Content != "two" {
		t.Fatalf("expected only the new turn, got %+v", got)
	}

	noContinuation := []Message{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "first"},
	}
	if got := newItemsSince(noContinuation); len(got) != 2 {
		t.Fatalf("without a stored response id the full history is sent, got %+v", got)
	}
}

func TestIsStaleResponseIDError(t *testing.T) {
	if !isStaleResponseIDError(errString("Previous response with id 'resp_x' not found")) {
		t.Fatalf("not-found should be stale")
	}
	if !isStaleResponseIDError(errString("Unknown parameter: previous_response_id")) {
		t.Fatalf("unknown-parameter should be stale")
	}
	if isStaleResponseIDError(errString("rate limit exceeded")) {
		t.Fatalf("rate limit is not stale-id")
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func TestUsageAdd(t *testing.T) {
	a := Usage{InputTokens: 10, OutputTokens: 5, CacheReadTokens: 2}
	b := Usage{InputTokens: 3, OutputTokens: 7}
	sum := a.Add(b)
	if sum.InputTokens != 13 || sum.OutputTokens != 12 || sum.CacheReadTokens != 2 {
		t.Fatalf("unexpected sum: %+v", sum)
	}
	if sum.TotalTokens() != 25 {
		t.Fatalf("TotalTokens = %d", sum.TotalTokens())
	}
}

func TestGeminiThinkingBudget(t *testing.T) {
	cases := []struct {
		level string
		want  int32
	}{
		{"low", 64},
		{"medium", 256},
		{"high", 1024},
		{"on", -1},
	}
	for _, c := range cases {
		if got := *geminiThinkingBudget(c.level); got != c.want {
			t.Errorf("geminiThinkingBudget(%q) = %d, want %d", c.level, got, c.want)
		}
	}
}

func TestGeminiThinkingLevelMapsFullEnum(t *testing.T) {
	cases := []struct {
		level string
		want  genai.ThinkingLevel
	}{
		{"minimal", genai.ThinkingLevelMinimal},
		{"low", genai.ThinkingLevelLow},
		{"medium", genai.ThinkingLevelMedium},
		{"high", genai.ThinkingLevelHigh},
	}
	for _, c := range cases {
		if got := geminiThinkingLevel(c.level); got != c.want {
			t.Errorf("geminiThinkingLevel(%q) = %v, want %v", c.level, got, c.want)
		}
	}
}

func TestGeminiBuildConfigMediumIsFlashOnly(t *testing.T) {
	d := NewGeminiDialect("key")

	flash := d.buildConfig(&MessageRequest{Model: "gemini-3-flash-preview", ReasoningLevel: "medium", MaxTokens: 10})
	if flash.ThinkingConfig.ThinkingLevel != genai.ThinkingLevelMedium {
		t.Fatalf("flash should keep MEDIUM, got %v", flash.ThinkingConfig.ThinkingLevel)
	}

	pro := d.buildConfig(&MessageRequest{Model: "gemini-3-pro-preview", ReasoningLevel: "medium", MaxTokens: 10})
	if pro.ThinkingConfig.ThinkingLevel == genai.ThinkingLevelMedium {
		t.Fatalf("pro must not send MEDIUM")
	}
}

func TestGeminiConvertToolsBuiltInsAreExclusive(t *testing.T) {
	d := NewGeminiDialect("key")

	tools := d.convertTools([]Tool{
		{Name: "read_file", InputSchema: map[string]interface{}{"type": "object"}},
		{BuiltIn: "googleSearch"},
	})
	if len(tools) != 1 || tools[0].GoogleSearch == nil {
		t.Fatalf("built-in tool must exclude function declarations: %+v", tools)
	}
	if tools[0].FunctionDeclarations != nil {
		t.Fatalf("function declarations must not be mixed with built-ins")
	}
}

func TestIsContextOverflow(t *testing.T) {
	overflowing := []string{
		"This model's maximum context length is 128000 tokens",
		"error: context_length_exceeded",
		"RESOURCE_EXHAUSTED: input token count exceeds limit",
	}
	for _, msg := range overflowing {
		if !IsContextOverflow(msg) {
			t.Errorf("should detect overflow: %q", msg)
		}
	}
	if IsContextOverflow("connection refused") {
		t.Errorf("non-overflow message misclassified")
	}
}

func TestClassifyError(t *testing.T) {
	ce := ClassifyError(errString("too_many_requests"), 429, "")
	if ce.Type != ErrorTypeRateLimit || !ce.IsRetryable {
		t.Fatalf("429 should classify as retryable rate limit: %+v", ce)
	}

	ce = ClassifyError(errString("bad key"), 401, "")
	if ce.Type != ErrorTypeAuth || ce.IsRetryable {
		t.Fatalf("401 should classify as non-retryable auth: %+v", ce)
	}
}

func TestFormatProviderError(t *testing.T) {
	if FormatProviderError("chat", "m", nil) != nil {
		t.Fatalf("nil error should stay nil")
	}

	err := FormatProviderError("responses", "gpt-5", &ClassifiedError{Type: ErrorTypeAuth, Message: "401"})
	fe, ok := err.(*FriendlyError)
	if !ok {
		t.Fatalf("expected *FriendlyError, got %T", err)
	}
	if !strings.Contains(fe.Error(), "OPENAI_API_KEY") {
		t.Fatalf("auth hint should name the key env vars: %q", fe.Error())
	}
	if !strings.Contains(fe.Detail, "dialect=responses model=gpt-5") {
		t.Fatalf("detail should carry dialect and model: %q", fe.Detail)
	}

	if got := FormatProviderError("responses", "gpt-5", fe); got != error(fe) {
		t.Fatalf("already-friendly errors must pass through")
	}

	err = FormatProviderError("gemini", "gemini-2.5-pro", errString("maximum context length exceeded"))
	fe = err.(*FriendlyError)
	if !strings.Contains(fe.Summary, "context window") {
		t.Fatalf("overflow summary should mention the context window: %q", fe.Summary)
	}
}

func TestModelRegistryBuiltins(t *testing.T) {
	mr := NewModelRegistry()

	m := mr.GetModel("gemini-2.5-flash")
	if m == nil || m.Dialect != DialectGemini {
		t.Fatalf("builtin gemini model missing: %+v", m)
	}
	if mr.ContextLimit("gemini-2.5-flash") != 1048576 {
		t.Fatalf("unexpected context limit")
	}
	if mr.ContextLimit("totally-unknown-model") != 128000 {
		t.Fatalf("unknown models should get the conservative default")
	}
}
