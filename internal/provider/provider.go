// Package provider implements the Provider Adapter: a single logical
// request method that selects among three wire dialects (Gemini,
// OpenAI responses, OpenAI chat/completions) by inspecting the model id,
// and surfaces all three as one internal event stream.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// Dialect identifies which wire protocol a model id resolves to.
type Dialect string

const (
	DialectGemini    Dialect = "gemini"
	DialectResponses Dialect = "responses"
	DialectChat      Dialect = "chat"
)

// ResolveDialect inspects a model id and returns the dialect that should
// serve it.
func ResolveDialect(modelID string) Dialect {
	lower := strings.ToLower(modelID)

	if strings.Contains(lower, "gemini") || strings.Contains(lower, "veo") || strings.HasPrefix(lower, "google/") {
		return DialectGemini
	}

	if strings.HasPrefix(lower, "gpt-") {
		if strings.HasPrefix(lower, "gpt-4o") || strings.HasPrefix(lower, "gpt-4-turbo") {
			return DialectResponses
		}
		if major := gptMajorVersion(lower); major > 4 {
			return DialectResponses
		}
	}

	return DialectChat
}

// gptMajorVersion extracts the leading integer from a "gpt-<N>..." model id,
// returning 0 if it cannot be parsed.
func gptMajorVersion(lower string) int {
	rest := strings.TrimPrefix(lower, "gpt-")
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0
	}
	n := 0
	for _, c := range rest[:i] {
		n = n*10 + int(c-'0')
	}
	return n
}

// Adapter is the single entry point the Agent Loop drives: it resolves the
// dialect for a request's model id and streams back a uniform event
// sequence regardless of which wire protocol is underneath.
type Adapter struct {
	chat      *ChatDialect
	responses *ResponsesDialect
	gemini    *GeminiDialect
}

// NewAdapter constructs an Adapter with per-dialect API keys. With an empty
// Gemini key, Gemini calls fail with an auth error before any request is
// sent; an empty OpenAI key is handed to the OpenAI clients as is, so those
// calls reach the server and fail there.
func NewAdapter(openAIKey, geminiKey string) *Adapter {
	return &Adapter{
		chat:      NewChatDialect(openAIKey),
		responses: NewResponsesDialect(openAIKey),
		gemini:    NewGeminiDialect(geminiKey),
	}
}

// Stream issues req against the dialect resolved from req.Model and returns
// a channel of Events in requestStart, reasoning*, response*, toolCalls?
// order, identical across all three dialects.
func (a *Adapter) Stream(ctx context.Context, req *MessageRequest) (<-chan *Event, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, &ClassifiedError{Type: ErrorTypeAPIError, Message: err.Error(), Original: err}
	}
	switch ResolveDialect(req.Model) {
	case DialectGemini:
		return a.gemini.Stream(ctx, req)
	case DialectResponses:
		return a.responses.Stream(ctx, req)
	default:
		return a.chat.Stream(ctx, req)
	}
}

// Event is the unified internal stream event every dialect emits. Which
// payload fields are populated depends on Type.
type Event struct {
	Type EventType

	// ReasoningData / ResponseData
	Text string

	// ToolCalls (final, after accumulation)
	ToolCalls []ToolCallDelta

	// EventRequestDone carries the final usage and response id;
	// EventResponseDone carries only Err, when the stream failed.
	Usage      Usage
	ResponseID string

	// StaleResponseID is set on EventRequestDone when the Responses dialect
	// had to drop a rejected previous_response_id and resend full history;
	// the owner should clear the id from its stored message.
	StaleResponseID string

	Err error
}

type EventType string

const (
	EventRequestStart  EventType = "requestStart"
	EventRequestDone   EventType = "requestDone"
	EventReasonStart   EventType = "reasoningStart"
	EventReasonData    EventType = "reasoningData"
	EventReasonDone    EventType = "reasoningDone"
	EventResponseStart EventType = "responseStart"
	EventResponseData  EventType = "responseData"
	EventResponseDone  EventType = "responseDone"
	EventToolCalls     EventType = "toolCalls"
)

// ToolCallDelta is a fully-reconstructed tool call, emitted once streaming
// argument deltas have been concatenated and deduplicated.
type ToolCallDelta struct {
	ID               string
	Name             string
	Arguments        string // JSON-encoded string, as carried in ToolCall.function.arguments
	ThoughtSignature string // opaque Gemini capability, reserialized verbatim
}

// ProviderError types for error classification
type ErrorType string

const (
	ErrorTypeContextOverflow ErrorType = "context_overflow"
	ErrorTypeAPIError        ErrorType = "api_error"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeAuth            ErrorType = "auth_error"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeTimeout         ErrorType = "timeout"
)

// ClassifiedError wraps a provider error with classification
type ClassifiedError struct {
	Type        ErrorType
	Message     string
	StatusCode  int
	IsRetryable bool
	RetryAfter  time.Duration
	Original    error
}

func (e *ClassifiedError) Error() string {
	return e.Message
}

func (e *ClassifiedError) Unwrap() error {
	return e.Original
}

// Context overflow detection patterns from various providers
var overflowPatterns = []*regexp.Regexp{
	regexp.MustCompile(`maximum context length`),
	regexp.MustCompile(`context_length_exceeded`),
	regexp.MustCompile(`max_tokens.*exceeds.*limit`),
	regexp.MustCompile(`exceeds the maximum number of tokens`),
	regexp.MustCompile(`RESOURCE_EXHAUSTED.*token`),
	regexp.MustCompile(`GenerateContentRequest.*too large`),
	regexp.MustCompile(`(?i)context.*(?:too long|overflow|exceeded|limit)`),
	regexp.MustCompile(`(?i)token.*(?:limit|exceeded|maximum)`),
}

// IsContextOverflow checks if an error message indicates context overflow
func IsContextOverflow(msg string) bool {
	for _, pat := range overflowPatterns {
		if pat.MatchString(msg) {
			return true
		}
	}
	return false
}

// ClassifyError classifies an error from a provider
func ClassifyError(err error, statusCode int, responseBody string) *ClassifiedError {
	if err == nil {
		return nil
	}

	if ce, ok := err.(*ClassifiedError); ok {
		return ce
	}

	msg := err.Error()
	if responseBody != "" {
		msg = msg + " " + responseBody
	}

	if IsContextOverflow(msg) {
		return &ClassifiedError{
			Type:        ErrorTypeContextOverflow,
			Message:     "Context window exceeded. Consider compacting the conversation.",
			StatusCode:  statusCode,
			IsRetryable: false,
			Original:    err,
		}
	}

	lowerMsg := strings.ToLower(msg)

	if statusCode == 429 || strings.Contains(lowerMsg, "rate_limit") ||
		strings.Contains(lowerMsg, "too_many_requests") || strings.Contains(lowerMsg, "quota") {
		return &ClassifiedError{
			Type:        ErrorTypeRateLimit,
			Message:     "Rate limited by provider. Retrying...",
			StatusCode:  statusCode,
			IsRetryable: true,
			Original:    err,
		}
	}

	if statusCode == 401 || statusCode == 403 {
		return &ClassifiedError{
			Type:        ErrorTypeAuth,
			Message:     fmt.Sprintf("Authentication error (%d): %s", statusCode, err.Error()),
			StatusCode:  statusCode,
			IsRetryable: false,
			Original:    err,
		}
	}

	if statusCode == 404 {
		return &ClassifiedError{
			Type:        ErrorTypeNotFound,
			Message:     fmt.Sprintf("Model or endpoint not found: %s", err.Error()),
			StatusCode:  statusCode,
			IsRetryable: true,
			Original:    err,
		}
	}

	if statusCode >= 500 {
		return &ClassifiedError{
			Type:        ErrorTypeAPIError,
			Message:     fmt.Sprintf("Provider server error (%d): %s", statusCode, err.Error()),
			StatusCode:  statusCode,
			IsRetryable: true,
			Original:    err,
		}
	}

	if strings.Contains(lowerMsg, "overloaded") || strings.Contains(lowerMsg, "exhausted") ||
		strings.Contains(lowerMsg, "unavailable") {
		return &ClassifiedError{
			Type:        ErrorTypeAPIError,
			Message:     "Provider is overloaded. Retrying...",
			StatusCode:  statusCode,
			IsRetryable: true,
			Original:    err,
		}
	}

	return &ClassifiedError{
		Type:        ErrorTypeAPIError,
		Message:     err.Error(),
		StatusCode:  statusCode,
		IsRetryable: false,
		Original:    err,
	}
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	MaxAttempts   int
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay:  2 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		MaxAttempts:   5,
	}
}

// ComputeRetryDelay computes the retry delay for a given attempt
func ComputeRetryDelay(attempt int, cfg RetryConfig, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	delay := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt-1)))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// Message represents one entry in the uniform conversation history shared
// by all three dialects before dialect-specific translation.
type Message struct {
	Role       string      `json:"role"` // system, user, assistant, tool
	Content    interface{} `json:"content,omitempty"`
	Reasoning  string      `json:"reasoning,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	Name       string      `json:"name,omitempty"`
	ResponseID string      `json:"response_id,omitempty"`
}

// ToolCall is {id, type, function{name,arguments}, thoughtSignature?} on the wire.
type ToolCall struct {
	ID               string       `json:"id"`
	Type             string       `json:"type"`
	Function         ToolCallFunc `json:"function"`
	ThoughtSignature string       `json:"thoughtSignature,omitempty"`
}

type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ImageSource describes how to supply an image to the model.
type ImageSource struct {
	Type      string `json:"type"` // "base64" or "url"
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ContentBlock represents rich content (text, image).
type ContentBlock struct {
	Type   string       `json:"type"` // "text", "image"
	Text   string       `json:"text,omitempty"`
	Source *ImageSource `json:"source,omitempty"`
}

// Tool defines a tool that the AI can use, in uniform (JSON-schema) form.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
	// BuiltIn marks a Gemini built-in tool ("googleSearch" | "codeExecution")
	// which must not be mixed with functionDeclarations in one request.
	BuiltIn string `json:"-"`
}

// MessageRequest represents a request to create a message
type MessageRequest struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	MaxTokens      int       `json:"max_tokens"`
	Temperature    float64   `json:"temperature,omitempty"`
	TopP           float64   `json:"top_p,omitempty"`
	System         string    `json:"system,omitempty"`
	Tools          []Tool    `json:"tools,omitempty"`
	Stream         bool      `json:"stream,omitempty"`
	ReasoningLevel string    `json:"reasoning_effort,omitempty"` // low|medium|high|on, or minimal/low/medium/high for gemini-3
	// PreviousResponseID, when set, tells the Responses dialect to send only
	// new input items and omit previously-seen history.
	PreviousResponseID string `json:"-"`
}

// MessageResponse represents a non-streaming response from the AI.
type MessageResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
	ResponseID string         `json:"response_id,omitempty"`
}

// Usage tracks token usage, accumulated additively across loop iterations.
type Usage struct {
	InputTokens       int `json:"input_tokens"`
	OutputTokens      int `json:"output_tokens"`
	CacheReadTokens   int `json:"cache_read_tokens,omitempty"`
	CacheCreateTokens int `json:"cache_create_tokens,omitempty"`
}

func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:       u.InputTokens + o.InputTokens,
		OutputTokens:      u.OutputTokens + o.OutputTokens,
		CacheReadTokens:   u.CacheReadTokens + o.CacheReadTokens,
		CacheCreateTokens: u.CacheCreateTokens + o.CacheCreateTokens,
	}
}

// mustMarshalJSON marshals v to JSON, falling back to "{}" on error.
func mustMarshalJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
