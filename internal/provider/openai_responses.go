package provider

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

// ResponsesDialect implements OpenAI's "responses" wire protocol: an
// input[] array of typed items, a server-issued response.id that later
// turns reference via previous_response_id to omit already-seen history,
// and reasoning sent as reasoning:{effort} rather than reasoning_effort.
// Selected for gpt-4o*, gpt-4-turbo*, and any gpt-<major> with major > 4.
type ResponsesDialect struct {
	client openai.Client
}

// NewResponsesDialect constructs a ResponsesDialect against the OpenAI
// Responses API via github.com/openai/openai-go/v3.
func NewResponsesDialect(apiKey string) *ResponsesDialect {
	return &ResponsesDialect{client: openai.NewClient(option.WithAPIKey(apiKey))}
}

// Stream issues req, self-healing once if the server rejects a stale
// previous_response_id.
func (d *ResponsesDialect) Stream(ctx context.Context, req *MessageRequest) (<-chan *Event, error) {
	events := make(chan *Event, 16)

	go func() {
		defer close(events)
		events <- &Event{Type: EventRequestStart}

		staleID := ""
		resp, err := d.call(ctx, req)
		if err != nil && req.PreviousResponseID != "" && isStaleResponseIDError(err) {
			// Self-healing retry: clear the continuation token and resend
			// the full history instead of the delta-only input[].
			staleID = req.PreviousResponseID
			retryReq := *req
			retryReq.PreviousResponseID = ""
			resp, err = d.call(ctx, &retryReq)
		}
		if err != nil {
			events <- &Event{Type: EventResponseDone, Err: ClassifyError(err, 0, "")}
			return
		}

		if text := extractOutputText(resp); text != "" {
			events <- &Event{Type: EventResponseStart}
			events <- &Event{Type: EventResponseData, Text: text}
			events <- &Event{Type: EventResponseDone}
		}

		if calls := extractToolCalls(resp); len(calls) > 0 {
			events <- &Event{Type: EventToolCalls, ToolCalls: calls}
		}

		events <- &Event{
			Type:            EventRequestDone,
			ResponseID:      resp.ID,
			StaleResponseID: staleID,
			Usage: Usage{
				InputTokens:  int(resp.Usage.InputTokens),
				OutputTokens: int(resp.Usage.OutputTokens),
			},
		}
	}()

	return events, nil
}

func (d *ResponsesDialect) call(ctx context.Context, req *MessageRequest) (*responses.Response, error) {
	params := responses.ResponseNewParams{
		Model: req.Model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: d.convertInput(req),
		},
	}
	if req.PreviousResponseID != "" {
		params.PreviousResponseID = openai.String(req.PreviousResponseID)
	}
	if req.System != "" && req.PreviousResponseID == "" {
		params.Instructions = openai.String(req.System)
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.ReasoningLevel != "" {
		params.Reasoning = responses.ReasoningParam{Effort: responses.ReasoningEffort(req.ReasoningLevel)}
	}
	if len(req.Tools) > 0 {
		params.Tools = d.convertTools(req.Tools)
	}

	resp, err := d.client.Responses.New(ctx, params)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// convertInput builds the input[] array. When continuing from a
// previous_response_id, only new items (the tool results and user messages
// appended since the last turn) are sent; otherwise the full uniform
// history is translated.
func (d *ResponsesDialect) convertInput(req *MessageRequest) []responses.ResponseInputItemUnionParam {
	messages := req.Messages
	if req.PreviousResponseID != "" {
		messages = newItemsSince(messages)
	}

	var items []responses.ResponseInputItemUnionParam
	for _, m := range messages {
		switch m.Role {
		case "tool":
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(
				m.ToolCallID, contentToString(m.Content),
			))
		case "assistant":
			for _, tc := range m.ToolCalls {
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(
					tc.Function.Arguments, tc.ID, tc.Function.Name,
				))
			}
			if text := contentToString(m.Content); text != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(text, responses.EasyInputMessageRoleAssistant))
			}
		default:
			items = append(items, responses.ResponseInputItemParamOfMessage(contentToString(m.Content), responses.EasyInputMessageRoleUser))
		}
	}
	return items
}

// newItemsSince returns the suffix of messages the server has not seen yet:
// everything after the last assistant message carrying a response_id (that
// assistant message itself is represented server-side already).
func newItemsSince(messages []Message) []Message {
	last := -1
	for i, m := range messages {
		if m.Role == "assistant" && m.ResponseID != "" {
			last = i
		}
	}
	if last == -1 {
		return messages
	}
	return messages[last+1:]
}

func (d *ResponsesDialect) convertTools(tools []Tool) []responses.ToolUnionParam {
	out := make([]responses.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, responses.ToolParamOfFunction(t.Name, t.InputSchema, true))
	}
	return out
}

func extractOutputText(resp *responses.Response) string {
	var sb strings.Builder
	for _, item := range resp.Output {
		if msg := item.AsMessage(); msg.Type == "message" {
			for _, c := range msg.Content {
				if text := c.AsOutputText(); text.Type == "output_text" {
					sb.WriteString(text.Text)
				}
			}
		}
	}
	return sb.String()
}

func extractToolCalls(resp *responses.Response) []ToolCallDelta {
	var out []ToolCallDelta
	for _, item := range resp.Output {
		if fc := item.AsFunctionCall(); fc.Type == "function_call" {
			out = append(out, ToolCallDelta{
				ID:        fc.CallID,
				Name:      fc.Name,
				Arguments: fc.Arguments,
			})
		}
	}
	return out
}

// isStaleResponseIDError matches the 404 / "not found" / "unknown
// parameter previous_response_id" error class that is self-healing: clear
// the stored response_id and retry once with full history.
func isStaleResponseIDError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") ||
		strings.Contains(msg, "404") ||
		strings.Contains(msg, "previous_response_id")
}
