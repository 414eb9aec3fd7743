package provider

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// ChatDialect implements the OpenAI-compatible chat/completions wire
// protocol: the default dialect for every model id that does not resolve
// to Gemini or Responses.
type ChatDialect struct {
	client *openai.Client
}

// NewChatDialect constructs a ChatDialect. An empty apiKey is accepted;
// calls fail at request time with an auth ClassifiedError.
func NewChatDialect(apiKey string) *ChatDialect {
	return &ChatDialect{client: openai.NewClient(apiKey)}
}

// Stream issues req and returns the uniform event stream.
func (d *ChatDialect) Stream(ctx context.Context, req *MessageRequest) (<-chan *Event, error) {
	events := make(chan *Event, 16)

	creq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    d.convertMessages(req),
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stream:      true,
	}
	if len(req.Tools) > 0 {
		creq.Tools = d.convertTools(req.Tools)
	}

	stream, err := d.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		close(events)
		return nil, ClassifyError(err, httpStatusFromErr(err), "")
	}

	go func() {
		defer close(events)
		defer stream.Close()

		events <- &Event{Type: EventRequestStart}

		var textStarted bool
		var text string
		calls := map[int]*ToolCallDelta{}
		var usage Usage

		for {
			select {
			case <-ctx.Done():
				events <- &Event{Type: EventResponseDone, Err: ctx.Err()}
				return
			default:
			}

			chunk, err := stream.Recv()
			if err != nil {
				if err.Error() == "EOF" {
					break
				}
				events <- &Event{Type: EventResponseDone, Err: ClassifyError(err, 0, "")}
				return
			}
			if chunk.Usage != nil {
				usage = Usage{
					InputTokens:  chunk.Usage.PromptTokens,
					OutputTokens: chunk.Usage.CompletionTokens,
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta

			if delta.Content != "" {
				if !textStarted {
					events <- &Event{Type: EventResponseStart}
					textStarted = true
				}
				text += delta.Content
				events <- &Event{Type: EventResponseData, Text: delta.Content}
			}

			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				existing, ok := calls[idx]
				if !ok {
					existing = &ToolCallDelta{ID: tc.ID, Name: tc.Function.Name}
					calls[idx] = existing
				}
				if tc.ID != "" {
					existing.ID = tc.ID
				}
				if tc.Function.Name != "" {
					existing.Name = tc.Function.Name
				}
				existing.Arguments = appendArgsWithoutDuplication(existing.Arguments, tc.Function.Arguments)
			}
		}

		if textStarted {
			events <- &Event{Type: EventResponseDone}
		}
		if len(calls) > 0 {
			out := make([]ToolCallDelta, 0, len(calls))
			for i := 0; i < len(calls); i++ {
				if c, ok := calls[i]; ok {
					if c.ID == "" {
						c.ID = fmt.Sprintf("call_%s_%d", c.Name, i)
					}
					out = append(out, *c)
				}
			}
			events <- &Event{Type: EventToolCalls, ToolCalls: out}
		}
		events <- &Event{Type: EventRequestDone, Usage: usage}
	}()

	return events, nil
}

// appendArgsWithoutDuplication concatenates a streaming arguments delta,
// dropping a retransmission that repeats the full JSON already accumulated
// (some chat/completions-compatible backends resend the whole payload on
// the final delta instead of an empty suffix).
func appendArgsWithoutDuplication(existing, delta string) string {
	if delta == "" {
		return existing
	}
	if existing == "" {
		return delta
	}
	var a, b interface{}
	if json.Unmarshal([]byte(existing), &a) == nil && json.Unmarshal([]byte(delta), &b) == nil {
		ea, _ := json.Marshal(a)
		eb, _ := json.Marshal(b)
		if string(ea) == string(eb) {
			return existing
		}
	}
	return existing + delta
}

func (d *ChatDialect) convertMessages(req *MessageRequest) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "tool":
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    contentToString(m.Content),
				ToolCallID: m.ToolCallID,
				Name:       m.Name,
			})
		case "assistant":
			cm := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: contentToString(m.Content),
			}
			for _, tc := range m.ToolCalls {
				cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			out = append(out, cm)
		default:
			out = append(out, d.convertUserMessage(m))
		}
	}
	return out
}

func (d *ChatDialect) convertUserMessage(m Message) openai.ChatCompletionMessage {
	blocks, ok := m.Content.([]ContentBlock)
	if !ok {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: contentToString(m.Content)}
	}
	hasImage := false
	for _, b := range blocks {
		if b.Type == "image" {
			hasImage = true
		}
	}
	if !hasImage {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: contentToString(m.Content)}
	}
	parts := make([]openai.ChatMessagePart, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: b.Text})
		case "image":
			if b.Source == nil {
				continue
			}
			url := b.Source.URL
			if b.Source.Type == "base64" {
				url = fmt.Sprintf("data:%s;base64,%s", b.Source.MediaType, b.Source.Data)
			}
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: url},
			})
		}
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

func (d *ChatDialect) convertTools(tools []Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

func contentToString(c interface{}) string {
	switch v := c.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return mustMarshalJSON(v)
	}
}

func httpStatusFromErr(err error) int {
	var apiErr *openai.APIError
	if ok := asAPIError(err, &apiErr); ok {
		return apiErr.HTTPStatusCode
	}
	return 0
}

func asAPIError(err error, target **openai.APIError) bool {
	if ae, ok := err.(*openai.APIError); ok {
		*target = ae
		return true
	}
	return false
}
