package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiDialect implements the Gemini wire protocol via
// google.golang.org/genai, grounded on the Google provider's
// streaming/tool-conversion approach.
type GeminiDialect struct {
	apiKey string
	client *genai.Client
}

// NewGeminiDialect constructs a GeminiDialect. The underlying client is
// created lazily on first Stream call so an empty apiKey does not panic at
// adapter construction time; calls instead fail with an auth ClassifiedError.
func NewGeminiDialect(apiKey string) *GeminiDialect {
	return &GeminiDialect{apiKey: apiKey}
}

func (d *GeminiDialect) ensureClient(ctx context.Context) error {
	if d.client != nil {
		return nil
	}
	if d.apiKey == "" {
		return &ClassifiedError{Type: ErrorTypeAuth, Message: "gemini: no API key configured"}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  d.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return &ClassifiedError{Type: ErrorTypeAPIError, Message: fmt.Sprintf("gemini: failed to create client: %v", err), Original: err}
	}
	d.client = client
	return nil
}

// Stream issues req against the Gemini generateContent streaming endpoint
// and returns the uniform event stream.
func (d *GeminiDialect) Stream(ctx context.Context, req *MessageRequest) (<-chan *Event, error) {
	if err := d.ensureClient(ctx); err != nil {
		return nil, err
	}

	contents := d.convertMessages(req)
	config := d.buildConfig(req)

	events := make(chan *Event, 16)

	go func() {
		defer close(events)
		events <- &Event{Type: EventRequestStart}

		iterSeq := d.client.Models.GenerateContentStream(ctx, req.Model, contents, config)

		var textStarted bool
		var thoughtStarted bool
		var calls []ToolCallDelta
		var usage Usage

		for resp, err := range iterSeq {
			select {
			case <-ctx.Done():
				events <- &Event{Type: EventResponseDone, Err: ctx.Err()}
				return
			default:
			}
			if err != nil {
				events <- &Event{Type: EventResponseDone, Err: ClassifyError(err, 0, "")}
				return
			}
			if resp == nil {
				continue
			}
			if resp.UsageMetadata != nil {
				usage = Usage{
					InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
					OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				}
			}

			for _, cand := range resp.Candidates {
				if cand == nil || cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part == nil {
						continue
					}

					if part.Thought && part.Text != "" {
						if !thoughtStarted {
							events <- &Event{Type: EventReasonStart}
							thoughtStarted = true
						}
						events <- &Event{Type: EventReasonData, Text: part.Text}
						continue
					}

					if part.Text != "" {
						if !textStarted {
							events <- &Event{Type: EventResponseStart}
							textStarted = true
						}
						events <- &Event{Type: EventResponseData, Text: part.Text}
					}

					if part.FunctionCall != nil {
						argsJSON, err := json.Marshal(part.FunctionCall.Args)
						if err != nil {
							argsJSON = []byte("{}")
						}
						calls = append(calls, ToolCallDelta{
							ID:               fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, len(calls)),
							Name:             part.FunctionCall.Name,
							Arguments:        string(argsJSON),
							ThoughtSignature: string(part.ThoughtSignature),
						})
					}
				}
			}
		}

		if thoughtStarted {
			events <- &Event{Type: EventReasonDone}
		}
		if textStarted {
			events <- &Event{Type: EventResponseDone}
		}
		if len(calls) > 0 {
			events <- &Event{Type: EventToolCalls, ToolCalls: calls}
		}
		events <- &Event{Type: EventRequestDone, Usage: usage}
	}()

	return events, nil
}

// convertMessages maps the uniform Message history onto Gemini Content,
// folding tool calls into functionCall parts and tool results into
// functionResponse parts (system messages are dropped; they travel via
// SystemInstruction instead).
func (d *GeminiDialect) convertMessages(req *MessageRequest) []*genai.Content {
	var out []*genai.Content

	toolNameByCallID := map[string]string{}
	for _, m := range req.Messages {
		for _, tc := range m.ToolCalls {
			toolNameByCallID[tc.ID] = tc.Function.Name
		}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			continue

		case "tool":
			var response map[string]interface{}
			if err := json.Unmarshal([]byte(contentToString(m.Content)), &response); err != nil {
				response = map[string]interface{}{"result": contentToString(m.Content)}
			}
			name := m.Name
			if name == "" {
				name = toolNameByCallID[m.ToolCallID]
			}
			out = append(out, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{Name: name, Response: response},
				}},
			})

		case "assistant":
			var parts []*genai.Part
			if text := contentToString(m.Content); text != "" {
				parts = append(parts, &genai.Part{Text: text})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]interface{}
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					args = map[string]interface{}{}
				}
				part := &genai.Part{FunctionCall: &genai.FunctionCall{Name: tc.Function.Name, Args: args}}
				if tc.ThoughtSignature != "" {
					part.ThoughtSignature = []byte(tc.ThoughtSignature)
				}
				parts = append(parts, part)
			}
			if len(parts) > 0 {
				out = append(out, &genai.Content{Role: genai.RoleModel, Parts: parts})
			}

		default: // user
			out = append(out, &genai.Content{Role: genai.RoleUser, Parts: d.convertUserParts(m)})
		}
	}

	return out
}

func (d *GeminiDialect) convertUserParts(m Message) []*genai.Part {
	blocks, ok := m.Content.([]ContentBlock)
	if !ok {
		text := contentToString(m.Content)
		if text == "" {
			return nil
		}
		return []*genai.Part{{Text: text}}
	}

	parts := make([]*genai.Part, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, &genai.Part{Text: b.Text})
		case "image":
			if b.Source == nil {
				continue
			}
			if b.Source.Type == "base64" {
				parts = append(parts, &genai.Part{InlineData: &genai.Blob{
					Data:     []byte(b.Source.Data),
					MIMEType: b.Source.MediaType,
				}})
			} else if b.Source.URL != "" {
				parts = append(parts, &genai.Part{FileData: &genai.FileData{
					FileURI:  b.Source.URL,
					MIMEType: b.Source.MediaType,
				}})
			}
		}
	}
	return parts
}

// convertTools maps uniform Tool definitions to Gemini's FunctionDeclaration
// schema, or to a single built-in tool (googleSearch/codeExecution); the
// two families are mutually exclusive in one request.
func (d *GeminiDialect) convertTools(tools []Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}

	for _, t := range tools {
		switch t.BuiltIn {
		case "googleSearch":
			return []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
		case "codeExecution":
			return []*genai.Tool{{CodeExecution: &genai.ToolCodeExecution{}}}
		}
	}

	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGeminiSchema(t.InputSchema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// toGeminiSchema converts a JSON-schema map (as used throughout the uniform
// Tool/MessageRequest types) into genai.Schema, grounded on the pack's
// toolconv.ToGeminiSchema helper.
func toGeminiSchema(schemaMap map[string]interface{}) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]string); ok {
		schema.Enum = enum
	} else if enum, ok := schemaMap["enum"].([]interface{}); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]interface{}); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]interface{}); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]string); ok {
		schema.Required = required
	} else if required, ok := schemaMap["required"].([]interface{}); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]interface{}); ok {
		schema.Items = toGeminiSchema(items)
	}

	return schema
}

// buildConfig configures system instruction, tools, and the thinking budget.
// Gemini 3 models use the minimal/low/medium/high thinking levels; earlier
// Gemini models get a thinking token budget (see geminiThinkingBudget).
func (d *GeminiDialect) buildConfig(req *MessageRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		config.Temperature = &temp
	}
	if len(req.Tools) > 0 {
		config.Tools = d.convertTools(req.Tools)
	}

	if req.ReasoningLevel != "" {
		isGemini3 := strings.Contains(strings.ToLower(req.Model), "gemini-3")
		thinking := &genai.ThinkingConfig{IncludeThoughts: true}
		if isGemini3 {
			level := geminiThinkingLevel(req.ReasoningLevel)
			if level == genai.ThinkingLevelMedium && !strings.Contains(strings.ToLower(req.Model), "flash") {
				level = genai.ThinkingLevelHigh // MEDIUM is Flash-only
			}
			thinking.ThinkingLevel = level
		} else {
			thinking.ThinkingBudget = geminiThinkingBudget(req.ReasoningLevel)
		}
		config.ThinkingConfig = thinking
	}

	return config
}

// geminiThinkingLevel maps reasoning effort onto Gemini 3's thinking
// levels. MEDIUM is only valid on Flash models; Pro callers should pass
// low or high.
func geminiThinkingLevel(level string) genai.ThinkingLevel {
	switch strings.ToLower(level) {
	case "minimal":
		return genai.ThinkingLevelMinimal
	case "low":
		return genai.ThinkingLevelLow
	case "high":
		return genai.ThinkingLevelHigh
	default:
		return genai.ThinkingLevelMedium
	}
}

// geminiThinkingBudget maps reasoning effort onto the pre-Gemini-3 token
// budget: 64/256/1024 for low/medium/high, -1 (model-decides) for "on".
func geminiThinkingBudget(level string) *int32 {
	var budget int32
	switch strings.ToLower(level) {
	case "low":
		budget = 64
	case "high":
		budget = 1024
	case "on":
		budget = -1
	default:
		budget = 256
	}
	return &budget
}
