package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ModelCapabilities describes what a model can do.
type ModelCapabilities struct {
	Temperature bool          `json:"temperature"`
	Reasoning   bool          `json:"reasoning"`
	Attachment  bool          `json:"attachment"`
	ToolCall    bool          `json:"toolcall"`
	Input       ModalityFlags `json:"input"`
	Output      ModalityFlags `json:"output"`
}

// ModalityFlags tracks input/output modality support.
type ModalityFlags struct {
	Text  bool `json:"text"`
	Audio bool `json:"audio"`
	Image bool `json:"image"`
	Video bool `json:"video"`
}

// ModelCost tracks pricing per million tokens.
type ModelCost struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// ModelLimits tracks context and output limits.
type ModelLimits struct {
	Context int `json:"context"`
	Output  int `json:"output"`
}

// ModelInfo describes one known model.
type ModelInfo struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Dialect      Dialect           `json:"dialect"`
	Capabilities ModelCapabilities `json:"capabilities"`
	Cost         ModelCost         `json:"cost"`
	Limits       ModelLimits       `json:"limits"`
}

// ModelRegistry holds the known-model table: the built-in entries plus
// whatever a models.dev refresh merged in.
type ModelRegistry struct {
	mu        sync.RWMutex
	models    map[string]ModelInfo
	cacheFile string
	http      *BaseHTTPProvider
}

// NewModelRegistry creates a registry seeded with the built-in models and
// any previously cached refresh data.
func NewModelRegistry() *ModelRegistry {
	cacheFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		cacheFile = filepath.Join(home, ".config", "dcode", "models_cache.json")
	}

	mr := &ModelRegistry{
		models:    map[string]ModelInfo{},
		cacheFile: cacheFile,
		http:      NewBaseHTTPProvider("", "https://models.dev"),
	}
	mr.loadBuiltinModels()
	mr.loadFromCache()
	return mr
}

// GetModel returns a model by id, or nil.
func (mr *ModelRegistry) GetModel(modelID string) *ModelInfo {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	if m, ok := mr.models[modelID]; ok {
		return &m
	}
	return nil
}

// ListModels returns every known model, optionally filtered by dialect
// (empty dialect = all).
func (mr *ModelRegistry) ListModels(dialect Dialect) []ModelInfo {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make([]ModelInfo, 0, len(mr.models))
	for _, m := range mr.models {
		if dialect != "" && m.Dialect != dialect {
			continue
		}
		out = append(out, m)
	}
	return out
}

// ContextLimit returns the model's context window, or a conservative
// default for unknown models.
func (mr *ModelRegistry) ContextLimit(modelID string) int {
	if m := mr.GetModel(modelID); m != nil && m.Limits.Context > 0 {
		return m.Limits.Context
	}
	return 128000
}

// Refresh fetches the model catalog from models.dev and merges entries for
// models the three dialects can serve. Best-effort: callers treat a
// failure as stale-but-usable data.
func (mr *ModelRegistry) Refresh() error {
	var body []byte
	err := mr.http.WithRetry(context.Background(), func() error {
		var status int
		var reqErr error
		body, status, reqErr = mr.http.DoRequest(context.Background(), "GET", "/api.json", nil)
		return mr.http.HandleError(reqErr, status, body)
	})
	if err != nil {
		return err
	}

	var payload map[string]struct {
		Models map[string]struct {
			Name      string `json:"name"`
			Reasoning bool   `json:"reasoning"`
			ToolCall  bool   `json:"tool_call"`
			Limit     struct {
				Context int `json:"context"`
				Output  int `json:"output"`
			} `json:"limit"`
			Cost struct {
				Input  float64 `json:"input"`
				Output float64 `json:"output"`
			} `json:"cost"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("parse models.dev response: %w", err)
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()
	for providerID, prov := range payload {
		if providerID != "openai" && providerID != "google" {
			continue
		}
		for id, m := range prov.Models {
			mr.models[id] = ModelInfo{
				ID:      id,
				Name:    m.Name,
				Dialect: ResolveDialect(id),
				Capabilities: ModelCapabilities{
					Reasoning: m.Reasoning,
					ToolCall:  m.ToolCall,
					Input:     ModalityFlags{Text: true},
					Output:    ModalityFlags{Text: true},
				},
				Cost:   ModelCost{Input: m.Cost.Input, Output: m.Cost.Output},
				Limits: ModelLimits{Context: m.Limit.Context, Output: m.Limit.Output},
			}
		}
	}

	mr.saveToCache()
	return nil
}

// RefreshBackground runs Refresh on a goroutine, invoking onDone (if set)
// when finished.
func (mr *ModelRegistry) RefreshBackground(onDone func()) {
	go func() {
		_ = mr.Refresh()
		if onDone != nil {
			onDone()
		}
	}()
}

func (mr *ModelRegistry) loadFromCache() {
	if mr.cacheFile == "" {
		return
	}
	data, err := os.ReadFile(mr.cacheFile)
	if err != nil {
		return
	}
	var cached map[string]ModelInfo
	if err := json.Unmarshal(data, &cached); err != nil {
		return
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	for id, m := range cached {
		mr.models[id] = m
	}
}

func (mr *ModelRegistry) saveToCache() {
	if mr.cacheFile == "" {
		return
	}
	data, err := json.MarshalIndent(mr.models, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(mr.cacheFile), 0o755); err != nil {
		return
	}
	_ = os.WriteFile(mr.cacheFile, data, 0o644)
}

// loadBuiltinModels seeds the table with the models each dialect is known
// to serve, so the registry is useful offline.
func (mr *ModelRegistry) loadBuiltinModels() {
	builtin := []ModelInfo{
		{
			ID: "gpt-5", Name: "GPT-5", Dialect: DialectResponses,
			Capabilities: ModelCapabilities{Reasoning: true, ToolCall: true, Attachment: true,
				Input: ModalityFlags{Text: true, Image: true}, Output: ModalityFlags{Text: true}},
			Cost:   ModelCost{Input: 1.25, Output: 10},
			Limits: ModelLimits{Context: 400000, Output: 128000},
		},
		{
			ID: "gpt-4o", Name: "GPT-4o", Dialect: DialectResponses,
			Capabilities: ModelCapabilities{ToolCall: true, Attachment: true,
				Input: ModalityFlags{Text: true, Image: true, Audio: true}, Output: ModalityFlags{Text: true}},
			Cost:   ModelCost{Input: 2.5, Output: 10},
			Limits: ModelLimits{Context: 128000, Output: 16384},
		},
		{
			ID: "gpt-4-turbo", Name: "GPT-4 Turbo", Dialect: DialectResponses,
			Capabilities: ModelCapabilities{ToolCall: true,
				Input: ModalityFlags{Text: true, Image: true}, Output: ModalityFlags{Text: true}},
			Cost:   ModelCost{Input: 10, Output: 30},
			Limits: ModelLimits{Context: 128000, Output: 4096},
		},
		{
			ID: "gpt-4.1-mini", Name: "GPT-4.1 Mini", Dialect: DialectChat,
			Capabilities: ModelCapabilities{ToolCall: true, Temperature: true,
				Input: ModalityFlags{Text: true, Image: true}, Output: ModalityFlags{Text: true}},
			Cost:   ModelCost{Input: 0.4, Output: 1.6},
			Limits: ModelLimits{Context: 1047576, Output: 32768},
		},
		{
			ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", Dialect: DialectGemini,
			Capabilities: ModelCapabilities{Reasoning: true, ToolCall: true, Attachment: true,
				Input: ModalityFlags{Text: true, Image: true, Audio: true, Video: true}, Output: ModalityFlags{Text: true}},
			Cost:   ModelCost{Input: 1.25, Output: 10},
			Limits: ModelLimits{Context: 1048576, Output: 65536},
		},
		{
			ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", Dialect: DialectGemini,
			Capabilities: ModelCapabilities{Reasoning: true, ToolCall: true, Attachment: true,
				Input: ModalityFlags{Text: true, Image: true, Audio: true, Video: true}, Output: ModalityFlags{Text: true}},
			Cost:   ModelCost{Input: 0.3, Output: 2.5},
			Limits: ModelLimits{Context: 1048576, Output: 65536},
		},
		{
			ID: "gemini-3-pro-preview", Name: "Gemini 3 Pro", Dialect: DialectGemini,
			Capabilities: ModelCapabilities{Reasoning: true, ToolCall: true, Attachment: true,
				Input: ModalityFlags{Text: true, Image: true, Audio: true, Video: true}, Output: ModalityFlags{Text: true}},
			Cost:   ModelCost{Input: 2, Output: 12},
			Limits: ModelLimits{Context: 1048576, Output: 65536},
		},
		{
			ID: "gemini-2.5-flash-image", Name: "Gemini 2.5 Flash Image", Dialect: DialectGemini,
			Capabilities: ModelCapabilities{Attachment: true,
				Input: ModalityFlags{Text: true, Image: true}, Output: ModalityFlags{Text: true, Image: true}},
			Cost:   ModelCost{Input: 0.3, Output: 30},
			Limits: ModelLimits{Context: 32768, Output: 32768},
		},
		{
			ID: "veo-3.0-generate-001", Name: "Veo 3", Dialect: DialectGemini,
			Capabilities: ModelCapabilities{
				Input: ModalityFlags{Text: true, Image: true}, Output: ModalityFlags{Video: true}},
			Limits: ModelLimits{Context: 1024},
		},
	}

	for _, m := range builtin {
		mr.models[m.ID] = m
	}
}
