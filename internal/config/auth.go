package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Credentials stores API keys outside the main config file.
type Credentials struct {
	OpenAIKey string `json:"openai_api_key,omitempty"`
	GeminiKey string `json:"gemini_api_key,omitempty"`
}

// GetCredentialsPath returns the credentials file location.
func GetCredentialsPath() string {
	return filepath.Join(GetConfigDir(), "credentials.json")
}

// LoadCredentials reads the credentials file; a missing file yields empty
// credentials, not an error.
func LoadCredentials() (*Credentials, error) {
	data, err := os.ReadFile(GetCredentialsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return &Credentials{}, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return &creds, nil
}

// SaveCredentials writes the credentials file with restrictive permissions.
func SaveCredentials(creds *Credentials) error {
	path := GetCredentialsPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ResolveOpenAIKey returns the OpenAI API key: a per-model key wins, then
// the OPENAI_API_KEY environment variable, then the credentials file.
func ResolveOpenAIKey(model *Model) string {
	if model != nil && model.APIKey != "" {
		return model.APIKey
	}
	if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
		return key
	}
	if creds, err := LoadCredentials(); err == nil {
		return creds.OpenAIKey
	}
	return ""
}

// ResolveGeminiKey is the Gemini analogue of ResolveOpenAIKey.
func ResolveGeminiKey(model *Model) string {
	if model != nil && model.APIKey != "" {
		return model.APIKey
	}
	if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" {
		return key
	}
	if creds, err := LoadCredentials(); err == nil {
		return creds.GeminiKey
	}
	return ""
}
