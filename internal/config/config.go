// Package config loads the runtime's configuration: the main settings
// file, the models catalog, and the tools catalog.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration for the runtime.
type Config struct {
	// ChatsDir is where persisted sessions live (chat.<id>.json files).
	ChatsDir string `mapstructure:"chats_dir" json:"chats_dir"`

	// ModelsCatalog is the path to the models catalog JSON (array of Model).
	ModelsCatalog string `mapstructure:"models_catalog" json:"models_catalog"`

	// ToolsCatalog is the path to the tools catalog JSON (array of
	// OpenAI-style tool definitions).
	ToolsCatalog string `mapstructure:"tools_catalog" json:"tools_catalog"`

	// DefaultModel names the catalog entry used when the caller does not
	// pick one.
	DefaultModel string `mapstructure:"default_model" json:"default_model"`

	// MaxIterations bounds the agent loop (default 100).
	MaxIterations int `mapstructure:"max_iterations" json:"max_iterations"`

	// MaxTokens is the per-request output token budget.
	MaxTokens int `mapstructure:"max_tokens" json:"max_tokens"`

	// MemoryFile is where custom instructions are read from; the
	// DCODE_MEMORY_FILE environment variable overrides it per call.
	MemoryFile string `mapstructure:"memory_file" json:"memory_file"`

	// Permission holds tool-gating settings.
	Permission PermissionSettings `mapstructure:"permission" json:"permission"`

	configDir string
}

// PermissionSettings mirrors permission.Config in file form.
type PermissionSettings struct {
	DefaultMode     string   `mapstructure:"default_mode" json:"default_mode"`
	BashMode        string   `mapstructure:"bash_mode" json:"bash_mode"`
	EditMode        string   `mapstructure:"edit_mode" json:"edit_mode"`
	DeleteMode      string   `mapstructure:"delete_mode" json:"delete_mode"`
	AllowedPaths    []string `mapstructure:"allowed_paths" json:"allowed_paths,omitempty"`
	DeniedPaths     []string `mapstructure:"denied_paths" json:"denied_paths,omitempty"`
	AllowedCommands []string `mapstructure:"allowed_commands" json:"allowed_commands,omitempty"`
	DeniedCommands  []string `mapstructure:"denied_commands" json:"denied_commands,omitempty"`
}

// Model is one models-catalog descriptor. Equality is by Name; everything
// else is immutable after load except the API key, which may be re-read
// from APIKeyFile.
type Model struct {
	Name              string   `json:"name"`
	ModelID           string   `json:"model_id"`
	BaseURL           string   `json:"base_url,omitempty"`
	APIKey            string   `json:"api_key,omitempty"`
	APIKeyFile        string   `json:"api_key_file,omitempty"`
	ReasoningEffort   string   `json:"reasoning_effort,omitempty"`
	SystemPrompt      string   `json:"system_prompt,omitempty"`
	SystemPromptFile  string   `json:"system_prompt_file,omitempty"`
	ToolNameAllowlist []string `json:"tool_name_allowlist,omitempty"`
}

// Equal compares models by name.
func (m *Model) Equal(o *Model) bool {
	return m != nil && o != nil && m.Name == o.Name
}

// ReloadAPIKey re-reads the key from APIKeyFile, if configured. The only
// post-load mutation a Model permits.
func (m *Model) ReloadAPIKey() error {
	if m.APIKeyFile == "" {
		return nil
	}
	data, err := os.ReadFile(expandHome(m.APIKeyFile))
	if err != nil {
		return fmt.Errorf("read api_key_file: %w", err)
	}
	m.APIKey = strings.TrimSpace(string(data))
	return nil
}

// GetConfigDir returns the directory config files are read from.
func GetConfigDir() string {
	if dir := os.Getenv("DCODE_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "dcode")
}

// Load reads config.json from the config directory (viper, with env
// overrides) and fills in defaults. A missing file yields the defaults.
func Load() (*Config, error) {
	return LoadFrom(GetConfigDir())
}

// LoadFrom reads configuration rooted at dir.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("DCODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("chats_dir", filepath.Join(dir, "chats"))
	v.SetDefault("models_catalog", filepath.Join(dir, "models.json"))
	v.SetDefault("tools_catalog", filepath.Join(dir, "tools.json"))
	v.SetDefault("max_iterations", 100)
	v.SetDefault("max_tokens", 8192)
	v.SetDefault("memory_file", filepath.Join(dir, "memory.md"))
	v.SetDefault("permission.default_mode", "auto")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.configDir = dir
	return &cfg, nil
}

// MemoryFilePath resolves the memory file, honoring the environment
// override. Read fresh on every call so a long-lived process picks up
// changes.
func (c *Config) MemoryFilePath() string {
	if p := os.Getenv("DCODE_MEMORY_FILE"); p != "" {
		return expandHome(p)
	}
	return expandHome(c.MemoryFile)
}

// LoadModels reads the models catalog: a JSON array of Model descriptors.
// Values support {env:NAME} and {file:path} substitution.
func (c *Config) LoadModels() ([]*Model, error) {
	data, err := os.ReadFile(c.ModelsCatalog)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read models catalog: %w", err)
	}

	text := substituteEnvVars(stripJSONC(string(data)))
	text = substituteFileRefs(text, filepath.Dir(c.ModelsCatalog))

	var models []*Model
	if err := json.Unmarshal([]byte(text), &models); err != nil {
		return nil, fmt.Errorf("parse models catalog: %w", err)
	}

	seen := map[string]bool{}
	for _, m := range models {
		if seen[m.Name] {
			return nil, fmt.Errorf("duplicate model name %q in catalog", m.Name)
		}
		seen[m.Name] = true
		if m.APIKey == "" && m.APIKeyFile != "" {
			if err := m.ReloadAPIKey(); err != nil {
				return nil, fmt.Errorf("model %s: %w", m.Name, err)
			}
		}
	}
	return models, nil
}

// FindModel returns the catalog entry with the given name, or nil.
func FindModel(models []*Model, name string) *Model {
	for _, m := range models {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// JSONC helpers
// ---------------------------------------------------------------------------

var (
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reTrailingComma = regexp.MustCompile(`,\s*([\]}])`)
	reEnvVar        = regexp.MustCompile(`\{env:([^}]+)\}`)
	reFileRef       = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// stripJSONC removes comments and trailing commas to produce valid JSON.
func stripJSONC(text string) string {
	text = reBlockComment.ReplaceAllString(text, "")
	text = reLineComment.ReplaceAllString(text, "")
	text = reTrailingComma.ReplaceAllString(text, "$1")
	return text
}

// substituteEnvVars replaces {env:NAME} with the variable's value.
func substituteEnvVars(text string) string {
	return reEnvVar.ReplaceAllStringFunc(text, func(match string) string {
		name := reEnvVar.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// substituteFileRefs replaces {file:path} with the file's trimmed content.
// Relative paths resolve against baseDir.
func substituteFileRefs(text string, baseDir string) string {
	return reFileRef.ReplaceAllStringFunc(text, func(match string) string {
		path := reFileRef.FindStringSubmatch(match)[1]
		path = expandHome(path)
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(data))
	})
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
