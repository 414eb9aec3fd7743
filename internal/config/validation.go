package config

import (
	"fmt"
	"strings"
)

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates every problem found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return "configuration invalid:\n  " + strings.Join(msgs, "\n  ")
}

// Validate checks the root config for internally inconsistent values.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.MaxIterations < 1 {
		errs = append(errs, ValidationError{"max_iterations", "must be at least 1"})
	}
	if c.MaxTokens < 1 {
		errs = append(errs, ValidationError{"max_tokens", "must be at least 1"})
	}
	if c.ChatsDir == "" {
		errs = append(errs, ValidationError{"chats_dir", "must not be empty"})
	}
	switch c.Permission.DefaultMode {
	case "", "auto", "prompt", "deny":
	default:
		errs = append(errs, ValidationError{"permission.default_mode", "must be auto, prompt, or deny"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateModels checks a loaded models catalog.
func ValidateModels(models []*Model) error {
	var errs ValidationErrors
	for i, m := range models {
		if m.Name == "" {
			errs = append(errs, ValidationError{fmt.Sprintf("models[%d].name", i), "must not be empty"})
		}
		if m.ModelID == "" {
			errs = append(errs, ValidationError{fmt.Sprintf("models[%d].model_id", i), "must not be empty"})
		}
		if m.SystemPrompt != "" && m.SystemPromptFile != "" {
			errs = append(errs, ValidationError{
				fmt.Sprintf("models[%d]", i),
				"system_prompt and system_prompt_file are mutually exclusive",
			})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
