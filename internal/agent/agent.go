// Package agent drives the bounded request/tool iteration at the heart of
// the runtime plus the agent definitions and permission
// rules that shape each run.
package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// PermissionAction defines what happens when a tool is invoked.
type PermissionAction string

const (
	PermAllow PermissionAction = "allow"
	PermDeny  PermissionAction = "deny"
	PermAsk   PermissionAction = "ask"
)

// PermissionRule is a single rule with glob pattern support. Permission
// names the gated capability (a tool name or an action group like "edit"),
// Pattern matches the call's target (path or command).
type PermissionRule struct {
	Permission string           `json:"permission"`
	Pattern    string           `json:"pattern"`
	Action     PermissionAction `json:"action"`
}

// Agent is a named preset: a system prompt, a tool allowlist, and a
// permission ruleset.
type Agent struct {
	Name        string
	Description string
	Prompt      string
	Tools       []string // tool names this agent may use; empty = all
	Permission  []PermissionRule
}

// EditTools is the set of tools gated by the "edit" permission group.
var EditTools = []string{"edit_file", "apply_patch", "delete_file"}

// WildcardMatch performs simple glob-style matching.
// Supports * (match any sequence) and ? (match single char).
func WildcardMatch(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	return wildcardMatchImpl(pattern, value)
}

func wildcardMatchImpl(pattern, value string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			// Skip consecutive *
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 0 {
				return true
			}
			for i := 0; i <= len(value); i++ {
				if wildcardMatchImpl(pattern, value[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(value) == 0 {
				return false
			}
			pattern = pattern[1:]
			value = value[1:]
		default:
			if len(value) == 0 || pattern[0] != value[0] {
				return false
			}
			pattern = pattern[1:]
			value = value[1:]
		}
	}
	return len(value) == 0
}

// EvaluatePermission evaluates permission rules for a given tool and
// pattern. Rules are evaluated in order (last matching rule wins).
func EvaluatePermission(permission, pattern string, rulesets ...[]PermissionRule) PermissionRule {
	var merged []PermissionRule
	for _, rs := range rulesets {
		merged = append(merged, rs...)
	}

	result := PermissionRule{
		Permission: permission,
		Pattern:    "*",
		Action:     PermAllow, // default
	}

	for _, rule := range merged {
		if WildcardMatch(rule.Permission, permission) && WildcardMatch(rule.Pattern, pattern) {
			result = rule
		}
	}
	return result
}

// PermissionGroup maps a tool name to the permission name its rules are
// keyed by: edit-class tools share the "edit" group.
func PermissionGroup(toolName string) string {
	for _, t := range EditTools {
		if toolName == t {
			return "edit"
		}
	}
	return toolName
}

// DisabledTools returns the set of tools fully denied by the ruleset.
func DisabledTools(tools []string, ruleset []PermissionRule) map[string]bool {
	result := make(map[string]bool)
	for _, t := range tools {
		permission := PermissionGroup(t)
		for i := len(ruleset) - 1; i >= 0; i-- {
			rule := ruleset[i]
			if !WildcardMatch(rule.Permission, permission) {
				continue
			}
			if rule.Pattern == "*" && rule.Action == PermDeny {
				result[t] = true
			}
			break
		}
	}
	return result
}

// MergePermissions merges multiple rulesets (last wins semantics).
func MergePermissions(rulesets ...[]PermissionRule) []PermissionRule {
	var merged []PermissionRule
	for _, rs := range rulesets {
		merged = append(merged, rs...)
	}
	return merged
}

// defaultPermissions returns the base permission ruleset for all agents.
func defaultPermissions() []PermissionRule {
	return []PermissionRule{
		{Permission: "*", Pattern: "*", Action: PermAllow},
		// Protect .env files
		{Permission: "read_file", Pattern: "*.env", Action: PermDeny},
		{Permission: "read_file", Pattern: "*.env.*", Action: PermDeny},
		{Permission: "read_file", Pattern: "*.env.example", Action: PermAllow},
		{Permission: "edit", Pattern: "*.env", Action: PermDeny},
		{Permission: "edit", Pattern: "*.env.*", Action: PermDeny},
	}
}

// CoderPrompt is the default agent's system prompt.
const CoderPrompt = `You are a capable software engineering assistant. You read, write, and
run code using the tools available to you. Prefer small, verifiable steps;
read before you edit; report what you changed.`

// PlannerPrompt is the read-only planning agent's system prompt.
const PlannerPrompt = `You are a planning assistant. Explore the workspace with read-only tools
and produce a concrete plan. Do not modify any files.`

// TitlePrompt instructs the title-synthesis completion.
const TitlePrompt = `Generate a concise title (at most 10 words) for the conversation below.
Reply with the title only: no quotes, no trailing punctuation.`

// BuiltinAgents returns the built-in agent definitions.
func BuiltinAgents() map[string]*Agent {
	return map[string]*Agent{
		"coder": {
			Name:        "coder",
			Description: "Default full-capability coding agent",
			Prompt:      CoderPrompt,
			Permission:  defaultPermissions(),
		},
		"planner": {
			Name:        "planner",
			Description: "Read-only exploration and planning",
			Prompt:      PlannerPrompt,
			Tools:       []string{"read_file", "rg", "list_dir", "glob_file_search", "read_lints", "todo_write"},
			Permission: MergePermissions(defaultPermissions(), []PermissionRule{
				{Permission: "edit", Pattern: "*", Action: PermDeny},
				{Permission: "run_terminal_cmd", Pattern: "*", Action: PermDeny},
			}),
		},
	}
}

// GetAgent returns a built-in agent by name, falling back to coder.
func GetAgent(name string) *Agent {
	agents := BuiltinAgents()
	if a, ok := agents[name]; ok {
		return a
	}
	return agents["coder"]
}

// GetSystemPrompt builds the full system prompt for an agent: its base
// prompt plus environment context and custom instructions. memoryFile may
// be empty.
func GetSystemPrompt(agentName, memoryFile string) string {
	agent := GetAgent(agentName)
	return buildPromptWithContext(agent.Prompt, memoryFile)
}

// buildPromptWithContext adds environment context to a prompt.
func buildPromptWithContext(basePrompt, memoryFile string) string {
	workdir, _ := os.Getwd()
	platform := runtime.GOOS + "/" + runtime.GOARCH
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/bash"
	}

	context := fmt.Sprintf(`

## Environment

<env>
  Working directory: %s
  Platform: %s
  Shell: %s
  Today's date: %s
</env>`, workdir, platform, shell, time.Now().Format("Mon Jan 2 2006"))

	if custom := loadCustomInstructions(workdir, memoryFile); custom != "" {
		context += "\n\n## Project Instructions\n\n" + custom
	}

	return basePrompt + context
}

// loadCustomInstructions gathers instruction files: the configured memory
// file first, then AGENTS.md-style files walking up from workdir.
func loadCustomInstructions(workdir, memoryFile string) string {
	var instructions []string

	if memoryFile != "" {
		if data, err := os.ReadFile(memoryFile); err == nil {
			if content := strings.TrimSpace(string(data)); content != "" {
				instructions = append(instructions, content)
			}
		}
	}

	dir := workdir
	for {
		candidates := []string{
			filepath.Join(dir, ".dcode", "instructions.md"),
			filepath.Join(dir, "AGENTS.md"),
		}
		for _, path := range candidates {
			if data, err := os.ReadFile(path); err == nil {
				if content := strings.TrimSpace(string(data)); content != "" {
					header := fmt.Sprintf("Instructions from: %s", path)
					instructions = append(instructions, header+"\n"+content)
				}
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return strings.Join(instructions, "\n\n")
}
