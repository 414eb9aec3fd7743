package permission

import (
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// RuleSet holds the compiled allow/deny rules: glob patterns for paths,
// prefix patterns for shell commands.
type RuleSet struct {
	allowedPathGlobs []glob.Glob
	deniedPathGlobs  []glob.Glob
	allowedCmds      []string
	deniedCmds       []string
}

// NewRuleSet creates a new rule set from configuration.
func NewRuleSet(cfg *Config) (*RuleSet, error) {
	rs := &RuleSet{
		allowedCmds: cfg.AllowedCommands,
		deniedCmds:  cfg.DeniedCommands,
	}

	for _, pattern := range cfg.AllowedPaths {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, err
		}
		rs.allowedPathGlobs = append(rs.allowedPathGlobs, g)
	}

	for _, pattern := range cfg.DeniedPaths {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, err
		}
		rs.deniedPathGlobs = append(rs.deniedPathGlobs, g)
	}

	return rs, nil
}

// IsPathAllowed checks if a path matches allowed patterns.
func (rs *RuleSet) IsPathAllowed(path string) bool {
	normalized := filepath.ToSlash(filepath.Clean(path))
	for _, g := range rs.allowedPathGlobs {
		if g.Match(normalized) {
			return true
		}
	}
	return false
}

// IsPathDenied checks if a path matches denied patterns.
func (rs *RuleSet) IsPathDenied(path string) bool {
	normalized := filepath.ToSlash(filepath.Clean(path))
	for _, g := range rs.deniedPathGlobs {
		if g.Match(normalized) {
			return true
		}
	}
	return false
}

// IsCommandAllowed checks if a command starts with an allowed prefix.
func (rs *RuleSet) IsCommandAllowed(cmd string) bool {
	return matchesCommandPrefix(cmd, rs.allowedCmds)
}

// IsCommandDenied checks if a command starts with a denied prefix.
func (rs *RuleSet) IsCommandDenied(cmd string) bool {
	return matchesCommandPrefix(cmd, rs.deniedCmds)
}

func matchesCommandPrefix(cmd string, prefixes []string) bool {
	trimmed := strings.TrimSpace(cmd)
	for _, p := range prefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

// IsExternalPath checks if a path is outside the project directory.
func IsExternalPath(path, projectDir string) bool {
	if projectDir == "" {
		return false
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	absProjectDir, err := filepath.Abs(projectDir)
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(absProjectDir, absPath)
	if err != nil {
		return true
	}
	return strings.HasPrefix(rel, "..")
}

// IsSafeCommand reports whether a shell command is read-only enough to
// auto-approve in prompt mode.
func IsSafeCommand(cmd string) bool {
	safeCommands := []string{
		"ls", "cat", "echo", "pwd", "which", "whereis",
		"git status", "git log", "git diff", "git branch",
		"env", "printenv", "uname", "whoami", "date",
		"grep", "rg", "find", "head", "tail", "wc",
	}

	unsafePatterns := []string{
		"rm ", "rm -", "> ", ">>", "|", "curl", "wget",
		"chmod", "chown", "sudo", "su ", "exec",
		"eval", "source", ". ", "kill", "pkill",
		"mv ", "cp ", "dd ", "mkfs",
	}

	cmdLower := strings.ToLower(strings.TrimSpace(cmd))

	for _, unsafe := range unsafePatterns {
		if strings.Contains(cmdLower, unsafe) {
			return false
		}
	}
	for _, safe := range safeCommands {
		if strings.HasPrefix(cmdLower, safe) {
			return true
		}
	}
	return false
}
