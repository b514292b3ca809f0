// Package config handles Kestrel configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/kestrel/config.yaml, /etc/kestrel/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "kestrel", "config.yaml"))
	}

	paths = append(paths, "/etc/kestrel/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Kestrel configuration. It is loaded once at startup
// and treated as immutable afterwards; components receive the values
// they need at construction time.
type Config struct {
	Provider  string          `yaml:"provider"` // "openai" or "anthropic"
	Model     string          `yaml:"model"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	MiniMax   MiniMaxConfig   `yaml:"minimax"`
	Agent     AgentConfig     `yaml:"agent"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	ShellExec ShellExecConfig `yaml:"shell_exec"`
	Tools     ToolsConfig     `yaml:"tools"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// OpenAIConfig defines OpenAI-compatible API settings.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // override for compatible backends
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// MiniMaxConfig defines MiniMax TTS settings. Speech synthesis is
// offered as a tool only when APIKey and GroupID are set.
type MiniMaxConfig struct {
	APIKey  string `yaml:"api_key"`
	GroupID string `yaml:"group_id"`
	VoiceID string `yaml:"voice_id"`
	Model   string `yaml:"model"`
}

// AgentConfig bounds the agent loop.
type AgentConfig struct {
	// SystemPrompt seeds the conversation. Empty uses the built-in default.
	SystemPrompt string `yaml:"system_prompt"`
	// MaxIterations caps THINK steps per user instruction (default 15).
	MaxIterations int `yaml:"max_iterations"`
	// ProviderRetries is how many times a retryable provider failure is
	// retried before aborting (default 2).
	ProviderRetries int `yaml:"provider_retries"`
	// RunTimeoutSec bounds one whole instruction, 0 = unbounded.
	RunTimeoutSec int `yaml:"run_timeout_sec"`
}

// WorkspaceConfig defines the agent's workspace for file operations.
type WorkspaceConfig struct {
	// Path is the root directory for file operations. All file tool
	// paths are relative to this directory. If empty, file tools are
	// disabled.
	Path string `yaml:"path"`
}

// ShellExecConfig defines shell execution capabilities.
type ShellExecConfig struct {
	// Enabled allows shell command execution. Disabled by default for safety.
	Enabled bool `yaml:"enabled"`
	// WorkingDir sets the default working directory for commands.
	WorkingDir string `yaml:"working_dir"`
	// DeniedPatterns are command substrings to block (e.g., "rm -rf /").
	DeniedPatterns []string `yaml:"denied_patterns"`
	// AllowedPrefixes limits commands to those starting with these prefixes.
	// Empty means all commands are allowed (subject to denied patterns).
	AllowedPrefixes []string `yaml:"allowed_prefixes"`
}

// ToolsConfig bounds tool execution.
type ToolsConfig struct {
	// TimeoutSec is the per-call wall-clock timeout (default 30).
	TimeoutSec int `yaml:"timeout_sec"`
	// OutputCap is the maximum tool output length in characters
	// before truncation (default 2000).
	OutputCap int `yaml:"output_cap"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file (e.g. api_key: ${OPENAI_API_KEY}) are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Provider: "anthropic",
		Model:    "claude-sonnet-4-20250514",
		Agent: AgentConfig{
			MaxIterations:   15,
			ProviderRetries: 2,
		},
		Tools: ToolsConfig{
			TimeoutSec: 30,
			OutputCap:  2000,
		},
	}
}
