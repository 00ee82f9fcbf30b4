// Package config provides configuration loading and management for the
// workflow orchestrator.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete orchestrator configuration.
type Config struct {
	Repo     RepoConfig     `yaml:"repo"`
	Paths    PathsConfig    `yaml:"paths"`
	Hub      HubConfig      `yaml:"hub"`
	Agent    AgentConfig    `yaml:"agent"`
	Forge    ForgeConfig    `yaml:"forge"`
	Uploader UploaderConfig `yaml:"uploader"`
	Workflow WorkflowConfig `yaml:"workflow"`
}

// RepoConfig locates the primary repository.
type RepoConfig struct {
	// Path is the repository root (auto-detected from git if empty).
	Path string `yaml:"path"`
	// BaseBranch is the branch worktrees are cut from.
	BaseBranch string `yaml:"base_branch"`
}

// PathsConfig locates the on-disk working areas. Relative paths
// resolve against the repo root.
type PathsConfig struct {
	// StateStore holds per-run state and agent output.
	StateStore string `yaml:"statestore"`
	// Trees holds per-run worktrees.
	Trees string `yaml:"trees"`
}

// HubConfig configures the WebSocket hub.
type HubConfig struct {
	// Port the hub listens on.
	Port int `yaml:"port"`
}

// AgentConfig configures the headless AI CLI.
type AgentConfig struct {
	// CLIPath is the agent binary (default "claude").
	CLIPath string `yaml:"cli_path"`
	// ModelSet is the default model set for new runs.
	ModelSet string `yaml:"model_set"`
}

// ForgeConfig configures the code forge.
type ForgeConfig struct {
	// RepoURL is the target forge repository. Required unless every
	// run is board-sourced.
	RepoURL string `yaml:"repo_url"`
	// Token is the forge credential; empty falls back to the forge
	// CLI's own auth.
	Token string `yaml:"token"`
}

// UploaderConfig configures review screenshot uploads.
type UploaderConfig struct {
	// BaseURL of the object store; empty disables uploads and review
	// keeps local paths.
	BaseURL string `yaml:"base_url"`
}

// WorkflowConfig tunes phase execution.
type WorkflowConfig struct {
	// MaxRuns caps concurrent runs and sizes the port windows.
	MaxRuns int `yaml:"max_runs"`
	// ReviewTimeout bounds the browser-driving review agent.
	ReviewTimeout time.Duration `yaml:"review_timeout"`
	// ResolveAttempts caps the test-failure resolution loop.
	ResolveAttempts int `yaml:"resolve_attempts"`
	// EnvFiles are repo-relative files copied into each new worktree.
	EnvFiles []string `yaml:"env_files"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Repo: RepoConfig{
			Path:       "", // auto-detect
			BaseBranch: "main",
		},
		Paths: PathsConfig{
			StateStore: "agents",
			Trees:      "trees",
		},
		Hub: HubConfig{
			Port: 8500,
		},
		Agent: AgentConfig{
			CLIPath:  "claude",
			ModelSet: "base",
		},
		Workflow: WorkflowConfig{
			MaxRuns:         15,
			ReviewTimeout:   20 * time.Minute,
			ResolveAttempts: 3,
			EnvFiles:        []string{".env"},
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Repo.Path == "" {
		return fmt.Errorf("repo.path is required (git auto-detection failed)")
	}
	if c.Hub.Port < 1 || c.Hub.Port > 65535 {
		return fmt.Errorf("hub.port %d out of range", c.Hub.Port)
	}
	if c.Workflow.MaxRuns < 1 {
		return fmt.Errorf("workflow.max_runs must be at least 1")
	}
	if c.Agent.CLIPath == "" {
		return fmt.Errorf("agent.cli_path is required")
	}
	if c.Agent.ModelSet != "base" && c.Agent.ModelSet != "heavy" {
		return fmt.Errorf("agent.model_set must be base or heavy, got %q", c.Agent.ModelSet)
	}
	return nil
}

// StateStoreDir returns the absolute state store location.
func (c *Config) StateStoreDir() string {
	return c.resolve(c.Paths.StateStore)
}

// TreesDir returns the absolute worktree area location.
func (c *Config) TreesDir() string {
	return c.resolve(c.Paths.Trees)
}

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Repo.Path, path)
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Merge merges another config into this one; other takes precedence
// for non-zero values.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Repo.Path != "" {
		c.Repo.Path = other.Repo.Path
	}
	if other.Repo.BaseBranch != "" {
		c.Repo.BaseBranch = other.Repo.BaseBranch
	}

	if other.Paths.StateStore != "" {
		c.Paths.StateStore = other.Paths.StateStore
	}
	if other.Paths.Trees != "" {
		c.Paths.Trees = other.Paths.Trees
	}

	if other.Hub.Port != 0 {
		c.Hub.Port = other.Hub.Port
	}

	if other.Agent.CLIPath != "" {
		c.Agent.CLIPath = other.Agent.CLIPath
	}
	if other.Agent.ModelSet != "" {
		c.Agent.ModelSet = other.Agent.ModelSet
	}

	if other.Forge.RepoURL != "" {
		c.Forge.RepoURL = other.Forge.RepoURL
	}
	if other.Forge.Token != "" {
		c.Forge.Token = other.Forge.Token
	}

	if other.Uploader.BaseURL != "" {
		c.Uploader.BaseURL = other.Uploader.BaseURL
	}

	if other.Workflow.MaxRuns != 0 {
		c.Workflow.MaxRuns = other.Workflow.MaxRuns
	}
	if other.Workflow.ReviewTimeout != 0 {
		c.Workflow.ReviewTimeout = other.Workflow.ReviewTimeout
	}
	if other.Workflow.ResolveAttempts != 0 {
		c.Workflow.ResolveAttempts = other.Workflow.ResolveAttempts
	}
	if len(other.Workflow.EnvFiles) > 0 {
		c.Workflow.EnvFiles = other.Workflow.EnvFiles
	}
}
