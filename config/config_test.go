package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	c := DefaultConfig()
	c.Repo.Path = t.TempDir()
	require.NoError(t, c.Validate())
	assert.Equal(t, 15, c.Workflow.MaxRuns)
	assert.Equal(t, 20*time.Minute, c.Workflow.ReviewTimeout)
	assert.Equal(t, "claude", c.Agent.CLIPath)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no repo path", func(c *Config) { c.Repo.Path = "" }},
		{"port out of range", func(c *Config) { c.Hub.Port = 70000 }},
		{"zero max runs", func(c *Config) { c.Workflow.MaxRuns = 0 }},
		{"empty cli path", func(c *Config) { c.Agent.CLIPath = "" }},
		{"unknown model set", func(c *Config) { c.Agent.ModelSet = "turbo" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := DefaultConfig()
			c.Repo.Path = t.TempDir()
			tc.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestMergePrecedence(t *testing.T) {
	base := DefaultConfig()
	base.Merge(&Config{
		Repo:  RepoConfig{Path: "/repo", BaseBranch: "trunk"},
		Hub:   HubConfig{Port: 9000},
		Agent: AgentConfig{ModelSet: "heavy"},
		Workflow: WorkflowConfig{
			MaxRuns: 5,
		},
	})

	assert.Equal(t, "/repo", base.Repo.Path)
	assert.Equal(t, "trunk", base.Repo.BaseBranch)
	assert.Equal(t, 9000, base.Hub.Port)
	assert.Equal(t, "heavy", base.Agent.ModelSet)
	assert.Equal(t, 5, base.Workflow.MaxRuns)
	// Untouched fields keep their defaults.
	assert.Equal(t, "claude", base.Agent.CLIPath)
	assert.Equal(t, "agents", base.Paths.StateStore)
}

func TestMergeNilIsNoop(t *testing.T) {
	base := DefaultConfig()
	base.Merge(nil)
	assert.Equal(t, DefaultConfig(), base)
}

func TestLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adw.yaml")
	c := DefaultConfig()
	c.Repo.Path = "/somewhere"
	c.Forge.RepoURL = "https://forge.example/acme/app"
	require.NoError(t, c.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/somewhere", loaded.Repo.Path)
	assert.Equal(t, "https://forge.example/acme/app", loaded.Forge.RepoURL)
	assert.Equal(t, 15, loaded.Workflow.MaxRuns)
}

func TestPathResolution(t *testing.T) {
	c := DefaultConfig()
	c.Repo.Path = "/repo"
	assert.Equal(t, "/repo/agents", c.StateStoreDir())
	assert.Equal(t, "/repo/trees", c.TreesDir())

	c.Paths.StateStore = "/var/adw/state"
	assert.Equal(t, "/var/adw/state", c.StateStoreDir())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("STATESTORE_DIR", "/env/state")
	t.Setenv("HUB_PORT", "8765")
	t.Setenv("AGENT_CLI_PATH", "/usr/local/bin/agent")
	t.Setenv("FORGE_REPO_URL", "https://forge.example/acme/app")

	c := DefaultConfig()
	NewLoader(nil).applyEnv(c)

	assert.Equal(t, "/env/state", c.Paths.StateStore)
	assert.Equal(t, 8765, c.Hub.Port)
	assert.Equal(t, "/usr/local/bin/agent", c.Agent.CLIPath)
	assert.Equal(t, "https://forge.example/acme/app", c.Forge.RepoURL)
}
