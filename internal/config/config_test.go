package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, 5, cfg.Orchestrator().MaxConcurrentAgents)
	assert.Equal(t, 10*time.Second, cfg.Orchestrator().StaggerDelay)
	assert.Equal(t, 3, cfg.Orchestrator().MaxRestarts)
	assert.Equal(t, 30*time.Second, cfg.Health().Interval)
	assert.Equal(t, 5, cfg.Recovery().CircuitThreshold)
	assert.Equal(t, 1000, cfg.Memory().Capacity)
	assert.Equal(t, 0.2, cfg.Decision().JitterVariance)
	assert.Equal(t, 50, cfg.Probe().FloodRequests)
	assert.True(t, cfg.Target().Headless)

	require.NoError(t, cfg.Validate())
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetTargetBaseURL("http://game.local")
	cfg.SetTargetHeadless(false)
	cfg.SetOrchestratorMaxConcurrent(2)
	cfg.SetProbeReportPath("out.json")

	assert.Equal(t, "http://game.local", cfg.Target().BaseURL)
	assert.False(t, cfg.Target().Headless)
	assert.Equal(t, 2, cfg.Orchestrator().MaxConcurrentAgents)
	assert.Equal(t, "out.json", cfg.Probe().ReportPath)
}

func TestNewConfigFromViper(t *testing.T) {
	t.Run("reads file over defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "stampede.yaml")
		content := `
target:
  base_url: http://game.local:8080
orchestrator:
  max_concurrent_agents: 2
swarm:
  agents:
    - name: alpha
      username: alpha@example.com
      password: hunter2
      archetype: combat
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		v := viper.New()
		SetDefaults(v)
		v.SetConfigFile(path)
		require.NoError(t, v.ReadInConfig())

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "http://game.local:8080", cfg.Target().BaseURL)
		assert.Equal(t, 2, cfg.Orchestrator().MaxConcurrentAgents)
		require.Len(t, cfg.Swarm().Agents, 1)
		assert.Equal(t, "alpha", cfg.Swarm().Agents[0].Name)
		assert.Equal(t, "combat", cfg.Swarm().Agents[0].Archetype)
		// Default survives for untouched sections.
		assert.Equal(t, 90*time.Second, cfg.Target().NavigationTimeout)
	})

	t.Run("expands home in state dir", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.NotContains(t, cfg.State().Dir, "~")
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency cap", func(c *Config) { c.OrchestratorC.MaxConcurrentAgents = 0 }},
		{"negative restarts", func(c *Config) { c.OrchestratorC.MaxRestarts = -1 }},
		{"zero memory capacity", func(c *Config) { c.MemoryC.Capacity = 0 }},
		{"jitter out of range", func(c *Config) { c.DecisionC.JitterVariance = 1.0 }},
		{"negative retries", func(c *Config) { c.RecoveryC.MaxRetries = -1 }},
		{"zero circuit threshold", func(c *Config) { c.RecoveryC.CircuitThreshold = 0 }},
		{"zero health interval", func(c *Config) { c.HealthC.Interval = 0 }},
		{"unnamed agent", func(c *Config) {
			c.SwarmC.Agents = []AgentSpec{{Username: "x"}}
		}},
		{"duplicate agent names", func(c *Config) {
			c.SwarmC.Agents = []AgentSpec{{Name: "a"}, {Name: "a"}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
