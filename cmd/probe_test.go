package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/stampede/internal/config"
)

func swarmConfig(agents ...config.AgentSpec) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.SwarmC.Agents = agents
	return cfg
}

func TestSelectAgent(t *testing.T) {
	alpha := config.AgentSpec{Name: "alpha", Username: "alpha@example.com", Password: "pw", Archetype: "grinder"}
	beta := config.AgentSpec{Name: "beta", Username: "beta@example.com", Password: "pw", Archetype: "combat"}

	t.Run("empty swarm", func(t *testing.T) {
		_, err := selectAgent(swarmConfig(), "")
		assert.Error(t, err)
	})

	t.Run("defaults to first configured", func(t *testing.T) {
		spec, err := selectAgent(swarmConfig(alpha, beta), "")
		require.NoError(t, err)
		assert.Equal(t, "alpha", spec.Name)
	})

	t.Run("by name", func(t *testing.T) {
		spec, err := selectAgent(swarmConfig(alpha, beta), "beta")
		require.NoError(t, err)
		assert.Equal(t, "beta", spec.Name)
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := selectAgent(swarmConfig(alpha), "gamma")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "gamma")
	})
}
