//go:build !windows

package cmd

import (
	"path/filepath"
	"testing"

	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbourmaud/conductor/internal/config"
	"github.com/mbourmaud/conductor/internal/testutil"
	"github.com/mbourmaud/conductor/internal/ui"
)

func TestRunInitWizard(t *testing.T) {
	cfg := config.Default()
	err := testutil.RunPromptTest(t,
		func(c testutil.Console) {
			c.ExpectString("Max concurrent agents")
			c.SendLine("8")
			c.ExpectString("Runtime")
			c.Send(testutil.KeyDown)
			c.SendLine("")
			c.ExpectString("Keep work items in SQLite?")
			c.SendLine("y")
			c.ExpectString("Database file")
			c.SendLine("")
			c.ExpectString("Use Redis")
			c.SendLine("n")
			c.ExpectString("Hub port")
			c.SendLine("9000")
			c.ExpectString("Reject overlapping")
			c.SendLine("y")
			c.ExpectEOF()
		},
		func(stdio terminal.Stdio) error {
			return runInitWizard(ui.NewPrompterWithStdio(stdio), cfg)
		},
	)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Pool.MaxConcurrentAgents)
	assert.Equal(t, "scripted", cfg.Runtime.Provider)
	assert.Equal(t, filepath.Join(".conductor", "workitems.db"), cfg.Store.WorkItemsPath)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 9000, cfg.Hub.Port)
	assert.True(t, cfg.Leases.Strict)
	assert.NoError(t, cfg.Validate())
}

func TestRunInitWizard_AnthropicWithRedis(t *testing.T) {
	cfg := config.Default()
	err := testutil.RunPromptTest(t,
		func(c testutil.Console) {
			c.ExpectString("Max concurrent agents")
			c.SendLine("")
			c.ExpectString("Runtime")
			c.SendLine("")
			c.ExpectString("Model")
			c.SendLine("")
			c.ExpectString("API key environment variable")
			c.SendLine("MY_KEY")
			c.ExpectString("Keep work items in SQLite?")
			c.SendLine("n")
			c.ExpectString("Use Redis")
			c.SendLine("y")
			c.ExpectString("Redis address")
			c.SendLine("redis:6379")
			c.ExpectString("Hub port")
			c.SendLine("")
			c.ExpectString("Reject overlapping")
			c.SendLine("n")
			c.ExpectEOF()
		},
		func(stdio terminal.Stdio) error {
			return runInitWizard(ui.NewPrompterWithStdio(stdio), cfg)
		},
	)
	require.NoError(t, err)

	def := config.Default()
	assert.Equal(t, def.Pool.MaxConcurrentAgents, cfg.Pool.MaxConcurrentAgents)
	assert.Equal(t, "anthropic", cfg.Runtime.Provider)
	assert.Equal(t, def.Runtime.Model, cfg.Runtime.Model)
	assert.Equal(t, "MY_KEY", cfg.Runtime.APIKeyEnv)
	assert.Empty(t, cfg.Store.WorkItemsPath)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, def.Hub.Port, cfg.Hub.Port)
	assert.False(t, cfg.Leases.Strict)
}
