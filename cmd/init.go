package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mbourmaud/conductor/internal/config"
	"github.com/mbourmaud/conductor/internal/embed"
	"github.com/mbourmaud/conductor/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create conductor.yaml and the prompt overrides",
	Long: `Create a conductor.yaml in the current directory.

The wizard asks for the pool size, the runtime, optional Redis and the hub
port. The default prompts are copied to <state_dir>/prompts where they can
be edited; the hub reads them on start.

Examples:
  conductor init            # Interactive wizard
  conductor init --yes      # Write the defaults
  conductor init --force    # Overwrite an existing file`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var (
	initYes   bool
	initForce bool
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVarP(&initYes, "yes", "y", false, "Accept all defaults")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := config.Path(configPath)
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.Default()
	if !initYes {
		fmt.Print(ui.Header("conductor setup"))
		if err := runInitWizard(ui.NewPrompter(), cfg); err != nil {
			return err
		}
		fmt.Println()
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Println(ui.Success("Wrote " + path))

	promptDir := filepath.Join(cfg.Hub.StateDir, "prompts")
	if _, err := os.Stat(promptDir); err == nil && !initForce {
		fmt.Println(ui.StyleDim.Render("Keeping existing prompts in " + promptDir))
	} else {
		if err := embed.ExtractDir("prompts", promptDir); err != nil {
			return fmt.Errorf("extracting prompts: %w", err)
		}
		fmt.Println(ui.Success("Prompts in " + promptDir))
	}

	steps := []ui.Step{
		{Command: "conductor serve", Description: "start the hub"},
		{Command: `conductor task "..."`, Description: "give the orchestrator work"},
		{Command: "conductor monitor", Description: "watch the agents"},
	}
	if cfg.Runtime.Provider == "anthropic" && cfg.APIKey() == "" {
		steps = append([]ui.Step{{
			Command:     fmt.Sprintf("export %s=...", cfg.Runtime.APIKeyEnv),
			Description: "set your API key",
		}}, steps...)
	}
	fmt.Print(ui.NextSteps(steps))
	return nil
}

// runInitWizard asks the setup questions and updates cfg in place.
func runInitWizard(p *ui.Prompter, cfg *config.Config) error {
	var err error

	if cfg.Pool.MaxConcurrentAgents, err = p.Int("Max concurrent agents", cfg.Pool.MaxConcurrentAgents, 1, 64); err != nil {
		return err
	}

	if cfg.Runtime.Provider, err = p.Select("Runtime", []string{"anthropic", "scripted"}, cfg.Runtime.Provider); err != nil {
		return err
	}
	if cfg.Runtime.Provider == "anthropic" {
		if cfg.Runtime.Model, err = p.Default("Model", cfg.Runtime.Model); err != nil {
			return err
		}
		if cfg.Runtime.APIKeyEnv, err = p.Default("API key environment variable", cfg.Runtime.APIKeyEnv); err != nil {
			return err
		}
	}

	persist, err := p.Confirm("Keep work items in SQLite?", cfg.Store.WorkItemsPath != "")
	if err != nil {
		return err
	}
	if persist {
		def := cfg.Store.WorkItemsPath
		if def == "" {
			def = filepath.Join(cfg.Hub.StateDir, "workitems.db")
		}
		if cfg.Store.WorkItemsPath, err = p.Default("Database file", def); err != nil {
			return err
		}
	} else {
		cfg.Store.WorkItemsPath = ""
	}

	if cfg.Redis.Enabled, err = p.Confirm("Use Redis for mailboxes and activity logs?", cfg.Redis.Enabled); err != nil {
		return err
	}
	if cfg.Redis.Enabled {
		if cfg.Redis.Addr, err = p.Default("Redis address", cfg.Redis.Addr); err != nil {
			return err
		}
	}

	if cfg.Hub.Port, err = p.Int("Hub port", cfg.Hub.Port, 1, 65535); err != nil {
		return err
	}

	cfg.Leases.Strict, err = p.Confirm("Reject overlapping exclusive file claims?", cfg.Leases.Strict)
	return err
}
