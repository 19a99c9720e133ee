package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/ui"
)

var spawnCmd = &cobra.Command{
	Use:   "spawn <name>",
	Short: "Spawn a worker agent",
	Long: `Spawn a worker agent with a focus.

An agent with --wait-for stays waiting until every named agent completes.
With --item the work item is assigned and moved to doing; the assignment is
rolled back if the spawn fails.

Examples:
  conductor spawn backend-dev --focus "Build the /users API"
  conductor spawn qa --focus "Test the API" --wait-for backend-dev
  conductor spawn front --role frontend --item WI-003 --dir ./web`,
	Args: cobra.ExactArgs(1),
	RunE: runSpawn,
}

var (
	spawnRole         string
	spawnFocus        string
	spawnSystemPrompt string
	spawnWaitFor      []string
	spawnDir          string
	spawnItem         string
)

func init() {
	rootCmd.AddCommand(spawnCmd)

	spawnCmd.Flags().StringVarP(&spawnRole, "role", "r", "", "Agent role, e.g. backend or qa")
	spawnCmd.Flags().StringVarP(&spawnFocus, "focus", "f", "", "What the agent should work on (required)")
	spawnCmd.Flags().StringVar(&spawnSystemPrompt, "system-prompt", "", "Extra system prompt")
	spawnCmd.Flags().StringSliceVarP(&spawnWaitFor, "wait-for", "w", nil, "Agents that must complete first")
	spawnCmd.Flags().StringVarP(&spawnDir, "dir", "d", "", "Working directory")
	spawnCmd.Flags().StringVarP(&spawnItem, "item", "i", "", "Work item to assign")
	_ = spawnCmd.MarkFlagRequired("focus")
}

func runSpawn(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	req := agent.SpawnRequest{
		Name:             args[0],
		Role:             spawnRole,
		Focus:            spawnFocus,
		SystemPrompt:     spawnSystemPrompt,
		WaitFor:          spawnWaitFor,
		WorkingDirectory: spawnDir,
		WorkItemID:       spawnItem,
	}

	fmt.Printf("Spawning %s...\n", ui.StyleBold.Render(req.Name))
	info, err := client.Spawn(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("failed to spawn agent: %w", err)
	}

	fmt.Println()
	if info.Name != req.Name {
		fmt.Println(ui.Warning(fmt.Sprintf("%s was taken, spawned as %s", req.Name, info.Name)))
	}
	fmt.Println(ui.Success("Agent spawned"))
	fmt.Print(renderAgent(info))
	fmt.Print(ui.NextSteps([]ui.Step{
		{Command: fmt.Sprintf("conductor conv %s", info.Name), Description: "follow its conversation"},
		{Command: fmt.Sprintf("conductor logs %s -f", info.Name), Description: "stream its activity (redis)"},
	}))
	return nil
}
