package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbourmaud/conductor/internal/ui"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the orchestrator's tools",
	Long: `List or call the tools the orchestrator agent uses.

Calling a tool here runs it exactly as the orchestrator would, including
the spawn rollback of work-item assignments.

Examples:
  conductor tools
  conductor tools call list_agents
  conductor tools call spawn_agent --args '{"name":"qa","focus":"Test the API"}'`,
	Args: cobra.NoArgs,
	RunE: runToolsList,
}

var toolsCallCmd = &cobra.Command{
	Use:   "call <name>",
	Short: "Call a tool",
	Args:  cobra.ExactArgs(1),
	RunE:  runToolsCall,
}

var (
	toolsJSON bool
	toolsArgs string
)

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.AddCommand(toolsCallCmd)

	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "Output as JSON, including input schemas")
	toolsCallCmd.Flags().StringVar(&toolsArgs, "args", "{}", "Tool arguments as a JSON object")
}

func runToolsList(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	tools, err := client.Tools(cmd.Context())
	if err != nil {
		return err
	}
	if toolsJSON {
		return printJSON(tools)
	}

	rows := make([][]string, 0, len(tools))
	for _, t := range tools {
		rows = append(rows, []string{ui.StyleCommand.Render(t.Name), firstLine(t.Description)})
	}
	fmt.Print(ui.Table([]string{"TOOL", "DESCRIPTION"}, rows))
	return nil
}

func runToolsCall(cmd *cobra.Command, args []string) error {
	var input map[string]interface{}
	if err := json.Unmarshal([]byte(toolsArgs), &input); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	res, err := client.CallTool(cmd.Context(), args[0], input)
	if err != nil {
		return err
	}
	if res.IsError {
		return fmt.Errorf("%s: %s", args[0], res.Output)
	}
	fmt.Println(res.Output)
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
