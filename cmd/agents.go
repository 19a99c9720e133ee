package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/ui"
)

var agentsCmd = &cobra.Command{
	Use:     "agents",
	Aliases: []string{"ls", "ps"},
	Short:   "List agents",
	Long: `List live and waiting agents.

Examples:
  conductor agents           # Table of agents
  conductor agents --json    # Output as JSON`,
	Args: cobra.NoArgs,
	RunE: runAgents,
}

var agentCmd = &cobra.Command{
	Use:   "agent <name>",
	Short: "Show one agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgent,
}

var destroyCmd = &cobra.Command{
	Use:     "destroy <name>",
	Aliases: []string{"kill", "rm"},
	Short:   "Stop an agent and release its claims",
	Args:    cobra.ExactArgs(1),
	RunE:    runDestroy,
}

var pauseCmd = &cobra.Command{
	Use:   "pause <name>",
	Short: "Pause an agent, cancelling its current turn",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentAction(cmd, args[0], "paused")
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <name>",
	Short: "Resume a paused agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentAction(cmd, args[0], "resumed")
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <name> [summary]",
	Short: "Mark an agent complete, releasing agents waiting on it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentAction(cmd, args[0], "completed", args[1:]...)
	},
}

var promptCmd = &cobra.Command{
	Use:     "prompt <name> <text>",
	Aliases: []string{"msg"},
	Short:   "Send a prompt to an agent",
	Long: `Send a prompt to an agent.

A busy agent rejects the prompt unless --notify is set, in which case the
text is queued as a notification for its next idle moment.

Examples:
  conductor prompt backend-dev "Add pagination to /users"
  conductor prompt qa --notify "The API is ready for testing"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runPrompt,
}

var convCmd = &cobra.Command{
	Use:   "conv <name>",
	Short: "Show an agent's conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runConv,
}

var (
	agentsJSON   bool
	agentJSON    bool
	promptNotify bool
	convJSON     bool
)

func init() {
	rootCmd.AddCommand(agentsCmd, agentCmd, destroyCmd, pauseCmd, resumeCmd, completeCmd, promptCmd, convCmd)

	agentsCmd.Flags().BoolVar(&agentsJSON, "json", false, "Output as JSON")
	agentCmd.Flags().BoolVar(&agentJSON, "json", false, "Output as JSON")
	promptCmd.Flags().BoolVar(&promptNotify, "notify", false, "Queue as a notification when the agent is busy")
	convCmd.Flags().BoolVar(&convJSON, "json", false, "Output as JSON")
}

func runAgents(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	st, err := client.Status(cmd.Context())
	if err != nil {
		return err
	}
	if agentsJSON {
		return printJSON(st.Pool)
	}
	if len(st.Pool.Agents) == 0 && len(st.Pool.Pending) == 0 {
		fmt.Println(ui.StyleDim.Render("No agents running"))
		fmt.Printf("Spawn one: %s\n", ui.StyleCommand.Render("conductor spawn <name> --focus \"...\""))
		return nil
	}

	fmt.Print(ui.Table(agentHeaders, agentRows(st.Pool)))
	return nil
}

func runAgent(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	info, err := client.Agent(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if agentJSON {
		return printJSON(info)
	}
	fmt.Print(renderAgent(info))
	return nil
}

func renderAgent(a *agent.Info) string {
	var b strings.Builder
	b.WriteString(ui.Header(a.Name))
	b.WriteString(ui.KeyValue("Status", ui.Status(string(a.Status))))
	if a.Role != "" {
		b.WriteString(ui.KeyValue("Role", a.Role))
	}
	b.WriteString(ui.KeyValue("Focus", a.Focus))
	if len(a.WaitFor) > 0 {
		b.WriteString(ui.KeyValue("Waits for", strings.Join(a.WaitFor, ", ")))
	}
	if a.WorkItemID != "" {
		b.WriteString(ui.KeyValue("Work item", a.WorkItemID))
	}
	if a.WorkingDirectory != "" {
		b.WriteString(ui.KeyValue("Directory", a.WorkingDirectory))
	}
	if a.SessionID != "" {
		b.WriteString(ui.KeyValue("Session", a.SessionID))
	}
	b.WriteString(ui.KeyValue("Messages", a.MessageCount))
	b.WriteString(ui.KeyValue("Cost", ui.Cost(a.CostUSD)))
	if a.PendingPrompt != "" {
		b.WriteString(ui.KeyValue("Pending prompt", truncateText(a.PendingPrompt, 60)))
	}
	if a.Error != "" {
		b.WriteString(ui.KeyValue("Error", ui.StyleRed.Render(a.Error)))
	}
	return b.String()
}

func runDestroy(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	if err := client.Destroy(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to destroy %s: %w", args[0], err)
	}
	fmt.Println(ui.Success("Destroyed " + args[0]))
	return nil
}

func agentAction(cmd *cobra.Command, name, verb string, summary ...string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	var info *agent.Info
	switch verb {
	case "paused":
		info, err = client.Pause(cmd.Context(), name)
	case "resumed":
		info, err = client.Resume(cmd.Context(), name)
	case "completed":
		info, err = client.Complete(cmd.Context(), name, strings.Join(summary, " "))
	default:
		return fmt.Errorf("unknown action %q", verb)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s (now %s)\n", ui.Success(fmt.Sprintf("%s %s", strings.ToUpper(verb[:1])+verb[1:], name)), ui.Status(string(info.Status)))
	return nil
}

func runPrompt(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	name := args[0]
	if err := client.Prompt(cmd.Context(), name, strings.Join(args[1:], " "), promptNotify); err != nil {
		return fmt.Errorf("failed to prompt %s: %w", name, err)
	}
	fmt.Println(ui.Success("Sent to " + name))
	return nil
}

func runConv(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	name := args[0]
	msgs, err := client.AgentMessages(cmd.Context(), name)
	if err != nil {
		return err
	}
	if convJSON {
		return printJSON(msgs)
	}
	if len(msgs) == 0 {
		fmt.Println(ui.StyleDim.Render("No messages yet"))
		return nil
	}

	for _, m := range msgs {
		prefix := ui.StyleCyan.Render(name + ": ")
		if m.Role == agent.RoleUser {
			prefix = ui.StyleGreen.Render("prompt: ")
		}
		fmt.Printf("%s%s\n\n", prefix, truncateText(m.Content, 500))
	}
	return nil
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
