package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbourmaud/conductor/internal/activity"
	"github.com/mbourmaud/conductor/internal/orchestrator"
	"github.com/mbourmaud/conductor/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:   "task <text>",
	Short: "Queue a task for the orchestrator",
	Long: `Queue a task for the orchestrator. Tasks run one at a time in arrival order.

Examples:
  conductor task "Build the login page and its API"
  conductor task Split the billing work into work items`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List orchestrator tasks",
	RunE:  runTasks,
}

var conversationCmd = &cobra.Command{
	Use:     "conversation",
	Aliases: []string{"history"},
	Short:   "Show the orchestrator conversation",
	RunE:    runConversation,
}

var (
	tasksJSON        bool
	conversationJSON bool
)

func init() {
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(conversationCmd)

	tasksCmd.Flags().BoolVar(&tasksJSON, "json", false, "Output as JSON")
	conversationCmd.Flags().BoolVar(&conversationJSON, "json", false, "Output as JSON")
}

func runTask(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	task, err := client.SubmitTask(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("failed to submit task: %w", err)
	}

	fmt.Println(ui.Success("Task queued"))
	fmt.Print(ui.KeyValue("ID", task.ID))
	fmt.Print(ui.KeyValue("Status", ui.Status(string(task.Status))))
	return nil
}

func runTasks(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	tasks, err := client.Tasks(cmd.Context())
	if err != nil {
		return err
	}
	if tasksJSON {
		return printJSON(tasks)
	}
	if len(tasks) == 0 {
		fmt.Println(ui.StyleDim.Render("No tasks yet"))
		return nil
	}

	fmt.Print(ui.Table([]string{"ID", "STATUS", "SOURCE", "AGE", "COST", "TEXT"}, taskRows(tasks)))
	return nil
}

func taskRows(tasks []orchestrator.Task) [][]string {
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{
			t.ID,
			ui.Status(string(t.Status)),
			string(t.Source),
			ui.Age(t.CreatedAt),
			ui.Cost(t.CostUSD),
			activity.Truncate(t.Text, 60),
		})
	}
	return rows
}

func runConversation(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	msgs, err := client.Conversation(cmd.Context())
	if err != nil {
		return err
	}
	if conversationJSON {
		return printJSON(msgs)
	}
	if len(msgs) == 0 {
		fmt.Println(ui.StyleDim.Render("No messages yet"))
		return nil
	}

	for _, m := range msgs {
		fmt.Printf("%s %s\n%s\n\n",
			ui.StyleDim.Render(m.Timestamp.Local().Format("15:04:05")),
			conversationPrefix(m),
			m.Content)
	}
	return nil
}

func conversationPrefix(m orchestrator.Message) string {
	switch m.Role {
	case orchestrator.RoleUser:
		return ui.StyleGreen.Render("user")
	case orchestrator.RoleOrchestrator:
		label := "report"
		if m.ReportType != "" {
			label += " (" + string(m.ReportType) + ")"
		}
		return ui.StyleYellow.Render(label)
	default:
		return ui.StyleCyan.Render("orchestrator")
	}
}
