package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbourmaud/conductor/internal/activity"
	"github.com/mbourmaud/conductor/internal/agent"
	"github.com/mbourmaud/conductor/internal/hub"
	"github.com/mbourmaud/conductor/internal/orchestrator"
	"github.com/mbourmaud/conductor/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show conductor status",
	Long: `Display the pool, the task queue and the accumulated cost.

With --offline the last snapshot saved by a stopped hub is shown instead.

Examples:
  conductor status
  conductor status --json
  conductor status --offline`,
	RunE: runStatus,
}

var (
	statusJSON    bool
	statusOffline bool
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	statusCmd.Flags().BoolVar(&statusOffline, "offline", false, "Read the saved state snapshot instead of the hub")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusOffline {
		return runOfflineStatus()
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	st, err := client.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("hub not reachable at %s: %w", client.BaseURL(), err)
	}
	if statusJSON {
		return printJSON(st)
	}

	fmt.Print(renderStatus(st))
	return nil
}

func runOfflineStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	snap, err := hub.NewStateManager(cfg.Hub.StateDir).LoadState()
	if err != nil {
		return err
	}
	if snap == nil {
		fmt.Println(ui.StyleDim.Render("No saved state in " + cfg.Hub.StateDir))
		return nil
	}
	if statusJSON {
		return printJSON(snap)
	}

	fmt.Println(ui.StyleDim.Render("Snapshot saved " + snap.SavedAt.Local().Format("2006-01-02 15:04:05")))
	fmt.Print(renderStatus(&hub.StatusResponse{
		Pool:         snap.Pool,
		QueueDepth:   pendingTasks(snap),
		SessionID:    snap.SessionID,
		OrchCostUSD:  snap.OrchCostUSD,
		TotalCostUSD: snap.Pool.TotalCostUSD + snap.OrchCostUSD,
	}))
	return nil
}

func pendingTasks(snap *hub.Snapshot) int {
	n := 0
	for _, t := range snap.Tasks {
		if t.Status == orchestrator.TaskStatusPending {
			n++
		}
	}
	return n
}

func renderStatus(st *hub.StatusResponse) string {
	var b strings.Builder

	b.WriteString(ui.Header("conductor"))
	queue := fmt.Sprintf("%d queued", st.QueueDepth)
	if st.Draining {
		queue += ", working"
	}
	b.WriteString(ui.KeyValue("Orchestrator", queue))
	b.WriteString(ui.KeyValue("Agents", fmt.Sprintf("%d/%d live, %d waiting",
		len(st.Pool.Agents), st.Pool.MaxConcurrent, len(st.Pool.Pending))))
	b.WriteString(ui.KeyValue("Leases", len(st.Pool.Leases)))
	b.WriteString(ui.KeyValue("Unread mail", st.Pool.UnreadMail))
	b.WriteString(ui.KeyValue("Cost", fmt.Sprintf("%s (orchestrator %s)", ui.Cost(st.TotalCostUSD), ui.Cost(st.OrchCostUSD))))
	b.WriteString("\n")

	if len(st.Pool.Agents) == 0 && len(st.Pool.Pending) == 0 {
		b.WriteString(ui.StyleDim.Render("No agents running") + "\n")
		return b.String()
	}
	b.WriteString(ui.Table(agentHeaders, agentRows(st.Pool)))
	return b.String()
}

var agentHeaders = []string{"NAME", "STATUS", "ROLE", "ITEM", "COST", "AGE", "FOCUS"}

func agentRows(st agent.PoolStatus) [][]string {
	rows := make([][]string, 0, len(st.Agents)+len(st.Pending))
	for _, a := range st.Agents {
		rows = append(rows, []string{
			a.Name,
			ui.Status(string(a.Status)),
			a.Role,
			a.WorkItemID,
			ui.Cost(a.CostUSD),
			ui.Age(a.CreatedAt),
			activity.Truncate(a.Focus, 50),
		})
	}
	for _, name := range st.Pending {
		rows = append(rows, []string{name, ui.Status(string(agent.StatusWaiting)), "", "", "", "", ""})
	}
	return rows
}
