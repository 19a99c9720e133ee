package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbourmaud/conductor/internal/ui"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Find work items assigned to agents that no longer exist",
	Long: `Compare doing and code-review work items against the agent pool.

An item whose assignee is neither live nor waiting is orphaned. With
--autofix orphaned items are unassigned and moved back to todo.

Examples:
  conductor check
  conductor check --autofix`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

var (
	checkAutofix bool
	checkJSON    bool
)

func init() {
	rootCmd.AddCommand(checkCmd)

	checkCmd.Flags().BoolVar(&checkAutofix, "autofix", false, "Move orphaned items back to todo")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Output as JSON")
}

func runCheck(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	orphans, err := client.CheckConsistency(cmd.Context(), checkAutofix)
	if err != nil {
		return err
	}
	if checkJSON {
		return printJSON(orphans)
	}
	if len(orphans) == 0 {
		fmt.Println(ui.Success("Board and pool are consistent"))
		return nil
	}

	rows := make([][]string, 0, len(orphans))
	fixed := 0
	for _, o := range orphans {
		state := ui.StyleRed.Render("orphaned")
		if o.Fixed {
			state = ui.StyleGreen.Render("fixed")
			fixed++
		}
		rows = append(rows, []string{o.WorkItemID, o.Assignee, state, truncateText(o.Title, 50)})
	}
	fmt.Print(ui.Table([]string{"ITEM", "ASSIGNEE", "STATE", "TITLE"}, rows))
	fmt.Println()

	if fixed < len(orphans) {
		fmt.Println(ui.Warning(fmt.Sprintf("%d orphaned item(s); run with --autofix to reset them", len(orphans)-fixed)))
	} else {
		fmt.Println(ui.Success(fmt.Sprintf("Reset %d item(s) to todo", fixed)))
	}
	return nil
}
