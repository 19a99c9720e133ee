package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbourmaud/conductor/internal/ui"
	"github.com/mbourmaud/conductor/internal/workitem"
)

var itemsCmd = &cobra.Command{
	Use:     "items",
	Aliases: []string{"board"},
	Short:   "Show the work-item board",
	Long: `List, create and move work items.

Examples:
  conductor items
  conductor items --status doing
  conductor items add "Login page" --label frontend
  conductor items move WI-002 done`,
	Args: cobra.NoArgs,
	RunE: runItems,
}

var itemsAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a work item",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runItemsAdd,
}

var itemsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a work item",
	Args:  cobra.ExactArgs(1),
	RunE:  runItemsShow,
}

var itemsMoveCmd = &cobra.Command{
	Use:   "move <id> <status>",
	Short: "Move a work item to another column",
	Args:  cobra.ExactArgs(2),
	RunE:  runItemsMove,
}

var (
	itemsStatus      string
	itemsJSON        bool
	itemsDescription string
	itemsLabels      []string
)

func init() {
	rootCmd.AddCommand(itemsCmd)
	itemsCmd.AddCommand(itemsAddCmd, itemsShowCmd, itemsMoveCmd)

	itemsCmd.Flags().StringVarP(&itemsStatus, "status", "s", "", "Only items in this column")
	itemsCmd.Flags().BoolVar(&itemsJSON, "json", false, "Output as JSON")
	itemsAddCmd.Flags().StringVarP(&itemsDescription, "description", "d", "", "Description")
	itemsAddCmd.Flags().StringSliceVarP(&itemsLabels, "label", "l", nil, "Labels")
}

func runItems(cmd *cobra.Command, args []string) error {
	var status workitem.Status
	if itemsStatus != "" {
		st, err := workitem.ParseStatus(itemsStatus)
		if err != nil {
			return err
		}
		status = st
	}

	client, err := newClient()
	if err != nil {
		return err
	}
	items, err := client.Items(cmd.Context(), status)
	if err != nil {
		return err
	}
	if itemsJSON {
		return printJSON(items)
	}
	if len(items) == 0 {
		fmt.Println(ui.StyleDim.Render("No work items"))
		return nil
	}

	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{
			it.ID,
			ui.Status(string(it.Status)),
			it.Assignee,
			truncateText(it.Title, 50),
			strings.Join(it.Labels, ","),
		})
	}
	fmt.Print(ui.Table([]string{"ID", "STATUS", "ASSIGNEE", "TITLE", "LABELS"}, rows))
	return nil
}

func runItemsAdd(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	it, err := client.CreateItem(cmd.Context(), workitem.CreateRequest{
		Title:       strings.Join(args, " "),
		Description: itemsDescription,
		Labels:      itemsLabels,
	})
	if err != nil {
		return err
	}
	fmt.Println(ui.Success(fmt.Sprintf("Created %s", it.ID)))
	return nil
}

func runItemsShow(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	it, err := client.Item(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if itemsJSON {
		return printJSON(it)
	}

	fmt.Print(ui.Header(it.ID + " " + it.Title))
	fmt.Print(ui.KeyValue("Status", ui.Status(string(it.Status))))
	if it.Assignee != "" {
		fmt.Print(ui.KeyValue("Assignee", it.Assignee))
	}
	if len(it.Labels) > 0 {
		fmt.Print(ui.KeyValue("Labels", strings.Join(it.Labels, ", ")))
	}
	fmt.Print(ui.KeyValue("Updated", ui.Age(it.UpdatedAt)+" ago"))
	if it.Description != "" {
		fmt.Println()
		fmt.Println(it.Description)
	}
	return nil
}

func runItemsMove(cmd *cobra.Command, args []string) error {
	status, err := workitem.ParseStatus(args[1])
	if err != nil {
		return err
	}
	client, err := newClient()
	if err != nil {
		return err
	}
	it, err := client.MoveItem(cmd.Context(), args[0], status)
	if err != nil {
		return err
	}
	fmt.Println(ui.Success(fmt.Sprintf("%s is now %s", it.ID, ui.Status(string(it.Status)))))
	return nil
}
