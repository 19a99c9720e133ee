package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mbourmaud/conductor/internal/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard of agents, board and events",
	Long: `Open a terminal dashboard over a running hub.

Agents, the work-item board and the task queue refresh every two seconds;
events stream in over the hub's websocket.

Keys: r refresh, q quit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		return monitor.Run(cmd.Context(), client)
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
