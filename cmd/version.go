package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbourmaud/conductor/internal/ui"
)

// Set at build time with -ldflags "-X github.com/mbourmaud/conductor/cmd.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(GetVersionString())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// GetVersionString renders the version block.
func GetVersionString() string {
	return fmt.Sprintf("%s %s\n%s%s",
		ui.StyleBold.Render("conductor"),
		Version,
		ui.KeyValue("Commit", GitCommit),
		ui.KeyValue("Built", BuildDate))
}
