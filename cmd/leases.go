package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbourmaud/conductor/internal/lease"
	"github.com/mbourmaud/conductor/internal/ui"
)

var leasesCmd = &cobra.Command{
	Use:     "leases",
	Aliases: []string{"claims"},
	Short:   "List file claims",
	Long: `List the unexpired file claims held by agents.

Examples:
  conductor leases
  conductor leases --agent backend-dev
  conductor leases claim backend-dev "src/api/**" --exclusive
  conductor leases release <id>`,
	Args: cobra.NoArgs,
	RunE: runLeases,
}

var leasesClaimCmd = &cobra.Command{
	Use:   "claim <agent> <pattern>...",
	Short: "Claim path patterns for an agent",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runLeasesClaim,
}

var leasesReleaseCmd = &cobra.Command{
	Use:   "release <id>",
	Short: "Release one claim",
	Args:  cobra.ExactArgs(1),
	RunE:  runLeasesRelease,
}

var (
	leasesAgent     string
	leasesJSON      bool
	leasesExclusive bool
	leasesReason    string
	leasesTTL       time.Duration
)

func init() {
	rootCmd.AddCommand(leasesCmd)
	leasesCmd.AddCommand(leasesClaimCmd, leasesReleaseCmd)

	leasesCmd.Flags().StringVar(&leasesAgent, "agent", "", "Only claims held by this agent")
	leasesCmd.Flags().BoolVar(&leasesJSON, "json", false, "Output as JSON")
	leasesClaimCmd.Flags().BoolVarP(&leasesExclusive, "exclusive", "x", false, "Exclusive claim")
	leasesClaimCmd.Flags().StringVar(&leasesReason, "reason", "", "Why the files are claimed")
	leasesClaimCmd.Flags().DurationVar(&leasesTTL, "ttl", 0, "Claim lifetime (default: leases.ttl_minutes)")
}

func runLeases(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	claims, err := client.Leases(cmd.Context(), leasesAgent)
	if err != nil {
		return err
	}
	if leasesJSON {
		return printJSON(claims)
	}
	if len(claims) == 0 {
		fmt.Println(ui.StyleDim.Render("No active claims"))
		return nil
	}
	fmt.Print(ui.Table([]string{"ID", "AGENT", "PATTERN", "MODE", "EXPIRES", "REASON"}, claimRows(claims)))
	return nil
}

func claimRows(claims []lease.Claim) [][]string {
	rows := make([][]string, 0, len(claims))
	for _, c := range claims {
		mode := "shared"
		if c.Exclusive {
			mode = ui.StyleYellow.Render("exclusive")
		}
		rows = append(rows, []string{
			c.ID,
			c.AgentName,
			c.Pattern,
			mode,
			"in " + time.Until(c.ExpiresAt).Round(time.Minute).String(),
			c.Reason,
		})
	}
	return rows
}

func runLeasesClaim(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}

	res, err := client.Claim(cmd.Context(), lease.AcquireRequest{
		AgentName: args[0],
		Patterns:  args[1:],
		Exclusive: leasesExclusive,
		Reason:    leasesReason,
		TTL:       leasesTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to claim: %w", err)
	}

	fmt.Println(ui.Success(fmt.Sprintf("%d claim(s) created", len(res.Claims))))
	if len(res.Conflicts) > 0 {
		fmt.Println(ui.Warning("Overlaps claims held by other agents:"))
		fmt.Print(ui.Table([]string{"ID", "AGENT", "PATTERN", "MODE", "EXPIRES", "REASON"}, claimRows(res.Conflicts)))
	}
	return nil
}

func runLeasesRelease(cmd *cobra.Command, args []string) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	claim, err := client.ReleaseClaim(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Println(ui.Success(fmt.Sprintf("Released %s (%s)", claim.Pattern, claim.AgentName)))
	return nil
}
