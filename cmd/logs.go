package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mbourmaud/conductor/internal/activity"
	"github.com/mbourmaud/conductor/internal/ui"
)

var (
	logsFollow bool
	logsTail   int64
	logsRedis  string
)

var logsCmd = &cobra.Command{
	Use:   "logs [agent]",
	Short: "View agent activity",
	Long: `View the activity stream the hub records in Redis.

Without an agent the combined stream is shown. Requires the hub to run
with redis enabled.

Examples:
  conductor logs                  # All activity
  conductor logs backend-dev      # One agent
  conductor logs -f               # Follow in real time
  conductor logs qa --tail 50     # Last 50 entries`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow new entries")
	logsCmd.Flags().Int64VarP(&logsTail, "tail", "n", 20, "Number of recent entries to show")
	logsCmd.Flags().StringVar(&logsRedis, "redis", "", "Redis address (default: redis.addr)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	addr := cfg.Redis.Addr
	if logsRedis != "" {
		addr = logsRedis
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Redis.DB})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w\nStart the hub with --redis to record activity", addr, err)
	}

	var agentName string
	if len(args) > 0 {
		agentName = args[0]
	}

	reader := activity.NewReader(rdb)
	entries, err := reader.Tail(ctx, agentName, logsTail)
	if err != nil {
		return err
	}
	lastID := "$"
	for _, e := range entries {
		printEntry(e)
		lastID = e.ID
	}

	if !logsFollow {
		if len(entries) == 0 {
			fmt.Println(ui.StyleDim.Render("No activity recorded yet"))
		}
		return nil
	}

	fmt.Println(ui.StyleDim.Render("Following activity... (Ctrl+C to stop)"))
	return reader.Follow(ctx, agentName, lastID, 5*time.Second, func(e activity.Entry) error {
		printEntry(e)
		return nil
	})
}

func printEntry(e activity.Entry) {
	ts := ui.StyleDim.Render(e.Timestamp.Local().Format("15:04:05"))
	name := ui.StyleCyan.Render(fmt.Sprintf("%-14s", e.Agent))
	fmt.Printf("%s %s %s %s\n", ts, name, ui.StyleBold.Render(e.Event), e.Content)
}
