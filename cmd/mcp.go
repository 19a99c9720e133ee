package cmd

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mbourmaud/conductor/internal/logger"
	"github.com/mbourmaud/conductor/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve a running hub to an MCP client over stdio",
	Long: `Bridge a running hub to an MCP client (Claude Desktop, an IDE, ...).

The orchestrator's tools, a submit_task tool, the pool, the board and the
mailboxes are exposed as MCP tools and resources. Logs go to stderr.

Example client configuration:
  {"command": "conductor", "args": ["mcp", "--hub", "http://localhost:7433"]}`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newClient()
	if err != nil {
		return err
	}

	// stdout carries the protocol.
	log := logger.New()
	log.SetOutput(os.Stderr)
	if level, err := logger.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := mcp.NewServer(client, mcp.Options{
		PromptDir: filepath.Join(cfg.Hub.StateDir, "prompts"),
		Version:   Version,
		Logger:    log,
	})
	return server.Run(ctx)
}
