package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mbourmaud/conductor/internal/config"
	"github.com/mbourmaud/conductor/internal/hub"
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Coordinate a pool of LLM worker agents",
	Long: `conductor runs one orchestrator agent over a pool of worker agents.

Workers start when their dependencies complete, claim the files they intend
to touch, and talk to each other and to the orchestrator through mailboxes.

Server:
  serve              Start the hub (orchestrator, pool, HTTP API)
  mcp                Bridge a running hub to an MCP client over stdio

Client:
  task <text>        Queue work for the orchestrator
  status             Show pool, queue and cost
  agents, spawn      Inspect and start workers
  mail, leases       Mailboxes and file claims
  items              Work-item board
  logs, monitor      Activity stream and live dashboard`,
	SilenceUsage: true,
}

var (
	configPath string
	hubURL     string
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $CONDUCTOR_CONFIG or ./conductor.yaml)")
	rootCmd.PersistentFlags().StringVar(&hubURL, "hub", "", "Hub URL (default: http://localhost:<hub.port>)")
}

// loadConfig resolves and loads the config file, falling back to defaults
// when none exists.
func loadConfig() (*config.Config, error) {
	return config.LoadOrDefault(configPath)
}

// resolveHubURL returns --hub or the URL derived from the configured port.
func resolveHubURL() (string, error) {
	if hubURL != "" {
		return hubURL, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://localhost:%d", cfg.Hub.Port), nil
}

func newClient() (*hub.Client, error) {
	url, err := resolveHubURL()
	if err != nil {
		return nil, err
	}
	return hub.NewClient(url), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
