package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mbourmaud/conductor/internal/config"
	"github.com/mbourmaud/conductor/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or validate configuration",
	Long: `View and validate the conductor configuration.

Examples:
  conductor config show        # Effective configuration
  conductor config validate    # Check conductor.yaml
  conductor config path        # Which file is used`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to format config: %w", err)
		}
		fmt.Print(string(data))

		path := config.Path(configPath)
		if _, err := os.Stat(path); err == nil {
			fmt.Println(ui.StyleDim.Render("# source: " + path))
		} else {
			fmt.Println(ui.StyleDim.Render("# source: defaults (" + path + " not found)"))
		}
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.Path(configPath)
		if _, err := os.Stat(path); err != nil {
			fmt.Println(ui.Warning(path + " not found, defaults apply"))
			return nil
		}

		// Load validates.
		if _, err := config.Load(path); err != nil {
			return err
		}
		fmt.Println(ui.Success(path + " is valid"))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.Path(configPath))
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configValidateCmd, configPathCmd)
}
