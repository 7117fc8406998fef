package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/ralph/internal/config"
	"github.com/zjrosen/ralph/internal/paths"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the ralph config file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  `Print the configuration after defaults, the config file and RALPH_ environment overrides are merged.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		out := cmd.OutOrStdout()
		if cfgUsed != "" {
			fmt.Fprintf(out, "# Source: %s\n", cfgUsed)
		} else {
			fmt.Fprintln(out, "# Source: defaults")
		}
		_, err = out.Write(data)
		return err
	},
}

var configInitPath string

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := configInitPath
		if path == "" {
			path = paths.DefaultConfigPath()
		}
		if err := config.WriteDefaultConfig(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVar(&configInitPath, "path", "", "where to write the file (default ~/.config/ralph/config.yaml)")
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}
