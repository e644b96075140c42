package main

import (
	"github.com/spf13/cobra"

	"github.com/taskyapp/tasky/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration after merging defaults, config files and
TASKY_* environment variables. The API key is masked unless --secrets is
given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		cfg := a.cfg
		if secrets, _ := cmd.Flags().GetBool("secrets"); !secrets {
			cfg = cfg.Redacted()
		}
		return cfg.WriteYAML(a.out)
	},
}

var configPathsCmd = &cobra.Command{
	Use:   "paths",
	Short: "List the config files that are read",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		a.printf("global:  %s\n", config.GlobalConfigPath())
		if configPath != "" {
			a.printf("project: %s (--config)\n", configPath)
		} else {
			a.printf("project: %s\n", config.ProjectConfigPath())
		}
		a.printf("env:     %s_* and .env\n", config.EnvPrefix)
		return nil
	},
}

func init() {
	configShowCmd.Flags().Bool("secrets", false, "Show the API key")
	configCmd.AddCommand(configShowCmd, configPathsCmd)
	rootCmd.AddCommand(configCmd)
}
