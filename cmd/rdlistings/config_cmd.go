package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/rdlistings/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		showConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Persist a configuration value to the config file",
	Long: "Persist a configuration value to the config file.\n\nKeys: " +
		strings.Join(config.ValidKeys(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.ConfigFilePath()
		}
		if err := config.SetKey(path, args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Set %s = %s in %s", args[0], args[1], path)
		return nil
	},
}

func showConfig(w io.Writer, c config.Config) {
	for _, kv := range config.ShowAll(c) {
		fmt.Fprintf(w, "  %s = %s\n", colorize(colorBold, kv.Key), kv.Value)
	}
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
