package main

import (
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "hostd",
	Short: "pluginhost: a modular application host",
	Long: `hostd discovers, validates, loads, and supervises plugin modules
against a host-declared isolation policy.

It reads its configuration from a YAML file (--config) layered under
PLUGINHOST_-prefixed environment variables.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a hostd config file (YAML)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(discoverCmd)
}
