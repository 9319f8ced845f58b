package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pluginhost/core/internal/config"
	"github.com/spf13/cobra"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "run one discovery sweep and print the discovered plugin set as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		h := buildHost(cfg)

		result := h.discovery.Discover(context.Background())
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
		if len(result.Errors) > 0 {
			fmt.Fprintf(os.Stderr, "%d source(s) reported errors\n", len(result.Errors))
		}
		return nil
	},
}
