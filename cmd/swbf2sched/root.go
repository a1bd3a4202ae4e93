package main

import (
	"github.com/spf13/cobra"
)

// set via -ldflags "-X main.version=..."
var version = "dev"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "swbf2sched",
	Short:         "Single-worker tick scheduler for periodic maintenance jobs",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (yaml or json)")
}
