package main

import (
	"github.com/spf13/cobra"

	"swbf2sched/internal/config"
	"swbf2sched/internal/jobs"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config file and list the jobs it defines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.NewManager(cfgPath).Load()
		if err != nil {
			return err
		}
		compiled, err := jobs.Compile(cfg.Jobs)
		if err != nil {
			return err
		}
		cmd.Printf("config ok: %s\n", cfgPath)
		for _, j := range compiled {
			cmd.Printf("  %-24s %-6s %-6s %s\n", j.Name, j.Action, j.Schedule.Kind, j.Schedule.Source)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
