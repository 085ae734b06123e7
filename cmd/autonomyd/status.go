package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cklxx/autonomy/internal/logging"
)

func newStatusCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the engine's current state, HDM level, and next fire times",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := buildEngine(flags, logging.OrNop(nil))
			if err != nil {
				return err
			}
			if err := engine.Initialize(cmd.Context()); err != nil {
				return err
			}
			status := engine.GetStatus()

			if flags.jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", bold("state:"), status.State)
			fmt.Fprintf(out, "%s %s\n", bold("hdm level:"), status.HDMLevel)
			fmt.Fprintf(out, "%s %d\n", bold("triggers:"), status.TriggerCount)
			fmt.Fprintf(out, "%s %d\n", bold("plugins:"), status.PluginCount)
			for kind, last := range status.LastCycleRun {
				fmt.Fprintf(out, "%s %s last ran %s\n", bold("cycle:"), kind, last.Format("2006-01-02 15:04:05"))
			}
			for kind, next := range status.NextFire {
				fmt.Fprintf(out, "%s %s next fires %s\n", bold("schedule:"), kind, next.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}
