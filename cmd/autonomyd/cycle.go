package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cklxx/autonomy/internal/cycle"
	"github.com/cklxx/autonomy/internal/logging"
)

func newCycleCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Inspect or force-run task battery cycles",
	}
	cmd.AddCommand(newCycleRunCommand(flags))
	return cmd
}

func newCycleRunCommand(flags *globalFlags) *cobra.Command {
	var force bool
	runCmd := &cobra.Command{
		Use:   "run [Daily|Weekly|Monthly|Manual]",
		Short: "Run a cycle once, outside its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := cycle.Kind(args[0])
			engine, _, err := buildEngine(flags, logging.NewConsole())
			if err != nil {
				return err
			}
			if err := engine.Initialize(cmd.Context()); err != nil {
				return err
			}

			report, err := engine.RunCycle(cmd.Context(), kind, cycle.Options{Force: force})
			if err != nil {
				return err
			}
			if report == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "engine is stopped; pass --force to run anyway")
				return nil
			}

			if flags.jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s (%s)\n", bold("cycle:"), report.ID, report.Status)
			for _, t := range report.Tasks {
				fmt.Fprintf(out, "  %s %s\n", t.Name, t.Status)
			}
			return nil
		},
	}
	runCmd.Flags().BoolVar(&force, "force", true, "run even while the engine is stopped")
	return runCmd
}
