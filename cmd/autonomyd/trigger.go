package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cklxx/autonomy/internal/approval"
	"github.com/cklxx/autonomy/internal/logging"
	"github.com/cklxx/autonomy/internal/trigger"
)

func newTriggerCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "List or manage event-pattern triggers",
	}
	cmd.AddCommand(newTriggerListCommand(flags))
	cmd.AddCommand(newTriggerRegisterCommand(flags))
	cmd.AddCommand(newTriggerUnregisterCommand(flags))
	return cmd
}

func newTriggerListCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all registered triggers",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := buildEngine(flags, logging.OrNop(nil))
			if err != nil {
				return err
			}
			if err := engine.Initialize(cmd.Context()); err != nil {
				return err
			}
			triggers := engine.GetTriggers()

			if flags.jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(triggers)
			}
			out := cmd.OutOrStdout()
			for _, t := range triggers {
				fmt.Fprintf(out, "%s  %-24s %-10s action=%-20s hdm=%-13s fired=%d\n",
					statusDot(t.Enabled), t.ID, t.Kind, t.Action, t.HDMLevel, t.FireCount)
			}
			return nil
		},
	}
}

func statusDot(enabled bool) string {
	if enabled {
		return green("*")
	}
	return red("x")
}

func newTriggerRegisterCommand(flags *globalFlags) *cobra.Command {
	var name, pattern, action string
	var hdmLevel int

	cmd := &cobra.Command{
		Use:   "register <id>",
		Short: "Register an event-pattern trigger (condition triggers require embedding the engine as a library)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := approval.Level(hdmLevel)
			if !level.Valid() {
				return fmt.Errorf("hdm level must be between 0 and %d", int(approval.MaxLevel))
			}
			engine, _, err := buildEngine(flags, logging.NewConsole())
			if err != nil {
				return err
			}
			if err := engine.Initialize(cmd.Context()); err != nil {
				return err
			}

			t, err := engine.RegisterTrigger(trigger.Config{
				ID: args[0], Name: name, Kind: trigger.EventKind,
				Pattern: pattern, Action: action, HDMLevel: level,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered trigger %q matching %q\n", t.ID, t.Pattern)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "human-readable trigger name")
	cmd.Flags().StringVar(&pattern, "pattern", "", "event name or wildcard pattern to match")
	cmd.Flags().StringVar(&action, "action", "", "fixed action name to dispatch on match")
	cmd.Flags().IntVar(&hdmLevel, "hdm-level", int(approval.Moderate), "approval level required to dispatch")
	_ = cmd.MarkFlagRequired("pattern")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func newTriggerUnregisterCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <id>",
		Short: "Remove a registered trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := buildEngine(flags, logging.NewConsole())
			if err != nil {
				return err
			}
			if err := engine.Initialize(cmd.Context()); err != nil {
				return err
			}
			engine.UnregisterTrigger(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "unregistered trigger %q\n", args[0])
			return nil
		},
	}
}
