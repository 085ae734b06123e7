package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cklxx/autonomy/internal/logging"
)

func newPluginCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Inspect discovered plugins",
	}
	cmd.AddCommand(newPluginListCommand(flags))
	return cmd
}

func newPluginListCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered plugins and their load state",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := buildEngine(flags, logging.OrNop(nil))
			if err != nil {
				return err
			}
			if err := engine.Initialize(cmd.Context()); err != nil {
				return err
			}
			plugins := engine.GetPlugins()

			if flags.jsonOutput {
				type summary struct {
					ID        string `json:"id"`
					Name      string `json:"name"`
					Version   string `json:"version"`
					State     string `json:"state"`
					LastError string `json:"lastError,omitempty"`
				}
				summaries := make([]summary, 0, len(plugins))
				for _, p := range plugins {
					summaries = append(summaries, summary{
						ID: p.Manifest.ID, Name: p.Manifest.Name, Version: p.Manifest.Version,
						State: string(p.State), LastError: p.LastError,
					})
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(summaries)
			}
			out := cmd.OutOrStdout()
			if len(plugins) == 0 {
				fmt.Fprintln(out, "no plugins discovered")
				return nil
			}
			for _, p := range plugins {
				fmt.Fprintf(out, "%-24s v%-10s %s\n", p.Manifest.ID, p.Manifest.Version, p.State)
			}
			return nil
		},
	}
}
