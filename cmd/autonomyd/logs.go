package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cklxx/autonomy/internal/autonomy"
	"github.com/cklxx/autonomy/internal/cycle"
	"github.com/cklxx/autonomy/internal/logging"
)

func newLogsCommand(flags *globalFlags) *cobra.Command {
	var kindFilter, statusFilter string
	var limit int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent cycle reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := buildEngine(flags, logging.OrNop(nil))
			if err != nil {
				return err
			}
			if err := engine.Initialize(cmd.Context()); err != nil {
				return err
			}

			q := autonomy.LogQuery{Limit: limit}
			if kindFilter != "" {
				k := cycle.Kind(kindFilter)
				q.Kind = &k
			}
			if statusFilter != "" {
				s := cycle.Status(statusFilter)
				q.Status = &s
			}
			logs := engine.GetLogs(q)

			if flags.jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(logs)
			}
			out := cmd.OutOrStdout()
			for _, r := range logs {
				fmt.Fprintf(out, "%s  %-8s %-20s %s\n", r.StartTime.Format("2006-01-02 15:04:05"), r.Kind, r.Status, r.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kindFilter, "kind", "", "filter by cycle kind")
	cmd.Flags().StringVar(&statusFilter, "status", "", "filter by cycle status")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of reports to print (0 for unlimited)")
	return cmd
}
