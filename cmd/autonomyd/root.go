package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cklxx/autonomy/internal/approval"
)

// globalFlags holds the persistent flag values shared by every
// subcommand, mirroring the teacher's pattern of a struct of bound flag
// values threaded through RunE closures instead of package globals.
type globalFlags struct {
	rootDir    string
	configPath string
	hdmLevel   int
	jsonOutput bool
}

// NewRootCommand builds the autonomyd command tree.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "autonomyd",
		Short: "Autonomy Engine daemon and control CLI",
		Long: `autonomyd runs the Autonomy Engine: an event-driven loop that fires
scheduled and ad-hoc task batteries, evaluates triggers against the event
bus, and gates every dispatch behind the Human Decision Matrix.

  autonomyd start                 Run the engine in the foreground
  autonomyd status                Print current engine status
  autonomyd cycle run Manual      Force-run the Manual battery once
  autonomyd trigger list          List registered triggers
  autonomyd plugin list           List discovered plugins`,
	}

	rootCmd.PersistentFlags().StringVar(&flags.rootDir, "root", ".", "engine root directory (state, reports, plugins)")
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config.yaml (defaults to <root>/.eaos/autonomy/config.yaml)")
	rootCmd.PersistentFlags().IntVar(&flags.hdmLevel, "hdm-level", -1, "override the Human Decision Matrix level (0-4)")
	rootCmd.PersistentFlags().BoolVar(&flags.jsonOutput, "json", false, "print machine-readable JSON instead of a table")

	rootCmd.AddCommand(newStartCommand(flags))
	rootCmd.AddCommand(newStatusCommand(flags))
	rootCmd.AddCommand(newCycleCommand(flags))
	rootCmd.AddCommand(newTriggerCommand(flags))
	rootCmd.AddCommand(newPluginCommand(flags))
	rootCmd.AddCommand(newLogsCommand(flags))
	rootCmd.AddCommand(newVersionCommand())

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.eaos/autonomy")
	viper.AddConfigPath(".eaos/autonomy")

	return rootCmd
}

// hdmOverride converts flags.hdmLevel into a *approval.Level override,
// or nil when the flag was left at its -1 sentinel.
func (f *globalFlags) hdmOverride() (*approval.Level, error) {
	if f.hdmLevel < 0 {
		return nil, nil
	}
	lvl := approval.Level(f.hdmLevel)
	if !lvl.Valid() {
		return nil, fmt.Errorf("hdm-level must be between 0 and %d", int(approval.MaxLevel))
	}
	return &lvl, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the autonomyd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

// version is overridden at build time via -ldflags, following the
// teacher's utils.GetVersion convention without pulling in that package.
var version = "dev"
