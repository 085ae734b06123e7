// Command autonomyd runs the Autonomy Engine as a long-lived daemon and
// exposes its operational surface (status, triggers, cycles, plugins)
// through a set of Cobra subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	bold  = color.New(color.Bold).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
)

func main() {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("Error:"), err)
		os.Exit(1)
	}
}
