// Command causage runs the memory-reference cache simulator over a trace
// file and renders a report.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mqutaish96/causage/cmd/causage/commands"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "causage",
		Short: "A cache-behavior simulator: hit/miss classification and line utilization",
		Long: `causage replays a reference trace through a modeled multi-level cache
and reports, per source location, hit/miss counts, compulsory/conflict/
capacity miss classification, and cache-line word-utilization histograms.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
