package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codersbrain/refi-ready/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "refiready",
		Short: "Refinance-readiness data preparation pipeline",
		Long: `Refi-Ready prepares borrower, loan, market and engagement data for
refinance outreach. It uploads the raw tables to object storage, runs the
crawler and record-matching workflow, rebuilds the catalog tables, executes
the aggregation and qualification queries, and serves the reconciled lead
dataset over HTTP.`,
		Version: version,
	}

	root.AddCommand(
		commands.NewRunCmd(),
		commands.NewStatusCmd(),
		commands.NewServeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
