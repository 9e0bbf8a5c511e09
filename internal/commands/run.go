package commands

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the data preparation pipeline in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context())
		},
	}
}

func runPipeline(ctx context.Context) error {
	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}

	color.Cyan("Running pipeline against s3://%s...", rt.cfg.Bucket)
	if err := rt.runner.RunOnce(ctx); err != nil {
		color.Red("Pipeline failed: %v", err)
		return err
	}

	snap := rt.state.Snapshot()
	color.Green("Pipeline completed successfully")
	if snap.SourceKey != nil {
		fmt.Printf("  Output: %s\n", *snap.SourceKey)
	}
	return nil
}
