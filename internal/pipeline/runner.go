package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/codersbrain/refi-ready/internal/metrics"
	"github.com/codersbrain/refi-ready/pkg/types"
)

// ErrNoSourceData indicates the local source data directory is missing, so
// there is nothing to run the pipeline against.
var ErrNoSourceData = errors.New("source data directory not found")

// Runner launches pipeline runs against a shared RunState. At most one run
// is in flight at a time; concurrent triggers are rejected.
type Runner struct {
	orc     *Orchestrator
	state   *RunState
	dataDir string
	bucket  string
}

// NewRunner creates a Runner over the given orchestrator and state.
func NewRunner(orc *Orchestrator, state *RunState, dataDir, bucket string) *Runner {
	return &Runner{orc: orc, state: state, dataDir: dataDir, bucket: bucket}
}

// Trigger starts a run in the background and returns the initial snapshot.
// Returns ErrNoSourceData when the data directory is absent and
// ErrAlreadyRunning when a run is in flight.
func (r *Runner) Trigger() (types.RunSnapshot, error) {
	if _, err := os.Stat(r.dataDir); err != nil {
		if os.IsNotExist(err) {
			return types.RunSnapshot{}, fmt.Errorf("%w: %s", ErrNoSourceData, r.dataDir)
		}
		return types.RunSnapshot{}, fmt.Errorf("checking data dir: %w", err)
	}
	if err := r.state.TryBegin(); err != nil {
		metrics.RunsRejected.Add(1)
		return types.RunSnapshot{}, err
	}
	metrics.RunsStarted.Add(1)

	go r.execute(context.Background())
	return r.state.Snapshot(), nil
}

// RunOnce executes a run in the foreground, for CLI use. The same
// single-run and precondition rules apply.
func (r *Runner) RunOnce(ctx context.Context) error {
	if _, err := os.Stat(r.dataDir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNoSourceData, r.dataDir)
		}
		return fmt.Errorf("checking data dir: %w", err)
	}
	if err := r.state.TryBegin(); err != nil {
		metrics.RunsRejected.Add(1)
		return err
	}
	metrics.RunsStarted.Add(1)
	return r.execute(ctx)
}

func (r *Runner) execute(ctx context.Context) error {
	key, err := r.orc.Execute(ctx)
	if err != nil {
		metrics.RunsFailed.Add(1)
		r.state.Finish(1, fmt.Sprintf("Pipeline failed: %v", err), "")
		return err
	}
	metrics.RunsSucceeded.Add(1)
	source := fmt.Sprintf("s3://%s/%s", r.bucket, key)
	r.state.Finish(0, "Pipeline completed successfully.", source)
	return nil
}
