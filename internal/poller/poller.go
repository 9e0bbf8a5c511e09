// Package poller implements the generic submit-then-poll primitive used by
// every asynchronous external operation.
package poller

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

// Result is the typed outcome of a wait.
type Result struct {
	// Status is the last status observed from the external service. Set on
	// completion; callers interpret failure terminal states themselves.
	Status string
	// TimedOut reports that the wait's timeout elapsed before a terminal
	// status was observed.
	TimedOut bool
}

// Wait configures a single polling loop.
type Wait struct {
	Name     string // stage name, for logging
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Await polls fetch at a fixed interval until the returned status is one of
// the terminal statuses or the timeout elapses. Transient fetch errors are
// logged and polling continues; only the timeout bounds them. The wait blocks
// the calling goroutine but sleeps between polls.
func Await(ctx context.Context, w Wait, fetch func(context.Context) (string, error), terminal ...string) (Result, error) {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	deadline := time.Now().Add(w.Timeout)
	last := ""

	for {
		status, err := fetch(ctx)
		if err != nil {
			// A failed status check is not a failed job.
			logger.Warn("status fetch failed, continuing", "wait", w.Name, "error", err)
		} else {
			if status != last {
				logger.Info("status", "wait", w.Name, "status", status)
				last = status
			}
			if slices.Contains(terminal, status) {
				return Result{Status: status}, nil
			}
		}

		if time.Now().Add(w.Interval).After(deadline) {
			logger.Warn("wait timed out", "wait", w.Name, "timeout", w.Timeout, "last_status", last)
			return Result{Status: last, TimedOut: true}, nil
		}

		select {
		case <-ctx.Done():
			return Result{Status: last}, ctx.Err()
		case <-time.After(w.Interval):
		}
	}
}
