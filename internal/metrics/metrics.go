// Package metrics exposes runtime counters via expvar.
package metrics

import "expvar"

var (
	RunsStarted          = expvar.NewInt("runs_started")
	RunsSucceeded        = expvar.NewInt("runs_succeeded")
	RunsFailed           = expvar.NewInt("runs_failed")
	RunsRejected         = expvar.NewInt("runs_rejected")
	StagesFailed         = expvar.NewInt("stages_failed")
	QueriesExecuted      = expvar.NewInt("queries_executed")
	FallbacksSynthesized = expvar.NewInt("fallbacks_synthesized")
	ReconcileLoads       = expvar.NewInt("reconcile_loads")
	ReconcileFailures    = expvar.NewInt("reconcile_failures")
	ReconcileRowsDropped = expvar.NewInt("reconcile_rows_dropped")
	MatchJobsAdopted     = expvar.NewInt("match_jobs_adopted")
)
