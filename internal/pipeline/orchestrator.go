package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/codersbrain/refi-ready/internal/cloud"
	"github.com/codersbrain/refi-ready/internal/config"
	"github.com/codersbrain/refi-ready/internal/dataset"
	"github.com/codersbrain/refi-ready/internal/metrics"
	"github.com/codersbrain/refi-ready/internal/poller"
	"github.com/codersbrain/refi-ready/pkg/types"
)

// ObjectStore is the object-storage surface the orchestrator needs.
type ObjectStore interface {
	Bucket() string
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]cloud.Object, error)
}

// Catalog is the table-catalog and crawler surface the orchestrator needs.
type Catalog interface {
	EnsureDatabase(ctx context.Context) error
	RecreateTable(ctx context.Context, spec cloud.TableSpec) error
	StartCrawl(ctx context.Context) error
	CrawlerState(ctx context.Context) (string, error)
}

// MatchEngine is the record-matching surface the orchestrator needs.
type MatchEngine interface {
	EnsureSchema(ctx context.Context, name string) (string, error)
	EnsureWorkflow(ctx context.Context, spec cloud.WorkflowSpec) error
	WorkflowVisible(ctx context.Context, name string) (bool, error)
	StartJob(ctx context.Context, workflow string) (string, error)
	ActiveJob(ctx context.Context, workflow string) (string, error)
	JobStatus(ctx context.Context, workflow, jobID string) (string, error)
}

// QueryEngine is the query-execution surface the orchestrator needs.
type QueryEngine interface {
	Start(ctx context.Context, sql, outputLocation string) (string, error)
	Status(ctx context.Context, executionID string) (cloud.QueryStatus, error)
	ResultRows(ctx context.Context, executionID string) ([][]string, error)
}

// Orchestrator sequences the pipeline stages and applies each stage's
// recovery policy. One Execute call is one pipeline run.
type Orchestrator struct {
	store   ObjectStore
	catalog Catalog
	match   MatchEngine
	query   QueryEngine
	cfg     *config.Config
	roleARN string
	state   *RunState
	logger  *slog.Logger

	results []types.StageResult
}

// New creates an Orchestrator.
func New(store ObjectStore, catalog Catalog, match MatchEngine, query QueryEngine, cfg *config.Config, roleARN string, state *RunState, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:   store,
		catalog: catalog,
		match:   match,
		query:   query,
		cfg:     cfg,
		roleARN: roleARN,
		state:   state,
		logger:  logger,
	}
}

// Execute runs the full stage sequence and returns the resolved output key
// under the output prefix. All side effects are external; the only
// in-process state it mutates is the RunState trailing log.
func (o *Orchestrator) Execute(ctx context.Context) (string, error) {
	o.results = o.results[:0]

	if err := o.uploadSources(ctx); err != nil {
		return "", o.fail(types.StageUpload, err)
	}
	o.record(types.StageUpload, types.StageSucceeded, "")

	if err := o.runCrawl(ctx); err != nil {
		return "", o.fail(types.StageCrawl, err)
	}
	o.record(types.StageCrawl, types.StageSucceeded, "")

	// Record matching is best-effort: it enriches identity resolution but is
	// not required for the qualification output.
	if err := o.runMatching(ctx); err != nil {
		metrics.StagesFailed.Add(1)
		o.record(types.StageMatchJob, types.StageSkipped, "")
		o.logf("Record matching failed (optional component): %v", err)
		o.logf("Proceeding with catalog and query stages...")
	}

	if err := o.recreateTables(ctx); err != nil {
		return "", o.fail(types.StageRecreateTables, err)
	}
	o.record(types.StageRecreateTables, types.StageSucceeded, "")

	if err := o.validateNonEmpty(ctx); err != nil {
		return "", o.fail(types.StageValidateNonEmpty, err)
	}
	o.record(types.StageValidateNonEmpty, types.StageSucceeded, "")

	aggID, err := o.runQuery(ctx, aggregationSQL(), o.s3Path(o.cfg.ScratchPrefix))
	if err != nil {
		return "", o.fail(types.StageAggregation, err)
	}
	o.record(types.StageAggregation, types.StageSucceeded, aggID)

	outputKey, qualID, err := o.runQualification(ctx)
	if err != nil {
		return "", o.fail(types.StageQualification, err)
	}
	o.record(types.StageQualification, types.StageSucceeded, qualID)

	if outputKey == "" {
		// Qualification succeeded but produced zero rows: synthesize the
		// output from the raw tables instead of publishing nothing.
		outputKey, err = o.synthesizeFallback(ctx)
		if err != nil {
			return "", o.fail(types.StageFallback, err)
		}
		o.record(types.StageFallback, types.StageSucceeded, "")
	}

	o.logStageSummary()
	return outputKey, nil
}

func (o *Orchestrator) fail(stage types.Stage, err error) error {
	metrics.StagesFailed.Add(1)
	o.record(stage, types.StageFailed, "")
	o.logStageSummary()
	return fmt.Errorf("stage %s: %w", stage, err)
}

func (o *Orchestrator) record(stage types.Stage, status types.StageStatus, jobID string) {
	o.results = append(o.results, types.StageResult{Stage: stage, Status: status, JobID: jobID})
}

func (o *Orchestrator) logStageSummary() {
	parts := make([]string, 0, len(o.results))
	for _, r := range o.results {
		parts = append(parts, fmt.Sprintf("%s=%s", r.Stage, r.Status))
	}
	o.logger.Info("stage summary", "stages", strings.Join(parts, " "))
}

// logf logs a line and mirrors it into the run record's trailing output.
func (o *Orchestrator) logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	o.logger.Info(line)
	if o.state != nil {
		o.state.Append(line)
	}
}

func (o *Orchestrator) s3Path(suffix string) string {
	return fmt.Sprintf("s3://%s/%s", o.store.Bucket(), suffix)
}

// uploadSources pushes every tabular source file to both raw layouts: the
// flat path other consumers expect and the per-table subfolder the catalog
// tables point at. Any upload error fails the run.
func (o *Orchestrator) uploadSources(ctx context.Context) error {
	entries, err := os.ReadDir(o.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("reading data dir %q: %w", o.cfg.DataDir, err)
	}

	var g errgroup.Group
	uploaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		uploaded++
		name := entry.Name()
		table := strings.TrimSuffix(name, ".csv")
		path := filepath.Join(o.cfg.DataDir, name)

		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %q: %w", path, err)
			}
			flatKey := o.cfg.RawPrefix + name
			if err := o.store.Put(ctx, flatKey, data); err != nil {
				return err
			}
			tableKey := o.cfg.RawPrefix + table + "/" + name
			if err := o.store.Put(ctx, tableKey, data); err != nil {
				return err
			}
			o.logf("Uploaded %q to s3://%s/%s", name, o.store.Bucket(), flatKey)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if uploaded == 0 {
		return fmt.Errorf("no tabular source files in %q", o.cfg.DataDir)
	}
	return nil
}

// runCrawl starts the crawler and waits for it to return to ready. The
// crawler's model has no distinct failure state; a crawl that never returns
// to ready exhausts the timeout and fails the stage.
func (o *Orchestrator) runCrawl(ctx context.Context) error {
	o.logf("Starting crawler %q...", o.cfg.Crawler)
	if err := o.catalog.StartCrawl(ctx); err != nil {
		return err
	}

	interval, timeout := o.cfg.CrawlerWait()
	res, err := poller.Await(ctx, poller.Wait{
		Name:     string(types.StageCrawl),
		Interval: interval,
		Timeout:  timeout,
		Logger:   o.logger,
	}, o.catalog.CrawlerState, cloud.CrawlerReady)
	if err != nil {
		return err
	}
	if res.TimedOut {
		return fmt.Errorf("crawler did not return to ready within %s (last state %q)", timeout, res.Status)
	}
	o.logf("Crawler run completed.")
	return nil
}

func (o *Orchestrator) runMatching(ctx context.Context) error {
	o.logf("Registering matching schema %q...", o.cfg.Match.SchemaName)
	schemaARN, err := o.match.EnsureSchema(ctx, o.cfg.Match.SchemaName)
	if err != nil {
		return err
	}
	o.record(types.StageMatchSchema, types.StageSucceeded, "")

	spec := cloud.WorkflowSpec{
		Name:           o.cfg.Match.WorkflowName,
		SchemaName:     o.cfg.Match.SchemaName,
		SchemaARN:      schemaARN,
		InputSourceARN: fmt.Sprintf("arn:aws:s3:::%s/%s%s.csv", o.store.Bucket(), o.cfg.RawPrefix, TableBorrower),
		OutputS3Path:   o.s3Path("resolved/"),
		RoleARN:        o.roleARN,
	}
	if err := o.match.EnsureWorkflow(ctx, spec); err != nil {
		return err
	}

	// Creation acknowledgment and read-availability are not synchronous; a
	// start-job call can race a not-yet-visible workflow.
	interval, timeout := o.cfg.WorkflowWait()
	res, err := poller.Await(ctx, poller.Wait{
		Name:     string(types.StageMatchWorkflow),
		Interval: interval,
		Timeout:  timeout,
		Logger:   o.logger,
	}, func(ctx context.Context) (string, error) {
		visible, err := o.match.WorkflowVisible(ctx, spec.Name)
		if err != nil {
			return "", err
		}
		if visible {
			return "VISIBLE", nil
		}
		return "PENDING", nil
	}, "VISIBLE")
	if err != nil {
		return err
	}
	if res.TimedOut {
		return fmt.Errorf("workflow %q not readable within %s", spec.Name, timeout)
	}
	o.record(types.StageMatchWorkflow, types.StageSucceeded, "")

	jobID, err := o.match.StartJob(ctx, spec.Name)
	if errors.Is(err, cloud.ErrQuotaExceeded) {
		// Don't fail on the concurrency limit: adopt the job already running
		// for this workflow and wait on that instead.
		o.logf("Matching job quota exceeded; adopting active job...")
		jobID, err = o.match.ActiveJob(ctx, spec.Name)
		if err == nil {
			metrics.MatchJobsAdopted.Add(1)
		}
	}
	if err != nil {
		return err
	}
	o.logf("Waiting on matching job %s...", jobID)

	jobInterval, jobTimeout := o.cfg.MatchJobWait()
	jobRes, err := poller.Await(ctx, poller.Wait{
		Name:     string(types.StageMatchJob),
		Interval: jobInterval,
		Timeout:  jobTimeout,
		Logger:   o.logger,
	}, func(ctx context.Context) (string, error) {
		return o.match.JobStatus(ctx, spec.Name, jobID)
	}, cloud.JobSucceeded, cloud.JobFailed)
	if err != nil {
		return err
	}
	if jobRes.TimedOut {
		return fmt.Errorf("matching job %s did not finish within %s", jobID, jobTimeout)
	}
	if jobRes.Status == cloud.JobFailed {
		return fmt.Errorf("matching job %s failed", jobID)
	}
	o.record(types.StageMatchJob, types.StageSucceeded, jobID)
	o.logf("Matching job completed.")
	return nil
}

// recreateTables drops and recreates the four fixed catalog tables with
// explicit schemas bound to the per-table subfolder locations, so the
// catalog matches the uploaded layout regardless of crawler inference drift.
func (o *Orchestrator) recreateTables(ctx context.Context) error {
	if err := o.catalog.EnsureDatabase(ctx); err != nil {
		return err
	}
	for _, table := range TableNames {
		spec := cloud.TableSpec{
			Name:     table,
			Columns:  tableColumns[table],
			Location: o.s3Path(o.cfg.RawPrefix + table + "/"),
		}
		if err := o.catalog.RecreateTable(ctx, spec); err != nil {
			return err
		}
		o.logf("Recreated catalog table %q", table)
	}
	return nil
}

// validateNonEmpty counts rows per table and aborts when any table is empty.
// Continuing would silently publish an empty or fallback result while
// masking an upload or location defect.
func (o *Orchestrator) validateNonEmpty(ctx context.Context) error {
	var (
		mu    sync.Mutex
		empty []string
		g     errgroup.Group
	)
	for _, table := range TableNames {
		g.Go(func() error {
			id, err := o.runQuery(ctx, countSQL(table), o.s3Path(o.cfg.ScratchPrefix))
			if err != nil {
				return fmt.Errorf("counting rows in %s: %w", table, err)
			}
			rows, err := o.query.ResultRows(ctx, id)
			if err != nil {
				return fmt.Errorf("reading count for %s: %w", table, err)
			}
			count, err := parseCount(rows)
			if err != nil {
				return fmt.Errorf("parsing count for %s: %w", table, err)
			}
			if count == 0 {
				mu.Lock()
				empty = append(empty, table)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(empty) > 0 {
		return fmt.Errorf("tables have no rows: %s (check the raw upload locations)", strings.Join(empty, ", "))
	}
	o.logf("All catalog tables are non-empty.")
	return nil
}

// parseCount extracts the scalar from a COUNT(*) result set, skipping the
// header row.
func parseCount(rows [][]string) (int, error) {
	for _, row := range rows[min(1, len(rows)):] {
		if len(row) == 0 {
			continue
		}
		return strconv.Atoi(strings.TrimSpace(row[0]))
	}
	return 0, fmt.Errorf("result set had no data rows")
}

// runQuery starts a query and waits for a terminal state, returning the
// execution ID on success.
func (o *Orchestrator) runQuery(ctx context.Context, sql, outputLocation string) (string, error) {
	id, err := o.query.Start(ctx, sql, outputLocation)
	if err != nil {
		return "", err
	}
	metrics.QueriesExecuted.Add(1)

	interval, timeout := o.cfg.QueryWait()
	var lastReason string
	res, err := poller.Await(ctx, poller.Wait{
		Name:     "query " + id,
		Interval: interval,
		Timeout:  timeout,
		Logger:   o.logger,
	}, func(ctx context.Context) (string, error) {
		st, err := o.query.Status(ctx, id)
		if err != nil {
			return "", err
		}
		lastReason = st.Reason
		return st.State, nil
	}, cloud.QuerySucceeded, cloud.QueryFailed, cloud.QueryCancelled)
	if err != nil {
		return "", err
	}
	if res.TimedOut {
		return "", fmt.Errorf("query %s did not finish within %s", id, timeout)
	}
	if res.Status != cloud.QuerySucceeded {
		if lastReason == "" {
			lastReason = "unknown error"
		}
		return "", fmt.Errorf("query %s finished %s: %s", id, res.Status, lastReason)
	}
	return id, nil
}

// runQualification executes the qualification query against the output
// prefix. Returns the materialized output key, or an empty key when the
// query succeeded with zero rows (the fallback trigger).
func (o *Orchestrator) runQualification(ctx context.Context) (outputKey, executionID string, err error) {
	o.logf("Running qualification query...")
	id, err := o.runQuery(ctx, qualificationSQL(), o.s3Path(o.cfg.OutputPrefix))
	if err != nil {
		return "", "", err
	}

	rows, err := o.query.ResultRows(ctx, id)
	if err != nil {
		return "", "", err
	}
	dataRows := len(rows) - 1 // first row is the header
	if dataRows <= 0 {
		o.logf("Qualification query returned no rows.")
		return "", id, nil
	}

	key := o.cfg.OutputPrefix + id + ".csv"
	o.logf("Qualification output at s3://%s/%s (%d rows)", o.store.Bucket(), key, dataRows)
	return key, id, nil
}

// synthesizeFallback derives the qualification output directly from the raw
// uploaded tables and writes it as a fallback artifact. The unique suffix
// keeps repeat fallbacks from colliding.
func (o *Orchestrator) synthesizeFallback(ctx context.Context) (string, error) {
	o.logf("Synthesizing fallback output from raw tables...")

	tables := make(map[string]*dataset.Table, len(TableNames))
	for _, name := range TableNames {
		data, err := o.store.Get(ctx, o.cfg.RawPrefix+name+".csv")
		if err != nil {
			return "", err
		}
		tbl, err := dataset.ReadCSV(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("parsing raw table %s: %w", name, err)
		}
		tables[name] = tbl
	}

	derived, err := dataset.DeriveQualified(
		tables[TableBorrower], tables[TableLoan], tables[TableMarket], tables[TableEngagement],
	)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := derived.WriteCSV(&buf); err != nil {
		return "", err
	}

	key := fmt.Sprintf("%sfallback-%s.csv", o.cfg.OutputPrefix, ulid.Make().String())
	if err := o.store.Put(ctx, key, buf.Bytes()); err != nil {
		return "", err
	}
	metrics.FallbacksSynthesized.Add(1)
	o.logf("Fallback output written to s3://%s/%s (%d rows)", o.store.Bucket(), key, derived.Len())
	return key, nil
}
