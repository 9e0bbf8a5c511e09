// Package reconcile loads the latest pipeline output artifact and normalizes
// it into presentation-ready lead records. It never assumes the pipeline ran
// first; every load re-lists the output prefix and picks the best artifact
// available at that moment.
package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/codersbrain/refi-ready/internal/cloud"
	"github.com/codersbrain/refi-ready/internal/dataset"
	"github.com/codersbrain/refi-ready/internal/metrics"
	"github.com/codersbrain/refi-ready/internal/pipeline"
	"github.com/codersbrain/refi-ready/pkg/types"
)

const (
	tabularSuffix  = ".csv"
	metadataSuffix = ".metadata"
	fallbackPrefix = "fallback-"
)

// ObjectReader is the object-storage surface the reconciler needs.
type ObjectReader interface {
	Bucket() string
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]cloud.Object, error)
}

// NoOutputError indicates no primary or fallback artifact was reachable. It
// carries the location reads are expected to be served from.
type NoOutputError struct {
	Location string
	Err      error
}

func (e *NoOutputError) Error() string {
	return fmt.Sprintf("no output available at %s: %v", e.Location, e.Err)
}

func (e *NoOutputError) Unwrap() error { return e.Err }

// Result is one reconciled dataset plus where it came from.
type Result struct {
	Leads      []types.LeadRecord
	Provenance string
}

// Reconciler loads and normalizes the latest output artifact. Loads run
// behind a circuit breaker so a persistently failing storage read sheds
// quickly instead of stacking up slow requests.
type Reconciler struct {
	store        ObjectReader
	rawPrefix    string
	outputPrefix string
	breaker      *gobreaker.CircuitBreaker
	logger       *slog.Logger
}

// New creates a Reconciler over the given store and prefixes.
func New(store ObjectReader, rawPrefix, outputPrefix string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reconcile-load",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Reconciler{
		store:        store,
		rawPrefix:    rawPrefix,
		outputPrefix: outputPrefix,
		breaker:      breaker,
		logger:       logger,
	}
}

// ExpectedLocation returns the storage location reads are served from.
func (r *Reconciler) ExpectedLocation() string {
	return fmt.Sprintf("s3://%s/%s", r.store.Bucket(), r.outputPrefix)
}

// Load returns the reconciled dataset and its provenance.
func (r *Reconciler) Load(ctx context.Context) (Result, error) {
	v, err := r.breaker.Execute(func() (interface{}, error) {
		return r.load(ctx)
	})
	if err != nil {
		metrics.ReconcileFailures.Add(1)
		return Result{}, err
	}
	metrics.ReconcileLoads.Add(1)
	return v.(Result), nil
}

func (r *Reconciler) load(ctx context.Context) (Result, error) {
	objects, err := r.store.List(ctx, r.outputPrefix)
	if err != nil {
		return Result{}, fmt.Errorf("listing output artifacts: %w", err)
	}

	key, hadPrimary := SelectArtifact(objects)
	if key == "" {
		return Result{}, &NoOutputError{
			Location: r.ExpectedLocation(),
			Err:      errors.New("no artifact under output prefix"),
		}
	}

	data, err := r.store.Get(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("fetching artifact %q: %w", key, err)
	}
	table, err := dataset.ReadCSV(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("parsing artifact %q: %w", key, err)
	}

	provenance := fmt.Sprintf("s3://%s/%s", r.store.Bucket(), key)
	if table.Empty() && !hadPrimary {
		// The best artifact was an empty fallback. Re-derive from the raw
		// tables rather than serving nothing.
		table, err = r.deriveFromRaw(ctx)
		if err != nil {
			return Result{}, &NoOutputError{Location: r.ExpectedLocation(), Err: err}
		}
		provenance = fmt.Sprintf("%s (derived)", r.ExpectedLocation())
		r.logger.Info("empty fallback artifact; derived dataset from raw tables", "artifact", key)
	}

	leads := r.normalize(ctx, table)
	return Result{Leads: leads, Provenance: provenance}, nil
}

// SelectArtifact picks the output artifact to serve: the most recent
// non-fallback artifact, or the most recent fallback when no non-fallback
// exists. Returns the chosen key and whether any non-fallback candidate was
// present. Metadata side-files and non-tabular objects are ignored.
func SelectArtifact(objects []cloud.Object) (key string, hadPrimary bool) {
	var bestPrimary, bestFallback *cloud.Object
	for i := range objects {
		obj := objects[i]
		if !strings.HasSuffix(obj.Key, tabularSuffix) || strings.HasSuffix(obj.Key, metadataSuffix) {
			continue
		}
		if strings.HasPrefix(path.Base(obj.Key), fallbackPrefix) {
			if bestFallback == nil || obj.LastModified.After(bestFallback.LastModified) {
				bestFallback = &objects[i]
			}
			continue
		}
		if bestPrimary == nil || obj.LastModified.After(bestPrimary.LastModified) {
			bestPrimary = &objects[i]
		}
	}

	switch {
	case bestPrimary != nil:
		return bestPrimary.Key, true
	case bestFallback != nil:
		return bestFallback.Key, false
	default:
		return "", false
	}
}

// normalize applies the ordered rule pipeline: rename, split, derive from
// in-row values, backfill, default-fill, derive again for backfilled rates,
// then materialize with the row filter and sort.
func (r *Reconciler) normalize(ctx context.Context, table *dataset.Table) []types.LeadRecord {
	t := dataset.RenameLegacyColumns(table)
	t = dataset.SplitFullName(t)

	// A row carrying both rates computes its own spread and tier; enrichment
	// only fills what the row cannot compute itself.
	t = dataset.ComputeDerived(t)

	if missing := dataset.MissingRequired(t); len(missing) > 0 {
		enriched, err := r.enrichedFromRaw(ctx)
		if err != nil {
			// Backfill is best-effort; unfillable rows are dropped below.
			r.logger.Warn("backfill source unavailable", "missing", missing, "error", err)
		} else {
			t = dataset.Backfill(t, enriched)
		}
	}

	t = dataset.DefaultFill(t)
	t = dataset.ComputeDerived(t)

	leads, dropped := dataset.Materialize(t)
	if dropped > 0 {
		metrics.ReconcileRowsDropped.Add(int64(dropped))
		r.logger.Info("dropped rows with unusable numeric fields", "dropped", dropped, "kept", len(leads))
	}
	return leads
}

func (r *Reconciler) rawTables(ctx context.Context) (map[string]*dataset.Table, error) {
	tables := make(map[string]*dataset.Table, len(pipeline.TableNames))
	for _, name := range pipeline.TableNames {
		data, err := r.store.Get(ctx, r.rawPrefix+name+tabularSuffix)
		if err != nil {
			return nil, fmt.Errorf("fetching raw table %s: %w", name, err)
		}
		t, err := dataset.ReadCSV(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parsing raw table %s: %w", name, err)
		}
		tables[name] = t
	}
	return tables, nil
}

func (r *Reconciler) enrichedFromRaw(ctx context.Context) (*dataset.Table, error) {
	tables, err := r.rawTables(ctx)
	if err != nil {
		return nil, err
	}
	return dataset.Enriched(
		tables[pipeline.TableBorrower], tables[pipeline.TableLoan],
		tables[pipeline.TableMarket], tables[pipeline.TableEngagement],
	)
}

func (r *Reconciler) deriveFromRaw(ctx context.Context) (*dataset.Table, error) {
	tables, err := r.rawTables(ctx)
	if err != nil {
		return nil, err
	}
	return dataset.DeriveQualified(
		tables[pipeline.TableBorrower], tables[pipeline.TableLoan],
		tables[pipeline.TableMarket], tables[pipeline.TableEngagement],
	)
}
