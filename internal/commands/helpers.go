// Package commands implements the CLI subcommands for the refiready binary.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/codersbrain/refi-ready/internal/cloud"
	"github.com/codersbrain/refi-ready/internal/config"
	"github.com/codersbrain/refi-ready/internal/pipeline"
	"github.com/codersbrain/refi-ready/internal/reconcile"
)

// runtime bundles the wired service components the subcommands share.
type runtime struct {
	cfg        *config.Config
	state      *pipeline.RunState
	runner     *pipeline.Runner
	reconciler *reconcile.Reconciler
}

// buildRuntime loads configuration, creates the service clients and wires
// the orchestrator and reconciler.
func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	clients, err := cloud.NewClients(ctx, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("creating service clients: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store := cloud.NewObjectStore(clients.S3, cfg.Bucket)
	catalog := cloud.NewCatalog(clients.Glue, cfg.Database, cfg.Crawler)
	match := cloud.NewMatchEngine(clients.ER)
	query := cloud.NewQueryEngine(clients.Athena, cfg.Database)

	state := pipeline.NewRunState()
	orc := pipeline.New(store, catalog, match, query, cfg, clients.MatchRoleARN(cfg.Match.RoleARN), state, logger)
	runner := pipeline.NewRunner(orc, state, cfg.DataDir, cfg.Bucket)
	rec := reconcile.New(store, cfg.RawPrefix, cfg.OutputPrefix, logger)

	return &runtime{
		cfg:        cfg,
		state:      state,
		runner:     runner,
		reconciler: rec,
	}, nil
}
