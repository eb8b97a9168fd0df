package main

import (
	"context"
	"fmt"
	"os"

	"github.com/martin/scope-generator/internal/config"
	"github.com/martin/scope-generator/internal/db"
	"github.com/martin/scope-generator/internal/llm"
	"github.com/martin/scope-generator/internal/logger"
	"github.com/martin/scope-generator/internal/observability"
	"github.com/martin/scope-generator/internal/pipeline"
	"github.com/martin/scope-generator/internal/reference"
	"github.com/martin/scope-generator/internal/registry"
	"github.com/martin/scope-generator/internal/research"
	"github.com/martin/scope-generator/internal/storage"
	"github.com/martin/scope-generator/internal/vectorstore"
	"github.com/martin/scope-generator/internal/workspace"
)

// app holds the wired collaborators shared by the CLI commands.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	database *db.DB
	backend  storage.Backend
	model    llm.Client
	resil    *llm.ResilientClient
	registry *registry.Registry
	printer  *observability.Printer

	closers []func()
}

// buildApp loads configuration and wires the full dependency graph.
func buildApp(ctx context.Context, configPath string, verbose bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logMode := "prod"
	if cfg.Verbose {
		logMode = "dev"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	a := &app{cfg: cfg, log: log, printer: observability.NewPrinter(os.Stdout)}
	a.closers = append(a.closers, log.Sync)

	a.database, err = db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.database.Close)

	a.backend, err = buildBackend(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.model, err = llm.NewClient(ctx, nil, cfg.APIKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.model.Close() })
	a.resil = llm.NewResilientClient(a.model)

	store := vectorstore.New(a.database.Pool())
	retriever := reference.NewRetriever(store, a.resil, log)

	var researcher pipeline.SnippetGatherer
	if cfg.SearchAPIKey != "" && cfg.SearchCX != "" {
		r, err := research.NewResearcher(ctx, cfg.SearchAPIKey, cfg.SearchCX, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		researcher = r
	} else {
		log.Info("search credentials not configured, research disabled")
	}

	pipe := pipeline.New(a.database, a.backend, a.resil, retriever, researcher, log).
		WithIndexer(reference.NewIndexer(store, a.resil))
	syncer := workspace.NewSynchronizer(a.database, a.backend, log)

	a.registry = registry.New(registry.Deps{
		Store: a.database,
		Sync:  syncer,
		Exec:  pipe,
		Log:   log,
	}, registry.Options{
		Workers:  cfg.Workers,
		WorkRoot: cfg.WorkRoot,
	})
	a.closers = append(a.closers, a.registry.Close)

	return a, nil
}

func buildBackend(ctx context.Context, cfg *config.Config, log *logger.Logger) (storage.Backend, error) {
	if cfg.StorageBackend == config.BackendGCS {
		return storage.NewGCS(ctx, cfg.StorageBucket, log)
	}
	return storage.NewLocal(cfg.LocalStorageRoot())
}

// Close tears down in reverse construction order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
