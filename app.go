package main

import (
	"context"
	"fmt"
	"log"

	"realty_ingest/config"
	"realty_ingest/httputil"
	"realty_ingest/ingest"
	"realty_ingest/logging"
	"realty_ingest/services"
	"realty_ingest/source"
	"realty_ingest/storage"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg     *config.Config
	ops     *storage.SQLiteStore
	catalog storage.CatalogStore
	orch    *ingest.Orchestrator
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openOps loads config, sets up logging and opens the operational store.
func openOps() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a := &app{cfg: cfg}

	logFile, err := logging.Setup(cfg.Log.Path, cfg.Log.MaxBytes, cfg.Log.Backups)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		a.closers = append(a.closers, func() { logFile.Close() })
	}

	ops, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.DBPath, err)
	}
	a.ops = ops
	a.closers = append(a.closers, func() { ops.Close() })

	return a, nil
}

// openApp wires the full pipeline: catalog store, sources and orchestrator.
func openApp(ctx context.Context) (*app, error) {
	a, err := openOps()
	if err != nil {
		return nil, err
	}
	cfg := a.cfg

	log.Printf("Loaded %d feed configs", len(cfg.Feeds))
	for _, id := range cfg.FeedIDs() {
		log.Printf("  - %s (%s %s)", cfg.Feeds[id].Name, cfg.Feeds[id].Kind, id)
	}

	var mirror *storage.PostgresStore
	switch cfg.Catalog.Driver {
	case "postgres":
		pgStore, err := storage.NewPostgresStore(ctx, cfg.Catalog.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.closers = append(a.closers, pgStore.Close)
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Catalog.DatabaseURL))
		a.catalog = pgStore
		mirror = pgStore
	case "sqlite":
		if cfg.Catalog.SQLitePath == cfg.DBPath {
			a.catalog = a.ops
		} else {
			catalog, err := storage.NewSQLiteStore(cfg.Catalog.SQLitePath)
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("open sqlite catalog: %w", err)
			}
			a.closers = append(a.closers, func() { catalog.Close() })
			a.catalog = catalog
		}
		log.Printf("SQLite catalog: %s", cfg.Catalog.SQLitePath)
	}

	clients := httputil.NewClients(&cfg.HTTP)
	deps := source.Deps{HTTP: clients.Feed}
	s3Reader, err := storage.NewS3Reader(ctx, storage.S3Config{
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
	})
	if err != nil {
		log.Printf("Warning: S3 feeds unavailable: %v", err)
	} else {
		deps.S3 = s3Reader
	}

	a.orch = ingest.NewOrchestrator(cfg, a.ops, services.NewCatalogService(a.catalog), deps)
	if mirror != nil {
		a.orch.SetRunMirror(mirror)
	}

	return a, nil
}
