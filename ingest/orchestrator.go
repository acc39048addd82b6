package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"realty_ingest/config"
	"realty_ingest/feed"
	"realty_ingest/models"
	"realty_ingest/services"
	"realty_ingest/source"
	"realty_ingest/storage"
	"realty_ingest/workers"
)

// ErrImportRunning is returned when an import is requested while another is in progress.
var ErrImportRunning = errors.New("an import is already running")

const (
	maxLoggedErrors = 50
	maxErrorSample  = 5
)

type Orchestrator struct {
	cfg     *config.Config
	store   *storage.SQLiteStore
	catalog services.Reconciler
	deps    source.Deps

	// Optional copy of the run ledger kept next to the catalog
	mirror storage.RunLedger

	mu      sync.Mutex
	running bool
	paused  bool
}

func NewOrchestrator(cfg *config.Config, store *storage.SQLiteStore, catalog services.Reconciler, deps source.Deps) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		store:   store,
		catalog: catalog,
		deps:    deps,
	}
}

// SetRunMirror records every run in a second ledger as well.
func (o *Orchestrator) SetRunMirror(mirror storage.RunLedger) {
	o.mirror = mirror
}

// RunAll imports every configured feed in turn.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	if o.IsPaused() {
		log.Println("Importer is paused, skipping run")
		return nil
	}

	for _, feedID := range o.cfg.FeedIDs() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := o.RunFeed(ctx, feedID); err != nil {
			if errors.Is(err, ErrImportRunning) {
				return err
			}
			log.Printf("Error importing feed %s: %v", feedID, err)
		}
	}

	return nil
}

func (o *Orchestrator) RunFeed(ctx context.Context, feedID string) (*models.ImportResult, error) {
	feedCfg, ok := o.cfg.Feeds[feedID]
	if !ok {
		return nil, fmt.Errorf("unknown feed: %s", feedID)
	}
	return o.Import(ctx, feedCfg)
}

// Import runs one feed through the pipeline and records it in the run ledger.
// Only failing to open the feed, or a cancelled ctx, is returned as an error;
// everything else is reported in the result.
func (o *Orchestrator) Import(ctx context.Context, feedCfg *config.FeedConfig) (*models.ImportResult, error) {
	if !o.acquire() {
		return nil, ErrImportRunning
	}
	defer o.release()

	// Ledger writes outlive a cancelled import.
	ledgerCtx := context.WithoutCancel(ctx)

	feedID := feedCfg.ID
	run := &models.ImportRun{
		FeedID:    feedID,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}
	if err := o.store.CreateImportRun(ledgerCtx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	var mirrorRun *models.ImportRun
	if o.mirror != nil {
		r := *run
		if err := o.mirror.CreateImportRun(ledgerCtx, &r); err != nil {
			log.Printf("Warning: failed to create mirrored run: %v", err)
		} else {
			mirrorRun = &r
		}
	}

	defer func() {
		now := time.Now()
		run.FinishedAt = &now
		if err := o.store.UpdateImportRun(ledgerCtx, run); err != nil {
			log.Printf("Warning: failed to update run %d: %v", run.ID, err)
		}
		if mirrorRun != nil {
			id := mirrorRun.ID
			*mirrorRun = *run
			mirrorRun.ID = id
			if err := o.mirror.UpdateImportRun(ledgerCtx, mirrorRun); err != nil {
				log.Printf("Warning: failed to update mirrored run: %v", err)
			}
		}
	}()

	o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Starting import for %s", feedCfg.Name), feedID)

	src, err := source.New(feedCfg, o.deps)
	if err != nil {
		return nil, o.fail(run, err)
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, o.fail(run, err)
	}
	defer rc.Close()

	importer := services.NewFeedImporter(newParser(feedCfg), o.catalog, o.cfg.Import.ProgressEvery)
	progress := func(processed, emitted int) {
		o.log(run.ID, models.LogLevelInfo, fmt.Sprintf("Progress: %d processed, %d parsed", processed, emitted), feedID)
	}

	result, stats, err := importer.ImportFeedWithStats(ctx, rc, progress)

	run.Parsed = result.Parsed
	run.Imported = result.Imported
	run.Updated = result.Updated
	run.Failed = result.Failed
	run.ParseErrors = len(result.ParseErrors)
	run.Status = result.Status()
	run.Metadata = stats.ToJSON()
	run.ErrorMessage = errorSample(result)

	for _, msg := range result.ParseErrors {
		o.log(run.ID, models.LogLevelWarn, "Parse error: "+msg, feedID)
	}
	for i, msg := range result.Errors {
		if i == maxLoggedErrors {
			o.log(run.ID, models.LogLevelError, fmt.Sprintf("... and %d more failed offers", len(result.Errors)-i), feedID)
			break
		}
		o.log(run.ID, models.LogLevelError, "Reconcile error: "+msg, feedID)
	}

	if err != nil {
		o.log(run.ID, models.LogLevelWarn,
			fmt.Sprintf("Cancelled after %d offers: %v", result.Processed(), err), feedID)
		return result, err
	}

	o.log(run.ID, models.LogLevelInfo,
		fmt.Sprintf("Completed (%s): %d parsed, %d imported, %d updated, %d failed, %d parse errors",
			run.Status, result.Parsed, result.Imported, result.Updated, result.Failed, run.ParseErrors), feedID)

	return result, nil
}

func (o *Orchestrator) fail(run *models.ImportRun, err error) error {
	run.Status = models.RunStatusFailed
	run.ErrorMessage = err.Error()
	o.log(run.ID, models.LogLevelError, fmt.Sprintf("Import failed: %v", err), run.FeedID)
	return err
}

// HandleCommand applies an operator command. Imports it starts stop between
// offers once ctx is cancelled.
func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := o.store.ParseCommandParams(cmd)
	if err != nil {
		return err
	}

	switch cmd.Command {
	case models.CmdImportNow:
		return o.RunAll(ctx)
	case models.CmdImportFeed:
		if params.Feed != "" {
			_, err := o.RunFeed(ctx, params.Feed)
			return err
		}
		return o.RunAll(ctx)
	case models.CmdPause:
		o.setPaused(true)
		log.Println("Importer paused")
	case models.CmdResume:
		o.setPaused(false)
		log.Println("Importer resumed")
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}

	return nil
}

func (o *Orchestrator) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) setPaused(p bool) {
	o.mu.Lock()
	o.paused = p
	o.mu.Unlock()
}

func (o *Orchestrator) acquire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return false
	}
	o.running = true
	return true
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

func (o *Orchestrator) log(runID int64, level models.LogLevel, message, feedID string) {
	log.Printf("[%s] %s: %s", level, feedID, message)
	if err := o.store.Log(&runID, level, message, feedID); err != nil {
		log.Printf("Warning: failed to persist log line: %v", err)
	}
}

// LogFunc adapts the run log for background workers, which log outside any run.
func (o *Orchestrator) LogFunc() workers.LogFunc {
	return func(level models.LogLevel, origin, message string) {
		if err := o.store.Log(nil, level, message, origin); err != nil {
			log.Printf("Warning: failed to persist log line: %v", err)
		}
	}
}

func (o *Orchestrator) FeedIDs() []string {
	return o.cfg.FeedIDs()
}

func newParser(feedCfg *config.FeedConfig) *feed.Parser {
	var opts []feed.Option
	if feedCfg.Lenient {
		opts = append(opts, feed.WithLenient())
	}
	if feedCfg.Encoding != "" {
		opts = append(opts, feed.WithEncoding(feedCfg.Encoding))
	}
	return feed.NewParser(opts...)
}

func errorSample(result *models.ImportResult) string {
	all := append(append([]string{}, result.ParseErrors...), result.Errors...)
	if len(all) > maxErrorSample {
		all = all[:maxErrorSample]
	}
	return strings.Join(all, "; ")
}
