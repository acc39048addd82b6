package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"realty_ingest/config"
	"realty_ingest/models"
)

// Triggerable allows workers to be triggered manually
type Triggerable interface {
	Trigger()
}

// Runner is the import side the scheduler drives.
type Runner interface {
	RunAll(ctx context.Context) error
	RunFeed(ctx context.Context, feedID string) (*models.ImportResult, error)
	HandleCommand(ctx context.Context, cmd *models.Command) error
	IsPaused() bool
}

// CommandStore is the queue of operator commands.
type CommandStore interface {
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
	GetLastRunTime(feedID string) (time.Time, error)
}

type Scheduler struct {
	cfg          *config.Config
	orchestrator Runner
	store        CommandStore
	cron         *cron.Cron
	ticker       *time.Ticker
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	pollInterval time.Duration

	staleWorker Triggerable
}

func New(cfg *config.Config, orchestrator Runner, store CommandStore) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		orchestrator: orchestrator,
		store:        store,
		cron:         cron.New(),
		stopCh:       make(chan struct{}),
		pollInterval: 2 * time.Second,
	}
}

// SetWorkers registers background workers for manual triggering
func (s *Scheduler) SetWorkers(stale Triggerable) {
	s.staleWorker = stale
}

func (s *Scheduler) Start(ctx context.Context) error {
	// Per-feed schedules run alongside the global one.
	for _, feedID := range s.cfg.FeedIDs() {
		feedCfg := s.cfg.Feeds[feedID]
		if feedCfg.Schedule == "" {
			continue
		}
		id := feedID
		if _, err := s.cron.AddFunc(feedCfg.Schedule, func() { s.runFeed(ctx, id) }); err != nil {
			return fmt.Errorf("invalid schedule for feed %s: %w", feedID, err)
		}
		log.Printf("Feed %s scheduled: %s", feedID, feedCfg.Schedule)
	}

	if s.cfg.Scheduler.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Scheduler.Cron)
		_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() { s.runAll(ctx) })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	} else if s.cfg.Scheduler.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Scheduler.Interval)
		s.ticker = time.NewTicker(s.cfg.Scheduler.Interval)
		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.runAll(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
		go func() {
			defer s.wg.Done()
			s.catchUp(ctx)
		}()
	} else if len(s.cron.Entries()) == 0 {
		log.Println("No schedule configured, daemon will only respond to commands")
	}

	s.cron.Start()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pollCommands(ctx)
	}()

	return nil
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		// Imports started by the ticker, a command or RunNow finish before the stores close.
		s.wg.Wait()
	})
}

func (s *Scheduler) runAll(ctx context.Context) {
	if err := s.orchestrator.RunAll(ctx); err != nil {
		log.Printf("Scheduled run error: %v", err)
	}
}

func (s *Scheduler) runFeed(ctx context.Context, feedID string) {
	if s.orchestrator.IsPaused() {
		log.Printf("Importer is paused, skipping scheduled run of %s", feedID)
		return
	}
	if _, err := s.orchestrator.RunFeed(ctx, feedID); err != nil {
		log.Printf("Scheduled run error for %s: %v", feedID, err)
	}
}

// catchUp imports feeds whose last good run is older than the interval,
// so a restarted daemon does not wait a full interval.
func (s *Scheduler) catchUp(ctx context.Context) {
	for _, feedID := range s.OverdueFeeds(time.Now()) {
		if ctx.Err() != nil {
			return
		}
		log.Printf("Feed %s is overdue, importing now", feedID)
		s.runFeed(ctx, feedID)
	}
}

// OverdueFeeds lists feeds without their own schedule whose last good run
// started more than one interval before now.
func (s *Scheduler) OverdueFeeds(now time.Time) []string {
	var overdue []string
	for _, feedID := range s.cfg.FeedIDs() {
		if s.cfg.Feeds[feedID].Schedule != "" {
			continue
		}
		lastRun, err := s.store.GetLastRunTime(feedID)
		if err != nil {
			log.Printf("Error getting last run time for %s: %v", feedID, err)
			continue
		}
		if now.Sub(lastRun) >= s.cfg.Scheduler.Interval {
			overdue = append(overdue, feedID)
		}
	}
	return overdue
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) processCommands(ctx context.Context) {
	cmds, err := s.store.GetPendingCommands()
	if err != nil {
		log.Printf("Error getting commands: %v", err)
		return
	}

	for _, cmd := range cmds {
		log.Printf("Processing command: %s", cmd.Command)
		if err := s.handleCommand(ctx, &cmd); err != nil {
			log.Printf("Command error: %v", err)
		}
		if err := s.store.MarkCommandProcessed(cmd.ID); err != nil {
			log.Printf("Error marking command processed: %v", err)
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdDeactivateStale:
		if s.staleWorker == nil {
			return errors.New("stale offer worker is not running")
		}
		s.staleWorker.Trigger()
		log.Println("Stale offer worker triggered via command")
		return nil
	default:
		return s.orchestrator.HandleCommand(ctx, cmd)
	}
}

// RunNow imports every feed in the background. Stop waits for it.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runAll(ctx)
	}()
}
