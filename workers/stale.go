package workers

import (
	"context"
	"fmt"
	"log"
	"time"

	"realty_ingest/models"
)

// Deactivator clears is_active on offers not refreshed since cutoff.
type Deactivator interface {
	DeactivateStaleOffers(ctx context.Context, cutoff time.Time) (int64, error)
}

// StaleOfferWorker retires offers that have dropped out of every feed.
// An offer that reappears is reactivated by the next import.
type StaleOfferWorker struct {
	store      Deactivator
	staleAfter time.Duration
	triggerCh  chan struct{}
	logFunc    LogFunc
	now        func() time.Time
}

func NewStaleOfferWorker(store Deactivator, staleAfter time.Duration) *StaleOfferWorker {
	return &StaleOfferWorker{
		store:      store,
		staleAfter: staleAfter,
		triggerCh:  make(chan struct{}, 1),
		logFunc:    NoOpLogger,
		now:        time.Now,
	}
}

func (w *StaleOfferWorker) SetLogger(fn LogFunc) {
	w.logFunc = fn
}

// Trigger causes the worker to run immediately
func (w *StaleOfferWorker) Trigger() {
	select {
	case w.triggerCh <- struct{}{}:
	default:
	}
}

func (w *StaleOfferWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Stale offer worker stopping")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		case <-w.triggerCh:
			log.Println("Stale offer worker triggered manually")
			w.Sweep(ctx)
		}
	}
}

// Sweep deactivates stale offers once and returns how many were retired.
func (w *StaleOfferWorker) Sweep(ctx context.Context) (int64, error) {
	cutoff := w.now().Add(-w.staleAfter)
	n, err := w.store.DeactivateStaleOffers(ctx, cutoff)
	if err != nil {
		log.Printf("Stale sweep: %v", err)
		w.logFunc(models.LogLevelError, "stale", fmt.Sprintf("deactivate failed: %v", err))
		return 0, err
	}
	if n > 0 {
		msg := fmt.Sprintf("deactivated %d offers not seen since %s", n, cutoff.Format(time.RFC3339))
		log.Printf("Stale sweep: %s", msg)
		w.logFunc(models.LogLevelInfo, "stale", msg)
	}
	return n, nil
}
