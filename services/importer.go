package services

import (
	"context"
	"encoding/json"
	"io"
	"log"

	"realty_ingest/feed"
	"realty_ingest/layout"
	"realty_ingest/models"
)

const DefaultProgressEvery = 100

// ProgressFunc receives the number of offers reconciled so far and the number
// the parser has emitted so far. Both only grow.
type ProgressFunc func(processed, emitted int)

// Reconciler persists one classified offer.
type Reconciler interface {
	Reconcile(ctx context.Context, raw *models.RawOffer, cls layout.Classification) (*ReconcileResult, error)
}

// FeedImporter drives one feed stream through the classifier and reconciler,
// strictly one offer at a time.
type FeedImporter struct {
	parser        *feed.Parser
	catalog       Reconciler
	progressEvery int
}

func NewFeedImporter(parser *feed.Parser, catalog Reconciler, progressEvery int) *FeedImporter {
	if progressEvery <= 0 {
		progressEvery = DefaultProgressEvery
	}
	return &FeedImporter{
		parser:        parser,
		catalog:       catalog,
		progressEvery: progressEvery,
	}
}

// ImportFeed reconciles every offer in r and returns the tally. A broken or
// truncated stream ends the run early with Aborted set; the partial result is
// still returned without an error. The only error is a cancelled ctx, which is
// checked between offers and returned alongside the partial result.
func (i *FeedImporter) ImportFeed(ctx context.Context, r io.Reader, onProgress ProgressFunc) (*models.ImportResult, error) {
	result, _, err := i.ImportFeedWithStats(ctx, r, onProgress)
	return result, err
}

// ImportFeedWithStats is ImportFeed plus the per-entity counters used for run metadata.
func (i *FeedImporter) ImportFeedWithStats(ctx context.Context, r io.Reader, onProgress ProgressFunc) (*models.ImportResult, *ImportStats, error) {
	result := &models.ImportResult{
		Errors:      []string{},
		ParseErrors: []string{},
	}
	stats := &ImportStats{}
	stream := i.parser.Parse(r)
	seen := make(map[string]struct{})

	processed, reported := 0, -1
	report := func() {
		if onProgress != nil && processed != reported {
			onProgress(processed, stream.Emitted())
			reported = processed
		}
	}
	finish := func() {
		result.Parsed = stream.Emitted()
		result.Aborted = stream.Aborted()
		for _, pe := range stream.Errors() {
			result.ParseErrors = append(result.ParseErrors, pe.Error())
		}
		stats.ParseErrors = len(result.ParseErrors)
		report()
	}

	for {
		if err := ctx.Err(); err != nil {
			result.Cancelled = true
			finish()
			return result, stats, err
		}
		if !stream.Next() {
			break
		}

		raw := stream.Offer()
		if _, dup := seen[raw.ExternalID]; dup {
			log.Printf("Warning: offer %s appears more than once in feed, last occurrence wins", raw.ExternalID)
			stats.Duplicates++
		} else {
			seen[raw.ExternalID] = struct{}{}
		}

		cls := layout.Classify(raw.Rooms, raw.AreaTotal, raw.AreaLiving, raw.AreaKitchen, raw.Description)
		res, err := i.catalog.Reconcile(ctx, raw, cls)
		if err != nil && ctx.Err() != nil {
			// Cancelled mid-offer: the transaction rolled back, count nothing.
			continue
		}

		processed++
		switch {
		case err != nil:
			result.Failed++
			stats.Errors++
			result.Errors = append(result.Errors, err.Error())
		case res.Created:
			result.Imported++
			stats.Aggregate(res, cls)
		default:
			result.Updated++
			stats.Aggregate(res, cls)
		}

		if processed%i.progressEvery == 0 {
			report()
		}
	}

	finish()
	return result, stats, nil
}

// ImportStats tracks side counters of an import run
type ImportStats struct {
	OffersProcessed  int
	DistrictsCreated int
	ComplexesCreated int
	Images           int
	EuroLayouts      int
	Duplicates       int
	ParseErrors      int
	Errors           int
}

// Aggregate adds a ReconcileResult to the stats
func (s *ImportStats) Aggregate(r *ReconcileResult, cls layout.Classification) {
	s.OffersProcessed++
	if r.DistrictCreated {
		s.DistrictsCreated++
	}
	if r.ComplexCreated {
		s.ComplexesCreated++
	}
	if cls.IsEuroLayout {
		s.EuroLayouts++
	}
	s.Images += r.Images
}

// ToJSON returns JSON-serializable metadata
func (s *ImportStats) ToJSON() json.RawMessage {
	data, _ := json.Marshal(map[string]int{
		"offers_processed":  s.OffersProcessed,
		"districts_created": s.DistrictsCreated,
		"complexes_created": s.ComplexesCreated,
		"images":            s.Images,
		"euro_layouts":      s.EuroLayouts,
		"duplicates":        s.Duplicates,
		"parse_errors":      s.ParseErrors,
		"errors":            s.Errors,
	})
	return data
}
