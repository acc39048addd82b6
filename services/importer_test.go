package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"realty_ingest/feed"
	"realty_ingest/layout"
	"realty_ingest/models"
)

type progressCall struct {
	processed, emitted int
}

func recordProgress(calls *[]progressCall) ProgressFunc {
	return func(processed, emitted int) {
		*calls = append(*calls, progressCall{processed, emitted})
	}
}

func TestImportFeed_ImportsThenUpdates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	importer := NewFeedImporter(feed.NewParser(), NewCatalogService(store), 0)
	doc := feedXML(offerIDs(3), nil)

	result, err := importer.ImportFeed(ctx, strings.NewReader(doc), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Imported)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 3, result.Parsed)
	assert.Empty(t, result.Errors)
	assert.Equal(t, models.RunStatusCompleted, result.Status())

	result, err = importer.ImportFeed(ctx, strings.NewReader(doc), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Imported)
	assert.Equal(t, 3, result.Updated)
	assert.Equal(t, 3, countRows(t, store, "catalog_offers"))
	assert.Equal(t, 1, countRows(t, store, "districts"))
}

func TestImportFeed_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rejectImages(t, store, "broken")
	importer := NewFeedImporter(feed.NewParser(), NewCatalogService(store), 0)

	doc := feedXML(offerIDs(5), func(id string) string {
		if id == "F-0003" {
			return `<image>https://cdn.example.ru/broken.jpg</image>`
		}
		return ""
	})

	result, err := importer.ImportFeed(ctx, strings.NewReader(doc), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Imported)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "F-0003")
	assert.Equal(t, models.RunStatusPartial, result.Status())

	assert.Equal(t, 4, countRows(t, store, "catalog_offers"))
	got, err := store.GetOfferByExternalID(ctx, "F-0003")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = store.GetOfferByExternalID(ctx, "F-0005")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestImportFeed_ReportsProgress(t *testing.T) {
	store := newTestStore(t)
	importer := NewFeedImporter(feed.NewParser(), NewCatalogService(store), 100)

	var calls []progressCall
	result, err := importer.ImportFeed(context.Background(),
		strings.NewReader(feedXML(offerIDs(250), nil)), recordProgress(&calls))
	require.NoError(t, err)
	assert.Equal(t, 250, result.Imported)
	assert.Equal(t, []progressCall{{100, 100}, {200, 200}, {250, 250}}, calls)
}

func TestImportFeed_NoDuplicateFinalProgress(t *testing.T) {
	store := newTestStore(t)
	importer := NewFeedImporter(feed.NewParser(), NewCatalogService(store), 2)

	var calls []progressCall
	_, err := importer.ImportFeed(context.Background(),
		strings.NewReader(feedXML(offerIDs(4), nil)), recordProgress(&calls))
	require.NoError(t, err)
	assert.Equal(t, []progressCall{{2, 2}, {4, 4}}, calls)
}

func TestImportFeed_EmptyFeedReportsOnce(t *testing.T) {
	store := newTestStore(t)
	importer := NewFeedImporter(feed.NewParser(), NewCatalogService(store), 0)

	var calls []progressCall
	result, err := importer.ImportFeed(context.Background(),
		strings.NewReader(`<realty-feed></realty-feed>`), recordProgress(&calls))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed())
	assert.Equal(t, []progressCall{{0, 0}}, calls)
}

func TestImportFeed_CancelledBetweenOffers(t *testing.T) {
	store := newTestStore(t)
	importer := NewFeedImporter(feed.NewParser(), NewCatalogService(store), 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls []progressCall
	onProgress := func(processed, emitted int) {
		calls = append(calls, progressCall{processed, emitted})
		if processed == 10 {
			cancel()
		}
	}

	result, err := importer.ImportFeed(ctx, strings.NewReader(feedXML(offerIDs(50), nil)), onProgress)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.True(t, result.Cancelled)
	assert.Equal(t, 10, result.Imported)
	assert.Equal(t, models.RunStatusCancelled, result.Status())
	assert.Equal(t, 10, countRows(t, store, "catalog_offers"))
	assert.Equal(t, []progressCall{{10, 10}}, calls)
}

func TestImportFeed_TruncatedStreamReturnsPartialResult(t *testing.T) {
	store := newTestStore(t)
	importer := NewFeedImporter(feed.NewParser(), NewCatalogService(store), 0)

	doc := feedXML(offerIDs(3), nil)
	cut := strings.LastIndex(doc, `<offer internal-id="F-0003">`)
	doc = doc[:cut] + `<offer internal-id="F-0003"><location><address>x</addr`

	result, err := importer.ImportFeed(context.Background(), strings.NewReader(doc), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.True(t, result.Aborted)
	require.Len(t, result.ParseErrors, 1)
	assert.Contains(t, result.ParseErrors[0], "F-0003")
	assert.Equal(t, models.RunStatusPartial, result.Status())
}

func TestImportFeed_DuplicateExternalIDLastWins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	importer := NewFeedImporter(feed.NewParser(), NewCatalogService(store), 0)

	doc := `<realty-feed>
		<offer internal-id="D-1"><location><address>ул. Первая, 1</address></location><price><value>100</value></price></offer>
		<offer internal-id="D-1"><location><address>ул. Первая, 1</address></location><price><value>200</value></price></offer>
	</realty-feed>`

	result, stats, err := importer.ImportFeedWithStats(ctx, strings.NewReader(doc), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, stats.Duplicates)

	got, err := store.GetOfferByExternalID(ctx, "D-1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.Price)
}

// stubReconciler fails the listed ids and succeeds for everything else.
type stubReconciler struct {
	fail  map[string]bool
	calls []string
}

func (s *stubReconciler) Reconcile(_ context.Context, raw *models.RawOffer, _ layout.Classification) (*ReconcileResult, error) {
	s.calls = append(s.calls, raw.ExternalID)
	if s.fail[raw.ExternalID] {
		return nil, &ReconcileError{ExternalID: raw.ExternalID, Err: errors.New("connection reset")}
	}
	return &ReconcileResult{Created: true}, nil
}

func TestImportFeed_ContinuesAfterEveryFailure(t *testing.T) {
	stub := &stubReconciler{fail: map[string]bool{"F-0001": true, "F-0004": true}}
	importer := NewFeedImporter(feed.NewParser(), stub, 0)

	result, stats, err := importer.ImportFeedWithStats(context.Background(),
		strings.NewReader(feedXML(offerIDs(5), nil)), nil)
	require.NoError(t, err)
	assert.Equal(t, offerIDs(5), stub.calls)
	assert.Equal(t, 3, result.Imported)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, []string{"offer F-0001: connection reset", "offer F-0004: connection reset"}, result.Errors)
	assert.Equal(t, 2, stats.Errors)
	assert.Equal(t, 3, stats.OffersProcessed)
}

func TestImportStats_ToJSON(t *testing.T) {
	stats := &ImportStats{}
	stats.Aggregate(&ReconcileResult{DistrictCreated: true, Images: 2}, layout.Classification{IsEuroLayout: true})
	stats.Aggregate(&ReconcileResult{ComplexCreated: true, Images: 1}, layout.Classification{})

	assert.JSONEq(t, `{
		"offers_processed": 2, "districts_created": 1, "complexes_created": 1, "images": 3,
		"euro_layouts": 1, "duplicates": 0, "parse_errors": 0, "errors": 0
	}`, string(stats.ToJSON()))
}
