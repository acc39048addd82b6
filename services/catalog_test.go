package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"realty_ingest/layout"
	"realty_ingest/models"
)

func classify(o *models.RawOffer) layout.Classification {
	return layout.Classify(o.Rooms, o.AreaTotal, o.AreaLiving, o.AreaKitchen, o.Description)
}

func TestReconcile_CreatesOfferAndReferences(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewCatalogService(store)

	raw := rawOffer("R-1")
	res, err := svc.Reconcile(ctx, raw, classify(raw))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, res.DistrictCreated)
	assert.True(t, res.ComplexCreated)
	assert.Equal(t, 3, res.Images)

	got, err := store.GetOfferByExternalID(ctx, "R-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, res.OfferID, got.ID)
	assert.Equal(t, int64(12_000_000), got.Price)
	assert.Equal(t, "2", got.RoomType)
	assert.False(t, got.IsEuroLayout)
	assert.InDelta(t, 0.7, got.LayoutConfidence, 1e-9)
	assert.True(t, got.IsActive)
	assert.NotNil(t, got.DistrictID)
	assert.NotNil(t, got.ComplexID)
	assert.Equal(t, "+7 495 111-11-11", got.ContactPhone)
	assert.Empty(t, got.ContactEmail)

	var stations []models.TransitStation
	require.NoError(t, json.Unmarshal(got.Stations, &stations))
	require.Len(t, stations, 1)
	assert.Equal(t, "Баррикадная", stations[0].Name)
}

func TestReconcile_IdempotentUpsert(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewCatalogService(store)
	svc.now = steppingClock(time.Second)

	raw := rawOffer("R-1")
	first, err := svc.Reconcile(ctx, raw, classify(raw))
	require.NoError(t, err)
	before, err := store.GetOfferByExternalID(ctx, "R-1")
	require.NoError(t, err)

	second, err := svc.Reconcile(ctx, raw, classify(raw))
	require.NoError(t, err)
	after, err := store.GetOfferByExternalID(ctx, "R-1")
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.False(t, second.DistrictCreated)
	assert.False(t, second.ComplexCreated)
	assert.Equal(t, first.OfferID, second.OfferID)

	assert.Equal(t, 1, countRows(t, store, "catalog_offers"))
	assert.Equal(t, 1, countRows(t, store, "districts"))
	assert.Equal(t, 1, countRows(t, store, "building_complexes"))

	assert.True(t, after.UpdatedAt.After(before.UpdatedAt), "updated_at %v should be after %v", after.UpdatedAt, before.UpdatedAt)
	assert.True(t, after.CreatedAt.Equal(before.CreatedAt))
}

func TestReconcile_UpdateOverwritesAndReactivates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewCatalogService(store)

	raw := rawOffer("R-1")
	_, err := svc.Reconcile(ctx, raw, classify(raw))
	require.NoError(t, err)
	_, err = store.DB().Exec(`UPDATE catalog_offers SET is_active = FALSE`)
	require.NoError(t, err)

	raw.Price = 11_500_000
	raw.Description = "Евро-планировка, кухня-гостиная"
	raw.Contact = nil
	raw.District = nil
	_, err = svc.Reconcile(ctx, raw, classify(raw))
	require.NoError(t, err)

	got, err := store.GetOfferByExternalID(ctx, "R-1")
	require.NoError(t, err)
	assert.Equal(t, int64(11_500_000), got.Price)
	assert.True(t, got.IsActive)
	assert.True(t, got.IsEuroLayout)
	assert.Equal(t, "euro2", got.RoomType)
	assert.Empty(t, got.ContactPhone)
	assert.Nil(t, got.DistrictID)
}

func TestReconcile_ReplacesImages(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewCatalogService(store)

	raw := rawOffer("R-1")
	res, err := svc.Reconcile(ctx, raw, classify(raw))
	require.NoError(t, err)

	images, err := store.GetOfferImages(ctx, res.OfferID)
	require.NoError(t, err)
	require.Len(t, images, 3)
	assert.Equal(t, 0, images[0].DisplayOrder)
	require.NotNil(t, images[0].Tag)
	assert.Equal(t, models.ImageTagPlan, *images[0].Tag)
	assert.Nil(t, images[1].Tag)

	raw.Images = []models.Image{{URL: "https://cdn.example.ru/R-1/new.jpg", Tag: models.ImageTagFloorPlan}}
	_, err = svc.Reconcile(ctx, raw, classify(raw))
	require.NoError(t, err)

	images, err = store.GetOfferImages(ctx, res.OfferID)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "https://cdn.example.ru/R-1/new.jpg", images[0].URL)
	assert.Equal(t, 0, images[0].DisplayOrder)
	assert.Equal(t, 1, countRows(t, store, "offer_images"))
}

func TestReconcile_ReusesReferenceEntities(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewCatalogService(store)

	a := rawOffer("R-1")
	b := rawOffer("R-2")
	b.District = strPtr("  Пресненский ")
	b.BuildingName = "ЖК  Парковый"
	c := rawOffer("R-3")
	c.Address = "ул. Садовая, 7"

	for _, o := range []*models.RawOffer{a, b, c} {
		_, err := svc.Reconcile(ctx, o, classify(o))
		require.NoError(t, err)
	}

	assert.Equal(t, 1, countRows(t, store, "districts"))
	// same complex name at a different address is a different complex
	assert.Equal(t, 2, countRows(t, store, "building_complexes"))

	ra, _ := store.GetOfferByExternalID(ctx, "R-1")
	rb, _ := store.GetOfferByExternalID(ctx, "R-2")
	rc, _ := store.GetOfferByExternalID(ctx, "R-3")
	assert.Equal(t, *ra.ComplexID, *rb.ComplexID)
	assert.NotEqual(t, *ra.ComplexID, *rc.ComplexID)
	assert.Equal(t, *ra.DistrictID, *rc.DistrictID)
}

func TestReconcile_NoDistrictOrComplex(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewCatalogService(store)

	raw := rawOffer("R-1")
	raw.District = strPtr("   ")
	raw.BuildingName = ""
	res, err := svc.Reconcile(ctx, raw, classify(raw))
	require.NoError(t, err)
	assert.False(t, res.DistrictCreated)
	assert.False(t, res.ComplexCreated)
	assert.Equal(t, 0, countRows(t, store, "districts"))
	assert.Equal(t, 0, countRows(t, store, "building_complexes"))
}

func TestReconcile_FailureRollsBackWholeOffer(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewCatalogService(store)
	rejectImages(t, store, "broken")

	raw := rawOffer("R-1")
	raw.District = strPtr("Тверской")
	raw.Images = append(raw.Images, models.Image{URL: "https://cdn.example.ru/broken.jpg"})

	res, err := svc.Reconcile(ctx, raw, classify(raw))
	require.Error(t, err)
	assert.Nil(t, res)

	var recErr *ReconcileError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, "R-1", recErr.ExternalID)
	assert.Contains(t, err.Error(), "image rejected")

	assert.Equal(t, 0, countRows(t, store, "catalog_offers"))
	assert.Equal(t, 0, countRows(t, store, "offer_images"))
	assert.Equal(t, 0, countRows(t, store, "districts"))
	assert.Equal(t, 0, countRows(t, store, "building_complexes"))
}

func TestReconcile_FailedUpdateKeepsPreviousState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewCatalogService(store)

	raw := rawOffer("R-1")
	_, err := svc.Reconcile(ctx, raw, classify(raw))
	require.NoError(t, err)

	rejectImages(t, store, "broken")
	raw.Price = 1
	raw.Images = []models.Image{{URL: "https://cdn.example.ru/broken.jpg"}}
	_, err = svc.Reconcile(ctx, raw, classify(raw))
	require.Error(t, err)

	got, err := store.GetOfferByExternalID(ctx, "R-1")
	require.NoError(t, err)
	assert.Equal(t, int64(12_000_000), got.Price)
	assert.Equal(t, 3, countRows(t, store, "offer_images"))
}
