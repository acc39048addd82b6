package services

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"realty_ingest/models"
	"realty_ingest/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// steppingClock returns a clock that advances by step on every call.
func steppingClock(step time.Duration) func() time.Time {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		now = now.Add(step)
		return now
	}
}

// rejectImages makes SQLite refuse any image whose URL contains marker.
func rejectImages(t *testing.T, store *storage.SQLiteStore, marker string) {
	t.Helper()
	_, err := store.DB().Exec(fmt.Sprintf(`
		CREATE TRIGGER reject_images BEFORE INSERT ON offer_images
		WHEN NEW.url LIKE '%%%s%%'
		BEGIN SELECT RAISE(ABORT, 'image rejected'); END;`, marker))
	require.NoError(t, err)
}

func countRows(t *testing.T, store *storage.SQLiteStore, table string) int {
	t.Helper()
	var n int
	require.NoError(t, store.DB().Get(&n, "SELECT COUNT(*) FROM "+table))
	return n
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func rawOffer(id string) *models.RawOffer {
	return &models.RawOffer{
		ExternalID:   id,
		Type:         models.DefaultOfferType,
		PropertyType: models.DefaultPropertyType,
		Category:     models.DefaultCategory,
		Rooms:        2,
		Floor:        4,
		FloorsTotal:  9,
		AreaTotal:    54,
		AreaLiving:   floatPtr(30),
		AreaKitchen:  floatPtr(9),
		Price:        12_000_000,
		BuildingName: "ЖК Парковый",
		Address:      "ул. Садовая, 5",
		District:     strPtr("Пресненский"),
		Images: []models.Image{
			{URL: "https://cdn.example.ru/" + id + "/plan.png", Tag: models.ImageTagPlan},
			{URL: "https://cdn.example.ru/" + id + "/1.jpg"},
			{URL: "https://cdn.example.ru/" + id + "/house.jpg", Tag: models.ImageTagHouseMain},
		},
		Stations: []models.TransitStation{{Name: "Баррикадная"}},
		Contact:  &models.Contact{Phone: "+7 495 111-11-11"},
	}
}

// feedXML renders offers in the feed's markup; extra is spliced into each offer body.
func feedXML(ids []string, extra func(id string) string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><realty-feed>`)
	for i, id := range ids {
		fmt.Fprintf(&b, `<offer internal-id="%s">
			<location><address>ул. Тестовая, %d</address><sub-locality-name>Арбат</sub-locality-name></location>
			<price><value>%d</value></price>
			<area><value>45</value></area>
			<rooms>1</rooms>
			<image tag="plan">https://cdn.example.ru/%s/plan.png</image>`, id, i+1, 5_000_000+i, id)
		if extra != nil {
			b.WriteString(extra(id))
		}
		b.WriteString(`</offer>`)
	}
	b.WriteString(`</realty-feed>`)
	return b.String()
}

func offerIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("F-%04d", i+1)
	}
	return ids
}
