package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"realty_ingest/models"
)

// ErrConflict is returned when a write violates a unique constraint.
var ErrConflict = errors.New("unique constraint violated")

// CatalogTx is the set of catalog operations available inside one unit of work.
// Find* methods return nil, nil when nothing matches.
type CatalogTx interface {
	FindDistrictByName(ctx context.Context, name string) (*models.District, error)
	CreateDistrict(ctx context.Context, d *models.District) error

	FindBuildingComplex(ctx context.Context, name, address string) (*models.BuildingComplex, error)
	CreateBuildingComplex(ctx context.Context, c *models.BuildingComplex) error

	GetOfferByExternalID(ctx context.Context, externalID string) (*models.CatalogOffer, error)
	InsertOffer(ctx context.Context, o *models.CatalogOffer) error
	UpdateOffer(ctx context.Context, o *models.CatalogOffer) error

	DeleteOfferImages(ctx context.Context, offerID uuid.UUID) error
	InsertOfferImage(ctx context.Context, img *models.OfferImage) error
}

// CatalogStore is the relational store the importer reconciles into.
type CatalogStore interface {
	// WithTx runs fn in a transaction. It commits when fn returns nil and
	// rolls back on any error or panic.
	WithTx(ctx context.Context, fn func(tx CatalogTx) error) error

	// DeactivateStaleOffers clears is_active on offers not updated since cutoff.
	DeactivateStaleOffers(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunLedger records import runs.
type RunLedger interface {
	CreateImportRun(ctx context.Context, run *models.ImportRun) error
	UpdateImportRun(ctx context.Context, run *models.ImportRun) error
}
