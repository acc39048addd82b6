package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"realty_ingest/identity"
	"realty_ingest/layout"
	"realty_ingest/models"
	"realty_ingest/storage"
)

// CatalogService merges parsed offers into the catalog, one transaction per offer.
type CatalogService struct {
	store storage.CatalogStore
	now   func() time.Time
}

func NewCatalogService(store storage.CatalogStore) *CatalogService {
	return &CatalogService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ReconcileResult is the outcome of reconciling one offer.
type ReconcileResult struct {
	OfferID         uuid.UUID
	Created         bool
	DistrictCreated bool
	ComplexCreated  bool
	Images          int
}

// ReconcileError reports a failed offer. Nothing of that offer was written.
type ReconcileError struct {
	ExternalID string
	Err        error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("offer %s: %v", e.ExternalID, e.Err)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// Reconcile resolves the offer's district and complex, upserts the offer by
// external id and replaces its images. Either all of it commits or none of it.
func (s *CatalogService) Reconcile(ctx context.Context, raw *models.RawOffer, cls layout.Classification) (*ReconcileResult, error) {
	result := &ReconcileResult{}
	now := s.now()

	err := s.store.WithTx(ctx, func(tx storage.CatalogTx) error {
		// 1. District
		var districtID *uuid.UUID
		if raw.District != nil {
			if name := identity.CleanName(*raw.District); name != "" {
				id, created, err := findOrCreateDistrict(ctx, tx, name, now)
				if err != nil {
					return err
				}
				districtID = &id
				result.DistrictCreated = created
			}
		}

		// 2. Building complex
		var complexID *uuid.UUID
		if name := identity.CleanName(raw.BuildingName); name != "" {
			id, created, err := findOrCreateComplex(ctx, tx, name, identity.CleanAddress(raw.Address), districtID, now)
			if err != nil {
				return err
			}
			complexID = &id
			result.ComplexCreated = created
		}

		// 3. Offer
		offer, err := buildCatalogOffer(raw, cls, districtID, complexID, now)
		if err != nil {
			return err
		}

		existing, err := tx.GetOfferByExternalID(ctx, raw.ExternalID)
		if err != nil {
			return fmt.Errorf("get offer: %w", err)
		}
		if existing == nil {
			offer.ID = uuid.New()
			offer.CreatedAt = now
			if err := tx.InsertOffer(ctx, offer); err != nil {
				return fmt.Errorf("insert offer: %w", err)
			}
			result.Created = true
		} else {
			offer.ID = existing.ID
			offer.CreatedAt = existing.CreatedAt
			if err := tx.UpdateOffer(ctx, offer); err != nil {
				return fmt.Errorf("update offer: %w", err)
			}
		}
		result.OfferID = offer.ID

		// 4. Images, fully replaced
		if err := tx.DeleteOfferImages(ctx, offer.ID); err != nil {
			return fmt.Errorf("delete images: %w", err)
		}
		for i, img := range raw.Images {
			row := &models.OfferImage{
				OfferID:      offer.ID,
				URL:          img.URL,
				Tag:          stringPtr(img.Tag),
				DisplayOrder: i,
			}
			if err := tx.InsertOfferImage(ctx, row); err != nil {
				return fmt.Errorf("insert image %d: %w", i, err)
			}
		}
		result.Images = len(raw.Images)
		return nil
	})
	if err != nil {
		return nil, &ReconcileError{ExternalID: raw.ExternalID, Err: err}
	}
	return result, nil
}

func findOrCreateDistrict(ctx context.Context, tx storage.CatalogTx, name string, now time.Time) (uuid.UUID, bool, error) {
	d, err := tx.FindDistrictByName(ctx, name)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("find district: %w", err)
	}
	if d != nil {
		return d.ID, false, nil
	}

	d = &models.District{ID: uuid.New(), Name: name, CreatedAt: now}
	if err := tx.CreateDistrict(ctx, d); err != nil {
		return uuid.Nil, false, fmt.Errorf("create district %q: %w", name, err)
	}
	return d.ID, true, nil
}

func findOrCreateComplex(ctx context.Context, tx storage.CatalogTx, name, address string, districtID *uuid.UUID, now time.Time) (uuid.UUID, bool, error) {
	c, err := tx.FindBuildingComplex(ctx, name, address)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("find building complex: %w", err)
	}
	if c != nil {
		return c.ID, false, nil
	}

	c = &models.BuildingComplex{
		ID:         uuid.New(),
		Name:       name,
		Address:    address,
		DistrictID: districtID,
		CreatedAt:  now,
	}
	if err := tx.CreateBuildingComplex(ctx, c); err != nil {
		return uuid.Nil, false, fmt.Errorf("create building complex %q: %w", name, err)
	}
	return c.ID, true, nil
}

// buildCatalogOffer maps every mutable column. ID and CreatedAt are set by the caller.
func buildCatalogOffer(raw *models.RawOffer, cls layout.Classification, districtID, complexID *uuid.UUID, now time.Time) (*models.CatalogOffer, error) {
	stations := raw.Stations
	if stations == nil {
		stations = []models.TransitStation{}
	}
	stationsJSON, err := json.Marshal(stations)
	if err != nil {
		return nil, fmt.Errorf("marshal stations: %w", err)
	}

	offer := &models.CatalogOffer{
		ExternalID:   raw.ExternalID,
		Type:         raw.Type,
		PropertyType: raw.PropertyType,
		Category:     raw.Category,

		Rooms:         raw.Rooms,
		IsStudio:      raw.IsStudio,
		Floor:         raw.Floor,
		FloorsTotal:   raw.FloorsTotal,
		AreaTotal:     raw.AreaTotal,
		AreaLiving:    raw.AreaLiving,
		AreaKitchen:   raw.AreaKitchen,
		CeilingHeight: raw.CeilingHeight,

		Price: raw.Price,

		BuildingName:  raw.BuildingName,
		BuildingType:  raw.BuildingType,
		BuildingState: raw.BuildingState,
		BuiltYear:     raw.BuiltYear,
		ReadyQuarter:  raw.ReadyQuarter,

		Address:   raw.Address,
		Latitude:  raw.Latitude,
		Longitude: raw.Longitude,

		DistrictID: districtID,
		ComplexID:  complexID,

		RoomType:         string(cls.RoomType),
		IsEuroLayout:     cls.IsEuroLayout,
		LayoutConfidence: cls.Confidence,
		LayoutReason:     cls.Reason,

		Stations:    stationsJSON,
		Description: raw.Description,

		IsActive:  true,
		UpdatedAt: now,
	}
	if raw.Contact != nil {
		offer.ContactPhone = raw.Contact.Phone
		offer.ContactEmail = raw.Contact.Email
		offer.ContactOrganization = raw.Contact.Organization
	}
	return offer, nil
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
