package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// District is a deduplicated city district, keyed by name.
type District struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// BuildingComplex is a residential complex, keyed by (name, address).
type BuildingComplex struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	Address    string     `json:"address" db:"address"`
	DistrictID *uuid.UUID `json:"district_id" db:"district_id"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// CatalogOffer is the persisted, normalized form of a feed offer
type CatalogOffer struct {
	ID           uuid.UUID `json:"id" db:"id"`
	ExternalID   string    `json:"external_id" db:"external_id"`
	Type         string    `json:"type" db:"type"`
	PropertyType string    `json:"property_type" db:"property_type"`
	Category     string    `json:"category" db:"category"`

	Rooms         int      `json:"rooms" db:"rooms"`
	IsStudio      bool     `json:"is_studio" db:"is_studio"`
	Floor         int      `json:"floor" db:"floor"`
	FloorsTotal   int      `json:"floors_total" db:"floors_total"`
	AreaTotal     float64  `json:"area_total" db:"area_total"`
	AreaLiving    *float64 `json:"area_living" db:"area_living"`
	AreaKitchen   *float64 `json:"area_kitchen" db:"area_kitchen"`
	CeilingHeight *float64 `json:"ceiling_height" db:"ceiling_height"`

	Price int64 `json:"price" db:"price"`

	BuildingName  string `json:"building_name" db:"building_name"`
	BuildingType  string `json:"building_type" db:"building_type"`
	BuildingState string `json:"building_state" db:"building_state"`
	BuiltYear     *int   `json:"built_year" db:"built_year"`
	ReadyQuarter  *int   `json:"ready_quarter" db:"ready_quarter"`

	Address   string   `json:"address" db:"address"`
	Latitude  *float64 `json:"latitude" db:"latitude"`
	Longitude *float64 `json:"longitude" db:"longitude"`

	DistrictID *uuid.UUID `json:"district_id" db:"district_id"`
	ComplexID  *uuid.UUID `json:"complex_id" db:"complex_id"`

	// Layout inferred at import time
	RoomType         string  `json:"room_type" db:"room_type"`
	IsEuroLayout     bool    `json:"is_euro_layout" db:"is_euro_layout"`
	LayoutConfidence float64 `json:"layout_confidence" db:"layout_confidence"`
	LayoutReason     string  `json:"layout_reason" db:"layout_reason"`

	ContactPhone        string          `json:"contact_phone" db:"contact_phone"`
	ContactEmail        string          `json:"contact_email" db:"contact_email"`
	ContactOrganization string          `json:"contact_organization" db:"contact_organization"`
	Stations            json.RawMessage `json:"stations" db:"stations"`
	Description         string          `json:"description" db:"description"`

	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// OfferImage links an image URL to a catalog offer, ordered by DisplayOrder.
type OfferImage struct {
	ID           int64     `json:"id" db:"id"`
	OfferID      uuid.UUID `json:"offer_id" db:"offer_id"`
	URL          string    `json:"url" db:"url"`
	Tag          *string   `json:"tag" db:"tag"`
	DisplayOrder int       `json:"display_order" db:"display_order"`
}
