package models

// Image tags recognised in the feed. Anything else is stored without a tag.
const (
	ImageTagPlan          = "plan"
	ImageTagHouseMain     = "housemain"
	ImageTagFloorPlan     = "floorplan"
	ImageTagComplexScheme = "complexscheme"
)

// Feed vocabulary defaults applied when an offer omits its classification.
const (
	DefaultOfferType    = "продажа"
	DefaultPropertyType = "жилая"
	DefaultCategory     = "квартира"
)

// RawOffer is one listing as extracted from the feed, before normalization.
type RawOffer struct {
	ExternalID   string `json:"external_id"`
	Type         string `json:"type"`
	PropertyType string `json:"property_type"`
	Category     string `json:"category"`

	Rooms         int      `json:"rooms"` // 0 = studio
	IsStudio      bool     `json:"is_studio"`
	Floor         int      `json:"floor"`
	FloorsTotal   int      `json:"floors_total"`
	AreaTotal     float64  `json:"area_total"`
	AreaLiving    *float64 `json:"area_living"`
	AreaKitchen   *float64 `json:"area_kitchen"`
	CeilingHeight *float64 `json:"ceiling_height"`

	Price int64 `json:"price"`

	BuildingName  string `json:"building_name"`
	BuildingType  string `json:"building_type"`
	BuildingState string `json:"building_state"`
	BuiltYear     *int   `json:"built_year"`
	ReadyQuarter  *int   `json:"ready_quarter"`

	Address   string   `json:"address"`
	District  *string  `json:"district"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`

	Images   []Image          `json:"images"`
	Stations []TransitStation `json:"stations"`
	Contact  *Contact         `json:"contact"`

	Description string `json:"description"`
}

// Image is a feed image reference. Tag is empty when the feed gave none.
type Image struct {
	URL string `json:"url"`
	Tag string `json:"tag,omitempty"`
}

// TransitStation is a nearby metro station with travel times in minutes.
type TransitStation struct {
	Name           string `json:"name"`
	WalkMinutes    *int   `json:"walk_minutes"`
	TransitMinutes *int   `json:"transit_minutes"`
}

// Contact is the sales agent block of an offer.
type Contact struct {
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	Organization string `json:"organization"`
}

// FirstImage returns the first image with the given tag in document order.
func (o *RawOffer) FirstImage(tag string) (Image, bool) {
	for _, img := range o.Images {
		if img.Tag == tag {
			return img, true
		}
	}
	return Image{}, false
}

// IsComplete reports whether the offer carries the fields required to be imported.
func (o *RawOffer) IsComplete() bool {
	return o.ExternalID != "" && o.Address != "" && o.Price > 0
}
