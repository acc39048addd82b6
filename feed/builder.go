package feed

import (
	"net/url"

	"realty_ingest/models"
)

var knownImageTags = map[string]bool{
	models.ImageTagPlan:          true,
	models.ImageTagHouseMain:     true,
	models.ImageTagFloorPlan:     true,
	models.ImageTagComplexScheme: true,
}

// offerBuilder accumulates one offer element. It lives exactly as long as the
// element and is owned by the parse loop.
type offerBuilder struct {
	offer    models.RawOffer
	contact  models.Contact
	imageTag string
	station  *models.TransitStation
}

func newOfferBuilder(externalID string) *offerBuilder {
	return &offerBuilder{offer: models.RawOffer{ExternalID: externalID}}
}

func (b *offerBuilder) addImage(rawURL string) {
	tag := b.imageTag
	b.imageTag = ""

	if !isAbsoluteURL(rawURL) {
		return
	}
	if !knownImageTags[tag] {
		tag = ""
	}
	b.offer.Images = append(b.offer.Images, models.Image{URL: rawURL, Tag: tag})
}

func (b *offerBuilder) closeStation() {
	st := b.station
	b.station = nil
	if st == nil || st.Name == "" {
		return
	}
	b.offer.Stations = append(b.offer.Stations, *st)
}

func (b *offerBuilder) build(cleanDescription bool) *models.RawOffer {
	o := b.offer

	if o.Type == "" {
		o.Type = models.DefaultOfferType
	}
	if o.PropertyType == "" {
		o.PropertyType = models.DefaultPropertyType
	}
	if o.Category == "" {
		o.Category = models.DefaultCategory
	}
	if o.IsStudio {
		o.Rooms = 0
	}
	if b.contact != (models.Contact{}) {
		c := b.contact
		o.Contact = &c
	}
	if cleanDescription {
		o.Description = CleanDescription(o.Description)
	}
	return &o
}

func isAbsoluteURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}
