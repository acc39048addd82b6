package feed

// setter routes the trimmed text of a closed leaf element into the offer.
type setter func(b *offerBuilder, text string)

// fieldKey identifies a leaf by its own name and its parent's name. The same
// tag means different things in different places: <value> under <price> is
// the price, under <kitchen-space> it is the kitchen area.
type fieldKey struct {
	tag    string
	parent string
}

var fields = map[fieldKey]setter{
	{"type", offerTag}:          func(b *offerBuilder, v string) { b.offer.Type = v },
	{"property-type", offerTag}: func(b *offerBuilder, v string) { b.offer.PropertyType = v },
	{"category", offerTag}:      func(b *offerBuilder, v string) { b.offer.Category = v },

	{"rooms", offerTag}:        func(b *offerBuilder, v string) { b.offer.Rooms = parseInt(v) },
	{"studio", offerTag}:       func(b *offerBuilder, v string) { b.offer.IsStudio = parseBool(v) },
	{"floor", offerTag}:        func(b *offerBuilder, v string) { b.offer.Floor = parseInt(v) },
	{"floors-total", offerTag}: func(b *offerBuilder, v string) { b.offer.FloorsTotal = parseInt(v) },

	{"value", "area"}:          func(b *offerBuilder, v string) { b.offer.AreaTotal = parseFloat(v) },
	{"value", "living-space"}:  func(b *offerBuilder, v string) { b.offer.AreaLiving = parseOptFloat(v) },
	{"value", "kitchen-space"}: func(b *offerBuilder, v string) { b.offer.AreaKitchen = parseOptFloat(v) },
	{"value", "price"}:         func(b *offerBuilder, v string) { b.offer.Price = parsePrice(v) },
	{"price", offerTag}:        func(b *offerBuilder, v string) { b.offer.Price = parsePrice(v) },

	{"ceiling-height", offerTag}:  func(b *offerBuilder, v string) { b.offer.CeilingHeight = parseOptFloat(v) },
	{"value", "ceiling-height"}:   func(b *offerBuilder, v string) { b.offer.CeilingHeight = parseOptFloat(v) },
	{"building-name", offerTag}:   func(b *offerBuilder, v string) { b.offer.BuildingName = v },
	{"building-type", offerTag}:   func(b *offerBuilder, v string) { b.offer.BuildingType = v },
	{"building-state", offerTag}:  func(b *offerBuilder, v string) { b.offer.BuildingState = v },
	{"built-year", offerTag}:      func(b *offerBuilder, v string) { b.offer.BuiltYear = parseOptInt(v) },
	{"ready-quarter", offerTag}:   func(b *offerBuilder, v string) { b.offer.ReadyQuarter = parseOptInt(v) },
	{"description", offerTag}:     func(b *offerBuilder, v string) { b.offer.Description = v },

	{"address", "location"}:           func(b *offerBuilder, v string) { b.offer.Address = v },
	{"sub-locality-name", "location"}: func(b *offerBuilder, v string) { b.offer.District = &v },
	{"district", "location"}:          func(b *offerBuilder, v string) { b.offer.District = &v },
	{"latitude", "location"}:          func(b *offerBuilder, v string) { b.offer.Latitude = parseOptFloat(v) },
	{"longitude", "location"}:         func(b *offerBuilder, v string) { b.offer.Longitude = parseOptFloat(v) },

	{"name", "metro"}: func(b *offerBuilder, v string) {
		if b.station != nil {
			b.station.Name = v
		}
	},
	{"time-on-foot", "metro"}: func(b *offerBuilder, v string) {
		if b.station != nil {
			b.station.WalkMinutes = parseOptInt(v)
		}
	},
	{"time-on-transport", "metro"}: func(b *offerBuilder, v string) {
		if b.station != nil {
			b.station.TransitMinutes = parseOptInt(v)
		}
	},

	{"phone", "sales-agent"}:        func(b *offerBuilder, v string) { b.contact.Phone = v },
	{"email", "sales-agent"}:        func(b *offerBuilder, v string) { b.contact.Email = v },
	{"organization", "sales-agent"}: func(b *offerBuilder, v string) { b.contact.Organization = v },
}

func lookup(tag, parent string) setter {
	return fields[fieldKey{tag: tag, parent: parent}]
}
