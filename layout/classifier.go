// Package layout infers the room-layout category of an offer from its areas
// and description. The feed never states it directly.
package layout

import "strings"

type RoomType string

const (
	RoomTypeStudio RoomType = "studio"
	RoomType1      RoomType = "1"
	RoomType2      RoomType = "2"
	RoomType3      RoomType = "3"
	RoomTypeEuro1  RoomType = "euro1"
	RoomTypeEuro2  RoomType = "euro2"
	RoomTypeEuro3  RoomType = "euro3"
	RoomType4Plus  RoomType = "4+"
)

// Classification is the inferred layout of one offer.
type Classification struct {
	IsEuroLayout bool     `json:"is_euro_layout"`
	RoomType     RoomType `json:"room_type"`
	Confidence   float64  `json:"confidence"`
	Reason       string   `json:"reason"`
}

const (
	largeKitchenArea      = 12.0
	kitchenToLivingRatio  = 0.5
	livingToTotalRatioMax = 0.5
)

var euroKeywords = []string{
	"евро",
	"кухня-гостиная",
	"кухней-гостиной",
	"кухни-гостиной",
	"европланировка",
	"евро-планировка",
}

// Classify applies the layout heuristics in order; the first match wins.
// It never fails: with nothing to go on the offer is a standard layout.
func Classify(rooms int, areaTotal float64, areaLiving, areaKitchen *float64, description string) Classification {
	euro, confidence, reason := detect(rooms, areaTotal, areaLiving, areaKitchen, description)
	return Classification{
		IsEuroLayout: euro,
		RoomType:     roomType(rooms, euro),
		Confidence:   confidence,
		Reason:       reason,
	}
}

func detect(rooms int, areaTotal float64, areaLiving, areaKitchen *float64, description string) (bool, float64, string) {
	if areaKitchen != nil && *areaKitchen > largeKitchenArea {
		if areaLiving == nil || *areaLiving <= 0 || *areaKitchen / *areaLiving > kitchenToLivingRatio {
			return true, 0.8, "large kitchen + high kitchen/living ratio"
		}
	}

	if hasEuroKeyword(description) {
		return true, 0.9, "keyword match in description"
	}

	if areaLiving != nil && *areaLiving > 0 && areaTotal > 0 && rooms > 0 {
		if *areaLiving/areaTotal < livingToTotalRatioMax {
			return true, 0.6, "low living/total ratio"
		}
	}

	return false, 0.7, "no euro criteria matched"
}

// euroNonLayout removes "евро" words about finishing rather than layout.
var euroNonLayout = strings.NewReplacer(
	"евроремонт", "",
	"евроокн", "",
	"евродвер", "",
)

func hasEuroKeyword(description string) bool {
	if description == "" {
		return false
	}
	text := euroNonLayout.Replace(strings.ToLower(description))
	for _, kw := range euroKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func roomType(rooms int, euro bool) RoomType {
	switch {
	case rooms <= 0:
		return RoomTypeStudio
	case rooms >= 4:
		return RoomType4Plus
	}
	if euro {
		return [...]RoomType{RoomTypeEuro1, RoomTypeEuro2, RoomTypeEuro3}[rooms-1]
	}
	return [...]RoomType{RoomType1, RoomType2, RoomType3}[rooms-1]
}
