package feed

import (
	"math"
	"strconv"
	"strings"
)

// Numeric fields fail soft: text that does not parse yields the zero value for
// required fields and nil for optional ones.

var numberCleaner = strings.NewReplacer(
	" ", "",
	"\u00a0", "",
	"\u2009", "",
	"\u202f", "",
	",", ".",
)

func toFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(numberCleaner.Replace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toInt(s string) (int, bool) {
	clean := numberCleaner.Replace(s)
	if n, err := strconv.Atoi(clean); err == nil {
		return n, true
	}
	f, ok := toFloat(clean)
	if !ok || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(math.Round(f)), true
}

func parseInt(s string) int {
	n, _ := toInt(s)
	return n
}

func parseOptInt(s string) *int {
	n, ok := toInt(s)
	if !ok {
		return nil
	}
	return &n
}

func parseFloat(s string) float64 {
	f, _ := toFloat(s)
	return f
}

func parseOptFloat(s string) *float64 {
	f, ok := toFloat(s)
	if !ok {
		return nil
	}
	return &f
}

func parsePrice(s string) int64 {
	f, ok := toFloat(s)
	if !ok || f <= 0 || f > math.MaxInt64 {
		return 0
	}
	return int64(math.Round(f))
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "да", "+":
		return true
	}
	return false
}
