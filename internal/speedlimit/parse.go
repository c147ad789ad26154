package speedlimit

import (
	"math"
	"strconv"
	"strings"
)

const mphToKmh = 1.60934

// ParseMaxSpeed reads an OSM-style maxspeed tag. Bare numbers are km/h and an
// "mph" suffix is converted. Multi-valued tags ("50;30") yield the first
// usable value. Symbolic values such as "none", "walk" or "DE:urban" are not
// usable.
func ParseMaxSpeed(tag string) (int, bool) {
	for _, part := range strings.Split(tag, ";") {
		if v, ok := parseSpeed(part); ok {
			return v, true
		}
	}
	return 0, false
}

func parseSpeed(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	factor := 1.0

	switch {
	case strings.HasSuffix(s, "mph"):
		s = strings.TrimSuffix(s, "mph")
		factor = mphToKmh
	case strings.HasSuffix(s, "km/h"):
		s = strings.TrimSuffix(s, "km/h")
	case strings.HasSuffix(s, "kmh"):
		s = strings.TrimSuffix(s, "kmh")
	case strings.HasSuffix(s, "kph"):
		s = strings.TrimSuffix(s, "kph")
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return 0, false
	}
	return int(math.Round(n * factor)), true
}
