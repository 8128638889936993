package operator

import (
	"fmt"
	"strconv"
	"strings"
)

var distanceUnits = map[string]float64{
	"":           1,
	"m":          1,
	"meter":      1,
	"meters":     1,
	"mm":         0.001,
	"cm":         0.01,
	"km":         1000,
	"kilometer":  1000,
	"kilometers": 1000,
	"in":         0.0254,
	"inch":       0.0254,
	"ft":         0.3048,
	"feet":       0.3048,
	"yd":         0.9144,
	"yards":      0.9144,
	"mi":         1609.344,
	"miles":      1609.344,
	"nm":         1852,
	"nmi":        1852,
}

// ParseDistance converts a distance to meters. Numbers are meters; strings
// may carry a unit suffix ("500m", "1.5 km", "3mi").
func ParseDistance(v interface{}) (float64, error) {
	if f, ok := toFloat(v); ok {
		if f < 0 {
			return 0, fmt.Errorf("%w: %v is negative", ErrInvalidDistance, f)
		}
		return f, nil
	}

	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("%w: expected a number or a string, got %T", ErrInvalidDistance, v)
	}
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '.' || (end == 0 && (s[end] == '-' || s[end] == '+'))) {
		end++
	}
	value, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDistance, s)
	}
	factor, ok := distanceUnits[strings.ToLower(strings.TrimSpace(s[end:]))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown unit in %q", ErrInvalidDistance, s)
	}
	if value < 0 {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidDistance, s)
	}
	return value * factor, nil
}
