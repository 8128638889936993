package operator

import "errors"

var (
	// ErrInvalidGeoCoordinates is returned when a point, box or polygon cannot be parsed
	ErrInvalidGeoCoordinates = errors.New("unparsable geo coordinates")
	// ErrInvalidDistance is returned when a distance is negative or has an unknown unit
	ErrInvalidDistance = errors.New("invalid distance")
	// ErrInvalidPattern is returned when a regular expression or its flags are malformed
	ErrInvalidPattern = errors.New("invalid regular expression")
	// ErrInvalidScript is returned when a CEL expression fails to compile
	ErrInvalidScript = errors.New("invalid script")
)
