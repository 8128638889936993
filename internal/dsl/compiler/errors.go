package compiler

import (
	"errors"

	"github.com/syntrixbase/livequery/internal/dsl/operator"
)

var (
	// ErrUnknownKeyword is returned for a filter keyword the DSL does not define
	ErrUnknownKeyword = errors.New("unknown filter keyword")
	// ErrUnknownOperator is returned for an unknown range operator
	ErrUnknownOperator = errors.New("unknown operator")
	// ErrEmptyFilter is returned when a filter object or array is empty
	ErrEmptyFilter = errors.New("empty filter")
	// ErrInvalidFilter is returned when a filter has the wrong shape
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrInvalidGeoCoordinates is returned when geo coordinates cannot be parsed
	ErrInvalidGeoCoordinates = operator.ErrInvalidGeoCoordinates
)
