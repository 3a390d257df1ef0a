package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrNoForecast is returned by callers when a forecast lookup yields no rows.
	ErrNoForecast = errors.New("no forecast rows for requested range")

	// ErrLineRequired guards lookups invoked with an empty line code.
	ErrLineRequired = errors.New("line code is required")
)
