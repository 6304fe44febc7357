package sync

import "errors"

var (
	// ErrIntegrationNotFound is returned when no active integration exists
	// for the requested type. No sync log is written in that case.
	ErrIntegrationNotFound = errors.New("integration not found or inactive")

	// ErrMissingValueField is returned for a mapping whose aggregation needs
	// a value field but has none.
	ErrMissingValueField = errors.New("aggregation requires a value field")
)
