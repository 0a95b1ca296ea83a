package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrVersionConflict is returned when a save is rejected because the
	// record changed since it was read. Callers re-fetch and retry.
	ErrVersionConflict = errors.New("persistence: version conflict")
)
