package sentinel

import "errors"

// Sentinel dependency errors. Stores should return these (optionally wrapped)
// so services can translate them into domain errors exactly once.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnavailable     = errors.New("unavailable")
	ErrPermission      = errors.New("permission denied")
	ErrMissingValue    = errors.New("unsupported field value: missing")
	ErrFallbackStorage = errors.New("fallback storage failed")
)
