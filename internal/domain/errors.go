package domain

import "errors"

// Sentinel errors that transports map to distinct response classes. Wrap
// them with fmt.Errorf("...: %w", ...) so errors.Is still matches.
var (
	// ErrValidation marks input rejected by a domain rule
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a lookup of an entity that does not exist
	ErrNotFound = errors.New("not found")
)
