package review

import "errors"

var (
	// ErrSessionNotFound is returned for an unknown or closed session ID.
	ErrSessionNotFound = errors.New("review: session not found")

	// ErrNotAnalyzed is returned when an operation needs at least one
	// committed analysis and none exists yet.
	ErrNotAnalyzed = errors.New("review: contract not analyzed yet")
)
