package search

import "errors"

// Sentinel errors for error classification.
var (
	// ErrConfiguration indicates the similarity backend is requested but its
	// credentials or endpoint are absent. Search falls back to keywords.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidDetailLevel indicates a detail level other than name,
	// summary or full.
	ErrInvalidDetailLevel = errors.New("invalid detail level")

	// ErrCacheWrite indicates an embedding could not be persisted.
	ErrCacheWrite = errors.New("embedding cache write failed")
)
