package domain

import "errors"

var (
	// ErrDatabaseUnavailable is returned when the index file is missing or
	// corrupt. Callers surface it with a rebuild hint rather than degrading
	// to partial results.
	ErrDatabaseUnavailable = errors.New("card index unavailable, rebuild with the indexer")

	// ErrDuplicateDestination is returned when two jobs in the same batch
	// target the same destination path
	ErrDuplicateDestination = errors.New("duplicate destination path in batch")

	// ErrUnsupportedFormat is returned when a catalog dump is neither a JSON
	// array nor newline-delimited JSON
	ErrUnsupportedFormat = errors.New("unsupported catalog dump format")
)
