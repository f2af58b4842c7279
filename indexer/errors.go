package indexer

import "errors"

var (
	// ErrStoreRequired is returned when a store is not provided.
	ErrStoreRequired = errors.New("store required")

	// ErrNoSources is returned when no source roots are configured.
	ErrNoSources = errors.New("no log sources configured")
)
