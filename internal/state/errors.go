package state

import "errors"

// Store errors.
var (
	// ErrHubNotFound indicates the hub id is not present in the tree.
	ErrHubNotFound = errors.New("state: hub not found")

	// ErrUnknownEntity indicates an event referenced an entity type the
	// store cannot apply.
	ErrUnknownEntity = errors.New("state: unknown entity type")
)
