package store

import "errors"

var (
	// ErrNotFound is returned when the addressed entity does not exist, has
	// expired, or has been deleted.
	ErrNotFound = errors.New("entstore: entity not found")

	// ErrConflict is returned when a create collides with an existing entity,
	// or when a mutation's expected version no longer matches the stored one.
	ErrConflict = errors.New("entstore: entity conflict")

	// ErrInvalidArgument is returned when a request is malformed: missing or
	// illegal key components, a stale-proof mutation without a version, or a
	// prefix delete below the safety floor.
	ErrInvalidArgument = errors.New("entstore: invalid argument")

	// ErrUnknownEntityType is returned when the entity type is not registered.
	ErrUnknownEntityType = errors.New("entstore: unknown entity type")
)
