package state

import "errors"

// Common state store errors.
var (
	// ErrNotFound is returned when no state exists for a run.
	ErrNotFound = errors.New("run state not found")

	// ErrSchemaInvalid is returned when a state file fails schema
	// validation on load.
	ErrSchemaInvalid = errors.New("run state schema invalid")

	// ErrExists is returned when creating a run that already has state.
	ErrExists = errors.New("run state already exists")
)
