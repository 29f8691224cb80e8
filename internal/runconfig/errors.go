package runconfig

import "errors"

var (
	// ErrNotFound is returned for a run configuration name that is not registered.
	ErrNotFound = errors.New("runconfig: run configuration not found")

	// ErrDuplicate is returned when adding a name that is already registered.
	ErrDuplicate = errors.New("runconfig: run configuration already exists")

	// ErrInvalid is returned for a run configuration that fails validation.
	ErrInvalid = errors.New("runconfig: invalid run configuration")
)
