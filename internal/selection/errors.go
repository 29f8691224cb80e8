package selection

import "errors"

// Domain errors for the selection package.
var (
	// ErrStateNotFound is returned by a Gateway when no state is stored for a run configuration.
	ErrStateNotFound = errors.New("selection: state not found")

	// ErrCorruptState is returned when stored state cannot be decoded or fails validation.
	ErrCorruptState = errors.New("selection: corrupt state")

	// ErrInvalidRunConfig is returned for an empty run configuration name.
	ErrInvalidRunConfig = errors.New("selection: invalid run configuration")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("selection: reconciler already running")
)
