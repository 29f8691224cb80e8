package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrInvalidTargetID) {
//	    // reject the request
//	}
var (
	// ErrInvalidBootOption is returned when a boot option tag and payload disagree.
	ErrInvalidBootOption = errors.New("device: invalid boot option")

	// ErrInvalidTargetID is returned when a target ID fails validation.
	ErrInvalidTargetID = errors.New("device: invalid target id")

	// ErrInvalidID is returned when a device or template ID is empty or too long.
	ErrInvalidID = errors.New("device: invalid id")

	// ErrInvalidKind is returned when a device kind is not recognised.
	ErrInvalidKind = errors.New("device: invalid kind")
)
