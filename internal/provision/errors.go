package provision

import "errors"

var (
	// ErrInvalidAnnouncement is returned for an announcement payload that cannot be decoded.
	ErrInvalidAnnouncement = errors.New("provision: invalid announcement")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("provision: source already started")

	// ErrUnknownSnapshot is returned when a local template is booted from a snapshot it does not have.
	ErrUnknownSnapshot = errors.New("provision: unknown snapshot")
)
