package discovery

import "errors"

// Domain errors for the discovery package.
var (
	// ErrDeviceNotFound is returned when a target names no known handle or template.
	ErrDeviceNotFound = errors.New("discovery: device not found")

	// ErrDeviceDisconnected is returned when an offline handle cannot be booted.
	ErrDeviceDisconnected = errors.New("discovery: device disconnected")

	// ErrUnknownSnapshot is returned when a snapshot boot names a snapshot the
	// device does not list.
	ErrUnknownSnapshot = errors.New("discovery: unknown snapshot")

	// ErrNotRunning is returned when the aggregator loop is not running.
	ErrNotRunning = errors.New("discovery: aggregator not running")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("discovery: aggregator already running")
)
