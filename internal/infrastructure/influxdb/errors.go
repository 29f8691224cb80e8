package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: history disabled in configuration")

	// ErrUnreachable means the server did not answer a ping, or answered
	// that it is not ready.
	ErrUnreachable = errors.New("influxdb: server unreachable")

	// ErrBucketNotFound means the configured history bucket does not exist
	// or the token cannot see it. Points would be dropped server-side, so
	// Connect refuses to start.
	ErrBucketNotFound = errors.New("influxdb: history bucket not found")

	// ErrClosed is returned by HealthCheck after Close.
	ErrClosed = errors.New("influxdb: history closed")
)
