package influxdb

import "errors"

// Sentinel errors for the telemetry client, checked with errors.Is.
// Batch-write failures are asynchronous and arrive through SetOnError
// rather than as return values.
var (
	// ErrNotConnected: operation attempted after Close or before Connect.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed: the server did not answer the startup ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled: the influxdb config section is disabled; the daemon
	// treats this as "skip telemetry", not a failure.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
