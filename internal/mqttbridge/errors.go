package mqttbridge

import "errors"

// Sentinel errors for bridge operations.
var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("bridge already started")

	// ErrBadCommand is returned when a command message cannot be decoded
	// or names no intent.
	ErrBadCommand = errors.New("bad command message")
)
