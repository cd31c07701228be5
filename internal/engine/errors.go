package engine

import "errors"

// Sentinel errors for engine operations.
// Callers should use errors.Is() to check error types.
var (
	// ErrNotConnected indicates a command was submitted while no session
	// is established. Commands fail fast rather than queue across
	// reconnects.
	ErrNotConnected = errors.New("not connected")

	// ErrNoCapacity is returned (possibly wrapped) by transports whose
	// adapter has no free connection slot. The manager skips to the next
	// candidate without counting the attempt toward backoff.
	ErrNoCapacity = errors.New("adapter has no free connection slot")

	// ErrNoCandidates indicates discovery produced no adapter able to
	// reach the device.
	ErrNoCandidates = errors.New("no connection candidates")

	// ErrQueueFull indicates the dispatcher's submission queue is at
	// capacity. The caller should surface this as backpressure, not retry
	// immediately.
	ErrQueueFull = errors.New("command queue full")

	// ErrEngineClosed indicates the manager has been shut down.
	ErrEngineClosed = errors.New("engine closed")

	// ErrInvalidCommand indicates a submitted command failed validation
	// before reaching the wire.
	ErrInvalidCommand = errors.New("invalid command")
)
