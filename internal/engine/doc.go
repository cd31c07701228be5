// Package engine implements the connection and command core for a Beurer
// daylight lamp: connection lifecycle with failover and backoff, a
// serialised command dispatcher, notification interpretation into a shared
// device state, staleness watchdog and adaptive status polling.
//
// # Architecture
//
// The Manager owns one connection lifecycle at a time. A session (one
// established link through one adapter) is an immutable value: reconnecting
// never mutates an existing session, it tears the old one down completely
// and builds a new one. Every background task a session spawns (watchdog,
// notification pump) is bound to the session's context and joined before
// the replacement session starts.
//
// Reconnect triggers arrive from four places: transport drop, watchdog
// staleness, device shutdown sentinel and advertisement sightings while
// disconnected. All of them funnel through a single mutex-guarded critical
// section, so concurrent triggers collapse into one reconnect pass.
//
// Commands flow through a single-lane dispatcher which enforces the lamp's
// timing constraints (inter-command spacing, mode-switch settle) and keeps
// compound sequences contiguous on the wire.
//
// The engine talks to Bluetooth only through the Transport interface; the
// bluez package provides the production implementation and tests use an
// in-memory fake.
package engine
