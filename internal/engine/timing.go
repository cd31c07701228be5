package engine

import "time"

// Device timing constraints. These encode lamp firmware behaviour and are
// deliberately not configurable.
const (
	// minCommandInterval is the minimum spacing between consecutive
	// writes; faster bursts get silently dropped by the lamp.
	minCommandInterval = 100 * time.Millisecond

	// modeSettleDelay is the pause required after a mode switch before
	// the lamp accepts further commands.
	modeSettleDelay = 500 * time.Millisecond
)

// Connection lifecycle timing.
const (
	// backoffFloor is the first reconnect delay after a failed pass over
	// all candidates.
	backoffFloor = 1 * time.Second

	// backoffCap bounds the exponential reconnect delay.
	backoffCap = 60 * time.Second

	// watchdogTick is how often the staleness watchdog samples lastSeen.
	watchdogTick = 60 * time.Second

	// staleThreshold is the silence duration after which the watchdog
	// declares the link dead. Heartbeats arrive far more often than this
	// on a healthy link.
	staleThreshold = 300 * time.Second

	// adapterCooldown is how long a failed candidate is deprioritised
	// before it competes on signal strength again.
	adapterCooldown = 2 * time.Minute

	// advertisementMinInterval rate-limits reconnect attempts triggered
	// by advertisement sightings while disconnected.
	advertisementMinInterval = 10 * time.Second

	// dropRetriggerMinInterval rate-limits reconnect attempts triggered
	// by transport drops, independently of the advertisement limiter.
	dropRetriggerMinInterval = 1 * time.Second
)

// Adaptive poll tiers.
const (
	// pollIntervalOn applies while connected with the lamp powered on.
	pollIntervalOn = 30 * time.Second

	// pollIntervalOff applies while connected with the lamp soft-off.
	pollIntervalOff = 5 * time.Minute

	// pollIntervalUnreachable applies while disconnected.
	pollIntervalUnreachable = 15 * time.Minute
)
