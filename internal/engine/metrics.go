package engine

import (
	"sync"
	"time"
)

// Metrics accumulates connection quality counters for the lifetime of the
// process.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	startedAt        time.Time
	connectAttempts  uint64
	reconnects       uint64
	lastConnectedAt  time.Time
	connectedSince   time.Time
	accumulatedUp    time.Duration
	commandsOK       uint64
	commandsFailed   uint64
	framesDropped    uint64
	watchdogTrips    uint64
}

// MetricsSnapshot is a point-in-time copy of the counters, shaped for JSON
// and time-series export.
type MetricsSnapshot struct {
	UptimeSeconds      float64   `json:"uptime_seconds"`
	ConnectedSeconds   float64   `json:"connected_seconds"`
	ConnectAttempts    uint64    `json:"connect_attempts"`
	Reconnects         uint64    `json:"reconnects"`
	LastConnectedAt    time.Time `json:"last_connected_at"`
	CommandsOK         uint64    `json:"commands_ok"`
	CommandsFailed     uint64    `json:"commands_failed"`
	CommandSuccessRate float64   `json:"command_success_rate"`
	FramesDropped      uint64    `json:"frames_dropped"`
	WatchdogTrips      uint64    `json:"watchdog_trips"`
}

// NewMetrics creates a metrics accumulator starting now.
func NewMetrics() *Metrics {
	return &Metrics{startedAt: time.Now()}
}

// ConnectAttempt counts one candidate connection attempt.
func (m *Metrics) ConnectAttempt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectAttempts++
}

// Connected marks the start of a connected interval.
func (m *Metrics) Connected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.lastConnectedAt = now
	m.connectedSince = now
}

// Disconnected closes the current connected interval and counts a
// reconnect cycle.
func (m *Metrics) Disconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connectedSince.IsZero() {
		m.accumulatedUp += time.Since(m.connectedSince)
		m.connectedSince = time.Time{}
	}
	m.reconnects++
}

// CommandOK counts a successfully dispatched command.
func (m *Metrics) CommandOK() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commandsOK++
}

// CommandFailed counts a failed command.
func (m *Metrics) CommandFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commandsFailed++
}

// FrameDropped counts a notification rejected by the codec or interpreter.
func (m *Metrics) FrameDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.framesDropped++
}

// WatchdogTrip counts a staleness-forced reconnect.
func (m *Metrics) WatchdogTrip() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchdogTrips++
}

// Snapshot returns a copy of the counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	connected := m.accumulatedUp
	if !m.connectedSince.IsZero() {
		connected += time.Since(m.connectedSince)
	}

	total := m.commandsOK + m.commandsFailed
	rate := 1.0
	if total > 0 {
		rate = float64(m.commandsOK) / float64(total)
	}

	return MetricsSnapshot{
		UptimeSeconds:      time.Since(m.startedAt).Seconds(),
		ConnectedSeconds:   connected.Seconds(),
		ConnectAttempts:    m.connectAttempts,
		Reconnects:         m.reconnects,
		LastConnectedAt:    m.lastConnectedAt,
		CommandsOK:         m.commandsOK,
		CommandsFailed:     m.commandsFailed,
		CommandSuccessRate: rate,
		FramesDropped:      m.framesDropped,
		WatchdogTrips:      m.watchdogTrips,
	}
}
