package engine

import (
	"context"
	"time"
)

// Candidate is one path to the device: a local adapter or a remote proxy
// that has seen the lamp advertise.
type Candidate struct {
	// ID uniquely identifies the adapter (e.g. "hci0" or a proxy name).
	ID string

	// Address is the device address as seen by this adapter.
	Address string

	// RSSI is the signal strength of the last advertisement, in dBm.
	// Higher (less negative) is better.
	RSSI int

	// LastSeen is when this adapter last saw the device advertise.
	LastSeen time.Time
}

// Capabilities describes what an established link supports. Reported once
// per session at connect time; the engine never re-queries mid-session.
type Capabilities struct {
	// CachedPairing indicates the adapter holds bonding data for the
	// device, allowing reconnection without user interaction.
	CachedPairing bool
}

// Conn is a live link to the lamp through one adapter. A Conn is bound to
// one session; after Done is closed it is never reused.
type Conn interface {
	// Write sends one complete frame to the control characteristic.
	Write(ctx context.Context, frame []byte) error

	// Subscribe registers the notification handler and enables status
	// notifications. Must be called exactly once, before any Write that
	// expects a response.
	Subscribe(ctx context.Context, handler func(data []byte)) error

	// Capabilities reports link capabilities negotiated at connect time.
	Capabilities() Capabilities

	// Done is closed when the link drops, whatever the cause.
	Done() <-chan struct{}

	// Err returns the drop reason after Done is closed, nil before.
	Err() error

	// Close tears the link down. Safe to call multiple times.
	Close() error
}

// Transport abstracts the Bluetooth host layer. The production
// implementation speaks to BlueZ over D-Bus; tests substitute a fake.
type Transport interface {
	// ListCandidates discovers adapters currently able to reach the
	// device, possibly triggering a scan.
	ListCandidates(ctx context.Context) ([]Candidate, error)

	// Connect establishes a link through the given candidate. A transport
	// whose adapter is out of connection slots returns an error wrapping
	// ErrNoCapacity so the manager can skip it without penalty.
	Connect(ctx context.Context, candidate Candidate) (Conn, error)

	// OnAdvertisement registers a callback invoked whenever any adapter
	// sees the device advertise. Used to shortcut reconnect backoff when
	// the device reappears.
	OnAdvertisement(fn func(Candidate))
}
