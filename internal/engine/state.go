package engine

import (
	"time"

	"github.com/ptrevors/beurerd/internal/protocol"
)

// ConnectionState describes the manager's lifecycle position.
type ConnectionState int32

// Connection lifecycle states.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns a human-readable state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// DeviceState is a snapshot of everything the engine knows about the lamp.
//
// Snapshots are values: CurrentState() returns a copy and mutations happen
// only inside the interpreter. Brightness and colour are retained across
// power-off and disconnect so a later turn-on can restore them.
type DeviceState struct {
	// Mode is the light engine the lamp most recently reported for.
	Mode protocol.Mode `json:"mode"`

	// White channel.
	WhiteOn         bool `json:"white_on"`
	WhiteBrightness int  `json:"white_brightness"`

	// RGB channel.
	RGBOn         bool    `json:"rgb_on"`
	RGBBrightness int     `json:"rgb_brightness"`
	Red           byte    `json:"red"`
	Green         byte    `json:"green"`
	Blue          byte    `json:"blue"`
	Effect        byte    `json:"effect"`

	// Timer as last reported by an rgb status frame.
	TimerActive  bool `json:"timer_active"`
	TimerMinutes int  `json:"timer_minutes"`

	// Available is true only after a valid status frame has been
	// interpreted in the current session. Heartbeats alone do not make
	// the device available.
	Available bool `json:"available"`

	// LastSeen is the arrival time of the most recent structurally valid
	// frame of any kind.
	LastSeen time.Time `json:"last_seen"`

	// LastMeaningfulUpdate is the arrival time of the most recent frame
	// that carried interpretable status. Always <= LastSeen.
	LastMeaningfulUpdate time.Time `json:"last_meaningful_update"`

	// Diagnostics.
	LastRawNotification string `json:"last_raw_notification"`
	HeartbeatCount      uint64 `json:"heartbeat_count"`
}

// On reports whether any light engine is powered.
func (s DeviceState) On() bool {
	return s.WhiteOn || s.RGBOn
}
