package engine

import (
	"fmt"

	"github.com/ptrevors/beurerd/internal/protocol"
)

// Intent names a high-level device operation.
type Intent string

// Supported command intents.
const (
	IntentTurnOn        Intent = "turn_on"
	IntentTurnOff       Intent = "turn_off"
	IntentSetBrightness Intent = "set_brightness"
	IntentSetColor      Intent = "set_color"
	IntentSetEffect     Intent = "set_effect"
	IntentStatus        Intent = "status"
	IntentSetTimer      Intent = "set_timer"
	IntentCancelTimer   Intent = "cancel_timer"
	IntentToggleTimer   Intent = "toggle_timer"
	IntentRaw           Intent = "raw"
)

// Command is a device operation to submit to the engine. Only the fields
// relevant to the intent are read.
type Command struct {
	Intent Intent `json:"intent"`

	// Mode addresses a light engine. Zero means "the lamp's current mode".
	Mode protocol.Mode `json:"mode,omitempty"`

	// Percent is the brightness for set_brightness and turn_on.
	Percent int `json:"percent,omitempty"`

	// Colour channels for set_color.
	R byte `json:"r,omitempty"`
	G byte `json:"g,omitempty"`
	B byte `json:"b,omitempty"`

	// Effect index for set_effect.
	Effect byte `json:"effect,omitempty"`

	// Minutes for set_timer.
	Minutes int `json:"minutes,omitempty"`

	// Raw is an opcode followed by argument bytes, framed and checksummed
	// by the engine. Used by the raw submission surface.
	Raw []byte `json:"raw,omitempty"`

	// AssumeMode skips the mode-switch preamble when the caller knows the
	// lamp is already in the addressed mode. Saves the settle delay on
	// hot paths like brightness sliders.
	AssumeMode bool `json:"assume_mode,omitempty"`
}

// targetMode resolves the addressed mode, falling back to the lamp's
// current mode, then white.
func (c Command) targetMode(st DeviceState) protocol.Mode {
	if c.Mode.Valid() {
		return c.Mode
	}
	if st.Mode.Valid() {
		return st.Mode
	}
	return protocol.ModeWhite
}

// buildFrames composes the frame sequence for a command against the
// current device state. Multi-frame sequences are dispatched as one
// contiguous unit.
func buildFrames(cmd Command, st DeviceState) ([][]byte, error) {
	switch cmd.Intent {
	case IntentTurnOn:
		return buildTurnOn(cmd, st), nil

	case IntentTurnOff:
		return [][]byte{protocol.TurnOff(cmd.targetMode(st))}, nil

	case IntentSetBrightness:
		mode := cmd.targetMode(st)
		var frames [][]byte
		if needsModeSwitch(cmd, st, mode) {
			frames = append(frames, protocol.SetMode(mode))
		}
		return append(frames, protocol.SetBrightness(mode, cmd.Percent)), nil

	case IntentSetColor:
		var frames [][]byte
		if needsModeSwitch(cmd, st, protocol.ModeRGB) {
			frames = append(frames, protocol.SetMode(protocol.ModeRGB))
		}
		return append(frames, protocol.SetColor(cmd.R, cmd.G, cmd.B)), nil

	case IntentSetEffect:
		var frames [][]byte
		if needsModeSwitch(cmd, st, protocol.ModeRGB) {
			frames = append(frames, protocol.SetMode(protocol.ModeRGB))
		}
		return append(frames, protocol.SetEffect(cmd.Effect)), nil

	case IntentStatus:
		// Both engines report independently; refresh is always a white
		// poll followed by an rgb poll as one unit.
		return [][]byte{
			protocol.StatusRequest(protocol.ModeWhite),
			protocol.StatusRequest(protocol.ModeRGB),
		}, nil

	case IntentSetTimer:
		frame, err := protocol.SetTimer(cmd.targetMode(st), cmd.Minutes)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCommand, err)
		}
		return [][]byte{frame}, nil

	case IntentCancelTimer:
		return [][]byte{protocol.CancelTimer(cmd.targetMode(st))}, nil

	case IntentToggleTimer:
		return [][]byte{protocol.ToggleTimer(cmd.targetMode(st))}, nil

	case IntentRaw:
		if len(cmd.Raw) == 0 {
			return nil, fmt.Errorf("%w: raw command needs at least an opcode", ErrInvalidCommand)
		}
		frame, err := protocol.Encode(cmd.Raw[0], cmd.Raw[1:]...)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCommand, err)
		}
		return [][]byte{frame}, nil

	default:
		return nil, fmt.Errorf("%w: unknown intent %q", ErrInvalidCommand, cmd.Intent)
	}
}

// buildTurnOn composes the power-on sequence, restoring the last known
// colour, effect and brightness for the addressed mode. After a reconnect
// this is what re-establishes the lamp's previous look.
func buildTurnOn(cmd Command, st DeviceState) [][]byte {
	mode := cmd.targetMode(st)

	var frames [][]byte
	if needsModeSwitch(cmd, st, mode) {
		frames = append(frames, protocol.SetMode(mode))
	}

	brightness := cmd.Percent
	if brightness <= 0 {
		brightness = lastBrightness(st, mode)
	}

	if mode == protocol.ModeRGB {
		if st.Red != 0 || st.Green != 0 || st.Blue != 0 {
			frames = append(frames, protocol.SetColor(st.Red, st.Green, st.Blue))
		}
		if st.Effect != 0 {
			frames = append(frames, protocol.SetEffect(st.Effect))
		}
	}

	// Brightness last: it is the frame that actually lights the lamp.
	return append(frames, protocol.SetBrightness(mode, brightness))
}

// needsModeSwitch decides whether a mode-switch preamble is required.
func needsModeSwitch(cmd Command, st DeviceState, target protocol.Mode) bool {
	if cmd.AssumeMode {
		return false
	}
	return st.Mode != target
}

// lastBrightness returns the remembered level for a mode, defaulting to
// full brightness when nothing was ever reported.
func lastBrightness(st DeviceState, mode protocol.Mode) int {
	var level int
	if mode == protocol.ModeRGB {
		level = st.RGBBrightness
	} else {
		level = st.WhiteBrightness
	}
	if level <= 0 {
		return 100
	}
	return level
}
