package protocol

import "fmt"

// Command opcodes understood by the lamp.
const (
	// CmdStatusRequest asks the lamp to emit a status notification for the
	// given mode.
	CmdStatusRequest = 0x30

	// CmdSetBrightness sets brightness (percent) for the given mode and
	// implicitly turns that mode on.
	CmdSetBrightness = 0x31

	// CmdSetColor sets the RGB colour channels.
	CmdSetColor = 0x32

	// CmdSetEffect selects a built-in colour effect by index.
	CmdSetEffect = 0x34

	// CmdTurnOff turns the given mode off.
	CmdTurnOff = 0x35

	// CmdSetMode switches the lamp between white and rgb operation. The
	// lamp needs a settle period after this before accepting further
	// commands; the dispatcher enforces it.
	CmdSetMode = 0x37

	// CmdSetTimer arms the auto-off timer with a minute count. Zero
	// minutes disarms it.
	CmdSetTimer = 0x3E

	// CmdToggleTimer flips the timer's armed state without changing the
	// programmed duration.
	CmdToggleTimer = 0x3F
)

// Mode selects which light engine a command addresses.
type Mode byte

// Lamp modes as encoded on the wire.
const (
	ModeWhite Mode = 1
	ModeRGB   Mode = 2
)

// Valid reports whether the mode is one the lamp understands.
func (m Mode) Valid() bool {
	return m == ModeWhite || m == ModeRGB
}

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeWhite:
		return "white"
	case ModeRGB:
		return "rgb"
	default:
		return fmt.Sprintf("mode(%d)", byte(m))
	}
}

// Timer limits in minutes. The lamp's firmware rejects longer durations.
const (
	TimerMinMinutes = 1
	TimerMaxMinutes = 240
)

// mustFrame encodes a fixed-argument command.
// Unreachable error path: no builder passes more than three arguments.
func mustFrame(code byte, args ...byte) []byte {
	frame, err := Encode(code, args...)
	if err != nil {
		panic(err)
	}
	return frame
}

// StatusRequest builds a status poll for one mode.
func StatusRequest(mode Mode) []byte {
	return mustFrame(CmdStatusRequest, byte(mode))
}

// SetBrightness builds a brightness command. Percent is clamped to 0-100.
// Setting brightness also powers the addressed mode on.
func SetBrightness(mode Mode, percent int) []byte {
	return mustFrame(CmdSetBrightness, byte(mode), byte(clampPercent(percent)))
}

// SetColor builds an RGB colour command.
func SetColor(r, g, b byte) []byte {
	return mustFrame(CmdSetColor, r, g, b)
}

// SetEffect builds an effect-select command.
func SetEffect(index byte) []byte {
	return mustFrame(CmdSetEffect, index)
}

// TurnOff builds a power-off command for one mode.
func TurnOff(mode Mode) []byte {
	return mustFrame(CmdTurnOff, byte(mode))
}

// SetMode builds a mode-switch command.
func SetMode(mode Mode) []byte {
	return mustFrame(CmdSetMode, byte(mode))
}

// SetTimer builds a timer-arm command.
//
// Parameters:
//   - mode: Mode the timer applies to
//   - minutes: Duration between TimerMinMinutes and TimerMaxMinutes
//
// Returns:
//   - []byte: Encoded frame
//   - error: If minutes is outside the firmware's accepted range
func SetTimer(mode Mode, minutes int) ([]byte, error) {
	if minutes < TimerMinMinutes || minutes > TimerMaxMinutes {
		return nil, fmt.Errorf("timer duration %d out of range [%d, %d]",
			minutes, TimerMinMinutes, TimerMaxMinutes)
	}
	return mustFrame(CmdSetTimer, byte(mode), byte(minutes)), nil
}

// CancelTimer builds a timer-disarm command. The lamp treats a zero-minute
// timer-set as cancellation.
func CancelTimer(mode Mode) []byte {
	return mustFrame(CmdSetTimer, byte(mode), 0)
}

// ToggleTimer builds a timer-toggle command for one mode.
func ToggleTimer(mode Mode) []byte {
	return mustFrame(CmdToggleTimer, byte(mode))
}

// clampPercent restricts a brightness value to the 0-100 range.
func clampPercent(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
