package engine

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/ptrevors/beurerd/internal/infrastructure/logging"
	"github.com/ptrevors/beurerd/internal/protocol"
)

// ObservationSink records frames the interpreter could not classify.
// Recording is diagnostics only; failures are logged and swallowed.
type ObservationSink interface {
	RecordUnknown(ctx context.Context, sessionID, reason string, payload []byte) error
}

// Observation reasons written to the sink.
const (
	obsReasonDecodeError    = "decode_error"
	obsReasonUnknownLength  = "unknown_length"
	obsReasonUnknownVersion = "unknown_version"
)

// InterpretResult reports what a notification did to the device state.
type InterpretResult struct {
	// Changed is true when a meaningful field differs from before.
	Changed bool

	// Shutdown is true when the lamp announced it is powering down its
	// radio; the caller should expect the link to drop and may reconnect
	// proactively.
	Shutdown bool

	// Dropped is true when the frame could not be classified and was
	// discarded without touching mode or power.
	Dropped bool
}

// Interpreter folds raw notifications into the shared DeviceState.
//
// Thread Safety:
//   - All methods are safe for concurrent use. State mutation is
//     serialised by an internal mutex.
type Interpreter struct {
	log  *logging.Logger
	sink ObservationSink
	now  func() time.Time

	mu    sync.Mutex
	state DeviceState
}

// NewInterpreter creates an interpreter. sink may be nil, in which case
// unclassifiable frames are only logged.
func NewInterpreter(log *logging.Logger, sink ObservationSink) *Interpreter {
	return &Interpreter{
		log:  log.With("component", "interpreter"),
		sink: sink,
		now:  time.Now,
	}
}

// State returns a copy of the current device state.
func (in *Interpreter) State() DeviceState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// SessionEnded clears availability when a session tears down. Levels,
// colour and effect are preserved so a later turn-on can restore them.
func (in *Interpreter) SessionEnded() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.state.Available = false
	in.state.WhiteOn = false
	in.state.RGBOn = false
}

// HandleNotification decodes and applies one raw notification.
//
// Structurally invalid frames and frames with unknown payload lengths or
// version bytes never mutate mode or power; they are logged, recorded to
// the observation sink and dropped.
func (in *Interpreter) HandleNotification(sessionID string, raw []byte) InterpretResult {
	frame, err := protocol.Decode(raw)
	if err != nil {
		in.log.Warn("dropping undecodable notification",
			"session_id", sessionID,
			"error", err,
			"raw", hex.EncodeToString(raw))
		in.record(sessionID, obsReasonDecodeError, raw)
		return InterpretResult{Dropped: true}
	}

	if frame.Direction != protocol.DirectionResponse {
		// Command echoes carry no status; ignore.
		in.log.Debug("ignoring non-response frame", "session_id", sessionID)
		return InterpretResult{}
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	now := in.now()
	before := in.state
	in.state.LastSeen = now
	in.state.LastRawNotification = hex.EncodeToString(raw)

	var result InterpretResult

	switch frame.PayloadLen() {
	case protocol.PayloadLenHeartbeat:
		in.state.HeartbeatCount++

	case protocol.PayloadLenWhiteStatus:
		result.Shutdown, result.Dropped = in.applyStatus(sessionID, protocol.ModeWhite, frame.Payload, now, raw)

	case protocol.PayloadLenRGBStatus:
		result.Shutdown, result.Dropped = in.applyStatus(sessionID, protocol.ModeRGB, frame.Payload, now, raw)

	default:
		in.log.Warn("notification with unknown payload length",
			"session_id", sessionID,
			"payload_len", frame.PayloadLen(),
			"raw", hex.EncodeToString(raw))
		in.record(sessionID, obsReasonUnknownLength, raw)
		result.Dropped = true
	}

	result.Changed = !meaningfulEqual(before, in.state)
	return result
}

// applyStatus folds one status payload into the state. Reports whether the
// payload carried the shutdown sentinel and whether it was dropped as
// unclassifiable. Caller holds in.mu.
func (in *Interpreter) applyStatus(sessionID string, expect protocol.Mode, payload []byte, now time.Time, raw []byte) (shutdown, dropped bool) {
	version := payload[protocol.StatusIdxVersion]

	switch version {
	case protocol.VersionShutdown, protocol.VersionOff:
		// Soft-off and shutdown both mean "nothing is lit". Levels and
		// colour are preserved for restore-on-reconnect.
		in.state.WhiteOn = false
		in.state.RGBOn = false
		in.state.Available = true
		in.state.LastMeaningfulUpdate = now
		return version == protocol.VersionShutdown, false

	case byte(expect):
		in.applyModeStatus(expect, payload, now)
		return false, false

	default:
		in.log.Warn("status frame with unknown version byte",
			"session_id", sessionID,
			"version", version,
			"raw", hex.EncodeToString(raw))
		in.record(sessionID, obsReasonUnknownVersion, raw)
		return false, true
	}
}

// applyModeStatus applies a well-formed status payload for one mode.
// Caller holds in.mu.
func (in *Interpreter) applyModeStatus(mode protocol.Mode, payload []byte, now time.Time) {
	on := payload[protocol.StatusIdxPower] != 0
	// Brightness is recorded even while off; the lamp reports the level it
	// will restore to.
	brightness := int(payload[protocol.StatusIdxBrightness])

	in.state.Mode = mode
	in.state.TimerActive = payload[protocol.StatusIdxTimerActive] != 0
	in.state.TimerMinutes = int(payload[protocol.StatusIdxTimerMinutes])

	switch mode {
	case protocol.ModeWhite:
		in.state.WhiteOn = on
		in.state.WhiteBrightness = brightness
	case protocol.ModeRGB:
		in.state.RGBOn = on
		in.state.RGBBrightness = brightness
		in.state.Red = payload[protocol.StatusIdxRed]
		in.state.Green = payload[protocol.StatusIdxGreen]
		in.state.Blue = payload[protocol.StatusIdxBlue]
		in.state.Effect = payload[protocol.StatusIdxEffect]
	}

	in.state.Available = true
	in.state.LastMeaningfulUpdate = now
}

// record writes an observation, best effort.
func (in *Interpreter) record(sessionID, reason string, raw []byte) {
	if in.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := in.sink.RecordUnknown(ctx, sessionID, reason, raw); err != nil {
		in.log.Warn("recording observation failed", "error", err)
	}
}

// meaningfulEqual compares the fields that constitute a state change worth
// publishing. Timestamps, heartbeat count and raw-frame diagnostics are
// excluded.
func meaningfulEqual(a, b DeviceState) bool {
	return a.Mode == b.Mode &&
		a.WhiteOn == b.WhiteOn &&
		a.WhiteBrightness == b.WhiteBrightness &&
		a.RGBOn == b.RGBOn &&
		a.RGBBrightness == b.RGBBrightness &&
		a.Red == b.Red &&
		a.Green == b.Green &&
		a.Blue == b.Blue &&
		a.Effect == b.Effect &&
		a.TimerActive == b.TimerActive &&
		a.TimerMinutes == b.TimerMinutes &&
		a.Available == b.Available
}
