package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ptrevors/beurerd/internal/infrastructure/logging"
	"github.com/ptrevors/beurerd/internal/protocol"
)

// queueDepth bounds pending commands. Lamp interactions are human-paced;
// a deep queue would only replay stale intents after a stall.
const queueDepth = 16

// CommandRecord is the audit trail entry for one dispatched command.
type CommandRecord struct {
	ID          string
	SessionID   string
	Intent      string
	FrameHex    string
	SubmittedAt time.Time
	CompletedAt time.Time
	Outcome     string
	Error       string
}

// Audit outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// AuditSink records completed commands. Best effort; failures are logged
// and never affect command results.
type AuditSink interface {
	RecordCommand(ctx context.Context, rec CommandRecord) error
}

// writeFunc sends one frame over the current session's link.
type writeFunc func(ctx context.Context, frame []byte) error

// request is one queued unit of work: a command's full frame sequence.
type request struct {
	id          string
	intent      string
	frames      [][]byte
	ctx         context.Context
	result      chan error
	submittedAt time.Time
}

// Dispatcher serialises all outbound traffic to the lamp through a single
// lane, enforcing the device's timing constraints:
//
//   - consecutive writes are spaced at least minCommandInterval apart
//   - a mode-switch frame is followed by modeSettleDelay of silence
//   - a multi-frame sequence occupies the lane for its whole duration;
//     frames from different commands never interleave
//
// Commands submitted while no session is bound fail fast with
// ErrNotConnected.
type Dispatcher struct {
	log   *logging.Logger
	audit AuditSink
	queue chan *request

	mu        sync.Mutex
	write     writeFunc
	sessionID string

	// lastSend is only touched by the run loop.
	lastSend time.Time
}

// NewDispatcher creates a dispatcher. audit may be nil.
func NewDispatcher(log *logging.Logger, audit AuditSink) *Dispatcher {
	return &Dispatcher{
		log:   log.With("component", "dispatcher"),
		audit: audit,
		queue: make(chan *request, queueDepth),
	}
}

// Bind attaches the dispatcher to a session's write path. Called by the
// manager once per established session.
func (d *Dispatcher) Bind(sessionID string, w writeFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessionID = sessionID
	d.write = w
}

// Unbind detaches the current session. Subsequent submissions fail with
// ErrNotConnected until the next Bind.
func (d *Dispatcher) Unbind() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessionID = ""
	d.write = nil
}

// Submit enqueues a frame sequence and returns a result channel that
// receives exactly one value when the sequence completes, fails or is
// cancelled. The channel is buffered; callers may discard it.
func (d *Dispatcher) Submit(ctx context.Context, id, intent string, frames [][]byte) <-chan error {
	result := make(chan error, 1)

	req := &request{
		id:          id,
		intent:      intent,
		frames:      frames,
		ctx:         ctx,
		result:      result,
		submittedAt: time.Now(),
	}

	select {
	case d.queue <- req:
	default:
		result <- ErrQueueFull
	}
	return result
}

// Run processes the queue until ctx is cancelled. Pending requests at
// shutdown are failed with ErrEngineClosed.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case req := <-d.queue:
			d.process(ctx, req)
		}
	}
}

// drain fails everything still queued at shutdown.
func (d *Dispatcher) drain() {
	for {
		select {
		case req := <-d.queue:
			d.finish(req, ErrEngineClosed)
		default:
			return
		}
	}
}

// process sends one request's frames through the lane.
func (d *Dispatcher) process(ctx context.Context, req *request) {
	d.mu.Lock()
	write := d.write
	sessionID := d.sessionID
	d.mu.Unlock()

	if write == nil {
		d.finish(req, ErrNotConnected)
		return
	}

	for _, frame := range req.frames {
		if err := d.pace(ctx, req.ctx); err != nil {
			d.finish(req, err)
			return
		}

		if err := write(req.ctx, frame); err != nil {
			d.finish(req, fmt.Errorf("writing frame: %w", err))
			return
		}
		d.lastSend = time.Now()

		if code, ok := protocol.CommandCode(frame); ok && code == protocol.CmdSetMode {
			if err := d.settle(ctx, req.ctx); err != nil {
				d.finish(req, err)
				return
			}
		}
	}

	d.log.Debug("command dispatched",
		"command_id", req.id,
		"intent", req.intent,
		"session_id", sessionID,
		"frames", len(req.frames))
	d.finish(req, nil)
}

// pace waits out the minimum inter-command spacing.
func (d *Dispatcher) pace(runCtx, reqCtx context.Context) error {
	wait := minCommandInterval - time.Since(d.lastSend)
	if wait <= 0 {
		return nil
	}
	return sleepCtx(runCtx, reqCtx, wait)
}

// settle waits out the post-mode-switch silence.
func (d *Dispatcher) settle(runCtx, reqCtx context.Context) error {
	return sleepCtx(runCtx, reqCtx, modeSettleDelay)
}

// finish delivers the result and writes the audit record.
func (d *Dispatcher) finish(req *request, err error) {
	req.result <- err

	outcome := OutcomeOK
	errText := ""
	switch {
	case err == nil:
	case context.Cause(req.ctx) != nil:
		outcome = OutcomeCancelled
		errText = err.Error()
	default:
		outcome = OutcomeError
		errText = err.Error()
	}

	if err != nil {
		d.log.Warn("command failed",
			"command_id", req.id,
			"intent", req.intent,
			"outcome", outcome,
			"error", err)
	}

	if d.audit == nil {
		return
	}

	d.mu.Lock()
	sessionID := d.sessionID
	d.mu.Unlock()

	rec := CommandRecord{
		ID:          req.id,
		SessionID:   sessionID,
		Intent:      req.intent,
		FrameHex:    framesHex(req.frames),
		SubmittedAt: req.submittedAt,
		CompletedAt: time.Now(),
		Outcome:     outcome,
		Error:       errText,
	}

	auditCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if auditErr := d.audit.RecordCommand(auditCtx, rec); auditErr != nil {
		d.log.Warn("writing command audit failed", "error", auditErr)
	}
}

// framesHex renders a frame sequence as space-separated hex strings.
func framesHex(frames [][]byte) string {
	out := ""
	for i, f := range frames {
		if i > 0 {
			out += " "
		}
		out += hex.EncodeToString(f)
	}
	return out
}

// sleepCtx sleeps for d, aborting early if either context ends. A request
// cancellation surfaces as that context's error, never remapped.
func sleepCtx(runCtx, reqCtx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-runCtx.Done():
		return ErrEngineClosed
	case <-reqCtx.Done():
		return reqCtx.Err()
	}
}
