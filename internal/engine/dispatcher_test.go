package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ptrevors/beurerd/internal/infrastructure/logging"
	"github.com/ptrevors/beurerd/internal/protocol"
)

// fakeWriter records writes with timestamps.
type fakeWriter struct {
	mu     sync.Mutex
	frames [][]byte
	times  []time.Time
	err    error
}

func (w *fakeWriter) write(_ context.Context, frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.frames = append(w.frames, append([]byte(nil), frame...))
	w.times = append(w.times, time.Now())
	return nil
}

func (w *fakeWriter) snapshot() ([][]byte, []time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]byte(nil), w.frames...), append([]time.Time(nil), w.times...)
}

func startDispatcher(t *testing.T) (*Dispatcher, *fakeWriter, context.CancelFunc) {
	t.Helper()
	d := NewDispatcher(logging.Default(), nil)
	w := &fakeWriter{}
	d.Bind("test-session", w.write)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return d, w, cancel
}

func TestDispatcher_NotConnected(t *testing.T) {
	d := NewDispatcher(logging.Default(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	err := <-d.Submit(context.Background(), "id", "status", [][]byte{protocol.StatusRequest(protocol.ModeWhite)})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("error = %v, want ErrNotConnected", err)
	}
}

func TestDispatcher_WritesFrames(t *testing.T) {
	d, w, _ := startDispatcher(t)

	frame := protocol.SetBrightness(protocol.ModeWhite, 50)
	if err := <-d.Submit(context.Background(), "id", "set_brightness", [][]byte{frame}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	frames, _ := w.snapshot()
	if len(frames) != 1 {
		t.Fatalf("wrote %d frames, want 1", len(frames))
	}
}

func TestDispatcher_InterCommandSpacing(t *testing.T) {
	d, w, _ := startDispatcher(t)

	frame := protocol.StatusRequest(protocol.ModeWhite)
	<-d.Submit(context.Background(), "a", "status", [][]byte{frame})
	<-d.Submit(context.Background(), "b", "status", [][]byte{frame})

	_, times := w.snapshot()
	if len(times) != 2 {
		t.Fatalf("wrote %d frames, want 2", len(times))
	}
	if gap := times[1].Sub(times[0]); gap < minCommandInterval {
		t.Errorf("inter-command gap = %v, want >= %v", gap, minCommandInterval)
	}
}

func TestDispatcher_ModeSwitchSettle(t *testing.T) {
	d, w, _ := startDispatcher(t)

	frames := [][]byte{
		protocol.SetMode(protocol.ModeRGB),
		protocol.SetColor(0xFF, 0, 0),
	}
	if err := <-d.Submit(context.Background(), "id", "set_color", frames); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	_, times := w.snapshot()
	if len(times) != 2 {
		t.Fatalf("wrote %d frames, want 2", len(times))
	}
	if gap := times[1].Sub(times[0]); gap < modeSettleDelay {
		t.Errorf("post-mode-switch gap = %v, want >= %v", gap, modeSettleDelay)
	}
}

func TestDispatcher_CompoundStaysContiguous(t *testing.T) {
	d, w, _ := startDispatcher(t)

	compound := [][]byte{
		protocol.StatusRequest(protocol.ModeWhite),
		protocol.StatusRequest(protocol.ModeRGB),
	}
	single := [][]byte{protocol.TurnOff(protocol.ModeWhite)}

	first := d.Submit(context.Background(), "compound", "status", compound)
	second := d.Submit(context.Background(), "single", "turn_off", single)

	if err := <-first; err != nil {
		t.Fatalf("compound error = %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("single error = %v", err)
	}

	frames, _ := w.snapshot()
	if len(frames) != 3 {
		t.Fatalf("wrote %d frames, want 3", len(frames))
	}
	// The compound pair must occupy the first two slots.
	for i, want := range [][]byte{compound[0], compound[1], single[0]} {
		code, _ := protocol.CommandCode(frames[i])
		wantCode, _ := protocol.CommandCode(want)
		if code != wantCode {
			t.Errorf("frame[%d] code = %#x, want %#x", i, code, wantCode)
		}
	}
}

func TestDispatcher_CancellationSurfaces(t *testing.T) {
	d, w, _ := startDispatcher(t)

	// First command sets lastSend so the second has to pace.
	<-d.Submit(context.Background(), "a", "status", [][]byte{protocol.StatusRequest(protocol.ModeWhite)})

	reqCtx, cancelReq := context.WithCancel(context.Background())
	result := d.Submit(reqCtx, "b", "status", [][]byte{protocol.StatusRequest(protocol.ModeRGB)})
	cancelReq()

	err := <-result
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled surfaced untouched", err)
	}

	frames, _ := w.snapshot()
	if len(frames) != 1 {
		t.Errorf("wrote %d frames, want 1 (cancelled frame must not be sent)", len(frames))
	}
}

func TestDispatcher_WriteErrorPropagates(t *testing.T) {
	d, w, _ := startDispatcher(t)
	w.err = errors.New("link gone")

	err := <-d.Submit(context.Background(), "id", "status", [][]byte{protocol.StatusRequest(protocol.ModeWhite)})
	if err == nil || !errors.Is(err, w.err) {
		t.Errorf("error = %v, want wrapped link error", err)
	}
}

func TestDispatcher_QueueFull(t *testing.T) {
	// Not started: nothing drains the queue.
	d := NewDispatcher(logging.Default(), nil)
	d.Bind("s", (&fakeWriter{}).write)

	frame := [][]byte{protocol.StatusRequest(protocol.ModeWhite)}
	for i := 0; i < queueDepth; i++ {
		d.Submit(context.Background(), "fill", "status", frame)
	}

	err := <-d.Submit(context.Background(), "overflow", "status", frame)
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("error = %v, want ErrQueueFull", err)
	}
}

func TestDispatcher_DrainOnShutdown(t *testing.T) {
	d := NewDispatcher(logging.Default(), nil)
	d.Bind("s", (&fakeWriter{}).write)

	frame := [][]byte{protocol.StatusRequest(protocol.ModeWhite)}
	pending := d.Submit(context.Background(), "pending", "status", frame)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	err := <-pending
	if !errors.Is(err, ErrEngineClosed) {
		t.Errorf("error = %v, want ErrEngineClosed", err)
	}
}
