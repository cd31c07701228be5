package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ptrevors/beurerd/internal/infrastructure/logging"
)

// Options configures a Manager.
type Options struct {
	// MAC is the lamp's Bluetooth address.
	MAC string

	// DeviceName is a label for logs.
	DeviceName string

	// ScanTimeout bounds candidate discovery per connect pass.
	ScanTimeout time.Duration

	// ConnectTimeout bounds each individual candidate attempt.
	ConnectTimeout time.Duration
}

// session is one established link. Sessions are replaced wholesale: a
// reconnect tears the old session down, joins its goroutines and builds a
// fresh one. Nothing ever mutates a live session.
type session struct {
	id        string
	candidate Candidate
	conn      Conn
	caps      Capabilities
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time
}

// Manager owns the lamp connection lifecycle: discovery, candidate
// failover, reconnect backoff, the per-session watchdog and the adaptive
// status poller. It is the single entry point for the projection layers
// (API, MQTT, health).
type Manager struct {
	opts      Options
	log       *logging.Logger
	transport Transport
	registry  *Registry
	interp    *Interpreter
	disp      *Dispatcher
	metrics   *Metrics
	poll      *pollController

	connState atomic.Int32

	// reconnectMu guards the reconnect critical section. Triggers take
	// the lock first and only then consult the flag, so two concurrent
	// triggers can never both start a reconnect.
	reconnectMu  sync.Mutex
	reconnecting bool
	reconnectCh  chan string

	// wake shortcuts the reconnect backoff sleep.
	wake chan struct{}

	// limMu guards the trigger rate limiters. Advertisement sightings
	// and shutdown sentinels are limited independently.
	limMu             sync.Mutex
	lastAdvertTrigger time.Time
	lastSentinelTrig  time.Time

	mu            sync.Mutex
	listeners     []func(DeviceState)
	connListeners []func(ConnectionState)
	started       bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager wires a manager from its collaborators. sink and audit may be
// nil to disable observation and audit recording.
func NewManager(opts Options, log *logging.Logger, transport Transport, sink ObservationSink, audit AuditSink) *Manager {
	mlog := log.With("component", "engine", "device", opts.MAC)

	m := &Manager{
		opts:        opts,
		log:         mlog,
		transport:   transport,
		registry:    NewRegistry(),
		interp:      NewInterpreter(log, sink),
		disp:        NewDispatcher(log, audit),
		metrics:     NewMetrics(),
		reconnectCh: make(chan string, 1),
		wake:        make(chan struct{}, 1),
	}
	m.poll = newPollController(log, m.pollTier, m.pollRefresh)
	return m
}

// Start launches the engine's background loops. It returns immediately;
// connection establishment happens asynchronously.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	m.started = true
	m.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.transport.OnAdvertisement(m.handleAdvertisement)

	m.wg.Add(3)
	go func() {
		defer m.wg.Done()
		m.disp.Run(runCtx)
	}()
	go func() {
		defer m.wg.Done()
		m.poll.run(runCtx)
	}()
	go func() {
		defer m.wg.Done()
		m.run(runCtx)
	}()

	m.log.Info("engine started", "device_name", m.opts.DeviceName)
	return nil
}

// Close stops the engine and waits for every background task to exit.
func (m *Manager) Close() error {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.log.Info("engine stopped")
	return nil
}

// CurrentState returns a snapshot of the device state.
func (m *Manager) CurrentState() DeviceState {
	return m.interp.State()
}

// ConnState returns the connection lifecycle state.
func (m *Manager) ConnState() ConnectionState {
	return ConnectionState(m.connState.Load())
}

// ConnectionMetrics returns a snapshot of connection quality counters.
func (m *Manager) ConnectionMetrics() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// OnStateChange registers a listener invoked with a state snapshot after
// every meaningful change. Listeners must not block; slow consumers should
// hand off to their own goroutine.
func (m *Manager) OnStateChange(fn func(DeviceState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// OnConnChange registers a listener invoked after every connection
// lifecycle transition. Same contract as OnStateChange: listeners must
// not block.
func (m *Manager) OnConnChange(fn func(ConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connListeners = append(m.connListeners, fn)
}

// Submit queues a command for dispatch. The returned channel receives
// exactly one value: nil on success, a typed error otherwise. Submissions
// while disconnected fail immediately with ErrNotConnected.
func (m *Manager) Submit(ctx context.Context, cmd Command) <-chan error {
	result := make(chan error, 1)

	if m.ConnState() != StateConnected {
		result <- ErrNotConnected
		return result
	}

	frames, err := buildFrames(cmd, m.interp.State())
	if err != nil {
		result <- err
		return result
	}

	inner := m.disp.Submit(ctx, uuid.NewString(), string(cmd.Intent), frames)
	go func() {
		err := <-inner
		switch {
		case err == nil:
			m.metrics.CommandOK()
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// Caller walked away; not a device failure.
		default:
			m.metrics.CommandFailed()
		}
		result <- err
	}()
	return result
}

// ForceReconnect tears down the current session (if any) and starts a
// fresh connect pass. Explicit operator action bypasses the trigger rate
// limiters.
func (m *Manager) ForceReconnect() {
	if m.ConnState() == StateConnected {
		m.triggerReconnect("forced", false)
		return
	}
	m.wakeBackoff()
}

// run owns the connection lifecycle until ctx ends.
func (m *Manager) run(ctx context.Context) {
	defer func() {
		m.setState(StateDisconnected)
	}()

	firstPass := true
	for {
		if firstPass {
			m.setState(StateConnecting)
			firstPass = false
		}

		sess, err := m.connect(ctx)
		if err != nil {
			return
		}

		// Absorb triggers that fired while we were already connecting,
		// then reopen the critical section for the new session.
		select {
		case <-m.reconnectCh:
		default:
		}
		m.reconnectMu.Lock()
		m.reconnecting = false
		m.reconnectMu.Unlock()

		m.setState(StateConnected)
		m.metrics.Connected()
		m.poll.Kick()
		m.notifyState()

		reason := m.awaitSessionEnd(ctx, sess)
		m.teardown(sess, reason)

		if ctx.Err() != nil {
			return
		}

		m.metrics.Disconnected()
		m.setState(StateReconnecting)
		m.poll.Kick()
		m.notifyState()
	}
}

// awaitSessionEnd blocks until something ends the current session and
// returns the reason.
func (m *Manager) awaitSessionEnd(ctx context.Context, sess *session) string {
	select {
	case <-ctx.Done():
		return "shutdown"
	case reason := <-m.reconnectCh:
		return reason
	case <-sess.conn.Done():
		if err := sess.conn.Err(); err != nil {
			m.log.Warn("transport dropped", "session_id", sess.id, "error", err)
		}
		return "transport drop"
	}
}

// connect runs connect passes with exponential backoff until one succeeds
// or ctx ends.
func (m *Manager) connect(ctx context.Context) (*session, error) {
	backoff := backoffFloor

	for {
		sess, err := m.connectPass(ctx)
		if err == nil {
			return sess, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		m.log.Info("connect pass failed, backing off",
			"delay", backoff.String(),
			"error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		case <-m.wake:
			timer.Stop()
			m.log.Info("backoff shortcut, device sighted")
		}

		backoff = nextBackoff(backoff)
	}
}

// nextBackoff doubles a reconnect delay up to the cap.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > backoffCap {
		d = backoffCap
	}
	return d
}

// connectPass tries every ranked candidate once. A failed pass counts
// toward backoff; an empty ranking fails with ErrNoCandidates. A candidate
// rejecting for lack of connection slots is skipped without penalty and
// without consuming the pass.
func (m *Manager) connectPass(ctx context.Context) (*session, error) {
	scanCtx, cancelScan := context.WithTimeout(ctx, m.opts.ScanTimeout)
	candidates, err := m.transport.ListCandidates(scanCtx)
	cancelScan()
	if err != nil {
		m.log.Warn("candidate discovery failed", "error", err)
	}
	for _, c := range candidates {
		m.registry.Observe(c)
	}

	ranked := m.registry.Rank()
	if len(ranked) == 0 {
		return nil, ErrNoCandidates
	}

	for _, cand := range ranked {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		m.metrics.ConnectAttempt()

		connCtx, cancelConn := context.WithTimeout(ctx, m.opts.ConnectTimeout)
		conn, err := m.transport.Connect(connCtx, cand)
		cancelConn()

		if err != nil {
			if errors.Is(err, ErrNoCapacity) {
				m.log.Debug("candidate out of slots, skipping", "adapter", cand.ID)
				continue
			}
			m.log.Warn("connect attempt failed", "adapter", cand.ID, "error", err)
			m.registry.MarkFailure(cand.ID)
			continue
		}

		sess, err := m.startSession(ctx, cand, conn)
		if err != nil {
			m.log.Warn("session setup failed", "adapter", cand.ID, "error", err)
			conn.Close() //nolint:errcheck // Best effort cleanup on error path
			m.registry.MarkFailure(cand.ID)
			continue
		}

		m.registry.MarkSuccess(cand.ID)
		return sess, nil
	}

	return nil, fmt.Errorf("all %d candidates failed", len(ranked))
}

// startSession subscribes, binds the dispatcher and spawns the session's
// watchdog. The watchdog is the only per-session goroutine and is joined
// in teardown, so exactly one exists at a time.
func (m *Manager) startSession(parent context.Context, cand Candidate, conn Conn) (*session, error) {
	sessCtx, cancel := context.WithCancel(parent)
	sess := &session{
		id:        uuid.NewString(),
		candidate: cand,
		conn:      conn,
		caps:      conn.Capabilities(),
		cancel:    cancel,
		startedAt: time.Now(),
	}

	err := conn.Subscribe(sessCtx, func(data []byte) {
		res := m.interp.HandleNotification(sess.id, data)
		if res.Dropped {
			m.metrics.FrameDropped()
		}
		if res.Changed {
			m.poll.Kick()
			m.notifyState()
		}
		if res.Shutdown {
			m.log.Info("device announced shutdown", "session_id", sess.id)
			m.triggerReconnect("device shutdown", true)
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribing to notifications: %w", err)
	}

	m.log.Info("session established",
		"session_id", sess.id,
		"adapter", cand.ID,
		"rssi", cand.RSSI,
		"cached_pairing", sess.caps.CachedPairing)

	m.disp.Bind(sess.id, conn.Write)

	lastSeen := func() time.Time {
		seen := m.interp.State().LastSeen
		if seen.Before(sess.startedAt) {
			return sess.startedAt
		}
		return seen
	}
	wd := newWatchdog(m.log, lastSeen, func(silence time.Duration) {
		m.metrics.WatchdogTrip()
		m.triggerReconnect("watchdog staleness", false)
	})

	sess.wg.Add(1)
	go func() {
		defer sess.wg.Done()
		wd.run(sessCtx)
	}()

	// Prime availability with an immediate status refresh.
	m.pollRefresh()

	return sess, nil
}

// teardown dismantles a session completely: dispatcher unbound, context
// cancelled, link closed, goroutines joined, availability cleared. Only
// after it returns may a new session be built.
func (m *Manager) teardown(sess *session, reason string) {
	m.log.Info("tearing down session",
		"session_id", sess.id,
		"reason", reason,
		"duration", time.Since(sess.startedAt).Round(time.Second).String())

	m.disp.Unbind()
	sess.cancel()
	sess.conn.Close() //nolint:errcheck // Link may already be gone
	sess.wg.Wait()
	m.interp.SessionEnded()
	m.notifyState()
}

// triggerReconnect requests a session teardown. The critical section is
// entered lock-first: the flag is only consulted while holding the mutex,
// so concurrent triggers collapse into one reconnect.
func (m *Manager) triggerReconnect(reason string, limited bool) {
	if limited && !m.allowSentinelTrigger() {
		m.log.Debug("reconnect trigger rate-limited", "reason", reason)
		return
	}

	m.reconnectMu.Lock()
	if m.reconnecting {
		m.reconnectMu.Unlock()
		return
	}
	m.reconnecting = true
	m.reconnectMu.Unlock()

	select {
	case m.reconnectCh <- reason:
	default:
	}
}

// handleAdvertisement folds a sighting into the registry and, while
// disconnected, shortcuts the reconnect backoff at a limited rate.
func (m *Manager) handleAdvertisement(c Candidate) {
	m.registry.Observe(c)

	if m.ConnState() == StateConnected {
		return
	}

	if !m.allowAdvertTrigger() {
		return
	}
	m.wakeBackoff()
}

// wakeBackoff interrupts the backoff sleep if one is in progress.
func (m *Manager) wakeBackoff() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// allowAdvertTrigger rate-limits advertisement-driven wakeups.
func (m *Manager) allowAdvertTrigger() bool {
	m.limMu.Lock()
	defer m.limMu.Unlock()
	if time.Since(m.lastAdvertTrigger) < advertisementMinInterval {
		return false
	}
	m.lastAdvertTrigger = time.Now()
	return true
}

// allowSentinelTrigger rate-limits shutdown-sentinel reconnects,
// independent of the advertisement limiter.
func (m *Manager) allowSentinelTrigger() bool {
	m.limMu.Lock()
	defer m.limMu.Unlock()
	if time.Since(m.lastSentinelTrig) < dropRetriggerMinInterval {
		return false
	}
	m.lastSentinelTrig = time.Now()
	return true
}

// pollTier computes the adaptive polling tier from current state.
func (m *Manager) pollTier() pollTier {
	return tierFor(m.ConnState() == StateConnected, m.interp.State())
}

// pollRefresh submits a status double-poll, result discarded. Used by the
// poll controller and by session startup.
func (m *Manager) pollRefresh() {
	frames, err := buildFrames(Command{Intent: IntentStatus}, m.interp.State())
	if err != nil {
		return
	}
	m.disp.Submit(context.Background(), uuid.NewString(), string(IntentStatus), frames)
}

// setState records a lifecycle transition and fans it out to listeners.
func (m *Manager) setState(s ConnectionState) {
	old := ConnectionState(m.connState.Swap(int32(s)))
	if old == s {
		return
	}
	m.log.Info("connection state changed", "from", old.String(), "to", s.String())

	m.mu.Lock()
	listeners := make([]func(ConnectionState), len(m.connListeners))
	copy(listeners, m.connListeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

// notifyState fans a state snapshot out to listeners.
func (m *Manager) notifyState() {
	m.mu.Lock()
	listeners := make([]func(DeviceState), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	snapshot := m.interp.State()
	for _, fn := range listeners {
		fn(snapshot)
	}
}
