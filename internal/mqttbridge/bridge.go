package mqttbridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ptrevors/beurerd/internal/engine"
	"github.com/ptrevors/beurerd/internal/infrastructure/logging"
	"github.com/ptrevors/beurerd/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// commandTimeout bounds how long a submitted command may wait for the
	// engine before the bridge reports it failed.
	commandTimeout = 15 * time.Second

	// defaultMetricsInterval is how often connection metrics are published
	// when the options don't override it.
	defaultMetricsInterval = 30 * time.Second
)

// MQTTClient is the broker surface the bridge needs.
// Satisfied by *mqtt.Client; tests use a fake.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// SetOnConnect registers a callback invoked on every (re)connect.
	SetOnConnect(callback func())
}

// Engine is the lamp engine surface the bridge needs.
// Satisfied by *engine.Manager; tests use a fake.
type Engine interface {
	// CurrentState returns the latest device state snapshot.
	CurrentState() engine.DeviceState

	// ConnectionMetrics returns a snapshot of connection counters.
	ConnectionMetrics() engine.MetricsSnapshot

	// Submit queues a command and returns its result channel.
	Submit(ctx context.Context, cmd engine.Command) <-chan error

	// OnStateChange registers a listener for device state changes.
	OnStateChange(fn func(engine.DeviceState))
}

// Options configures a Bridge.
type Options struct {
	// Topics is the per-device topic set.
	Topics mqtt.Topics

	// QoS for all bridge publications.
	QoS byte

	// MetricsInterval overrides how often metrics are published.
	// Zero means the default.
	MetricsInterval time.Duration
}

// Bridge wires the engine's state stream and command intake to MQTT.
// All methods are safe for concurrent use.
type Bridge struct {
	log    *logging.Logger
	client MQTTClient
	eng    Engine
	topics mqtt.Topics
	qos    byte

	metricsInterval time.Duration

	// lastAvailable remembers the last published availability so the
	// retained topic only changes on transitions.
	mu            sync.Mutex
	lastAvailable bool
	published     bool

	// Shutdown coordination.
	runCtx   context.Context
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  bool
	startMu  sync.Mutex
}

// New creates a bridge. Call Start to begin projecting.
func New(opts Options, log *logging.Logger, client MQTTClient, eng Engine) *Bridge {
	interval := opts.MetricsInterval
	if interval == 0 {
		interval = defaultMetricsInterval
	}

	return &Bridge{
		log:             log.With("component", "mqttbridge"),
		client:          client,
		eng:             eng,
		topics:          opts.Topics,
		qos:             opts.QoS,
		metricsInterval: interval,
		done:            make(chan struct{}),
	}
}

// Start subscribes to the command topic, registers the state listener and
// begins the metrics loop. The initial state and availability are published
// immediately so retained topics are correct from the first session.
//
// Parameters:
//   - ctx: Cancellation context; stops the metrics loop when cancelled
//
// Returns:
//   - error: ErrAlreadyStarted, or a subscribe failure
func (b *Bridge) Start(ctx context.Context) error {
	b.startMu.Lock()
	if b.started {
		b.startMu.Unlock()
		return ErrAlreadyStarted
	}
	b.started = true
	b.runCtx = ctx
	b.startMu.Unlock()

	if err := b.client.Subscribe(b.topics.Command(), b.qos, b.handleCommand); err != nil {
		return err
	}

	b.eng.OnStateChange(b.publishState)
	b.client.SetOnConnect(b.republish)

	// Seed retained topics.
	b.publishState(b.eng.CurrentState())

	b.wg.Add(1)
	go b.metricsLoop(ctx)

	return nil
}

// Stop halts the metrics loop and publishes a final offline availability.
// Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.wg.Wait()

		// Best-effort: the broker LWT covers the unclean-exit case.
		//nolint:errcheck // Nothing to do with a failure during shutdown
		b.client.Publish(b.topics.Availability(), []byte(mqtt.AvailabilityOffline), b.qos, true)
	})
}

// publishState publishes the retained state snapshot and, on transitions,
// the availability topic.
func (b *Bridge) publishState(st engine.DeviceState) {
	payload, err := json.Marshal(st)
	if err != nil {
		b.log.Error("serialising device state", "error", err)
		return
	}

	if err := b.client.Publish(b.topics.State(), payload, b.qos, true); err != nil {
		b.log.Warn("publishing state", "error", err)
	}

	b.mu.Lock()
	changed := !b.published || b.lastAvailable != st.Available
	b.lastAvailable = st.Available
	b.published = true
	b.mu.Unlock()

	if changed {
		b.publishAvailability(st.Available)
	}
}

// publishAvailability publishes the retained availability flag.
func (b *Bridge) publishAvailability(available bool) {
	msg := mqtt.AvailabilityOffline
	if available {
		msg = mqtt.AvailabilityOnline
	}
	if err := b.client.Publish(b.topics.Availability(), []byte(msg), b.qos, true); err != nil {
		b.log.Warn("publishing availability", "error", err)
	}
}

// republish refreshes retained topics after a broker session is
// re-established. Called from the client's connect callback.
func (b *Bridge) republish() {
	select {
	case <-b.done:
		return
	default:
	}

	b.log.Info("broker session established, republishing retained topics")
	b.publishState(b.eng.CurrentState())
}

// handleCommand decodes a command message and submits it to the engine.
// The submit result is awaited asynchronously so the broker receive path
// never blocks behind the lamp's command pacing.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	var cmd engine.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.log.Warn("undecodable command message", "topic", topic, "error", err)
		return ErrBadCommand
	}
	if cmd.Intent == "" {
		b.log.Warn("command message without intent", "topic", topic)
		return ErrBadCommand
	}

	b.log.Debug("command received", "intent", string(cmd.Intent))

	ctx, cancel := context.WithTimeout(b.runCtx, commandTimeout)
	result := b.eng.Submit(ctx, cmd)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer cancel()

		select {
		case err := <-result:
			if err != nil {
				b.log.Warn("command failed", "intent", string(cmd.Intent), "error", err)
			}
		case <-b.done:
		}
	}()

	return nil
}

// metricsLoop periodically publishes connection metrics.
func (b *Bridge) metricsLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			b.publishMetrics()
		}
	}
}

// publishMetrics publishes a single metrics snapshot. Skipped while the
// broker session is down; metrics are moment-in-time and not worth queueing.
func (b *Bridge) publishMetrics() {
	if !b.client.IsConnected() {
		return
	}

	snap := b.eng.ConnectionMetrics()
	payload, err := json.Marshal(snap)
	if err != nil {
		b.log.Error("serialising metrics", "error", err)
		return
	}

	if err := b.client.Publish(b.topics.Metrics(), payload, b.qos, false); err != nil {
		b.log.Warn("publishing metrics", "error", err)
	}
}
