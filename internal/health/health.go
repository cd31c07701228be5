package health

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ptrevors/beurerd/internal/engine"
	"github.com/ptrevors/beurerd/internal/infrastructure/logging"
)

// defaultInterval is how often health reports are published when the
// configuration doesn't override it.
const defaultInterval = 30 * time.Second

// Report statuses.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusStopping = "stopping"
)

// Publisher is the broker surface the reporter needs.
// Satisfied by *mqtt.Client; tests use a fake.
type Publisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// EngineStatus is the engine surface the reporter evaluates.
// Satisfied by *engine.Manager.
type EngineStatus interface {
	// ConnState returns the connection state machine's current state.
	ConnState() engine.ConnectionState

	// CurrentState returns the latest device state snapshot.
	CurrentState() engine.DeviceState

	// ConnectionMetrics returns a snapshot of connection counters.
	ConnectionMetrics() engine.MetricsSnapshot
}

// Report is the JSON document published on the health topic.
type Report struct {
	Service         string    `json:"service"`
	Version         string    `json:"version"`
	Status          string    `json:"status"`
	Reason          string    `json:"reason,omitempty"`
	Device          string    `json:"device"`
	ConnState       string    `json:"conn_state"`
	DeviceAvailable bool      `json:"device_available"`
	UptimeSeconds   float64   `json:"uptime_seconds"`
	Reconnects      uint64    `json:"reconnects"`
	WatchdogTrips   uint64    `json:"watchdog_trips"`
	Timestamp       time.Time `json:"timestamp"`
}

// Options configures a Reporter.
type Options struct {
	// Device is the normalised device address included in reports.
	Device string

	// Version is the daemon version string.
	Version string

	// Topic is the health topic to publish to.
	Topic string

	// Interval is how often to publish. Zero means the default.
	Interval time.Duration
}

// Reporter publishes periodic health reports.
// Safe for concurrent use.
type Reporter struct {
	log       *logging.Logger
	publisher Publisher
	eng       EngineStatus
	opts      Options
	startTime time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewReporter creates a reporter. Call Start to begin reporting.
func NewReporter(opts Options, log *logging.Logger, publisher Publisher, eng EngineStatus) *Reporter {
	if opts.Interval == 0 {
		opts.Interval = defaultInterval
	}

	return &Reporter{
		log:       log.With("component", "health"),
		publisher: publisher,
		eng:       eng,
		opts:      opts,
		startTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting. Call Stop to shut down.
//
// Parameters:
//   - ctx: Context for cancellation; stops reporting when cancelled
func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.reportLoop(ctx)
}

// Stop gracefully stops reporting and publishes a final "stopping" report.
// Safe to call multiple times.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		r.publish(StatusStopping, "shutting down")
	})
}

// PublishNow publishes the current health report immediately.
// Useful after a significant event like a forced reconnect.
func (r *Reporter) PublishNow() error {
	status, reason := r.evaluate()
	return r.publish(status, reason)
}

// reportLoop runs the periodic reporting.
func (r *Reporter) reportLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	if err := r.PublishNow(); err != nil {
		r.log.Warn("publishing initial health report", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			if err := r.PublishNow(); err != nil {
				r.log.Warn("publishing health report", "error", err)
			}
		}
	}
}

// evaluate determines the current status.
//
// The daemon is healthy while the lamp link is up; a down link is
// "degraded" rather than unhealthy because reconnection is the engine's
// normal operating mode, not a fault.
func (r *Reporter) evaluate() (string, string) {
	if r.publisher == nil || !r.publisher.IsConnected() {
		return StatusDegraded, "broker disconnected"
	}
	if r.eng.ConnState() != engine.StateConnected {
		return StatusDegraded, "device link down"
	}
	return StatusHealthy, ""
}

// publish serialises and publishes a single report.
func (r *Reporter) publish(status string, reason string) error {
	if r.publisher == nil {
		return nil
	}

	snap := r.eng.ConnectionMetrics()
	report := Report{
		Service:         "beurerd",
		Version:         r.opts.Version,
		Status:          status,
		Reason:          reason,
		Device:          r.opts.Device,
		ConnState:       r.eng.ConnState().String(),
		DeviceAvailable: r.eng.CurrentState().Available,
		UptimeSeconds:   time.Since(r.startTime).Seconds(),
		Reconnects:      snap.Reconnects,
		WatchdogTrips:   snap.WatchdogTrips,
		Timestamp:       time.Now().UTC(),
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}

	return r.publisher.Publish(r.opts.Topic, payload, 1, true)
}
