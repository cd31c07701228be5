package health

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ptrevors/beurerd/internal/engine"
	"github.com/ptrevors/beurerd/internal/infrastructure/logging"
)

type fakePublisher struct {
	mu        sync.Mutex
	payloads  [][]byte
	topics    []string
	connected bool
}

func (f *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return nil
}

func (f *fakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePublisher) reports(t *testing.T) []Report {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Report, 0, len(f.payloads))
	for _, p := range f.payloads {
		var r Report
		if err := json.Unmarshal(p, &r); err != nil {
			t.Fatalf("unmarshalling report: %v", err)
		}
		out = append(out, r)
	}
	return out
}

type fakeEngine struct {
	state engine.ConnectionState
	dev   engine.DeviceState
	snap  engine.MetricsSnapshot
}

func (f *fakeEngine) ConnState() engine.ConnectionState { return f.state }

func (f *fakeEngine) CurrentState() engine.DeviceState { return f.dev }

func (f *fakeEngine) ConnectionMetrics() engine.MetricsSnapshot { return f.snap }

func newTestReporter(pub *fakePublisher, eng *fakeEngine) *Reporter {
	return NewReporter(Options{
		Device:   "aabbccddeeff",
		Version:  "test",
		Topic:    "beurerd/health",
		Interval: 10 * time.Millisecond,
	}, logging.Default(), pub, eng)
}

func TestPublishNow_Healthy(t *testing.T) {
	pub := &fakePublisher{connected: true}
	eng := &fakeEngine{
		state: engine.StateConnected,
		dev:   engine.DeviceState{Available: true},
		snap:  engine.MetricsSnapshot{Reconnects: 2, WatchdogTrips: 1},
	}

	r := newTestReporter(pub, eng)
	if err := r.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	reports := pub.reports(t)
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}

	got := reports[0]
	if got.Status != StatusHealthy {
		t.Errorf("Status = %s, want healthy", got.Status)
	}
	if got.Service != "beurerd" || got.Device != "aabbccddeeff" {
		t.Errorf("identity fields = %s/%s", got.Service, got.Device)
	}
	if !got.DeviceAvailable || got.Reconnects != 2 || got.WatchdogTrips != 1 {
		t.Errorf("report = %+v", got)
	}
	if pub.topics[0] != "beurerd/health" {
		t.Errorf("topic = %s", pub.topics[0])
	}
}

func TestPublishNow_DegradedWhenLinkDown(t *testing.T) {
	pub := &fakePublisher{connected: true}
	eng := &fakeEngine{state: engine.StateReconnecting}

	r := newTestReporter(pub, eng)
	if err := r.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	got := pub.reports(t)[0]
	if got.Status != StatusDegraded {
		t.Errorf("Status = %s, want degraded", got.Status)
	}
	if got.Reason != "device link down" {
		t.Errorf("Reason = %q", got.Reason)
	}
}

func TestPublishNow_DegradedWhenBrokerDown(t *testing.T) {
	pub := &fakePublisher{connected: false}
	eng := &fakeEngine{state: engine.StateConnected}

	r := newTestReporter(pub, eng)
	if err := r.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	got := pub.reports(t)[0]
	if got.Status != StatusDegraded || got.Reason != "broker disconnected" {
		t.Errorf("report = %+v", got)
	}
}

func TestReportLoop(t *testing.T) {
	pub := &fakePublisher{connected: true}
	eng := &fakeEngine{state: engine.StateConnected}

	r := newTestReporter(pub, eng)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.Start(ctx)

	deadline := time.After(2 * time.Second)
	for {
		if len(pub.reports(t)) >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("too few reports published")
		case <-time.After(5 * time.Millisecond):
		}
	}

	r.Stop()

	reports := pub.reports(t)
	last := reports[len(reports)-1]
	if last.Status != StatusStopping {
		t.Errorf("final Status = %s, want stopping", last.Status)
	}
}

func TestStop_Idempotent(t *testing.T) {
	pub := &fakePublisher{connected: true}
	r := newTestReporter(pub, &fakeEngine{})

	r.Start(context.Background())
	r.Stop()
	r.Stop()
}
