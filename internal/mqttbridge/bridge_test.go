package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ptrevors/beurerd/internal/engine"
	"github.com/ptrevors/beurerd/internal/infrastructure/logging"
	"github.com/ptrevors/beurerd/internal/infrastructure/mqtt"
)

// publication records a single Publish call.
type publication struct {
	topic    string
	payload  []byte
	retained bool
}

// fakeMQTT captures publications and the command subscription.
type fakeMQTT struct {
	mu        sync.Mutex
	pubs      []publication
	handler   mqtt.MessageHandler
	subTopic  string
	onConnect func()
	connected bool
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{connected: true}
}

func (f *fakeMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubs = append(f.pubs, publication{topic: topic, payload: append([]byte(nil), payload...), retained: retained})
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subTopic = topic
	f.handler = handler
	return nil
}

func (f *fakeMQTT) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeMQTT) SetOnConnect(callback func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = callback
}

// published returns publications on a topic, newest last.
func (f *fakeMQTT) published(topic string) []publication {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publication
	for _, p := range f.pubs {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// fakeEngine satisfies Engine with canned state and a submit recorder.
type fakeEngine struct {
	mu        sync.Mutex
	state     engine.DeviceState
	listener  func(engine.DeviceState)
	submitted []engine.Command
	submitErr error
}

func (f *fakeEngine) CurrentState() engine.DeviceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeEngine) ConnectionMetrics() engine.MetricsSnapshot {
	return engine.MetricsSnapshot{ConnectAttempts: 3, CommandSuccessRate: 1.0}
}

func (f *fakeEngine) Submit(ctx context.Context, cmd engine.Command) <-chan error {
	f.mu.Lock()
	f.submitted = append(f.submitted, cmd)
	err := f.submitErr
	f.mu.Unlock()

	result := make(chan error, 1)
	result <- err
	return result
}

func (f *fakeEngine) OnStateChange(fn func(engine.DeviceState)) {
	f.mu.Lock()
	f.listener = fn
	f.mu.Unlock()
}

func (f *fakeEngine) notify(st engine.DeviceState) {
	f.mu.Lock()
	f.state = st
	fn := f.listener
	f.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (f *fakeEngine) commands() []engine.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Command(nil), f.submitted...)
}

func newTestBridge(t *testing.T, eng *fakeEngine) (*Bridge, *fakeMQTT) {
	t.Helper()

	client := newFakeMQTT()
	b := New(Options{
		Topics:          mqtt.NewTopics("AA:BB:CC:DD:EE:FF"),
		QoS:             1,
		MetricsInterval: 20 * time.Millisecond,
	}, logging.Default(), client, eng)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	return b, client
}

func TestBridge_SeedsRetainedTopics(t *testing.T) {
	eng := &fakeEngine{}
	_, client := newTestBridge(t, eng)

	states := client.published("beurerd/aabbccddeeff/state")
	if len(states) != 1 {
		t.Fatalf("state publications = %d, want 1", len(states))
	}
	if !states[0].retained {
		t.Error("state publication not retained")
	}

	avail := client.published("beurerd/aabbccddeeff/availability")
	if len(avail) != 1 || string(avail[0].payload) != mqtt.AvailabilityOffline {
		t.Fatalf("availability = %+v, want one retained offline", avail)
	}
}

func TestBridge_PublishesStateOnChange(t *testing.T) {
	eng := &fakeEngine{}
	_, client := newTestBridge(t, eng)

	eng.notify(engine.DeviceState{Available: true, WhiteOn: true, WhiteBrightness: 60})

	states := client.published("beurerd/aabbccddeeff/state")
	if len(states) != 2 {
		t.Fatalf("state publications = %d, want 2", len(states))
	}

	var st engine.DeviceState
	if err := json.Unmarshal(states[1].payload, &st); err != nil {
		t.Fatalf("unmarshalling state: %v", err)
	}
	if !st.WhiteOn || st.WhiteBrightness != 60 {
		t.Errorf("published state = %+v", st)
	}
}

func TestBridge_AvailabilityOnlyOnTransition(t *testing.T) {
	eng := &fakeEngine{}
	_, client := newTestBridge(t, eng)

	eng.notify(engine.DeviceState{Available: true})
	eng.notify(engine.DeviceState{Available: true, WhiteOn: true})
	eng.notify(engine.DeviceState{Available: false})

	avail := client.published("beurerd/aabbccddeeff/availability")
	// Seed offline, transition online, transition offline.
	if len(avail) != 3 {
		t.Fatalf("availability publications = %d, want 3", len(avail))
	}
	if string(avail[1].payload) != mqtt.AvailabilityOnline {
		t.Errorf("avail[1] = %s, want online", avail[1].payload)
	}
	if string(avail[2].payload) != mqtt.AvailabilityOffline {
		t.Errorf("avail[2] = %s, want offline", avail[2].payload)
	}
}

func TestBridge_CommandDispatch(t *testing.T) {
	eng := &fakeEngine{}
	_, client := newTestBridge(t, eng)

	payload := []byte(`{"intent":"set_brightness","percent":75,"assume_mode":true}`)
	if err := client.handler("beurerd/aabbccddeeff/command", payload); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	cmds := eng.commands()
	if len(cmds) != 1 {
		t.Fatalf("submitted = %d, want 1", len(cmds))
	}
	if cmds[0].Intent != engine.IntentSetBrightness || cmds[0].Percent != 75 || !cmds[0].AssumeMode {
		t.Errorf("submitted command = %+v", cmds[0])
	}
}

func TestBridge_CommandValidation(t *testing.T) {
	eng := &fakeEngine{}
	_, client := newTestBridge(t, eng)

	tests := []struct {
		name    string
		payload string
	}{
		{name: "malformed json", payload: `{"intent":`},
		{name: "missing intent", payload: `{"percent":50}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.handler("beurerd/aabbccddeeff/command", []byte(tt.payload))
			if !errors.Is(err, ErrBadCommand) {
				t.Errorf("handler error = %v, want ErrBadCommand", err)
			}
		})
	}

	if len(eng.commands()) != 0 {
		t.Errorf("submitted = %d, want 0", len(eng.commands()))
	}
}

func TestBridge_RepublishOnReconnect(t *testing.T) {
	eng := &fakeEngine{}
	_, client := newTestBridge(t, eng)

	before := len(client.published("beurerd/aabbccddeeff/state"))
	client.onConnect()

	after := len(client.published("beurerd/aabbccddeeff/state"))
	if after != before+1 {
		t.Errorf("state publications after reconnect = %d, want %d", after, before+1)
	}
}

func TestBridge_MetricsLoop(t *testing.T) {
	eng := &fakeEngine{}
	_, client := newTestBridge(t, eng)

	deadline := time.After(2 * time.Second)
	for {
		pubs := client.published("beurerd/aabbccddeeff/metrics")
		if len(pubs) > 0 {
			if pubs[0].retained {
				t.Error("metrics publication retained, want not retained")
			}
			var snap engine.MetricsSnapshot
			if err := json.Unmarshal(pubs[0].payload, &snap); err != nil {
				t.Fatalf("unmarshalling metrics: %v", err)
			}
			if snap.ConnectAttempts != 3 {
				t.Errorf("ConnectAttempts = %d, want 3", snap.ConnectAttempts)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("no metrics published")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestBridge_StartTwice(t *testing.T) {
	eng := &fakeEngine{}
	b, _ := newTestBridge(t, eng)

	if err := b.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}
