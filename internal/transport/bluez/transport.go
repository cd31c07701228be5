package bluez

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/ptrevors/beurerd/internal/engine"
	"github.com/ptrevors/beurerd/internal/infrastructure/logging"
)

// BlueZ D-Bus names.
const (
	bluezBus = "org.bluez"

	adapterIface = "org.bluez.Adapter1"
	deviceIface  = "org.bluez.Device1"
	gattIface    = "org.bluez.GattCharacteristic1"
	propsIface   = "org.freedesktop.DBus.Properties"

	objectManagerCall  = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
	startDiscoveryCall = adapterIface + ".StartDiscovery"
	stopDiscoveryCall  = adapterIface + ".StopDiscovery"
	connectCall        = deviceIface + ".Connect"
	disconnectCall     = deviceIface + ".Disconnect"
	writeValueCall     = gattIface + ".WriteValue"
	startNotifyCall    = gattIface + ".StartNotify"
)

// GATT characteristic UUIDs of the lamp's control service.
const (
	writeCharUUID  = "8b00ace7-eb0b-49b0-bbe9-9aee0a26e1a3"
	notifyCharUUID = "0734594a-a8e7-4b1a-a6b1-cd5243059a57"
)

// discoverySettle is how long a discovery scan runs before the object tree
// is re-read when the device wasn't already known.
const discoverySettle = 2 * time.Second

// managedObjects is the ObjectManager tree shape.
type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Transport implements engine.Transport over the system D-Bus.
// Safe for concurrent use.
type Transport struct {
	log  *logging.Logger
	conn *dbus.Conn

	// mac is the lamp's address in BlueZ's canonical upper-case form.
	mac string

	mu         sync.Mutex
	advertFn   func(engine.Candidate)
	signalOnce sync.Once
}

// New creates a transport bound to one lamp address.
//
// Parameters:
//   - mac: Device address (AA:BB:CC:DD:EE:FF, any case)
//   - log: Structured logger
//
// Returns:
//   - *Transport: Ready transport; the D-Bus connection is shared by all
//     candidates
//   - error: If the system bus is unreachable
func New(mac string, log *logging.Logger) (*Transport, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to system bus: %w", err)
	}

	return &Transport{
		log:  log.With("component", "bluez"),
		conn: conn,
		mac:  strings.ToUpper(mac),
	}, nil
}

// Close releases the D-Bus connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// ListCandidates discovers adapters that can currently reach the lamp.
//
// Adapters that already hold a device object for the address are returned
// immediately. When none do, every powered adapter runs a short discovery
// scan and the tree is re-read once.
//
// Parameters:
//   - ctx: Bounds the scan
//
// Returns:
//   - []engine.Candidate: One candidate per adapter that has seen the lamp
//   - error: ErrNoAdapter, or a D-Bus failure
func (t *Transport) ListCandidates(ctx context.Context) ([]engine.Candidate, error) {
	objects, err := t.managedObjects()
	if err != nil {
		return nil, err
	}

	adapters := adapterPaths(objects)
	if len(adapters) == 0 {
		return nil, ErrNoAdapter
	}

	candidates := t.collectCandidates(objects)
	if len(candidates) > 0 {
		return candidates, nil
	}

	// Not in the tree yet: scan and look again.
	t.log.Debug("device not cached, starting discovery", "adapters", len(adapters))
	for _, path := range adapters {
		if err := t.conn.Object(bluezBus, path).Call(startDiscoveryCall, 0).Store(); err != nil {
			// Discovery may already be running; not fatal.
			t.log.Debug("starting discovery", "adapter", string(path), "error", err)
		}
	}
	defer func() {
		for _, path := range adapters {
			//nolint:errcheck // Best-effort; BlueZ stops discovery on idle anyway
			t.conn.Object(bluezBus, path).Call(stopDiscoveryCall, 0).Store()
		}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(discoverySettle):
	}

	objects, err = t.managedObjects()
	if err != nil {
		return nil, err
	}
	return t.collectCandidates(objects), nil
}

// Connect establishes a link through the given candidate.
//
// Adapter congestion ("busy" or operation-in-progress replies from BlueZ)
// is wrapped in engine.ErrNoCapacity so the manager can move on to the
// next candidate without recording a failure.
func (t *Transport) Connect(ctx context.Context, candidate engine.Candidate) (engine.Conn, error) {
	devicePath, paired, err := t.findDevice(candidate.ID)
	if err != nil {
		return nil, err
	}

	device := t.conn.Object(bluezBus, devicePath)
	call := device.CallWithContext(ctx, connectCall, 0)
	if call.Err != nil {
		if isCapacityError(call.Err) {
			return nil, fmt.Errorf("%w: adapter %s: %w", engine.ErrNoCapacity, candidate.ID, call.Err)
		}
		return nil, fmt.Errorf("connecting via %s: %w", candidate.ID, call.Err)
	}

	writeChar, notifyChar, err := t.findCharacteristics(ctx, devicePath)
	if err != nil {
		//nolint:errcheck // Best-effort teardown of the half-open link
		device.Call(disconnectCall, 0).Store()
		return nil, err
	}

	c := newConn(t.conn, t.log, devicePath, writeChar, notifyChar, engine.Capabilities{
		CachedPairing: paired,
	})

	t.log.Info("link established",
		"adapter", candidate.ID,
		"device", string(devicePath),
		"cached_pairing", paired,
	)
	return c, nil
}

// OnAdvertisement registers a callback for device advertisements.
//
// The first registration adds a PropertiesChanged match for Device1
// objects; RSSI updates on the lamp's device objects are reported as
// fresh candidates.
func (t *Transport) OnAdvertisement(fn func(engine.Candidate)) {
	t.mu.Lock()
	t.advertFn = fn
	t.mu.Unlock()

	t.signalOnce.Do(func() {
		err := t.conn.AddMatchSignal(
			dbus.WithMatchInterface(propsIface),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchArg(0, deviceIface),
		)
		if err != nil {
			t.log.Warn("adding advertisement match", "error", err)
			return
		}

		sigCh := make(chan *dbus.Signal, 16)
		t.conn.Signal(sigCh)
		go t.watchSignals(sigCh)
	})
}

// watchSignals turns RSSI property changes on the lamp's device objects
// into advertisement callbacks.
func (t *Transport) watchSignals(sigCh <-chan *dbus.Signal) {
	for sig := range sigCh {
		if sig.Name != propsIface+".PropertiesChanged" || len(sig.Body) < 2 {
			continue
		}
		iface, ok := sig.Body[0].(string)
		if !ok || iface != deviceIface {
			continue
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			continue
		}

		rssiVar, hasRSSI := changed["RSSI"]
		if !hasRSSI {
			continue
		}

		adapterID, address, ok := t.parseDevicePath(sig.Path)
		if !ok {
			continue
		}

		rssi := 0
		if v, ok := rssiVar.Value().(int16); ok {
			rssi = int(v)
		}

		t.mu.Lock()
		fn := t.advertFn
		t.mu.Unlock()
		if fn != nil {
			fn(engine.Candidate{
				ID:       adapterID,
				Address:  address,
				RSSI:     rssi,
				LastSeen: time.Now(),
			})
		}
	}
}

// managedObjects reads the full BlueZ object tree.
func (t *Transport) managedObjects() (managedObjects, error) {
	var objects managedObjects
	err := t.conn.Object(bluezBus, "/").Call(objectManagerCall, 0).Store(&objects)
	if err != nil {
		return nil, fmt.Errorf("reading object tree: %w", err)
	}
	return objects, nil
}

// collectCandidates builds one candidate per adapter holding a device
// object for the lamp.
func (t *Transport) collectCandidates(objects managedObjects) []engine.Candidate {
	var out []engine.Candidate
	for path, ifaces := range objects {
		dev, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		addr, _ := dev["Address"].Value().(string)
		if !strings.EqualFold(addr, t.mac) {
			continue
		}

		adapterID, _, ok := t.parseDevicePath(path)
		if !ok {
			continue
		}

		cand := engine.Candidate{
			ID:       adapterID,
			Address:  strings.ToUpper(addr),
			LastSeen: time.Now(),
		}
		if rssi, ok := dev["RSSI"].Value().(int16); ok {
			cand.RSSI = int(rssi)
		}
		out = append(out, cand)
	}
	return out
}

// findDevice resolves the lamp's device object under the given adapter and
// reports whether BlueZ holds bonding data for it.
func (t *Transport) findDevice(adapterID string) (dbus.ObjectPath, bool, error) {
	objects, err := t.managedObjects()
	if err != nil {
		return "", false, err
	}

	want := dbus.ObjectPath("/org/bluez/" + adapterID + "/dev_" + strings.ReplaceAll(t.mac, ":", "_"))
	dev, ok := objects[want][deviceIface]
	if !ok {
		return "", false, fmt.Errorf("%w: %s on %s", ErrDeviceNotFound, t.mac, adapterID)
	}

	paired, _ := dev["Paired"].Value().(bool)
	return want, paired, nil
}

// findCharacteristics locates the write and notify characteristics under
// the device's GATT tree. Service resolution can lag Connect; the tree is
// polled until the context expires.
func (t *Transport) findCharacteristics(ctx context.Context, devicePath dbus.ObjectPath) (dbus.ObjectPath, dbus.ObjectPath, error) {
	for {
		objects, err := t.managedObjects()
		if err != nil {
			return "", "", err
		}

		var writeChar, notifyChar dbus.ObjectPath
		prefix := string(devicePath) + "/"
		for path, ifaces := range objects {
			char, ok := ifaces[gattIface]
			if !ok || !strings.HasPrefix(string(path), prefix) {
				continue
			}
			uuid, _ := char["UUID"].Value().(string)
			switch strings.ToLower(uuid) {
			case writeCharUUID:
				writeChar = path
			case notifyCharUUID:
				notifyChar = path
			}
		}

		if writeChar != "" && notifyChar != "" {
			return writeChar, notifyChar, nil
		}

		select {
		case <-ctx.Done():
			return "", "", fmt.Errorf("%w: service resolution timed out", ErrCharacteristicNotFound)
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// parseDevicePath splits /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF into the
// adapter ID and address, filtering for this transport's lamp.
func (t *Transport) parseDevicePath(path dbus.ObjectPath) (string, string, bool) {
	parts := strings.Split(string(path), "/")
	// ["", "org", "bluez", "hci0", "dev_AA_BB_..."]
	if len(parts) < 5 || !strings.HasPrefix(parts[4], "dev_") {
		return "", "", false
	}

	address := strings.ReplaceAll(strings.TrimPrefix(parts[4], "dev_"), "_", ":")
	if !strings.EqualFold(address, t.mac) {
		return "", "", false
	}
	return parts[3], strings.ToUpper(address), true
}

// adapterPaths returns every org.bluez.Adapter1 object path.
func adapterPaths(objects managedObjects) []dbus.ObjectPath {
	var out []dbus.ObjectPath
	for path, ifaces := range objects {
		if _, ok := ifaces[adapterIface]; ok {
			out = append(out, path)
		}
	}
	return out
}

// isCapacityError reports whether a BlueZ connect failure means the
// adapter is out of connection slots rather than the device being
// unreachable.
func isCapacityError(err error) bool {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		if dbusErr.Name == "org.bluez.Error.InProgress" {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "br-connection-busy") ||
		strings.Contains(msg, "le-connection-abort") ||
		strings.Contains(msg, "in progress")
}
