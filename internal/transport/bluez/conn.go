package bluez

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/ptrevors/beurerd/internal/engine"
	"github.com/ptrevors/beurerd/internal/infrastructure/logging"
)

// conn is a live GATT link to the lamp. It implements engine.Conn.
type conn struct {
	bus  *dbus.Conn
	log  *logging.Logger
	caps engine.Capabilities

	devicePath dbus.ObjectPath
	writeChar  dbus.ObjectPath
	notifyChar dbus.ObjectPath

	mu         sync.Mutex
	handler    func(data []byte)
	subscribed bool
	closed     bool
	dropErr    error

	done   chan struct{}
	sigCh  chan *dbus.Signal
	closeO sync.Once
}

func newConn(bus *dbus.Conn, log *logging.Logger, devicePath, writeChar, notifyChar dbus.ObjectPath, caps engine.Capabilities) *conn {
	return &conn{
		bus:        bus,
		log:        log,
		caps:       caps,
		devicePath: devicePath,
		writeChar:  writeChar,
		notifyChar: notifyChar,
		done:       make(chan struct{}),
	}
}

// Write sends one complete frame to the control characteristic.
func (c *conn) Write(ctx context.Context, frame []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}

	char := c.bus.Object(bluezBus, c.writeChar)
	call := char.CallWithContext(ctx, writeValueCall, 0, frame, map[string]interface{}{})
	if call.Err != nil {
		return fmt.Errorf("writing frame: %w", call.Err)
	}
	return nil
}

// Subscribe enables notifications on the status characteristic and starts
// the signal pump. Must be called exactly once per connection.
func (c *conn) Subscribe(ctx context.Context, handler func(data []byte)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	if c.subscribed {
		c.mu.Unlock()
		return fmt.Errorf("bluez: already subscribed")
	}
	c.subscribed = true
	c.handler = handler
	c.mu.Unlock()

	// Value updates and the device's Connected flag both arrive as
	// PropertiesChanged; one match covers both paths.
	err := c.bus.AddMatchSignal(
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(c.devicePath),
	)
	if err != nil {
		return fmt.Errorf("adding notification match: %w", err)
	}

	char := c.bus.Object(bluezBus, c.notifyChar)
	call := char.CallWithContext(ctx, startNotifyCall, 0)
	if call.Err != nil {
		return fmt.Errorf("enabling notifications: %w", call.Err)
	}

	c.sigCh = make(chan *dbus.Signal, 32)
	c.bus.Signal(c.sigCh)
	go c.pump()

	return nil
}

// pump routes PropertiesChanged signals to the notification handler and
// watches for the link dropping.
func (c *conn) pump() {
	for sig := range c.sigCh {
		if sig.Name != propsIface+".PropertiesChanged" || len(sig.Body) < 2 {
			continue
		}
		iface, ok := sig.Body[0].(string)
		if !ok {
			continue
		}
		changed, ok := sig.Body[1].(map[string]dbus.Variant)
		if !ok {
			continue
		}

		switch {
		case iface == gattIface && sig.Path == c.notifyChar:
			if v, ok := changed["Value"]; ok {
				if data, ok := v.Value().([]byte); ok {
					c.mu.Lock()
					handler := c.handler
					c.mu.Unlock()
					if handler != nil {
						handler(data)
					}
				}
			}

		case iface == deviceIface && sig.Path == c.devicePath:
			if v, ok := changed["Connected"]; ok {
				if connected, ok := v.Value().(bool); ok && !connected {
					c.drop(fmt.Errorf("bluez: device disconnected"))
					return
				}
			}
		}
	}
}

// Capabilities reports link capabilities negotiated at connect time.
func (c *conn) Capabilities() engine.Capabilities {
	return c.caps
}

// Done is closed when the link drops, whatever the cause.
func (c *conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the drop reason after Done is closed, nil before.
func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropErr
}

// Close tears the link down. Safe to call multiple times.
func (c *conn) Close() error {
	c.drop(nil)

	device := c.bus.Object(bluezBus, c.devicePath)
	if err := device.Call(disconnectCall, 0).Store(); err != nil {
		// The link may already be gone; only log.
		c.log.Debug("disconnecting device", "error", err)
	}
	return nil
}

// drop marks the connection dead and wakes Done waiters. The first cause
// wins; Close after a drop keeps the original error.
func (c *conn) drop(cause error) {
	c.closeO.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.dropErr = cause
		sigCh := c.sigCh
		c.mu.Unlock()

		if sigCh != nil {
			c.bus.RemoveSignal(sigCh)
			close(sigCh)
		}
		close(c.done)
	})
}
