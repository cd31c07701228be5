// Package bluez implements the engine's Transport interface over BlueZ's
// D-Bus API.
//
// Discovery walks the ObjectManager tree for org.bluez.Adapter1 and
// org.bluez.Device1 objects matching the configured lamp address, starting
// a discovery scan when the device hasn't been seen yet. Each local
// adapter (hci0, hci1, ...) is a separate connection candidate so a lamp
// in range of two dongles gets two independent paths.
//
// Connections go through org.bluez.Device1.Connect, then the write and
// notify characteristics are located by UUID under the device's GATT
// tree. Notifications arrive as PropertiesChanged signals on the notify
// characteristic's Value property; disconnects as a Connected=false
// change on the device object.
//
// BlueZ rejects connects with "br-connection-busy" or an in-progress
// error when an adapter has no free connection slots; those are mapped to
// engine.ErrNoCapacity so the manager skips the adapter without counting
// a failure.
package bluez
