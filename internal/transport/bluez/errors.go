package bluez

import "errors"

// Sentinel errors for BlueZ transport operations.
var (
	// ErrNoAdapter indicates no powered Bluetooth adapter was found.
	ErrNoAdapter = errors.New("bluez: no adapter available")

	// ErrDeviceNotFound indicates the lamp is not known to any adapter.
	ErrDeviceNotFound = errors.New("bluez: device not found")

	// ErrCharacteristicNotFound indicates the expected GATT characteristic
	// is missing from the device's service tree.
	ErrCharacteristicNotFound = errors.New("bluez: characteristic not found")

	// ErrConnClosed indicates an operation on a closed connection.
	ErrConnClosed = errors.New("bluez: connection closed")
)
