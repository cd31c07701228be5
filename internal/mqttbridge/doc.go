// Package mqttbridge projects the lamp engine onto MQTT.
//
// The bridge publishes three things for a single device:
//
//   - beurerd/<mac>/state        — retained JSON snapshot, republished on change
//   - beurerd/<mac>/availability — retained "online"/"offline", tracking the
//     device's availability flag rather than the daemon's broker session
//   - beurerd/<mac>/metrics      — periodic connection metrics, not retained
//
// and subscribes to beurerd/<mac>/command, decoding JSON command messages
// and submitting them to the engine. Retained messages are republished
// whenever the broker session is re-established so a restarted broker
// converges without waiting for the next device event.
//
// The bridge talks to its collaborators through small interfaces so tests
// can run without a broker or a lamp.
package mqttbridge
