package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of the beurerd topic tree.
const TopicPrefix = "beurerd"

// Topics builds the MQTT topic names for one lamp. The device address is
// normalised to lowercase hex without separators, so AA:BB:CC:DD:EE:FF
// publishes under beurerd/aabbccddeeff/.
type Topics struct {
	mac string
}

// NewTopics creates a topic builder for a device address.
func NewTopics(mac string) Topics {
	normalised := strings.ToLower(strings.ReplaceAll(mac, ":", ""))
	return Topics{mac: normalised}
}

// Device returns the normalised device address used as the topic segment.
func (t Topics) Device() string {
	return t.mac
}

// State returns the retained device state topic.
//
// Example: beurerd/aabbccddeeff/state
func (t Topics) State() string {
	return fmt.Sprintf("%s/%s/state", TopicPrefix, t.mac)
}

// Availability returns the retained availability topic. Payloads are the
// plain strings "online" and "offline"; the broker's Last Will publishes
// "offline" if the daemon dies.
//
// Example: beurerd/aabbccddeeff/availability
func (t Topics) Availability() string {
	return fmt.Sprintf("%s/%s/availability", TopicPrefix, t.mac)
}

// Command returns the topic the daemon listens on for inbound commands.
//
// Example: beurerd/aabbccddeeff/command
func (t Topics) Command() string {
	return fmt.Sprintf("%s/%s/command", TopicPrefix, t.mac)
}

// Metrics returns the connection metrics topic.
//
// Example: beurerd/aabbccddeeff/metrics
func (t Topics) Metrics() string {
	return fmt.Sprintf("%s/%s/metrics", TopicPrefix, t.mac)
}

// Health returns the daemon health topic, shared across devices.
//
// Example: beurerd/health
func (Topics) Health() string {
	return fmt.Sprintf("%s/health", TopicPrefix)
}
