package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteConnectionEvent records a connection lifecycle event.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - device: Normalised device address (e.g. "aabbccddeeff")
//   - event: Lifecycle state entered ("connecting", "connected", "reconnecting", "disconnected")
//   - reason: Free-text cause, may be empty
func (c *Client) WriteConnectionEvent(device string, event string, reason string) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"count": 1,
	}
	if reason != "" {
		fields["reason"] = reason
	}

	point := write.NewPoint(
		"connection_events",
		map[string]string{
			"device": device,
			"event":  event,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCommandMetric records a dispatched command's outcome and latency.
//
// Parameters:
//   - device: Normalised device address
//   - intent: Command intent name (e.g. "set_brightness")
//   - outcome: Terminal outcome ("ok", "error", "cancelled")
//   - latency: Submit-to-completion duration
func (c *Client) WriteCommandMetric(device string, intent string, outcome string, latency time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"commands",
		map[string]string{
			"device":  device,
			"intent":  intent,
			"outcome": outcome,
		},
		map[string]interface{}{
			"latency_ms": float64(latency.Milliseconds()),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteEngineSnapshot records a periodic engine metrics snapshot.
//
// Fields typically carry reconnect counts, command success rate, uptime
// and the last observed RSSI. Low-cardinality identification goes in the
// device tag; everything else belongs in fields.
//
// Parameters:
//   - device: Normalised device address
//   - fields: Snapshot values keyed by metric name
func (c *Client) WriteEngineSnapshot(device string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"engine_metrics",
		map[string]string{
			"device": device,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g. delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
