package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps outbound payloads at 1MB, in line with common
// broker limits. State and metrics documents are far below this.
const maxPayloadSize = 1 << 20

// waitToken blocks on a paho token with the package's publish timeout
// and folds timeout and token errors into the given sentinel.
func waitToken(token pahomqtt.Token, sentinel error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", sentinel, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}

// Publish sends a payload to a topic.
//
// Retained messages are held by the broker and delivered to new
// subscribers immediately; the daemon uses them for state and
// availability so consumers see the lamp without waiting for a change.
// Command and event topics are never retained.
//
// Parameters:
//   - topic: destination topic (e.g. "beurerd/aabbccddeeff/state")
//   - payload: message body, JSON for all the daemon's topics
//   - qos: 0, 1 or 2
//   - retained: whether the broker keeps the last message
//
// Returns:
//   - error: validation sentinel, ErrNotConnected, or wrapped
//     ErrPublishFailed
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes",
			ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	return waitToken(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// PublishString publishes a plain string payload. Used for the
// availability topic's "online"/"offline" markers.
func (c *Client) PublishString(topic string, payload string, qos byte, retained bool) error {
	return c.Publish(topic, []byte(payload), qos, retained)
}

// PublishRetained publishes a retained message at the configured
// default QoS.
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.Publish(topic, payload, byte(c.cfg.QoS), true)
}
