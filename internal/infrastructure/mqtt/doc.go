// Package mqtt provides MQTT client connectivity for beurerd.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) on the availability topic
//   - Connection health monitoring
//
// # Topic Layout
//
// All topics live under the beurerd/ prefix, keyed by the lamp's address:
//
//	beurerd/<mac>/state         — retained JSON device state
//	beurerd/<mac>/availability  — retained "online"/"offline" (LWT target)
//	beurerd/<mac>/command       — inbound command JSON
//	beurerd/<mac>/metrics       — connection metrics JSON
//	beurerd/health              — daemon health JSON
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	topics := mqtt.NewTopics(cfg.Device.MAC)
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.PublishRetained(topics.State(), payload)
package mqtt
