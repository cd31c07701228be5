// Package health publishes periodic daemon health reports over MQTT.
//
// A single Reporter evaluates the engine's connection state and the broker
// session, then publishes a retained JSON report to beurerd/health every
// interval. Consumers can alert on a stale or "degraded" report without
// subscribing to the full state stream.
//
// The reporter depends only on small interfaces so it can be tested
// without a broker or a lamp.
package health
