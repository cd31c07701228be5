// Package logging is beurerd's structured logging layer, a thin wrapper
// around log/slog.
//
// Every record carries service=beurerd and the build version. Output is
// JSON by default (text for development), filtered by level, and the
// destination is stdout or stderr, all driven by the logging section of
// config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Components derive their own loggers:
//
//	log := logging.New(cfg.Logging, version)
//	engineLog := log.With("component", "engine")
//	engineLog.Info("session established", "adapter", "hci0")
//
// Never log secrets: MQTT passwords and InfluxDB tokens stay out of log
// fields entirely.
package logging
