// Package config loads and validates the beurerd configuration.
//
// Configuration is read from a YAML file, with defaults applied first and
// environment variable overrides applied last:
//
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BEURERD_SECTION_KEY
// For example: BEURERD_DEVICE_MAC, BEURERD_MQTT_HOST
//
// The engine's protocol timing constants (command spacing, backoff schedule,
// watchdog thresholds) are deliberately NOT configurable here; they are fixed
// in the engine package because they encode device behaviour, not deployment
// preference.
package config
