// Package reporting publishes the engine status to MQTT.
//
// A Reporter takes a supervisor.Status snapshot on a fixed interval and
// publishes it retained on the core status topic together with a coarse
// health value (starting, healthy, degraded, stopped, stopping).
// Registered dependency checks turn an otherwise healthy report degraded.
//
// EventPublisher wraps the journal and announces sessions and light
// changes on the core event topics.
package reporting
