// Package feed runs the per-camera processing loop.
//
// A Worker reads frames from a VideoSource, runs the Detector on every
// Nth frame, applies the detection rules and publishes an immutable
// Snapshot to its Store. Readers (the presence aggregator, status
// reporting) only ever load the latest published pointer.
//
// Read failures publish a stale snapshot with no detections, so a dead
// camera stops contributing presence instead of holding the light on.
// The loop then backs off and retries, periodically asking the source to
// reconnect.
package feed
