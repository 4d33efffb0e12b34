// Package supervisor owns the engine lifecycle.
//
// Start opens every configured feed and spawns one worker loop per feed
// plus a single decision loop that aggregates presence and drives the
// light engine on a fixed tick. Stop cancels the loops, joins them with
// a bounded wait, closes the feeds and switches the light off. Pause and
// Resume park and release every loop through a shared Gate.
//
// All lifecycle calls are idempotent: repeating one returns a Result
// with Success false rather than an error.
package supervisor
