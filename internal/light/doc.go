// Package light decides and delivers light brightness.
//
// The Engine turns a presence signal into a target brightness using a
// ScoreModel, keeps the light on for OffDelay after presence was last
// seen, and sends commands through a Dispatcher. The Dispatcher
// serialises sends, enforces the minimum fade duration and waits out the
// cooldown between commands.
//
// Backends:
//
//   - simulated: records commands in memory
//   - mqtt: publishes a plain brightness or an OpenLab RGBW payload
//   - http: sends JSON to a configurable endpoint
//   - hue: sets a Philips Hue light via the bridge API
package light
