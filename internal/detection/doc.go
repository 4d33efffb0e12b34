// Package detection holds the detection value types and the filter rules
// that decide which detections count toward presence.
package detection
