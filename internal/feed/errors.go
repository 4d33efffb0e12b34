package feed

import "errors"

// Domain errors for the feed package.
var (
	// ErrReadFailed is returned when the source could not deliver a frame.
	ErrReadFailed = errors.New("feed: frame read failed")

	// ErrDetectFailed marks a detector error. It is logged and counted,
	// never returned from ProcessOnce.
	ErrDetectFailed = errors.New("feed: detection failed")
)
