package supervisor

import "errors"

// Domain errors for the supervisor package.
var (
	// ErrStartFailed is returned when a feed could not be opened during
	// Start. Nothing is left running.
	ErrStartFailed = errors.New("supervisor: start failed")

	// ErrFeedNotFound is returned for an unknown feed ID.
	ErrFeedNotFound = errors.New("supervisor: feed not found")

	// ErrNoFeeds is returned by Start when no feeds are configured.
	ErrNoFeeds = errors.New("supervisor: no feeds configured")

	// ErrSwitchFailed is returned when SwitchFeed could not bring up the
	// new source. The previous source is restored.
	ErrSwitchFailed = errors.New("supervisor: feed switch failed")
)
