package journal

import "errors"

// ErrSessionNotFound is returned when a session ID does not exist or is
// already closed.
var ErrSessionNotFound = errors.New("journal: session not found")
