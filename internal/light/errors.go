package light

import "errors"

// Domain errors for the light package.
var (
	// ErrSendFailed is returned when a backend could not deliver a command.
	ErrSendFailed = errors.New("light: command send failed")

	// ErrNotSent is returned when a command was abandoned before it
	// reached the backend, for example a cancelled cooldown wait.
	ErrNotSent = errors.New("light: command not sent")

	// ErrUnknownMode is returned by NewBackend for an unsupported mode.
	ErrUnknownMode = errors.New("light: unknown backend mode")

	// ErrMissingDependency is returned when a backend mode needs a
	// collaborator that was not provided.
	ErrMissingDependency = errors.New("light: missing backend dependency")

	// ErrBackendClosed is returned by Send after Close.
	ErrBackendClosed = errors.New("light: backend closed")
)
