package sidecar

import "errors"

var (
	// ErrAlreadyRunning is returned by Start when the detector is up.
	ErrAlreadyRunning = errors.New("sidecar: already running")

	// ErrNoBinary is returned by Start when no binary is configured.
	ErrNoBinary = errors.New("sidecar: binary not configured")
)
