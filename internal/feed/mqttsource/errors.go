package mqttsource

import "errors"

var (
	ErrNotConnected    = errors.New("mqttsource: not connected")
	ErrFrameTimeout    = errors.New("mqttsource: frame timeout")
	ErrInvalidPayload  = errors.New("mqttsource: invalid payload")
	ErrUnexpectedFrame = errors.New("mqttsource: frame data is not a detection list")
)
