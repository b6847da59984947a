package gateway

import "errors"

var (
	// ErrClosed is returned when Connect is called on a closed session.
	ErrClosed = errors.New("gateway: session closed")
	// ErrHandshake is returned when the server's hello payload is malformed.
	ErrHandshake = errors.New("gateway: malformed hello payload")
)
