package knxd

import "errors"

// Domain errors for the knxd transport.
var (
	// ErrNotConnected is returned when an operation requires a connection
	// but the client is not connected to knxd.
	ErrNotConnected = errors.New("knxd: not connected")

	// ErrConnectionFailed is returned when the connection to knxd fails.
	ErrConnectionFailed = errors.New("knxd: connection failed")

	// ErrInvalidMessage is returned when a knxd message is malformed.
	ErrInvalidMessage = errors.New("knxd: invalid message")

	// ErrUnsupportedFrame is returned when a frame cannot be carried over a
	// group socket, e.g. one addressed to an individual address.
	ErrUnsupportedFrame = errors.New("knxd: unsupported frame")

	// ErrProtocolDesync is returned when the message stream is corrupted
	// (e.g. oversized message) and the connection must be reset.
	ErrProtocolDesync = errors.New("knxd: protocol desync, connection reset required")
)
