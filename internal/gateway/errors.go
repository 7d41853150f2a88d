package gateway

import "errors"

// Domain-specific errors for the gateway.
var (
	// ErrUnknownDatapoint is returned when a group address has no DPT
	// mapping and the caller did not name one.
	ErrUnknownDatapoint = errors.New("gateway: group address has no datapoint mapping")

	// ErrDuplicateDatapoint is returned when a group address is mapped twice.
	ErrDuplicateDatapoint = errors.New("gateway: duplicate datapoint")

	// ErrInvalidCommand is returned for command payloads that cannot be
	// decoded or carry neither a value nor raw bytes.
	ErrInvalidCommand = errors.New("gateway: invalid command")

	// ErrUnsupportedFormat is returned by NewCodec for unknown payload formats.
	ErrUnsupportedFormat = errors.New("gateway: unsupported payload format")

	// ErrBusy is returned when too many commands are already in flight.
	ErrBusy = errors.New("gateway: too many commands in flight")
)
