package knx

import "errors"

// Domain errors for the KNX access layer.
var (
	// ErrMalformedTelegram is returned when a frame is too short or its
	// length fields disagree with its contents.
	ErrMalformedTelegram = errors.New("knx: malformed telegram")

	// ErrTransportUnavailable is returned when an operation needs an open
	// transport session and none is attached.
	ErrTransportUnavailable = errors.New("knx: transport unavailable")

	// ErrTimeout is returned when a group read or device request deadline
	// passes without a matching response.
	ErrTimeout = errors.New("knx: response timed out")

	// ErrReadAlreadyPending is returned when a group read is issued for an
	// address that already has one in flight.
	ErrReadAlreadyPending = errors.New("knx: group read already pending")

	// ErrInvalidGroupAddress is returned when a group address string
	// cannot be parsed.
	ErrInvalidGroupAddress = errors.New("knx: invalid group address")

	// ErrInvalidIndividualAddress is returned when an individual address
	// string cannot be parsed.
	ErrInvalidIndividualAddress = errors.New("knx: invalid individual address")

	// ErrAlreadyOpen is returned when Open is called on a port that already
	// has a transport attached.
	ErrAlreadyOpen = errors.New("knx: access port already open")

	// ErrPayloadTooLong is returned when a payload does not fit in a
	// standard frame.
	ErrPayloadTooLong = errors.New("knx: payload too long")

	// ErrPropertyRejected is returned when a device answers a property
	// request with zero elements: the property does not exist, is out of
	// range or may not be written.
	ErrPropertyRejected = errors.New("knx: property access rejected")

	// ErrInvalidProperty is returned when a property request cannot be
	// encoded: count above 15, start above 4095 or no data to write.
	ErrInvalidProperty = errors.New("knx: invalid property request")
)
