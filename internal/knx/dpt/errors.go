package dpt

import (
	"errors"
	"fmt"
)

// Domain errors for datapoint encoding and decoding.
var (
	// ErrMalformedPayload is returned when a buffer is too short for the
	// requested datapoint type or its content cannot be represented.
	ErrMalformedPayload = errors.New("dpt: malformed payload")

	// ErrInvalidValue is returned when textual or native input cannot be
	// converted into a value of the requested family.
	ErrInvalidValue = errors.New("dpt: invalid value")

	// ErrUnknownDPT is returned for datapoint type identifiers outside 1..16.
	ErrUnknownDPT = errors.New("dpt: unknown datapoint type")
)

// checkSize fails with ErrMalformedPayload when data is shorter than f requires.
func checkSize(f Family, data []byte) error {
	if len(data) < f.Size() {
		return fmt.Errorf("%w: %s requires %d bytes, got %d", ErrMalformedPayload, f, f.Size(), len(data))
	}
	return nil
}
