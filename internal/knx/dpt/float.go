package dpt

import (
	"encoding/binary"
	"math"
)

// KNX 2-byte float layout: S EEEE MMMMMMMMMMM.
const (
	dpt9SignBit      = 0x8000
	dpt9ExponentMask = 0x0F
	dpt9ExponentPos  = 11
	dpt9MantissaMask = 0x07FF
	dpt9MinMantissa  = -2048
	dpt9MaxMantissa  = 2047

	// dpt9Invalid is the reserved "invalid data" pattern.
	dpt9Invalid = 0x7FFF

	// DPT9Max and DPT9Min bound the encodable range. The nominal KNX top
	// value 670760.96 shares its bit pattern with the invalid marker, so the
	// encoder stops one step below it.
	DPT9Max = 670433.28
	DPT9Min = -671088.64
)

// EncodeDPT9 encodes a value to the KNX 2-byte float format.
//
// KNX 2-byte float format:
//
//	Byte 0: SEEE EMMM (sign, exponent, mantissa high bits)
//	Byte 1: MMMM MMMM (mantissa low bits)
//
// Value = (0.01 × M) × 2^E where M is a 12-bit two's complement mantissa
// whose sign is bit 15. The encoder uses the smallest exponent whose
// rounded mantissa fits and rounds half away from zero. Values outside
// DPT9Min..DPT9Max clamp to the nearest bound; NaN encodes as 0x7FFF.
//
// Parameters:
//   - value: Value to encode
//
// Returns:
//   - []byte: Two bytes in KNX format
func EncodeDPT9(value float64) []byte {
	buf := make([]byte, 2)
	if math.IsNaN(value) {
		binary.BigEndian.PutUint16(buf, dpt9Invalid)
		return buf
	}
	value = math.Max(DPT9Min, math.Min(DPT9Max, value))

	scaled := value * 100
	exp := 0
	mantissa := math.Round(scaled)
	for mantissa < dpt9MinMantissa || mantissa > dpt9MaxMantissa {
		exp++
		mantissa = math.Round(scaled / float64(int(1)<<exp))
	}
	m := int(mantissa)
	raw := uint16(exp&dpt9ExponentMask) << dpt9ExponentPos //nolint:gosec // exp bounded to 0-15
	raw |= uint16(m) & dpt9MantissaMask                    //nolint:gosec // masked to 11 bits
	if m < 0 {
		raw |= dpt9SignBit
	}
	binary.BigEndian.PutUint16(buf, raw)
	return buf
}

// DecodeDPT9 decodes a KNX 2-byte float.
//
// The reserved pattern 0x7FFF decodes to 670760.96 like any other bit
// pattern; callers that care about the "invalid" marker can test for it
// with IsDPT9Invalid.
func DecodeDPT9(data []byte) (float64, error) {
	if err := checkSize(DPT9, data); err != nil {
		return 0, err
	}
	raw := binary.BigEndian.Uint16(data)

	exp := int(raw>>dpt9ExponentPos) & dpt9ExponentMask
	mantissa := int(raw & dpt9MantissaMask)
	if raw&dpt9SignBit != 0 {
		mantissa -= 2048
	}

	// Dividing the exact integer keeps representable values exact (12.25, not 12.250000000000002).
	return float64(mantissa*(1<<exp)) / 100, nil
}

// IsDPT9Invalid reports whether data carries the DPT 9 "invalid data" marker.
func IsDPT9Invalid(data []byte) bool {
	return len(data) >= 2 && binary.BigEndian.Uint16(data) == dpt9Invalid
}

// EncodeDPT14 encodes an IEEE 754 single precision float, big-endian.
func EncodeDPT14(value float32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, math.Float32bits(value))
	return buf
}

// DecodeDPT14 decodes an IEEE 754 single precision float.
func DecodeDPT14(data []byte) (float32, error) {
	if err := checkSize(DPT14, data); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(data)), nil
}
