package dpt

import "encoding/binary"

// latin1Replacement stands in for characters outside ISO 8859-1.
const latin1Replacement = '?'

// maxLatin1 is the highest code point representable in one byte.
const maxLatin1 = 0xFF

// EncodeDPT4 encodes a single character as one ISO 8859-1 byte.
// Characters above U+00FF are replaced by '?'.
func EncodeDPT4(c rune) []byte {
	return []byte{latin1Byte(c)}
}

// DecodeDPT4 decodes one ISO 8859-1 byte into a rune.
func DecodeDPT4(data []byte) (rune, error) {
	if err := checkSize(DPT4, data); err != nil {
		return 0, err
	}
	return rune(data[0]), nil
}

// EncodeDPT5 encodes an unsigned 8-bit value.
func EncodeDPT5(value uint8) []byte {
	return []byte{value}
}

// DecodeDPT5 decodes an unsigned 8-bit value.
func DecodeDPT5(data []byte) (uint8, error) {
	if err := checkSize(DPT5, data); err != nil {
		return 0, err
	}
	return data[0], nil
}

// EncodeDPT6 encodes a signed 8-bit value in two's complement.
func EncodeDPT6(value int8) []byte {
	return []byte{byte(value)}
}

// DecodeDPT6 decodes a signed 8-bit value.
func DecodeDPT6(data []byte) (int8, error) {
	if err := checkSize(DPT6, data); err != nil {
		return 0, err
	}
	return int8(data[0]), nil //nolint:gosec // two's complement reinterpretation
}

// EncodeDPT7 encodes an unsigned 16-bit value, big-endian.
//
// Example:
//
//	dpt.EncodeDPT7(0xAFFE) // []byte{0xAF, 0xFE}
func EncodeDPT7(value uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, value)
	return buf
}

// DecodeDPT7 decodes an unsigned 16-bit value.
func DecodeDPT7(data []byte) (uint16, error) {
	if err := checkSize(DPT7, data); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(data), nil
}

// EncodeDPT8 encodes a signed 16-bit value, big-endian two's complement.
func EncodeDPT8(value int16) []byte {
	return EncodeDPT7(uint16(value)) //nolint:gosec // two's complement reinterpretation
}

// DecodeDPT8 decodes a signed 16-bit value.
func DecodeDPT8(data []byte) (int16, error) {
	if err := checkSize(DPT8, data); err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(data)), nil //nolint:gosec // two's complement reinterpretation
}

// EncodeDPT12 encodes an unsigned 32-bit value, big-endian.
func EncodeDPT12(value uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, value)
	return buf
}

// DecodeDPT12 decodes an unsigned 32-bit value.
func DecodeDPT12(data []byte) (uint32, error) {
	if err := checkSize(DPT12, data); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(data), nil
}

// EncodeDPT13 encodes a signed 32-bit value, big-endian two's complement.
func EncodeDPT13(value int32) []byte {
	return EncodeDPT12(uint32(value)) //nolint:gosec // two's complement reinterpretation
}

// DecodeDPT13 decodes a signed 32-bit value.
func DecodeDPT13(data []byte) (int32, error) {
	if err := checkSize(DPT13, data); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(data)), nil //nolint:gosec // two's complement reinterpretation
}

func latin1Byte(c rune) byte {
	if c < 0 || c > maxLatin1 {
		return latin1Replacement
	}
	return byte(c)
}
