package dpt

import "fmt"

// DPT 15 layout constants.
const (
	dpt15Digits        = 6
	dpt15MaxCode       = 999999
	dpt15MaxIndex      = 0x0F
	dpt15ErrorBit      = 0x80
	dpt15PermissionBit = 0x40
	dpt15DirectionBit  = 0x20
	dpt15EncryptedBit  = 0x10
	nibbleBits         = 4
	nibbleMask         = 0x0F
)

// EncodeDPT15 encodes entrance access data (DPT 15.000).
//
// Layout:
//
//	Bytes 0-2: access code as six BCD digits, most significant first
//	Byte 3:    E P D C IIII
//	           E = error, P = permission accepted, D = read direction,
//	           C = encrypted, I = index 0-15
//
// Codes above 999999 clamp to 999999; indexes above 15 clamp to 15.
//
// Parameters:
//   - code: Access identification code
//   - errorFlag, permission, direction, encrypted: Status bits
//   - index: Field index
//
// Returns:
//   - []byte: Four bytes
func EncodeDPT15(code uint32, errorFlag, permission, direction, encrypted bool, index uint8) []byte {
	code = min(code, dpt15MaxCode)
	index = min(index, dpt15MaxIndex)

	buf := make([]byte, 4)
	for i := dpt15Digits - 1; i >= 0; i-- {
		digit := byte(code % 10) //nolint:gosec // 0-9
		code /= 10
		pos := i / 2
		if i%2 == 0 {
			buf[pos] |= digit << nibbleBits
		} else {
			buf[pos] |= digit
		}
	}

	status := index
	if errorFlag {
		status |= dpt15ErrorBit
	}
	if permission {
		status |= dpt15PermissionBit
	}
	if direction {
		status |= dpt15DirectionBit
	}
	if encrypted {
		status |= dpt15EncryptedBit
	}
	buf[3] = status
	return buf
}

// DecodeDPT15 decodes entrance access data.
// A nibble above 9 in the code is not valid BCD and fails with ErrMalformedPayload.
func DecodeDPT15(data []byte) (AccessData, error) {
	if err := checkSize(DPT15, data); err != nil {
		return AccessData{}, err
	}

	var code uint32
	for i := range dpt15Digits {
		b := data[i/2]
		digit := b & nibbleMask
		if i%2 == 0 {
			digit = b >> nibbleBits
		}
		if digit > 9 {
			return AccessData{}, fmt.Errorf("%w: DPT15 digit %d is 0x%X, not BCD", ErrMalformedPayload, i+1, digit)
		}
		code = code*10 + uint32(digit)
	}

	status := data[3]
	return AccessData{
		Code:       code,
		Error:      status&dpt15ErrorBit != 0,
		Permission: status&dpt15PermissionBit != 0,
		Direction:  status&dpt15DirectionBit != 0,
		Encrypted:  status&dpt15EncryptedBit != 0,
		Index:      status & dpt15MaxIndex,
	}, nil
}
