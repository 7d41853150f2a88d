package dpt

// Bit masks for the sub-byte families.
const (
	dpt1ValueBit   = 0x01
	dpt2ControlBit = 0x02
	dpt3ControlBit = 0x08
	dpt3StepMask   = 0x07
)

// EncodeDPT1 encodes a boolean to 1-bit KNX format.
//
// Parameters:
//   - value: Boolean value to encode
//
// Returns:
//   - []byte: Single byte with bit 0 set to the value
func EncodeDPT1(value bool) []byte {
	if value {
		return []byte{dpt1ValueBit}
	}
	return []byte{0x00}
}

// DecodeDPT1 decodes a 1-bit KNX value. Only bit 0 is significant.
func DecodeDPT1(data []byte) (bool, error) {
	if err := checkSize(DPT1, data); err != nil {
		return false, err
	}
	return data[0]&dpt1ValueBit != 0, nil
}

// EncodeDPT2 encodes a controlled boolean (bit 1 = control, bit 0 = value).
func EncodeDPT2(control, value bool) []byte {
	var b byte
	if control {
		b |= dpt2ControlBit
	}
	if value {
		b |= dpt1ValueBit
	}
	return []byte{b}
}

// DecodeDPT2 decodes a controlled boolean.
func DecodeDPT2(data []byte) (control, value bool, err error) {
	if err := checkSize(DPT2, data); err != nil {
		return false, false, err
	}
	return data[0]&dpt2ControlBit != 0, data[0]&dpt1ValueBit != 0, nil
}

// EncodeDPT3 encodes a 3-bit controlled value.
//
// Used for relative dimming (3.007) and blind control (3.008).
//
// Parameters:
//   - control: Direction bit (true = increase/down)
//   - step: Step code 0-7, where 0 means stop; larger values clamp to 7
//
// Returns:
//   - []byte: Single byte, bit 3 control, bits 2-0 step
func EncodeDPT3(control bool, step uint8) []byte {
	if step > dpt3StepMask {
		step = dpt3StepMask
	}
	b := step
	if control {
		b |= dpt3ControlBit
	}
	return []byte{b}
}

// DecodeDPT3 decodes a 3-bit controlled value.
func DecodeDPT3(data []byte) (control bool, step uint8, err error) {
	if err := checkSize(DPT3, data); err != nil {
		return false, 0, err
	}
	return data[0]&dpt3ControlBit != 0, data[0] & dpt3StepMask, nil
}
