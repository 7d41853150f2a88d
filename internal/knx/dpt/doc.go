// Package dpt encodes and decodes KNX datapoint types (DPT 1 to 16).
//
// Every family has an EncodeDPTn function that turns a typed value into its
// exact KNX wire layout and a DecodeDPTn function that reverses it. Encoders
// never fail: out-of-range input is clamped to the family's declared range.
// Decoders fail with ErrMalformedPayload when the buffer is shorter than the
// family's size and ignore any trailing bytes.
//
// # Families
//
//	DPT 1    1 bit    boolean
//	DPT 2    2 bits   boolean with control
//	DPT 3    4 bits   3-bit controlled (dimming/blinds)
//	DPT 4    1 byte   character (ISO 8859-1)
//	DPT 5/6  1 byte   unsigned/signed 8-bit
//	DPT 7/8  2 bytes  unsigned/signed 16-bit
//	DPT 9    2 bytes  KNX float (0.01 x M x 2^E)
//	DPT 10   3 bytes  time of day
//	DPT 11   3 bytes  date
//	DPT 12/13 4 bytes unsigned/signed 32-bit
//	DPT 14   4 bytes  IEEE 754 single precision
//	DPT 15   4 bytes  entrance access
//	DPT 16   14 bytes character string
//
// Decoded values are represented by the Value interface. Each variant (Bool,
// Float16, TimeOfDay, ...) is a plain value type that can re-encode itself:
//
//	v, err := dpt.Decode(dpt.DPT9, []byte{0x04, 0xC9})
//	if err != nil {
//	    return err
//	}
//	fmt.Println(v) // 12.25
//
// The package has no state and no dependencies beyond the standard library.
package dpt
