package dpt

// dpt16Length is the fixed DPT 16 string length in bytes.
const dpt16Length = 14

// EncodeDPT16 encodes a string into the fixed 14-byte DPT 16 layout.
//
// Characters are ISO 8859-1; anything above U+00FF becomes '?'. Strings
// longer than 14 characters are truncated, shorter ones are right-padded
// with zero bytes.
func EncodeDPT16(s string) []byte {
	buf := make([]byte, dpt16Length)
	i := 0
	for _, r := range s {
		if i == dpt16Length {
			break
		}
		buf[i] = latin1Byte(r)
		i++
	}
	return buf
}

// DecodeDPT16 decodes a DPT 16 string. Decoding stops at the first zero
// byte or after 14 bytes, so an all-zero buffer yields "".
func DecodeDPT16(data []byte) (string, error) {
	if err := checkSize(DPT16, data); err != nil {
		return "", err
	}
	runes := make([]rune, 0, dpt16Length)
	for _, b := range data[:dpt16Length] {
		if b == 0 {
			break
		}
		runes = append(runes, rune(b))
	}
	return string(runes), nil
}
