package knx

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// GroupAddress is a 16-bit KNX group address.
//
// Layout: MMMM MIII SSSS SSSS
//   - Main:   0-31  (5 bits)
//   - Middle: 0-7   (3 bits)
//   - Sub:    0-255 (8 bits)
//
// The zero value is the broadcast address 0/0/0.
type GroupAddress uint16

// Group address limits per KNX specification.
const (
	maxMain      = 31
	maxMiddle    = 7
	maxSub       = 255
	max2LevelSub = 2047

	gaMainShift   = 11
	gaMiddleShift = 8
	gaMainMask    = 0x1F
	gaMiddleMask  = 0x07
	gaSubMask     = 0xFF
)

// NewGroupAddress builds a group address from its three levels.
// Out-of-range parts are masked to their field width.
func NewGroupAddress(main, middle, sub uint8) GroupAddress {
	return GroupAddress(uint16(main&gaMainMask)<<gaMainShift |
		uint16(middle&gaMiddleMask)<<gaMiddleShift |
		uint16(sub))
}

// ParseGroupAddress parses a group address string.
//
// Accepts formats:
//   - "1/2/3"  3-level (main/middle/sub)
//   - "1/515"  2-level (main/sub, sub 0-2047)
//   - "4098" or "0x1002"  raw 16-bit value
//
// Parameters:
//   - s: Group address string
//
// Returns:
//   - GroupAddress: Parsed address
//   - error: ErrInvalidGroupAddress if parsing fails
//
// Example:
//
//	ga, err := knx.ParseGroupAddress("1/2/3")
//	if err != nil {
//	    return err
//	}
func ParseGroupAddress(s string) (GroupAddress, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, "/")

	switch len(parts) {
	case 1:
		raw, err := strconv.ParseUint(s, 0, 16)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a 16-bit value", ErrInvalidGroupAddress, s)
		}
		return GroupAddress(raw), nil

	case 2:
		main, err := parseLevel(parts[0], maxMain, "main")
		if err != nil {
			return 0, err
		}
		sub, err := parseLevel(parts[1], max2LevelSub, "sub")
		if err != nil {
			return 0, err
		}
		return GroupAddress(main<<gaMainShift | sub), nil

	case 3:
		main, err := parseLevel(parts[0], maxMain, "main")
		if err != nil {
			return 0, err
		}
		middle, err := parseLevel(parts[1], maxMiddle, "middle")
		if err != nil {
			return 0, err
		}
		sub, err := parseLevel(parts[2], maxSub, "sub")
		if err != nil {
			return 0, err
		}
		return GroupAddress(main<<gaMainShift | middle<<gaMiddleShift | sub), nil

	default:
		return 0, fmt.Errorf("%w: expected main/middle/sub, got %q", ErrInvalidGroupAddress, s)
	}
}

func parseLevel(s string, limit uint64, name string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil || v > limit {
		return 0, fmt.Errorf("%w: %s group must be 0-%d, got %q", ErrInvalidGroupAddress, name, limit, s)
	}
	return uint16(v), nil //nolint:gosec // bounded by limit
}

// Main returns the main group (0-31).
func (ga GroupAddress) Main() uint8 {
	return uint8(uint16(ga)>>gaMainShift) & gaMainMask //nolint:gosec // masked to 5 bits
}

// Middle returns the middle group (0-7).
func (ga GroupAddress) Middle() uint8 {
	return uint8(uint16(ga)>>gaMiddleShift) & gaMiddleMask //nolint:gosec // masked to 3 bits
}

// Sub returns the sub group (0-255).
func (ga GroupAddress) Sub() uint8 {
	return uint8(uint16(ga) & gaSubMask) //nolint:gosec // masked to 8 bits
}

// String returns the group address in 3-level format, e.g. "1/2/3".
func (ga GroupAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", ga.Main(), ga.Middle(), ga.Sub())
}

// URLEncode returns the address with "/" escaped, for use as a single
// MQTT topic level or URL path segment ("1/2/3" → "1%2F2%2F3").
func (ga GroupAddress) URLEncode() string {
	return url.PathEscape(ga.String())
}

// ParseGroupAddressFromURL parses a URL-encoded group address.
func ParseGroupAddressFromURL(encoded string) (GroupAddress, error) {
	decoded, err := url.PathUnescape(encoded)
	if err != nil {
		return 0, fmt.Errorf("%w: URL decode failed: %w", ErrInvalidGroupAddress, err)
	}
	return ParseGroupAddress(decoded)
}

// MarshalText implements encoding.TextMarshaler.
func (ga GroupAddress) MarshalText() ([]byte, error) {
	return []byte(ga.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so group addresses can
// be written as "1/2/3" in YAML, TOML and JSON.
func (ga *GroupAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseGroupAddress(string(text))
	if err != nil {
		return err
	}
	*ga = parsed
	return nil
}

// IndividualAddress is a 16-bit KNX device address (area.line.device).
type IndividualAddress uint16

// ParseIndividualAddress parses "area.line.device", e.g. "1.1.5".
func ParseIndividualAddress(s string) (IndividualAddress, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 { //nolint:mnd // area.line.device
		return 0, fmt.Errorf("%w: expected area.line.device, got %q", ErrInvalidIndividualAddress, s)
	}
	limits := [3]uint64{15, 15, 255}
	var fields [3]uint16
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil || v > limits[i] {
			return 0, fmt.Errorf("%w: field %d of %q out of range", ErrInvalidIndividualAddress, i+1, s)
		}
		fields[i] = uint16(v)
	}
	return IndividualAddress(fields[0]<<12 | fields[1]<<8 | fields[2]), nil
}

// String returns the address in "area.line.device" format.
func (ia IndividualAddress) String() string {
	return fmt.Sprintf("%d.%d.%d", (ia>>12)&0x0F, (ia>>8)&0x0F, ia&0xFF)
}

// MarshalText implements encoding.TextMarshaler.
func (ia IndividualAddress) MarshalText() ([]byte, error) {
	return []byte(ia.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (ia *IndividualAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseIndividualAddress(string(text))
	if err != nil {
		return err
	}
	*ia = parsed
	return nil
}
