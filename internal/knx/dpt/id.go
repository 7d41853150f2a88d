package dpt

import (
	"fmt"
	"strconv"
	"strings"
)

// Family is a KNX datapoint main type number (the "9" in "9.001").
// It determines the wire layout; sub types only change the unit.
type Family int

// Supported datapoint families.
const (
	DPT1 Family = iota + 1
	DPT2
	DPT3
	DPT4
	DPT5
	DPT6
	DPT7
	DPT8
	DPT9
	DPT10
	DPT11
	DPT12
	DPT13
	DPT14
	DPT15
	DPT16
)

// familySizes holds the encoded size in bytes, indexed by family.
// Sub-byte families still occupy one byte when handed to the access layer.
var familySizes = [...]int{0, 1, 1, 1, 1, 1, 1, 2, 2, 2, 3, 3, 4, 4, 4, 4, 14}

// familyBits holds the significant bit length, indexed by family.
var familyBits = [...]int{0, 1, 2, 4, 8, 8, 8, 16, 16, 16, 24, 24, 32, 32, 32, 32, 112}

// Valid reports whether f is one of the supported families.
func (f Family) Valid() bool {
	return f >= DPT1 && f <= DPT16
}

// Size returns the encoded size in bytes, or 0 for an unsupported family.
func (f Family) Size() int {
	if !f.Valid() {
		return 0
	}
	return familySizes[f]
}

// Bits returns the number of significant bits on the wire.
//
// Families with 6 or fewer bits travel inside the APCI octet ("short" APDU);
// the access layer uses this to pick the telegram form.
func (f Family) Bits() int {
	if !f.Valid() {
		return 0
	}
	return familyBits[f]
}

// String returns "DPTn".
func (f Family) String() string {
	return "DPT" + strconv.Itoa(int(f))
}

// ID identifies a datapoint type including its sub type, e.g. 9.001.
type ID struct {
	Main uint16
	Sub  uint16
}

// Family returns the main type as a Family.
func (id ID) Family() Family {
	return Family(id.Main)
}

// String renders the identifier as "main.sub" with a 3-digit sub type.
func (id ID) String() string {
	return fmt.Sprintf("%d.%03d", id.Main, id.Sub)
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseID parses a datapoint type identifier.
//
// Accepts formats:
//   - "9.001" or "9" (sub type defaults to 0)
//   - "DPT9.001", "DPT-9" (common project notation)
//   - "DPST-9-1" (ETS export notation)
//
// Parameters:
//   - s: Identifier string
//
// Returns:
//   - ID: Parsed identifier
//   - error: ErrUnknownDPT if the string is malformed or the family is unsupported
func ParseID(s string) (ID, error) {
	raw := strings.ToUpper(strings.TrimSpace(s))
	var sep string
	switch {
	case strings.HasPrefix(raw, "DPST-"):
		raw = strings.TrimPrefix(raw, "DPST-")
		sep = "-"
	case strings.HasPrefix(raw, "DPT-"):
		raw = strings.TrimPrefix(raw, "DPT-")
		sep = "-"
	default:
		raw = strings.TrimPrefix(raw, "DPT")
		sep = "."
	}

	mainPart, subPart, hasSub := strings.Cut(raw, sep)
	if sep == "-" && !hasSub {
		mainPart, subPart, hasSub = strings.Cut(raw, ".")
	}

	main, err := strconv.ParseUint(mainPart, 10, 16)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q", ErrUnknownDPT, s)
	}
	var sub uint64
	if hasSub {
		sub, err = strconv.ParseUint(subPart, 10, 16)
		if err != nil {
			return ID{}, fmt.Errorf("%w: bad sub type in %q", ErrUnknownDPT, s)
		}
	}

	id := ID{Main: uint16(main), Sub: uint16(sub)}
	if !id.Family().Valid() {
		return ID{}, fmt.Errorf("%w: %q (supported: 1-16)", ErrUnknownDPT, s)
	}
	return id, nil
}

// Common datapoint sub types.
var (
	Switch      = ID{1, 1}
	Boolean     = ID{1, 2}
	SwitchCtrl  = ID{2, 1}
	Dimming     = ID{3, 7}
	Blinds      = ID{3, 8}
	CharASCII   = ID{4, 1}
	Scaling     = ID{5, 1}
	Angle       = ID{5, 3}
	Percent8    = ID{6, 1}
	Pulses16    = ID{7, 1}
	Delta16     = ID{8, 1}
	Temperature = ID{9, 1}
	Lux         = ID{9, 4}
	Humidity    = ID{9, 7}
	TimeOfDayID = ID{10, 1}
	DateID      = ID{11, 1}
	Counter32   = ID{12, 1}
	Delta32     = ID{13, 1}
	Power       = ID{14, 56}
	AccessID    = ID{15, 0}
	StringASCII = ID{16, 0}
	Latin1      = ID{16, 1}
)

// units maps well-known sub types to their display unit.
var units = map[ID]string{
	Scaling:     "%",
	Angle:       "°",
	Percent8:    "%",
	Pulses16:    "pulses",
	Temperature: "°C",
	Lux:         "lx",
	Humidity:    "%",
	Counter32:   "pulses",
	Power:       "W",
}

// Unit returns the display unit of a well-known sub type, or "".
func (id ID) Unit() string {
	return units[id]
}
