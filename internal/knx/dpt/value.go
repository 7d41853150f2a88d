package dpt

import (
	"fmt"
	"strconv"
)

// Value is a decoded datapoint. The concrete type identifies the family;
// every variant re-encodes to its exact wire layout.
type Value interface {
	Family() Family
	Encode() []byte
	String() string
}

// Bool is a DPT 1 value.
type Bool bool

// ControlBool is a DPT 2 value.
type ControlBool struct {
	Control bool
	Value   bool
}

// Controlled3Bit is a DPT 3 value.
type Controlled3Bit struct {
	Control bool
	Step    uint8
}

// Char is a DPT 4 value.
type Char rune

// Unsigned8 is a DPT 5 value.
type Unsigned8 uint8

// Signed8 is a DPT 6 value.
type Signed8 int8

// Unsigned16 is a DPT 7 value.
type Unsigned16 uint16

// Signed16 is a DPT 8 value.
type Signed16 int16

// Float16 is a DPT 9 value (KNX 2-byte float, held as float64).
type Float16 float64

// TimeOfDay is a DPT 10 value.
type TimeOfDay struct {
	Day    Weekday
	Hour   uint8
	Minute uint8
	Second uint8
}

// Date is a DPT 11 value.
type Date struct {
	Year  int
	Month int
	Day   int
}

// Unsigned32 is a DPT 12 value.
type Unsigned32 uint32

// Signed32 is a DPT 13 value.
type Signed32 int32

// Float32 is a DPT 14 value.
type Float32 float32

// AccessData is a DPT 15 value.
type AccessData struct {
	Code       uint32
	Error      bool
	Permission bool
	Direction  bool
	Encrypted  bool
	Index      uint8
}

// String14 is a DPT 16 value.
type String14 string

func (Bool) Family() Family           { return DPT1 }
func (ControlBool) Family() Family    { return DPT2 }
func (Controlled3Bit) Family() Family { return DPT3 }
func (Char) Family() Family           { return DPT4 }
func (Unsigned8) Family() Family      { return DPT5 }
func (Signed8) Family() Family        { return DPT6 }
func (Unsigned16) Family() Family     { return DPT7 }
func (Signed16) Family() Family       { return DPT8 }
func (Float16) Family() Family        { return DPT9 }
func (TimeOfDay) Family() Family      { return DPT10 }
func (Date) Family() Family           { return DPT11 }
func (Unsigned32) Family() Family     { return DPT12 }
func (Signed32) Family() Family       { return DPT13 }
func (Float32) Family() Family        { return DPT14 }
func (AccessData) Family() Family     { return DPT15 }
func (String14) Family() Family       { return DPT16 }

func (v Bool) Encode() []byte           { return EncodeDPT1(bool(v)) }
func (v ControlBool) Encode() []byte    { return EncodeDPT2(v.Control, v.Value) }
func (v Controlled3Bit) Encode() []byte { return EncodeDPT3(v.Control, v.Step) }
func (v Char) Encode() []byte           { return EncodeDPT4(rune(v)) }
func (v Unsigned8) Encode() []byte      { return EncodeDPT5(uint8(v)) }
func (v Signed8) Encode() []byte        { return EncodeDPT6(int8(v)) }
func (v Unsigned16) Encode() []byte     { return EncodeDPT7(uint16(v)) }
func (v Signed16) Encode() []byte       { return EncodeDPT8(int16(v)) }
func (v Float16) Encode() []byte        { return EncodeDPT9(float64(v)) }
func (v TimeOfDay) Encode() []byte      { return EncodeDPT10(v.Day, v.Hour, v.Minute, v.Second) }
func (v Date) Encode() []byte           { return EncodeDPT11(v.Year, v.Month, v.Day) }
func (v Unsigned32) Encode() []byte     { return EncodeDPT12(uint32(v)) }
func (v Signed32) Encode() []byte       { return EncodeDPT13(int32(v)) }
func (v Float32) Encode() []byte        { return EncodeDPT14(float32(v)) }
func (v String14) Encode() []byte       { return EncodeDPT16(string(v)) }

func (v AccessData) Encode() []byte {
	return EncodeDPT15(v.Code, v.Error, v.Permission, v.Direction, v.Encrypted, v.Index)
}

func (v Bool) String() string { return strconv.FormatBool(bool(v)) }

func (v ControlBool) String() string {
	return fmt.Sprintf("control=%t value=%t", v.Control, v.Value)
}

func (v Controlled3Bit) String() string {
	return fmt.Sprintf("control=%t step=%d", v.Control, v.Step)
}

func (v Char) String() string       { return string(rune(v)) }
func (v Unsigned8) String() string  { return strconv.FormatUint(uint64(v), 10) }
func (v Signed8) String() string    { return strconv.FormatInt(int64(v), 10) }
func (v Unsigned16) String() string { return strconv.FormatUint(uint64(v), 10) }
func (v Signed16) String() string   { return strconv.FormatInt(int64(v), 10) }
func (v Float16) String() string    { return strconv.FormatFloat(float64(v), 'f', -1, 64) }
func (v Unsigned32) String() string { return strconv.FormatUint(uint64(v), 10) }
func (v Signed32) String() string   { return strconv.FormatInt(int64(v), 10) }
func (v Float32) String() string    { return strconv.FormatFloat(float64(v), 'g', -1, 32) }
func (v String14) String() string   { return string(v) }

func (v TimeOfDay) String() string {
	clock := fmt.Sprintf("%02d:%02d:%02d", v.Hour, v.Minute, v.Second)
	if v.Day == NoDay {
		return clock
	}
	return v.Day.String() + " " + clock
}

func (v Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", v.Year, v.Month, v.Day)
}

func (v AccessData) String() string {
	return fmt.Sprintf("code=%06d error=%t permission=%t direction=%t encrypted=%t index=%d",
		v.Code, v.Error, v.Permission, v.Direction, v.Encrypted, v.Index)
}

// Decode decodes data as the given family and returns the matching variant.
//
// Parameters:
//   - f: Datapoint family
//   - data: Raw payload; trailing bytes beyond the family size are ignored
//
// Returns:
//   - Value: Decoded variant (Bool for DPT1, Float16 for DPT9, ...)
//   - error: ErrMalformedPayload if data is too short, ErrUnknownDPT if f is unsupported
func Decode(f Family, data []byte) (Value, error) {
	switch f {
	case DPT1:
		v, err := DecodeDPT1(data)
		return Bool(v), err
	case DPT2:
		c, v, err := DecodeDPT2(data)
		return ControlBool{Control: c, Value: v}, err
	case DPT3:
		c, s, err := DecodeDPT3(data)
		return Controlled3Bit{Control: c, Step: s}, err
	case DPT4:
		v, err := DecodeDPT4(data)
		return Char(v), err
	case DPT5:
		v, err := DecodeDPT5(data)
		return Unsigned8(v), err
	case DPT6:
		v, err := DecodeDPT6(data)
		return Signed8(v), err
	case DPT7:
		v, err := DecodeDPT7(data)
		return Unsigned16(v), err
	case DPT8:
		v, err := DecodeDPT8(data)
		return Signed16(v), err
	case DPT9:
		v, err := DecodeDPT9(data)
		return Float16(v), err
	case DPT10:
		return DecodeDPT10(data)
	case DPT11:
		return DecodeDPT11(data)
	case DPT12:
		v, err := DecodeDPT12(data)
		return Unsigned32(v), err
	case DPT13:
		v, err := DecodeDPT13(data)
		return Signed32(v), err
	case DPT14:
		v, err := DecodeDPT14(data)
		return Float32(v), err
	case DPT15:
		return DecodeDPT15(data)
	case DPT16:
		v, err := DecodeDPT16(data)
		return String14(v), err
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDPT, f)
	}
}

// Native converts a value into plain Go types suitable for JSON or CBOR
// encoding: bool, numbers, strings, or a map for composite families.
func Native(v Value) any {
	switch x := v.(type) {
	case Bool:
		return bool(x)
	case ControlBool:
		return map[string]any{"control": x.Control, "value": x.Value}
	case Controlled3Bit:
		return map[string]any{"control": x.Control, "step": x.Step}
	case Char:
		return string(rune(x))
	case Unsigned8:
		return uint8(x)
	case Signed8:
		return int8(x)
	case Unsigned16:
		return uint16(x)
	case Signed16:
		return int16(x)
	case Float16:
		return float64(x)
	case TimeOfDay:
		return map[string]any{"day": uint8(x.Day), "hour": x.Hour, "minute": x.Minute, "second": x.Second}
	case Date:
		return x.String()
	case Unsigned32:
		return uint32(x)
	case Signed32:
		return int32(x)
	case Float32:
		return float32(x)
	case AccessData:
		return map[string]any{
			"code":       x.Code,
			"error":      x.Error,
			"permission": x.Permission,
			"direction":  x.Direction,
			"encrypted":  x.Encrypted,
			"index":      x.Index,
		}
	case String14:
		return string(x)
	default:
		return nil
	}
}

// Numeric returns the value as float64 for families with a single numeric
// scalar (DPT 1 and 5-9, 12-14). Booleans map to 0/1.
func Numeric(v Value) (float64, bool) {
	switch x := v.(type) {
	case Bool:
		if x {
			return 1, true
		}
		return 0, true
	case Unsigned8:
		return float64(x), true
	case Signed8:
		return float64(x), true
	case Unsigned16:
		return float64(x), true
	case Signed16:
		return float64(x), true
	case Float16:
		return float64(x), true
	case Unsigned32:
		return float64(x), true
	case Signed32:
		return float64(x), true
	case Float32:
		return float64(x), true
	default:
		return 0, false
	}
}
