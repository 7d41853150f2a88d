package dpt

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Keywords accepted by ParseValue for the clock-driven families.
const (
	keywordNow      = "now"
	keywordNowUTC   = "now-utc"
	keywordToday    = "today"
	keywordTodayUTC = "today-utc"
)

// ParseValue converts user input into a value of family f.
//
// Accepted input per family:
//   - DPT1: true/false, on/off, 1/0
//   - DPT2: "control,value" booleans, e.g. "1,0"
//   - DPT3: "control,step", e.g. "true,5"
//   - DPT4: exactly one character
//   - DPT5-8, 12, 13: integers (decimal, 0x hex, 0b binary)
//   - DPT9, 14: decimal floats
//   - DPT10: "[Mon ]HH:MM:SS", "now" (local clock) or "now-utc"
//   - DPT11: "YYYY-MM-DD", "today" (local clock) or "today-utc"
//   - DPT15: "code,error,permission,direction,encrypted,index"
//   - DPT16: any string (truncated to 14 characters on encode)
//
// Returns:
//   - Value: Parsed value
//   - error: ErrInvalidValue or ErrUnknownDPT
func ParseValue(f Family, text string) (Value, error) {
	s := strings.TrimSpace(text)
	switch f {
	case DPT1:
		b, err := parseBool(s)
		return Bool(b), err
	case DPT2:
		parts, err := splitFields(s, 2)
		if err != nil {
			return nil, err
		}
		c, err := parseBool(parts[0])
		if err != nil {
			return nil, err
		}
		v, err := parseBool(parts[1])
		return ControlBool{Control: c, Value: v}, err
	case DPT3:
		parts, err := splitFields(s, 2)
		if err != nil {
			return nil, err
		}
		c, err := parseBool(parts[0])
		if err != nil {
			return nil, err
		}
		step, err := parseUint(parts[1], 3)
		return Controlled3Bit{Control: c, Step: uint8(step)}, err //nolint:gosec // bounded by parseUint
	case DPT4:
		// Only the untrimmed input can carry a single space.
		if utf8.RuneCountInString(text) != 1 {
			return nil, fmt.Errorf("%w: DPT4 needs exactly one character, got %q", ErrInvalidValue, text)
		}
		r, _ := utf8.DecodeRuneInString(text)
		return Char(r), nil
	case DPT5:
		v, err := parseUint(s, 8)
		return Unsigned8(v), err //nolint:gosec // bounded by parseUint
	case DPT6:
		v, err := parseInt(s, 8)
		return Signed8(v), err //nolint:gosec // bounded by parseInt
	case DPT7:
		v, err := parseUint(s, 16)
		return Unsigned16(v), err //nolint:gosec // bounded by parseUint
	case DPT8:
		v, err := parseInt(s, 16)
		return Signed16(v), err //nolint:gosec // bounded by parseInt
	case DPT9:
		v, err := parseFloat(s, 64)
		return Float16(v), err
	case DPT10:
		return parseTimeOfDay(s)
	case DPT11:
		return parseDate(s)
	case DPT12:
		v, err := parseUint(s, 32)
		return Unsigned32(v), err //nolint:gosec // bounded by parseUint
	case DPT13:
		v, err := parseInt(s, 32)
		return Signed32(v), err //nolint:gosec // bounded by parseInt
	case DPT14:
		v, err := parseFloat(s, 32)
		return Float32(v), err
	case DPT15:
		return parseAccess(s)
	case DPT16:
		return String14(text), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDPT, f)
	}
}

// FromNative converts a decoded JSON or CBOR value into a value of family f.
// Strings go through ParseValue; numbers and booleans are formatted first;
// maps are accepted for the composite families using the keys produced by
// Native.
func FromNative(f Family, v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return nil, fmt.Errorf("%w: missing value", ErrInvalidValue)
	case Value:
		if x.Family() != f {
			return nil, fmt.Errorf("%w: %s value for %s", ErrInvalidValue, x.Family(), f)
		}
		return x, nil
	case string:
		return ParseValue(f, x)
	case bool:
		return ParseValue(f, strconv.FormatBool(x))
	case float64:
		return fromFloat(f, x)
	case float32:
		return fromFloat(f, float64(x))
	case int:
		return ParseValue(f, strconv.Itoa(x))
	case int64:
		return ParseValue(f, strconv.FormatInt(x, 10))
	case uint64:
		return ParseValue(f, strconv.FormatUint(x, 10))
	case map[string]any:
		return fromMap(f, x)
	default:
		return nil, fmt.Errorf("%w: unsupported %T for %s", ErrInvalidValue, v, f)
	}
}

// fromFloat keeps integral floats (as produced by encoding/json) parseable by
// the integer families.
func fromFloat(f Family, x float64) (Value, error) {
	if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
		switch f {
		case DPT1, DPT5, DPT6, DPT7, DPT8, DPT12, DPT13:
			return ParseValue(f, strconv.FormatInt(int64(x), 10))
		}
	}
	return ParseValue(f, strconv.FormatFloat(x, 'f', -1, 64))
}

// objectField is one key of a composite value object.
type objectField struct {
	key      string
	required bool
}

// objectFields lists the keys each composite family accepts, matching the
// keys produced by Native. Missing optional keys read as zero.
var objectFields = map[Family][]objectField{
	DPT2:  {{"control", true}, {"value", true}},
	DPT3:  {{"control", true}, {"step", true}},
	DPT10: {{"day", false}, {"hour", true}, {"minute", true}, {"second", true}},
	DPT11: {{"year", true}, {"month", true}, {"day", true}},
	DPT15: {
		{"code", true}, {"error", false}, {"permission", false},
		{"direction", false}, {"encrypted", false}, {"index", false},
	},
}

// Date fields accepted from objects.
const (
	maxYear  = 9999
	maxMonth = 12
	maxDay   = 31
)

func fromMap(f Family, m map[string]any) (Value, error) {
	fields, ok := objectFields[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s does not take an object", ErrInvalidValue, f)
	}
	known := make(map[string]bool, len(fields))
	for _, fld := range fields {
		known[fld.key] = true
		if _, present := m[fld.key]; fld.required && !present {
			return nil, fmt.Errorf("%w: %s object needs %q", ErrInvalidValue, f, fld.key)
		}
	}
	for key := range m {
		if !known[key] {
			return nil, fmt.Errorf("%w: unknown key %q for %s", ErrInvalidValue, key, f)
		}
	}

	r := objectReader{m: m}
	var v Value
	switch f {
	case DPT2:
		v = ControlBool{Control: r.bool("control"), Value: r.bool("value")}
	case DPT3:
		v = Controlled3Bit{Control: r.bool("control"), Step: uint8(r.uint("step", 7))}
	case DPT10:
		v = TimeOfDay{
			Day:    Weekday(r.uint("day", maxWeekday)),
			Hour:   uint8(r.uint("hour", maxHour)),
			Minute: uint8(r.uint("minute", maxMinute)),
			Second: uint8(r.uint("second", maxSecond)),
		}
	case DPT11:
		v = Date{
			Year:  int(r.uint("year", maxYear)),
			Month: int(r.uint("month", maxMonth)),
			Day:   int(r.uint("day", maxDay)),
		}
	case DPT15:
		v = AccessData{
			Code:       uint32(r.uint("code", dpt15MaxCode)),
			Error:      r.bool("error"),
			Permission: r.bool("permission"),
			Direction:  r.bool("direction"),
			Encrypted:  r.bool("encrypted"),
			Index:      uint8(r.uint("index", dpt15MaxIndex)),
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return v, nil
}

// objectReader reads typed fields from a decoded object, keeping the first
// error. Absent keys read as zero.
type objectReader struct {
	m   map[string]any
	err error
}

func (r *objectReader) bool(key string) bool {
	v, ok := r.m[key]
	if !ok || r.err != nil {
		return false
	}
	b, err := nativeBool(v)
	if err != nil {
		r.err = fmt.Errorf("field %q: %w", key, err)
	}
	return b
}

func (r *objectReader) uint(key string, limit uint64) uint64 {
	v, ok := r.m[key]
	if !ok || r.err != nil {
		return 0
	}
	n, err := nativeUint(v, limit)
	if err != nil {
		r.err = fmt.Errorf("field %q: %w", key, err)
	}
	return n
}

func nativeBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return parseBool(x)
	}
	n, err := nativeUint(v, 1)
	if err != nil {
		return false, fmt.Errorf("%w: not a boolean: %v", ErrInvalidValue, v)
	}
	return n == 1, nil
}

func nativeUint(v any, limit uint64) (uint64, error) {
	var n uint64
	switch x := v.(type) {
	case float64:
		if x < 0 || x != math.Trunc(x) || x > float64(limit) {
			return 0, fmt.Errorf("%w: %v is not an integer in 0..%d", ErrInvalidValue, x, limit)
		}
		n = uint64(x)
	case int:
		return nativeUint(int64(x), limit)
	case int64:
		if x < 0 {
			return 0, fmt.Errorf("%w: %d is negative", ErrInvalidValue, x)
		}
		n = uint64(x)
	case uint8:
		n = uint64(x)
	case uint32:
		n = uint64(x)
	case uint64:
		n = x
	case Weekday:
		n = uint64(x)
	case string:
		parsed, err := parseUint(x, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	default:
		return 0, fmt.Errorf("%w: unsupported %T", ErrInvalidValue, v)
	}
	if n > limit {
		return 0, fmt.Errorf("%w: %d is out of range 0..%d", ErrInvalidValue, n, limit)
	}
	return n, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "on", "yes":
		return true, nil
	case "0", "false", "off", "no":
		return false, nil
	default:
		return false, fmt.Errorf("%w: not a boolean: %q", ErrInvalidValue, s)
	}
}

func parseUint(s string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a %d-bit unsigned integer", ErrInvalidValue, s, bits)
	}
	return v, nil
}

func parseInt(s string, bits int) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 0, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a %d-bit signed integer", ErrInvalidValue, s, bits)
	}
	return v, nil
}

func parseFloat(s string, bits int) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, s)
	}
	return v, nil
}

func splitFields(s string, n int) ([]string, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("%w: expected %d comma-separated fields, got %q", ErrInvalidValue, n, s)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}

func parseTimeOfDay(s string) (Value, error) {
	switch strings.ToLower(s) {
	case keywordNow:
		return TimeOfDayAt(time.Now().Local()), nil
	case keywordNowUTC:
		return TimeOfDayAt(time.Now().UTC()), nil
	}

	day := NoDay
	clock := s
	if prefix, rest, ok := strings.Cut(s, " "); ok {
		d, err := parseWeekday(prefix)
		if err != nil {
			return nil, err
		}
		day = d
		clock = strings.TrimSpace(rest)
	}

	t, err := time.Parse(time.TimeOnly, clock)
	if err != nil {
		return nil, fmt.Errorf("%w: time of day must be [day ]HH:MM:SS, got %q", ErrInvalidValue, s)
	}
	return TimeOfDay{
		Day:    day,
		Hour:   uint8(t.Hour()),   //nolint:gosec // 0-23
		Minute: uint8(t.Minute()), //nolint:gosec // 0-59
		Second: uint8(t.Second()), //nolint:gosec // 0-59
	}, nil
}

func parseWeekday(s string) (Weekday, error) {
	if n, err := strconv.ParseUint(s, 10, 8); err == nil && n <= maxWeekday {
		return Weekday(n), nil
	}
	for i, name := range weekdayNames {
		if i > 0 && strings.EqualFold(name, s) {
			return Weekday(i), nil //nolint:gosec // 1-7
		}
	}
	return NoDay, fmt.Errorf("%w: unknown day %q", ErrInvalidValue, s)
}

func parseDate(s string) (Value, error) {
	switch strings.ToLower(s) {
	case keywordToday:
		return DateAt(time.Now().Local()), nil
	case keywordTodayUTC:
		return DateAt(time.Now().UTC()), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD, got %q", ErrInvalidValue, s)
	}
	return DateAt(t), nil
}

func parseAccess(s string) (Value, error) {
	parts, err := splitFields(s, 6)
	if err != nil {
		return nil, err
	}
	code, err := parseUint(parts[0], 32)
	if err != nil {
		return nil, err
	}
	flags := make([]bool, 4)
	for i := range flags {
		if flags[i], err = parseBool(parts[i+1]); err != nil {
			return nil, err
		}
	}
	index, err := parseUint(parts[5], 8)
	if err != nil {
		return nil, err
	}
	return AccessData{
		Code:       uint32(min(code, dpt15MaxCode)), //nolint:gosec // clamped
		Error:      flags[0],
		Permission: flags[1],
		Direction:  flags[2],
		Encrypted:  flags[3],
		Index:      uint8(min(index, dpt15MaxIndex)), //nolint:gosec // clamped
	}, nil
}
