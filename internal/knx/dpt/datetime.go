package dpt

import "time"

// DPT 10 and 11 field limits.
const (
	maxWeekday = 7
	maxHour    = 23
	maxMinute  = 59
	maxSecond  = 59

	dpt10DayShift = 5
	dpt10HourMask = 0x1F
	dpt10MinMask  = 0x3F
	dpt10SecMask  = 0x3F

	dpt11DayMask   = 0x1F
	dpt11MonthMask = 0x0F
	dpt11YearMask  = 0x7F

	// dpt11Pivot splits the 2-digit year: 90-99 map to 1990-1999,
	// 0-89 map to 2000-2089 (KNX 3.7.2, DPT 11.001).
	dpt11Pivot   = 90
	dpt11MinYear = 1990
	dpt11MaxYear = 2089
)

// Weekday is the DPT 10 day field: 0 = no day, 1 = Monday ... 7 = Sunday.
type Weekday uint8

// Weekday values.
const (
	NoDay Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayNames = [...]string{"", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// String returns the three-letter day name, or "" for NoDay.
func (d Weekday) String() string {
	if d > Sunday {
		return "?"
	}
	return weekdayNames[d]
}

// WeekdayOf converts a time.Weekday to the KNX numbering.
func WeekdayOf(d time.Weekday) Weekday {
	if d == time.Sunday {
		return Sunday
	}
	return Weekday(d) //nolint:gosec // time.Weekday is 0-6
}

// EncodeDPT10 encodes a time of day.
//
// Layout:
//
//	Byte 0: DDDH HHHH (day 0-7, hour 0-23)
//	Byte 1: 00MM MMMM (minute 0-59)
//	Byte 2: 00SS SSSS (second 0-59)
//
// Fields above their maximum clamp to it.
func EncodeDPT10(day Weekday, hour, minute, second uint8) []byte {
	day = min(day, maxWeekday)
	hour = min(hour, maxHour)
	minute = min(minute, maxMinute)
	second = min(second, maxSecond)
	return []byte{
		byte(day)<<dpt10DayShift | hour,
		minute,
		second,
	}
}

// DecodeDPT10 decodes a time of day. Reserved bits are ignored.
func DecodeDPT10(data []byte) (TimeOfDay, error) {
	if err := checkSize(DPT10, data); err != nil {
		return TimeOfDay{}, err
	}
	return TimeOfDay{
		Day:    Weekday(data[0] >> dpt10DayShift),
		Hour:   data[0] & dpt10HourMask,
		Minute: data[1] & dpt10MinMask,
		Second: data[2] & dpt10SecMask,
	}, nil
}

// TimeOfDayAt extracts the DPT 10 fields from t in t's own location.
// Select the clock by passing t.Local() or t.UTC().
func TimeOfDayAt(t time.Time) TimeOfDay {
	return TimeOfDay{
		Day:    WeekdayOf(t.Weekday()),
		Hour:   uint8(t.Hour()),   //nolint:gosec // 0-23
		Minute: uint8(t.Minute()), //nolint:gosec // 0-59
		Second: uint8(t.Second()), //nolint:gosec // 0-59
	}
}

// EncodeDPT10Local encodes the current local time of day.
func EncodeDPT10Local() []byte {
	return TimeOfDayAt(time.Now().Local()).Encode()
}

// EncodeDPT10UTC encodes the current UTC time of day.
func EncodeDPT10UTC() []byte {
	return TimeOfDayAt(time.Now().UTC()).Encode()
}

// EncodeDPT11 encodes a calendar date.
//
// Layout:
//
//	Byte 0: 000D DDDD (day 1-31)
//	Byte 1: 0000 MMMM (month 1-12)
//	Byte 2: 0YYY YYYY (year 0-99, see dpt11Pivot)
//
// Years outside 1990-2089 clamp to the nearest end; month and day clamp to
// their ranges.
func EncodeDPT11(year, month, day int) []byte {
	year = max(dpt11MinYear, min(dpt11MaxYear, year))
	month = max(1, min(12, month))
	day = max(1, min(31, day))
	return []byte{
		byte(day),
		byte(month),
		byte(year % 100),
	}
}

// DecodeDPT11 decodes a calendar date, expanding the 2-digit year.
func DecodeDPT11(data []byte) (Date, error) {
	if err := checkSize(DPT11, data); err != nil {
		return Date{}, err
	}
	yy := int(data[2] & dpt11YearMask)
	year := 2000 + yy
	if yy >= dpt11Pivot {
		year = 1900 + yy
	}
	return Date{
		Year:  year,
		Month: int(data[1] & dpt11MonthMask),
		Day:   int(data[0] & dpt11DayMask),
	}, nil
}

// DateAt extracts the DPT 11 fields from t in t's own location.
func DateAt(t time.Time) Date {
	return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

// EncodeDPT11Local encodes the current local date.
func EncodeDPT11Local() []byte {
	return DateAt(time.Now().Local()).Encode()
}

// EncodeDPT11UTC encodes the current UTC date.
func EncodeDPT11UTC() []byte {
	return DateAt(time.Now().UTC()).Encode()
}
