package dpt

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// ─── DPT10 (Time of day) ───────────────────────────────────────────

func TestEncodeDPT10(t *testing.T) {
	tests := []struct {
		name   string
		day    Weekday
		hour   uint8
		minute uint8
		second uint8
		want   []byte
	}{
		{"Monday 11:11:11 (sample value)", Monday, 11, 11, 11, []byte{0x2B, 0x0B, 0x0B}},
		{"no day midnight", NoDay, 0, 0, 0, []byte{0x00, 0x00, 0x00}},
		{"Sunday 23:59:59", Sunday, 23, 59, 59, []byte{0xF7, 0x3B, 0x3B}},
		{"fields clamp", 9, 30, 70, 99, []byte{0xF7, 0x3B, 0x3B}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeDPT10(tt.day, tt.hour, tt.minute, tt.second)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("EncodeDPT10() = %X, want %X", got, tt.want)
			}
		})
	}
}

func TestDPT10RoundTrip(t *testing.T) {
	for day := NoDay; day <= Sunday; day++ {
		for hour := uint8(0); hour <= 23; hour += 5 {
			for minute := uint8(0); minute <= 59; minute += 13 {
				want := TimeOfDay{Day: day, Hour: hour, Minute: minute, Second: 59 - minute}
				got, err := DecodeDPT10(want.Encode())
				if err != nil {
					t.Fatalf("DecodeDPT10() error: %v", err)
				}
				if got != want {
					t.Fatalf("round trip %v = %v", want, got)
				}
			}
		}
	}

	if _, err := DecodeDPT10([]byte{0x2B, 0x0B}); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("DecodeDPT10(2 bytes) error = %v, want ErrMalformedPayload", err)
	}
}

func TestTimeOfDayAt(t *testing.T) {
	// 2012-03-12 was a Monday.
	loc := time.FixedZone("UTC+2", 2*60*60)
	ts := time.Date(2012, 3, 12, 23, 30, 15, 0, loc)

	local := TimeOfDayAt(ts)
	if local != (TimeOfDay{Day: Monday, Hour: 23, Minute: 30, Second: 15}) {
		t.Errorf("TimeOfDayAt(local) = %v", local)
	}

	utc := TimeOfDayAt(ts.UTC())
	if utc != (TimeOfDay{Day: Monday, Hour: 21, Minute: 30, Second: 15}) {
		t.Errorf("TimeOfDayAt(utc) = %v", utc)
	}

	sunday := TimeOfDayAt(time.Date(2012, 3, 11, 8, 0, 0, 0, time.UTC))
	if sunday.Day != Sunday {
		t.Errorf("Sunday maps to %d, want 7", sunday.Day)
	}
}

func TestEncodeDPT10Clocks(t *testing.T) {
	for name, encode := range map[string]func() []byte{
		"local": EncodeDPT10Local,
		"utc":   EncodeDPT10UTC,
	} {
		got, err := DecodeDPT10(encode())
		if err != nil {
			t.Fatalf("%s: DecodeDPT10() error: %v", name, err)
		}
		if got.Day == NoDay || got.Day > Sunday || got.Hour > 23 || got.Minute > 59 || got.Second > 59 {
			t.Errorf("%s: implausible time of day %+v", name, got)
		}
	}
}

// ─── DPT11 (Date) ──────────────────────────────────────────────────

func TestEncodeDPT11(t *testing.T) {
	tests := []struct {
		name             string
		year, month, day int
		want             []byte
	}{
		{"2012-03-12 (sample value)", 2012, 3, 12, []byte{0x0C, 0x03, 0x0C}},
		{"1990-01-01 pivot start", 1990, 1, 1, []byte{0x01, 0x01, 0x5A}},
		{"1999-12-31", 1999, 12, 31, []byte{0x1F, 0x0C, 0x63}},
		{"2000-01-01", 2000, 1, 1, []byte{0x01, 0x01, 0x00}},
		{"2089-12-31 pivot end", 2089, 12, 31, []byte{0x1F, 0x0C, 0x59}},
		{"year below range clamps", 1850, 6, 1, []byte{0x01, 0x06, 0x5A}},
		{"year above range clamps", 2150, 6, 1, []byte{0x01, 0x06, 0x59}},
		{"month and day clamp", 2020, 13, 0, []byte{0x01, 0x0C, 0x14}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeDPT11(tt.year, tt.month, tt.day)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("EncodeDPT11(%d, %d, %d) = %X, want %X", tt.year, tt.month, tt.day, got, tt.want)
			}
		})
	}
}

func TestDecodeDPT11Pivot(t *testing.T) {
	tests := []struct {
		yy   byte
		want int
	}{
		{0, 2000},
		{12, 2012},
		{89, 2089},
		{90, 1990},
		{99, 1999},
	}

	for _, tt := range tests {
		got, err := DecodeDPT11([]byte{0x01, 0x01, tt.yy})
		if err != nil {
			t.Fatalf("DecodeDPT11() error: %v", err)
		}
		if got.Year != tt.want {
			t.Errorf("year byte %d decodes to %d, want %d", tt.yy, got.Year, tt.want)
		}
	}
}

func TestDPT11RoundTrip(t *testing.T) {
	for year := 1990; year <= 2089; year += 3 {
		for month := 1; month <= 12; month++ {
			want := Date{Year: year, Month: month, Day: (year+month)%31 + 1}
			got, err := DecodeDPT11(want.Encode())
			if err != nil {
				t.Fatalf("DecodeDPT11() error: %v", err)
			}
			if got != want {
				t.Fatalf("round trip %v = %v", want, got)
			}
		}
	}

	if _, err := DecodeDPT11(nil); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("DecodeDPT11(nil) error = %v, want ErrMalformedPayload", err)
	}
}

func TestDateAt(t *testing.T) {
	// 23:30 on the 12th at UTC-5 is already the 13th in UTC.
	ts := time.Date(2012, 3, 12, 23, 30, 0, 0, time.FixedZone("UTC-5", -5*60*60))
	if got := DateAt(ts); got != (Date{2012, 3, 12}) {
		t.Errorf("DateAt(local) = %v", got)
	}
	if got := DateAt(ts.UTC()); got != (Date{2012, 3, 13}) {
		t.Errorf("DateAt(utc) = %v", got)
	}

	for _, data := range [][]byte{EncodeDPT11Local(), EncodeDPT11UTC()} {
		if _, err := DecodeDPT11(data); err != nil {
			t.Errorf("DecodeDPT11(now) error: %v", err)
		}
	}
}
