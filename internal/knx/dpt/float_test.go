package dpt

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

// ─── DPT9 (2-byte float) ───────────────────────────────────────────

func TestEncodeDPT9(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		want  []byte
	}{
		{"zero", 0, []byte{0x00, 0x00}},
		{"12.25 (sample value)", 12.25, []byte{0x04, 0xC9}},
		{"21.0 C", 21.0, []byte{0x0C, 0x1A}},
		{"-1.0", -1.0, []byte{0x87, 0x9C}},
		{"0.01 smallest step", 0.01, []byte{0x00, 0x01}},
		{"-0.01", -0.01, []byte{0x87, 0xFF}},
		{"max", DPT9Max, []byte{0x7F, 0xFE}},
		{"nominal KNX top avoids invalid marker", 670760.96, []byte{0x7F, 0xFE}},
		{"min", DPT9Min, []byte{0xF8, 0x00}},
		{"above max clamps", 1e9, []byte{0x7F, 0xFE}},
		{"below min clamps", -1e9, []byte{0xF8, 0x00}},
		{"NaN is invalid marker", math.NaN(), []byte{0x7F, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeDPT9(tt.value)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("EncodeDPT9(%v) = %X, want %X", tt.value, got, tt.want)
			}
		})
	}
}

func TestDecodeDPT9(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want float64
	}{
		{"12.25", []byte{0x04, 0xC9}, 12.25},
		{"21.0", []byte{0x0C, 0x1A}, 21.0},
		{"-1.0", []byte{0x87, 0x9C}, -1.0},
		{"min", []byte{0xF8, 0x00}, DPT9Min},
		{"max", []byte{0x7F, 0xFE}, DPT9Max},
		{"invalid marker decodes to top of range", []byte{0x7F, 0xFF}, 670760.96},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeDPT9(tt.data)
			if err != nil {
				t.Fatalf("DecodeDPT9() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeDPT9(%X) = %v, want %v", tt.data, got, tt.want)
			}
		})
	}

	if !IsDPT9Invalid([]byte{0x7F, 0xFF}) {
		t.Error("IsDPT9Invalid(7FFF) = false")
	}
	if _, err := DecodeDPT9([]byte{0x0C}); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("DecodeDPT9(1 byte) error = %v, want ErrMalformedPayload", err)
	}
}

// TestDPT9RoundTripGrid walks every representable (mantissa, exponent) pair.
func TestDPT9RoundTripGrid(t *testing.T) {
	for exp := 0; exp <= 15; exp++ {
		for m := -2048; m <= 2046; m += 7 {
			value := float64(m*(1<<exp)) / 100
			got, err := DecodeDPT9(EncodeDPT9(value))
			if err != nil {
				t.Fatalf("DecodeDPT9() error: %v", err)
			}
			if got != value {
				t.Fatalf("round trip m=%d e=%d: %v -> %v", m, exp, value, got)
			}
		}
	}
}

func TestDPT9Rounding(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		want  float64
	}{
		{"below resolution rounds to zero", 0.004, 0},
		{"half step rounds away from zero", 0.005, 0.01},
		{"negative half step rounds away from zero", -0.005, -0.01},
		{"exponent 1 grid", 20.481, 20.48},
		{"large value", 100000.0, 100024.32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeDPT9(EncodeDPT9(tt.value))
			if err != nil {
				t.Fatalf("DecodeDPT9() error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("EncodeDPT9(%v) decodes to %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

// ─── DPT14 (4-byte float) ──────────────────────────────────────────

func TestDPT14(t *testing.T) {
	got := EncodeDPT14(1.0)
	if !bytes.Equal(got, []byte{0x3F, 0x80, 0x00, 0x00}) {
		t.Errorf("EncodeDPT14(1.0) = %X, want 3F800000", got)
	}

	for _, v := range []float32{0, -0.5, 2025.12345, math.MaxFloat32, math.SmallestNonzeroFloat32, float32(math.Inf(-1))} {
		dec, err := DecodeDPT14(EncodeDPT14(v))
		if err != nil {
			t.Fatalf("DecodeDPT14() error: %v", err)
		}
		if dec != v {
			t.Errorf("DPT14 round trip %v = %v", v, dec)
		}
	}

	if _, err := DecodeDPT14([]byte{1, 2, 3}); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("DecodeDPT14(3 bytes) error = %v, want ErrMalformedPayload", err)
	}
}
