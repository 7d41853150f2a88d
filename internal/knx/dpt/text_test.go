package dpt

import (
	"bytes"
	"errors"
	"testing"
)

// ─── DPT15 (Entrance access) ───────────────────────────────────────

func TestEncodeDPT15(t *testing.T) {
	tests := []struct {
		name string
		in   AccessData
		want []byte
	}{
		{
			name: "sample value",
			in:   AccessData{Code: 1234, Permission: true, Direction: true, Index: 10},
			want: []byte{0x00, 0x12, 0x34, 0x6A},
		},
		{
			name: "all flags, max code",
			in:   AccessData{Code: 999999, Error: true, Permission: true, Direction: true, Encrypted: true, Index: 15},
			want: []byte{0x99, 0x99, 0x99, 0xFF},
		},
		{
			name: "code and index clamp",
			in:   AccessData{Code: 5000000, Index: 200},
			want: []byte{0x99, 0x99, 0x99, 0x0F},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Encode()
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Encode() = %X, want %X", got, tt.want)
			}
		})
	}
}

func TestDPT15RoundTrip(t *testing.T) {
	for code := uint32(0); code <= 999999; code += 9973 {
		for index := uint8(0); index <= 15; index += 5 {
			want := AccessData{
				Code:       code,
				Error:      code%2 == 0,
				Permission: code%3 == 0,
				Direction:  index%2 == 0,
				Encrypted:  index > 7,
				Index:      index,
			}
			got, err := DecodeDPT15(want.Encode())
			if err != nil {
				t.Fatalf("DecodeDPT15() error: %v", err)
			}
			if got != want {
				t.Fatalf("round trip %+v = %+v", want, got)
			}
		}
	}
}

func TestDecodeDPT15Malformed(t *testing.T) {
	if _, err := DecodeDPT15([]byte{0x00, 0x12, 0x34}); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("3 bytes: error = %v, want ErrMalformedPayload", err)
	}
	if _, err := DecodeDPT15([]byte{0x0A, 0x00, 0x00, 0x00}); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("non-BCD digit: error = %v, want ErrMalformedPayload", err)
	}
}

// ─── DPT16 (Character string) ──────────────────────────────────────

func TestEncodeDPT16(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []byte
	}{
		{
			name: "sample value fills all 14 bytes",
			in:   "Weinzierl Eng ",
			want: []byte("Weinzierl Eng "),
		},
		{
			name: "short string is zero padded",
			in:   "KNX",
			want: []byte{'K', 'N', 'X', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		},
		{
			name: "long string is truncated",
			in:   "KNX is a building bus",
			want: []byte("KNX is a build"),
		},
		{
			name: "empty string",
			in:   "",
			want: make([]byte, 14),
		},
		{
			name: "Latin-1 and replacement",
			in:   "ü€",
			want: []byte{0xFC, '?', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeDPT16(tt.in)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("EncodeDPT16(%q) = %X, want %X", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecodeDPT16(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    string
		wantErr bool
	}{
		{"all zero is empty", make([]byte, 14), "", false},
		{"stops at first zero", []byte{'a', 'b', 0, 'c', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, "ab", false},
		{"no terminator", []byte("abcdefghijklmn"), "abcdefghijklmn", false},
		{"trailing bytes ignored", []byte("abcdefghijklmnXYZ"), "abcdefghijklmn", false},
		{"Latin-1 byte", []byte{0xFC, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, "ü", false},
		{"13 bytes", make([]byte, 13), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeDPT16(tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeDPT16() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrMalformedPayload) {
				t.Errorf("DecodeDPT16() error = %v, want ErrMalformedPayload", err)
			}
			if got != tt.want {
				t.Errorf("DecodeDPT16() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDPT16RoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", "Weinzierl Eng ", "Grüße", "0123456789abcd"} {
		got, err := DecodeDPT16(EncodeDPT16(s))
		if err != nil {
			t.Fatalf("DecodeDPT16() error: %v", err)
		}
		if got != s {
			t.Errorf("round trip %q = %q", s, got)
		}
	}
}
