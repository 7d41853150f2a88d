package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/knx-access/internal/knx"
	"github.com/nerrad567/knx-access/internal/knx/dpt"
)

func TestNewCodec(t *testing.T) {
	tests := []struct {
		format  string
		want    string
		wantErr bool
	}{
		{"", "json", false},
		{"json", "json", false},
		{"cbor", "cbor", false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			c, err := NewCodec(tt.format)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedFormat) {
					t.Errorf("NewCodec(%q) error = %v, want ErrUnsupportedFormat", tt.format, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewCodec(%q) error: %v", tt.format, err)
			}
			if c.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", c.Name(), tt.want)
			}
		})
	}
}

// Commands decoded by either codec must feed straight into dpt.FromNative.
func TestCodecCommandValues(t *testing.T) {
	tests := []struct {
		name   string
		family dpt.Family
		value  any
		want   dpt.Value
	}{
		{"bool", dpt.DPT1, true, dpt.Bool(true)},
		{"integer", dpt.DPT5, 170, dpt.Unsigned8(170)},
		{"negative", dpt.DPT6, -10, dpt.Signed8(-10)},
		{"float", dpt.DPT9, 12.25, dpt.Float16(12.25)},
		{"string", dpt.DPT16, "hello", dpt.String14("hello")},
		{"object", dpt.DPT3, map[string]any{"control": true, "step": 5}, dpt.Controlled3Bit{Control: true, Step: 5}},
	}

	for _, format := range []string{"json", "cbor"} {
		codec, err := NewCodec(format)
		if err != nil {
			t.Fatalf("NewCodec(%q) error: %v", format, err)
		}
		for _, tt := range tests {
			t.Run(format+"/"+tt.name, func(t *testing.T) {
				data, err := codec.Marshal(CommandMessage{RequestID: "r1", Value: tt.value})
				if err != nil {
					t.Fatalf("Marshal() error: %v", err)
				}
				var cmd CommandMessage
				if err := codec.Unmarshal(data, &cmd); err != nil {
					t.Fatalf("Unmarshal() error: %v", err)
				}
				if cmd.RequestID != "r1" {
					t.Errorf("RequestID = %q, want r1", cmd.RequestID)
				}
				got, err := dpt.FromNative(tt.family, cmd.Value)
				if err != nil {
					t.Fatalf("FromNative(%T %v) error: %v", cmd.Value, cmd.Value, err)
				}
				if got != tt.want {
					t.Errorf("FromNative() = %#v, want %#v", got, tt.want)
				}
			})
		}
	}
}

func TestNewStateMessage(t *testing.T) {
	received := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	tg := knx.GroupTelegram{
		Address:  knx.NewGroupAddress(1, 2, 3),
		Kind:     knx.KindWrite,
		Source:   0x1105,
		Payload:  []byte{0x0C, 0x1A},
		Received: received,
	}

	t.Run("mapped", func(t *testing.T) {
		d := Datapoint{Address: tg.Address, DPT: dpt.Temperature, Name: "Living"}
		msg := NewStateMessage(Observation{Telegram: tg, Datapoint: &d, Value: dpt.Float16(21)})

		if msg.Address != "1/2/3" || msg.Kind != "write" || msg.Source != "1.1.5" {
			t.Errorf("header = %s %s %s", msg.Address, msg.Kind, msg.Source)
		}
		if msg.DPT != "9.001" || msg.Name != "Living" {
			t.Errorf("datapoint = %s %q", msg.DPT, msg.Name)
		}
		if msg.Value != float64(21) || msg.Text != "21" {
			t.Errorf("value = %v (%q)", msg.Value, msg.Text)
		}
		if msg.Raw != "0c1a" || !msg.Timestamp.Equal(received) {
			t.Errorf("raw = %q, timestamp = %v", msg.Raw, msg.Timestamp)
		}
	})

	t.Run("unmapped", func(t *testing.T) {
		msg := NewStateMessage(Observation{Telegram: tg})
		if msg.Value != nil || msg.DPT != "" || msg.Raw != "0c1a" {
			t.Errorf("unmapped message = %+v", msg)
		}
	})
}

func TestRawPayload(t *testing.T) {
	tests := []struct {
		in      string
		want    []byte
		wantErr bool
	}{
		{"0c1a", []byte{0x0C, 0x1A}, false},
		{"0x0C1A", []byte{0x0C, 0x1A}, false},
		{"0C 1A", []byte{0x0C, 0x1A}, false},
		{"0XAF", []byte{0xAF}, false},
		{"0x", []byte{}, false},
		{"zz", nil, true},
		{"000102030405060708090a0b0c0d0e", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRaw(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCommand) {
					t.Errorf("ParseRaw(%q) error = %v, want ErrInvalidCommand", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRaw(%q) error: %v", tt.in, err)
			}
			if string(got) != string(tt.want) {
				t.Errorf("ParseRaw(%q) = % X, want % X", tt.in, got, tt.want)
			}
		})
	}
}
