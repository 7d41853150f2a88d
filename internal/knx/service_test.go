package knx

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

var testSerial = []byte{0x00, 0xC5, 0x01, 0x02, 0x03, 0x04}

func newServiceFixture(t *testing.T, devices ...LoopbackDeviceConfig) (*ServicePort, *AccessPort, []*LoopbackDevice) {
	t.Helper()
	bus := NewLoopbackBus(LoopbackConfig{})
	port, _ := newLoopbackPort(t, bus, 0x11FA)

	var attached []*LoopbackDevice
	for _, cfg := range devices {
		d := bus.AttachDevice(cfg)
		t.Cleanup(func() { d.Close() })
		attached = append(attached, d)
	}
	return NewServicePort(port, ServiceConfig{Timeout: 200 * time.Millisecond}), port, attached
}

func TestServiceFrameLayout(t *testing.T) {
	tests := []struct {
		name      string
		dst       IndividualAddress
		broadcast bool
		service   uint16
		data      []byte
		want      []byte
	}{
		{
			"individual address read", 0, true, ServiceIndividualAddressRead, nil,
			[]byte{0x11, 0x00, 0xBC, 0xE0, 0x11, 0xFA, 0x00, 0x00, 0x01, 0x01, 0x00},
		},
		{
			"individual address write", 0, true, ServiceIndividualAddressWrite, []byte{0x05, 0xF1},
			[]byte{0x11, 0x00, 0xBC, 0xE0, 0x11, 0xFA, 0x00, 0x00, 0x03, 0x00, 0xC0, 0x05, 0xF1},
		},
		{
			"property read", 0xFFFF, false, ServicePropertyValueRead, []byte{0x00, 0x0B, 0x10, 0x01},
			[]byte{0x11, 0x00, 0xBC, 0x60, 0x11, 0xFA, 0xFF, 0xFF, 0x05, 0x03, 0xD5, 0x00, 0x0B, 0x10, 0x01},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewServiceFrame(LDataReq, 0x11FA, tt.dst, tt.broadcast, tt.service, tt.data)
			if err != nil {
				t.Fatalf("NewServiceFrame() error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("NewServiceFrame() = % X, want % X", got, tt.want)
			}

			f, err := ParseFrame(got)
			if err != nil {
				t.Fatalf("ParseFrame() error: %v", err)
			}
			if f.Service() != tt.service || f.Group != tt.broadcast || f.Kind() != KindOther {
				t.Errorf("parsed service %03X group %v kind %s", f.Service(), f.Group, f.Kind())
			}
			if !isDeviceService(f) {
				t.Error("isDeviceService() = false")
			}
			if !tt.broadcast && f.Target() != tt.dst {
				t.Errorf("Target() = %s, want %s", f.Target(), tt.dst)
			}
		})
	}
}

func TestPropertyRefHeader(t *testing.T) {
	ref := PropertyRef{Object: 3, PID: 54, Count: 2, Start: 0x123}
	header := ref.header()
	if want := []byte{0x03, 0x36, 0x21, 0x23}; !bytes.Equal(header, want) {
		t.Fatalf("header() = % X, want % X", header, want)
	}
	got, rest, err := parsePropertyData(append(header, 0xAA))
	if err != nil {
		t.Fatalf("parsePropertyData() error: %v", err)
	}
	if got != ref || !bytes.Equal(rest, []byte{0xAA}) {
		t.Errorf("parsePropertyData() = %+v % X", got, rest)
	}
	if _, _, err := parsePropertyData([]byte{0x00, 0x0B}); !errors.Is(err, ErrMalformedTelegram) {
		t.Errorf("short header error = %v, want ErrMalformedTelegram", err)
	}
}

func TestPropertyValueRead(t *testing.T) {
	sp, port, _ := newServiceFixture(t, LoopbackDeviceConfig{
		Properties: map[uint8][]byte{PIDSerialNumber: testSerial},
	})
	ctx := context.Background()

	serial, err := sp.PropertyValueRead(ctx, 0xFFFF, PropertyRef{Object: ObjectDevice, PID: PIDSerialNumber, Count: 1, Start: 1})
	if err != nil {
		t.Fatalf("PropertyValueRead() error: %v", err)
	}
	if !bytes.Equal(serial, testSerial) {
		t.Errorf("serial number = % X, want % X", serial, testSerial)
	}

	_, err = sp.PropertyValueRead(ctx, 0xFFFF, PropertyRef{Object: ObjectDevice, PID: 99, Count: 1, Start: 1})
	if !errors.Is(err, ErrPropertyRejected) {
		t.Errorf("unknown property error = %v, want ErrPropertyRejected", err)
	}

	_, err = sp.PropertyValueRead(ctx, 0x1101, PropertyRef{Object: ObjectDevice, PID: PIDSerialNumber, Count: 1, Start: 1})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("absent device error = %v, want ErrTimeout", err)
	}

	if port.Stats().ServiceRx == 0 {
		t.Error("ServiceRx = 0 after answered requests")
	}
}

func TestPropertyRequestValidation(t *testing.T) {
	sp, _, _ := newServiceFixture(t)
	ctx := context.Background()

	bad := []PropertyRef{
		{PID: PIDProgMode, Count: 0, Start: 1},
		{PID: PIDProgMode, Count: 16, Start: 1},
		{PID: PIDProgMode, Count: 1, Start: 0x1000},
	}
	for _, ref := range bad {
		if _, err := sp.PropertyValueRead(ctx, 0xFFFF, ref); !errors.Is(err, ErrInvalidProperty) {
			t.Errorf("PropertyValueRead(%s) error = %v, want ErrInvalidProperty", ref, err)
		}
	}
	if err := sp.PropertyValueWrite(ctx, 0xFFFF, progModeRef, nil); !errors.Is(err, ErrInvalidProperty) {
		t.Errorf("empty write error = %v, want ErrInvalidProperty", err)
	}
}

func TestProgMode(t *testing.T) {
	sp, _, devices := newServiceFixture(t, LoopbackDeviceConfig{
		Properties: map[uint8][]byte{PIDSerialNumber: testSerial},
	})
	device := devices[0]
	ctx := context.Background()

	// Writing the programming mode property directly.
	if err := sp.PropertyValueWrite(ctx, 0xFFFF, progModeRef, []byte{0x00}); err != nil {
		t.Fatalf("PropertyValueWrite() error: %v", err)
	}

	for _, on := range []bool{true, false} {
		if err := sp.SwitchProgMode(ctx, 0xFFFF, on); err != nil {
			t.Fatalf("SwitchProgMode(%v) error: %v", on, err)
		}
		if device.ProgMode() != on {
			t.Errorf("device programming mode = %v, want %v", device.ProgMode(), on)
		}
		got, err := sp.ReadProgMode(ctx, 0xFFFF)
		if err != nil {
			t.Fatalf("ReadProgMode() error: %v", err)
		}
		if got != on {
			t.Errorf("ReadProgMode() = %v, want %v", got, on)
		}
	}

	// Read-only properties reject writes.
	err := sp.PropertyValueWrite(ctx, 0xFFFF, PropertyRef{Object: ObjectDevice, PID: PIDSerialNumber, Count: 1, Start: 1}, testSerial)
	if !errors.Is(err, ErrPropertyRejected) {
		t.Errorf("serial number write error = %v, want ErrPropertyRejected", err)
	}
}

func TestIndividualAddressProgMode(t *testing.T) {
	sp, _, devices := newServiceFixture(t,
		LoopbackDeviceConfig{Address: 0x1105, ProgMode: true},
		LoopbackDeviceConfig{Address: 0x1106},
		LoopbackDeviceConfig{Address: 0x1104, ProgMode: true},
	)
	ctx := context.Background()
	window := 50 * time.Millisecond

	found, err := sp.IndividualAddressProgModeRead(ctx, window)
	if err != nil {
		t.Fatalf("IndividualAddressProgModeRead() error: %v", err)
	}
	if want := []IndividualAddress{0x1104, 0x1105}; !slices.Equal(found, want) {
		t.Errorf("devices in programming mode = %v, want %v", found, want)
	}

	devices[2].SetProgMode(false)
	if err := sp.IndividualAddressProgModeWrite(ctx, 0x05F1); err != nil {
		t.Fatalf("IndividualAddressProgModeWrite() error: %v", err)
	}
	if devices[0].Address() != 0x05F1 {
		t.Errorf("device in programming mode has address %s, want 0.5.241", devices[0].Address())
	}
	if devices[1].Address() != 0x1106 || devices[2].Address() != 0x1104 {
		t.Errorf("devices outside programming mode changed address: %s, %s", devices[1].Address(), devices[2].Address())
	}

	found, err = sp.IndividualAddressProgModeRead(ctx, window)
	if err != nil {
		t.Fatalf("IndividualAddressProgModeRead() error: %v", err)
	}
	if want := []IndividualAddress{0x05F1}; !slices.Equal(found, want) {
		t.Errorf("devices after write = %v, want %v", found, want)
	}

	devices[0].SetProgMode(false)
	found, err = sp.IndividualAddressProgModeRead(ctx, window)
	if err != nil || len(found) != 0 {
		t.Errorf("IndividualAddressProgModeRead() with none in programming mode = %v, %v", found, err)
	}
}

func TestServicePortClosed(t *testing.T) {
	sp, port, _ := newServiceFixture(t, LoopbackDeviceConfig{})
	port.Close()

	if _, err := sp.ReadProgMode(context.Background(), 0xFFFF); !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("ReadProgMode() on closed port error = %v, want ErrTransportUnavailable", err)
	}
	if _, err := sp.IndividualAddressProgModeRead(context.Background(), 10*time.Millisecond); !errors.Is(err, ErrTransportUnavailable) {
		t.Errorf("IndividualAddressProgModeRead() on closed port error = %v, want ErrTransportUnavailable", err)
	}
}

func TestGroupTrafficIgnoresServiceFrames(t *testing.T) {
	_, port, _ := newServiceFixture(t, LoopbackDeviceConfig{ProgMode: true})
	obs, cancel := port.Observe(4)
	defer cancel()

	sp := NewServicePort(port, ServiceConfig{})
	if _, err := sp.IndividualAddressProgModeRead(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("IndividualAddressProgModeRead() error: %v", err)
	}

	select {
	case tg := <-obs:
		t.Errorf("group observer received %s", tg)
	default:
	}
}
