package knx

import (
	"encoding/binary"
	"maps"
	"sync"
)

// LoopbackDeviceConfig describes a simulated device on a LoopbackBus.
type LoopbackDeviceConfig struct {
	// Address is the device's individual address. Default: 15.15.255.
	Address IndividualAddress

	// ProgMode starts the device in programming mode.
	ProgMode bool

	// Properties are the readable device object properties, keyed by PID,
	// holding the element data from start index 1. The programming mode
	// property is always present and writable; others are read-only.
	Properties map[uint8][]byte
}

// LoopbackDevice answers device management services on a LoopbackBus the
// way a bus device would: property reads and writes addressed to it, and
// individual address reads and writes while in programming mode.
type LoopbackDevice struct {
	link *Loopback

	mu       sync.Mutex
	address  IndividualAddress
	progMode bool
	props    map[uint8][]byte
}

// AttachDevice adds a simulated device to the bus.
func (b *LoopbackBus) AttachDevice(cfg LoopbackDeviceConfig) *LoopbackDevice {
	if cfg.Address == 0 {
		cfg.Address = defaultLoopbackDevice
	}
	props := make(map[uint8][]byte, len(cfg.Properties))
	maps.Copy(props, cfg.Properties)

	d := &LoopbackDevice{
		link:     b.Attach(),
		address:  cfg.Address,
		progMode: cfg.ProgMode,
		props:    props,
	}
	d.link.OnReceive(d.handle)
	return d
}

// Address returns the device's current individual address.
func (d *LoopbackDevice) Address() IndividualAddress {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.address
}

// ProgMode reports whether the device is in programming mode.
func (d *LoopbackDevice) ProgMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.progMode
}

// SetProgMode presses the device's programming button.
func (d *LoopbackDevice) SetProgMode(on bool) {
	d.mu.Lock()
	d.progMode = on
	d.mu.Unlock()
}

// Close detaches the device from the bus.
func (d *LoopbackDevice) Close() error {
	return d.link.Close()
}

func (d *LoopbackDevice) handle(frame []byte) {
	f, err := ParseFrame(frame)
	if err != nil || f.Code != LDataInd || !isDeviceService(f) {
		return
	}

	reply := d.answer(f)
	if reply != nil {
		// The bus may be gone; a lost answer is what a real line does too.
		_ = d.link.SendRaw(reply) //nolint:errcheck // simulated device
	}
}

// answer applies f to the device state and returns the reply frame, if any.
func (d *LoopbackDevice) answer(f Frame) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch f.Service() {
	case ServiceIndividualAddressRead:
		if !f.Group || !d.progMode {
			return nil
		}
		frame, _ := NewServiceFrame(LDataReq, d.address, 0, true, ServiceIndividualAddressResponse, nil) //nolint:errcheck // fixed size
		return frame

	case ServiceIndividualAddressWrite:
		data := f.ServiceData()
		if f.Group && d.progMode && len(data) >= 2 {
			d.address = IndividualAddress(binary.BigEndian.Uint16(data))
		}
		return nil

	case ServicePropertyValueRead, ServicePropertyValueWrite:
		if f.Group || f.Target() != d.address {
			return nil
		}
		ref, data, err := parsePropertyData(f.ServiceData())
		if err != nil {
			return nil
		}
		elems := d.property(f.Service(), ref, data)
		if elems == nil {
			ref.Count = 0
		}
		frame, _ := NewServiceFrame(LDataReq, d.address, f.Source, false, //nolint:errcheck // bounded by the request
			ServicePropertyValueResponse, append(ref.header(), elems...))
		return frame
	}
	return nil
}

// property reads or writes one element of a device object property and
// returns its value, or nil to reject the request. Caller holds d.mu.
func (d *LoopbackDevice) property(service uint16, ref PropertyRef, data []byte) []byte {
	if ref.Object != ObjectDevice || ref.Count != 1 || ref.Start != 1 {
		return nil
	}

	if ref.PID == PIDProgMode {
		if service == ServicePropertyValueWrite {
			if len(data) == 0 {
				return nil
			}
			d.progMode = data[0]&0x01 != 0
		}
		if d.progMode {
			return []byte{0x01}
		}
		return []byte{0x00}
	}

	if service == ServicePropertyValueWrite {
		return nil
	}
	return d.props[ref.PID]
}
