package knx

import (
	"context"
	"encoding/binary"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Interface object and property identifiers used by the device services.
const (
	// ObjectDevice is the device object, interface object index 0.
	ObjectDevice uint8 = 0

	// PIDSerialNumber is the six-byte KNX serial number.
	PIDSerialNumber uint8 = 11

	// PIDProgMode is the programming mode flag; bit 0 is the mode.
	PIDProgMode uint8 = 54
)

// Property request limits.
const (
	maxPropertyCount = 0x0F
	maxPropertyStart = 0x0FFF
	propertyHeader   = 4 // object, PID, count|start high, start low
)

const (
	defaultServiceTimeout = 2 * time.Second

	// defaultProgModeWindow is how long IndividualAddressProgModeRead
	// collects answers when no window is given.
	defaultProgModeWindow = 500 * time.Millisecond

	serviceBuffer = 16
)

// ServiceConfig configures a ServicePort.
type ServiceConfig struct {
	// Timeout bounds a property request. Default: 2 seconds.
	Timeout time.Duration
}

// ServicePort runs connectionless device management services over an
// AccessPort: property value read and write, the programming mode switch,
// and individual address read and write for devices in programming mode.
//
// Requests are answered by T_Data_Individual and broadcast frames, so the
// transport must carry non-group traffic. The knxd group socket does not.
//
// Thread Safety: All methods are safe for concurrent use. Requests are
// issued one at a time.
type ServicePort struct {
	port    *AccessPort
	timeout time.Duration
	mu      sync.Mutex
}

// NewServicePort creates a service port on p.
func NewServicePort(p *AccessPort, cfg ServiceConfig) *ServicePort {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultServiceTimeout
	}
	return &ServicePort{port: p, timeout: cfg.Timeout}
}

// PropertyRef addresses count elements of a property, starting at start.
type PropertyRef struct {
	Object uint8
	PID    uint8
	Count  uint8
	Start  uint16
}

func (r PropertyRef) validate() error {
	if r.Count == 0 || r.Count > maxPropertyCount {
		return fmt.Errorf("%w: count %d, want 1..%d", ErrInvalidProperty, r.Count, maxPropertyCount)
	}
	if r.Start > maxPropertyStart {
		return fmt.Errorf("%w: start %d, max %d", ErrInvalidProperty, r.Start, maxPropertyStart)
	}
	return nil
}

// header encodes the four property header octets.
func (r PropertyRef) header() []byte {
	return []byte{r.Object, r.PID, r.Count<<4 | byte(r.Start>>8)&0x0F, byte(r.Start)}
}

// String returns "object/pid[start+count]".
func (r PropertyRef) String() string {
	return fmt.Sprintf("%d/%d[%d+%d]", r.Object, r.PID, r.Start, r.Count)
}

// parsePropertyData splits a property service APDU into its reference and
// element data.
func parsePropertyData(data []byte) (PropertyRef, []byte, error) {
	if len(data) < propertyHeader {
		return PropertyRef{}, nil, fmt.Errorf("%w: property header needs %d bytes, got %d",
			ErrMalformedTelegram, propertyHeader, len(data))
	}
	ref := PropertyRef{
		Object: data[0],
		PID:    data[1],
		Count:  data[2] >> 4,
		Start:  binary.BigEndian.Uint16(data[2:4]) & maxPropertyStart,
	}
	return ref, data[propertyHeader:], nil
}

// PropertyValueRead reads elements of a property of the device at dst.
//
// Returns:
//   - []byte: Element data as sent by the device
//   - error: ErrPropertyRejected, ErrTimeout, ErrInvalidProperty or
//     ErrTransportUnavailable
func (s *ServicePort) PropertyValueRead(ctx context.Context, dst IndividualAddress, ref PropertyRef) ([]byte, error) {
	if err := ref.validate(); err != nil {
		return nil, err
	}
	return s.propertyRequest(ctx, dst, ServicePropertyValueRead, ref, nil)
}

// PropertyValueWrite writes elements of a property of the device at dst and
// waits for the device to confirm with the new value.
func (s *ServicePort) PropertyValueWrite(ctx context.Context, dst IndividualAddress, ref PropertyRef, data []byte) error {
	if err := ref.validate(); err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: no data to write", ErrInvalidProperty)
	}
	_, err := s.propertyRequest(ctx, dst, ServicePropertyValueWrite, ref, data)
	return err
}

// ReadProgMode reports whether the device at dst is in programming mode.
func (s *ServicePort) ReadProgMode(ctx context.Context, dst IndividualAddress) (bool, error) {
	data, err := s.PropertyValueRead(ctx, dst, progModeRef)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, fmt.Errorf("%w: empty programming mode response", ErrMalformedTelegram)
	}
	return data[0]&0x01 != 0, nil
}

// SwitchProgMode turns programming mode of the device at dst on or off.
func (s *ServicePort) SwitchProgMode(ctx context.Context, dst IndividualAddress, on bool) error {
	var mode byte
	if on {
		mode = 0x01
	}
	return s.PropertyValueWrite(ctx, dst, progModeRef, []byte{mode})
}

var progModeRef = PropertyRef{Object: ObjectDevice, PID: PIDProgMode, Count: 1, Start: 1}

// IndividualAddressProgModeRead broadcasts an individual address read and
// collects the addresses of every device in programming mode that answers
// within window. No answer is not an error.
func (s *ServicePort) IndividualAddressProgModeRead(ctx context.Context, window time.Duration) ([]IndividualAddress, error) {
	if window <= 0 {
		window = defaultProgModeWindow
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	frames, cancel := s.port.observeServices(serviceBuffer)
	defer cancel()

	if err := s.port.sendService(ctx, 0, true, ServiceIndividualAddressRead, nil); err != nil {
		return nil, err
	}

	timer := time.NewTimer(window)
	defer timer.Stop()

	seen := make(map[IndividualAddress]bool)
	for {
		select {
		case f := <-frames:
			if f.Service() == ServiceIndividualAddressResponse && f.Group {
				seen[f.Source] = true
			}
		case <-timer.C:
			found := make([]IndividualAddress, 0, len(seen))
			for a := range seen {
				found = append(found, a)
			}
			slices.Sort(found)
			s.port.logDebug("individual address read", "devices", len(found))
			return found, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.port.done.Done():
			return nil, ErrTransportUnavailable
		}
	}
}

// IndividualAddressProgModeWrite broadcasts addr as the new individual
// address. Every device in programming mode takes it, so exactly one
// device should be in programming mode.
func (s *ServicePort) IndividualAddressProgModeWrite(ctx context.Context, addr IndividualAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := binary.BigEndian.AppendUint16(nil, uint16(addr))
	if err := s.port.sendService(ctx, 0, true, ServiceIndividualAddressWrite, data); err != nil {
		return err
	}
	s.port.logInfo("individual address written", "address", addr.String())
	return nil
}

// propertyRequest sends a property read or write and waits for the
// matching response from dst.
func (s *ServicePort) propertyRequest(ctx context.Context, dst IndividualAddress, service uint16, ref PropertyRef, data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Registered before sending: a synchronous transport may deliver the
	// response before SendRaw returns.
	frames, cancel := s.port.observeServices(serviceBuffer)
	defer cancel()

	if err := s.port.sendService(ctx, dst, false, service, append(ref.header(), data...)); err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		select {
		case f := <-frames:
			if f.Group || f.Source != dst || f.Service() != ServicePropertyValueResponse {
				continue
			}
			got, elems, err := parsePropertyData(f.ServiceData())
			if err != nil || got.Object != ref.Object || got.PID != ref.PID || got.Start != ref.Start {
				continue
			}
			if got.Count == 0 {
				return nil, fmt.Errorf("%w: %s on %s", ErrPropertyRejected, ref, dst)
			}
			return elems, nil
		case <-timer.C:
			return nil, fmt.Errorf("%w: property %s on %s after %s", ErrTimeout, ref, dst, s.timeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.port.done.Done():
			return nil, ErrTransportUnavailable
		}
	}
}

// isDeviceService reports whether f is an unnumbered device management
// frame.
func isDeviceService(f Frame) bool {
	if f.TPCI&tpciDataGroup != 0 {
		return false
	}
	switch f.Service() {
	case ServiceIndividualAddressWrite, ServiceIndividualAddressRead, ServiceIndividualAddressResponse,
		ServicePropertyValueRead, ServicePropertyValueResponse, ServicePropertyValueWrite:
		return true
	default:
		return false
	}
}
