package knx

import (
	"bytes"
	"fmt"
	"sync"
)

// LoopbackConfig configures an in-memory bus.
type LoopbackConfig struct {
	// AnswerReads makes the bus answer read requests with the last value
	// written or reported for the address, as a device holding that
	// datapoint would.
	AnswerReads bool

	// DeviceAddress is the source of responses generated by the bus.
	// Default: 15.15.255.
	DeviceAddress IndividualAddress
}

// defaultLoopbackDevice is 15.15.255.
const defaultLoopbackDevice IndividualAddress = 0xFFFF

// LoopbackBus is an in-memory KNX line. Every frame sent by one endpoint is
// delivered to all other endpoints as L_Data.ind and confirmed to the
// sender with L_Data.con.
type LoopbackBus struct {
	cfg LoopbackConfig

	mu        sync.Mutex
	endpoints []*Loopback
	values    map[GroupAddress][]byte // APDU of the last write or response
}

// NewLoopbackBus creates an empty bus.
func NewLoopbackBus(cfg LoopbackConfig) *LoopbackBus {
	if cfg.DeviceAddress == 0 {
		cfg.DeviceAddress = defaultLoopbackDevice
	}
	return &LoopbackBus{
		cfg:    cfg,
		values: make(map[GroupAddress][]byte),
	}
}

// Attach adds a new endpoint to the bus.
func (b *LoopbackBus) Attach() *Loopback {
	l := &Loopback{bus: b, connected: true}
	b.mu.Lock()
	b.endpoints = append(b.endpoints, l)
	b.mu.Unlock()
	return l
}

func (b *LoopbackBus) detach(l *Loopback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.endpoints {
		if e == l {
			b.endpoints = append(b.endpoints[:i], b.endpoints[i+1:]...)
			return
		}
	}
}

// Inject delivers frame to every endpoint as if it came from the bus.
func (b *LoopbackBus) Inject(frame []byte) {
	b.broadcast(nil, frame)
}

func (b *LoopbackBus) transmit(from *Loopback, frame []byte) error {
	f, err := ParseFrame(frame)
	if err != nil {
		return err
	}

	ind := bytes.Clone(frame)
	ind[0] = LDataInd

	var answer []byte
	b.mu.Lock()
	if f.Code == LDataReq {
		switch f.Kind() {
		case KindWrite, KindResponse:
			b.values[f.Destination] = f.APDU
		case KindRead:
			if stored, ok := b.values[f.Destination]; ok && b.cfg.AnswerReads {
				answer = b.responseFrame(f.Destination, stored)
			}
		}
	}
	b.mu.Unlock()

	b.broadcast(from, ind)

	con := bytes.Clone(frame)
	con[0] = LDataCon
	from.deliver(con)

	if answer != nil {
		b.broadcast(nil, answer)
	}
	return nil
}

// responseFrame builds an L_Data.ind response carrying a stored APDU.
func (b *LoopbackBus) responseFrame(ga GroupAddress, apdu []byte) []byte {
	resp := bytes.Clone(apdu)
	resp[1] = APCIResponse | resp[1]&shortDataMask
	frame, err := BuildFrame(LDataInd, b.cfg.DeviceAddress, ga, resp)
	if err != nil {
		// Stored APDUs come from frames that already parsed.
		return nil
	}
	return frame
}

func (b *LoopbackBus) broadcast(from *Loopback, frame []byte) {
	b.mu.Lock()
	targets := make([]*Loopback, 0, len(b.endpoints))
	for _, e := range b.endpoints {
		if e != from {
			targets = append(targets, e)
		}
	}
	b.mu.Unlock()

	for _, e := range targets {
		e.deliver(frame)
	}
}

// Loopback is one endpoint of a LoopbackBus. It implements Transport,
// EventSource and BusState.
type Loopback struct {
	bus *LoopbackBus

	mu        sync.RWMutex
	onReceive func([]byte)
	onEvent   func(Event)
	connected bool
	closed    bool
}

// Ensure Loopback implements the optional transport interfaces.
var (
	_ Transport   = (*Loopback)(nil)
	_ EventSource = (*Loopback)(nil)
	_ BusState    = (*Loopback)(nil)
)

// SendRaw puts frame on the bus.
func (l *Loopback) SendRaw(frame []byte) error {
	l.mu.RLock()
	closed, connected := l.closed, l.connected
	l.mu.RUnlock()

	if closed {
		return fmt.Errorf("%w: loopback closed", ErrTransportUnavailable)
	}
	if !connected {
		return fmt.Errorf("%w: bus disconnected", ErrTransportUnavailable)
	}
	return l.bus.transmit(l, frame)
}

// OnReceive registers the frame callback.
func (l *Loopback) OnReceive(fn func(frame []byte)) {
	l.mu.Lock()
	l.onReceive = fn
	l.mu.Unlock()
}

// OnEvent registers the bus state callback.
func (l *Loopback) OnEvent(fn func(Event)) {
	l.mu.Lock()
	l.onEvent = fn
	l.mu.Unlock()
}

// BusConnected reports the simulated bus link state.
func (l *Loopback) BusConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected && !l.closed
}

// SetBusConnected simulates the bus link going up or down.
func (l *Loopback) SetBusConnected(up bool) {
	l.mu.Lock()
	changed := l.connected != up && !l.closed
	l.connected = up
	fn := l.onEvent
	l.mu.Unlock()

	if !changed || fn == nil {
		return
	}
	if up {
		fn(EventBusConnected)
	} else {
		fn(EventBusDisconnected)
	}
}

// Terminate ends the session from the transport side. The attached port
// sees EventTerminated.
func (l *Loopback) Terminate() {
	l.mu.Lock()
	fn := l.onEvent
	wasClosed := l.closed
	l.closed = true
	l.mu.Unlock()

	l.bus.detach(l)
	if !wasClosed && fn != nil {
		fn(EventTerminated)
	}
}

// Close detaches the endpoint without emitting events.
func (l *Loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.bus.detach(l)
	return nil
}

func (l *Loopback) deliver(frame []byte) {
	l.mu.RLock()
	fn := l.onReceive
	closed := l.closed
	l.mu.RUnlock()

	if fn != nil && !closed {
		fn(frame)
	}
}
