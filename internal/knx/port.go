package knx

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/knx-access/internal/knx/dpt"
)

// Default queue sizes and timeouts for an AccessPort.
const (
	// defaultInboundQueueSize bounds frames waiting for the dispatcher.
	defaultInboundQueueSize = 256

	// defaultEventQueueSize bounds undelivered lifecycle events.
	defaultEventQueueSize = 16

	// defaultObserverBuffer is used when Observe is called with buffer <= 0.
	defaultObserverBuffer = 64

	// defaultReadTimeout applies when GroupValueRead is called with timeout <= 0.
	defaultReadTimeout = 2 * time.Second
)

// PortConfig holds AccessPort configuration.
type PortConfig struct {
	// Source is written into outbound frames. 0.0.0 lets the interface
	// substitute its own address.
	Source IndividualAddress

	// InboundQueueSize bounds frames received but not yet dispatched.
	// Default: 256.
	InboundQueueSize int

	// EventQueueSize bounds the lifecycle event channel.
	// Default: 16.
	EventQueueSize int

	// ReadTimeout is used by GroupValueRead when no timeout is given.
	// Default: 2 seconds.
	ReadTimeout time.Duration
}

// GroupTelegram is one inbound group telegram as seen by observers.
type GroupTelegram struct {
	Address  GroupAddress
	Kind     Kind
	Source   IndividualAddress
	Payload  []byte
	Received time.Time
}

// String returns a human-readable representation of the telegram.
func (t GroupTelegram) String() string {
	return fmt.Sprintf("GroupTelegram{%s, %s→%s, Data:%X}", t.Kind, t.Source, t.Address, t.Payload)
}

// PortStats holds operational statistics.
type PortStats struct {
	FramesRx        uint64 // Group telegrams dispatched
	FramesTx        uint64 // Frames handed to the transport
	Malformed       uint64 // Inbound frames that failed to parse
	Ignored         uint64 // Well-formed frames that are neither group telegrams nor device services
	ServiceRx       uint64 // Device management frames dispatched
	InboundDropped  uint64 // Frames dropped because the inbound queue was full
	ObserverDropped uint64 // Deliveries skipped because an observer was full
	EventsDropped   uint64 // Lifecycle events dropped because nobody drained them
	SendErrors      uint64
	ReadsIssued     uint64
	ReadsAnswered   uint64
	ReadTimeouts    uint64
	LateResponses   uint64 // Responses with no pending read
	LastActivity    time.Time
	Open            bool
}

type readResult struct {
	payload []byte
	err     error
}

// pendingRead is one in-flight GroupValueRead. result is buffered so the
// resolver never blocks; whoever deletes the entry from the table owns the
// single send.
type pendingRead struct {
	result chan readResult
}

type observer struct {
	ch   chan GroupTelegram
	once sync.Once
}

func (o *observer) close() {
	o.once.Do(func() { close(o.ch) })
}

// AccessPort provides group communication over a Transport.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Inbound frames are dispatched by a single goroutine in arrival order.
//   - Observer and event delivery never blocks the dispatcher; deliveries
//     to a full channel are dropped and counted.
//
// Read Correlation:
//   - One pending read per group address. A second read for the same
//     address fails with ErrReadAlreadyPending.
//   - A response resolves at most one pending read. Responses arriving
//     after their read timed out reach observers only.
type AccessPort struct {
	cfg PortConfig

	// Session state and the pending-read table
	mu        sync.Mutex
	transport Transport
	open      bool
	closed    bool
	pending   map[GroupAddress]*pendingRead

	// Observers
	obsMu     sync.RWMutex
	observers map[uint64]*observer
	nextObs   uint64
	obsClosed bool

	// Device management listeners
	svcMu   sync.RWMutex
	svcs    map[uint64]chan Frame
	nextSvc uint64

	// Lifecycle events
	evMu     sync.RWMutex
	events   chan Event
	evClosed bool

	inbound chan []byte

	// Shutdown coordination
	done *CloseOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	framesRx        atomic.Uint64
	framesTx        atomic.Uint64
	malformed       atomic.Uint64
	ignored         atomic.Uint64
	serviceRx       atomic.Uint64
	inboundDropped  atomic.Uint64
	observerDropped atomic.Uint64
	eventsDropped   atomic.Uint64
	sendErrors      atomic.Uint64
	readsIssued     atomic.Uint64
	readsAnswered   atomic.Uint64
	readTimeouts    atomic.Uint64
	lateResponses   atomic.Uint64
	lastActivity    atomic.Int64 // Unix nanoseconds
}

// NewAccessPort creates an access port with no transport attached.
func NewAccessPort(cfg PortConfig) *AccessPort {
	if cfg.InboundQueueSize <= 0 {
		cfg.InboundQueueSize = defaultInboundQueueSize
	}
	if cfg.EventQueueSize <= 0 {
		cfg.EventQueueSize = defaultEventQueueSize
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}

	return &AccessPort{
		cfg:       cfg,
		pending:   make(map[GroupAddress]*pendingRead),
		observers: make(map[uint64]*observer),
		svcs:      make(map[uint64]chan Frame),
		events:    make(chan Event, cfg.EventQueueSize),
		inbound:   make(chan []byte, cfg.InboundQueueSize),
		done:      NewCloseOnce(),
	}
}

// Open attaches the transport, registers the receive callback and starts
// the dispatcher.
//
// EventOpened is emitted, followed by EventBusConnected unless the
// transport implements BusState and reports the bus down.
//
// Parameters:
//   - t: Transport session; OnReceive is called exactly once
//
// Returns:
//   - error: ErrAlreadyOpen, or ErrTransportUnavailable if the port was closed
func (p *AccessPort) Open(t Transport) error {
	if t == nil {
		return fmt.Errorf("%w: nil transport", ErrTransportUnavailable)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("%w: port closed", ErrTransportUnavailable)
	}
	if p.transport != nil {
		p.mu.Unlock()
		return ErrAlreadyOpen
	}
	p.transport = t
	p.open = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.dispatchLoop()

	t.OnReceive(p.receive)
	if es, ok := t.(EventSource); ok {
		es.OnEvent(p.handleTransportEvent)
	}

	p.emit(EventOpened)
	busUp := true
	if bs, ok := t.(BusState); ok {
		busUp = bs.BusConnected()
	}
	if busUp {
		p.emit(EventBusConnected)
	}

	p.logInfo("access port opened", "source", p.cfg.Source.String(), "bus_connected", busUp)
	return nil
}

// Close detaches the port. Pending reads fail with ErrTransportUnavailable,
// EventClosed is emitted, then the event and observer channels are closed.
// The transport itself is left to its owner. Safe to call multiple times.
func (p *AccessPort) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.open = false
	p.failPendingLocked(ErrTransportUnavailable)
	p.mu.Unlock()

	p.done.Close()
	p.wg.Wait()

	p.emit(EventClosed)

	p.evMu.Lock()
	p.evClosed = true
	close(p.events)
	p.evMu.Unlock()

	p.obsMu.Lock()
	p.obsClosed = true
	for id, o := range p.observers {
		o.close()
		delete(p.observers, id)
	}
	p.obsMu.Unlock()

	p.logInfo("access port closed")
	return nil
}

// IsOpen reports whether a usable transport is attached.
func (p *AccessPort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// HealthCheck returns ErrTransportUnavailable when the port cannot send.
func (p *AccessPort) HealthCheck(_ context.Context) error {
	if !p.IsOpen() {
		return ErrTransportUnavailable
	}
	return nil
}

// GroupValueWrite sends a group write with payload following the APCI
// octet. Use GroupValueWriteBits for values of six bits or fewer.
func (p *AccessPort) GroupValueWrite(ctx context.Context, ga GroupAddress, payload []byte) error {
	return p.GroupValueWriteBits(ctx, ga, payload, 0)
}

// GroupValueWriteBits sends a group write whose value is bits wide.
//
// Parameters:
//   - ctx: Context for cancellation
//   - ga: Target group address
//   - payload: DPT-encoded value
//   - bits: Value width; 1 to 6 selects the short APDU form
//
// Returns:
//   - error: ErrTransportUnavailable if no session is open or the send fails
func (p *AccessPort) GroupValueWriteBits(ctx context.Context, ga GroupAddress, payload []byte, bits int) error {
	return p.sendGroup(ctx, ga, APCIWrite, payload, bits)
}

// GroupValueRespond answers a read request for ga, as a device would.
func (p *AccessPort) GroupValueRespond(ctx context.Context, ga GroupAddress, payload []byte, bits int) error {
	return p.sendGroup(ctx, ga, APCIResponse, payload, bits)
}

// WriteValue encodes v and writes it to ga in the form its family requires.
func (p *AccessPort) WriteValue(ctx context.Context, ga GroupAddress, v dpt.Value) error {
	return p.GroupValueWriteBits(ctx, ga, v.Encode(), v.Family().Bits())
}

func (p *AccessPort) sendGroup(ctx context.Context, ga GroupAddress, apci byte, payload []byte, bits int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	frame, err := NewGroupFrame(LDataReq, p.cfg.Source, ga, apci, payload, bits)
	if err != nil {
		return err
	}

	t, err := p.currentTransport()
	if err != nil {
		return err
	}
	return p.send(t, frame)
}

// GroupValueRead sends a read request for ga and waits for the response.
//
// The deadline is measured from the moment the request is handed to the
// transport. The dispatcher keeps delivering unrelated telegrams to
// observers while the caller waits.
//
// Parameters:
//   - ctx: Context for cancellation; cancellation returns ctx.Err()
//   - ga: Group address to read
//   - timeout: Response deadline; <= 0 uses PortConfig.ReadTimeout
//
// Returns:
//   - []byte: Response payload
//   - error: ErrTimeout, ErrReadAlreadyPending or ErrTransportUnavailable
func (p *AccessPort) GroupValueRead(ctx context.Context, ga GroupAddress, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = p.cfg.ReadTimeout
	}

	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return nil, ErrTransportUnavailable
	}
	if _, busy := p.pending[ga]; busy {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrReadAlreadyPending, ga)
	}
	pr := &pendingRead{result: make(chan readResult, 1)}
	p.pending[ga] = pr
	t := p.transport
	p.mu.Unlock()

	// Registered before sending: a synchronous transport may deliver the
	// response before SendRaw returns.
	frame, err := NewGroupFrame(LDataReq, p.cfg.Source, ga, APCIRead, nil, 0)
	if err != nil {
		p.removePending(ga, pr)
		return nil, err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	if err := p.send(t, frame); err != nil {
		p.removePending(ga, pr)
		return nil, err
	}
	p.readsIssued.Add(1)

	select {
	case res := <-pr.result:
		return res.payload, res.err

	case <-timer.C:
		if p.removePending(ga, pr) {
			p.readTimeouts.Add(1)
			p.logDebug("group read timed out", "ga", ga.String(), "timeout", timeout.String())
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, ga, timeout)
		}
		// Resolved between the timer firing and removal.
		res := <-pr.result
		return res.payload, res.err

	case <-ctx.Done():
		if p.removePending(ga, pr) {
			return nil, ctx.Err()
		}
		res := <-pr.result
		return res.payload, res.err
	}
}

// ReadValue reads ga and decodes the response as family f.
func (p *AccessPort) ReadValue(ctx context.Context, ga GroupAddress, f dpt.Family, timeout time.Duration) (dpt.Value, error) {
	payload, err := p.GroupValueRead(ctx, ga, timeout)
	if err != nil {
		return nil, err
	}
	return dpt.Decode(f, payload)
}

// PendingReads returns the number of reads waiting for a response.
func (p *AccessPort) PendingReads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// removePending deletes the entry for ga if it is still pr. It returns
// false when the dispatcher or Close got there first, in which case a
// result is already buffered on pr.
func (p *AccessPort) removePending(ga GroupAddress, pr *pendingRead) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending[ga] != pr {
		return false
	}
	delete(p.pending, ga)
	return true
}

// failPendingLocked resolves every pending read with err. Caller holds p.mu.
func (p *AccessPort) failPendingLocked(err error) {
	for ga, pr := range p.pending {
		pr.result <- readResult{err: err}
		delete(p.pending, ga)
	}
}

// Observe registers an observer for every inbound group telegram.
//
// The returned channel is closed by cancel or by Close. Telegrams are
// dropped (and counted in PortStats.ObserverDropped) while the channel is
// full. Payload slices are shared between observers and must not be
// modified.
func (p *AccessPort) Observe(buffer int) (<-chan GroupTelegram, func()) {
	if buffer <= 0 {
		buffer = defaultObserverBuffer
	}
	o := &observer{ch: make(chan GroupTelegram, buffer)}

	p.obsMu.Lock()
	defer p.obsMu.Unlock()
	if p.obsClosed {
		o.close()
		return o.ch, func() {}
	}
	id := p.nextObs
	p.nextObs++
	p.observers[id] = o

	cancel := func() {
		p.obsMu.Lock()
		if _, ok := p.observers[id]; ok {
			delete(p.observers, id)
			o.close()
		}
		p.obsMu.Unlock()
	}
	return o.ch, cancel
}

// Events returns the lifecycle event channel. It is closed by Close.
func (p *AccessPort) Events() <-chan Event {
	return p.events
}

// Stats returns current operational statistics.
func (p *AccessPort) Stats() PortStats {
	var last time.Time
	if ns := p.lastActivity.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return PortStats{
		FramesRx:        p.framesRx.Load(),
		FramesTx:        p.framesTx.Load(),
		Malformed:       p.malformed.Load(),
		Ignored:         p.ignored.Load(),
		ServiceRx:       p.serviceRx.Load(),
		InboundDropped:  p.inboundDropped.Load(),
		ObserverDropped: p.observerDropped.Load(),
		EventsDropped:   p.eventsDropped.Load(),
		SendErrors:      p.sendErrors.Load(),
		ReadsIssued:     p.readsIssued.Load(),
		ReadsAnswered:   p.readsAnswered.Load(),
		ReadTimeouts:    p.readTimeouts.Load(),
		LateResponses:   p.lateResponses.Load(),
		LastActivity:    last,
		Open:            p.IsOpen(),
	}
}

// SetLogger sets the logger for this port.
func (p *AccessPort) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

func (p *AccessPort) currentTransport() (Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return nil, ErrTransportUnavailable
	}
	return p.transport, nil
}

func (p *AccessPort) send(t Transport, frame []byte) error {
	if err := t.SendRaw(frame); err != nil {
		p.sendErrors.Add(1)
		return fmt.Errorf("%w: send: %w", ErrTransportUnavailable, err)
	}
	p.framesTx.Add(1)
	p.lastActivity.Store(time.Now().UnixNano())
	return nil
}

// receive is the transport callback. It copies the frame and queues it
// without blocking.
func (p *AccessPort) receive(frame []byte) {
	select {
	case <-p.done.Done():
		return
	default:
	}

	select {
	case p.inbound <- bytes.Clone(frame):
	default:
		p.inboundDropped.Add(1)
		p.logWarn("inbound queue full, dropping frame", "frame", fmt.Sprintf("%X", frame))
	}
}

// dispatchLoop drains the inbound queue until Close.
func (p *AccessPort) dispatchLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done.Done():
			return
		case frame := <-p.inbound:
			p.dispatch(frame)
		}
	}
}

// dispatch classifies one frame, feeds observers and resolves a pending
// read. A bad frame is logged and dropped; it never stops the loop.
func (p *AccessPort) dispatch(frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.logError("dispatch panic", fmt.Errorf("%v", r))
		}
	}()

	f, err := ParseFrame(frame)
	if err != nil {
		p.malformed.Add(1)
		p.logWarn("dropping malformed frame", "error", err, "frame", fmt.Sprintf("%X", frame))
		return
	}

	kind := f.Kind()
	if kind == KindOther {
		if f.Code == LDataInd && isDeviceService(f) {
			p.serviceRx.Add(1)
			p.deliverService(f)
			return
		}
		p.ignored.Add(1)
		return
	}

	p.framesRx.Add(1)
	now := time.Now()
	p.lastActivity.Store(now.UnixNano())

	p.deliver(GroupTelegram{
		Address:  f.Destination,
		Kind:     kind,
		Source:   f.Source,
		Payload:  f.Payload,
		Received: now,
	})

	if kind == KindResponse {
		p.resolve(f.Destination, f.Payload)
	}
}

func (p *AccessPort) deliver(t GroupTelegram) {
	p.obsMu.RLock()
	defer p.obsMu.RUnlock()

	for _, o := range p.observers {
		select {
		case o.ch <- t:
		default:
			p.observerDropped.Add(1)
		}
	}
}

// observeServices registers a listener for inbound device management
// frames. Frames are dropped while the channel is full.
func (p *AccessPort) observeServices(buffer int) (<-chan Frame, func()) {
	ch := make(chan Frame, buffer)

	p.svcMu.Lock()
	id := p.nextSvc
	p.nextSvc++
	p.svcs[id] = ch
	p.svcMu.Unlock()

	return ch, func() {
		p.svcMu.Lock()
		delete(p.svcs, id)
		p.svcMu.Unlock()
	}
}

func (p *AccessPort) deliverService(f Frame) {
	p.svcMu.RLock()
	defer p.svcMu.RUnlock()

	for _, ch := range p.svcs {
		select {
		case ch <- f:
		default:
			p.observerDropped.Add(1)
		}
	}
}

// sendService sends a device management request.
func (p *AccessPort) sendService(ctx context.Context, dst IndividualAddress, broadcast bool, service uint16, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	frame, err := NewServiceFrame(LDataReq, p.cfg.Source, dst, broadcast, service, data)
	if err != nil {
		return err
	}

	t, err := p.currentTransport()
	if err != nil {
		return err
	}
	return p.send(t, frame)
}

func (p *AccessPort) resolve(ga GroupAddress, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pr, ok := p.pending[ga]
	if !ok {
		p.lateResponses.Add(1)
		return
	}
	delete(p.pending, ga)
	p.readsAnswered.Add(1)
	pr.result <- readResult{payload: bytes.Clone(payload)}
}

// handleTransportEvent forwards bus state changes from an EventSource.
func (p *AccessPort) handleTransportEvent(e Event) {
	switch e {
	case EventBusConnected:
		p.logInfo("bus connected")
	case EventBusDisconnected:
		p.logWarn("bus disconnected")
	case EventTerminated:
		p.mu.Lock()
		p.open = false
		p.failPendingLocked(ErrTransportUnavailable)
		p.mu.Unlock()
		p.logWarn("transport terminated")
	default:
		return
	}
	p.emit(e)
}

func (p *AccessPort) emit(e Event) {
	p.evMu.RLock()
	defer p.evMu.RUnlock()
	if p.evClosed {
		return
	}
	select {
	case p.events <- e:
	default:
		p.eventsDropped.Add(1)
	}
}

// logDebug logs a debug message if logger is set.
func (p *AccessPort) logDebug(msg string, keysAndValues ...any) {
	if logger := p.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (p *AccessPort) logInfo(msg string, keysAndValues ...any) {
	if logger := p.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (p *AccessPort) logWarn(msg string, keysAndValues ...any) {
	if logger := p.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (p *AccessPort) logError(msg string, err error) {
	if logger := p.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (p *AccessPort) getLogger() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}
