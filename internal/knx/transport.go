package knx

import "sync"

// Transport is the byte-level session an AccessPort runs on.
//
// Implementations deliver whole cEMI frames. OnReceive is called once when
// the port opens; the callback must not be invoked after the transport is
// closed.
type Transport interface {
	SendRaw(frame []byte) error
	OnReceive(fn func(frame []byte))
}

// EventSource is implemented by transports that report bus state changes
// (EventBusConnected, EventBusDisconnected, EventTerminated).
type EventSource interface {
	OnEvent(fn func(Event))
}

// BusState is implemented by transports that know whether the bus link is
// currently up. A port attached to such a transport only emits
// EventBusConnected on open when BusConnected reports true.
type BusState interface {
	BusConnected() bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// CloseOnce is a done channel that may be closed any number of times.
type CloseOnce struct {
	ch   chan struct{}
	once sync.Once
}

// NewCloseOnce returns an open CloseOnce.
func NewCloseOnce() *CloseOnce {
	return &CloseOnce{ch: make(chan struct{})}
}

// Close closes the channel; later calls do nothing.
func (c *CloseOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

// Done returns the channel, closed once Close has been called.
func (c *CloseOnce) Done() <-chan struct{} {
	return c.ch
}
