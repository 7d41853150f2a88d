package capture

import (
	"sync"

	"github.com/nerrad567/knx-access/internal/knx"
)

// Tap is a knx.Transport that records every frame passing through it to
// a Writer before handing it on. Recording failures never block traffic;
// the first one is kept and reported by Err.
type Tap struct {
	inner knx.Transport
	w     *Writer

	mu  sync.Mutex
	err error
}

// Ensure Tap implements the transport interfaces.
var (
	_ knx.Transport   = (*Tap)(nil)
	_ knx.EventSource = (*Tap)(nil)
	_ knx.BusState    = (*Tap)(nil)
)

// NewTap wraps inner so that sent and received frames are written to w.
func NewTap(inner knx.Transport, w *Writer) *Tap {
	return &Tap{inner: inner, w: w}
}

// SendRaw records frame and forwards it to the wrapped transport.
func (t *Tap) SendRaw(frame []byte) error {
	t.record(frame)
	return t.inner.SendRaw(frame)
}

// OnReceive installs fn behind a recording hook.
func (t *Tap) OnReceive(fn func(frame []byte)) {
	t.inner.OnReceive(func(frame []byte) {
		t.record(frame)
		fn(frame)
	})
}

// OnEvent forwards to the wrapped transport when it reports events.
func (t *Tap) OnEvent(fn func(knx.Event)) {
	if es, ok := t.inner.(knx.EventSource); ok {
		es.OnEvent(fn)
	}
}

// BusConnected reports the wrapped transport's bus state, or true when
// it does not track one.
func (t *Tap) BusConnected() bool {
	if bs, ok := t.inner.(knx.BusState); ok {
		return bs.BusConnected()
	}
	return true
}

// Err returns the first recording error, if any.
func (t *Tap) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Tap) record(frame []byte) {
	if err := t.w.WriteFrame(frame); err != nil {
		t.mu.Lock()
		if t.err == nil {
			t.err = err
		}
		t.mu.Unlock()
	}
}
