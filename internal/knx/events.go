package knx

// Event is an access port lifecycle signal. Events carry no payload.
type Event int

// Lifecycle events delivered on AccessPort.Events.
const (
	// EventOpened is emitted once a transport is attached.
	EventOpened Event = iota + 1

	// EventClosed is emitted when the port is closed by its owner.
	EventClosed

	// EventTerminated is emitted when the transport ends the session
	// without being asked to.
	EventTerminated

	// EventBusConnected is emitted when the bus link comes up.
	EventBusConnected

	// EventBusDisconnected is emitted when the bus link is lost.
	EventBusDisconnected
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventTerminated:
		return "terminated"
	case EventBusConnected:
		return "bus_connected"
	case EventBusDisconnected:
		return "bus_disconnected"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (e Event) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}
