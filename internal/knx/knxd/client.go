package knxd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/knx-access/internal/knx"
)

// Default timeouts and intervals for knxd communication.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout is the idle read deadline; expiry is not an error.
	defaultReadTimeout = 30 * time.Second

	// defaultWriteTimeout is the timeout for write operations.
	defaultWriteTimeout = 5 * time.Second

	// defaultReconnectInterval is the initial delay between reconnection attempts.
	defaultReconnectInterval = 5 * time.Second

	// maxReconnectInterval is the maximum delay between reconnection attempts.
	maxReconnectInterval = 2 * time.Minute

	// backoffFactor grows the reconnect delay after each failure.
	backoffFactor = 1.5

	// readBufferSize is the size of the read buffer for incoming messages.
	readBufferSize = 256

	// defaultTCPAddress is used for "tcp://" without a host.
	defaultTCPAddress = "localhost:6720"
)

// Config holds knxd connection configuration.
type Config struct {
	// Connection is the knxd connection URL.
	// Supported formats:
	//   - "unix:///run/knxd" (Unix socket)
	//   - "tcp://localhost:6720" (TCP)
	Connection string

	// ConnectTimeout is the maximum time to wait for connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the idle read deadline.
	// Default: 30 seconds.
	ReadTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnection attempts.
	// Default: 5 seconds.
	ReconnectInterval time.Duration

	// MaxReconnectAttempts ends the session after this many consecutive
	// failed redials. 0 retries forever.
	MaxReconnectAttempts int
}

// Stats holds operational statistics.
type Stats struct {
	FramesTx        uint64
	FramesRx        uint64
	FramesDropped   uint64 // Received before a receive callback was registered
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful reconnections
	LastActivity    time.Time
	Connected       bool
	Reconnecting    bool // True if currently attempting to reconnect
}

// Client is a knx.Transport backed by a knxd group socket.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The receive callback is invoked from the single receive goroutine,
//     in arrival order. It must not block.
//
// Auto-Reconnection:
//   - When the connection is lost, the client reports EventBusDisconnected
//     and redials with exponential backoff from ReconnectInterval up to
//     maxReconnectInterval (2min).
type Client struct {
	cfg Config

	// Connection state
	connMu    sync.RWMutex
	conn      net.Conn
	connected bool

	// Reconnection state
	reconnecting   atomic.Bool
	reconnectCount atomic.Int32

	// Callbacks
	cbMu      sync.RWMutex
	onReceive func([]byte)
	onEvent   func(knx.Event)

	// Shutdown coordination
	done *knx.CloseOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   knx.Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	framesDropped   atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

// Ensure Client implements the transport interfaces.
var (
	_ knx.Transport   = (*Client)(nil)
	_ knx.EventSource = (*Client)(nil)
	_ knx.BusState    = (*Client)(nil)
)

// Connect establishes a connection to the knxd daemon and opens a group
// socket.
//
// Parameters:
//   - ctx: Context for cancellation (used for initial connection)
//   - cfg: Connection configuration
//
// Returns:
//   - *Client: Connected client ready to be opened by an access port
//   - error: ErrConnectionFailed if dialling or the handshake fails
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	// Apply defaults
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}

	network, address, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial failed: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		cfg:  cfg,
		conn: conn,
		done: knx.NewCloseOnce(),
	}
	c.lastActivity.Store(time.Now().Unix())

	if err := openGroupCon(connectCtx, conn, cfg.ReadTimeout); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake failed: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.wg.Add(1)
	go c.receiveLoop()

	return c, nil
}

// parseConnectionURL parses a knxd connection URL into network and address.
func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		host := u.Host
		if host == "" {
			host = defaultTCPAddress
		}
		return "tcp", host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// openGroupCon sends EIB_OPEN_GROUPCON and waits for knxd to echo it.
//
// Payload: reserved(1) + write_only(1) + reserved(1). write_only=0x00
// opens the socket for both directions.
func openGroupCon(ctx context.Context, conn net.Conn, readTimeout time.Duration) error {
	msg := EncodeMessage(EIBOpenGroupCon, []byte{0x00, 0x00, 0x00})

	writeDeadline := time.Now().Add(defaultWriteTimeout)
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(writeDeadline) {
		writeDeadline = deadline
	}
	if err := conn.SetWriteDeadline(writeDeadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if _, err := conn.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	readDeadline := time.Now().Add(readTimeout)
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(readDeadline) {
		readDeadline = deadline
	}
	if err := conn.SetReadDeadline(readDeadline); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	sizeBytes := make([]byte, 2)
	if _, err := io.ReadFull(conn, sizeBytes); err != nil {
		return fmt.Errorf("read response size: %w", err)
	}
	msgSize := binary.BigEndian.Uint16(sizeBytes)
	if msgSize < 2 {
		return fmt.Errorf("invalid response size: %d", msgSize)
	}

	resp := make([]byte, 2+int(msgSize))
	copy(resp[:2], sizeBytes)
	if _, err := io.ReadFull(conn, resp[2:]); err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	msgType, _, err := ParseMessage(resp)
	if err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if msgType != EIBOpenGroupCon {
		return fmt.Errorf("unexpected response type: 0x%04X", msgType)
	}
	return nil
}

// receiveLoop reads messages until Close, reconnecting on connection loss.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	buf := make([]byte, readBufferSize)

	for {
		if c.isClosed() {
			return
		}

		msgType, payload, err := c.readMessage(buf)
		if err != nil {
			if !c.handleReadError(err) {
				continue // Idle timeout or recoverable error
			}
			if c.isClosed() || !c.reconnect() {
				return
			}
			continue
		}

		if msgType == EIBGroupPacket {
			c.handleGroupPacket(payload)
		}
	}
}

// readMessage reads a single knxd message from the connection.
// An oversized message returns ErrProtocolDesync, which is fatal.
func (c *Client) readMessage(buf []byte) (uint16, []byte, error) {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return 0, nil, ErrNotConnected
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return 0, nil, fmt.Errorf("set deadline: %w", err)
	}

	if _, err := io.ReadFull(conn, buf[:2]); err != nil {
		return 0, nil, fmt.Errorf("read size: %w", err)
	}

	msgSize := binary.BigEndian.Uint16(buf[:2])
	if msgSize < 2 {
		c.errorsTotal.Add(1)
		return 0, nil, fmt.Errorf("%w: invalid message size %d", ErrProtocolDesync, msgSize)
	}

	// The stream cannot be resynchronised after an oversized message, so
	// the connection is reset rather than skipping bytes.
	totalLen := 2 + int(msgSize)
	if totalLen > len(buf) {
		c.errorsTotal.Add(1)
		return 0, nil, fmt.Errorf("%w: size %d exceeds buffer %d", ErrProtocolDesync, totalLen, len(buf))
	}

	if _, err := io.ReadFull(conn, buf[2:totalLen]); err != nil {
		return 0, nil, fmt.Errorf("read message: %w", err)
	}

	msgType, payload, err := ParseMessage(buf[:totalLen])
	if err != nil {
		c.logError("parse message failed", err)
		c.errorsTotal.Add(1)
		return 0, nil, nil // Recoverable
	}
	return msgType, payload, nil
}

// handleReadError returns true if the connection is lost and must be
// re-established.
func (c *Client) handleReadError(err error) bool {
	if c.isClosed() {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false // Idle socket, keep reading
	}

	if errors.Is(err, ErrProtocolDesync) {
		c.logError("protocol desync detected, closing socket", err)
	} else {
		c.logError("read failed", err)
		c.errorsTotal.Add(1)
	}
	c.handleDisconnect()
	return true
}

// handleGroupPacket converts a group packet and hands it to the callback.
func (c *Client) handleGroupPacket(payload []byte) {
	frame, err := FrameFromGroupPacket(payload)
	if err != nil {
		c.logError("convert group packet failed", err)
		c.errorsTotal.Add(1)
		return
	}

	c.framesRx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	c.cbMu.RLock()
	fn := c.onReceive
	c.cbMu.RUnlock()

	if fn == nil {
		c.framesDropped.Add(1)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logError("receive callback panic", fmt.Errorf("%v", r))
		}
	}()
	fn(frame)
}

// handleDisconnect marks the connection lost and reports it once.
func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	if wasConnected {
		c.logInfo("connection lost, will attempt reconnection")
		c.emit(knx.EventBusDisconnected)
	}
}

// reconnect redials knxd with exponential backoff. Returns true once
// connected, false on Close or when MaxReconnectAttempts is exhausted.
func (c *Client) reconnect() bool {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return false
	}
	defer c.reconnecting.Store(false)

	network, address, err := parseConnectionURL(c.cfg.Connection)
	if err != nil {
		c.logError("reconnect: invalid connection URL", err)
		c.emit(knx.EventTerminated)
		return false
	}

	backoff := c.cfg.ReconnectInterval
	for {
		if c.isClosed() {
			return false
		}

		attempt := c.reconnectCount.Add(1)
		if c.cfg.MaxReconnectAttempts > 0 && int(attempt) > c.cfg.MaxReconnectAttempts {
			c.logError("reconnect: giving up", fmt.Errorf("%d attempts failed", attempt-1))
			c.emit(knx.EventTerminated)
			return false
		}
		c.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())

		conn, err := c.dialWithTimeout(network, address)
		if err == nil {
			err = c.establishConnection(conn)
		}
		if err != nil {
			c.logError("reconnect failed", err)
			c.errorsTotal.Add(1)
			select {
			case <-c.done.Done():
				return false
			case <-time.After(backoff):
			}
			backoff = min(time.Duration(float64(backoff)*backoffFactor), maxReconnectInterval)
			continue
		}

		c.reconnectCount.Store(0)
		c.reconnectsTotal.Add(1)
		c.lastActivity.Store(time.Now().Unix())
		c.logInfo("reconnection successful", "total_reconnects", c.reconnectsTotal.Load())
		c.emit(knx.EventBusConnected)
		return true
	}
}

// dialWithTimeout attempts to dial the network address with timeout.
func (c *Client) dialWithTimeout(network, address string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s://%s: %w", network, address, err)
	}
	return conn, nil
}

// establishConnection performs the handshake and installs conn.
func (c *Client) establishConnection(conn net.Conn) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	if err := openGroupCon(ctx, conn, c.cfg.ReadTimeout); err != nil {
		conn.Close()
		return fmt.Errorf("handshake: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connected = true
	c.connMu.Unlock()
	return nil
}

// SendRaw converts a cEMI group frame and writes it to knxd.
//
// Returns:
//   - error: ErrNotConnected while disconnected, ErrUnsupportedFrame for
//     non-group frames, or the write error
func (c *Client) SendRaw(frame []byte) error {
	packet, err := GroupPacketFromFrame(frame)
	if err != nil {
		return err
	}
	msg := EncodeMessage(EIBGroupPacket, packet)

	c.connMu.RLock()
	conn, connected := c.conn, c.connected
	c.connMu.RUnlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	if _, err := conn.Write(msg); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("write: %w", err)
	}

	c.framesTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	return nil
}

// OnReceive registers the frame callback.
func (c *Client) OnReceive(fn func(frame []byte)) {
	c.cbMu.Lock()
	c.onReceive = fn
	c.cbMu.Unlock()
}

// OnEvent registers the bus state callback.
func (c *Client) OnEvent(fn func(knx.Event)) {
	c.cbMu.Lock()
	c.onEvent = fn
	c.cbMu.Unlock()
}

// BusConnected reports whether the knxd socket is up.
func (c *Client) BusConnected() bool {
	return c.IsConnected()
}

// IsConnected returns true if connected to knxd.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// HealthCheck verifies the connection is alive.
func (c *Client) HealthCheck(_ context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		FramesTx:        c.framesTx.Load(),
		FramesRx:        c.framesRx.Load(),
		FramesDropped:   c.framesDropped.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		Connected:       c.IsConnected(),
		Reconnecting:    c.reconnecting.Load(),
	}
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger knx.Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Close sends EIB_CLOSE, closes the socket and waits for the receive loop.
// Safe to call multiple times.
func (c *Client) Close() error {
	c.done.Close()

	c.connMu.Lock()
	c.connected = false
	if c.conn != nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_, _ = c.conn.Write(EncodeMessage(EIBClose, nil))
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.wg.Wait()

	c.logInfo("connection closed")
	return nil
}

// isClosed returns true if the client has been closed.
func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

func (c *Client) emit(e knx.Event) {
	if c.isClosed() {
		return
	}
	c.cbMu.RLock()
	fn := c.onEvent
	c.cbMu.RUnlock()
	if fn != nil {
		fn(e)
	}
}

// logInfo logs an info message if logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
