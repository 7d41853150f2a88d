package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/knx-access/internal/gateway"
	"github.com/nerrad567/knx-access/internal/infrastructure/config"
	"github.com/nerrad567/knx-access/internal/infrastructure/logging"
	"github.com/nerrad567/knx-access/internal/knx"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// monitorBuffer sizes the port subscription feeding the WebSocket hub.
const monitorBuffer = 256

// Port is the subset of *knx.AccessPort the API drives.
type Port interface {
	Observe(buffer int) (<-chan knx.GroupTelegram, func())
	GroupValueWriteBits(ctx context.Context, ga knx.GroupAddress, payload []byte, bits int) error
	GroupValueRead(ctx context.Context, ga knx.GroupAddress, timeout time.Duration) ([]byte, error)
	Stats() knx.PortStats
	HealthCheck(ctx context.Context) error
}

// ActivityStore serves recorded bus activity. Satisfied by *gateway.Recorder.
type ActivityStore interface {
	GroupAddresses(ctx context.Context, limit int) ([]gateway.AddressActivity, error)
	Devices(ctx context.Context) ([]gateway.DeviceActivity, error)
	History(ctx context.Context, ga knx.GroupAddress, limit int) ([]gateway.HistoryEntry, error)
}

// GatewayStats exposes MQTT gateway counters. Satisfied by *gateway.Gateway.
type GatewayStats interface {
	Stats() gateway.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	Port        Port
	Datapoints  *gateway.Registry
	Activity    ActivityStore // optional
	Gateway     GatewayStats  // optional
	ReadTimeout time.Duration // default for group reads without timeout_ms
	ExternalHub *Hub          // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for knxaccess.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	port        Port
	datapoints  *gateway.Registry
	activity    ActivityStore
	gateway     GatewayStats
	readTimeout time.Duration
	version     string

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	hub      *Hub
	cancel   context.CancelFunc // stops the hub and the monitor feed
	done     chan struct{}      // closed when the monitor feed exits
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, port, datapoints)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Port == nil {
		return nil, fmt.Errorf("access port is required")
	}
	if deps.Datapoints == nil {
		return nil, fmt.Errorf("datapoint registry is required")
	}

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		logger:      deps.Logger,
		port:        deps.Port,
		datapoints:  deps.Datapoints,
		activity:    deps.Activity,
		gateway:     deps.Gateway,
		readTimeout: deps.ReadTimeout,
		version:     deps.Version,
		hub:         deps.ExternalHub,
	}
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub, so port events can be broadcast to it.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, feeds it every telegram observed on the
// port, and launches the HTTP listener in a background goroutine. The
// listener is bound before Start returns, so Addr is valid afterwards.
//
// Parameters:
//   - ctx: Parent context for the hub and monitor goroutines
//
// Returns:
//   - error: If the address cannot be bound or the server already runs
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.done = make(chan struct{})
	telegrams, stop := s.port.Observe(monitorBuffer)
	go s.monitor(srvCtx, telegrams, stop)

	s.listener = ln
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// monitor relays observed telegrams to WebSocket subscribers until ctx ends
// or the port closes.
func (s *Server) monitor(ctx context.Context, telegrams <-chan knx.GroupTelegram, stop func()) {
	defer close(s.done)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-telegrams:
			if !ok {
				return
			}
			s.hub.BroadcastTelegram(s.datapoints.Observe(t))
		}
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.mu.Lock()
	srv, done := s.server, s.done
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	// Cancel background goroutines (hub, monitor feed)
	if s.cancel != nil {
		s.cancel()
	}
	<-done

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
