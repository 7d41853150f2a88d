package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/nerrad567/knx-access/internal/infrastructure/config"
	"github.com/nerrad567/knx-access/internal/infrastructure/logging"
	"github.com/nerrad567/knx-access/internal/knx"
	"github.com/nerrad567/knx-access/internal/knx/capture"
	"github.com/nerrad567/knx-access/internal/knx/knxd"
)

// getConfigPath returns the configuration file path.
// The --config flag wins over KNXACCESS_CONFIG; neither means defaults only.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(configEnv)
}

// loadConfig loads the configuration and builds the logger it describes.
func loadConfig(opts *rootOptions) (*config.Config, *logging.Logger, error) {
	path := getConfigPath(opts.configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	return cfg, logging.New(cfg.Logging, version), nil
}

// session is an open access port together with the transport under it.
type session struct {
	port      *knx.AccessPort
	transport knx.Transport
	tap       *capture.Tap
	closers   []func() error // run in reverse order after the port closes
	log       *logging.Logger
}

// openSession connects the configured transport and opens an access port
// on it. The caller must Close the session.
//
// Parameters:
//   - ctx: Context for the knxd connect
//   - cfg: Loaded configuration
//   - log: Logger for the port and transport
//
// Returns:
//   - *session: Open port ready for group communication
//   - error: If the transport cannot be reached or the port cannot open
func openSession(ctx context.Context, cfg *config.Config, log *logging.Logger) (*session, error) {
	source, err := knx.ParseIndividualAddress(cfg.KNX.Source)
	if err != nil {
		return nil, fmt.Errorf("knx.source: %w", err)
	}

	s := &session{log: log}

	switch cfg.KNX.Transport {
	case config.TransportLoopback:
		device, parseErr := knx.ParseIndividualAddress(cfg.KNX.Loopback.DeviceAddress)
		if parseErr != nil {
			return nil, fmt.Errorf("knx.loopback.device_address: %w", parseErr)
		}
		bus := knx.NewLoopbackBus(knx.LoopbackConfig{
			AnswerReads:   cfg.KNX.Loopback.AnswerReads,
			DeviceAddress: device,
		})
		if serial := cfg.KNX.Loopback.DeviceSerial; serial != "" {
			sn, hexErr := hex.DecodeString(serial)
			if hexErr != nil {
				return nil, fmt.Errorf("knx.loopback.device_serial: %w", hexErr)
			}
			sim := bus.AttachDevice(knx.LoopbackDeviceConfig{
				Address:    device,
				Properties: map[uint8][]byte{knx.PIDSerialNumber: sn},
			})
			s.closers = append(s.closers, sim.Close)
		}
		endpoint := bus.Attach()
		s.transport = endpoint
		s.closers = append(s.closers, endpoint.Close)
		log.Info("using loopback bus", "device", device.String())

	default:
		kcfg := cfg.KNX.KNXD
		client, connErr := knxd.Connect(ctx, knxd.Config{
			Connection:           kcfg.Connection,
			ConnectTimeout:       time.Duration(kcfg.ConnectTimeout) * time.Second,
			ReadTimeout:          time.Duration(kcfg.ReadTimeout) * time.Second,
			ReconnectInterval:    time.Duration(kcfg.ReconnectInterval) * time.Second,
			MaxReconnectAttempts: kcfg.MaxReconnectAttempts,
		})
		if connErr != nil {
			return nil, fmt.Errorf("connecting to knxd: %w", connErr)
		}
		client.SetLogger(log.Component("knxd"))
		s.transport = client
		s.closers = append(s.closers, client.Close)
		log.Info("connected to knxd", "url", kcfg.Connection)
	}

	if cfg.KNX.CaptureFile != "" {
		w, capErr := capture.Create(cfg.KNX.CaptureFile)
		if capErr != nil {
			s.closeTransport()
			return nil, fmt.Errorf("opening capture file: %w", capErr)
		}
		s.closers = append(s.closers, w.Close)
		s.tap = capture.NewTap(s.transport, w)
		s.transport = s.tap
		log.Info("capturing frames", "path", cfg.KNX.CaptureFile)
	}

	s.port = knx.NewAccessPort(knx.PortConfig{
		Source:           source,
		InboundQueueSize: cfg.KNX.InboundQueueSize,
		EventQueueSize:   cfg.KNX.EventQueueSize,
		ReadTimeout:      cfg.GroupReadTimeout(),
	})
	s.port.SetLogger(log.Component("knx"))
	if err := s.port.Open(s.transport); err != nil {
		s.closeTransport()
		return nil, fmt.Errorf("opening access port: %w", err)
	}
	return s, nil
}

// Close closes the port, then the transport and capture file.
func (s *session) Close() {
	if err := s.port.Close(); err != nil {
		s.log.Error("error closing access port", "error", err)
	}
	if s.tap != nil {
		if err := s.tap.Err(); err != nil {
			s.log.Warn("frame capture incomplete", "error", err)
		}
	}
	s.closeTransport()
}

func (s *session) closeTransport() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.Error("error closing transport", "error", err)
		}
	}
	s.closers = nil
}
