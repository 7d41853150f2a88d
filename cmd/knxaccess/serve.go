package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/knx-access/internal/api"
	"github.com/nerrad567/knx-access/internal/gateway"
	"github.com/nerrad567/knx-access/internal/infrastructure/config"
	"github.com/nerrad567/knx-access/internal/infrastructure/database"
	"github.com/nerrad567/knx-access/internal/infrastructure/influxdb"
	"github.com/nerrad567/knx-access/internal/infrastructure/logging"
	"github.com/nerrad567/knx-access/internal/infrastructure/mqtt"
	"github.com/nerrad567/knx-access/internal/knx"
	"github.com/nerrad567/knx-access/migrations"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// portStatsInterval is how often port counters are written to InfluxDB.
const portStatsInterval = 30 * time.Second

// errTransportTerminated ends serve and monitor when the transport gives up.
var errTransportTerminated = errors.New("knx transport terminated")

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bus gateway until interrupted",
		Long: `Open the access port and run every enabled service on it:

  - MQTT: state publishing and write/read commands
  - SQLite: group address and device activity with value history
  - InfluxDB: decoded numeric values and port counters
  - HTTP API with a WebSocket telegram monitor

The command exits non-zero when the transport terminates.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root)
		},
	}
}

// runServe is the gateway's lifecycle, separated from the command for
// testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - root: Persistent flags
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func runServe(ctx context.Context, root *rootOptions) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting knxaccess",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, log, err := loadConfig(root)
	if err != nil {
		return err
	}
	log.Info("configuration loaded",
		"path", getConfigPath(root.configPath),
		"transport", cfg.KNX.Transport,
	)

	registry, err := gateway.LoadRegistry(cfg.Datapoints)
	if err != nil {
		return fmt.Errorf("loading datapoints: %w", err)
	}
	codec, err := gateway.NewCodec(cfg.MQTT.PayloadFormat)
	if err != nil {
		return err
	}

	// Storage and telemetry come up before the port so that nothing on
	// the bus is missed once it opens.
	var db *database.DB
	var recorder *gateway.Recorder
	if cfg.Database.Enabled {
		db, recorder, err = openRecorder(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			recorder.Stop()
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
	} else {
		log.Info("activity recorder disabled")
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = connectMQTT(cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	s, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	// Optional collaborators go in only when set; a typed nil would
	// satisfy the interfaces and then panic.
	opts := gateway.Options{
		Port:        s.port,
		Datapoints:  registry,
		Codec:       codec,
		ReadTimeout: cfg.GroupReadTimeout(),
		Logger:      log.Component("gateway"),
	}
	if mqttClient != nil {
		opts.MQTT = mqttClient
		opts.Topics = mqttClient.Topics()
		opts.QoS = mqttClient.QoS()
	}
	if recorder != nil {
		opts.Recorder = recorder
	}
	if influxClient != nil {
		opts.Sink = influxClient
	}
	gw, err := gateway.New(opts)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	var server *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Logger:      log.Component("api"),
			Port:        s.port,
			Datapoints:  registry,
			Gateway:     gw,
			ReadTimeout: cfg.GroupReadTimeout(),
			Version:     version,
		}
		if recorder != nil {
			deps.Activity = recorder
		}
		server, err = api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	if err := healthCheck(ctx, s.port, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.Run(gctx)
	})
	g.Go(func() error {
		return forwardEvents(gctx, s.port.Events(), gw, server, log)
	})
	if influxClient != nil {
		g.Go(func() error {
			writePortStats(gctx, s.port, influxClient)
			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		log.Error("knxaccess stopping", "error", err)
	} else {
		log.Info("shutdown signal received, cleaning up")
	}

	// Deferred Close() calls run in reverse order:
	// API, port and transport, InfluxDB, MQTT, database.
	return err
}

// openRecorder opens the database, applies migrations and prepares the
// activity recorder.
func openRecorder(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, *gateway.Recorder, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Database.Path)

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")

	recorder := gateway.NewRecorder(db.DB)
	recorder.SetLogger(log.Component("recorder"))
	if err := recorder.Start(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("starting recorder: %w", err)
	}
	return db, recorder, nil
}

// connectMQTT connects to the broker and logs connection changes.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"format", cfg.MQTT.PayloadFormat,
	)
	return client, nil
}

// eventHandler receives port lifecycle events. Satisfied by *gateway.Gateway.
type eventHandler interface {
	HandleEvent(e knx.Event)
}

// forwardEvents hands port events to the gateway and WebSocket clients
// until ctx ends or the port closes.
//
// Returns:
//   - error: errTransportTerminated when the transport ends the session
func forwardEvents(ctx context.Context, events <-chan knx.Event, gw eventHandler, server *api.Server, log *logging.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			log.Info("port event", "event", e.String())
			gw.HandleEvent(e)
			if server != nil {
				server.Hub().BroadcastEvent(e)
			}
			if e == knx.EventTerminated {
				return errTransportTerminated
			}
		}
	}
}

// portStatsWriter takes periodic port counters. Satisfied by *influxdb.Client.
type portStatsWriter interface {
	WritePortStats(stats knx.PortStats)
}

// writePortStats samples the port every portStatsInterval until ctx ends.
func writePortStats(ctx context.Context, port *knx.AccessPort, sink portStatsWriter) {
	ticker := time.NewTicker(portStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sink.WritePortStats(port.Stats())
		}
	}
}

// healthCheck verifies every started component is healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - port: Open access port
//   - db: Database connection (may be nil if disabled)
//   - mqttClient: MQTT client (may be nil if disabled)
//   - influxClient: InfluxDB client (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, port *knx.AccessPort, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := port.HealthCheck(ctx); err != nil {
		return fmt.Errorf("knx: %w", err)
	}
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
