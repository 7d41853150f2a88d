package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/knx-access/internal/knx"
	"github.com/nerrad567/knx-access/internal/knx/dpt"
)

// Config is the root configuration structure for knxaccess.
// Configuration is loaded from YAML or TOML and can be overridden by
// environment variables.
type Config struct {
	Site       SiteConfig        `yaml:"site"       toml:"site"`
	Logging    LoggingConfig     `yaml:"logging"    toml:"logging"`
	KNX        KNXConfig         `yaml:"knx"        toml:"knx"`
	Datapoints []DatapointConfig `yaml:"datapoints" toml:"datapoints"`
	Database   DatabaseConfig    `yaml:"database"   toml:"database"`
	MQTT       MQTTConfig        `yaml:"mqtt"       toml:"mqtt"`
	InfluxDB   InfluxDBConfig    `yaml:"influxdb"   toml:"influxdb"`
	API        APIConfig         `yaml:"api"        toml:"api"`
	WebSocket  WebSocketConfig   `yaml:"websocket"  toml:"websocket"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"   toml:"id"`
	Name string `yaml:"name" toml:"name"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"  toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Output string `yaml:"output" toml:"output"`
}

// Transport types accepted in knx.transport.
const (
	TransportKNXD     = "knxd"
	TransportLoopback = "loopback"
)

// KNXConfig contains bus access settings.
type KNXConfig struct {
	// Transport selects the bus session: "knxd" or "loopback".
	Transport string `yaml:"transport" toml:"transport"`

	// Source is the individual address written into outbound frames.
	// Format: "area.line.device". "0.0.0" lets the interface fill it in.
	Source string `yaml:"source" toml:"source"`

	// ReadTimeoutMS is the default group read timeout in milliseconds.
	ReadTimeoutMS int `yaml:"read_timeout_ms" toml:"read_timeout_ms"`

	// InboundQueueSize bounds frames waiting for dispatch.
	InboundQueueSize int `yaml:"inbound_queue_size" toml:"inbound_queue_size"`

	// EventQueueSize bounds undelivered port events.
	EventQueueSize int `yaml:"event_queue_size" toml:"event_queue_size"`

	// CaptureFile, when set, records every frame to a pcap file.
	CaptureFile string `yaml:"capture_file" toml:"capture_file"`

	KNXD     KNXDConfig     `yaml:"knxd"     toml:"knxd"`
	Loopback LoopbackConfig `yaml:"loopback" toml:"loopback"`
}

// KNXDConfig contains knxd connection settings.
type KNXDConfig struct {
	// Connection is the knxd URL, "unix:///run/knxd" or "tcp://host:6720".
	Connection string `yaml:"connection" toml:"connection"`

	// ConnectTimeout in seconds.
	ConnectTimeout int `yaml:"connect_timeout" toml:"connect_timeout"`

	// ReadTimeout is the idle socket deadline in seconds.
	ReadTimeout int `yaml:"read_timeout" toml:"read_timeout"`

	// ReconnectInterval is the initial redial delay in seconds.
	ReconnectInterval int `yaml:"reconnect_interval" toml:"reconnect_interval"`

	// MaxReconnectAttempts ends the session after this many failed
	// redials. 0 retries forever.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts"`
}

// LoopbackConfig contains settings for the in-memory bus.
type LoopbackConfig struct {
	AnswerReads   bool   `yaml:"answer_reads"   toml:"answer_reads"`
	DeviceAddress string `yaml:"device_address" toml:"device_address"`

	// DeviceSerial is the hex serial number of a simulated device at
	// DeviceAddress that answers device management services. Empty
	// leaves the bus without one.
	DeviceSerial string `yaml:"device_serial" toml:"device_serial"`
}

// serialNumberLen is the size of a KNX serial number in bytes.
const serialNumberLen = 6

// DatapointConfig maps one group address to its datapoint type.
type DatapointConfig struct {
	Address string `yaml:"address" toml:"address"`
	DPT     string `yaml:"dpt"     toml:"dpt"`
	Name    string `yaml:"name"    toml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"      toml:"enabled"`
	Path        string `yaml:"path"         toml:"path"`
	WALMode     bool   `yaml:"wal_mode"     toml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout" toml:"busy_timeout"`
}

// Payload formats accepted in mqtt.payload_format.
const (
	PayloadJSON = "json"
	PayloadCBOR = "cbor"
)

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled       bool                `yaml:"enabled"        toml:"enabled"`
	Broker        MQTTBrokerConfig    `yaml:"broker"         toml:"broker"`
	Auth          MQTTAuthConfig      `yaml:"auth"           toml:"auth"`
	QoS           int                 `yaml:"qos"            toml:"qos"`
	TopicPrefix   string              `yaml:"topic_prefix"   toml:"topic_prefix"`
	PayloadFormat string              `yaml:"payload_format" toml:"payload_format"`
	Reconnect     MQTTReconnectConfig `yaml:"reconnect"      toml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"      toml:"host"`
	Port     int    `yaml:"port"      toml:"port"`
	TLS      bool   `yaml:"tls"       toml:"tls"`
	ClientID string `yaml:"client_id" toml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"     toml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"  toml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"        toml:"enabled"`
	URL           string `yaml:"url"            toml:"url"`
	Token         string `yaml:"token"          toml:"token"`
	Org           string `yaml:"org"            toml:"org"`
	Bucket        string `yaml:"bucket"         toml:"bucket"`
	BatchSize     int    `yaml:"batch_size"     toml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval" toml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"  toml:"enabled"`
	Host     string           `yaml:"host"     toml:"host"`
	Port     int              `yaml:"port"     toml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts" toml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"  toml:"read"`
	Write int `yaml:"write" toml:"write"`
	Idle  int `yaml:"idle"  toml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"             toml:"path"`
	MaxMessageSize int    `yaml:"max_message_size" toml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"    toml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"     toml:"pong_timeout"`
}

// Load reads configuration from a YAML or TOML file and applies
// environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. File values (override defaults); ".toml" files are parsed as TOML,
//     anything else as YAML. An empty path skips this step.
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: KNXACCESS_SECTION_KEY
// For example: KNXACCESS_KNX_CONNECTION, KNXACCESS_API_PORT
//
// Parameters:
//   - path: Path to the configuration file, or ""
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if strings.EqualFold(filepath.Ext(path), ".toml") {
			err = toml.Unmarshal(data, cfg)
		} else {
			err = yaml.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "KNX Access",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		KNX: KNXConfig{
			Transport:        TransportKNXD,
			Source:           "0.0.0",
			ReadTimeoutMS:    2000,
			InboundQueueSize: 256,
			EventQueueSize:   16,
			KNXD: KNXDConfig{
				Connection:        "unix:///run/knxd",
				ConnectTimeout:    10,
				ReadTimeout:       30,
				ReconnectInterval: 5,
			},
			Loopback: LoopbackConfig{
				AnswerReads:   true,
				DeviceAddress: "15.15.255",
				DeviceSerial:  "00FA00000001",
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/knxaccess.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "knxaccess",
			},
			QoS:           1,
			TopicPrefix:   "knx",
			PayloadFormat: PayloadJSON,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: KNXACCESS_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Logging
	if v := os.Getenv("KNXACCESS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// KNX
	if v := os.Getenv("KNXACCESS_KNX_TRANSPORT"); v != "" {
		cfg.KNX.Transport = v
	}
	if v := os.Getenv("KNXACCESS_KNX_CONNECTION"); v != "" {
		cfg.KNX.KNXD.Connection = v
	}
	if v := os.Getenv("KNXACCESS_KNX_SOURCE"); v != "" {
		cfg.KNX.Source = v
	}
	if v := os.Getenv("KNXACCESS_KNX_CAPTURE_FILE"); v != "" {
		cfg.KNX.CaptureFile = v
	}

	// Database
	if v := os.Getenv("KNXACCESS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("KNXACCESS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("KNXACCESS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("KNXACCESS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("KNXACCESS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("KNXACCESS_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("KNXACCESS_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("KNXACCESS_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// KNX validation
	switch c.KNX.Transport {
	case TransportKNXD:
		if c.KNX.KNXD.Connection == "" {
			errs = append(errs, "knx.knxd.connection is required for the knxd transport")
		}
	case TransportLoopback:
		if _, err := knx.ParseIndividualAddress(c.KNX.Loopback.DeviceAddress); err != nil {
			errs = append(errs, fmt.Sprintf("knx.loopback.device_address: %v", err))
		}
		if serial := c.KNX.Loopback.DeviceSerial; serial != "" {
			if b, err := hex.DecodeString(serial); err != nil || len(b) != serialNumberLen {
				errs = append(errs, fmt.Sprintf("knx.loopback.device_serial must be %d hex bytes", serialNumberLen))
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("knx.transport must be %q or %q", TransportKNXD, TransportLoopback))
	}
	if _, err := knx.ParseIndividualAddress(c.KNX.Source); err != nil {
		errs = append(errs, fmt.Sprintf("knx.source: %v", err))
	}
	if c.KNX.ReadTimeoutMS <= 0 {
		errs = append(errs, "knx.read_timeout_ms must be positive")
	}
	if c.KNX.InboundQueueSize < 0 || c.KNX.EventQueueSize < 0 {
		errs = append(errs, "knx queue sizes must not be negative")
	}

	// Datapoint map validation
	seen := make(map[knx.GroupAddress]bool, len(c.Datapoints))
	for i, dp := range c.Datapoints {
		ga, err := knx.ParseGroupAddress(dp.Address)
		if err != nil {
			errs = append(errs, fmt.Sprintf("datapoints[%d].address: %v", i, err))
			continue
		}
		if seen[ga] {
			errs = append(errs, fmt.Sprintf("datapoints[%d]: duplicate address %s", i, ga))
		}
		seen[ga] = true
		if _, err := dpt.ParseID(dp.DPT); err != nil {
			errs = append(errs, fmt.Sprintf("datapoints[%d].dpt: %v", i, err))
		}
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.PayloadFormat != PayloadJSON && c.MQTT.PayloadFormat != PayloadCBOR {
		errs = append(errs, fmt.Sprintf("mqtt.payload_format must be %q or %q", PayloadJSON, PayloadCBOR))
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when enabled")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GroupReadTimeout returns the default group read timeout.
func (c *Config) GroupReadTimeout() time.Duration {
	return time.Duration(c.KNX.ReadTimeoutMS) * time.Millisecond
}
