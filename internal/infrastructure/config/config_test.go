package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	content := `
site:
  id: "test-site"
knx:
  transport: "knxd"
  source: "1.1.250"
  read_timeout_ms: 1000
  knxd:
    connection: "tcp://knxd.local:6720"
datapoints:
  - address: "1/2/3"
    dpt: "1.001"
    name: "Kitchen light"
  - address: "0/4/2"
    dpt: "DPT9.001"
    name: "Kitchen temperature"
mqtt:
  payload_format: "cbor"
api:
  port: 9090
`
	cfg, err := Load(writeConfig(t, "config.yaml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.KNX.KNXD.Connection != "tcp://knxd.local:6720" {
		t.Errorf("KNX.KNXD.Connection = %q", cfg.KNX.KNXD.Connection)
	}
	if got := cfg.GroupReadTimeout(); got != time.Second {
		t.Errorf("GroupReadTimeout() = %v, want 1s", got)
	}
	if len(cfg.Datapoints) != 2 || cfg.Datapoints[1].Name != "Kitchen temperature" {
		t.Errorf("Datapoints = %+v", cfg.Datapoints)
	}
	if cfg.MQTT.PayloadFormat != PayloadCBOR {
		t.Errorf("MQTT.PayloadFormat = %q, want cbor", cfg.MQTT.PayloadFormat)
	}
	// Untouched sections keep their defaults.
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want default 1883", cfg.MQTT.Broker.Port)
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	content := `
[site]
id = "toml-site"

[knx]
transport = "loopback"
source = "1.1.1"

[knx.loopback]
answer_reads = false
device_address = "1.1.100"

[[datapoints]]
address = "2/0/0"
dpt = "5.001"
name = "Blind position"

[api]
port = 8081
`
	cfg, err := Load(writeConfig(t, "config.toml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "toml-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "toml-site")
	}
	if cfg.KNX.Transport != TransportLoopback {
		t.Errorf("KNX.Transport = %q, want loopback", cfg.KNX.Transport)
	}
	if cfg.KNX.Loopback.AnswerReads {
		t.Error("KNX.Loopback.AnswerReads = true, want false")
	}
	if len(cfg.Datapoints) != 1 || cfg.Datapoints[0].DPT != "5.001" {
		t.Errorf("Datapoints = %+v", cfg.Datapoints)
	}
	if cfg.API.Port != 8081 {
		t.Errorf("API.Port = %d, want 8081", cfg.API.Port)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.KNX.Transport != TransportKNXD {
		t.Errorf("KNX.Transport = %q, want knxd", cfg.KNX.Transport)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidFiles(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"invalid YAML", "config.yaml", "invalid: [yaml: content"},
		{"invalid TOML", "config.toml", "[site\nid ="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.file, tt.content)); err == nil {
				t.Error("Load() expected parse error, got nil")
			}
		})
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
datapoints:
  - address: "32/0/0"
    dpt: "1.001"
`
	_, err := Load(writeConfig(t, "config.yaml", content))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	// Every failure is reported, not just the first.
	for _, want := range []string{"site.id", "datapoints[0].address"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "missing site ID",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: true,
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.KNX.Transport = "serial" },
			wantErr: true,
		},
		{
			name:    "knxd without connection",
			mutate:  func(c *Config) { c.KNX.KNXD.Connection = "" },
			wantErr: true,
		},
		{
			name: "loopback with bad device address",
			mutate: func(c *Config) {
				c.KNX.Transport = TransportLoopback
				c.KNX.Loopback.DeviceAddress = "16.0.1"
			},
			wantErr: true,
		},
		{
			name: "loopback with short device serial",
			mutate: func(c *Config) {
				c.KNX.Transport = TransportLoopback
				c.KNX.Loopback.DeviceSerial = "00FA01"
			},
			wantErr: true,
		},
		{
			name: "loopback without simulated device",
			mutate: func(c *Config) {
				c.KNX.Transport = TransportLoopback
				c.KNX.Loopback.DeviceSerial = ""
			},
		},
		{
			name:    "bad source address",
			mutate:  func(c *Config) { c.KNX.Source = "1/1/1" },
			wantErr: true,
		},
		{
			name:    "zero read timeout",
			mutate:  func(c *Config) { c.KNX.ReadTimeoutMS = 0 },
			wantErr: true,
		},
		{
			name: "valid datapoints",
			mutate: func(c *Config) {
				c.Datapoints = []DatapointConfig{
					{Address: "1/2/3", DPT: "1.001"},
					{Address: "1/2/4", DPT: "DPST-9-1"},
				}
			},
		},
		{
			name: "duplicate datapoint address",
			mutate: func(c *Config) {
				c.Datapoints = []DatapointConfig{
					{Address: "1/2/3", DPT: "1.001"},
					{Address: "1/2/3", DPT: "5.001"},
				}
			},
			wantErr: true,
		},
		{
			name: "unsupported DPT",
			mutate: func(c *Config) {
				c.Datapoints = []DatapointConfig{{Address: "1/2/3", DPT: "232.600"}}
			},
			wantErr: true,
		},
		{
			name:    "database enabled without path",
			mutate:  func(c *Config) { c.Database.Enabled, c.Database.Path = true, "" },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid payload format",
			mutate:  func(c *Config) { c.MQTT.PayloadFormat = "xml" },
			wantErr: true,
		},
		{
			name:    "influxdb enabled without bucket",
			mutate:  func(c *Config) { c.InfluxDB.Enabled, c.InfluxDB.URL = true, "http://influx:8086" },
			wantErr: true,
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		KNX: KNXConfig{ReadTimeoutMS: 1500},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
	if got := cfg.GroupReadTimeout(); got != 1500*time.Millisecond {
		t.Errorf("GroupReadTimeout() = %v, want 1.5s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("KNXACCESS_LOGGING_LEVEL", "debug")
	t.Setenv("KNXACCESS_KNX_TRANSPORT", "loopback")
	t.Setenv("KNXACCESS_KNX_CONNECTION", "tcp://10.0.0.5:6720")
	t.Setenv("KNXACCESS_KNX_SOURCE", "1.1.250")
	t.Setenv("KNXACCESS_KNX_CAPTURE_FILE", "/tmp/bus.pcap")
	t.Setenv("KNXACCESS_DATABASE_PATH", "/custom/path.db")
	t.Setenv("KNXACCESS_MQTT_HOST", "mqtt.example.com")
	t.Setenv("KNXACCESS_MQTT_USERNAME", "testuser")
	t.Setenv("KNXACCESS_MQTT_PASSWORD", "testpass")
	t.Setenv("KNXACCESS_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("KNXACCESS_API_HOST", "192.168.1.1")
	t.Setenv("KNXACCESS_API_PORT", "9000")

	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}

	checks := []struct {
		field, got, want string
	}{
		{"Logging.Level", cfg.Logging.Level, "debug"},
		{"KNX.Transport", cfg.KNX.Transport, "loopback"},
		{"KNX.KNXD.Connection", cfg.KNX.KNXD.Connection, "tcp://10.0.0.5:6720"},
		{"KNX.Source", cfg.KNX.Source, "1.1.250"},
		{"KNX.CaptureFile", cfg.KNX.CaptureFile, "/tmp/bus.pcap"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port = %d, want 9000", cfg.API.Port)
	}
}

func TestApplyEnvOverrides_BadPort(t *testing.T) {
	t.Setenv("KNXACCESS_API_PORT", "eighty")
	if err := applyEnvOverrides(defaultConfig()); err == nil {
		t.Error("applyEnvOverrides() expected error for non-numeric port")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig does not validate: %v", err)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.GroupReadTimeout() != 2*time.Second {
		t.Errorf("defaultConfig GroupReadTimeout() = %v, want 2s", cfg.GroupReadTimeout())
	}
}
