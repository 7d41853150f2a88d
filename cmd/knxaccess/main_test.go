package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/knx-access/internal/gateway"
	"github.com/nerrad567/knx-access/internal/infrastructure/config"
	"github.com/nerrad567/knx-access/internal/infrastructure/logging"
	"github.com/nerrad567/knx-access/internal/knx"
	"github.com/nerrad567/knx-access/internal/knx/capture"
	"github.com/nerrad567/knx-access/internal/knx/dpt"
)

// execute runs the command tree with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeLoopbackConfig writes a config that runs on the in-memory bus.
func writeLoopbackConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "knxaccess.yaml")
	content := `
site:
  id: test-site

logging:
  level: error
  format: text
  output: stderr

knx:
  transport: loopback
  read_timeout_ms: 200
  loopback:
    answer_reads: true
    device_address: "15.15.255"

datapoints:
  - address: "1/2/3"
    dpt: "9.001"
    name: Living
` + extra
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv(configEnv, "/etc/knxaccess/env.yaml")

	if got := getConfigPath("/tmp/flag.yaml"); got != "/tmp/flag.yaml" {
		t.Errorf("getConfigPath(flag) = %q, want flag value", got)
	}
	if got := getConfigPath(""); got != "/etc/knxaccess/env.yaml" {
		t.Errorf("getConfigPath(\"\") = %q, want env value", got)
	}

	t.Setenv(configEnv, "")
	if got := getConfigPath(""); got != "" {
		t.Errorf("getConfigPath(\"\") without env = %q, want empty", got)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.HasPrefix(out, "knxaccess dev") {
		t.Errorf("version output = %q", out)
	}
}

func TestEncodeDecodeCommands(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"encode float", []string{"encode", "9.001", "21"}, "9.001 0c1a 21 °C\n"},
		{"encode switch", []string{"encode", "1.001", "on"}, "1.001 01 true\n"},
		{"encode hex integer", []string{"encode", "7.001", "0xAFFE"}, "7.001 affe 45054 pulses\n"},
		{"encode string", []string{"encode", "16.000", "KNX"}, "16.000 4b4e580000000000000000000000 KNX\n"},
		{"decode float", []string{"decode", "9.001", "0c1a"}, "9.001 0c1a 21 °C\n"},
		{"decode spaced hex", []string{"decode", "5.010", "0x ff"}, "5.010 ff 255\n"},
		{"decode ignores trailing bytes", []string{"decode", "1.001", "0100"}, "1.001 0100 true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if err != nil {
				t.Fatalf("%v error: %v", tt.args, err)
			}
			if out != tt.want {
				t.Errorf("output = %q, want %q", out, tt.want)
			}
		})
	}
}

func TestEncodeDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want error
	}{
		{"unknown dpt", []string{"encode", "99.1", "1"}, dpt.ErrUnknownDPT},
		{"bad value", []string{"encode", "5.001", "300"}, dpt.ErrInvalidValue},
		{"short payload", []string{"decode", "9.001", "0c"}, dpt.ErrMalformedPayload},
		{"bad hex", []string{"decode", "9.001", "zz"}, gateway.ErrInvalidCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if !errors.Is(err, tt.want) {
				t.Errorf("%v error = %v, want %v", tt.args, err, tt.want)
			}
		})
	}

	if _, err := execute(t, "encode", "9.001"); err == nil {
		t.Error("encode with one argument should fail")
	}
}

func TestWriteCommand(t *testing.T) {
	cfgPath := writeLoopbackConfig(t, "")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"mapped address", []string{"write", "1/2/3", "21"}, "wrote 1/2/3 9.001 0c1a\n"},
		{"explicit dpt", []string{"write", "1/2/4", "on", "--dpt", "1.001"}, "wrote 1/2/4 1.001 01\n"},
		{"raw unmapped", []string{"write", "1/2/5", "0102", "--raw"}, "wrote 1/2/5 0102\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append(tt.args, "--config", cfgPath)...)
			if err != nil {
				t.Fatalf("%v error: %v", tt.args, err)
			}
			if out != tt.want {
				t.Errorf("output = %q, want %q", out, tt.want)
			}
		})
	}

	if _, err := execute(t, "write", "1/2/9", "21", "--config", cfgPath); !errors.Is(err, gateway.ErrUnknownDatapoint) {
		t.Errorf("unmapped write error = %v, want ErrUnknownDatapoint", err)
	}
	if _, err := execute(t, "write", "32/0/0", "1", "--config", cfgPath); !errors.Is(err, knx.ErrInvalidGroupAddress) {
		t.Errorf("bad address error = %v, want ErrInvalidGroupAddress", err)
	}
}

func TestReadCommandTimesOut(t *testing.T) {
	cfgPath := writeLoopbackConfig(t, "")

	// A fresh loopback bus holds no values, so nothing answers.
	start := time.Now()
	_, err := execute(t, "read", "1/2/3", "--timeout", "50ms", "--config", cfgPath)
	if !errors.Is(err, knx.ErrTimeout) {
		t.Fatalf("read error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("read took %s", elapsed)
	}
}

func TestDemoCommand(t *testing.T) {
	cfgPath := writeLoopbackConfig(t, "")

	// 2/0/4 receives the DPT 5 sample, which the loopback bus answers.
	out, err := execute(t, "demo", "--read-address", "2/0/4", "--config", cfgPath)
	if err != nil {
		t.Fatalf("demo error: %v", err)
	}

	if got := strings.Count(out, "wrote "); got != len(demoSamples()) {
		t.Errorf("demo wrote %d samples, want %d\n%s", got, len(demoSamples()), out)
	}
	if !strings.Contains(out, "read  2/0/4 aa") {
		t.Errorf("demo read missing from output:\n%s", out)
	}

	// The default read address is never written; the timeout is reported.
	out, err = execute(t, "demo", "--read-timeout", "50ms", "--config", cfgPath)
	if err != nil {
		t.Fatalf("demo error: %v", err)
	}
	if !strings.Contains(out, "read  1/1/2 failed") {
		t.Errorf("demo timeout missing from output:\n%s", out)
	}
}

func TestDemoSamplesFitTheirFamily(t *testing.T) {
	for _, s := range demoSamples() {
		payload := s.encode()
		if len(payload) != s.family.Size() {
			t.Errorf("%s: payload %d bytes, want %d", s.label, len(payload), s.family.Size())
		}
		if _, err := dpt.Decode(s.family, payload); err != nil {
			t.Errorf("%s: decode error: %v", s.label, err)
		}
	}
}

func TestCaptureShowCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.pcap")
	w, err := capture.Create(path)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	frame, err := knx.NewGroupFrame(knx.LDataInd, 0x1105, 0x0A03, knx.APCIWrite, []byte{0x0C, 0x1A}, 16)
	if err != nil {
		t.Fatalf("NewGroupFrame() error: %v", err)
	}
	for _, f := range [][]byte{frame, {0x29, 0x00}} {
		if err := w.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame() error: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	out, err := execute(t, "capture", "show", path)
	if err != nil {
		t.Fatalf("capture show error: %v", err)
	}
	for _, want := range []string{"L_Data.ind", "WRITE", "1.1.5 -> 1/2/3 0c1a", "malformed 2900", "2 of 2 frames"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "capture", "show", path, "--max", "1")
	if err != nil {
		t.Fatalf("capture show --max error: %v", err)
	}
	if !strings.Contains(out, "1 of 2 frames") {
		t.Errorf("output = %q, want 1 of 2 frames", out)
	}

	if _, err := execute(t, "capture", "show", filepath.Join(t.TempDir(), "missing.pcap")); err == nil {
		t.Error("capture show of a missing file should fail")
	}
}

// TestRunServe_InvalidConfig verifies serve fails with invalid config path.
func TestRunServe_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := runServe(ctx, &rootOptions{configPath: "/nonexistent/path/config.yaml"})
	if err == nil {
		t.Fatal("runServe() should fail with invalid config path")
	}
}

// TestRunServe_Loopback runs the gateway with the recorder on a loopback bus
// until the context ends.
func TestRunServe_Loopback(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "knxaccess.db")
	cfgPath := writeLoopbackConfig(t, fmt.Sprintf(`
database:
  enabled: true
  path: %q
  wal_mode: true
  busy_timeout: 5

api:
  enabled: false
`, dbPath))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := runServe(ctx, &rootOptions{configPath: cfgPath}); err != nil {
		t.Fatalf("runServe() error: %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database not created: %v", err)
	}
}

type recordingHandler struct {
	events []knx.Event
}

func (h *recordingHandler) HandleEvent(e knx.Event) {
	h.events = append(h.events, e)
}

func TestForwardEvents(t *testing.T) {
	log := logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error"}, "test")

	t.Run("terminated ends the loop", func(t *testing.T) {
		events := make(chan knx.Event, 3)
		events <- knx.EventOpened
		events <- knx.EventBusDisconnected
		events <- knx.EventTerminated
		h := &recordingHandler{}

		err := forwardEvents(context.Background(), events, h, nil, log)
		if !errors.Is(err, errTransportTerminated) {
			t.Fatalf("forwardEvents() error = %v, want errTransportTerminated", err)
		}
		want := []knx.Event{knx.EventOpened, knx.EventBusDisconnected, knx.EventTerminated}
		if fmt.Sprint(h.events) != fmt.Sprint(want) {
			t.Errorf("events = %v, want %v", h.events, want)
		}
	})

	t.Run("closed channel", func(t *testing.T) {
		events := make(chan knx.Event)
		close(events)
		if err := forwardEvents(context.Background(), events, &recordingHandler{}, nil, log); err != nil {
			t.Errorf("forwardEvents() error = %v, want nil", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := forwardEvents(ctx, make(chan knx.Event), &recordingHandler{}, nil, log); err != nil {
			t.Errorf("forwardEvents() error = %v, want nil", err)
		}
	})
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

type recordingLogger struct {
	entries []logEntry
}

func (l *recordingLogger) Info(msg string, args ...any) {
	l.entries = append(l.entries, logEntry{"info", msg, args})
}

func (l *recordingLogger) Warn(msg string, args ...any) {
	l.entries = append(l.entries, logEntry{"warn", msg, args})
}

func TestLogTelegram(t *testing.T) {
	registry := gateway.NewRegistry()
	if err := registry.Add(gateway.Datapoint{Address: 0x0A03, DPT: dpt.Temperature, Name: "Living"}); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	tests := []struct {
		name      string
		telegram  knx.GroupTelegram
		wantLevel string
		wantArgs  string
	}{
		{
			name:      "decoded write",
			telegram:  knx.GroupTelegram{Address: 0x0A03, Kind: knx.KindWrite, Source: 0x1105, Payload: []byte{0x0C, 0x1A}},
			wantLevel: "info",
			wantArgs:  "[ga 1/2/3 source 1.1.5 kind write payload 0c1a dpt 9.001 name Living value 21]",
		},
		{
			name:      "unmapped response",
			telegram:  knx.GroupTelegram{Address: 0x0A04, Kind: knx.KindResponse, Source: 0x1105, Payload: []byte{0x01}},
			wantLevel: "info",
			wantArgs:  "[ga 1/2/4 source 1.1.5 kind response payload 01]",
		},
		{
			name:      "undecodable write",
			telegram:  knx.GroupTelegram{Address: 0x0A03, Kind: knx.KindWrite, Source: 0x1105, Payload: []byte{0x01}},
			wantLevel: "warn",
		},
		{
			name:     "read is skipped",
			telegram: knx.GroupTelegram{Address: 0x0A03, Kind: knx.KindRead, Source: 0x1105, Payload: []byte{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &recordingLogger{}
			logTelegram(log, registry.Observe(tt.telegram))

			if tt.wantLevel == "" {
				if len(log.entries) != 0 {
					t.Errorf("logged %v, want nothing", log.entries)
				}
				return
			}
			if len(log.entries) != 1 {
				t.Fatalf("logged %d entries, want 1", len(log.entries))
			}
			got := log.entries[0]
			if got.level != tt.wantLevel {
				t.Errorf("level = %s, want %s", got.level, tt.wantLevel)
			}
			if tt.wantArgs != "" && fmt.Sprint(got.args) != tt.wantArgs {
				t.Errorf("args = %v, want %s", got.args, tt.wantArgs)
			}
		})
	}
}
