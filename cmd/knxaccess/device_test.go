package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/knx-access/internal/knx"
)

func TestDeviceCommands(t *testing.T) {
	cfgPath := writeLoopbackConfig(t, "")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"read serial number", []string{"device", "property", "15.15.255", "11"}, "15.15.255 0/11[1+1] 00fa00000001\n"},
		{"write programming mode", []string{"device", "property", "15.15.255", "54", "--write", "01"}, "15.15.255 0/54[1+1] written 01\n"},
		{"read programming mode", []string{"device", "progmode", "15.15.255"}, "15.15.255 programming mode off\n"},
		{"switch programming mode", []string{"device", "progmode", "15.15.255", "on"}, "15.15.255 programming mode on\n"},
		{"scan", []string{"device", "scan", "--window", "20ms"}, "0 device(s) in programming mode\n"},
		{"set address", []string{"device", "set-address", "1.1.9"}, "individual address 1.1.9 written\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append(tt.args, "--config", cfgPath)...)
			if err != nil {
				t.Fatalf("%s: %v", strings.Join(tt.args, " "), err)
			}
			if out != tt.want {
				t.Errorf("output = %q, want %q", out, tt.want)
			}
		})
	}
}

func TestDeviceCommandErrors(t *testing.T) {
	cfgPath := writeLoopbackConfig(t, "")

	_, err := execute(t, "device", "property", "15.15.255", "99", "--config", cfgPath)
	if !errors.Is(err, knx.ErrPropertyRejected) {
		t.Errorf("unknown property error = %v, want ErrPropertyRejected", err)
	}

	_, err = execute(t, "device", "progmode", "1.1.1", "--timeout", "50ms", "--config", cfgPath)
	if !errors.Is(err, knx.ErrTimeout) {
		t.Errorf("absent device error = %v, want ErrTimeout", err)
	}

	for _, args := range [][]string{
		{"device", "progmode", "15.15.255", "maybe"},
		{"device", "property", "15.15.255", "pid"},
		{"device", "property", "15.15.255", "11", "--write", "zz"},
		{"device", "set-address", "1/1/1"},
	} {
		if _, err := execute(t, append(args, "--config", cfgPath)...); err == nil {
			t.Errorf("%s: expected an error", strings.Join(args, " "))
		}
	}
}

func TestParseOnOff(t *testing.T) {
	for in, want := range map[string]bool{"on": true, "ON": true, "1": true, "off": false, "false": false} {
		got, err := parseOnOff(in)
		if err != nil || got != want {
			t.Errorf("parseOnOff(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}
