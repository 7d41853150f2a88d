package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/knx-access/internal/knx"
	"github.com/nerrad567/knx-access/internal/knx/dpt"
	"github.com/spf13/cobra"
)

// demoSample is one value written by the demo command.
type demoSample struct {
	label  string
	family dpt.Family
	encode func() []byte
}

// demoSamples returns one value per datapoint family. The clock-driven
// samples encode at call time.
func demoSamples() []demoSample {
	return []demoSample{
		{"bool", dpt.DPT1, func() []byte { return dpt.EncodeDPT1(true) }},
		{"control bool", dpt.DPT2, func() []byte { return dpt.EncodeDPT2(true, true) }},
		{"controlled 3-bit", dpt.DPT3, func() []byte { return dpt.EncodeDPT3(true, 5) }},
		{"character", dpt.DPT4, func() []byte { return dpt.EncodeDPT4('A') }},
		{"unsigned 8-bit", dpt.DPT5, func() []byte { return dpt.EncodeDPT5(0xAA) }},
		{"signed 8-bit", dpt.DPT6, func() []byte { return dpt.EncodeDPT6(-10) }},
		{"unsigned 16-bit", dpt.DPT7, func() []byte { return dpt.EncodeDPT7(0xAFFE) }},
		{"signed 16-bit", dpt.DPT8, func() []byte { return dpt.EncodeDPT8(-30000) }},
		{"float 16-bit", dpt.DPT9, func() []byte { return dpt.EncodeDPT9(12.25) }},
		{"time local", dpt.DPT10, dpt.EncodeDPT10Local},
		{"time utc", dpt.DPT10, dpt.EncodeDPT10UTC},
		{"time", dpt.DPT10, func() []byte { return dpt.EncodeDPT10(dpt.Monday, 11, 11, 11) }},
		{"date local", dpt.DPT11, dpt.EncodeDPT11Local},
		{"date utc", dpt.DPT11, dpt.EncodeDPT11UTC},
		{"date", dpt.DPT11, func() []byte { return dpt.EncodeDPT11(2012, 3, 12) }},
		{"unsigned 32-bit", dpt.DPT12, func() []byte { return dpt.EncodeDPT12(0xDEADBEEF) }},
		{"signed 32-bit", dpt.DPT13, func() []byte { return dpt.EncodeDPT13(-30000) }},
		{"float 32-bit", dpt.DPT14, func() []byte { return dpt.EncodeDPT14(2025.12345) }},
		{"access data", dpt.DPT15, func() []byte { return dpt.EncodeDPT15(1234, false, true, true, false, 10) }},
		{"string", dpt.DPT16, func() []byte { return dpt.EncodeDPT16("Weinzierl Eng ") }},
	}
}

type demoFlags struct {
	start       string
	readAddress string
	readTimeout time.Duration
}

func newDemoCmd(root *rootOptions) *cobra.Command {
	flags := &demoFlags{}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Write one sample value per datapoint type, then read one address",
		Long: `Write a sample value of every datapoint family (DPT 1 to 16) to
consecutive group addresses starting at --start, then issue a group read
on --read-address and print the response.

A read timeout is reported but does not fail the command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := knx.ParseGroupAddress(flags.start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			readGA, err := knx.ParseGroupAddress(flags.readAddress)
			if err != nil {
				return fmt.Errorf("--read-address: %w", err)
			}
			return runDemo(cmd.Context(), root, cmd.OutOrStdout(), start, readGA, flags.readTimeout)
		},
	}

	cmd.Flags().StringVar(&flags.start, "start", "2/0/0", "First group address written")
	cmd.Flags().StringVar(&flags.readAddress, "read-address", "1/1/2", "Group address read after the writes")
	cmd.Flags().DurationVar(&flags.readTimeout, "read-timeout", time.Second, "Deadline for the read response")

	return cmd
}

func runDemo(ctx context.Context, root *rootOptions, out io.Writer, start, readGA knx.GroupAddress, readTimeout time.Duration) error {
	cfg, log, err := loadConfig(root)
	if err != nil {
		return err
	}
	s, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	ga := start
	for _, sample := range demoSamples() {
		payload := sample.encode()
		if err := s.port.GroupValueWriteBits(ctx, ga, payload, sample.family.Bits()); err != nil {
			return fmt.Errorf("writing %s to %s: %w", sample.label, ga, err)
		}
		fmt.Fprintf(out, "wrote %-16s %-6s %s %s\n", sample.label, ga, sample.family, hex.EncodeToString(payload))
		ga++
	}

	payload, err := s.port.GroupValueRead(ctx, readGA, readTimeout)
	if err != nil {
		log.Warn("demo read failed", "ga", readGA.String(), "error", err)
		fmt.Fprintf(out, "read  %s failed: %v\n", readGA, err)
		return nil
	}
	fmt.Fprintf(out, "read  %s %s\n", readGA, hex.EncodeToString(payload))
	return nil
}
