package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/knx-access/internal/knx"
	"github.com/spf13/cobra"
)

func newDeviceCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Connectionless device management services",
		Long: `Read and write device properties, switch programming mode, and read or
assign the individual address of devices in programming mode.

These services use point-to-point and broadcast frames. The knxd group
socket only carries group traffic, so they need a transport that does not
filter them.`,
	}

	cmd.AddCommand(newDevicePropertyCmd(root))
	cmd.AddCommand(newDeviceProgModeCmd(root))
	cmd.AddCommand(newDeviceScanCmd(root))
	cmd.AddCommand(newDeviceSetAddressCmd(root))
	return cmd
}

// withServicePort opens a session and runs fn on a service port over it.
func withServicePort(ctx context.Context, root *rootOptions, timeout time.Duration, fn func(*knx.ServicePort) error) error {
	cfg, log, err := loadConfig(root)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = cfg.GroupReadTimeout()
	}
	s, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(knx.NewServicePort(s.port, knx.ServiceConfig{Timeout: timeout}))
}

type propertyFlags struct {
	object  uint8
	count   uint8
	start   uint16
	write   string
	timeout time.Duration
}

func newDevicePropertyCmd(root *rootOptions) *cobra.Command {
	flags := &propertyFlags{}

	cmd := &cobra.Command{
		Use:   "property <individual-address> <pid>",
		Short: "Read or write a property value",
		Example: `  knxaccess device property 15.15.255 11
  knxaccess device property 15.15.255 54 --write 00`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst, err := knx.ParseIndividualAddress(args[0])
			if err != nil {
				return err
			}
			pid, err := strconv.ParseUint(args[1], 0, 8)
			if err != nil {
				return fmt.Errorf("pid %q: %w", args[1], err)
			}
			ref := knx.PropertyRef{Object: flags.object, PID: uint8(pid), Count: flags.count, Start: flags.start}
			return runDeviceProperty(cmd.Context(), root, cmd.OutOrStdout(), dst, ref, flags)
		},
	}

	cmd.Flags().Uint8Var(&flags.object, "object", knx.ObjectDevice, "Interface object index")
	cmd.Flags().Uint8Var(&flags.count, "count", 1, "Number of elements")
	cmd.Flags().Uint16Var(&flags.start, "start", 1, "First element index")
	cmd.Flags().StringVar(&flags.write, "write", "", "Hex data to write instead of reading")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "Response deadline (default: knx.read_timeout_ms)")

	return cmd
}

func runDeviceProperty(ctx context.Context, root *rootOptions, out io.Writer, dst knx.IndividualAddress, ref knx.PropertyRef, flags *propertyFlags) error {
	var data []byte
	if flags.write != "" {
		var err error
		if data, err = hex.DecodeString(strings.ReplaceAll(flags.write, " ", "")); err != nil {
			return fmt.Errorf("--write: %w", err)
		}
	}

	return withServicePort(ctx, root, flags.timeout, func(sp *knx.ServicePort) error {
		if data != nil {
			if err := sp.PropertyValueWrite(ctx, dst, ref, data); err != nil {
				return fmt.Errorf("writing property %s on %s: %w", ref, dst, err)
			}
			fmt.Fprintf(out, "%s %s written %s\n", dst, ref, hex.EncodeToString(data))
			return nil
		}
		value, err := sp.PropertyValueRead(ctx, dst, ref)
		if err != nil {
			return fmt.Errorf("reading property %s on %s: %w", ref, dst, err)
		}
		fmt.Fprintf(out, "%s %s %s\n", dst, ref, hex.EncodeToString(value))
		return nil
	})
}

func newDeviceProgModeCmd(root *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "progmode <individual-address> [on|off]",
		Short: "Read or switch a device's programming mode",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dst, err := knx.ParseIndividualAddress(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			var set *bool
			if len(args) == 2 {
				on, parseErr := parseOnOff(args[1])
				if parseErr != nil {
					return parseErr
				}
				set = &on
			}

			return withServicePort(ctx, root, timeout, func(sp *knx.ServicePort) error {
				if set != nil {
					if err := sp.SwitchProgMode(ctx, dst, *set); err != nil {
						return fmt.Errorf("switching programming mode on %s: %w", dst, err)
					}
				}
				on, err := sp.ReadProgMode(ctx, dst)
				if err != nil {
					return fmt.Errorf("reading programming mode of %s: %w", dst, err)
				}
				fmt.Fprintf(out, "%s programming mode %s\n", dst, onOff(on))
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Response deadline (default: knx.read_timeout_ms)")
	return cmd
}

func newDeviceScanCmd(root *rootOptions) *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List the individual addresses of devices in programming mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withServicePort(ctx, root, 0, func(sp *knx.ServicePort) error {
				found, err := sp.IndividualAddressProgModeRead(ctx, window)
				if err != nil {
					return fmt.Errorf("reading individual addresses: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%d device(s) in programming mode\n", len(found))
				for _, a := range found {
					fmt.Fprintln(out, a)
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&window, "window", 500*time.Millisecond, "How long to collect answers")
	return cmd
}

func newDeviceSetAddressCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-address <individual-address>",
		Short: "Assign an individual address to the device in programming mode",
		Long: `Broadcast a new individual address. Every device in programming mode
takes it, so put exactly one device in programming mode first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := knx.ParseIndividualAddress(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withServicePort(ctx, root, 0, func(sp *knx.ServicePort) error {
				if err := sp.IndividualAddressProgModeWrite(ctx, addr); err != nil {
					return fmt.Errorf("writing individual address: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "individual address %s written\n", addr)
				return nil
			})
		},
	}
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	default:
		return false, fmt.Errorf("programming mode %q: want on or off", s)
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
