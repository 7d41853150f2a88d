package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/knx-access/internal/gateway"
	"github.com/nerrad567/knx-access/internal/knx"
	"github.com/nerrad567/knx-access/internal/knx/dpt"
	"github.com/spf13/cobra"
)

type writeFlags struct {
	dpt string
	raw bool
}

func newWriteCmd(root *rootOptions) *cobra.Command {
	flags := &writeFlags{}

	cmd := &cobra.Command{
		Use:   "write <group-address> <value>",
		Short: "Send a group value write",
		Long: `Encode a value and send it as a group value write.

The datapoint type comes from --dpt or from the datapoints table in the
configuration. With --raw the value is a hex payload sent as is.`,
		Example: `  knxaccess write 1/2/3 21.5 --dpt 9.001
  knxaccess write 1/2/4 on
  knxaccess write 1/2/5 0c1a --raw`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ga, err := knx.ParseGroupAddress(args[0])
			if err != nil {
				return err
			}
			msg := gateway.CommandMessage{DPT: flags.dpt}
			if flags.raw {
				msg.Raw = args[1]
			} else {
				msg.Value = args[1]
			}
			return runWrite(cmd.Context(), root, cmd.OutOrStdout(), ga, msg)
		},
	}

	cmd.Flags().StringVar(&flags.dpt, "dpt", "", "Datapoint type, e.g. 9.001 (default: from config)")
	cmd.Flags().BoolVar(&flags.raw, "raw", false, "Treat the value as a hex payload")

	return cmd
}

func runWrite(ctx context.Context, root *rootOptions, out io.Writer, ga knx.GroupAddress, msg gateway.CommandMessage) error {
	cfg, log, err := loadConfig(root)
	if err != nil {
		return err
	}
	registry, err := gateway.LoadRegistry(cfg.Datapoints)
	if err != nil {
		return err
	}

	payload, bits, id, err := gateway.EncodeCommand(registry, ga, msg)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.port.GroupValueWriteBits(ctx, ga, payload, bits); err != nil {
		return fmt.Errorf("writing %s: %w", ga, err)
	}
	if id.Family().Valid() {
		fmt.Fprintf(out, "wrote %s %s %s\n", ga, id, hex.EncodeToString(payload))
	} else {
		fmt.Fprintf(out, "wrote %s %s\n", ga, hex.EncodeToString(payload))
	}
	return nil
}

type readFlags struct {
	dpt     string
	timeout time.Duration
}

func newReadCmd(root *rootOptions) *cobra.Command {
	flags := &readFlags{}

	cmd := &cobra.Command{
		Use:   "read <group-address>",
		Short: "Send a group value read and wait for the response",
		Long: `Send a group value read and print the response payload. When the
datapoint type is known, from --dpt or the configuration, the value is
decoded as well.`,
		Example: `  knxaccess read 1/1/2 --timeout 1s
  knxaccess read 1/2/3 --dpt 9.001`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ga, err := knx.ParseGroupAddress(args[0])
			if err != nil {
				return err
			}
			return runRead(cmd.Context(), root, cmd.OutOrStdout(), ga, flags)
		},
	}

	cmd.Flags().StringVar(&flags.dpt, "dpt", "", "Datapoint type used to decode the response")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "Response deadline (default: knx.read_timeout_ms)")

	return cmd
}

func runRead(ctx context.Context, root *rootOptions, out io.Writer, ga knx.GroupAddress, flags *readFlags) error {
	cfg, log, err := loadConfig(root)
	if err != nil {
		return err
	}
	registry, err := gateway.LoadRegistry(cfg.Datapoints)
	if err != nil {
		return err
	}

	// Unmapped addresses without --dpt print the raw payload only.
	id, err := registry.Resolve(ga, flags.dpt)
	if err != nil && !errors.Is(err, gateway.ErrUnknownDatapoint) {
		return err
	}

	s, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	payload, err := s.port.GroupValueRead(ctx, ga, flags.timeout)
	if err != nil {
		return fmt.Errorf("reading %s: %w", ga, err)
	}

	if !id.Family().Valid() {
		fmt.Fprintf(out, "%s %s\n", ga, hex.EncodeToString(payload))
		return nil
	}
	v, err := dpt.Decode(id.Family(), payload)
	if err != nil {
		return fmt.Errorf("decoding %s as %s: %w", ga, id, err)
	}
	fmt.Fprintf(out, "%s ", ga)
	printValue(out, id, v, payload)
	return nil
}

func newMonitorCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Log group telegrams and port events until interrupted",
		Long: `Observe the bus and log every group write and response with its hex
payload, decoded when the address is in the datapoints table. Port
lifecycle events are logged as they occur.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd.Context(), root)
		},
	}
}

func runMonitor(ctx context.Context, root *rootOptions) error {
	cfg, log, err := loadConfig(root)
	if err != nil {
		return err
	}
	registry, err := gateway.LoadRegistry(cfg.Datapoints)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer s.Close()

	telegrams, stop := s.port.Observe(cfg.KNX.InboundQueueSize)
	defer stop()
	events := s.port.Events()
	log = log.Component("monitor")
	log.Info("monitoring bus", "datapoints", registry.Len())

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			log.Info("port event", "event", e.String())
			if e == knx.EventTerminated {
				return errTransportTerminated
			}
		case t, ok := <-telegrams:
			if !ok {
				return nil
			}
			logTelegram(log, registry.Observe(t))
		}
	}
}

// telegramLogger is the slice of *logging.Logger the monitor needs.
type telegramLogger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// logTelegram logs writes and responses. Reads carry no payload and are
// skipped.
func logTelegram(log telegramLogger, o gateway.Observation) {
	t := o.Telegram
	if t.Kind != knx.KindWrite && t.Kind != knx.KindResponse {
		return
	}
	args := []any{
		"ga", t.Address.String(),
		"source", t.Source.String(),
		"kind", gateway.KindName(t.Kind),
		"payload", hex.EncodeToString(t.Payload),
	}
	if o.Datapoint != nil {
		args = append(args, "dpt", o.Datapoint.DPT.String())
		if o.Datapoint.Name != "" {
			args = append(args, "name", o.Datapoint.Name)
		}
	}
	if o.DecodeErr != nil {
		log.Warn("group telegram", append(args, "error", o.DecodeErr)...)
		return
	}
	if o.Value != nil {
		args = append(args, "value", o.Value.String())
	}
	log.Info("group telegram", args...)
}
