package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/knx-access/internal/knx"
	"github.com/nerrad567/knx-access/internal/knx/capture"
	"github.com/spf13/cobra"
)

func newCaptureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Inspect frame captures written by knx.capture_file",
	}
	cmd.AddCommand(newCaptureShowCmd())
	return cmd
}

type captureShowFlags struct {
	max int
}

func newCaptureShowCmd() *cobra.Command {
	flags := &captureShowFlags{}

	cmd := &cobra.Command{
		Use:   "show <file>",
		Short: "List the frames in a capture file",
		Long: `List every cEMI frame in a pcap capture with its message code, kind,
addresses and payload. Frames that do not parse are shown as raw hex.`,
		Example: `  knxaccess capture show bus.pcap --max 50`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := capture.ReadFile(args[0])
			if err != nil {
				return err
			}
			showRecords(cmd.OutOrStdout(), records, flags.max)
			return nil
		},
	}

	cmd.Flags().IntVar(&flags.max, "max", 0, "Maximum number of frames to list (0 = all)")

	return cmd
}

// showRecords prints one line per frame followed by a total.
func showRecords(w io.Writer, records []capture.Record, limit int) {
	shown := records
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	for _, r := range shown {
		ts := r.Timestamp.UTC().Format(time.RFC3339Nano)
		f, err := knx.ParseFrame(r.Frame)
		if err != nil {
			fmt.Fprintf(w, "%s malformed %s\n", ts, hex.EncodeToString(r.Frame))
			continue
		}
		dest := f.Destination.String()
		if !f.Group {
			dest = knx.IndividualAddress(f.Destination).String()
		}
		fmt.Fprintf(w, "%s %-10s %-8s %s -> %s %s\n",
			ts, messageCodeName(f.Code), f.Kind(), f.Source, dest, hex.EncodeToString(f.Payload))
	}
	fmt.Fprintf(w, "%d of %d frames\n", len(shown), len(records))
}

func messageCodeName(code byte) string {
	switch code {
	case knx.LDataReq:
		return "L_Data.req"
	case knx.LDataCon:
		return "L_Data.con"
	case knx.LDataInd:
		return "L_Data.ind"
	default:
		return fmt.Sprintf("0x%02X", code)
	}
}
