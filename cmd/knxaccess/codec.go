package main

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/nerrad567/knx-access/internal/gateway"
	"github.com/nerrad567/knx-access/internal/knx/dpt"
	"github.com/spf13/cobra"
)

func newEncodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encode <dpt> <value>",
		Short: "Encode a datapoint value to its KNX payload",
		Long: `Encode a value with the given datapoint type and print the payload as hex.

Values use the same text forms as the write command, e.g. "on", "21.5",
"Mon 10:15:00", "now", "2012-03-12", "1234,false,true,true,false,10".`,
		Example: `  knxaccess encode 9.001 21
  knxaccess encode 1.001 on
  knxaccess encode 10.001 now`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := dpt.ParseID(args[0])
			if err != nil {
				return err
			}
			v, err := dpt.ParseValue(id.Family(), args[1])
			if err != nil {
				return err
			}
			printValue(cmd.OutOrStdout(), id, v, v.Encode())
			return nil
		},
	}
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <dpt> <hex>",
		Short: "Decode a KNX payload with a datapoint type",
		Long: `Decode a hex payload with the given datapoint type. Bytes beyond the
size of the type are ignored.`,
		Example: `  knxaccess decode 9.001 0c1a
  knxaccess decode 16.000 "4b 4e 58"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := dpt.ParseID(args[0])
			if err != nil {
				return err
			}
			raw, err := gateway.ParseRaw(args[1])
			if err != nil {
				return err
			}
			v, err := dpt.Decode(id.Family(), raw)
			if err != nil {
				return err
			}
			printValue(cmd.OutOrStdout(), id, v, raw)
			return nil
		},
	}
}

// printValue writes "<dpt> <hex> <value>[ unit]" on one line.
func printValue(w io.Writer, id dpt.ID, v dpt.Value, raw []byte) {
	text := v.String()
	if unit := id.Unit(); unit != "" {
		text += " " + unit
	}
	fmt.Fprintf(w, "%s %s %s\n", id, hex.EncodeToString(raw), text)
}
