// knxaccess - KNX group communication access
//
// This is the main entry point for the knxaccess tool. It encodes and
// decodes KNX datapoint values, writes and reads group addresses over knxd,
// and runs the long-lived gateway that mirrors the bus to MQTT, SQLite,
// InfluxDB and an HTTP/WebSocket API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// configEnv names the environment variable holding the config file path.
const configEnv = "KNXACCESS_CONFIG"

// rootOptions holds the persistent flags shared by every bus command.
type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	// Cancel on Ctrl+C and SIGTERM so commands shut down cleanly.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "knxaccess",
		Short: "KNX datapoint codec and group communication tool",
		Long: `knxaccess encodes and decodes KNX datapoint values (DPT 1 to 16) and
talks to a KNX line through knxd: group writes, group reads with a
timeout, passive monitoring, and a gateway that bridges the bus to MQTT,
SQLite, InfluxDB and an HTTP/WebSocket API.

Bus commands read their configuration from --config, or from the file
named by KNXACCESS_CONFIG.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Configuration file (YAML or TOML)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newEncodeCmd())
	rootCmd.AddCommand(newDecodeCmd())
	rootCmd.AddCommand(newWriteCmd(opts))
	rootCmd.AddCommand(newReadCmd(opts))
	rootCmd.AddCommand(newMonitorCmd(opts))
	rootCmd.AddCommand(newDemoCmd(opts))
	rootCmd.AddCommand(newDeviceCmd(opts))
	rootCmd.AddCommand(newCaptureCmd())
	rootCmd.AddCommand(newDatapointsCmd())
	rootCmd.AddCommand(newServeCmd(opts))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "knxaccess %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
