// Package logging provides structured logging for knxaccess.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same fields and format.
//
// # Features
//
//   - JSON output for services (machine-parsable)
//   - Text output for the console
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	port.SetLogger(logger.Component("access_port"))
//	logger.Info("starting service", "transport", cfg.KNX.Transport)
//
// Never log broker passwords or InfluxDB tokens.
package logging
