// Package api implements the HTTP REST API and WebSocket monitor for knxaccess.
//
// This package provides:
//   - DPT encode and decode endpoints for offline codec use
//   - Group value write and read against the live access port
//   - The datapoint (group address to DPT) table, including ETS project import
//   - Bus activity recorded in SQLite
//   - A WebSocket hub streaming decoded telegrams and port events
//
// # Graceful Degradation
//
// Activity endpoints answer 503 when no recorder is configured. Everything
// else only needs the access port; write and read fail with 503 while the
// transport is down.
package api
