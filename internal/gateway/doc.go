// Package gateway connects a KNX access port to the rest of the stack.
//
// The access layer itself is type-agnostic: it moves raw payloads. The
// gateway owns the group address to DPT table (Registry) and uses it to
// decode every observed write and response, then fans the result out:
//   - MQTT: retained state on {prefix}/state/{ga}, lifecycle events on
//     {prefix}/event, JSON or CBOR payloads
//   - SQLite: Recorder keeps per-address counters, sending devices and
//     decoded value history
//   - InfluxDB: numeric values as the knx_value measurement
//
// In the other direction it accepts commands on {prefix}/write/{ga} and
// {prefix}/read/{ga}, executes them on the port and answers on
// {prefix}/response/{request_id}.
package gateway
