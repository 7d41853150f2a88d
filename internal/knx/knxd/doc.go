// Package knxd connects an access port to the KNX bus through the knxd
// daemon.
//
// The client speaks knxd's GROUPCON protocol over a Unix or TCP socket and
// presents it as a knx.Transport: outbound cEMI frames are converted to
// EIB_GROUP_PACKET messages and inbound group packets are converted back to
// cEMI L_Data.ind frames.
//
//	┌────────────────┐  cEMI   ┌────────────────┐  GROUPCON  ┌──────┐
//	│ knx.AccessPort │◄───────►│  knxd.Client   │◄──────────►│ knxd │◄──► KNX Bus
//	└────────────────┘         └────────────────┘            └──────┘
//
// # Reconnection
//
// When the socket drops, the client reports knx.EventBusDisconnected and
// redials with exponential backoff. A successful redial reports
// knx.EventBusConnected. If MaxReconnectAttempts is set and exhausted, the
// client reports knx.EventTerminated and stops.
//
// # References
//
//   - knxd daemon: https://github.com/knxd/knxd
package knxd
