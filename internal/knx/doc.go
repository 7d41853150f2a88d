// Package knx implements the KNX group communication access layer.
//
// The layer sits between application code and a byte-level transport. It
// builds outbound cEMI group telegrams, classifies inbound frames, and
// correlates blocking group reads with the responses that answer them.
//
// # Architecture
//
//	┌──────────────┐  GroupValueWrite   ┌──────────────┐  SendRaw   ┌───────────┐
//	│ Application  │───────────────────►│  AccessPort  │───────────►│ Transport │
//	│              │◄───────────────────│  (this pkg)  │◄───────────│ (knxd...) │
//	└──────────────┘  Observe channel   └──────────────┘  OnReceive └───────────┘
//
// Payload semantics live in the dpt subpackage; this package is
// datapoint-agnostic and moves raw bytes.
//
// # Frames
//
// Frames are cEMI L_Data messages:
//
//	Byte 0:    message code (0x11 L_Data.req, 0x29 L_Data.ind, 0x2E L_Data.con)
//	Byte 1:    additional info length (n)
//	Byte 2+n:  control field 1
//	Byte 3+n:  control field 2 (bit 7 set for group destinations)
//	Byte 4+n:  source individual address (2 bytes)
//	Byte 6+n:  destination address (2 bytes)
//	Byte 8+n:  NPDU length
//	Byte 9+n:  TPCI
//	Byte 10+n: APCI low bits | short data
//	Byte 11+n: long data
//
// # Group Reads
//
// At most one read may be pending per group address. A second read for the
// same address fails with ErrReadAlreadyPending rather than sharing or
// replacing the first request. A response that arrives after its read timed
// out is delivered to observers only.
//
// # Thread Safety
//
// AccessPort is safe for concurrent use from multiple goroutines.
package knx
