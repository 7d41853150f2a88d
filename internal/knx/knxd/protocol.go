package knxd

import (
	"encoding/binary"
	"fmt"

	"github.com/nerrad567/knx-access/internal/knx"
)

// knxd protocol message types.
const (
	// EIBOpenGroupCon opens a group socket for sending/receiving group telegrams.
	// Format: type(2) + reserved(1) + write_only(1) + reserved(1)
	EIBOpenGroupCon uint16 = 0x0026

	// EIBGroupPacket carries one group telegram.
	// Send payload:    GA(2) + APDU
	// Receive payload: source(2) + GA(2) + APDU
	EIBGroupPacket uint16 = 0x0027

	// EIBClose closes the knxd connection gracefully.
	EIBClose uint16 = 0x0006
)

const (
	// headerSize is the size of the knxd message header (size + type).
	headerSize = 4

	// minGroupPacket is the receive minimum: source(2) + GA(2) + TPCI + APCI.
	minGroupPacket = 6
)

// EncodeMessage wraps a payload in the knxd message format.
//
// Format:
//
//	Byte 0-1: Size of type + payload (big-endian, excludes the size field)
//	Byte 2-3: Message type (big-endian)
//	Byte 4+:  Payload
func EncodeMessage(msgType uint16, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], uint16(2+len(payload))) //nolint:gosec // bounded by small message sizes
	binary.BigEndian.PutUint16(buf[2:4], msgType)
	copy(buf[4:], payload)
	return buf
}

// ParseMessage parses one complete knxd message.
//
// Returns:
//   - msgType: The knxd message type
//   - payload: The message payload (may be empty); aliases data
//   - error: ErrInvalidMessage if the size field disagrees with data
func ParseMessage(data []byte) (msgType uint16, payload []byte, err error) {
	if len(data) < headerSize {
		return 0, nil, fmt.Errorf("%w: too short (%d bytes)", ErrInvalidMessage, len(data))
	}

	declared := binary.BigEndian.Uint16(data[0:2])
	expected := len(data) - 2
	if int(declared) != expected {
		return 0, nil, fmt.Errorf("%w: size mismatch (declared %d, expected %d)",
			ErrInvalidMessage, declared, expected)
	}

	msgType = binary.BigEndian.Uint16(data[2:4])
	if len(data) > headerSize {
		payload = data[headerSize:]
	}
	return msgType, payload, nil
}

// GroupPacketFromFrame converts an outbound cEMI frame to the payload of an
// EIB_GROUP_PACKET send.
func GroupPacketFromFrame(frame []byte) ([]byte, error) {
	f, err := knx.ParseFrame(frame)
	if err != nil {
		return nil, err
	}
	if !f.Group {
		return nil, fmt.Errorf("%w: destination %04X is not a group address", ErrUnsupportedFrame, uint16(f.Destination))
	}

	buf := make([]byte, 2+len(f.APDU))
	binary.BigEndian.PutUint16(buf[0:2], uint16(f.Destination))
	copy(buf[2:], f.APDU)
	return buf, nil
}

// FrameFromGroupPacket converts a received EIB_GROUP_PACKET payload to a
// cEMI L_Data.ind frame.
//
// The receive format includes a source address prefix that the send format
// does not:
//
//	Byte 0-1: Source individual address
//	Byte 2-3: Destination group address
//	Byte 4:   TPCI
//	Byte 5:   APCI | short data
//	Byte 6+:  Long data
func FrameFromGroupPacket(payload []byte) ([]byte, error) {
	if len(payload) < minGroupPacket {
		return nil, fmt.Errorf("%w: group packet too short (%d bytes, need at least %d)",
			ErrInvalidMessage, len(payload), minGroupPacket)
	}
	src := knx.IndividualAddress(binary.BigEndian.Uint16(payload[0:2]))
	dst := knx.GroupAddress(binary.BigEndian.Uint16(payload[2:4]))
	return knx.BuildFrame(knx.LDataInd, src, dst, payload[4:])
}
