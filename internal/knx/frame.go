package knx

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// cEMI message codes carried in byte 0 of every frame.
const (
	// LDataReq is an outbound data request from the client to the bus.
	LDataReq byte = 0x11

	// LDataCon is the interface's confirmation of an LDataReq.
	LDataCon byte = 0x2E

	// LDataInd is an inbound telegram observed on the bus.
	LDataInd byte = 0x29
)

// APCI (Application Protocol Control Information) codes.
// These define the type of group communication.
const (
	// APCIRead is a group read request (asks device for current value).
	APCIRead byte = 0x00

	// APCIResponse is a group read response (device answers read request).
	APCIResponse byte = 0x40

	// APCIWrite is a group write (sends value to devices listening on GA).
	APCIWrite byte = 0x80
)

// Device management services, as the 10-bit APCI across the TPCI and APCI
// octets. The four-bit services carry no data in the low six bits.
const (
	ServiceIndividualAddressWrite    uint16 = 0x0C0
	ServiceIndividualAddressRead     uint16 = 0x100
	ServiceIndividualAddressResponse uint16 = 0x140
	ServicePropertyValueRead         uint16 = 0x3D5
	ServicePropertyValueResponse     uint16 = 0x3D6
	ServicePropertyValueWrite        uint16 = 0x3D7
)

// Frame layout constants. Offsets are relative to the end of the
// additional info block.
const (
	cemiMinHeader = 2 // message code + additional info length

	offCtrl1   = 0
	offCtrl2   = 1
	offSource  = 2
	offDest    = 4
	offNPDULen = 6
	offTPCI    = 7
	offAPCI    = 8
	offData    = 9

	// defaultCtrl1: standard frame, no repetition, normal broadcast, low priority.
	defaultCtrl1 byte = 0xBC
	// defaultCtrl2: group destination, hop count 6.
	defaultCtrl2 byte = 0xE0

	ctrl2GroupFlag byte = 0x80
	// ctrl2Individual: individual destination, hop count 6.
	ctrl2Individual = defaultCtrl2 &^ ctrl2GroupFlag
	apciMask       byte = 0xC0
	shortDataMask  byte = 0x3F
	tpciDataGroup  byte = 0xFC // upper six TPCI bits are zero for T_Data_Group
	tpciAPCIHigh   byte = 0x03

	// MaxPayload is the largest APDU data section of a standard frame.
	MaxPayload = 14

	// ShortBits is the widest value that fits in the APCI octet.
	ShortBits = 6
)

// Kind classifies a frame for the access layer.
type Kind int

// Frame kinds returned by ClassifyTelegram.
const (
	KindOther Kind = iota
	KindWrite
	KindRead
	KindResponse
)

// String returns the upper-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindWrite:
		return "WRITE"
	case KindRead:
		return "READ"
	case KindResponse:
		return "RESPONSE"
	default:
		return "OTHER"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Frame is the parsed view of one cEMI L_Data frame.
type Frame struct {
	// Code is the cEMI message code (LDataReq, LDataInd, LDataCon).
	Code byte

	// Source is the sender's individual address.
	Source IndividualAddress

	// Destination is the target address. Only meaningful as a group
	// address when Group is true.
	Destination GroupAddress

	// Group reports whether the destination is a group address.
	Group bool

	// TPCI is the transport layer control octet.
	TPCI byte

	// APCI is the application service, masked to its upper two bits.
	APCI byte

	// Payload is the APDU data. Short APDUs yield one byte holding the
	// 6-bit value; read requests yield an empty slice.
	Payload []byte

	// APDU is the raw TPCI, APCI and data octets.
	APDU []byte
}

// ParseFrame parses a raw cEMI frame.
//
// Parameters:
//   - frame: Raw bytes as delivered by the transport
//
// Returns:
//   - Frame: Parsed view; Payload is a copy and does not alias frame
//   - error: ErrMalformedTelegram if the frame is truncated
func ParseFrame(frame []byte) (Frame, error) {
	base, err := headerBase(frame, offData)
	if err != nil {
		return Frame{}, err
	}

	npduLen := int(frame[base+offNPDULen])
	if npduLen < 1 {
		return Frame{}, fmt.Errorf("%w: NPDU length is zero", ErrMalformedTelegram)
	}
	end := base + offAPCI + npduLen
	if len(frame) < end {
		return Frame{}, fmt.Errorf("%w: NPDU length %d exceeds frame (%d bytes)",
			ErrMalformedTelegram, npduLen, len(frame))
	}

	f := Frame{
		Code:        frame[0],
		Source:      IndividualAddress(binary.BigEndian.Uint16(frame[base+offSource:])),
		Destination: GroupAddress(binary.BigEndian.Uint16(frame[base+offDest:])),
		Group:       frame[base+offCtrl2]&ctrl2GroupFlag != 0,
		TPCI:        frame[base+offTPCI],
		APCI:        frame[base+offAPCI] & apciMask,
		APDU:        bytes.Clone(frame[base+offTPCI : end]),
	}

	switch {
	case npduLen > 1:
		f.Payload = make([]byte, npduLen-1)
		copy(f.Payload, frame[base+offData:end])
	case f.APCI == APCIRead:
		f.Payload = []byte{}
	default:
		f.Payload = []byte{frame[base+offAPCI] & shortDataMask}
	}

	return f, nil
}

// headerBase validates that frame holds at least need bytes past the
// additional info block and returns the offset of control field 1.
func headerBase(frame []byte, need int) (int, error) {
	if len(frame) < cemiMinHeader {
		return 0, fmt.Errorf("%w: too short (%d bytes)", ErrMalformedTelegram, len(frame))
	}
	base := cemiMinHeader + int(frame[1])
	if len(frame) < base+need {
		return 0, fmt.Errorf("%w: too short (%d bytes, need at least %d)",
			ErrMalformedTelegram, len(frame), base+need)
	}
	return base, nil
}

// Kind classifies the parsed frame.
func (f Frame) Kind() Kind {
	if f.Code != LDataReq && f.Code != LDataInd {
		return KindOther
	}
	if !f.Group || f.TPCI&tpciDataGroup != 0 || f.TPCI&tpciAPCIHigh != 0 {
		return KindOther
	}

	switch f.APCI {
	case APCIRead:
		if len(f.Payload) != 0 {
			return KindOther
		}
		return KindRead
	case APCIResponse:
		return KindResponse
	case APCIWrite:
		return KindWrite
	default:
		return KindOther
	}
}

// Service returns the 10-bit application service of the frame, including
// any short data in its low six bits.
func (f Frame) Service() uint16 {
	if len(f.APDU) < 2 { //nolint:mnd // TPCI + APCI
		return 0
	}
	return uint16(f.APDU[0]&tpciAPCIHigh)<<8 | uint16(f.APDU[1])
}

// ServiceData returns the APDU octets following the APCI.
func (f Frame) ServiceData() []byte {
	if len(f.APDU) <= 2 { //nolint:mnd // TPCI + APCI
		return nil
	}
	return f.APDU[2:]
}

// Target returns the destination as an individual address. Only meaningful
// when Group is false.
func (f Frame) Target() IndividualAddress {
	return IndividualAddress(f.Destination)
}

// String returns a human-readable representation of the frame.
func (f Frame) String() string {
	return fmt.Sprintf("Frame{%s, %s→%s, Data:%X}", f.Kind(), f.Source, f.Destination, f.Payload)
}

// ClassifyTelegram reports whether frame is a group write, read request,
// read response or something else. Truncated frames, confirmations and
// non-group traffic are KindOther.
func ClassifyTelegram(frame []byte) Kind {
	f, err := ParseFrame(frame)
	if err != nil {
		return KindOther
	}
	return f.Kind()
}

// ExtractDestination returns the destination address of frame.
func ExtractDestination(frame []byte) (GroupAddress, error) {
	base, err := headerBase(frame, offDest+2)
	if err != nil {
		return 0, err
	}
	return GroupAddress(binary.BigEndian.Uint16(frame[base+offDest:])), nil
}

// ExtractSource returns the individual address of the frame's sender.
func ExtractSource(frame []byte) (IndividualAddress, error) {
	base, err := headerBase(frame, offSource+2)
	if err != nil {
		return 0, err
	}
	return IndividualAddress(binary.BigEndian.Uint16(frame[base+offSource:])), nil
}

// ExtractPayload returns the APDU data of frame.
func ExtractPayload(frame []byte) ([]byte, error) {
	f, err := ParseFrame(frame)
	if err != nil {
		return nil, err
	}
	return f.Payload, nil
}

// NewGroupFrame builds a cEMI group telegram.
//
// Read requests and payloads of at most ShortBits bits are packed into the
// APCI octet (short APDU); the value is taken from the low six bits of the
// last payload byte. Wider payloads follow the APCI octet verbatim.
//
// Parameters:
//   - code: Message code, usually LDataReq for outbound frames
//   - src: Sender's individual address (0.0.0 lets the interface fill it in)
//   - dst: Destination group address
//   - apci: APCIWrite, APCIRead or APCIResponse
//   - payload: DPT-encoded value (ignored for reads)
//   - bits: Width of the encoded value; 0 forces the long form
//
// Returns:
//   - []byte: Encoded frame
//   - error: ErrPayloadTooLong if payload exceeds MaxPayload bytes
func NewGroupFrame(code byte, src IndividualAddress, dst GroupAddress, apci byte, payload []byte, bits int) ([]byte, error) {
	short := apci == APCIRead || len(payload) == 0 || (bits > 0 && bits <= ShortBits)

	var apdu []byte
	switch {
	case short && apci != APCIRead && len(payload) > 0:
		apdu = []byte{0x00, apci&apciMask | payload[len(payload)-1]&shortDataMask}
	case short:
		apdu = []byte{0x00, apci & apciMask}
	default:
		apdu = make([]byte, 2+len(payload))
		apdu[1] = apci & apciMask
		copy(apdu[2:], payload)
	}

	return BuildFrame(code, src, dst, apdu)
}

// BuildFrame wraps a raw APDU (TPCI, APCI, data) in a cEMI group frame
// with default control fields and no additional info.
func BuildFrame(code byte, src IndividualAddress, dst GroupAddress, apdu []byte) ([]byte, error) {
	return buildFrame(code, src, uint16(dst), defaultCtrl2, apdu)
}

// NewServiceFrame builds a device management frame. A broadcast goes to
// the group address 0/0/0; otherwise dst is an individual address.
func NewServiceFrame(code byte, src, dst IndividualAddress, broadcast bool, service uint16, data []byte) ([]byte, error) {
	apdu := make([]byte, 2+len(data))
	apdu[0] = byte(service>>8) & tpciAPCIHigh
	apdu[1] = byte(service)
	copy(apdu[2:], data)

	if broadcast {
		return buildFrame(code, src, 0, defaultCtrl2, apdu)
	}
	return buildFrame(code, src, uint16(dst), ctrl2Individual, apdu)
}

func buildFrame(code byte, src IndividualAddress, dst uint16, ctrl2 byte, apdu []byte) ([]byte, error) {
	if len(apdu) < 2 { //nolint:mnd // TPCI + APCI
		return nil, fmt.Errorf("%w: APDU needs at least 2 bytes, got %d", ErrMalformedTelegram, len(apdu))
	}
	if len(apdu)-2 > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLong, len(apdu)-2, MaxPayload)
	}

	base := cemiMinHeader
	buf := make([]byte, base+offTPCI+len(apdu))
	buf[0] = code
	buf[1] = 0 // no additional info
	buf[base+offCtrl1] = defaultCtrl1
	buf[base+offCtrl2] = ctrl2
	binary.BigEndian.PutUint16(buf[base+offSource:], uint16(src))
	binary.BigEndian.PutUint16(buf[base+offDest:], dst)
	buf[base+offNPDULen] = byte(len(apdu) - 1)
	copy(buf[base+offTPCI:], apdu)
	return buf, nil
}
