package modbus

import (
	"encoding/binary"
	"fmt"
)

// TCPPackager handles Modbus TCP packet packing and unpacking.
type TCPPackager struct{}

// NewTCPPackager creates a new TCPPackager.
func NewTCPPackager() *TCPPackager {
	return &TCPPackager{}
}

// Pack packs a Modbus TCP PDU into a complete TCP frame.
// The TCP frame format is: MBAP (7 bytes) + PDU (variable length).
// MBAP format: Transaction Identifier (2 bytes) + Protocol Identifier (2 bytes) + Length (2 bytes) + Unit Identifier (1 byte).
// No CRC is appended.
func (p *TCPPackager) Pack(transactionID uint16, unitID uint8, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("modbus tcp: %w", ErrEmptyPDU)
	}
	if len(pdu) > MaxPDULength {
		return nil, fmt.Errorf("modbus tcp: %w: %d bytes (max %d)", ErrPDUTooLong, len(pdu), MaxPDULength)
	}

	// Length field includes the Unit Identifier (1 byte) + PDU length
	length := uint16(len(pdu) + 1)

	frame := make([]byte, TCPHeaderLength+len(pdu))
	binary.BigEndian.PutUint16(frame[0:2], transactionID)
	binary.BigEndian.PutUint16(frame[2:4], ProtocolIdentifierTCP)
	binary.BigEndian.PutUint16(frame[4:6], length)
	frame[6] = unitID
	copy(frame[7:], pdu)

	return frame, nil
}

// Unpack unpacks a Modbus TCP frame into a Transaction Identifier, Unit Identifier, and PDU.
func (p *TCPPackager) Unpack(frame []byte) (transactionID uint16, unitID uint8, pdu []byte, err error) {
	if err = p.ValidateFrame(frame); err != nil {
		return
	}
	transactionID = binary.BigEndian.Uint16(frame[0:2])
	unitID = frame[6]
	pdu = frame[7:]
	return
}

// MBAPInfo is the outcome of inspecting a TCP frame without rejecting it.
type MBAPInfo struct {
	TransactionID   uint16
	ProtocolID      uint16
	Length          uint16
	UnitID          uint8
	PDU             []byte
	ProtocolIDValid bool
	LengthValid     bool
}

// Inspect splits a TCP frame into its MBAP fields and PDU without rejecting
// it for a bad protocol identifier or length field. ok is false when the
// frame is shorter than the MBAP header.
func (p *TCPPackager) Inspect(frame []byte) (info MBAPInfo, ok bool) {
	if len(frame) < TCPHeaderLength {
		return info, false
	}
	info.TransactionID = binary.BigEndian.Uint16(frame[0:2])
	info.ProtocolID = binary.BigEndian.Uint16(frame[2:4])
	info.Length = binary.BigEndian.Uint16(frame[4:6])
	info.UnitID = frame[6]
	info.PDU = frame[7:]
	info.ProtocolIDValid = info.ProtocolID == ProtocolIdentifierTCP
	info.LengthValid = int(info.Length) == len(info.PDU)+1
	return info, true
}

// ValidateFrame performs basic validation on a TCP frame without full unpacking
func (p *TCPPackager) ValidateFrame(frame []byte) error {
	if len(frame) < TCPHeaderLength {
		return fmt.Errorf("modbus tcp: frame too short: %d bytes, minimum: %d bytes", len(frame), TCPHeaderLength)
	}
	if len(frame) > MaxTCPFrameLength {
		return fmt.Errorf("modbus tcp: frame too long: %d bytes, maximum: %d bytes", len(frame), MaxTCPFrameLength)
	}

	protocolID := binary.BigEndian.Uint16(frame[2:4])
	if protocolID != ProtocolIdentifierTCP {
		return fmt.Errorf("modbus tcp: invalid protocol identifier: 0x%04X, expected 0x%04X", protocolID, ProtocolIdentifierTCP)
	}

	length := binary.BigEndian.Uint16(frame[4:6])
	if length == 0 {
		return fmt.Errorf("modbus tcp: invalid length field: cannot be zero")
	}

	// Length field + Transaction ID + Protocol ID + Length field itself
	expectedFrameLength := int(length) + 6
	if len(frame) != expectedFrameLength {
		return fmt.Errorf("modbus tcp: frame length mismatch: header indicates %d, got %d", expectedFrameLength, len(frame))
	}
	return nil
}

// mbapFrameLength returns the total frame length announced by the MBAP
// header at the start of buf. ok is false when fewer than 6 bytes are
// available, the protocol identifier is not Modbus, or the length field is
// outside 2..MaxPDULength+1.
func mbapFrameLength(buf []byte) (int, bool) {
	if len(buf) < 6 {
		return 0, false
	}
	if binary.BigEndian.Uint16(buf[2:4]) != ProtocolIdentifierTCP {
		return 0, false
	}
	length := int(binary.BigEndian.Uint16(buf[4:6]))
	if length < 2 || length > MaxPDULength+1 {
		return 0, false
	}
	return 6 + length, true
}
