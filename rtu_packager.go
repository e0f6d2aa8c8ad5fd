// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package modbus

import (
	"fmt"
	"strings"
)

// RTUPackager handles RTU frame packing/unpacking with CRC validation
type RTUPackager struct{}

// NewRTUPackager creates a new RTU packager
func NewRTUPackager() *RTUPackager {
	return &RTUPackager{}
}

// Pack creates an RTU frame with device ID, PDU, and CRC.
// Device ID 0 is the serial broadcast address and is accepted.
func (p *RTUPackager) Pack(deviceID uint8, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("modbus rtu: %w", ErrEmptyPDU)
	}
	if len(pdu) > MaxPDULength {
		return nil, fmt.Errorf("modbus rtu: %w: %d bytes (max %d)", ErrPDUTooLong, len(pdu), MaxPDULength)
	}
	if deviceID > 247 {
		return nil, fmt.Errorf("modbus rtu: %w: %d (must be 0-247)", ErrInvalidUnitID, deviceID)
	}

	// Create frame: DeviceID + PDU + CRC
	frameLen := 1 + len(pdu) + 2
	frame := make([]byte, frameLen)
	frame[0] = deviceID
	copy(frame[1:], pdu)

	// CRC is transmitted in little-endian format
	crc := CRC16(frame[:frameLen-2])
	frame[frameLen-2] = byte(crc & 0xFF)
	frame[frameLen-1] = byte(crc >> 8)

	return frame, nil
}

// Unpack extracts device ID and PDU from RTU frame with CRC validation
func (p *RTUPackager) Unpack(frame []byte) (uint8, []byte, error) {
	if len(frame) < 4 {
		return 0, nil, fmt.Errorf("modbus rtu: frame too short: %d bytes (minimum 4)", len(frame))
	}
	if calculated, received := frameCRC(frame); calculated != received {
		return 0, nil, fmt.Errorf("modbus rtu: CRC mismatch: calculated=0x%04X, received=0x%04X", calculated, received)
	}
	pdu := make([]byte, len(frame)-3)
	copy(pdu, frame[1:len(frame)-2])
	return frame[0], pdu, nil
}

// RTUInfo is the outcome of inspecting an RTU frame without rejecting it.
type RTUInfo struct {
	DeviceID      uint8
	PDU           []byte
	CRCValid      bool
	CRCCalculated uint16
	CRCReceived   uint16
}

// Inspect splits an RTU frame into device ID and PDU and reports the CRC
// state. Unlike Unpack it never rejects the frame for a bad CRC. Frames of
// fewer than 3 bytes carry no PDU; ok is false for those.
func (p *RTUPackager) Inspect(frame []byte) (info RTUInfo, ok bool) {
	if len(frame) == 0 {
		return info, false
	}
	info.DeviceID = frame[0]
	if len(frame) < 3 {
		return info, false
	}
	info.CRCCalculated, info.CRCReceived = frameCRC(frame)
	info.CRCValid = info.CRCCalculated == info.CRCReceived
	info.PDU = frame[1 : len(frame)-2]
	return info, true
}

// ValidateFrame performs comprehensive frame validation
func (p *RTUPackager) ValidateFrame(frame []byte) error {
	if len(frame) < 4 {
		return fmt.Errorf("frame too short: %d bytes (minimum 4)", len(frame))
	}
	if len(frame) > MaxRTUFrameLength {
		return fmt.Errorf("frame too long: %d bytes (maximum %d)", len(frame), MaxRTUFrameLength)
	}
	if frame[0] > 247 {
		return fmt.Errorf("invalid device ID: %d (must be 0-247)", frame[0])
	}
	if frame[1] == 0 {
		return fmt.Errorf("invalid function code: 0")
	}
	if calculated, received := frameCRC(frame); calculated != received {
		return fmt.Errorf("CRC mismatch: calculated=0x%04X, received=0x%04X", calculated, received)
	}
	return nil
}

// RepairFrame returns a copy of the frame with its CRC recalculated.
func (p *RTUPackager) RepairFrame(frame []byte) ([]byte, error) {
	if len(frame) < 4 {
		return nil, fmt.Errorf("frame too short for repair")
	}
	return AppendCRC(frame[:len(frame)-2]), nil
}

// DumpFrame returns a hex dump of the frame with annotations
func (p *RTUPackager) DumpFrame(frame []byte) string {
	if len(frame) == 0 {
		return "Empty frame"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Frame Length: %d bytes\n", len(frame))
	fmt.Fprintf(&b, "Hex: % X\n", frame)
	fmt.Fprintf(&b, "Device ID: %d (0x%02X)\n", frame[0], frame[0])

	if len(frame) >= 2 {
		fc := FunctionCode(frame[1])
		fmt.Fprintf(&b, "Function Code: %d (0x%02X)", frame[1], frame[1])
		if fc.IsException() {
			b.WriteString(" [Exception Response]")
		}
		b.WriteString("\n")
	}

	if len(frame) >= 4 {
		fmt.Fprintf(&b, "PDU Length: %d bytes\n", len(frame)-3)
		fmt.Fprintf(&b, "PDU: % X\n", frame[1:len(frame)-2])
		calculated, received := frameCRC(frame)
		fmt.Fprintf(&b, "CRC Calculated: 0x%04X\n", calculated)
		fmt.Fprintf(&b, "CRC Received: 0x%04X\n", received)
		fmt.Fprintf(&b, "CRC Valid: %t\n", calculated == received)
	}

	return b.String()
}
