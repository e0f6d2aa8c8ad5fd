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
	"errors"
	"fmt"
	"strings"
)

// Modbus ADU and PDU sizes (bytes)
const (
	MaxPDULength      = 253                            // Maximum PDU length per the Modbus application protocol
	TCPHeaderLength   = 7                              // MBAP header length in bytes
	MaxTCPFrameLength = TCPHeaderLength + MaxPDULength // Maximum complete TCP frame length
	RTUOverhead       = 3                              // Device ID (1) + CRC (2)
	MaxRTUFrameLength = RTUOverhead + MaxPDULength     // Maximum complete RTU frame length

	ProtocolIdentifierTCP uint16 = 0x0000 // MBAP protocol identifier for Modbus
)

// Protocol quantity limits.
const (
	MaxReadBits       = 2000 // 0x01/0x02
	MaxReadRegisters  = 125  // 0x03/0x04, read part of 0x17
	MaxWriteCoils     = 1968 // 0x0F
	MaxWriteRegisters = 123  // 0x10
	MaxRWWriteRegs    = 121  // write part of 0x17
)

// TransportMode selects the framing rule: CRC trailer (RTU) or MBAP header (TCP).
type TransportMode uint8

const (
	ModeRTU TransportMode = iota
	ModeTCP
)

func (m TransportMode) String() string {
	switch m {
	case ModeRTU:
		return "RTU"
	case ModeTCP:
		return "TCP"
	default:
		return fmt.Sprintf("TransportMode(%d)", uint8(m))
	}
}

// ParseTransportMode parses "rtu" or "tcp" (case-insensitive).
func ParseTransportMode(s string) (TransportMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RTU":
		return ModeRTU, nil
	case "TCP":
		return ModeTCP, nil
	}
	return 0, fmt.Errorf("modbus: unknown transport mode %q", s)
}

// overhead returns the number of non-PDU bytes in a frame of this mode.
func (m TransportMode) overhead() int {
	if m == ModeTCP {
		return TCPHeaderLength
	}
	return RTUOverhead
}

// FunctionCode is a Modbus function code.
type FunctionCode uint8

const (
	FuncCodeReadCoils                  FunctionCode = 0x01
	FuncCodeReadDiscreteInputs         FunctionCode = 0x02
	FuncCodeReadHoldingRegisters       FunctionCode = 0x03
	FuncCodeReadInputRegisters         FunctionCode = 0x04
	FuncCodeWriteSingleCoil            FunctionCode = 0x05
	FuncCodeWriteSingleRegister        FunctionCode = 0x06
	FuncCodeDiagnostics                FunctionCode = 0x08 // serial line only
	FuncCodeGetCommEventCounter        FunctionCode = 0x0B // serial line only
	FuncCodeWriteMultipleCoils         FunctionCode = 0x0F
	FuncCodeWriteMultipleRegisters     FunctionCode = 0x10
	FuncCodeReportServerID             FunctionCode = 0x11 // serial line only
	FuncCodeMaskWriteRegister          FunctionCode = 0x16
	FuncCodeReadWriteMultipleRegisters FunctionCode = 0x17
	FuncCodeEncapsulatedInterface      FunctionCode = 0x2B

	// ExceptionFlag is set on the function code of an exception response.
	ExceptionFlag FunctionCode = 0x80

	// MEIReadDeviceID is the MEI type of Read Device Identification (0x2B/0x0E).
	MEIReadDeviceID byte = 0x0E
)

var functionNames = map[FunctionCode]string{
	FuncCodeReadCoils:                  "Read Coils",
	FuncCodeReadDiscreteInputs:         "Read Discrete Inputs",
	FuncCodeReadHoldingRegisters:       "Read Holding Registers",
	FuncCodeReadInputRegisters:         "Read Input Registers",
	FuncCodeWriteSingleCoil:            "Write Single Coil",
	FuncCodeWriteSingleRegister:        "Write Single Register",
	FuncCodeDiagnostics:                "Diagnostics",
	FuncCodeGetCommEventCounter:        "Get Comm Event Counter",
	FuncCodeWriteMultipleCoils:         "Write Multiple Coils",
	FuncCodeWriteMultipleRegisters:     "Write Multiple Registers",
	FuncCodeReportServerID:             "Report Server ID",
	FuncCodeMaskWriteRegister:          "Mask Write Register",
	FuncCodeReadWriteMultipleRegisters: "Read/Write Multiple Registers",
	FuncCodeEncapsulatedInterface:      "Read Device Identification",
}

// FunctionName returns a human-readable name for a function code. The
// exception bit is ignored.
func FunctionName(fc FunctionCode) string {
	if name, ok := functionNames[fc&^ExceptionFlag]; ok {
		return name
	}
	return fmt.Sprintf("Unknown Function 0x%02X", uint8(fc&^ExceptionFlag))
}

func (fc FunctionCode) String() string { return FunctionName(fc) }

// IsException reports whether the exception bit is set.
func (fc FunctionCode) IsException() bool { return fc&ExceptionFlag != 0 }

// SerialOnly reports whether the function is defined for serial lines only.
func (fc FunctionCode) SerialOnly() bool {
	switch fc &^ ExceptionFlag {
	case FuncCodeDiagnostics, FuncCodeGetCommEventCounter, FuncCodeReportServerID:
		return true
	}
	return false
}

// ExceptionCode is the second byte of an exception response.
type ExceptionCode uint8

const (
	ExceptionIllegalFunction        ExceptionCode = 0x01
	ExceptionIllegalDataAddress     ExceptionCode = 0x02
	ExceptionIllegalDataValue       ExceptionCode = 0x03
	ExceptionSlaveDeviceFailure     ExceptionCode = 0x04
	ExceptionAcknowledge            ExceptionCode = 0x05
	ExceptionSlaveDeviceBusy        ExceptionCode = 0x06
	ExceptionMemoryParityError      ExceptionCode = 0x08
	ExceptionGatewayPathUnavailable ExceptionCode = 0x0A
	ExceptionGatewayTargetFailed    ExceptionCode = 0x0B
)

// ExceptionMessage returns a human-readable message for a Modbus exception code.
func ExceptionMessage(code ExceptionCode) string {
	switch code {
	case ExceptionIllegalFunction:
		return "Illegal Function"
	case ExceptionIllegalDataAddress:
		return "Illegal Data Address"
	case ExceptionIllegalDataValue:
		return "Illegal Data Value"
	case ExceptionSlaveDeviceFailure:
		return "Slave Device Failure"
	case ExceptionAcknowledge:
		return "Acknowledge"
	case ExceptionSlaveDeviceBusy:
		return "Slave Device Busy"
	case ExceptionMemoryParityError:
		return "Memory Parity Error"
	case ExceptionGatewayPathUnavailable:
		return "Gateway Path Unavailable"
	case ExceptionGatewayTargetFailed:
		return "Gateway Target Failed to Respond"
	default:
		return "Unknown Exception"
	}
}

func (ec ExceptionCode) String() string { return ExceptionMessage(ec) }

// Errors returned by the encoder and the packagers. They are wrapped with
// context, test them with errors.Is.
var (
	ErrEmptyPDU            = errors.New("PDU cannot be empty")
	ErrPDUTooLong          = errors.New("PDU too long")
	ErrInvalidUnitID       = errors.New("invalid unit ID")
	ErrInvalidQuantity     = errors.New("quantity out of range")
	ErrValueCountMismatch  = errors.New("value count does not match quantity")
	ErrInvalidCoilValue    = errors.New("coil value must be 0xFF00 or 0x0000")
	ErrUnsupportedFunction = errors.New("function code not supported by the encoder")
	ErrInvalidHex          = errors.New("invalid hex input")
	ErrInvalidASCII        = errors.New("invalid ASCII input")
)
