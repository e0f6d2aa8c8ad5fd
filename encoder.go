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
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// Request is a structured request to be encoded. Which fields are used
// depends on Function:
//
//	0x01-0x04  Address, Quantity
//	0x05       Address, Value (0xFF00 or 0x0000, see CoilValue)
//	0x06       Address, Value
//	0x08       SubFunction, Data
//	0x0B, 0x11 none
//	0x0F       Address, Quantity, Coils
//	0x10       Address, Quantity, Registers
//	0x16       Address, AndMask, OrMask
//	0x17       Address, Quantity (read), WriteAddress, Registers (write)
//	0x2B       MEIType (0x0E), ReadDeviceIDCode, ObjectID
type Request struct {
	Function         FunctionCode
	Address          uint16
	Quantity         uint16
	Value            uint16
	Coils            []bool
	Registers        []uint16
	AndMask          uint16
	OrMask           uint16
	WriteAddress     uint16
	SubFunction      uint16
	Data             []byte
	MEIType          byte
	ReadDeviceIDCode byte
	ObjectID         byte
}

// CoilValue returns the wire value for a single coil write.
func CoilValue(on bool) uint16 {
	if on {
		return 0xFF00
	}
	return 0x0000
}

// pack 16-bit words, big endian
func putU16s(b []byte, ws ...uint16) []byte {
	for _, w := range ws {
		b = binary.BigEndian.AppendUint16(b, w)
	}
	return b
}

// packCoils packs booleans LSB-first, 8 per byte.
func packCoils(coils []bool) []byte {
	out := make([]byte, (len(coils)+7)/8)
	for i, on := range coils {
		if on {
			out[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return out
}

func checkQuantity(fc FunctionCode, qty uint16, limit int) error {
	if qty < 1 || int(qty) > limit {
		return fmt.Errorf("modbus: %w: func %02X quantity %d (must be 1-%d)", ErrInvalidQuantity, uint8(fc), qty, limit)
	}
	return nil
}

// BuildPDU builds a request PDU. It is the last check before bytes leave the
// system: quantities outside the protocol ranges and value lists that
// disagree with the declared quantity are rejected.
func BuildPDU(req Request) ([]byte, error) {
	fc := req.Function
	pdu := []byte{byte(fc)}

	switch fc {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		if err := checkQuantity(fc, req.Quantity, MaxReadBits); err != nil {
			return nil, err
		}
		pdu = putU16s(pdu, req.Address, req.Quantity)

	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		if err := checkQuantity(fc, req.Quantity, MaxReadRegisters); err != nil {
			return nil, err
		}
		pdu = putU16s(pdu, req.Address, req.Quantity)

	case FuncCodeWriteSingleCoil:
		if req.Value != 0xFF00 && req.Value != 0x0000 {
			return nil, fmt.Errorf("modbus: %w: got 0x%04X", ErrInvalidCoilValue, req.Value)
		}
		pdu = putU16s(pdu, req.Address, req.Value)

	case FuncCodeWriteSingleRegister:
		pdu = putU16s(pdu, req.Address, req.Value)

	case FuncCodeDiagnostics:
		if 3+len(req.Data) > MaxPDULength {
			return nil, fmt.Errorf("modbus: %w: diagnostics data %d bytes", ErrPDUTooLong, len(req.Data))
		}
		pdu = putU16s(pdu, req.SubFunction)
		pdu = append(pdu, req.Data...)

	case FuncCodeGetCommEventCounter, FuncCodeReportServerID:
		// function code only

	case FuncCodeWriteMultipleCoils:
		if err := checkQuantity(fc, req.Quantity, MaxWriteCoils); err != nil {
			return nil, err
		}
		if len(req.Coils) != int(req.Quantity) {
			return nil, fmt.Errorf("modbus: %w: %d coils for quantity %d", ErrValueCountMismatch, len(req.Coils), req.Quantity)
		}
		packed := packCoils(req.Coils)
		pdu = putU16s(pdu, req.Address, req.Quantity)
		pdu = append(pdu, byte(len(packed)))
		pdu = append(pdu, packed...)

	case FuncCodeWriteMultipleRegisters:
		if err := checkQuantity(fc, req.Quantity, MaxWriteRegisters); err != nil {
			return nil, err
		}
		if len(req.Registers) != int(req.Quantity) {
			return nil, fmt.Errorf("modbus: %w: %d registers for quantity %d", ErrValueCountMismatch, len(req.Registers), req.Quantity)
		}
		pdu = putU16s(pdu, req.Address, req.Quantity)
		pdu = append(pdu, byte(2*len(req.Registers)))
		pdu = putU16s(pdu, req.Registers...)

	case FuncCodeMaskWriteRegister:
		pdu = putU16s(pdu, req.Address, req.AndMask, req.OrMask)

	case FuncCodeReadWriteMultipleRegisters:
		if err := checkQuantity(fc, req.Quantity, MaxReadRegisters); err != nil {
			return nil, err
		}
		if len(req.Registers) < 1 || len(req.Registers) > MaxRWWriteRegs {
			return nil, fmt.Errorf("modbus: %w: func 17 write quantity %d (must be 1-%d)", ErrInvalidQuantity, len(req.Registers), MaxRWWriteRegs)
		}
		pdu = putU16s(pdu, req.Address, req.Quantity, req.WriteAddress, uint16(len(req.Registers)))
		pdu = append(pdu, byte(2*len(req.Registers)))
		pdu = putU16s(pdu, req.Registers...)

	case FuncCodeEncapsulatedInterface:
		mei := req.MEIType
		if mei == 0 {
			mei = MEIReadDeviceID
		}
		if mei != MEIReadDeviceID {
			return nil, fmt.Errorf("modbus: %w: MEI type 0x%02X", ErrUnsupportedFunction, mei)
		}
		code := req.ReadDeviceIDCode
		if code == 0 {
			code = 0x01 // basic device identification
		}
		pdu = append(pdu, mei, code, req.ObjectID)

	default:
		return nil, fmt.Errorf("modbus: %w: 0x%02X", ErrUnsupportedFunction, uint8(fc))
	}
	return pdu, nil
}

// EncoderConfig holds configuration parameters for an Encoder
type EncoderConfig struct {
	Mode   TransportMode
	UnitID uint8 // RTU device ID or TCP unit identifier
}

// DefaultEncoderConfig returns default configuration
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{Mode: ModeRTU, UnitID: 1}
}

// Encoder builds request PDUs and wraps them for the configured transport.
// It is safe for concurrent use.
type Encoder struct {
	mode          TransportMode
	unitID        uint8
	rtu           *RTUPackager
	tcp           *TCPPackager
	transactionID uint32 // Atomic counter for transaction IDs
}

// NewEncoder creates a new Encoder.
func NewEncoder(cfg EncoderConfig) *Encoder {
	return &Encoder{
		mode:   cfg.Mode,
		unitID: cfg.UnitID,
		rtu:    NewRTUPackager(),
		tcp:    NewTCPPackager(),
	}
}

// Mode returns the transport mode the encoder wraps for.
func (e *Encoder) Mode() TransportMode { return e.mode }

// Encode builds the PDU for req and wraps it for the transport.
func (e *Encoder) Encode(req Request) ([]byte, error) {
	pdu, err := BuildPDU(req)
	if err != nil {
		return nil, err
	}
	return e.Wrap(pdu)
}

// Wrap frames a PDU: RTU prepends the device ID and appends the CRC, TCP
// prepends an MBAP header with the next transaction ID.
func (e *Encoder) Wrap(pdu []byte) ([]byte, error) {
	if e.mode == ModeTCP {
		return e.tcp.Pack(e.nextTransactionID(), e.unitID, pdu)
	}
	return e.rtu.Pack(e.unitID, pdu)
}

// nextTransactionID increments and wraps around at 65535
func (e *Encoder) nextTransactionID() uint16 {
	return uint16(atomic.AddUint32(&e.transactionID, 1) & 0xFFFF)
}

// LastTransactionID returns the transaction ID of the last TCP frame built.
func (e *Encoder) LastTransactionID() uint16 {
	return uint16(atomic.LoadUint32(&e.transactionID) & 0xFFFF)
}
