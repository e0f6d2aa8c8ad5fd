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
	"bytes"
	"errors"
	"testing"
)

func TestBuildPDU(t *testing.T) {
	testCases := []struct {
		name string
		req  Request
		want []byte
	}{
		{"read coils", Request{Function: FuncCodeReadCoils, Address: 0x13, Quantity: 0x25},
			[]byte{0x01, 0x00, 0x13, 0x00, 0x25}},
		{"read discrete inputs", Request{Function: FuncCodeReadDiscreteInputs, Address: 0xC4, Quantity: 0x16},
			[]byte{0x02, 0x00, 0xC4, 0x00, 0x16}},
		{"read holding registers", Request{Function: FuncCodeReadHoldingRegisters, Address: 0x6B, Quantity: 3},
			[]byte{0x03, 0x00, 0x6B, 0x00, 0x03}},
		{"read input registers", Request{Function: FuncCodeReadInputRegisters, Address: 0x08, Quantity: 1},
			[]byte{0x04, 0x00, 0x08, 0x00, 0x01}},
		{"write single coil", Request{Function: FuncCodeWriteSingleCoil, Address: 0xAC, Value: CoilValue(true)},
			[]byte{0x05, 0x00, 0xAC, 0xFF, 0x00}},
		{"write single register", Request{Function: FuncCodeWriteSingleRegister, Address: 1, Value: 3},
			[]byte{0x06, 0x00, 0x01, 0x00, 0x03}},
		{"diagnostics", Request{Function: FuncCodeDiagnostics, SubFunction: 0, Data: []byte{0xA5, 0x37}},
			[]byte{0x08, 0x00, 0x00, 0xA5, 0x37}},
		{"comm event counter", Request{Function: FuncCodeGetCommEventCounter}, []byte{0x0B}},
		{"write multiple coils", Request{Function: FuncCodeWriteMultipleCoils, Address: 0x13, Quantity: 10,
			Coils: []bool{true, false, true, true, false, false, true, true, true, false}},
			[]byte{0x0F, 0x00, 0x13, 0x00, 0x0A, 0x02, 0xCD, 0x01}},
		{"write multiple registers", Request{Function: FuncCodeWriteMultipleRegisters, Address: 1, Quantity: 2,
			Registers: []uint16{0x000A, 0x0102}},
			[]byte{0x10, 0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x01, 0x02}},
		{"report server id", Request{Function: FuncCodeReportServerID}, []byte{0x11}},
		{"mask write register", Request{Function: FuncCodeMaskWriteRegister, Address: 4, AndMask: 0xF2, OrMask: 0x25},
			[]byte{0x16, 0x00, 0x04, 0x00, 0xF2, 0x00, 0x25}},
		{"read/write multiple registers", Request{Function: FuncCodeReadWriteMultipleRegisters, Address: 3, Quantity: 6,
			WriteAddress: 0x0E, Registers: []uint16{0x00FF, 0x00FF, 0x00FF}},
			[]byte{0x17, 0x00, 0x03, 0x00, 0x06, 0x00, 0x0E, 0x00, 0x03, 0x06, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0xFF}},
		{"read device identification", Request{Function: FuncCodeEncapsulatedInterface},
			[]byte{0x2B, 0x0E, 0x01, 0x00}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BuildPDU(tc.req)
			if err != nil {
				t.Fatalf("BuildPDU: %v", err)
			}
			if !bytes.Equal(got, tc.want) {
				t.Errorf("got % X, want % X", got, tc.want)
			}
		})
	}
}

func TestBuildPDUErrors(t *testing.T) {
	testCases := []struct {
		name string
		req  Request
		err  error
	}{
		{"zero quantity", Request{Function: FuncCodeReadCoils}, ErrInvalidQuantity},
		{"too many bits", Request{Function: FuncCodeReadDiscreteInputs, Quantity: 2001}, ErrInvalidQuantity},
		{"too many registers", Request{Function: FuncCodeReadHoldingRegisters, Quantity: 126}, ErrInvalidQuantity},
		{"bad coil value", Request{Function: FuncCodeWriteSingleCoil, Value: 0x0001}, ErrInvalidCoilValue},
		{"coil count mismatch", Request{Function: FuncCodeWriteMultipleCoils, Quantity: 3, Coils: []bool{true}}, ErrValueCountMismatch},
		{"register count mismatch", Request{Function: FuncCodeWriteMultipleRegisters, Quantity: 2, Registers: []uint16{1}}, ErrValueCountMismatch},
		{"too many coils to write", Request{Function: FuncCodeWriteMultipleCoils, Quantity: 1969, Coils: make([]bool, 1969)}, ErrInvalidQuantity},
		{"too many registers to write", Request{Function: FuncCodeWriteMultipleRegisters, Quantity: 124, Registers: make([]uint16, 124)}, ErrInvalidQuantity},
		{"read/write without values", Request{Function: FuncCodeReadWriteMultipleRegisters, Quantity: 1}, ErrInvalidQuantity},
		{"other MEI type", Request{Function: FuncCodeEncapsulatedInterface, MEIType: 0x0D}, ErrUnsupportedFunction},
		{"unknown function", Request{Function: 0x41}, ErrUnsupportedFunction},
		{"diagnostics too long", Request{Function: FuncCodeDiagnostics, Data: make([]byte, 251)}, ErrPDUTooLong},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pdu, err := BuildPDU(tc.req)
			if !errors.Is(err, tc.err) {
				t.Fatalf("got %v, want %v", err, tc.err)
			}
			if pdu != nil {
				t.Errorf("partial output % X", pdu)
			}
		})
	}

	// Limits themselves are legal.
	for _, req := range []Request{
		{Function: FuncCodeReadCoils, Quantity: MaxReadBits},
		{Function: FuncCodeReadInputRegisters, Quantity: MaxReadRegisters},
		{Function: FuncCodeWriteMultipleCoils, Quantity: MaxWriteCoils, Coils: make([]bool, MaxWriteCoils)},
		{Function: FuncCodeWriteMultipleRegisters, Quantity: MaxWriteRegisters, Registers: make([]uint16, MaxWriteRegisters)},
	} {
		pdu, err := BuildPDU(req)
		if err != nil {
			t.Errorf("BuildPDU(%s, %d): %v", req.Function, req.Quantity, err)
		}
		if len(pdu) > MaxPDULength {
			t.Errorf("BuildPDU(%s, %d) produced %d bytes", req.Function, req.Quantity, len(pdu))
		}
	}
}

func TestEncoderRTU(t *testing.T) {
	enc := NewEncoder(DefaultEncoderConfig())
	frame, err := enc.Encode(Request{Function: FuncCodeReadHoldingRegisters, Address: 0, Quantity: 10})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A, 0xC5, 0xCD}
	if !bytes.Equal(frame, want) {
		t.Errorf("got % X, want % X", frame, want)
	}

	enc = NewEncoder(EncoderConfig{Mode: ModeRTU, UnitID: 248})
	if _, err := enc.Encode(Request{Function: FuncCodeReadCoils, Quantity: 1}); !errors.Is(err, ErrInvalidUnitID) {
		t.Errorf("unit 248: got %v", err)
	}
}

func TestEncoderTCP(t *testing.T) {
	enc := NewEncoder(EncoderConfig{Mode: ModeTCP, UnitID: 1})
	frame, err := enc.Encode(Request{Function: FuncCodeReadHoldingRegisters, Address: 0, Quantity: 10})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}
	if !bytes.Equal(frame, want) {
		t.Errorf("got % X, want % X", frame, want)
	}
	if enc.LastTransactionID() != 1 {
		t.Errorf("LastTransactionID = %d", enc.LastTransactionID())
	}

	frame, err = enc.Wrap([]byte{0x11})
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if frame[0] != 0x00 || frame[1] != 0x02 || frame[5] != 0x02 {
		t.Errorf("second frame % X", frame)
	}
	if _, err := enc.Wrap(nil); !errors.Is(err, ErrEmptyPDU) {
		t.Errorf("Wrap(nil): %v", err)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	requests := []Request{
		{Function: FuncCodeReadCoils, Address: 0x0013, Quantity: 37},
		{Function: FuncCodeReadDiscreteInputs, Address: 0x00C4, Quantity: 22},
		{Function: FuncCodeReadHoldingRegisters, Address: 0x006B, Quantity: 3},
		{Function: FuncCodeReadInputRegisters, Address: 0x0008, Quantity: 1},
		{Function: FuncCodeWriteSingleCoil, Address: 0x00AC, Value: 0xFF00},
		{Function: FuncCodeWriteSingleRegister, Address: 0x0001, Value: 0x0003},
		{Function: FuncCodeDiagnostics, SubFunction: 0x0000, Data: []byte{0x12, 0x34}},
		{Function: FuncCodeGetCommEventCounter},
		{Function: FuncCodeWriteMultipleCoils, Address: 0x0013, Quantity: 3, Coils: []bool{true, false, true}},
		{Function: FuncCodeWriteMultipleRegisters, Address: 0x0001, Quantity: 2, Registers: []uint16{10, 258}},
		{Function: FuncCodeReportServerID},
		{Function: FuncCodeMaskWriteRegister, Address: 0x0004, AndMask: 0x00F2, OrMask: 0x0025},
		{Function: FuncCodeReadWriteMultipleRegisters, Address: 0x0003, Quantity: 6, WriteAddress: 0x000E, Registers: []uint16{1, 2, 3}},
		{Function: FuncCodeEncapsulatedInterface, ReadDeviceIDCode: 0x01},
	}
	dec := NewDecoder(DefaultDecoderConfig())
	for _, mode := range []TransportMode{ModeRTU, ModeTCP} {
		enc := NewEncoder(EncoderConfig{Mode: mode, UnitID: 7})
		for _, req := range requests {
			frame, err := enc.Encode(req)
			if err != nil {
				t.Fatalf("%s %s: Encode: %v", mode, req.Function, err)
			}
			d := dec.DecodeFrame(frame, mode, DirectionUnknown)
			if !d.Valid() || d.Status != StatusOK || d.LengthMismatch {
				t.Errorf("%s %s: decode %+v", mode, req.Function, d)
				continue
			}
			if d.Function != req.Function || d.UnitID != 7 || d.Direction != DirectionRequest {
				t.Errorf("%s %s: function %s unit %d direction %v", mode, req.Function, d.Function, d.UnitID, d.Direction)
			}
			if mode == ModeTCP && d.TransactionID != enc.LastTransactionID() {
				t.Errorf("%s %s: transaction %d, want %d", mode, req.Function, d.TransactionID, enc.LastTransactionID())
			}
			if addr, ok := d.Address(); ok && addr != req.Address {
				t.Errorf("%s %s: address %d, want %d", mode, req.Function, addr, req.Address)
			}
			if qty, ok := d.Quantity(); ok && qty != req.Quantity {
				t.Errorf("%s %s: quantity %d, want %d", mode, req.Function, qty, req.Quantity)
			}
		}
	}
}
