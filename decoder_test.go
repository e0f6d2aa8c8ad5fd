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
	"math/rand"
	"strings"
	"testing"
)

func TestDecodeException(t *testing.T) {
	d := DecodePDU([]byte{0x83, 0x02}, ModeRTU, DirectionUnknown)
	if d.Status != StatusException || d.Direction != DirectionResponse {
		t.Fatalf("status %v direction %v", d.Status, d.Direction)
	}
	ex, ok := d.Body.(*ExceptionBody)
	if !ok {
		t.Fatalf("body is %T", d.Body)
	}
	if ex.Function != FuncCodeReadHoldingRegisters || ex.Code != ExceptionIllegalDataAddress || ex.Message != "Illegal Data Address" {
		t.Errorf("got %+v", ex)
	}

	d = DecodePDU([]byte{0x90, 0x7F}, ModeTCP, DirectionUnknown)
	if ex := d.Body.(*ExceptionBody); ex.Message != "Unknown Exception" || ex.Function != FuncCodeWriteMultipleRegisters {
		t.Errorf("got %+v", ex)
	}
}

func TestExceptionMessages(t *testing.T) {
	want := map[ExceptionCode]string{
		0x01: "Illegal Function",
		0x02: "Illegal Data Address",
		0x03: "Illegal Data Value",
		0x04: "Slave Device Failure",
		0x05: "Acknowledge",
		0x06: "Slave Device Busy",
		0x08: "Memory Parity Error",
		0x0A: "Gateway Path Unavailable",
		0x0B: "Gateway Target Failed to Respond",
		0x07: "Unknown Exception",
		0xFF: "Unknown Exception",
	}
	for code, msg := range want {
		if got := ExceptionMessage(code); got != msg {
			t.Errorf("ExceptionMessage(0x%02X) = %q, want %q", uint8(code), got, msg)
		}
	}
}

func TestDecodeReadHoldingRegistersResponse(t *testing.T) {
	pdu := []byte{0x03, 0x14}
	for i := 0; i < 10; i++ {
		pdu = append(pdu, byte(i), byte(0x10+i))
	}
	d := DecodePDU(pdu, ModeRTU, DirectionUnknown)
	if d.Status != StatusOK || d.Direction != DirectionResponse || d.Ambiguous || d.LengthMismatch {
		t.Fatalf("unexpected decode %+v", d)
	}
	body := d.Body.(*ReadRegistersResponse)
	if body.ByteCount != 20 || body.RegisterCount != 10 || len(body.Registers) != 10 {
		t.Fatalf("got %+v", body)
	}
	for i, r := range body.Registers {
		want := uint16(i)<<8 | uint16(0x10+i)
		if r.Index != i || r.Value != want {
			t.Errorf("register %d = %+v, want value 0x%04X", i, r, want)
		}
	}
}

func TestDecodeReadRequestVersusResponse(t *testing.T) {
	d := DecodePDU([]byte{0x03, 0x00, 0x6B, 0x00, 0x03}, ModeRTU, DirectionUnknown)
	req, ok := d.Body.(*ReadRequest)
	if !ok || d.Direction != DirectionRequest || d.Ambiguous {
		t.Fatalf("got %T direction %v ambiguous %v", d.Body, d.Direction, d.Ambiguous)
	}
	if req.Address != 0x6B || req.Quantity != 3 {
		t.Errorf("got %+v", req)
	}

	// A 5 byte read-coils PDU whose second byte is 3 fits both layouts.
	d = DecodePDU([]byte{0x01, 0x03, 0xCD, 0x6B, 0x05}, ModeRTU, DirectionUnknown)
	if !d.Ambiguous || d.Direction != DirectionRequest {
		t.Errorf("no hint: ambiguous %v direction %v", d.Ambiguous, d.Direction)
	}
	d = DecodePDU([]byte{0x01, 0x03, 0xCD, 0x6B, 0x05}, ModeRTU, DirectionResponse)
	if !d.Ambiguous || d.Direction != DirectionResponse {
		t.Errorf("response hint: ambiguous %v direction %v", d.Ambiguous, d.Direction)
	}
	if _, ok := d.Body.(*ReadBitsResponse); !ok {
		t.Errorf("response hint body %T", d.Body)
	}
}

func TestDecodeReadBitsResponse(t *testing.T) {
	d := DecodePDU([]byte{0x01, 0x02, 0xCD, 0x01}, ModeTCP, DirectionUnknown)
	body, ok := d.Body.(*ReadBitsResponse)
	if !ok || d.Direction != DirectionResponse {
		t.Fatalf("got %T direction %v", d.Body, d.Direction)
	}
	if len(body.Coils) != 16 {
		t.Fatalf("coil count %d", len(body.Coils))
	}
	want := []bool{true, false, true, true, false, false, true, true, true, false}
	for i, on := range want {
		if body.Coils[i].Index != i || body.Coils[i].On != on {
			t.Errorf("coil %d = %+v, want %v", i, body.Coils[i], on)
		}
	}
}

func TestDecodeEchoFunctionsAreAmbiguous(t *testing.T) {
	testCases := []struct {
		name string
		pdu  []byte
	}{
		{"write single coil", []byte{0x05, 0x00, 0xAC, 0xFF, 0x00}},
		{"write single register", []byte{0x06, 0x00, 0x01, 0x00, 0x03}},
		{"diagnostics", []byte{0x08, 0x00, 0x00, 0xA5, 0x37}},
		{"mask write", []byte{0x16, 0x00, 0x04, 0x00, 0xF2, 0x00, 0x25}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := DecodePDU(tc.pdu, ModeRTU, DirectionUnknown)
			if !d.Ambiguous || d.Direction != DirectionRequest || d.Status != StatusOK {
				t.Errorf("no hint: %+v", d)
			}
			d = DecodePDU(tc.pdu, ModeRTU, DirectionResponse)
			if !d.Ambiguous || d.Direction != DirectionResponse {
				t.Errorf("response hint: %+v", d)
			}
		})
	}

	coil := DecodePDU([]byte{0x05, 0x00, 0xAC, 0x12, 0x34}, ModeRTU, DirectionUnknown).Body.(*WriteSingleCoil)
	if coil.ValidValue || coil.On {
		t.Errorf("0x1234 accepted as coil value: %+v", coil)
	}
}

func TestDecodeWriteMultiple(t *testing.T) {
	d := DecodePDU([]byte{0x0F, 0x00, 0x13, 0x00, 0x0A, 0x02, 0xCD, 0x01}, ModeRTU, DirectionUnknown)
	req, ok := d.Body.(*WriteMultipleCoilsRequest)
	if !ok || d.Direction != DirectionRequest || d.LengthMismatch {
		t.Fatalf("got %T direction %v mismatch %v", d.Body, d.Direction, d.LengthMismatch)
	}
	if req.Address != 0x13 || req.Quantity != 10 || len(req.Coils) != 10 || !req.Coils[8].On || req.Coils[9].On {
		t.Errorf("got %+v", req)
	}

	d = DecodePDU([]byte{0x0F, 0x00, 0x13, 0x00, 0x0A}, ModeRTU, DirectionUnknown)
	if resp, ok := d.Body.(*WriteMultipleResponse); !ok || d.Direction != DirectionResponse || resp.Quantity != 10 {
		t.Errorf("got %T %+v", d.Body, d.Body)
	}

	d = DecodePDU([]byte{0x10, 0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x01, 0x02}, ModeTCP, DirectionUnknown)
	regs, ok := d.Body.(*WriteMultipleRegistersRequest)
	if !ok || len(regs.Registers) != 2 || regs.Registers[1].Value != 0x0102 {
		t.Errorf("got %T %+v", d.Body, d.Body)
	}
}

func TestDecodeSerialOnlyFunctions(t *testing.T) {
	d := DecodePDU([]byte{0x0B}, ModeTCP, DirectionUnknown)
	if !d.Unsupported || d.Direction != DirectionRequest || d.Status != StatusOK {
		t.Errorf("0x0B request on TCP: %+v", d)
	}
	d = DecodePDU([]byte{0x0B, 0xFF, 0xFF, 0x01, 0x08}, ModeRTU, DirectionUnknown)
	ev, ok := d.Body.(*CommEventCounter)
	if !ok || d.Unsupported || ev.Status != 0xFFFF || ev.EventCount != 0x0108 {
		t.Errorf("0x0B response: %T %+v", d.Body, d.Body)
	}

	d = DecodePDU([]byte{0x11, 0x03, 0x2A, 0xFF, 0x01}, ModeRTU, DirectionUnknown)
	id, ok := d.Body.(*ReportServerID)
	if !ok || id.ServerID != 0x2A || !id.RunIndicator || len(id.Additional) != 1 {
		t.Errorf("0x11 response: %T %+v", d.Body, d.Body)
	}
	if d := DecodePDU([]byte{0x08, 0x00, 0x00, 0x12, 0x34}, ModeTCP, DirectionUnknown); !d.Unsupported {
		t.Error("0x08 on TCP should be flagged unsupported")
	}
}

func TestDecodeReadWriteMultiple(t *testing.T) {
	pdu := []byte{0x17, 0x00, 0x03, 0x00, 0x06, 0x00, 0x0E, 0x00, 0x03, 0x06, 0x00, 0xFF, 0x00, 0xFF, 0x00, 0xFF}
	d := DecodePDU(pdu, ModeTCP, DirectionUnknown)
	req, ok := d.Body.(*ReadWriteMultipleRequest)
	if !ok || d.Direction != DirectionRequest {
		t.Fatalf("got %T direction %v", d.Body, d.Direction)
	}
	if req.ReadAddress != 3 || req.ReadQuantity != 6 || req.WriteAddress != 14 || req.WriteQuantity != 3 || len(req.Registers) != 3 {
		t.Errorf("got %+v", req)
	}

	d = DecodePDU([]byte{0x17, 0x04, 0x00, 0xFE, 0x0A, 0xCD}, ModeTCP, DirectionUnknown)
	if resp, ok := d.Body.(*ReadRegistersResponse); !ok || resp.RegisterCount != 2 {
		t.Errorf("got %T %+v", d.Body, d.Body)
	}
}

func TestDecodeDeviceIdentification(t *testing.T) {
	d := DecodePDU([]byte{0x2B, 0x0E, 0x01, 0x00}, ModeTCP, DirectionUnknown)
	if req, ok := d.Body.(*DeviceIDRequest); !ok || req.ReadDeviceIDCode != 1 || d.Direction != DirectionRequest {
		t.Fatalf("got %T %+v", d.Body, d.Body)
	}

	pdu := []byte{0x2B, 0x0E, 0x01, 0x01, 0x00, 0x00, 0x02,
		0x00, 0x03, 'A', 'C', 'M',
		0x01, 0x02, 'X', '1'}
	d = DecodePDU(pdu, ModeTCP, DirectionUnknown)
	resp, ok := d.Body.(*DeviceIDResponse)
	if !ok || d.LengthMismatch {
		t.Fatalf("got %T mismatch %v", d.Body, d.LengthMismatch)
	}
	if len(resp.Objects) != 2 || resp.Objects[0].Name != "VendorName" || resp.Objects[0].Value != "ACM" || resp.Objects[1].Value != "X1" {
		t.Errorf("got %+v", resp.Objects)
	}

	d = DecodePDU([]byte{0x2B, 0x0D, 0x01, 0x02}, ModeTCP, DirectionUnknown)
	if enc, ok := d.Body.(*EncapsulatedInterface); !ok || enc.MEIType != 0x0D {
		t.Errorf("got %T %+v", d.Body, d.Body)
	}
}

func TestDecodeDegradedInput(t *testing.T) {
	testCases := []struct {
		name      string
		pdu       []byte
		hint      Direction
		status    Status
		function  FunctionCode
		direction Direction
	}{
		{"empty", nil, DirectionUnknown, StatusTruncated, 0, DirectionResponse},
		{"function only", []byte{0x03}, DirectionUnknown, StatusTruncated, FuncCodeReadHoldingRegisters, DirectionResponse},
		{"exception without code", []byte{0x83}, DirectionUnknown, StatusTruncated, 0x83, DirectionResponse},
		{"short write single", []byte{0x06, 0x00, 0x01}, DirectionUnknown, StatusTruncated, FuncCodeWriteSingleRegister, DirectionResponse},
		{"unknown function", []byte{0x41, 0x01, 0x02}, DirectionUnknown, StatusUnknownFunction, 0x41, DirectionUnknown},
		{"short event counter response", []byte{0x0B, 0x00, 0x00}, DirectionResponse, StatusTruncated, FuncCodeGetCommEventCounter, DirectionResponse},
		{"event counter with one extra byte", []byte{0x0B, 0x00}, DirectionResponse, StatusTruncated, FuncCodeGetCommEventCounter, DirectionResponse},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := DecodePDU(tc.pdu, ModeRTU, tc.hint)
			if d.Status != tc.status || d.Function != tc.function {
				t.Errorf("got status %v function 0x%02X", d.Status, uint8(d.Function))
			}
			if tc.status == StatusTruncated && d.Body != nil {
				t.Errorf("truncated decode carries body %T", d.Body)
			}
			if tc.status == StatusTruncated && d.Direction != tc.direction {
				t.Errorf("direction %v, want %v", d.Direction, tc.direction)
			}
			if d.Summary() == "" {
				t.Error("empty summary")
			}
		})
	}

	d := DecodePDU([]byte{0x03, 0x14, 0x00, 0x01}, ModeRTU, DirectionUnknown)
	resp, ok := d.Body.(*ReadRegistersResponse)
	if !ok || !d.LengthMismatch || len(resp.Registers) != 1 {
		t.Errorf("short register payload: %T mismatch %v", d.Body, d.LengthMismatch)
	}
}

func TestDecodeNeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	buf := make([]byte, 16)
	for fc := 0; fc < 256; fc++ {
		for n := 0; n <= len(buf); n++ {
			rng.Read(buf)
			pdu := append([]byte{byte(fc)}, buf[:n]...)
			for _, hint := range []Direction{DirectionUnknown, DirectionRequest, DirectionResponse} {
				d := DecodePDU(pdu, ModeTCP, hint)
				_ = d.Summary()
				d.Address()
				d.Quantity()
			}
		}
	}
}

func TestDecodeFrameRTUIntegrity(t *testing.T) {
	frame := AppendCRC([]byte{0x01, 0x03, 0x02, 0x00, 0x2A})
	dec := NewDecoder(DefaultDecoderConfig())

	d := dec.DecodeFrame(frame, ModeRTU, DirectionResponse)
	if !d.Valid() || d.UnitID != 1 || d.Status != StatusOK {
		t.Fatalf("valid frame: %+v", d)
	}
	if regs := d.Body.(*ReadRegistersResponse).Registers; len(regs) != 1 || regs[0].Value != 42 {
		t.Errorf("registers %+v", regs)
	}

	bad := append([]byte(nil), frame...)
	bad[len(bad)-1] ^= 0xFF
	d = dec.DecodeFrame(bad, ModeRTU, DirectionResponse)
	if d.Valid() || d.Integrity.CRCValid || d.Status != StatusOK || d.Body == nil {
		t.Errorf("lenient decode of bad CRC: %+v", d)
	}
	if !strings.Contains(d.Summary(), "mismatch") {
		t.Errorf("summary does not flag CRC:\n%s", d.Summary())
	}

	strict := NewDecoder(DecoderConfig{Strict: true})
	d = strict.DecodeFrame(bad, ModeRTU, DirectionResponse)
	if d.Status != StatusInvalidFrame || d.Body != nil || d.Function != FuncCodeReadHoldingRegisters {
		t.Errorf("strict decode of bad CRC: %+v", d)
	}

	d = dec.DecodeFrame([]byte{0x01, 0x03}, ModeRTU, DirectionUnknown)
	if d.Status != StatusInvalidFrame || !d.Integrity.TooShort {
		t.Errorf("short frame: %+v", d)
	}
}

func TestDecodeFrameTCPIntegrity(t *testing.T) {
	frame := []byte{0x00, 0x07, 0x00, 0x00, 0x00, 0x06, 0x11, 0x03, 0x00, 0x6B, 0x00, 0x03}
	dec := NewDecoder(DefaultDecoderConfig())
	d := dec.DecodeFrame(frame, ModeTCP, DirectionRequest)
	if !d.Valid() || d.TransactionID != 7 || d.UnitID != 0x11 || d.Direction != DirectionRequest {
		t.Fatalf("valid frame: %+v", d)
	}

	bad := append([]byte(nil), frame...)
	bad[2] = 0x12
	d = dec.DecodeFrame(bad, ModeTCP, DirectionRequest)
	if d.Valid() || d.Integrity.ProtocolIDValid || d.Body == nil {
		t.Errorf("lenient decode of bad protocol id: %+v", d)
	}
	d = NewDecoder(DecoderConfig{Strict: true}).DecodeFrame(bad, ModeTCP, DirectionRequest)
	if d.Status != StatusInvalidFrame {
		t.Errorf("strict decode of bad protocol id: %v", d.Status)
	}

	bad = append([]byte(nil), frame...)
	bad[5] = 0x09
	if d := dec.DecodeFrame(bad, ModeTCP, DirectionRequest); d.Integrity.LengthValid {
		t.Error("length field mismatch not reported")
	}
}

func TestDecodedSummary(t *testing.T) {
	pdu := []byte{0x03, 0x04, 0x00, 0x0A, 0x01, 0x02}
	s := DecodePDU(pdu, ModeRTU, DirectionUnknown).Summary()
	for _, want := range []string{"Read Holding Registers (0x03) response", "Register count: 2", "Register[1]: 0x0102 (258)"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary missing %q:\n%s", want, s)
		}
	}

	s = NewDecoder(DefaultDecoderConfig()).DecodeFrame([]byte{0x01, 0x83, 0x02, 0xC0, 0xF1}, ModeRTU, DirectionUnknown).Summary()
	for _, want := range []string{"Exception code: 0x02 Illegal Data Address", "CRC: 0xF1C0 OK"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary missing %q:\n%s", want, s)
		}
	}
}

func TestDecodedSummaryListsEveryRegister(t *testing.T) {
	pdu := []byte{0x03, 2 * MaxReadRegisters}
	for i := 0; i < MaxReadRegisters; i++ {
		pdu = append(pdu, 0x00, byte(i))
	}
	s := DecodePDU(pdu, ModeRTU, DirectionResponse).Summary()
	if n := strings.Count(s, "Register["); n != MaxReadRegisters {
		t.Errorf("summary lists %d registers, want %d", n, MaxReadRegisters)
	}
	if !strings.Contains(s, "Register[124]: 0x007C (124)") {
		t.Errorf("last register missing:\n%s", s)
	}
}
