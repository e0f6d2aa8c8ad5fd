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

import "encoding/binary"

// shapeParser decodes one layout (request or response) of a function. body
// is nil when the PDU is shorter than the fixed part of the layout. exact is
// set when the PDU length matches the layout including its declared counts.
type shapeParser func(pdu []byte) (body Body, exact bool)

type functionDecoder struct {
	request  shapeParser
	response shapeParser
}

var functionDecoders = map[FunctionCode]functionDecoder{
	FuncCodeReadCoils:                  {parseReadRequest, parseReadBitsResponse},
	FuncCodeReadDiscreteInputs:         {parseReadRequest, parseReadBitsResponse},
	FuncCodeReadHoldingRegisters:       {parseReadRequest, parseReadRegistersResponse},
	FuncCodeReadInputRegisters:         {parseReadRequest, parseReadRegistersResponse},
	FuncCodeWriteSingleCoil:            {parseWriteSingleCoil, parseWriteSingleCoil},
	FuncCodeWriteSingleRegister:        {parseWriteSingleRegister, parseWriteSingleRegister},
	FuncCodeDiagnostics:                {parseDiagnostics, parseDiagnostics},
	FuncCodeGetCommEventCounter:        {parseFunctionOnly, parseCommEventCounter},
	FuncCodeWriteMultipleCoils:         {parseWriteMultipleCoils, parseWriteMultipleResponse},
	FuncCodeWriteMultipleRegisters:     {parseWriteMultipleRegisters, parseWriteMultipleResponse},
	FuncCodeReportServerID:             {parseFunctionOnly, parseReportServerID},
	FuncCodeMaskWriteRegister:          {parseMaskWrite, parseMaskWrite},
	FuncCodeReadWriteMultipleRegisters: {parseReadWriteMultiple, parseReadRegistersResponse},
	FuncCodeEncapsulatedInterface:      {parseDeviceIDRequest, parseDeviceIDResponse},
}

// DecodePDU decodes a bare PDU (function code and data). Request and
// response share function codes, so the direction is inferred from the
// length of the PDU: a layout whose declared counts match the length wins.
// When both layouts match the result is Ambiguous and hint decides. When
// neither matches exactly, hint decides if its layout parses, otherwise the
// response layout is preferred and LengthMismatch is set.
//
// DecodePDU never fails: unknown function codes and short PDUs produce a
// Decoded with the corresponding Status.
func DecodePDU(pdu []byte, mode TransportMode, hint Direction) *Decoded {
	d := &Decoded{Mode: mode, PDU: pdu, Direction: hint}
	decodePDUInto(d, hint)
	return d
}

func decodePDUInto(d *Decoded, hint Direction) {
	pdu := d.PDU
	if len(pdu) == 0 {
		d.Status = StatusTruncated
		return
	}
	fc := FunctionCode(pdu[0])
	d.Function = fc
	d.Unsupported = d.Mode == ModeTCP && fc.SerialOnly()

	if fc.IsException() {
		d.Direction = DirectionResponse
		if len(pdu) < 2 {
			d.Status = StatusTruncated
			return
		}
		code := ExceptionCode(pdu[1])
		d.Status = StatusException
		d.LengthMismatch = len(pdu) != 2
		d.Body = &ExceptionBody{Function: fc &^ ExceptionFlag, Code: code, Message: ExceptionMessage(code)}
		return
	}

	if fc == FuncCodeEncapsulatedInterface && len(pdu) >= 2 && pdu[1] != MEIReadDeviceID {
		d.Body = &EncapsulatedInterface{MEIType: pdu[1], Data: pdu[2:]}
		return
	}

	fd, ok := functionDecoders[fc]
	if !ok {
		d.Status = StatusUnknownFunction
		d.Body = &RawBody{Data: pdu[1:]}
		return
	}

	reqBody, reqExact := fd.request(pdu)
	respBody, respExact := fd.response(pdu)

	var body Body
	var exact bool
	switch {
	case reqExact && respExact:
		d.Ambiguous = true
		if hint == DirectionResponse {
			d.Direction, body = DirectionResponse, respBody
		} else {
			d.Direction, body = DirectionRequest, reqBody
		}
		exact = true
	case reqExact && hint != DirectionResponse:
		d.Direction, body, exact = DirectionRequest, reqBody, true
	case respExact:
		d.Direction, body, exact = DirectionResponse, respBody, true
	case reqExact:
		d.Direction, body, exact = DirectionRequest, reqBody, true
	case hint == DirectionRequest && reqBody != nil:
		d.Direction, body = DirectionRequest, reqBody
	case respBody != nil:
		d.Direction, body = DirectionResponse, respBody
	case reqBody != nil:
		d.Direction, body = DirectionRequest, reqBody
	}

	if body == nil {
		if d.Direction == DirectionUnknown {
			d.Direction = DirectionResponse
		}
		d.Status = StatusTruncated
		return
	}
	d.Body = body
	d.LengthMismatch = !exact
}

func u16(b []byte, i int) uint16 { return binary.BigEndian.Uint16(b[i:]) }

func unpackCoils(data []byte, n int) []Coil {
	if n > len(data)*8 {
		n = len(data) * 8
	}
	coils := make([]Coil, n)
	for i := range coils {
		coils[i] = Coil{Index: i, On: data[i/8]&(1<<(uint(i)%8)) != 0}
	}
	return coils
}

func unpackRegisters(data []byte) []Register {
	regs := make([]Register, len(data)/2)
	for i := range regs {
		regs[i] = Register{Index: i, Value: u16(data, 2*i)}
	}
	return regs
}

// countedData returns the payload announced by the byte count at pdu[i],
// cut to what is present, and whether the PDU ends exactly after it.
func countedData(pdu []byte, i int) (data []byte, count int, exact bool) {
	count = int(pdu[i])
	data = pdu[i+1:]
	exact = len(data) == count
	if len(data) > count {
		data = data[:count]
	}
	return data, count, exact
}

func parseReadRequest(pdu []byte) (Body, bool) {
	if len(pdu) < 5 {
		return nil, false
	}
	return &ReadRequest{Address: u16(pdu, 1), Quantity: u16(pdu, 3)}, len(pdu) == 5
}

func parseReadBitsResponse(pdu []byte) (Body, bool) {
	if len(pdu) < 2 {
		return nil, false
	}
	data, count, exact := countedData(pdu, 1)
	return &ReadBitsResponse{ByteCount: count, Coils: unpackCoils(data, len(data)*8)}, exact && count > 0
}

func parseReadRegistersResponse(pdu []byte) (Body, bool) {
	if len(pdu) < 2 {
		return nil, false
	}
	data, count, exact := countedData(pdu, 1)
	regs := unpackRegisters(data)
	return &ReadRegistersResponse{ByteCount: count, RegisterCount: count / 2, Registers: regs},
		exact && count > 0 && count%2 == 0
}

func parseWriteSingleCoil(pdu []byte) (Body, bool) {
	if len(pdu) < 5 {
		return nil, false
	}
	v := u16(pdu, 3)
	return &WriteSingleCoil{
		Address:    u16(pdu, 1),
		Value:      v,
		On:         v == 0xFF00,
		ValidValue: v == 0xFF00 || v == 0x0000,
	}, len(pdu) == 5
}

func parseWriteSingleRegister(pdu []byte) (Body, bool) {
	if len(pdu) < 5 {
		return nil, false
	}
	return &WriteSingleRegister{Address: u16(pdu, 1), Value: u16(pdu, 3)}, len(pdu) == 5
}

func parseDiagnostics(pdu []byte) (Body, bool) {
	if len(pdu) < 3 {
		return nil, false
	}
	return &Diagnostics{SubFunction: u16(pdu, 1), Data: pdu[3:]}, true
}

func parseFunctionOnly(pdu []byte) (Body, bool) {
	if len(pdu) != 1 {
		return nil, false
	}
	return &FunctionOnly{}, true
}

func parseCommEventCounter(pdu []byte) (Body, bool) {
	if len(pdu) < 5 {
		return nil, false
	}
	return &CommEventCounter{Status: u16(pdu, 1), EventCount: u16(pdu, 3)}, len(pdu) == 5
}

func parseWriteMultipleCoils(pdu []byte) (Body, bool) {
	if len(pdu) < 6 {
		return nil, false
	}
	qty := u16(pdu, 3)
	data, count, exact := countedData(pdu, 5)
	return &WriteMultipleCoilsRequest{
		Address:   u16(pdu, 1),
		Quantity:  qty,
		ByteCount: count,
		Coils:     unpackCoils(data, int(qty)),
	}, exact && qty > 0 && count == (int(qty)+7)/8
}

func parseWriteMultipleRegisters(pdu []byte) (Body, bool) {
	if len(pdu) < 6 {
		return nil, false
	}
	qty := u16(pdu, 3)
	data, count, exact := countedData(pdu, 5)
	return &WriteMultipleRegistersRequest{
		Address:   u16(pdu, 1),
		Quantity:  qty,
		ByteCount: count,
		Registers: unpackRegisters(data),
	}, exact && qty > 0 && count == 2*int(qty)
}

func parseWriteMultipleResponse(pdu []byte) (Body, bool) {
	if len(pdu) < 5 {
		return nil, false
	}
	return &WriteMultipleResponse{Address: u16(pdu, 1), Quantity: u16(pdu, 3)}, len(pdu) == 5
}

func parseReportServerID(pdu []byte) (Body, bool) {
	if len(pdu) < 2 {
		return nil, false
	}
	data, count, exact := countedData(pdu, 1)
	b := &ReportServerID{ByteCount: count}
	if len(data) > 0 {
		b.ServerID = data[0]
	}
	if len(data) > 1 {
		b.RunIndicator = data[1] == 0xFF
		b.Additional = data[2:]
	}
	return b, exact && count >= 2
}

func parseMaskWrite(pdu []byte) (Body, bool) {
	if len(pdu) < 7 {
		return nil, false
	}
	return &MaskWriteRegister{Address: u16(pdu, 1), AndMask: u16(pdu, 3), OrMask: u16(pdu, 5)}, len(pdu) == 7
}

func parseReadWriteMultiple(pdu []byte) (Body, bool) {
	if len(pdu) < 10 {
		return nil, false
	}
	wqty := u16(pdu, 7)
	data, count, exact := countedData(pdu, 9)
	return &ReadWriteMultipleRequest{
		ReadAddress:   u16(pdu, 1),
		ReadQuantity:  u16(pdu, 3),
		WriteAddress:  u16(pdu, 5),
		WriteQuantity: wqty,
		ByteCount:     count,
		Registers:     unpackRegisters(data),
	}, exact && wqty > 0 && count == 2*int(wqty)
}

func parseDeviceIDRequest(pdu []byte) (Body, bool) {
	if len(pdu) < 4 {
		return nil, false
	}
	return &DeviceIDRequest{MEIType: pdu[1], ReadDeviceIDCode: pdu[2], ObjectID: pdu[3]}, len(pdu) == 4
}

// parseDeviceIDResponse decodes
// [2B 0E code conformity more next count {id len value}...].
func parseDeviceIDResponse(pdu []byte) (Body, bool) {
	if len(pdu) < 7 {
		return nil, false
	}
	b := &DeviceIDResponse{
		MEIType:          pdu[1],
		ReadDeviceIDCode: pdu[2],
		ConformityLevel:  pdu[3],
		MoreFollows:      pdu[4] == 0xFF,
		NextObjectID:     pdu[5],
	}
	n := int(pdu[6])
	rest := pdu[7:]
	for i := 0; i < n; i++ {
		if len(rest) < 2 || len(rest) < 2+int(rest[1]) {
			return b, false
		}
		id, l := rest[0], int(rest[1])
		b.Objects = append(b.Objects, DeviceObject{ID: id, Name: DeviceObjectName(id), Value: string(rest[2 : 2+l])})
		rest = rest[2+l:]
	}
	return b, len(rest) == 0
}

// DecoderConfig holds Decoder settings.
type DecoderConfig struct {
	// Strict classifies frames that fail their integrity check as
	// StatusInvalidFrame and skips function decoding.
	Strict bool
}

// DefaultDecoderConfig returns the default Decoder configuration.
func DefaultDecoderConfig() DecoderConfig {
	return DecoderConfig{}
}

// Decoder unwraps transport frames and decodes their PDU. It holds no
// mutable state and may be shared.
type Decoder struct {
	cfg DecoderConfig
	rtu *RTUPackager
	tcp *TCPPackager
}

// NewDecoder creates a Decoder.
func NewDecoder(cfg DecoderConfig) *Decoder {
	return &Decoder{cfg: cfg, rtu: NewRTUPackager(), tcp: NewTCPPackager()}
}

// DecodeFrame strips the transport envelope (device ID and CRC for RTU, MBAP
// header for TCP), records the integrity checks and decodes the PDU.
func (dec *Decoder) DecodeFrame(frame []byte, mode TransportMode, hint Direction) *Decoded {
	d := &Decoded{Mode: mode, Direction: hint}
	d.Integrity.Checked = true

	switch mode {
	case ModeTCP:
		info, ok := dec.tcp.Inspect(frame)
		if !ok {
			d.Integrity.TooShort = true
			d.Status = StatusInvalidFrame
			return d
		}
		d.TransactionID = info.TransactionID
		d.UnitID = info.UnitID
		d.PDU = info.PDU
		d.Integrity.ProtocolID = info.ProtocolID
		d.Integrity.ProtocolIDValid = info.ProtocolIDValid
		d.Integrity.Length = info.Length
		d.Integrity.LengthValid = info.LengthValid
	default:
		info, ok := dec.rtu.Inspect(frame)
		if !ok {
			d.Integrity.TooShort = true
			d.Status = StatusInvalidFrame
			return d
		}
		d.UnitID = info.DeviceID
		d.PDU = info.PDU
		d.Integrity.CRCValid = info.CRCValid
		d.Integrity.CRCCalculated = info.CRCCalculated
		d.Integrity.CRCReceived = info.CRCReceived
	}

	if dec.cfg.Strict && !d.Valid() {
		if len(d.PDU) > 0 {
			d.Function = FunctionCode(d.PDU[0])
		}
		d.Status = StatusInvalidFrame
		return d
	}
	decodePDUInto(d, hint)
	return d
}
