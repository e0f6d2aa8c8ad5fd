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

import "fmt"

// Direction tells whether a PDU travels client to server or back.
type Direction uint8

const (
	DirectionUnknown Direction = iota
	DirectionRequest
	DirectionResponse
)

func (d Direction) String() string {
	switch d {
	case DirectionRequest:
		return "request"
	case DirectionResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Status classifies the outcome of a decode.
type Status uint8

const (
	StatusOK Status = iota
	StatusException
	StatusTruncated       // PDU shorter than the minimum for its function
	StatusUnknownFunction // function code without a decoder
	StatusInvalidFrame    // integrity failure in strict mode, or no PDU at all
)

var statusNames = [...]string{"ok", "exception", "truncated", "unknown function", "invalid frame"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Integrity is the transport-level check of a frame. For RTU it covers the
// CRC, for TCP the MBAP protocol identifier and length field.
type Integrity struct {
	Checked  bool // false for a bare PDU
	TooShort bool // shorter than the transport envelope

	CRCValid      bool
	CRCCalculated uint16
	CRCReceived   uint16

	ProtocolID      uint16
	ProtocolIDValid bool
	Length          uint16
	LengthValid     bool
}

// Register is one 16-bit register value. Index counts from the first
// register in the PDU.
type Register struct {
	Index int
	Value uint16
}

// Coil is one unpacked bit of a coil or discrete input payload.
type Coil struct {
	Index int
	On    bool
}

// Decoded is the structured description of one frame or PDU. Body holds the
// function specific part and is nil when the PDU is too short to carry one.
type Decoded struct {
	Mode          TransportMode
	UnitID        uint8
	TransactionID uint16 // TCP only
	Function      FunctionCode
	Direction     Direction
	// Ambiguous is set when the bytes fit both the request and the
	// response layout; Direction then follows the hint, or request.
	Ambiguous bool
	// Unsupported marks serial-line-only functions seen on TCP.
	Unsupported bool
	Status      Status
	Integrity   Integrity
	// LengthMismatch is set when the PDU length disagrees with the counts
	// declared inside it. Body then holds what could be decoded.
	LengthMismatch bool
	PDU            []byte
	Body           Body
}

// Valid reports whether the frame passed its transport integrity checks.
// A bare PDU is always valid.
func (d *Decoded) Valid() bool {
	i := d.Integrity
	if !i.Checked {
		return true
	}
	if i.TooShort {
		return false
	}
	if d.Mode == ModeTCP {
		return i.ProtocolIDValid && i.LengthValid
	}
	return i.CRCValid
}

// Address returns the starting address carried by the body, if any.
func (d *Decoded) Address() (uint16, bool) {
	switch b := d.Body.(type) {
	case *ReadRequest:
		return b.Address, true
	case *WriteSingleCoil:
		return b.Address, true
	case *WriteSingleRegister:
		return b.Address, true
	case *WriteMultipleCoilsRequest:
		return b.Address, true
	case *WriteMultipleRegistersRequest:
		return b.Address, true
	case *WriteMultipleResponse:
		return b.Address, true
	case *MaskWriteRegister:
		return b.Address, true
	case *ReadWriteMultipleRequest:
		return b.ReadAddress, true
	}
	return 0, false
}

// Quantity returns the element count carried by the body, if any.
func (d *Decoded) Quantity() (uint16, bool) {
	switch b := d.Body.(type) {
	case *ReadRequest:
		return b.Quantity, true
	case *WriteMultipleCoilsRequest:
		return b.Quantity, true
	case *WriteMultipleRegistersRequest:
		return b.Quantity, true
	case *WriteMultipleResponse:
		return b.Quantity, true
	case *ReadWriteMultipleRequest:
		return b.ReadQuantity, true
	case *ReadRegistersResponse:
		return uint16(b.RegisterCount), true
	}
	return 0, false
}

// Body is the function specific part of a Decoded.
type Body interface {
	describe(w *summaryWriter)
}

// ExceptionBody is an exception response.
type ExceptionBody struct {
	Function FunctionCode // without the exception bit
	Code     ExceptionCode
	Message  string
}

// ReadRequest is a 0x01-0x04 request.
type ReadRequest struct {
	Address  uint16
	Quantity uint16
}

// ReadBitsResponse is a 0x01/0x02 response. Every bit of every data byte is
// unpacked since the requested quantity is not part of the response.
type ReadBitsResponse struct {
	ByteCount int
	Coils     []Coil
}

// ReadRegistersResponse is a 0x03/0x04/0x17 response.
type ReadRegistersResponse struct {
	ByteCount     int
	RegisterCount int
	Registers     []Register
}

// WriteSingleCoil is a 0x05 request or its echo.
type WriteSingleCoil struct {
	Address    uint16
	Value      uint16
	On         bool
	ValidValue bool // Value is 0xFF00 or 0x0000
}

// WriteSingleRegister is a 0x06 request or its echo.
type WriteSingleRegister struct {
	Address uint16
	Value   uint16
}

// Diagnostics is a 0x08 request or its echo.
type Diagnostics struct {
	SubFunction uint16
	Data        []byte
}

// FunctionOnly is a request that carries nothing but its function code
// (0x0B, 0x11).
type FunctionOnly struct{}

// CommEventCounter is a 0x0B response.
type CommEventCounter struct {
	Status     uint16
	EventCount uint16
}

// WriteMultipleCoilsRequest is a 0x0F request.
type WriteMultipleCoilsRequest struct {
	Address   uint16
	Quantity  uint16
	ByteCount int
	Coils     []Coil // Quantity entries when the payload is long enough
}

// WriteMultipleRegistersRequest is a 0x10 request.
type WriteMultipleRegistersRequest struct {
	Address   uint16
	Quantity  uint16
	ByteCount int
	Registers []Register
}

// WriteMultipleResponse is a 0x0F/0x10 response.
type WriteMultipleResponse struct {
	Address  uint16
	Quantity uint16
}

// ReportServerID is a 0x11 response.
type ReportServerID struct {
	ByteCount    int
	ServerID     byte
	RunIndicator bool
	Additional   []byte
}

// MaskWriteRegister is a 0x16 request or its echo.
type MaskWriteRegister struct {
	Address uint16
	AndMask uint16
	OrMask  uint16
}

// ReadWriteMultipleRequest is a 0x17 request.
type ReadWriteMultipleRequest struct {
	ReadAddress   uint16
	ReadQuantity  uint16
	WriteAddress  uint16
	WriteQuantity uint16
	ByteCount     int
	Registers     []Register
}

// DeviceIDRequest is a 0x2B/0x0E request.
type DeviceIDRequest struct {
	MEIType          byte
	ReadDeviceIDCode byte
	ObjectID         byte
}

// DeviceObject is one object of a device identification response.
type DeviceObject struct {
	ID    byte
	Name  string
	Value string
}

// DeviceIDResponse is a 0x2B/0x0E response.
type DeviceIDResponse struct {
	MEIType          byte
	ReadDeviceIDCode byte
	ConformityLevel  byte
	MoreFollows      bool
	NextObjectID     byte
	Objects          []DeviceObject
}

// EncapsulatedInterface is a 0x2B PDU with an MEI type other than 0x0E.
type EncapsulatedInterface struct {
	MEIType byte
	Data    []byte
}

// RawBody holds the data of a function without a decoder.
type RawBody struct {
	Data []byte
}

var deviceObjectNames = map[byte]string{
	0x00: "VendorName",
	0x01: "ProductCode",
	0x02: "MajorMinorRevision",
	0x03: "VendorUrl",
	0x04: "ProductName",
	0x05: "ModelName",
	0x06: "UserApplicationName",
}

// DeviceObjectName returns the standard name of a device identification
// object.
func DeviceObjectName(id byte) string {
	if name, ok := deviceObjectNames[id]; ok {
		return name
	}
	if id >= 0x80 {
		return fmt.Sprintf("Private 0x%02X", id)
	}
	return fmt.Sprintf("Reserved 0x%02X", id)
}
