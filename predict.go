package modbus

import "encoding/binary"

// OutstandingRequest is the most recently sent request on a connection. It
// is kept only to predict the length of the next inbound frame.
type OutstandingRequest struct {
	Function FunctionCode
	Address  uint16
	Quantity uint16
}

// OutstandingFromRequest extracts the fields used for prediction.
func OutstandingFromRequest(req Request) OutstandingRequest {
	return OutstandingRequest{Function: req.Function, Address: req.Address, Quantity: req.Quantity}
}

// OutstandingFromFrame parses a captured or raw request frame. ok is false
// when the frame fails its CRC or MBAP checks, or does not carry a function
// code, address and quantity.
func OutstandingFromFrame(frame []byte, mode TransportMode) (req OutstandingRequest, ok bool) {
	var pdu []byte
	var err error
	switch mode {
	case ModeTCP:
		_, _, pdu, err = NewTCPPackager().Unpack(frame)
	default:
		_, pdu, err = NewRTUPackager().Unpack(frame)
	}
	if err != nil {
		return req, false
	}
	if len(pdu) < 5 {
		return req, false
	}
	req.Function = FunctionCode(pdu[0])
	req.Address = binary.BigEndian.Uint16(pdu[1:3])
	req.Quantity = binary.BigEndian.Uint16(pdu[3:5])
	return req, true
}

// predictResponsePDULength returns the expected response PDU length for the
// outstanding request. ok is false for functions without a fixed rule and
// for quantities that cannot produce a legal response.
func predictResponsePDULength(req OutstandingRequest) (int, bool) {
	qty := int(req.Quantity)
	var n int
	switch req.Function {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		if qty == 0 {
			return 0, false
		}
		n = 2 + (qty+7)/8
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		if qty == 0 {
			return 0, false
		}
		n = 2 + 2*qty
	case FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		n = 5
	default:
		return 0, false
	}
	if n > MaxPDULength {
		return 0, false
	}
	return n, true
}

// PredictResponseLength returns the expected total frame length of the
// response to req: the response PDU plus device ID and CRC for RTU, or plus
// the MBAP header for TCP. Exception responses are shorter than predicted.
func PredictResponseLength(req OutstandingRequest, mode TransportMode) (int, bool) {
	n, ok := predictResponsePDULength(req)
	if !ok {
		return 0, false
	}
	return n + mode.overhead(), true
}
