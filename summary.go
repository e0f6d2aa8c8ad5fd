package modbus

import (
	"fmt"
	"strings"
)

type summaryWriter struct {
	b strings.Builder
}

func (w *summaryWriter) line(format string, v ...any) {
	w.b.WriteString("  ")
	fmt.Fprintf(&w.b, format, v...)
	w.b.WriteByte('\n')
}

func (w *summaryWriter) registers(regs []Register) {
	for _, r := range regs {
		w.line("Register[%d]: 0x%04X (%d)", r.Index, r.Value, r.Value)
	}
}

func (w *summaryWriter) coils(coils []Coil) {
	for _, c := range coils {
		w.line("Coil[%d]: %s", c.Index, onOff(c.On))
	}
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// Summary renders a multi-line human-readable description: a header line
// with transport, unit, function and direction, then one indented line per
// field.
func (d *Decoded) Summary() string {
	w := &summaryWriter{}
	w.b.WriteString(d.Mode.String())
	if d.Mode == ModeTCP {
		fmt.Fprintf(&w.b, " tx %d", d.TransactionID)
	}
	fmt.Fprintf(&w.b, " unit %d | ", d.UnitID)
	if len(d.PDU) == 0 && d.Status != StatusOK {
		fmt.Fprintf(&w.b, "%s\n", d.Status)
	} else {
		fmt.Fprintf(&w.b, "%s (0x%02X) %s", FunctionName(d.Function), uint8(d.Function), d.Direction)
		if d.Ambiguous {
			w.b.WriteString(" (ambiguous)")
		}
		w.b.WriteByte('\n')
	}

	switch d.Status {
	case StatusTruncated:
		w.line("Truncated PDU: % X", d.PDU)
	case StatusUnknownFunction:
		w.line("Unknown or unsupported function")
	case StatusInvalidFrame:
		w.line("Invalid frame")
	}
	if d.Unsupported {
		w.line("Function 0x%02X is serial line only, not supported over TCP", uint8(d.Function))
	}
	if d.Body != nil {
		d.Body.describe(w)
	}
	if d.LengthMismatch {
		w.line("Length mismatch: %d byte PDU disagrees with declared counts", len(d.PDU))
	}
	d.describeIntegrity(w)
	return strings.TrimRight(w.b.String(), "\n")
}

func (d *Decoded) describeIntegrity(w *summaryWriter) {
	i := d.Integrity
	switch {
	case !i.Checked:
	case i.TooShort:
		w.line("Frame too short for %s envelope", d.Mode)
	case d.Mode == ModeTCP:
		if !i.ProtocolIDValid {
			w.line("Protocol ID: 0x%04X (expected 0x0000)", i.ProtocolID)
		}
		if !i.LengthValid {
			w.line("MBAP length: %d (PDU has %d bytes)", i.Length, len(d.PDU))
		}
	default:
		if i.CRCValid {
			w.line("CRC: 0x%04X OK", i.CRCReceived)
		} else {
			w.line("CRC: 0x%04X mismatch (calculated 0x%04X)", i.CRCReceived, i.CRCCalculated)
		}
	}
}

func (b *ExceptionBody) describe(w *summaryWriter) {
	w.line("Exception for %s (0x%02X)", FunctionName(b.Function), uint8(b.Function))
	w.line("Exception code: 0x%02X %s", uint8(b.Code), b.Message)
}

func (b *ReadRequest) describe(w *summaryWriter) {
	w.line("Start address: %d (0x%04X)", b.Address, b.Address)
	w.line("Quantity: %d", b.Quantity)
}

func (b *ReadBitsResponse) describe(w *summaryWriter) {
	w.line("Byte count: %d", b.ByteCount)
	w.coils(b.Coils)
}

func (b *ReadRegistersResponse) describe(w *summaryWriter) {
	w.line("Byte count: %d", b.ByteCount)
	w.line("Register count: %d", b.RegisterCount)
	w.registers(b.Registers)
}

func (b *WriteSingleCoil) describe(w *summaryWriter) {
	w.line("Address: %d (0x%04X)", b.Address, b.Address)
	if b.ValidValue {
		w.line("Value: %s (0x%04X)", onOff(b.On), b.Value)
	} else {
		w.line("Value: 0x%04X (invalid, expected 0xFF00 or 0x0000)", b.Value)
	}
}

func (b *WriteSingleRegister) describe(w *summaryWriter) {
	w.line("Address: %d (0x%04X)", b.Address, b.Address)
	w.line("Value: 0x%04X (%d)", b.Value, b.Value)
}

func (b *Diagnostics) describe(w *summaryWriter) {
	w.line("Sub-function: 0x%04X", b.SubFunction)
	if len(b.Data) > 0 {
		w.line("Data: % X", b.Data)
	}
}

func (b *FunctionOnly) describe(*summaryWriter) {}

func (b *CommEventCounter) describe(w *summaryWriter) {
	w.line("Status: 0x%04X", b.Status)
	w.line("Event count: %d", b.EventCount)
}

func (b *WriteMultipleCoilsRequest) describe(w *summaryWriter) {
	w.line("Start address: %d (0x%04X)", b.Address, b.Address)
	w.line("Quantity: %d", b.Quantity)
	w.line("Byte count: %d", b.ByteCount)
	w.coils(b.Coils)
}

func (b *WriteMultipleRegistersRequest) describe(w *summaryWriter) {
	w.line("Start address: %d (0x%04X)", b.Address, b.Address)
	w.line("Quantity: %d", b.Quantity)
	w.line("Byte count: %d", b.ByteCount)
	w.registers(b.Registers)
}

func (b *WriteMultipleResponse) describe(w *summaryWriter) {
	w.line("Start address: %d (0x%04X)", b.Address, b.Address)
	w.line("Quantity: %d", b.Quantity)
}

func (b *ReportServerID) describe(w *summaryWriter) {
	w.line("Byte count: %d", b.ByteCount)
	w.line("Server ID: 0x%02X", b.ServerID)
	w.line("Run indicator: %s", onOff(b.RunIndicator))
	if len(b.Additional) > 0 {
		w.line("Additional data: % X", b.Additional)
	}
}

func (b *MaskWriteRegister) describe(w *summaryWriter) {
	w.line("Address: %d (0x%04X)", b.Address, b.Address)
	w.line("AND mask: 0x%04X", b.AndMask)
	w.line("OR mask: 0x%04X", b.OrMask)
}

func (b *ReadWriteMultipleRequest) describe(w *summaryWriter) {
	w.line("Read address: %d (0x%04X)", b.ReadAddress, b.ReadAddress)
	w.line("Read quantity: %d", b.ReadQuantity)
	w.line("Write address: %d (0x%04X)", b.WriteAddress, b.WriteAddress)
	w.line("Write quantity: %d", b.WriteQuantity)
	w.line("Byte count: %d", b.ByteCount)
	w.registers(b.Registers)
}

func (b *DeviceIDRequest) describe(w *summaryWriter) {
	w.line("MEI type: 0x%02X", b.MEIType)
	w.line("Read device ID code: 0x%02X", b.ReadDeviceIDCode)
	w.line("Object ID: 0x%02X", b.ObjectID)
}

func (b *DeviceIDResponse) describe(w *summaryWriter) {
	w.line("MEI type: 0x%02X", b.MEIType)
	w.line("Read device ID code: 0x%02X", b.ReadDeviceIDCode)
	w.line("Conformity level: 0x%02X", b.ConformityLevel)
	if b.MoreFollows {
		w.line("More follows, next object ID: 0x%02X", b.NextObjectID)
	}
	for _, o := range b.Objects {
		w.line("%s (0x%02X): %q", o.Name, o.ID, o.Value)
	}
}

func (b *EncapsulatedInterface) describe(w *summaryWriter) {
	w.line("MEI type: 0x%02X", b.MEIType)
	if len(b.Data) > 0 {
		w.line("Data: % X", b.Data)
	}
}

func (b *RawBody) describe(w *summaryWriter) {
	if len(b.Data) > 0 {
		w.line("Data: % X", b.Data)
	}
}
