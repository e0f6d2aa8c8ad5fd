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

package transport

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	modbus "github.com/hootrhino/mbinspect"
)

// DefaultModbusPort is the registered Modbus TCP port.
const DefaultModbusPort = 502

// Segment is the TCP payload of one captured packet to or from the Modbus
// port.
type Segment struct {
	Timestamp time.Time
	Direction modbus.Direction // request when sent to the Modbus port
	Src, Dst  string
	Payload   []byte
}

// SegmentHandler receives each captured segment in file order.
type SegmentHandler func(Segment)

// ReplayPcap reads a pcap capture and hands every non-empty TCP payload
// exchanged with port to fn. Packets that do not decode are skipped.
func ReplayPcap(r io.Reader, port uint16, fn SegmentHandler) error {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return fmt.Errorf("transport: read pcap header: %w", err)
	}
	source := gopacket.NewPacketSource(pr, pr.LinkType())
	source.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	for {
		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("transport: read pcap packet: %w", err)
		}
		tcpLayer := packet.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			continue
		}
		tcp := tcpLayer.(*layers.TCP)
		if len(tcp.Payload) == 0 {
			continue
		}

		var dir modbus.Direction
		switch {
		case uint16(tcp.DstPort) == port:
			dir = modbus.DirectionRequest
		case uint16(tcp.SrcPort) == port:
			dir = modbus.DirectionResponse
		default:
			continue
		}

		seg := Segment{
			Timestamp: packet.Metadata().Timestamp,
			Direction: dir,
			Payload:   append([]byte(nil), tcp.Payload...),
		}
		if nl := packet.NetworkLayer(); nl != nil {
			src, dst := nl.NetworkFlow().Endpoints()
			seg.Src = fmt.Sprintf("%s:%d", src, tcp.SrcPort)
			seg.Dst = fmt.Sprintf("%s:%d", dst, tcp.DstPort)
		}
		fn(seg)
	}
}
