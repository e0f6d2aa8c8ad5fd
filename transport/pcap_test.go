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
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	modbus "github.com/hootrhino/mbinspect"
)

type capturedPacket struct {
	srcPort, dstPort uint16
	payload          []byte
}

func writeTestCapture(t *testing.T, packets []capturedPacket) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("WriteFileHeader: %v", err)
	}
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, p := range packets {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
			DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    net.IPv4(192, 168, 1, 10),
			DstIP:    net.IPv4(192, 168, 1, 20),
		}
		if p.srcPort == DefaultModbusPort {
			ip.SrcIP, ip.DstIP = ip.DstIP, ip.SrcIP
		}
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(p.srcPort),
			DstPort: layers.TCPPort(p.dstPort),
			Seq:     uint32(1000 + i),
			ACK:     true,
			PSH:     true,
			Window:  1024,
		}
		if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
			t.Fatalf("SetNetworkLayerForChecksum: %v", err)
		}
		sb := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(sb, opts, eth, ip, tcp, gopacket.Payload(p.payload)); err != nil {
			t.Fatalf("SerializeLayers: %v", err)
		}
		data := sb.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatalf("WritePacket: %v", err)
		}
	}
	return &buf
}

func TestReplayPcap(t *testing.T) {
	request := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x02}
	response := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x07, 0x01, 0x03, 0x04, 0x00, 0x0A, 0x01, 0x02}
	capture := writeTestCapture(t, []capturedPacket{
		{49152, DefaultModbusPort, request},
		{DefaultModbusPort, 49152, nil}, // bare ACK
		{DefaultModbusPort, 49152, response[:5]},
		{DefaultModbusPort, 49152, response[5:]},
		{49153, 8080, []byte("GET / HTTP/1.1\r\n")},
	})

	var segs []Segment
	if err := ReplayPcap(capture, DefaultModbusPort, func(s Segment) { segs = append(segs, s) }); err != nil {
		t.Fatalf("ReplayPcap: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}
	if segs[0].Direction != modbus.DirectionRequest || !bytes.Equal(segs[0].Payload, request) {
		t.Errorf("segment 0: %+v", segs[0])
	}
	if segs[0].Src != "192.168.1.10:49152" || segs[0].Dst != "192.168.1.20:502" {
		t.Errorf("segment 0 endpoints %s -> %s", segs[0].Src, segs[0].Dst)
	}
	if segs[1].Direction != modbus.DirectionResponse || !segs[2].Timestamp.After(segs[1].Timestamp) {
		t.Errorf("segment 1/2: %+v %+v", segs[1], segs[2])
	}
}

func TestReplayPcapThroughMonitor(t *testing.T) {
	request := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x02}
	response := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x07, 0x01, 0x03, 0x04, 0x00, 0x0A, 0x01, 0x02}
	exception := []byte{0x00, 0x02, 0x00, 0x00, 0x00, 0x03, 0x01, 0x83, 0x02}
	capture := writeTestCapture(t, []capturedPacket{
		{49152, DefaultModbusPort, request},
		{DefaultModbusPort, 49152, response[:3]},
		{DefaultModbusPort, 49152, append(response[3:], exception...)},
	})

	var decoded []*modbus.Decoded
	cfg := modbus.DefaultMonitorConfig()
	cfg.Mode = modbus.ModeTCP
	cfg.Reassembler.IdleTimeout = time.Second
	m := modbus.NewMonitor(cfg, func(d *modbus.Decoded) { decoded = append(decoded, d) })
	defer m.Close()

	err := ReplayPcap(capture, DefaultModbusPort, func(s Segment) {
		if s.Direction == modbus.DirectionRequest {
			m.OnOutboundBytes(s.Payload)
		} else {
			m.OnBytes(s.Payload)
		}
	})
	if err != nil {
		t.Fatalf("ReplayPcap: %v", err)
	}
	m.Flush()

	if len(decoded) != 3 {
		t.Fatalf("got %d decodes, want 3", len(decoded))
	}
	if decoded[0].Direction != modbus.DirectionRequest {
		t.Errorf("first decode %+v", decoded[0])
	}
	regs, ok := decoded[1].Body.(*modbus.ReadRegistersResponse)
	if !ok || regs.RegisterCount != 2 || regs.Registers[1].Value != 0x0102 {
		t.Errorf("second decode %+v", decoded[1])
	}
	if decoded[2].Status != modbus.StatusException || decoded[2].TransactionID != 2 {
		t.Errorf("third decode %+v", decoded[2])
	}
}
