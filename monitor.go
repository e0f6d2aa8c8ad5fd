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
	"io"
)

// DecodedHandler receives every decoded frame of a Monitor.
type DecodedHandler func(*Decoded)

// MonitorConfig holds Monitor settings.
type MonitorConfig struct {
	Mode        TransportMode
	UnitID      uint8
	Reassembler ReassemblerConfig
	Decoder     DecoderConfig
	// InboundHint is the direction assumed for bytes passed to OnBytes.
	InboundHint Direction
}

// DefaultMonitorConfig returns the default Monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Mode:        ModeRTU,
		UnitID:      1,
		Reassembler: DefaultReassemblerConfig(),
		Decoder:     DefaultDecoderConfig(),
		InboundHint: DirectionResponse,
	}
}

// Monitor is the per-connection pipeline: requests go through the Encoder
// and set the length prediction, inbound bytes are reassembled into frames
// and every frame is decoded and handed to the sink.
//
// For passive capture both sides of the conversation can be fed: the
// client side through OnOutboundBytes, the server side through OnBytes.
type Monitor struct {
	mode     TransportMode
	hint     Direction
	encoder  *Encoder
	decoder  *Decoder
	inbound  *Reassembler
	outbound *Reassembler
	sink     DecodedHandler
	log      logSink
}

// NewMonitor creates a Monitor. sink may be nil.
func NewMonitor(cfg MonitorConfig, sink DecodedHandler) *Monitor {
	if sink == nil {
		sink = func(*Decoded) {}
	}
	if cfg.InboundHint == DirectionUnknown {
		cfg.InboundHint = DirectionResponse
	}
	m := &Monitor{
		mode:    cfg.Mode,
		hint:    cfg.InboundHint,
		encoder: NewEncoder(EncoderConfig{Mode: cfg.Mode, UnitID: cfg.UnitID}),
		decoder: NewDecoder(cfg.Decoder),
		sink:    sink,
		log:     logSink{name: "monitor"},
	}
	m.inbound = NewReassembler(cfg.Mode, cfg.Reassembler, m.onInboundFrame)
	m.outbound = NewReassembler(cfg.Mode, cfg.Reassembler, m.onOutboundFrame)
	return m
}

// SetLogger sets the destination for diagnostic lines of the Monitor and
// its reassemblers.
func (m *Monitor) SetLogger(w io.Writer) {
	m.log.set(w)
	m.inbound.SetLogger(w)
	m.outbound.SetLogger(w)
}

// Mode returns the transport mode.
func (m *Monitor) Mode() TransportMode { return m.mode }

// Encoder returns the Encoder used by Send.
func (m *Monitor) Encoder() *Encoder { return m.encoder }

// Send encodes req, records it as the outstanding request and reports the
// outgoing frame to the sink. The returned bytes are ready for the
// transport.
func (m *Monitor) Send(req Request) ([]byte, error) {
	frame, err := m.encoder.Encode(req)
	if err != nil {
		m.log.printf(LevelWarning, "encode %s: %v", req.Function, err)
		return nil, err
	}
	m.inbound.Expect(OutstandingFromRequest(req))
	m.sink(m.decoder.DecodeFrame(frame, m.mode, DirectionRequest))
	return frame, nil
}

// SendRaw passes bytes through untouched. No Modbus meaning is assumed, so
// any length prediction is dropped and the response is framed by the idle
// timer.
func (m *Monitor) SendRaw(data []byte) []byte {
	m.inbound.ClearExpectation()
	m.log.printf(LevelDebug, "raw send: % X", data)
	return append([]byte(nil), data...)
}

// OnBytes feeds bytes received from the peer.
func (m *Monitor) OnBytes(chunk []byte) {
	m.inbound.Feed(chunk)
}

// OnOutboundBytes feeds bytes observed travelling to the peer, as in a
// capture. Each decoded request sets the prediction for the inbound side.
func (m *Monitor) OnOutboundBytes(chunk []byte) {
	m.outbound.Feed(chunk)
}

// Flush emits what both sides have buffered.
func (m *Monitor) Flush() {
	m.outbound.Flush()
	m.inbound.Flush()
}

// Close discards partial frames and stops the idle timers.
func (m *Monitor) Close() {
	m.outbound.Close()
	m.inbound.Close()
}

// Stats returns the counters of the inbound reassembler.
func (m *Monitor) Stats() ReassemblerStats {
	return m.inbound.Stats()
}

func (m *Monitor) onInboundFrame(frame []byte, mode TransportMode) {
	d := m.decoder.DecodeFrame(frame, mode, m.hint)
	if !d.Valid() {
		m.log.printf(LevelWarning, "integrity check failed: % X", frame)
		if mode == ModeRTU {
			m.log.printf(LevelDebug, "frame dump:\n%s", NewRTUPackager().DumpFrame(frame))
		}
	}
	m.sink(d)
}

func (m *Monitor) onOutboundFrame(frame []byte, mode TransportMode) {
	d := m.decoder.DecodeFrame(frame, mode, DirectionRequest)
	req, ok := OutstandingFromFrame(frame, mode)
	if ok && d.Direction == DirectionRequest && d.Status == StatusOK {
		m.inbound.Expect(req)
	} else {
		m.inbound.ClearExpectation()
	}
	m.sink(d)
}
