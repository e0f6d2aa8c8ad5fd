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

// Command mbsniff frames, decodes and logs Modbus traffic from a serial
// line, a TCP connection or a pcap capture. With -script it also sends the
// requests of a CSV command script and decodes the replies.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	modbus "github.com/hootrhino/mbinspect"
	"github.com/hootrhino/mbinspect/transport"
)

type options struct {
	mode      string
	serial    string
	baud      int
	parity    string
	tcp       string
	pcap      string
	port      uint
	unit      uint
	script    string
	raw       string
	ascii     bool
	appendCRC bool
	fixCRC    bool
	interval  time.Duration
	poll      time.Duration
	merge     bool
	linger    time.Duration
	logLevel  string
	traceFile string
	idle      time.Duration
	maxBuffer int
	overflow  string
	strict    bool
}

func parseFlags(args []string) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("mbsniff", flag.ContinueOnError)
	fs.StringVar(&o.mode, "mode", "rtu", "framing: rtu or tcp (pcap implies tcp)")
	fs.StringVar(&o.serial, "serial", "", "serial device, e.g. /dev/ttyUSB0")
	fs.IntVar(&o.baud, "baud", 9600, "serial baud rate")
	fs.StringVar(&o.parity, "parity", "N", "serial parity: N, E or O")
	fs.StringVar(&o.tcp, "tcp", "", "Modbus TCP server, e.g. 192.168.1.20:502")
	fs.StringVar(&o.pcap, "pcap", "", "pcap capture to replay")
	fs.UintVar(&o.port, "port", transport.DefaultModbusPort, "Modbus TCP port in the capture")
	fs.UintVar(&o.unit, "unit", 1, "unit / device ID for sent requests")
	fs.StringVar(&o.script, "script", "", "CSV command script to send")
	fs.StringVar(&o.raw, "raw", "", "raw bytes to send once (hex, or text with -ascii)")
	fs.BoolVar(&o.ascii, "ascii", false, "treat -raw as text with \\r \\n \\t \\xHH escapes")
	fs.BoolVar(&o.appendCRC, "crc", false, "append a CRC16 to -raw bytes")
	fs.BoolVar(&o.fixCRC, "fix-crc", false, "recalculate the CRC16 trailer of a -raw RTU frame")
	fs.DurationVar(&o.interval, "interval", 100*time.Millisecond, "delay between script commands")
	fs.DurationVar(&o.poll, "poll", 0, "repeat the script at this interval until interrupted")
	fs.BoolVar(&o.merge, "merge", false, "merge adjacent script reads into fewer requests")
	fs.DurationVar(&o.linger, "linger", time.Second, "time to wait for replies after the last send")
	fs.StringVar(&o.logLevel, "log-level", "info", "debug, info, warn or error")
	fs.StringVar(&o.traceFile, "trace-file", "", "write framing and codec debug lines to this file")
	fs.DurationVar(&o.idle, "idle", modbus.DefaultIdleTimeout, "idle gap that ends a frame")
	fs.IntVar(&o.maxBuffer, "max-buffer", modbus.DefaultMaxBufferSize, "maximum bytes buffered for one frame")
	fs.StringVar(&o.overflow, "overflow", "flush", "when -max-buffer is exceeded: flush or drop")
	fs.BoolVar(&o.strict, "strict", false, "do not decode frames that fail CRC or MBAP checks")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	sources := 0
	for _, s := range []string{o.serial, o.tcp, o.pcap} {
		if s != "" {
			sources++
		}
	}
	if sources != 1 {
		return nil, errors.New("exactly one of -serial, -tcp or -pcap is required")
	}
	if o.pcap != "" {
		o.mode = "tcp"
		if o.script != "" || o.raw != "" {
			return nil, errors.New("-script and -raw cannot be used with -pcap")
		}
	}
	if o.poll > 0 && o.script == "" {
		return nil, errors.New("-poll requires -script")
	}
	if o.fixCRC && (o.appendCRC || !strings.EqualFold(o.mode, "rtu")) {
		return nil, errors.New("-fix-crc needs -mode rtu and cannot be combined with -crc")
	}
	if o.unit > 255 || (o.unit > 247 && strings.EqualFold(o.mode, "rtu")) {
		return nil, fmt.Errorf("invalid -unit %d", o.unit)
	}
	if o.overflow != "flush" && o.overflow != "drop" {
		return nil, fmt.Errorf("invalid -overflow %q", o.overflow)
	}
	return o, nil
}

func (o *options) monitorConfig() (modbus.MonitorConfig, error) {
	cfg := modbus.DefaultMonitorConfig()
	mode, err := modbus.ParseTransportMode(o.mode)
	if err != nil {
		return cfg, err
	}
	cfg.Mode = mode
	cfg.UnitID = uint8(o.unit)
	cfg.Reassembler.IdleTimeout = o.idle
	cfg.Reassembler.MaxBufferSize = o.maxBuffer
	if o.overflow == "drop" {
		cfg.Reassembler.Overflow = modbus.OverflowDrop
	}
	cfg.Decoder.Strict = o.strict
	return cfg, nil
}

func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), err
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "mbsniff:", err)
		os.Exit(2)
	}
	logger, err := newLogger(opts.logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mbsniff:", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("mbsniff failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, logger zerolog.Logger) error {
	cfg, err := opts.monitorConfig()
	if err != nil {
		return err
	}
	m := modbus.NewMonitor(cfg, frameLogger(logger))
	if opts.traceFile != "" {
		f, err := os.OpenFile(opts.traceFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		trace := modbus.NewSimpleLogger(f, modbus.LevelDebug, "mbsniff")
		trace.SetTimeFormat("2006-01-02 15:04:05.000")
		defer trace.Close()
		m.SetLogger(trace)
	} else {
		m.SetLogger(componentWriter{logger.With().Str("component", "modbus").Logger()})
	}
	defer func() {
		m.Close()
		s := m.Stats()
		logger.Info().
			Uint64("frames", s.Frames).
			Uint64("by_prediction", s.ByPrediction).
			Uint64("by_timeout", s.ByTimeout).
			Uint64("overflows", s.Overflows).
			Uint64("discarded_bytes", s.Discarded).
			Msg("done")
	}()

	if opts.pcap != "" {
		return replay(opts, m)
	}

	var stream *transport.Stream
	if opts.serial != "" {
		sc := transport.DefaultSerialConfig(opts.serial)
		sc.BaudRate = opts.baud
		sc.Parity = opts.parity
		stream, err = transport.OpenSerial(sc)
	} else {
		stream, err = transport.DialTCP(ctx, opts.tcp, 5*time.Second)
	}
	if err != nil {
		return err
	}
	defer stream.Close()
	logger.Info().Str("mode", cfg.Mode.String()).Msg("connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	pumpErr := make(chan error, 1)
	go func() { pumpErr <- stream.Pump(ctx, m.OnBytes) }()

	if opts.raw != "" {
		if err := sendRaw(opts, m, stream, logger); err != nil {
			return err
		}
	}
	if opts.script != "" {
		commands, err := loadScript(opts)
		if err != nil {
			return err
		}
		p := modbus.NewPoller(m, stream.WriteRaw, commands, modbus.PollerConfig{
			Interval: opts.poll,
			Gap:      opts.interval,
		})
		p.SetOnError(func(err error) { logger.Warn().Err(err).Msg("send failed") })
		if opts.poll > 0 {
			p.Start()
			defer p.Stop()
			return waitPump(ctx, pumpErr)
		}
		p.PollOnce()
	}
	if opts.script != "" || opts.raw != "" {
		select {
		case <-time.After(opts.linger):
		case <-ctx.Done():
		case err := <-pumpErr:
			return err
		}
		m.Flush()
		return nil
	}
	return waitPump(ctx, pumpErr)
}

func waitPump(ctx context.Context, pumpErr <-chan error) error {
	select {
	case err := <-pumpErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

func replay(opts *options, m *modbus.Monitor) error {
	f, err := os.Open(opts.pcap)
	if err != nil {
		return err
	}
	defer f.Close()
	err = transport.ReplayPcap(f, uint16(opts.port), func(s transport.Segment) {
		if s.Direction == modbus.DirectionRequest {
			m.OnOutboundBytes(s.Payload)
		} else {
			m.OnBytes(s.Payload)
		}
	})
	m.Flush()
	return err
}

func sendRaw(opts *options, m *modbus.Monitor, stream *transport.Stream, logger zerolog.Logger) error {
	data, err := rawBytes(opts)
	if err != nil {
		return err
	}
	if !opts.ascii {
		if err := checkRawFrame(m.Mode(), data); err != nil {
			logger.Warn().Err(err).Msg("raw bytes are not a valid frame, sending anyway")
		}
	}
	if err := stream.WriteRaw(m.SendRaw(data)); err != nil {
		return err
	}
	logger.Info().Hex("bytes", data).Msg("raw sent")
	return nil
}

func rawBytes(opts *options) ([]byte, error) {
	format := modbus.RawHex
	if opts.ascii {
		format = modbus.RawASCII
	}
	data, err := modbus.EncodeRaw(opts.raw, format, opts.appendCRC)
	if err != nil {
		return nil, err
	}
	if opts.fixCRC {
		return modbus.NewRTUPackager().RepairFrame(data)
	}
	return data, nil
}

// checkRawFrame reports why hand-built bytes would not be accepted as a
// Modbus frame of the given mode.
func checkRawFrame(mode modbus.TransportMode, data []byte) error {
	if mode == modbus.ModeTCP {
		return modbus.NewTCPPackager().ValidateFrame(data)
	}
	return modbus.NewRTUPackager().ValidateFrame(data)
}

func loadScript(opts *options) ([]modbus.Command, error) {
	f, err := os.Open(opts.script)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	commands, err := modbus.NewCommandCSVParser().ParseCSV(f)
	if err != nil {
		return nil, err
	}
	if opts.merge {
		commands = modbus.MergeReads(commands)
	}
	return commands, nil
}
