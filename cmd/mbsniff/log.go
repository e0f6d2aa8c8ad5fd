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

package main

import (
	"strings"

	"github.com/rs/zerolog"

	modbus "github.com/hootrhino/mbinspect"
)

// frameLogger logs one event per decoded frame. The full summary is
// attached at debug level.
func frameLogger(logger zerolog.Logger) modbus.DecodedHandler {
	return func(d *modbus.Decoded) {
		var ev *zerolog.Event
		switch {
		case !d.Valid() || d.Status == modbus.StatusInvalidFrame:
			ev = logger.Warn()
		case d.Status == modbus.StatusException:
			ev = logger.Warn()
		default:
			ev = logger.Info()
		}
		ev = ev.Str("dir", d.Direction.String()).
			Uint8("unit", d.UnitID).
			Str("func", d.Function.String()).
			Str("status", d.Status.String()).
			Hex("pdu", d.PDU)
		if d.Mode == modbus.ModeTCP {
			ev = ev.Uint16("tx", d.TransactionID)
		}
		if addr, ok := d.Address(); ok {
			ev = ev.Uint16("addr", addr)
		}
		if qty, ok := d.Quantity(); ok {
			ev = ev.Uint16("qty", qty)
		}
		if d.Ambiguous {
			ev = ev.Bool("ambiguous", true)
		}
		if d.Unsupported {
			ev = ev.Bool("unsupported", true)
		}
		if ex, ok := d.Body.(*modbus.ExceptionBody); ok {
			ev = ev.Str("exception", ex.Message)
		}
		if !d.Valid() {
			ev = ev.Bool("valid", false)
		}
		if logger.GetLevel() <= zerolog.DebugLevel {
			ev = ev.Str("summary", d.Summary())
		}
		ev.Msg(d.Mode.String())
	}
}

// componentWriter forwards the level-prefixed lines of the codec components
// to zerolog.
type componentWriter struct {
	logger zerolog.Logger
}

var componentLevels = []struct {
	prefix string
	level  zerolog.Level
}{
	{"[DEBUG]", zerolog.DebugLevel},
	{"[INFO]", zerolog.InfoLevel},
	{"[WARNING]", zerolog.WarnLevel},
	{"[ERROR]", zerolog.ErrorLevel},
}

func (w componentWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	level := zerolog.InfoLevel
	for _, l := range componentLevels {
		if strings.HasPrefix(msg, l.prefix) {
			level = l.level
			msg = strings.TrimSpace(msg[len(l.prefix):])
			break
		}
	}
	w.logger.WithLevel(level).Msg(msg)
	return len(p), nil
}
