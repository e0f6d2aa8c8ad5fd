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
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// RawFormat selects how EncodeRaw interprets its text input.
type RawFormat int

const (
	RawHex RawFormat = iota
	RawASCII
)

// FreeFramePackager is a packager for arbitrary binary frames.
// It does not interpret the payload as Modbus.
type FreeFramePackager struct{}

// NewFreeFramePackager creates a new FreeFramePackager.
func NewFreeFramePackager() *FreeFramePackager {
	return &FreeFramePackager{}
}

// Pack returns a copy of the input data as the frame, optionally followed by
// a CRC16 for hand-built RTU payloads.
func (p *FreeFramePackager) Pack(data []byte, appendCRC bool) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data cannot be empty")
	}
	if appendCRC {
		return AppendCRC(data), nil
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	return frame, nil
}

// ParseHex parses hex text such as "01 03 00 00 00 0A", "01:03:00" or
// "0x01,0x03". Separators are spaces, tabs, commas, colons and dashes.
// Each token must be whole bytes.
func ParseHex(s string) ([]byte, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ' ', '\t', '\r', '\n', ',', ':', '-':
			return true
		}
		return false
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("modbus: %w: no bytes", ErrInvalidHex)
	}
	var out []byte
	for _, f := range fields {
		f = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
		if f == "" {
			return nil, fmt.Errorf("modbus: %w: prefix without digits", ErrInvalidHex)
		}
		if len(f)%2 != 0 {
			return nil, fmt.Errorf("modbus: %w: odd number of digits in %q", ErrInvalidHex, f)
		}
		b, err := hex.DecodeString(f)
		if err != nil {
			return nil, fmt.Errorf("modbus: %w: %v", ErrInvalidHex, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

// ParseASCII converts text to bytes. Escapes \r \n \t \\ and \xHH are
// recognised; other characters must be 7-bit ASCII.
func ParseASCII(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("modbus: %w: empty input", ErrInvalidASCII)
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x80 {
			return nil, fmt.Errorf("modbus: %w: non-ASCII byte 0x%02X at %d", ErrInvalidASCII, c, i)
		}
		if c != '\\' {
			out = append(out, c)
			continue
		}
		if i+1 >= len(s) {
			return nil, fmt.Errorf("modbus: %w: dangling escape", ErrInvalidASCII)
		}
		i++
		switch s[i] {
		case 'r':
			out = append(out, '\r')
		case 'n':
			out = append(out, '\n')
		case 't':
			out = append(out, '\t')
		case '\\':
			out = append(out, '\\')
		case 'x':
			if i+2 >= len(s) {
				return nil, fmt.Errorf("modbus: %w: short \\x escape", ErrInvalidASCII)
			}
			v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("modbus: %w: bad \\x escape %q", ErrInvalidASCII, s[i-1:i+3])
			}
			out = append(out, byte(v))
			i += 2
		default:
			return nil, fmt.Errorf("modbus: %w: unknown escape \\%c", ErrInvalidASCII, s[i])
		}
	}
	return out, nil
}

// EncodeRaw parses input in the given format and packs it as a free frame.
// Nothing is produced when the input is malformed.
func EncodeRaw(input string, format RawFormat, appendCRC bool) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case RawHex:
		data, err = ParseHex(input)
	case RawASCII:
		data, err = ParseASCII(input)
	default:
		return nil, fmt.Errorf("modbus: unknown raw format %d", format)
	}
	if err != nil {
		return nil, err
	}
	return NewFreeFramePackager().Pack(data, appendCRC)
}
