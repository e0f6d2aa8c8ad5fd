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
	"fmt"
	"time"

	serial "github.com/hootrhino/goserial"
)

// SerialConfig holds serial port parameters.
type SerialConfig struct {
	Address  string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string // N, E or O
	// Timeout is the read timeout of the port. It only bounds how long a
	// read blocks; Pump keeps reading after a timeout.
	Timeout time.Duration
}

// DefaultSerialConfig returns 9600 8N1 with a 100ms read timeout.
func DefaultSerialConfig(address string) SerialConfig {
	return SerialConfig{
		Address:  address,
		BaudRate: 9600,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  100 * time.Millisecond,
	}
}

// Validate checks the serial parameters.
func (c SerialConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("transport: serial address is required")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("transport: invalid baud rate %d", c.BaudRate)
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("transport: invalid data bits %d", c.DataBits)
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("transport: invalid stop bits %d", c.StopBits)
	}
	switch c.Parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("transport: invalid parity %q", c.Parity)
	}
	return nil
}

// OpenSerial opens a serial port.
func OpenSerial(cfg SerialConfig) (*Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Address,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", cfg.Address, err)
	}
	return NewStream(port, 0, 0), nil
}
