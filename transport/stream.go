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

// Package transport connects byte streams (serial lines, TCP sockets and
// packet captures) to the frame reassembler.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultReadBufferSize is the size of one read from the underlying
// connection.
const DefaultReadBufferSize = 1024

// ErrClosed is returned by WriteRaw after Close.
var ErrClosed = errors.New("transport: stream closed")

// Stream carries arbitrary bytes over a serial port or a network
// connection. It does no framing: reads are handed on as they arrive.
type Stream struct {
	conn         io.ReadWriteCloser
	readTimeout  time.Duration
	writeTimeout time.Duration
	bufSize      int
	mu           sync.RWMutex
	wmu          sync.Mutex
	closed       bool
}

// NewStream wraps conn. Timeouts apply to net.Conn only; zero disables
// them.
func NewStream(conn io.ReadWriteCloser, readTimeout, writeTimeout time.Duration) *Stream {
	return &Stream{
		conn:         conn,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		bufSize:      DefaultReadBufferSize,
	}
}

// WriteRaw writes raw bytes to the underlying connection.
func (s *Stream) WriteRaw(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("transport: cannot write empty data")
	}
	s.mu.RLock()
	closed, conn, timeout := s.closed, s.conn, s.writeTimeout
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if c, ok := conn.(net.Conn); ok && timeout > 0 {
		_ = c.SetWriteDeadline(time.Now().Add(timeout))
		defer c.SetWriteDeadline(time.Time{})
	}
	n, err := conn.Write(data)
	if err != nil {
		return fmt.Errorf("transport: write failed after %d bytes: %w", n, err)
	}
	if n != len(data) {
		return fmt.Errorf("transport: partial write: expected %d bytes, wrote %d", len(data), n)
	}
	return nil
}

// Pump reads until the connection ends or ctx is cancelled and passes every
// chunk to onBytes. Read timeouts are not errors. A clean end of stream
// returns nil; cancellation closes the stream and returns ctx.Err().
func (s *Stream) Pump(ctx context.Context, onBytes func([]byte)) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	buf := make([]byte, s.bufSize)
	for {
		s.mu.RLock()
		closed, conn, timeout := s.closed, s.conn, s.readTimeout
		s.mu.RUnlock()
		if closed {
			if err := ctx.Err(); err != nil {
				return err
			}
			return nil
		}
		if c, ok := conn.(net.Conn); ok && timeout > 0 {
			_ = c.SetReadDeadline(time.Now().Add(timeout))
		}

		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onBytes(chunk)
		}
		switch {
		case err == nil:
		case isTimeout(err):
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, io.EOF), s.IsClosed():
			return nil
		default:
			return fmt.Errorf("transport: read failed: %w", err)
		}
	}
}

// isTimeout reports read deadlines. Serial drivers report their read
// timeout as a plain error value.
func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// Close closes the underlying connection. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// IsClosed reports whether Close has been called.
func (s *Stream) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// SetReadTimeout sets the read timeout for the stream.
func (s *Stream) SetReadTimeout(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readTimeout = timeout
}

// SetWriteTimeout sets the write timeout for the stream.
func (s *Stream) SetWriteTimeout(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeTimeout = timeout
}

// SetReadBufferSize changes the size of a single read.
func (s *Stream) SetReadBufferSize(n int) {
	if n <= 0 {
		n = DefaultReadBufferSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bufSize = n
}
