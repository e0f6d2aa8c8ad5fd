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
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// OnErrorFunc is a callback type for error reporting
type OnErrorFunc func(error)

// WriteFunc puts an encoded frame on the wire.
type WriteFunc func([]byte) error

// PollerConfig controls the polling cadence.
type PollerConfig struct {
	// Interval between the starts of two polling cycles.
	Interval time.Duration
	// Gap between two requests of one cycle. On a serial line it must be
	// long enough for the reply to arrive before the next request.
	Gap time.Duration
}

// DefaultPollerConfig polls once per second with 100ms between requests.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval: time.Second,
		Gap:      100 * time.Millisecond,
	}
}

// Poller sends a fixed command list through a Monitor at a regular
// interval. Replies are decoded by the Monitor as they arrive.
type Poller struct {
	monitor  *Monitor
	write    WriteFunc
	commands []Command
	cfg      PollerConfig
	onError  atomic.Value // OnErrorFunc
	cycles   atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewPoller creates a Poller. Commands are used in the given order.
func NewPoller(m *Monitor, write WriteFunc, commands []Command, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollerConfig().Interval
	}
	return &Poller{
		monitor:  m,
		write:    write,
		commands: append([]Command(nil), commands...),
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}
}

// SetOnError sets the callback for send errors.
func (p *Poller) SetOnError(fn OnErrorFunc) {
	p.onError.Store(fn)
}

// Cycles returns the number of completed polling cycles.
func (p *Poller) Cycles() uint64 { return p.cycles.Load() }

// Start runs the first cycle immediately and then one per interval.
func (p *Poller) Start() {
	p.wg.Add(1)
	go p.poll()
}

func (p *Poller) poll() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		p.PollOnce()
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
		}
	}
}

// PollOnce sends every command once. It returns the errors of the commands
// that could not be sent; the remaining commands are still sent.
func (p *Poller) PollOnce() []error {
	var errs []error
	for i, cmd := range p.commands {
		if i > 0 && p.cfg.Gap > 0 {
			select {
			case <-time.After(p.cfg.Gap):
			case <-p.stopCh:
				return errs
			}
		}
		if err := p.send(cmd); err != nil {
			errs = append(errs, err)
			if cb, ok := p.onError.Load().(OnErrorFunc); ok && cb != nil {
				cb(err)
			}
		}
	}
	p.cycles.Add(1)
	return errs
}

func (p *Poller) send(cmd Command) error {
	frame, err := p.monitor.Send(cmd.Request)
	if err != nil {
		return fmt.Errorf("modbus: poll %q: %w", cmd.Tag, err)
	}
	if err := p.write(frame); err != nil {
		return fmt.Errorf("modbus: poll %q: %w", cmd.Tag, err)
	}
	return nil
}

// Stop ends the polling loop and waits for it to return.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}
