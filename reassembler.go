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
	"sync"
	"time"
)

// DefaultIdleTimeout is the silence after which buffered bytes are treated
// as a complete frame. It sits just above the 3.5 character gap of slow
// serial lines and is short enough for TCP segment coalescing.
const DefaultIdleTimeout = 5 * time.Millisecond

// DefaultMaxBufferSize bounds the bytes a Reassembler accumulates for one
// frame. A legal ADU never exceeds MaxTCPFrameLength.
const DefaultMaxBufferSize = 512

// OverflowPolicy selects what happens when the buffer bound is exceeded.
type OverflowPolicy int

const (
	// OverflowFlush emits everything buffered as one frame.
	OverflowFlush OverflowPolicy = iota
	// OverflowDrop discards the buffered bytes.
	OverflowDrop
)

func (p OverflowPolicy) String() string {
	if p == OverflowDrop {
		return "drop"
	}
	return "flush"
}

// Timer is a pending idle timer.
type Timer interface {
	Stop() bool
}

// Scheduler arms idle timers. The zero ReassemblerConfig uses time.AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ReassemblerConfig holds Reassembler settings.
type ReassemblerConfig struct {
	IdleTimeout   time.Duration
	MaxBufferSize int
	Overflow      OverflowPolicy
	// UseMBAPLength frames TCP streams by the MBAP length field when the
	// header is plausible.
	UseMBAPLength bool
	Scheduler     Scheduler
}

// DefaultReassemblerConfig returns the default Reassembler configuration.
func DefaultReassemblerConfig() ReassemblerConfig {
	return ReassemblerConfig{
		IdleTimeout:   DefaultIdleTimeout,
		MaxBufferSize: DefaultMaxBufferSize,
		Overflow:      OverflowFlush,
		UseMBAPLength: true,
	}
}

// FrameHandler receives each complete frame. The slice belongs to the
// handler.
type FrameHandler func(frame []byte, mode TransportMode)

// ReassemblerStats counts emitted and discarded frames.
type ReassemblerStats struct {
	Frames       uint64
	ByPrediction uint64
	ByTimeout    uint64
	ByFlush      uint64
	Overflows    uint64
	Discarded    uint64 // bytes dropped by Close or OverflowDrop
}

type emitReason int

const (
	emitPrediction emitReason = iota
	emitTimeout
	emitFlush
	emitOverflow
)

var emitReasonNames = [...]string{"prediction", "timeout", "flush", "overflow"}

// Reassembler turns a byte stream without delimiters into discrete frames.
// A frame is emitted when the buffer reaches the length predicted from the
// outstanding request (or the MBAP header on TCP), or when the line has been
// idle for IdleTimeout. One Reassembler serves one connection.
//
// Frames reach the FrameHandler in arrival order. The handler runs with the
// delivery lock held and must not call back into the same Reassembler.
type Reassembler struct {
	mode    TransportMode
	cfg     ReassemblerConfig
	onFrame FrameHandler
	log     logSink

	emitMu sync.Mutex // serializes delivery, taken before mu
	mu     sync.Mutex

	buf      []byte
	expected int // predicted total frame length, 0 when unknown
	timer    Timer
	gen      uint64
	closed   bool
	stats    ReassemblerStats
}

// NewReassembler creates a Reassembler for one connection. Zero values in cfg
// fall back to the defaults.
func NewReassembler(mode TransportMode, cfg ReassemblerConfig, onFrame FrameHandler) *Reassembler {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = DefaultMaxBufferSize
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = realScheduler{}
	}
	if onFrame == nil {
		onFrame = func([]byte, TransportMode) {}
	}
	return &Reassembler{
		mode:    mode,
		cfg:     cfg,
		onFrame: onFrame,
		log:     logSink{name: "reassembler"},
		buf:     make([]byte, 0, 64),
	}
}

// SetLogger sets the destination for diagnostic lines. nil disables them.
func (r *Reassembler) SetLogger(w io.Writer) {
	r.log.set(w)
}

// Mode returns the transport mode the Reassembler frames for.
func (r *Reassembler) Mode() TransportMode { return r.mode }

type pendingFrame struct {
	data   []byte
	reason emitReason
}

// Feed appends a chunk received from the transport. Complete frames are
// delivered before Feed returns; a partial frame waits for more bytes or the
// idle timer.
func (r *Reassembler) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.buf = append(r.buf, chunk...)
	frames := r.collectLocked()
	r.mu.Unlock()

	r.deliver(frames)
}

// Expect records the request just sent so the length of its response can be
// predicted. Requests without a prediction rule leave framing to the idle
// timer.
func (r *Reassembler) Expect(req OutstandingRequest) {
	n, ok := PredictResponseLength(req, r.mode)
	r.mu.Lock()
	defer r.mu.Unlock()
	if !ok {
		r.expected = 0
		r.log.printf(LevelDebug, "no length prediction for %s quantity %d", req.Function, req.Quantity)
		return
	}
	r.expected = n
}

// ClearExpectation drops any outstanding prediction.
func (r *Reassembler) ClearExpectation() {
	r.mu.Lock()
	r.expected = 0
	r.mu.Unlock()
}

// Flush emits whatever is buffered as one frame.
func (r *Reassembler) Flush() {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	var frames []pendingFrame
	if !r.closed && len(r.buf) > 0 {
		frames = append(frames, pendingFrame{r.takeLocked(len(r.buf)), emitFlush})
		r.stats.ByFlush++
		r.stopTimerLocked()
	}
	r.mu.Unlock()

	r.deliver(frames)
}

// Close discards any partial frame and stops the idle timer. Bytes fed after
// Close are ignored.
func (r *Reassembler) Close() {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.stopTimerLocked()
	if n := len(r.buf); n > 0 {
		r.stats.Discarded += uint64(n)
		r.log.printf(LevelDebug, "closed with %d buffered bytes discarded", n)
	}
	r.buf = nil
	r.expected = 0
}

// Pending returns the number of buffered bytes.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Stats returns a snapshot of the counters.
func (r *Reassembler) Stats() ReassemblerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// collectLocked cuts every complete frame off the front of the buffer,
// applies the overflow bound and re-arms the idle timer for what remains.
func (r *Reassembler) collectLocked() []pendingFrame {
	var frames []pendingFrame
	for len(r.buf) > 0 {
		want, ok := r.predictLocked()
		if !ok || len(r.buf) < want {
			break
		}
		frames = append(frames, pendingFrame{r.takeLocked(want), emitPrediction})
		r.stats.ByPrediction++
	}

	if len(r.buf) > r.cfg.MaxBufferSize {
		r.stats.Overflows++
		n := len(r.buf)
		if r.cfg.Overflow == OverflowDrop {
			r.log.printf(LevelWarning, "buffer exceeded %d bytes, dropping %d bytes", r.cfg.MaxBufferSize, n)
			r.stats.Discarded += uint64(n)
			r.buf = r.buf[:0]
			r.expected = 0
		} else {
			r.log.printf(LevelWarning, "buffer exceeded %d bytes, flushing %d bytes", r.cfg.MaxBufferSize, n)
			frames = append(frames, pendingFrame{r.takeLocked(n), emitOverflow})
		}
	}

	if len(r.buf) > 0 {
		r.armTimerLocked()
	} else {
		r.stopTimerLocked()
	}
	return frames
}

// predictLocked returns the expected length of the frame at the front of
// the buffer.
func (r *Reassembler) predictLocked() (int, bool) {
	if r.mode == ModeTCP && r.cfg.UseMBAPLength {
		if n, ok := mbapFrameLength(r.buf); ok {
			return n, true
		}
	}
	if r.expected > 0 {
		return r.expected, true
	}
	return 0, false
}

// takeLocked removes the first n bytes and returns them as a fresh slice.
// Any emission consumes the outstanding prediction.
func (r *Reassembler) takeLocked(n int) []byte {
	frame := make([]byte, n)
	copy(frame, r.buf[:n])
	r.buf = append(r.buf[:0], r.buf[n:]...)
	r.expected = 0
	r.stats.Frames++
	return frame
}

func (r *Reassembler) armTimerLocked() {
	r.stopTimerLocked()
	gen := r.gen
	r.timer = r.cfg.Scheduler.AfterFunc(r.cfg.IdleTimeout, func() { r.onIdle(gen) })
}

// stopTimerLocked cancels the armed timer. Bumping the generation makes a
// callback that already started a no-op.
func (r *Reassembler) stopTimerLocked() {
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Reassembler) onIdle(gen uint64) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	if r.closed || gen != r.gen || len(r.buf) == 0 {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	r.gen++
	frames := []pendingFrame{{r.takeLocked(len(r.buf)), emitTimeout}}
	r.stats.ByTimeout++
	r.mu.Unlock()

	r.deliver(frames)
}

func (r *Reassembler) deliver(frames []pendingFrame) {
	for _, f := range frames {
		r.log.printf(LevelDebug, "%s frame by %s: % X", r.mode, emitReasonNames[f.reason], f.data)
		r.onFrame(f.data, r.mode)
	}
}
