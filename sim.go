package apollo

import (
	"errors"
	"sync"
	"time"

	"github.com/smallnest/ringbuffer"
)

// SimConfig adjusts the simulated device's timing and fault behavior.
// The zero value models a healthy device that completes everything
// immediately.
type SimConfig struct {
	// ResetDelay is the time between a reset command and the ready bit.
	ResetDelay time.Duration
	// CommandDelay is the time before a submitted command completes.
	CommandDelay time.Duration
	// StopDelay is the time a DMA stop takes to drain before the engine
	// reports inactive.
	StopDelay time.Duration

	// SilentReset makes the device never report ready after a reset.
	SilentReset bool
	// DropCommands makes submitted commands never complete.
	DropCommands bool
	// ManualInterrupts disables the interrupt channel so tests can invoke
	// dispatch directly with a chosen status.
	ManualInterrupts bool

	// FeedCapacity sets the capture feed ring capacity in bytes. Zero
	// disables the feed; the traversed window is then left untouched, which
	// makes capture observe whatever playback wrote (loopback).
	FeedCapacity int
}

// RegWrite records one register store observed by the simulated device.
type RegWrite struct {
	Offset uint32
	Value  uint32
}

// SimDevice emulates the Apollo register file in host memory: commands,
// DMA trigger, position advance and interrupt delivery behave the way the
// engine expects from hardware. It backs the test suite and the daemon's
// loopback mode.
type SimDevice struct {
	mu   sync.Mutex
	cfg  SimConfig
	regs [APOLLO_REG_EXTENT / 4]uint32

	closed    bool
	dmaActive bool
	pos       uint32 // hardware position in bytes within the DMA window

	buf  []byte                 // host view of the DMA window
	feed *ringbuffer.RingBuffer // external capture source

	irq    chan struct{}
	writes []RegWrite // register store journal, nil while not recording
}

// NewSimDevice creates a simulated device. A nil cfg selects the zero-value
// behavior.
func NewSimDevice(cfg *SimConfig) *SimDevice {
	s := &SimDevice{
		irq: make(chan struct{}, 16),
	}
	if cfg != nil {
		s.cfg = *cfg
	}

	if s.cfg.FeedCapacity > 0 {
		s.feed = ringbuffer.New(s.cfg.FeedCapacity)
	}

	return s
}

// Interrupts returns the device signal channel serviced by the engine.
// It returns nil when the device was configured with ManualInterrupts.
func (s *SimDevice) Interrupts() <-chan struct{} {
	if s.cfg.ManualInterrupts {
		return nil
	}

	return s.irq
}

// AttachDMA gives the device a host view of the DMA window so simulated
// transfers can move sample data.
func (s *SimDevice) AttachDMA(buf []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = buf
}

// ReadRegister performs a 32-bit load from the simulated register file.
func (s *SimDevice) ReadRegister(offset uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrResourceGone
	}
	if offset%4 != 0 || offset >= APOLLO_REG_EXTENT {
		return 0, ErrInvalidParameter
	}

	if offset == APOLLO_REG_DMA_ADDR && s.dmaActive {
		// While the engine runs, this register reports the current
		// hardware position instead of the programmed base.
		return s.regs[APOLLO_REG_DMA_ADDR/4] + s.pos, nil
	}

	return s.regs[offset/4], nil
}

// WriteRegister performs a 32-bit store to the simulated register file and
// applies the side effects the real device would have.
func (s *SimDevice) WriteRegister(offset uint32, value uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrResourceGone
	}
	if offset%4 != 0 || offset >= APOLLO_REG_EXTENT {
		return ErrInvalidParameter
	}

	if s.writes != nil {
		s.writes = append(s.writes, RegWrite{Offset: offset, Value: value})
	}

	switch offset {
	case APOLLO_REG_CONTROL:
		s.regs[offset/4] = value
		s.command(value)
	case APOLLO_REG_STATUS:
		// Write-one-to-clear acknowledge for the ready bit. The running
		// bit is level state owned by the DMA engine, and the error bit
		// stays latched until a reset, so callers woken after a fault
		// still observe it.
		s.regs[offset/4] &^= value & APOLLO_STATUS_READY
	case APOLLO_REG_DMA_CONTROL:
		s.regs[offset/4] = value
		s.dmaCommand(value)
	default:
		s.regs[offset/4] = value
	}

	return nil
}

// command processes an opcode written to the control register.
// Called with the lock held.
func (s *SimDevice) command(opcode uint32) {
	if opcode == APOLLO_CMD_RESET {
		s.regs[APOLLO_REG_STATUS/4] = 0
		s.regs[APOLLO_REG_SAMPLE_RATE/4] = 0
		s.regs[APOLLO_REG_FORMAT/4] = 0
		s.regs[APOLLO_REG_DMA_ADDR/4] = 0
		s.regs[APOLLO_REG_DMA_SIZE/4] = 0
		s.dmaActive = false
		s.pos = 0

		if s.cfg.SilentReset {
			return
		}

		s.after(s.cfg.ResetDelay, func() {
			s.regs[APOLLO_REG_STATUS/4] |= APOLLO_STATUS_READY
		})

		return
	}

	if s.cfg.DropCommands {
		return
	}

	s.after(s.cfg.CommandDelay, func() {
		s.regs[APOLLO_REG_STATUS/4] |= APOLLO_STATUS_READY
		s.raiseIRQ()
	})
}

// dmaCommand processes a start/stop written to the DMA control register.
// Called with the lock held.
func (s *SimDevice) dmaCommand(cmd uint32) {
	switch cmd {
	case APOLLO_CMD_START:
		if !s.dmaActive {
			s.dmaActive = true
			s.pos = 0
		}
		s.regs[APOLLO_REG_STATUS/4] |= APOLLO_STATUS_RUNNING
	case APOLLO_CMD_STOP:
		s.after(s.cfg.StopDelay, func() {
			s.dmaActive = false
			s.regs[APOLLO_REG_STATUS/4] &^= APOLLO_STATUS_RUNNING
		})
	}
}

// after runs fn with the lock held, immediately for a zero delay.
func (s *SimDevice) after(d time.Duration, fn func()) {
	if d == 0 {
		fn()

		return
	}

	time.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if !s.closed {
			fn()
		}
	})
}

// raiseIRQ signals the interrupt channel without blocking; coalesced edges
// are fine because dispatch re-reads status.
func (s *SimDevice) raiseIRQ() {
	select {
	case s.irq <- struct{}{}:
	default:
	}
}

// Advance moves the hardware position by n bytes, wrapping within the
// programmed DMA size, then latches the ready bit and signals an interrupt.
// When a capture feed is configured, the traversed window is filled from it,
// with silence padding an empty feed.
func (s *SimDevice) Advance(n uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.dmaActive {
		return
	}

	size := s.regs[APOLLO_REG_DMA_SIZE/4]
	if size == 0 {
		return
	}

	s.fillWindow(s.pos%size, n, size)
	s.pos = (s.pos + n) % size
	s.regs[APOLLO_REG_STATUS/4] |= APOLLO_STATUS_READY
	s.raiseIRQ()
}

// fillWindow overwrites the traversed [start, start+n) window of the DMA
// buffer from the capture feed. Called with the lock held.
func (s *SimDevice) fillWindow(start, n, size uint32) {
	if s.feed == nil || s.buf == nil {
		return
	}
	if n > size {
		n = size
	}
	if int(size) > len(s.buf) {
		return
	}

	first := n
	if max := size - start; first > max {
		first = max
	}

	s.feedInto(s.buf[start : start+first])
	if n > first {
		s.feedInto(s.buf[:n-first])
	}
}

// feedInto fills dst from the capture feed, zeroing whatever the feed
// cannot supply. Called with the lock held.
func (s *SimDevice) feedInto(dst []byte) {
	n, err := s.feed.Read(dst)
	if err != nil {
		n = 0
	}
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// FeedCapture queues external sample bytes for the capture path. It returns
// the number of bytes accepted; a full feed accepts fewer than len(p).
func (s *SimDevice) FeedCapture(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrResourceGone
	}
	if s.feed == nil {
		return 0, ErrInvalidParameter
	}

	n, err := s.feed.Write(p)
	if errors.Is(err, ringbuffer.ErrIsFull) {
		return n, nil
	}

	return n, err
}

// SignalReady latches the ready status bit and signals an interrupt.
func (s *SimDevice) SignalReady() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.regs[APOLLO_REG_STATUS/4] |= APOLLO_STATUS_READY
	s.raiseIRQ()
}

// InjectError latches the error status bit and signals an interrupt.
func (s *SimDevice) InjectError() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.regs[APOLLO_REG_STATUS/4] |= APOLLO_STATUS_ERROR
	s.raiseIRQ()
}

// DMAActive reports whether the simulated DMA engine is moving data.
func (s *SimDevice) DMAActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.dmaActive
}

// RecordWrites starts or stops journaling of register stores.
func (s *SimDevice) RecordWrites(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if on {
		s.writes = []RegWrite{}
	} else {
		s.writes = nil
	}
}

// Writes returns a copy of the journaled register stores.
func (s *SimDevice) Writes() []RegWrite {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RegWrite, len(s.writes))
	copy(out, s.writes)

	return out
}

// Close revokes the simulated register file. Accesses after Close fail with
// ErrResourceGone.
func (s *SimDevice) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.buf = nil

	return nil
}
