package apollo

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// StreamConfig holds the negotiated parameters of one stream direction.
type StreamConfig struct {
	Rate        uint32
	Format      Format
	Channels    uint32
	PeriodSize  uint32 // Frames per period.
	PeriodCount uint32 // Periods in the ring buffer.
}

// DefaultStreamConfig returns the direction defaults installed by Open,
// matching the rate and format the device programs at init.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Rate:        48000,
		Format:      APOLLO_FORMAT_S32_LE,
		Channels:    2,
		PeriodSize:  1024,
		PeriodCount: 4,
	}
}

// Stream is one direction of the device audio path:
// Closed -> Open -> Setup -> Prepared -> Running <-> Stopped -> Closed.
// Trigger and pointer calls never block on I/O; configuration calls touch
// hardware only from Prepare onward.
type Stream struct {
	dev *Device
	dir Direction

	mu     sync.Mutex
	state  StreamState
	config StreamConfig

	// running mirrors Running for the interrupt path without taking mu;
	// the device-wide flag is the OR across both directions.
	running atomic.Bool

	frameBytes uint32
	bufFrames  uint32
	bufBytes   uint32

	hwPtr   uint64 // unwrapped hardware position in frames
	applPtr uint64 // unwrapped application position in frames
	xruns   int

	periodCb func()
}

func newStream(d *Device, dir Direction) *Stream {
	return &Stream{dev: d, dir: dir, state: STREAM_STATE_CLOSED}
}

// Direction returns the stream's data flow direction.
func (s *Stream) Direction() Direction {
	return s.dir
}

// State returns the current lifecycle state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Config returns a copy of the stream's current configuration.
func (s *Stream) Config() StreamConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.config
}

// FrameSize returns the size of one frame in bytes for the active
// configuration.
func (s *Stream) FrameSize() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return FrameBytes(s.config.Format, s.config.Channels)
}

// BufferFrames returns the negotiated ring capacity in frames.
func (s *Stream) BufferFrames() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.config.PeriodSize * s.config.PeriodCount
}

// PeriodTime returns the duration of a single period.
func (s *Stream) PeriodTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Rate == 0 {
		return 0
	}

	ns := (1e9 * float64(s.config.PeriodSize)) / float64(s.config.Rate)

	return time.Duration(ns)
}

// Xruns returns the number of underruns (playback) or overruns (capture)
// the copy path has absorbed since the last Prepare.
func (s *Stream) Xruns() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.xruns
}

// stateError reports an operation attempted from the wrong state.
// Called with mu held.
func (s *Stream) stateError(op string) error {
	return fmt.Errorf("%s %s in state %s: %w", op, s.dir, s.state, ErrInvalidParameter)
}

// Open attaches the stream context and installs the capability defaults for
// the direction. No hardware access.
func (s *Stream) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != STREAM_STATE_CLOSED {
		return s.stateError("open")
	}

	s.config = DefaultStreamConfig()
	s.state = STREAM_STATE_OPEN

	return nil
}

// Configure validates the requested parameters against the device
// capability descriptor and stores them. Zero period geometry selects the
// defaults. Hardware is untouched until Prepare, so parameters can be
// renegotiated freely before the stream runs. A rejected configuration
// leaves the stored one unchanged.
func (s *Stream) Configure(cfg StreamConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case STREAM_STATE_OPEN, STREAM_STATE_SETUP, STREAM_STATE_PREPARED:
	default:
		return s.stateError("configure")
	}

	if cfg.PeriodSize == 0 {
		cfg.PeriodSize = DefaultStreamConfig().PeriodSize
	}
	if cfg.PeriodCount == 0 {
		cfg.PeriodCount = DefaultStreamConfig().PeriodCount
	}

	caps := &s.dev.caps
	if !caps.SupportsFormat(cfg.Format) {
		return fmt.Errorf("unsupported format %d: %w", cfg.Format, ErrInvalidParameter)
	}
	if !caps.SupportsRate(cfg.Rate) {
		return fmt.Errorf("unsupported sample rate %d: %w", cfg.Rate, ErrInvalidParameter)
	}
	if cfg.Channels < caps.ChannelsMin || cfg.Channels > caps.ChannelsMax {
		return fmt.Errorf("unsupported channel count %d: %w", cfg.Channels, ErrInvalidParameter)
	}
	if cfg.PeriodCount < caps.PeriodsMin || cfg.PeriodCount > caps.PeriodsMax {
		return fmt.Errorf("period count %d outside %d..%d: %w",
			cfg.PeriodCount, caps.PeriodsMin, caps.PeriodsMax, ErrInvalidParameter)
	}

	periodBytes := cfg.PeriodSize * FrameBytes(cfg.Format, cfg.Channels)
	if periodBytes < caps.PeriodBytesMin || periodBytes > caps.PeriodBytesMax {
		return fmt.Errorf("period of %d bytes outside %d..%d: %w",
			periodBytes, caps.PeriodBytesMin, caps.PeriodBytesMax, ErrInvalidParameter)
	}
	if total := periodBytes * cfg.PeriodCount; total > caps.BufferBytesMax {
		return fmt.Errorf("buffer of %d bytes exceeds %d: %w",
			total, caps.BufferBytesMax, ErrInvalidParameter)
	}

	s.config = cfg
	s.state = STREAM_STATE_SETUP

	return nil
}

// Prepare programs the sample rate, format, DMA base address and DMA length
// registers from the negotiated configuration and resets the position
// accounting. Preparing again with the same configuration repeats the same
// register writes, so the call is idempotent.
func (s *Stream) Prepare() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case STREAM_STATE_SETUP, STREAM_STATE_PREPARED, STREAM_STATE_STOPPED:
	default:
		return s.stateError("prepare")
	}

	frameBytes := FrameBytes(s.config.Format, s.config.Channels)
	bufBytes := s.config.PeriodSize * s.config.PeriodCount * frameBytes

	d := s.dev
	if err := d.bus.WriteRegister(APOLLO_REG_SAMPLE_RATE, s.config.Rate); err != nil {
		return fmt.Errorf("prepare %s rate failed: %w", s.dir, err)
	}
	if err := d.bus.WriteRegister(APOLLO_REG_FORMAT, uint32(s.config.Format)); err != nil {
		return fmt.Errorf("prepare %s format failed: %w", s.dir, err)
	}
	if err := d.bus.WriteRegister(APOLLO_REG_DMA_ADDR, d.dma.busAddr); err != nil {
		return fmt.Errorf("prepare %s dma address failed: %w", s.dir, err)
	}
	if err := d.bus.WriteRegister(APOLLO_REG_DMA_SIZE, bufBytes); err != nil {
		return fmt.Errorf("prepare %s dma size failed: %w", s.dir, err)
	}

	s.frameBytes = frameBytes
	s.bufBytes = bufBytes
	s.bufFrames = s.config.PeriodSize * s.config.PeriodCount
	s.hwPtr = 0
	s.applPtr = 0
	s.xruns = 0
	s.state = STREAM_STATE_PREPARED

	return nil
}

// Start triggers DMA for this direction. The stream must be Prepared or
// Stopped. The call does not block; hardware begins moving data before it
// returns. Start and Stop are sequenced across both directions through one
// critical section because the device shares a single DMA engine.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case STREAM_STATE_PREPARED, STREAM_STATE_STOPPED:
	default:
		return s.stateError("start")
	}

	d := s.dev
	d.triggerMu.Lock()
	defer d.triggerMu.Unlock()

	s.running.Store(true)
	engineWasIdle := !d.running.Swap(true)

	if engineWasIdle {
		if err := d.bus.WriteRegister(APOLLO_REG_DMA_CONTROL, APOLLO_CMD_START); err != nil {
			s.running.Store(false)
			d.running.Store(d.otherRunning(s))

			return fmt.Errorf("start %s failed: %w", s.dir, err)
		}
	}

	s.state = STREAM_STATE_RUNNING

	return nil
}

// Stop halts DMA for this direction. Stop on a stream that is already
// Stopped is a no-op. While the other direction keeps running, the shared
// engine stays active and only this direction's accounting stops.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stopLocked()
}

func (s *Stream) stopLocked() error {
	switch s.state {
	case STREAM_STATE_STOPPED:
		return nil
	case STREAM_STATE_RUNNING:
	default:
		return s.stateError("stop")
	}

	d := s.dev
	d.triggerMu.Lock()
	defer d.triggerMu.Unlock()

	s.running.Store(false)
	other := d.otherRunning(s)
	d.running.Store(other)

	if !other {
		if err := d.bus.WriteRegister(APOLLO_REG_DMA_CONTROL, APOLLO_CMD_STOP); err != nil {
			return fmt.Errorf("stop %s failed: %w", s.dir, err)
		}

		// Read back so the stop is posted before any buffer release that
		// may follow.
		if _, err := d.bus.ReadRegister(APOLLO_REG_STATUS); err != nil {
			return fmt.Errorf("stop %s flush failed: %w", s.dir, err)
		}
	}

	s.state = STREAM_STATE_STOPPED

	return nil
}

// Free drops the negotiated parameter binding and returns the stream to
// Open. A running stream is stopped first and the DMA engine confirmed
// idle, so hardware can never touch a released binding.
func (s *Stream) Free() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case STREAM_STATE_CLOSED:
		return s.stateError("free")
	case STREAM_STATE_OPEN:
		return nil
	case STREAM_STATE_RUNNING:
		if err := s.stopLocked(); err != nil {
			return err
		}
		s.waitDMAIdle()
	}

	s.resetBinding()
	s.state = STREAM_STATE_OPEN

	return nil
}

// Close force-stops a running stream, confirms the DMA engine idle against
// the status register and releases the stream context. Close always
// succeeds.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == STREAM_STATE_CLOSED {
		return nil
	}

	if s.state == STREAM_STATE_RUNNING {
		_ = s.stopLocked()
	}
	s.waitDMAIdle()

	s.resetBinding()
	s.state = STREAM_STATE_CLOSED

	return nil
}

// resetBinding clears the buffer bookkeeping. Called with mu held.
func (s *Stream) resetBinding() {
	s.frameBytes = 0
	s.bufFrames = 0
	s.bufBytes = 0
	s.hwPtr = 0
	s.applPtr = 0
	s.periodCb = nil
}

// quiesce moves a running stream to Stopped without touching hardware.
// The suspend path writes the stop opcode itself after both directions are
// quiesced.
func (s *Stream) quiesce() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == STREAM_STATE_RUNNING {
		s.running.Store(false)
		s.state = STREAM_STATE_STOPPED
	}
}

// waitDMAIdle blocks until the status register stops reporting the DMA
// engine active. It returns immediately while the other direction
// legitimately keeps the engine running. This wait is the memory-safety
// boundary between a stop and any buffer release.
func (s *Stream) waitDMAIdle() {
	d := s.dev
	for !d.running.Load() {
		status, err := d.bus.ReadRegister(APOLLO_REG_STATUS)
		if err != nil || status&APOLLO_STATUS_RUNNING == 0 {
			return
		}

		time.Sleep(time.Millisecond)
	}
}

// Pointer reports the hardware position within the ring buffer in frames.
// It is valid while the stream is Prepared, Running or Stopped. The value
// is monotonically non-decreasing modulo the ring capacity over a Running
// lifetime and resets only on Prepare. A query racing a wraparound may lag
// by up to one period; callers tolerate that.
func (s *Stream) Pointer() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case STREAM_STATE_PREPARED, STREAM_STATE_RUNNING, STREAM_STATE_STOPPED:
	default:
		return 0, s.stateError("pointer query")
	}

	return s.syncHwPtrLocked()
}

// syncHwPtrLocked reads the hardware position register and returns the ring
// offset in frames. While running, the advance since the previous sync is
// folded into the unwrapped hardware pointer and over/underruns are snapped.
// Called with mu held.
func (s *Stream) syncHwPtrLocked() (uint32, error) {
	d := s.dev

	raw, err := d.bus.ReadRegister(APOLLO_REG_DMA_ADDR)
	if err != nil {
		return 0, fmt.Errorf("%s position read failed: %w", s.dir, err)
	}

	if s.bufBytes == 0 || s.frameBytes == 0 {
		return 0, nil
	}

	pos := (raw - d.dma.busAddr) % s.bufBytes / s.frameBytes

	if s.state == STREAM_STATE_RUNNING {
		last := uint32(s.hwPtr % uint64(s.bufFrames))
		s.hwPtr += uint64((pos + s.bufFrames - last) % s.bufFrames)

		if s.dir == STREAM_PLAYBACK {
			if s.hwPtr > s.applPtr {
				// Underrun: hardware consumed past the writer.
				s.xruns++
				s.applPtr = s.hwPtr
			}
		} else if s.hwPtr > s.applPtr+uint64(s.bufFrames) {
			// Overrun: the oldest captured frames were overwritten.
			s.xruns++
			s.applPtr = s.hwPtr - uint64(s.bufFrames)
		}
	}

	return pos, nil
}

// periodElapsed folds hardware progress into the pointer accounting and
// invokes the registered callback. Interrupt dispatch calls it once per
// observed ready bit on both directions; only a stream whose lifecycle is
// Running reacts, even when a fault in the same dispatch already dropped
// the running flags.
func (s *Stream) periodElapsed() {
	s.mu.Lock()
	if s.state != STREAM_STATE_RUNNING {
		s.mu.Unlock()

		return
	}

	_, _ = s.syncHwPtrLocked()
	cb := s.periodCb
	s.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// SetPeriodCallback registers fn to run after each completed period while
// the stream runs. fn is invoked from the interrupt path and must not
// block.
func (s *Stream) SetPeriodCallback(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.periodCb = fn
}
