package apollo

import (
	"fmt"
)

// dmaBuffer is the contiguous sample region shared with the hardware. It is
// allocated once at device open and rebound to stream geometry on every
// Prepare, so no allocation happens on the streaming path.
type dmaBuffer struct {
	data    []byte
	busAddr uint32
}

func newDmaBuffer(size, busAddr uint32) dmaBuffer {
	return dmaBuffer{data: make([]byte, size), busAddr: busAddr}
}

// AvailFrames returns how many frames the caller can move right now: free
// ring space for playback, readable frames for capture. While running, the
// hardware position is refreshed first.
func (s *Stream) AvailFrames() (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case STREAM_STATE_PREPARED, STREAM_STATE_RUNNING, STREAM_STATE_STOPPED:
	default:
		return 0, s.stateError("avail query")
	}

	if s.state == STREAM_STATE_RUNNING {
		if _, err := s.syncHwPtrLocked(); err != nil {
			return 0, err
		}
	}

	return s.availLocked(), nil
}

// availLocked computes movable frames from the unwrapped pointers.
// Called with mu held.
func (s *Stream) availLocked() uint32 {
	if s.bufFrames == 0 {
		return 0
	}

	if s.dir == STREAM_PLAYBACK {
		inFlight := s.applPtr - s.hwPtr

		return s.bufFrames - uint32(inFlight)
	}

	return uint32(s.hwPtr - s.applPtr)
}

// WriteFrames copies interleaved playback frames into the ring at the
// application position and advances it. The call never blocks; it returns
// the number of bytes consumed, short when the ring has less free space
// than len(p). Pre-filling from Prepared, before the trigger, is the
// normal way to avoid a startup underrun. Partial frames are not written.
func (s *Stream) WriteFrames(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dir != STREAM_PLAYBACK {
		return 0, fmt.Errorf("frame write on %s stream: %w", s.dir, ErrInvalidParameter)
	}

	switch s.state {
	case STREAM_STATE_PREPARED, STREAM_STATE_RUNNING, STREAM_STATE_STOPPED:
	default:
		return 0, s.stateError("frame write")
	}

	if s.state == STREAM_STATE_RUNNING {
		if _, err := s.syncHwPtrLocked(); err != nil {
			return 0, err
		}
	}

	frames := uint32(len(p)) / s.frameBytes
	if avail := s.availLocked(); frames > avail {
		frames = avail
	}
	if frames == 0 {
		return 0, nil
	}

	s.copyToRing(p[:frames*s.frameBytes])
	s.applPtr += uint64(frames)

	return int(frames * s.frameBytes), nil
}

// ReadFrames copies captured frames out of the ring from the application
// position and advances it. The call never blocks; it returns the number
// of bytes produced, short when fewer frames have been captured than
// len(p) holds. Partial frames are not read.
func (s *Stream) ReadFrames(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dir != STREAM_CAPTURE {
		return 0, fmt.Errorf("frame read on %s stream: %w", s.dir, ErrInvalidParameter)
	}

	switch s.state {
	case STREAM_STATE_PREPARED, STREAM_STATE_RUNNING, STREAM_STATE_STOPPED:
	default:
		return 0, s.stateError("frame read")
	}

	if s.state == STREAM_STATE_RUNNING {
		if _, err := s.syncHwPtrLocked(); err != nil {
			return 0, err
		}
	}

	frames := uint32(len(p)) / s.frameBytes
	if avail := s.availLocked(); frames > avail {
		frames = avail
	}
	if frames == 0 {
		return 0, nil
	}

	s.copyFromRing(p[:frames*s.frameBytes])
	s.applPtr += uint64(frames)

	return int(frames * s.frameBytes), nil
}

// copyToRing writes p at the application offset, wrapping once at the ring
// end. Called with mu held and len(p) bounded by availLocked.
func (s *Stream) copyToRing(p []byte) {
	buf := s.dev.dma.data[:s.bufBytes]
	start := uint32(s.applPtr%uint64(s.bufFrames)) * s.frameBytes

	n := copy(buf[start:], p)
	if n < len(p) {
		copy(buf, p[n:])
	}
}

// copyFromRing reads into p from the application offset, wrapping once at
// the ring end. Called with mu held and len(p) bounded by availLocked.
func (s *Stream) copyFromRing(p []byte) {
	buf := s.dev.dma.data[:s.bufBytes]
	start := uint32(s.applPtr%uint64(s.bufFrames)) * s.frameBytes

	n := copy(p, buf[start:])
	if n < len(p) {
		copy(p[n:], buf)
	}
}
