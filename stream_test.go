package apollo_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apollo "github.com/bluebillshtml/apollodriversarchlinux"
)

func TestStreamDefaults(t *testing.T) {
	cfg := apollo.DefaultStreamConfig()

	assert.Equal(t, uint32(48000), cfg.Rate)
	assert.Equal(t, apollo.APOLLO_FORMAT_S32_LE, cfg.Format)
	assert.Equal(t, uint32(2), cfg.Channels)
	assert.Equal(t, uint32(1024), cfg.PeriodSize)
	assert.Equal(t, uint32(4), cfg.PeriodCount)
}

func TestStreamStateLegality(t *testing.T) {
	dev, _ := newTestDevice(t, nil)
	s := dev.Playback()

	// Everything except Open is rejected while Closed.
	assert.ErrorIs(t, s.Start(), apollo.ErrInvalidParameter)
	assert.ErrorIs(t, s.Prepare(), apollo.ErrInvalidParameter)
	assert.ErrorIs(t, s.Stop(), apollo.ErrInvalidParameter)
	assert.ErrorIs(t, s.Free(), apollo.ErrInvalidParameter)
	_, err := s.Pointer()
	assert.ErrorIs(t, err, apollo.ErrInvalidParameter)

	require.NoError(t, s.Open())
	assert.Equal(t, apollo.STREAM_STATE_OPEN, s.State())
	assert.ErrorIs(t, s.Open(), apollo.ErrInvalidParameter, "Double open should fail")

	// Start needs a prepared stream, not just an open or configured one.
	assert.ErrorIs(t, s.Start(), apollo.ErrInvalidParameter)
	require.NoError(t, s.Configure(apollo.DefaultStreamConfig()))
	assert.Equal(t, apollo.STREAM_STATE_SETUP, s.State())
	assert.ErrorIs(t, s.Start(), apollo.ErrInvalidParameter)

	require.NoError(t, s.Prepare())
	assert.Equal(t, apollo.STREAM_STATE_PREPARED, s.State())

	// Configure may renegotiate a prepared stream.
	require.NoError(t, s.Configure(apollo.DefaultStreamConfig()))
	require.NoError(t, s.Prepare())

	require.NoError(t, s.Start())
	assert.Equal(t, apollo.STREAM_STATE_RUNNING, s.State())
	assert.ErrorIs(t, s.Configure(apollo.DefaultStreamConfig()), apollo.ErrInvalidParameter,
		"Configure while running should fail")
	assert.ErrorIs(t, s.Prepare(), apollo.ErrInvalidParameter, "Prepare while running should fail")

	require.NoError(t, s.Stop())
	assert.Equal(t, apollo.STREAM_STATE_STOPPED, s.State())
	require.NoError(t, s.Stop(), "Stop from Stopped is a no-op")

	// Stopped allows both another Start and a fresh Prepare.
	require.NoError(t, s.Prepare())
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())

	require.NoError(t, s.Close())
	assert.Equal(t, apollo.STREAM_STATE_CLOSED, s.State())
	require.NoError(t, s.Close(), "Close is idempotent")
}

func TestStreamConfigureValidation(t *testing.T) {
	dev, _ := newTestDevice(t, nil)
	s := dev.Capture()
	require.NoError(t, s.Open())

	base := apollo.DefaultStreamConfig()

	testCases := map[string]func(*apollo.StreamConfig){
		"UnsupportedRate":    func(c *apollo.StreamConfig) { c.Rate = 11025 },
		"UnsupportedFormat":  func(c *apollo.StreamConfig) { c.Format = apollo.Format(7) },
		"TooFewChannels":     func(c *apollo.StreamConfig) { c.Channels = 1 },
		"TooManyChannels":    func(c *apollo.StreamConfig) { c.Channels = 9 },
		"PeriodTooSmall":     func(c *apollo.StreamConfig) { c.Format = apollo.APOLLO_FORMAT_S16_LE; c.PeriodSize = 8 },
		"PeriodTooLarge":     func(c *apollo.StreamConfig) { c.Channels = 8; c.PeriodSize = 32768 },
		"TooFewPeriods":      func(c *apollo.StreamConfig) { c.PeriodCount = 1 },
		"TooManyPeriods":     func(c *apollo.StreamConfig) { c.PeriodCount = 64 },
		"BufferOverCapacity": func(c *apollo.StreamConfig) { c.PeriodSize = 16384; c.PeriodCount = 16 },
	}

	for name, mutate := range testCases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)

			err := s.Configure(cfg)
			assert.ErrorIs(t, err, apollo.ErrInvalidParameter)

			// A rejected configuration leaves the stored one untouched.
			assert.Equal(t, base, s.Config())
			assert.Equal(t, apollo.STREAM_STATE_OPEN, s.State())
		})
	}
}

func TestStreamConfigureZeroPeriodsSelectDefaults(t *testing.T) {
	dev, _ := newTestDevice(t, nil)
	s := dev.Playback()
	require.NoError(t, s.Open())

	require.NoError(t, s.Configure(apollo.StreamConfig{
		Rate:     96000,
		Format:   apollo.APOLLO_FORMAT_S24_3LE,
		Channels: 4,
	}))

	cfg := s.Config()
	assert.Equal(t, uint32(1024), cfg.PeriodSize)
	assert.Equal(t, uint32(4), cfg.PeriodCount)
	assert.Equal(t, uint32(96000), cfg.Rate)
}

func TestStreamPrepareIdempotent(t *testing.T) {
	for _, format := range apollo.DefaultCapabilities().Formats {
		t.Run(apollo.FormatNames[format], func(t *testing.T) {
			dev, sim := newTestDevice(t, nil)
			s := dev.Playback()
			require.NoError(t, s.Open())
			require.NoError(t, s.Configure(apollo.StreamConfig{
				Rate: 96000, Format: format, Channels: 2,
				PeriodSize: 1024, PeriodCount: 4,
			}))

			sim.RecordWrites(true)
			require.NoError(t, s.Prepare())
			first := sim.Writes()

			sim.RecordWrites(true)
			require.NoError(t, s.Prepare())
			second := sim.Writes()

			require.NotEmpty(t, first)
			assert.Equal(t, first, second, "Repeated Prepare must reproduce identical register writes")
		})
	}
}

func TestStreamPointerAdvance(t *testing.T) {
	dev, sim := newTestDevice(t, nil)

	s := preparedStream(t, dev, apollo.STREAM_PLAYBACK, nil)
	require.NoError(t, s.Start())

	// Default config is S32LE stereo, 8 bytes per frame.
	for _, want := range []uint32{256, 512, 768} {
		sim.Advance(256 * 8)

		pos, err := s.Pointer()
		require.NoError(t, err)
		assert.Equal(t, want, pos)
	}
}

func TestStreamPointerWrapsModuloBuffer(t *testing.T) {
	dev, sim := newTestDevice(t, nil)

	s := preparedStream(t, dev, apollo.STREAM_PLAYBACK, nil)
	require.NoError(t, s.Start())

	bufFrames := s.BufferFrames()
	require.Equal(t, uint32(4096), bufFrames)

	// Advance by 3000 frames at a time; offsets must follow the injected
	// sequence modulo the ring capacity.
	last := uint32(0)
	for i := 1; i <= 4; i++ {
		sim.Advance(3000 * 8)

		pos, err := s.Pointer()
		require.NoError(t, err)
		assert.Equal(t, (3000*uint32(i))%bufFrames, pos)

		// The per-query delta never exceeds the injected advance.
		delta := (pos + bufFrames - last) % bufFrames
		assert.Equal(t, uint32(3000), delta)
		last = pos
	}
}

func TestStreamPointerValidWhileStopped(t *testing.T) {
	dev, sim := newTestDevice(t, nil)

	s := preparedStream(t, dev, apollo.STREAM_PLAYBACK, nil)

	pos, err := s.Pointer()
	require.NoError(t, err, "Pointer is valid in Prepared")
	assert.Zero(t, pos)

	require.NoError(t, s.Start())
	sim.Advance(256 * 8)
	require.NoError(t, s.Stop())

	_, err = s.Pointer()
	assert.NoError(t, err, "Pointer is valid in Stopped")
}

func TestStreamStopThenCloseWaitsForDMA(t *testing.T) {
	dev, sim := newTestDevice(t, &apollo.SimConfig{StopDelay: 50 * time.Millisecond})

	s := preparedStream(t, dev, apollo.STREAM_PLAYBACK, nil)
	require.NoError(t, s.Start())
	require.True(t, sim.DMAActive())

	start := time.Now()
	require.NoError(t, s.Stop())
	require.NoError(t, s.Close())
	elapsed := time.Since(start)

	assert.False(t, sim.DMAActive(), "Close must not return while DMA is active")
	assert.GreaterOrEqual(t, elapsed, 45*time.Millisecond, "Close returned before the engine drained")
}

func TestStreamCloseImmediateWhenDMAIdle(t *testing.T) {
	dev, sim := newTestDevice(t, nil)

	s := preparedStream(t, dev, apollo.STREAM_PLAYBACK, nil)
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	require.False(t, sim.DMAActive())

	start := time.Now()
	require.NoError(t, s.Close())

	assert.Less(t, time.Since(start), 20*time.Millisecond, "Close after a drained Stop should not wait")
}

func TestStreamFreeWhileRunningStopsFirst(t *testing.T) {
	dev, sim := newTestDevice(t, nil)

	s := preparedStream(t, dev, apollo.STREAM_CAPTURE, nil)
	require.NoError(t, s.Start())
	require.True(t, sim.DMAActive())

	require.NoError(t, s.Free())
	assert.Equal(t, apollo.STREAM_STATE_OPEN, s.State())
	assert.False(t, sim.DMAActive(), "Free must stop the engine before dropping the binding")
}

func TestStreamSharedEngineTriggers(t *testing.T) {
	dev, sim := newTestDevice(t, nil)

	pb := preparedStream(t, dev, apollo.STREAM_PLAYBACK, nil)
	rec := preparedStream(t, dev, apollo.STREAM_CAPTURE, nil)

	sim.RecordWrites(true)

	require.NoError(t, pb.Start())
	require.NoError(t, rec.Start())
	assert.True(t, dev.Running())

	require.NoError(t, pb.Stop())
	assert.True(t, sim.DMAActive(), "Engine must keep running for the other direction")
	assert.True(t, dev.Running())

	require.NoError(t, rec.Stop())
	assert.False(t, dev.Running())

	var triggers []uint32
	for _, w := range sim.Writes() {
		if w.Offset == apollo.APOLLO_REG_DMA_CONTROL {
			triggers = append(triggers, w.Value)
		}
	}

	// One start for the first direction in, one stop for the last one out.
	assert.Equal(t, []uint32{apollo.APOLLO_CMD_START, apollo.APOLLO_CMD_STOP}, triggers)
}

func TestStreamCloseLeavesOtherDirectionRunning(t *testing.T) {
	dev, sim := newTestDevice(t, nil)

	pb := preparedStream(t, dev, apollo.STREAM_PLAYBACK, nil)
	rec := preparedStream(t, dev, apollo.STREAM_CAPTURE, nil)

	require.NoError(t, pb.Start())
	require.NoError(t, rec.Start())

	start := time.Now()
	require.NoError(t, rec.Close())
	assert.Less(t, time.Since(start), 20*time.Millisecond,
		"Closing one direction must not wait on the engine the other still uses")

	assert.True(t, sim.DMAActive())
	assert.Equal(t, apollo.STREAM_STATE_RUNNING, pb.State())

	require.NoError(t, pb.Close())
	assert.False(t, sim.DMAActive())
}

func TestStreamGetters(t *testing.T) {
	dev, _ := newTestDevice(t, nil)

	s := preparedStream(t, dev, apollo.STREAM_PLAYBACK, &apollo.StreamConfig{
		Rate:        96000,
		Format:      apollo.APOLLO_FORMAT_S16_LE,
		Channels:    4,
		PeriodSize:  960,
		PeriodCount: 8,
	})

	assert.Equal(t, apollo.STREAM_PLAYBACK, s.Direction())
	assert.Equal(t, uint32(8), s.FrameSize())
	assert.Equal(t, uint32(960*8), s.BufferFrames())
	assert.Equal(t, 10*time.Millisecond, s.PeriodTime())
	assert.Zero(t, s.Xruns())
}
