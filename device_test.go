package apollo_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apollo "github.com/bluebillshtml/apollodriversarchlinux"
)

func TestOpenDeviceDefaults(t *testing.T) {
	dev, sim := newTestDevice(t, nil)

	assert.Equal(t, apollo.DefaultCapabilities(), dev.Capabilities())
	assert.False(t, dev.Running())

	require.NotNil(t, dev.Playback())
	require.NotNil(t, dev.Capture())
	assert.Same(t, dev.Playback(), dev.Stream(apollo.STREAM_PLAYBACK))
	assert.Same(t, dev.Capture(), dev.Stream(apollo.STREAM_CAPTURE))
	assert.Equal(t, apollo.STREAM_STATE_CLOSED, dev.Playback().State())
	assert.Equal(t, apollo.STREAM_STATE_CLOSED, dev.Capture().State())

	// Init programmed the default clock configuration.
	rate, err := sim.ReadRegister(apollo.APOLLO_REG_SAMPLE_RATE)
	require.NoError(t, err)
	assert.Equal(t, uint32(48000), rate)

	format, err := sim.ReadRegister(apollo.APOLLO_REG_FORMAT)
	require.NoError(t, err)
	assert.Equal(t, uint32(apollo.APOLLO_FORMAT_S32_LE), format)

	// The consumed ready acknowledge leaves a clean status.
	status, err := sim.ReadRegister(apollo.APOLLO_REG_STATUS)
	require.NoError(t, err)
	assert.Zero(t, status&apollo.APOLLO_STATUS_READY)
}

func TestOpenDeviceCapsBufferToRegion(t *testing.T) {
	sim := apollo.NewSimDevice(nil)

	dev, err := apollo.OpenDevice(sim, &apollo.DeviceConfig{BufferBytes: 64 << 10})
	require.NoError(t, err)
	defer dev.Close()

	assert.Equal(t, uint32(64<<10), dev.Capabilities().BufferBytesMax)

	// A ring larger than the region must not negotiate.
	s := dev.Playback()
	require.NoError(t, s.Open())
	err = s.Configure(apollo.StreamConfig{
		Rate: 48000, Format: apollo.APOLLO_FORMAT_S32_LE, Channels: 2,
		PeriodSize: 4096, PeriodCount: 4,
	})
	assert.ErrorIs(t, err, apollo.ErrInvalidParameter)
}

func TestOpenDeviceInitTimeout(t *testing.T) {
	sim := apollo.NewSimDevice(&apollo.SimConfig{SilentReset: true})

	start := time.Now()
	dev, err := apollo.OpenDevice(sim, nil)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, apollo.ErrTimeout)
	assert.Nil(t, dev)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "Ready poll gave up too early")
	assert.Less(t, elapsed, 3*time.Second)

	// The bus stays with the caller on failure.
	_, err = sim.ReadRegister(apollo.APOLLO_REG_STATUS)
	assert.NoError(t, err)
	require.NoError(t, sim.Close())
}

func TestDeviceSuspendResume(t *testing.T) {
	dev, sim := newTestDevice(t, nil)

	s := preparedStream(t, dev, apollo.STREAM_PLAYBACK, nil)
	require.NoError(t, s.Start())
	require.True(t, dev.Running())

	require.NoError(t, dev.Suspend())

	assert.Equal(t, apollo.STREAM_STATE_STOPPED, s.State(),
		"Suspend moves a running stream to Stopped, not Closed")
	assert.False(t, dev.Running())
	assert.False(t, sim.DMAActive())

	// The stop opcode is observable in the DMA control register.
	cmd, err := sim.ReadRegister(apollo.APOLLO_REG_DMA_CONTROL)
	require.NoError(t, err)
	assert.Equal(t, uint32(apollo.APOLLO_CMD_STOP), cmd)

	require.NoError(t, dev.Resume())

	// Register state is reprogrammed from scratch after a resume.
	require.NoError(t, s.Prepare())
	require.NoError(t, s.Start())
	assert.True(t, sim.DMAActive())
	assert.Equal(t, apollo.STREAM_STATE_RUNNING, s.State())
}

func TestDeviceSuspendIdle(t *testing.T) {
	dev, sim := newTestDevice(t, nil)

	require.NoError(t, dev.Suspend(), "Suspend with no running stream is valid")

	cmd, err := sim.ReadRegister(apollo.APOLLO_REG_DMA_CONTROL)
	require.NoError(t, err)
	assert.Equal(t, uint32(apollo.APOLLO_CMD_STOP), cmd, "The stop is written unconditionally")

	require.NoError(t, dev.Resume())
}

func TestDeviceCloseIdempotent(t *testing.T) {
	dev, sim := newTestDevice(t, nil)

	s := preparedStream(t, dev, apollo.STREAM_PLAYBACK, nil)
	require.NoError(t, s.Start())

	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close(), "Second close must be a no-op")

	assert.Equal(t, apollo.STREAM_STATE_CLOSED, s.State())

	_, err := sim.ReadRegister(apollo.APOLLO_REG_STATUS)
	assert.ErrorIs(t, err, apollo.ErrResourceGone, "Close must release the bus")
}

func TestDeviceHardwareEventOnError(t *testing.T) {
	dev, sim := newTestDevice(t, nil)

	s := preparedStream(t, dev, apollo.STREAM_CAPTURE, nil)
	require.NoError(t, s.Start())

	sim.InjectError()

	select {
	case ev := <-dev.Events():
		require.ErrorIs(t, ev.Err, apollo.ErrDeviceError)
		assert.NotZero(t, ev.Status&apollo.APOLLO_STATUS_ERROR)
	case <-time.After(2 * time.Second):
		t.Fatal("No hardware event after an injected fault")
	}

	// The flags were dropped before the event was posted.
	assert.False(t, dev.Running())
	assert.Equal(t, apollo.STREAM_STATE_RUNNING, s.State())

	// The owner reacts: stop and recycle the stream.
	require.NoError(t, s.Stop())
	assert.Equal(t, apollo.STREAM_STATE_STOPPED, s.State())
}
