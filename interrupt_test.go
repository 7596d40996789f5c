package apollo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apollo "github.com/bluebillshtml/apollodriversarchlinux"
)

// Manual dispatch keeps the interrupt goroutine out of these tests so each
// HandleInterrupt call observes exactly the status the test latched.
func manualDevice(t *testing.T) (*apollo.Device, *apollo.SimDevice) {
	t.Helper()

	return newTestDevice(t, &apollo.SimConfig{ManualInterrupts: true})
}

func TestHandleInterruptReadyOnly(t *testing.T) {
	dev, sim := manualDevice(t)

	s := preparedStream(t, dev, apollo.STREAM_PLAYBACK, nil)

	periods := 0
	s.SetPeriodCallback(func() { periods++ })
	require.NoError(t, s.Start())

	sim.SignalReady()
	require.NoError(t, dev.HandleInterrupt())

	assert.Equal(t, 1, periods, "Ready must deliver exactly one period notification")
	assert.True(t, dev.Running())
	assert.Equal(t, apollo.STREAM_STATE_RUNNING, s.State())

	select {
	case ev := <-dev.Events():
		t.Fatalf("Unexpected hardware event: %+v", ev)
	default:
	}

	// The dispatch acknowledged what it consumed.
	status, err := sim.ReadRegister(apollo.APOLLO_REG_STATUS)
	require.NoError(t, err)
	assert.Zero(t, status&apollo.APOLLO_STATUS_READY)
}

func TestHandleInterruptErrorOnly(t *testing.T) {
	dev, sim := manualDevice(t)

	s := preparedStream(t, dev, apollo.STREAM_PLAYBACK, nil)

	periods := 0
	s.SetPeriodCallback(func() { periods++ })
	require.NoError(t, s.Start())

	sim.InjectError()
	require.NoError(t, dev.HandleInterrupt())

	assert.Zero(t, periods, "A fault without ready must not fake a period")
	assert.False(t, dev.Running(), "A fault must drop the running flags")
	assert.Equal(t, apollo.STREAM_STATE_RUNNING, s.State(),
		"Dispatch reports the fault but leaves lifecycle transitions to the owner")

	select {
	case ev := <-dev.Events():
		assert.ErrorIs(t, ev.Err, apollo.ErrDeviceError)
		assert.NotZero(t, ev.Status&apollo.APOLLO_STATUS_ERROR)
	default:
		t.Fatal("Expected a hardware event")
	}

	// The acknowledge clears ready only; the fault stays latched for the
	// lifecycle owner until a reset.
	status, err := sim.ReadRegister(apollo.APOLLO_REG_STATUS)
	require.NoError(t, err)
	assert.NotZero(t, status&apollo.APOLLO_STATUS_ERROR)
}

func TestHandleInterruptBothBits(t *testing.T) {
	dev, sim := manualDevice(t)

	s := preparedStream(t, dev, apollo.STREAM_PLAYBACK, nil)

	periods := 0
	s.SetPeriodCallback(func() { periods++ })
	require.NoError(t, s.Start())

	sim.InjectError()
	sim.SignalReady()
	require.NoError(t, dev.HandleInterrupt())

	// One dispatch, both effects.
	assert.Equal(t, 1, periods, "Ready in the same dispatch must still deliver the period")
	assert.False(t, dev.Running())

	select {
	case ev := <-dev.Events():
		assert.ErrorIs(t, ev.Err, apollo.ErrDeviceError)
	default:
		t.Fatal("Expected a hardware event")
	}
}

func TestHandleInterruptIdleIsNoop(t *testing.T) {
	dev, _ := manualDevice(t)

	s := preparedStream(t, dev, apollo.STREAM_CAPTURE, nil)

	periods := 0
	s.SetPeriodCallback(func() { periods++ })
	require.NoError(t, s.Start())

	// Nothing latched beyond the running level bit.
	require.NoError(t, dev.HandleInterrupt())

	assert.Zero(t, periods)
	assert.True(t, dev.Running())

	select {
	case ev := <-dev.Events():
		t.Fatalf("Unexpected hardware event: %+v", ev)
	default:
	}
}

func TestHandleInterruptWhileStopped(t *testing.T) {
	dev, sim := manualDevice(t)

	s := preparedStream(t, dev, apollo.STREAM_PLAYBACK, nil)

	periods := 0
	s.SetPeriodCallback(func() { periods++ })

	// Ready with the stream never started: no period, no event.
	sim.SignalReady()
	require.NoError(t, dev.HandleInterrupt())

	assert.Zero(t, periods, "A stream outside Running must ignore period notifications")
	assert.Equal(t, apollo.STREAM_STATE_PREPARED, s.State())
}

func TestHandleInterruptEventQueueOverflow(t *testing.T) {
	dev, sim := manualDevice(t)

	// The error stays latched, so every dispatch re-observes it. Overflow
	// must drop events, never block dispatch.
	sim.InjectError()
	for i := 0; i < 20; i++ {
		require.NoError(t, dev.HandleInterrupt())
	}

	drained := 0
	for {
		select {
		case <-dev.Events():
			drained++

			continue
		default:
		}

		break
	}

	assert.Equal(t, 8, drained, "Default queue depth bounds buffered events; overflow is dropped")
}
