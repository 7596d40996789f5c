package apollo_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apollo "github.com/bluebillshtml/apollodriversarchlinux"
)

// newTestDevice opens an engine over a fresh simulated device and tears it
// down with the test. Interrupts are serviced automatically unless cfg
// asks for manual dispatch.
func newTestDevice(t *testing.T, cfg *apollo.SimConfig) (*apollo.Device, *apollo.SimDevice) {
	t.Helper()

	sim := apollo.NewSimDevice(cfg)

	dev, err := apollo.OpenDevice(sim, nil)
	require.NoError(t, err, "Failed to open device over simulated bus")

	t.Cleanup(func() { _ = dev.Close() })

	return dev, sim
}

// preparedStream walks one direction through Open, Configure and Prepare.
// A nil cfg selects the stream defaults.
func preparedStream(t *testing.T, dev *apollo.Device, dir apollo.Direction, cfg *apollo.StreamConfig) *apollo.Stream {
	t.Helper()

	s := dev.Stream(dir)
	require.NoError(t, s.Open(), "Failed to open %s stream", dir)

	c := apollo.DefaultStreamConfig()
	if cfg != nil {
		c = *cfg
	}
	require.NoError(t, s.Configure(c), "Failed to configure %s stream", dir)
	require.NoError(t, s.Prepare(), "Failed to prepare %s stream", dir)

	return s
}

func TestFormatToBits(t *testing.T) {
	testCases := map[apollo.Format]uint32{
		apollo.APOLLO_FORMAT_S16_LE:  16,
		apollo.APOLLO_FORMAT_S24_3LE: 24,
		apollo.APOLLO_FORMAT_S32_LE:  32,
	}

	for format, expectedBits := range testCases {
		t.Run(apollo.FormatNames[format], func(t *testing.T) {
			assert.Equal(t, expectedBits, apollo.FormatToBits(format))
		})
	}

	assert.Zero(t, apollo.FormatToBits(apollo.Format(99)), "Unknown format should map to zero bits")
}

func TestParseFormat(t *testing.T) {
	testCases := map[string]apollo.Format{
		"s16":     apollo.APOLLO_FORMAT_S16_LE,
		"S16_LE":  apollo.APOLLO_FORMAT_S16_LE,
		"s24":     apollo.APOLLO_FORMAT_S24_3LE,
		"S24_3LE": apollo.APOLLO_FORMAT_S24_3LE,
		"s32":     apollo.APOLLO_FORMAT_S32_LE,
		"S32_LE":  apollo.APOLLO_FORMAT_S32_LE,
	}

	for name, expected := range testCases {
		t.Run(name, func(t *testing.T) {
			f, err := apollo.ParseFormat(name)
			require.NoError(t, err)
			assert.Equal(t, expected, f)
		})
	}

	_, err := apollo.ParseFormat("float32")
	assert.ErrorIs(t, err, apollo.ErrInvalidParameter)
}

func TestFrameBytes(t *testing.T) {
	assert.Equal(t, uint32(4), apollo.FrameBytes(apollo.APOLLO_FORMAT_S16_LE, 2))
	assert.Equal(t, uint32(6), apollo.FrameBytes(apollo.APOLLO_FORMAT_S24_3LE, 2))
	assert.Equal(t, uint32(8), apollo.FrameBytes(apollo.APOLLO_FORMAT_S32_LE, 2))
	assert.Equal(t, uint32(32), apollo.FrameBytes(apollo.APOLLO_FORMAT_S32_LE, 8))
}

func TestDefaultCapabilities(t *testing.T) {
	caps := apollo.DefaultCapabilities()

	assert.Equal(t, []uint32{44100, 48000, 88200, 96000, 176400, 192000}, caps.Rates)
	assert.Len(t, caps.Formats, 3)
	assert.Equal(t, uint32(2), caps.ChannelsMin)
	assert.Equal(t, uint32(8), caps.ChannelsMax)
	assert.Equal(t, uint32(1024*1024), caps.BufferBytesMax)
	assert.Equal(t, uint32(64), caps.PeriodBytesMin)
	assert.Equal(t, uint32(1024*512), caps.PeriodBytesMax)

	assert.True(t, caps.SupportsRate(96000))
	assert.False(t, caps.SupportsRate(22050))
	assert.True(t, caps.SupportsFormat(apollo.APOLLO_FORMAT_S24_3LE))
	assert.False(t, caps.SupportsFormat(apollo.Format(7)))
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "playback", apollo.STREAM_PLAYBACK.String())
	assert.Equal(t, "capture", apollo.STREAM_CAPTURE.String())
	assert.Equal(t, "prepared", apollo.STREAM_STATE_PREPARED.String())
	assert.Equal(t, "unknown", apollo.StreamState(42).String())
}
