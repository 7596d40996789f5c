package apollo_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apollo "github.com/bluebillshtml/apollodriversarchlinux"
)

func TestSimCodecEncoding(t *testing.T) {
	codec := apollo.SimCodec{}

	testCases := map[string]struct {
		encode   func() (uint32, error)
		expected uint32
	}{
		"AnalogGain": {
			encode:   func() (uint32, error) { return codec.EncodeAnalogGain(2, 32.5) },
			expected: 0x10020145, // channel 2, 325 tenths of a dB
		},
		"AnalogGainClamped": {
			encode:   func() (uint32, error) { return codec.EncodeAnalogGain(1, 99) },
			expected: 0x1001028A, // clamped to 65.0 dB
		},
		"OutputGain": {
			encode:   func() (uint32, error) { return codec.EncodeOutputGain(2, 80) },
			expected: 0x11020320,
		},
		"PhantomOn": {
			encode:   func() (uint32, error) { return codec.EncodePhantomPower(3, true) },
			expected: 0x12030001,
		},
		"PhantomOff": {
			encode:   func() (uint32, error) { return codec.EncodePhantomPower(3, false) },
			expected: 0x12030000,
		},
		"InputSource": {
			encode:   func() (uint32, error) { return codec.EncodeInputSource(5, apollo.INPUT_DIGITAL1) },
			expected: 0x13050004,
		},
		"MonitorSource": {
			encode:   func() (uint32, error) { return codec.EncodeMonitorSource(apollo.MONITOR_CUE) },
			expected: 0x14000002,
		},
		"MonitorGain": {
			encode:   func() (uint32, error) { return codec.EncodeMonitorGain(55.5) },
			expected: 0x1500022B,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			opcode, err := tc.encode()
			require.NoError(t, err)
			assert.Equal(t, tc.expected, opcode)
		})
	}
}

func TestSimCodecValidation(t *testing.T) {
	codec := apollo.SimCodec{}

	_, err := codec.EncodeAnalogGain(0, 10)
	assert.ErrorIs(t, err, apollo.ErrInvalidParameter)
	_, err = codec.EncodeAnalogGain(5, 10)
	assert.ErrorIs(t, err, apollo.ErrInvalidParameter)
	_, err = codec.EncodeOutputGain(3, 10)
	assert.ErrorIs(t, err, apollo.ErrInvalidParameter)
	_, err = codec.EncodePhantomPower(9, true)
	assert.ErrorIs(t, err, apollo.ErrInvalidParameter)
	_, err = codec.EncodeInputSource(1, apollo.InputSource(42))
	assert.ErrorIs(t, err, apollo.ErrInvalidParameter)
	_, err = codec.EncodeInputSource(0, apollo.INPUT_ANALOG1)
	assert.ErrorIs(t, err, apollo.ErrInvalidParameter)
	_, err = codec.EncodeMonitorSource(apollo.MonitorSource(9))
	assert.ErrorIs(t, err, apollo.ErrInvalidParameter)
}

func TestControllerNilCodec(t *testing.T) {
	dev, _ := newTestDevice(t, nil)
	c := apollo.NewController(dev, nil)

	assert.ErrorIs(t, c.SetAnalogGain(1, 10), errors.ErrUnsupported)
	assert.ErrorIs(t, c.SetOutputGain(1, 50), errors.ErrUnsupported)
	assert.ErrorIs(t, c.SetPhantomPower(1, true), errors.ErrUnsupported)
	assert.ErrorIs(t, c.SetInputSource(1, apollo.INPUT_DIGITAL1), errors.ErrUnsupported)
	assert.ErrorIs(t, c.SetMonitorSource(apollo.MONITOR_ALT), errors.ErrUnsupported)
	assert.ErrorIs(t, c.SetMonitorGain(10), errors.ErrUnsupported)

	// The mirror and persistence stay intact without a parameter protocol.
	assert.Equal(t, apollo.DefaultSettings(), c.Settings())

	path := filepath.Join(t.TempDir(), "apollo.conf")
	require.NoError(t, c.Save(path))
	assert.ErrorIs(t, c.Load(path), errors.ErrUnsupported)
}

func TestControllerSetAndMirror(t *testing.T) {
	dev, sim := newTestDevice(t, nil)
	c := apollo.NewController(dev, apollo.SimCodec{})

	sim.RecordWrites(true)

	require.NoError(t, c.SetAnalogGain(2, 32.5))
	require.NoError(t, c.SetOutputGain(2, 80))
	require.NoError(t, c.SetPhantomPower(3, true))
	require.NoError(t, c.SetInputSource(5, apollo.INPUT_DIGITAL1))
	require.NoError(t, c.SetMonitorSource(apollo.MONITOR_CUE))
	require.NoError(t, c.SetMonitorGain(55.5))

	gain, err := c.AnalogGainDB(2)
	require.NoError(t, err)
	assert.Equal(t, 32.5, gain)

	on, err := c.PhantomPowerEnabled(3)
	require.NoError(t, err)
	assert.True(t, on)

	src, err := c.InputSourceFor(5)
	require.NoError(t, err)
	assert.Equal(t, apollo.INPUT_DIGITAL1, src)

	assert.Equal(t, apollo.MONITOR_CUE, c.MonitorSource())

	s := c.Settings()
	assert.Equal(t, 80.0, s.OutputGain[1])
	assert.Equal(t, 55.5, s.MonitorGain)

	// Every accepted change went over the control channel, in order.
	var ops []uint32
	for _, w := range sim.Writes() {
		if w.Offset == apollo.APOLLO_REG_CONTROL {
			ops = append(ops, w.Value)
		}
	}
	assert.Equal(t, []uint32{
		0x10020145,
		0x11020320,
		0x12030001,
		0x13050004,
		0x14000002,
		0x1500022B,
	}, ops)
}

func TestControllerEncodeErrorSubmitsNothing(t *testing.T) {
	dev, sim := newTestDevice(t, nil)
	c := apollo.NewController(dev, apollo.SimCodec{})

	sim.RecordWrites(true)

	assert.ErrorIs(t, c.SetAnalogGain(9, 10), apollo.ErrInvalidParameter)
	assert.ErrorIs(t, c.SetInputSource(1, apollo.InputSource(42)), apollo.ErrInvalidParameter)

	for _, w := range sim.Writes() {
		assert.NotEqual(t, uint32(apollo.APOLLO_REG_CONTROL), w.Offset,
			"A rejected encode must not reach the device")
	}
	assert.Equal(t, apollo.DefaultSettings(), c.Settings())
}

func TestControllerSubmitErrorKeepsMirror(t *testing.T) {
	dev, _ := newTestDevice(t, &apollo.SimConfig{DropCommands: true})
	c := apollo.NewController(dev, apollo.SimCodec{})

	err := c.SetAnalogGain(1, 30)
	require.ErrorIs(t, err, apollo.ErrTimeout)

	gain, err := c.AnalogGainDB(1)
	require.NoError(t, err)
	assert.Zero(t, gain, "A rejected command must not move the mirror")
}

func TestControllerApply(t *testing.T) {
	dev, _ := newTestDevice(t, nil)
	c := apollo.NewController(dev, apollo.SimCodec{})

	s := apollo.DefaultSettings()
	require.NoError(t, s.SetAnalogGain(1, 24))
	require.NoError(t, s.SetAnalogGain(3, 48.5))
	require.NoError(t, s.SetPhantomPower(1, true))
	require.NoError(t, s.SetInputSource(2, apollo.INPUT_DIGITAL2))
	require.NoError(t, s.SetMonitorSource(apollo.MONITOR_ALT))
	s.OutputGain = [2]float64{90, 85}
	s.MonitorGain = 60
	s.HPFEnabled[1] = true
	s.HPFFreq[1] = 120
	s.PadEnabled[0] = true

	require.NoError(t, c.Apply(s))
	assert.Equal(t, s, c.Settings(), "Apply must mirror the full record")

	// Roundtrip through a file lands on an identical device state.
	path := filepath.Join(t.TempDir(), "apollo.conf")
	require.NoError(t, c.Save(path))

	c2 := apollo.NewController(dev, apollo.SimCodec{})
	require.NoError(t, c2.Load(path))
	assert.Equal(t, s, c2.Settings())
}

func TestControllerCtls(t *testing.T) {
	dev, _ := newTestDevice(t, nil)
	c := apollo.NewController(dev, apollo.SimCodec{})

	require.Equal(t, 11, c.NumCtls())
	require.Len(t, c.Ctls(), 11)

	for _, name := range []string{
		"Analog 1 Gain", "Analog 2 Gain", "Analog 3 Gain", "Analog 4 Gain",
		"Analog 1 Phantom Power", "Analog 4 Phantom Power",
		"Master Playback Volume", "Input Source", "Monitor Source",
	} {
		_, err := c.CtlByName(name)
		assert.NoError(t, err, "Control %q must exist", name)
	}

	_, err := c.CtlByName("Bass Boost")
	assert.ErrorIs(t, err, apollo.ErrInvalidParameter)

	master, err := c.CtlByName("Master Playback Volume")
	require.NoError(t, err)
	assert.Equal(t, apollo.CTRL_TYPE_INT, master.Type)
	assert.Equal(t, 2, master.Count)
	assert.Equal(t, 0.0, master.Min)
	assert.Equal(t, 100.0, master.Max)

	require.NoError(t, master.SetValues([]float64{80, 75}))
	assert.Equal(t, []float64{80, 75}, master.Values())
	assert.ErrorIs(t, master.SetValues([]float64{80}), apollo.ErrInvalidParameter,
		"A stereo control takes both values")

	gain, err := c.CtlByName("Analog 3 Gain")
	require.NoError(t, err)
	require.NoError(t, gain.SetValues([]float64{20}))
	assert.Equal(t, []float64{20}, gain.Values())

	mirrored, err := c.AnalogGainDB(3)
	require.NoError(t, err)
	assert.Equal(t, 20.0, mirrored)

	input, err := c.CtlByName("Input Source")
	require.NoError(t, err)
	assert.Equal(t, apollo.CTRL_TYPE_ENUM, input.Type)
	assert.Equal(t, []string{"analog1", "analog2", "analog3", "analog4", "digital1", "digital2"},
		input.Items)

	require.NoError(t, input.SetValues([]float64{float64(apollo.INPUT_DIGITAL1)}))
	src, err := c.InputSourceFor(1)
	require.NoError(t, err)
	assert.Equal(t, apollo.INPUT_DIGITAL1, src)

	monitor, err := c.CtlByName("Monitor Source")
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "alt", "cue"}, monitor.Items)

	phantom, err := c.CtlByName("Analog 2 Phantom Power")
	require.NoError(t, err)
	assert.Equal(t, apollo.CTRL_TYPE_BOOL, phantom.Type)
	require.NoError(t, phantom.SetValues([]float64{1}))
	assert.Equal(t, []float64{1}, phantom.Values())
}
