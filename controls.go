package apollo

import (
	"errors"
	"fmt"
	"sync"
)

// CommandCodec encodes parameter changes into control channel opcodes. The
// wire encodings for gain, phantom power and routing on real hardware are
// not publicly documented, so the engine treats the scheme as a pluggable
// descriptor rather than fixing one. SimCodec supplies the simulated
// device's scheme.
type CommandCodec interface {
	EncodeAnalogGain(channel int, gainDB float64) (uint32, error)
	EncodeOutputGain(channel int, volume float64) (uint32, error)
	EncodePhantomPower(channel int, enabled bool) (uint32, error)
	EncodeInputSource(channel int, src InputSource) (uint32, error)
	EncodeMonitorSource(src MonitorSource) (uint32, error)
	EncodeMonitorGain(volume float64) (uint32, error)
}

// Opcode classes understood by the simulated device. Gains travel in
// tenths of a dB or percent in the low half-word.
const (
	simOpAnalogGain    = 0x10
	simOpOutputGain    = 0x11
	simOpPhantomPower  = 0x12
	simOpInputSource   = 0x13
	simOpMonitorSource = 0x14
	simOpMonitorGain   = 0x15
)

func simOpcode(class, channel int, value uint16) uint32 {
	return uint32(class)<<24 | uint32(channel)<<16 | uint32(value)
}

// SimCodec encodes parameter commands for SimDevice: class in the top
// byte, 1-based channel in the next, scaled value in the low half-word.
type SimCodec struct{}

// EncodeAnalogGain encodes a preamp gain command for an analog channel.
func (SimCodec) EncodeAnalogGain(channel int, gainDB float64) (uint32, error) {
	if _, err := analogChannel(channel); err != nil {
		return 0, err
	}

	return simOpcode(simOpAnalogGain, channel, uint16(clampGain(gainDB)*10)), nil
}

// EncodeOutputGain encodes a main output volume command; channel 1 is left,
// 2 is right.
func (SimCodec) EncodeOutputGain(channel int, volume float64) (uint32, error) {
	if channel < 1 || channel > 2 {
		return 0, fmt.Errorf("invalid output channel %d: %w", channel, ErrInvalidParameter)
	}

	return simOpcode(simOpOutputGain, channel, uint16(clampVolume(volume)*10)), nil
}

// EncodePhantomPower encodes a phantom power switch command.
func (SimCodec) EncodePhantomPower(channel int, enabled bool) (uint32, error) {
	if _, err := analogChannel(channel); err != nil {
		return 0, err
	}

	return simOpcode(simOpPhantomPower, channel, uint16(boolFlag(enabled))), nil
}

// EncodeInputSource encodes an input routing command.
func (SimCodec) EncodeInputSource(channel int, src InputSource) (uint32, error) {
	if _, err := inputChannel(channel); err != nil {
		return 0, err
	}
	if _, ok := InputSourceNames[src]; !ok {
		return 0, fmt.Errorf("invalid input source %d: %w", src, ErrInvalidParameter)
	}

	return simOpcode(simOpInputSource, channel, uint16(src)), nil
}

// EncodeMonitorSource encodes a monitor path selection command.
func (SimCodec) EncodeMonitorSource(src MonitorSource) (uint32, error) {
	if _, ok := MonitorSourceNames[src]; !ok {
		return 0, fmt.Errorf("invalid monitor source %d: %w", src, ErrInvalidParameter)
	}

	return simOpcode(simOpMonitorSource, 0, uint16(src)), nil
}

// EncodeMonitorGain encodes a monitor volume command.
func (SimCodec) EncodeMonitorGain(volume float64) (uint32, error) {
	return simOpcode(simOpMonitorGain, 0, uint16(clampVolume(volume)*10)), nil
}

// ControlType describes the value kind of a named control.
type ControlType int32

const (
	CTRL_TYPE_INT  ControlType = 0
	CTRL_TYPE_BOOL ControlType = 1
	CTRL_TYPE_ENUM ControlType = 2
)

// Ctl is one named parameter in the control enumeration: a volume, a
// switch or an enum with its range and item names. Values go through the
// owning Controller.
type Ctl struct {
	Name  string
	Type  ControlType
	Count int // values per control, 2 for the stereo master volume
	Min   float64
	Max   float64
	Items []string // enum item names

	get func() []float64
	set func(values []float64) error
}

// Values returns the current value set of the control.
func (c *Ctl) Values() []float64 {
	return c.get()
}

// SetValues applies a full value set to the control.
func (c *Ctl) SetValues(values []float64) error {
	if len(values) != c.Count {
		return fmt.Errorf("control '%s' takes %d values, got %d: %w",
			c.Name, c.Count, len(values), ErrInvalidParameter)
	}

	return c.set(values)
}

// Controller binds a Settings record to a device: every parameter change
// is encoded through the CommandCodec, submitted on the control channel
// and mirrored into the record once the device accepts it. A nil codec
// leaves all apply operations unsupported, matching hardware whose
// parameter protocol is still unknown; the mirror and persistence keep
// working.
type Controller struct {
	dev   *Device
	codec CommandCodec

	mu       sync.Mutex
	settings Settings

	ctls   []*Ctl
	ctlMap map[string]*Ctl
}

// NewController creates a controller over dev starting from the factory
// settings.
func NewController(dev *Device, codec CommandCodec) *Controller {
	c := &Controller{
		dev:      dev,
		codec:    codec,
		settings: DefaultSettings(),
	}
	c.buildCtls()

	return c
}

// Settings returns a copy of the mirrored parameter record.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.settings
}

// submit encodes nothing itself; it runs one already-encoded parameter
// command through the device control channel.
func (c *Controller) submit(opcode uint32) error {
	_, err := c.dev.SubmitCommand(ControlCommand{Opcode: opcode, ExpectResponse: true})

	return err
}

// unsupported reports an apply operation that has no codec to encode it.
func unsupported(what string) error {
	return fmt.Errorf("%s: parameter protocol not available: %w", what, errors.ErrUnsupported)
}

// SetAnalogGain applies a preamp gain (dB, clamped to 0..65) to an analog
// channel (1-4) and mirrors it on success.
func (c *Controller) SetAnalogGain(channel int, gainDB float64) error {
	if c.codec == nil {
		return unsupported("analog gain")
	}

	opcode, err := c.codec.EncodeAnalogGain(channel, gainDB)
	if err != nil {
		return err
	}
	if err := c.submit(opcode); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.settings.SetAnalogGain(channel, gainDB)
}

// AnalogGainDB returns the mirrored preamp gain of an analog channel
// (1-4).
func (c *Controller) AnalogGainDB(channel int) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.settings.AnalogGainDB(channel)
}

// SetOutputGain applies a main output volume (0..100); channel 1 is left,
// 2 is right.
func (c *Controller) SetOutputGain(channel int, volume float64) error {
	if c.codec == nil {
		return unsupported("output gain")
	}

	opcode, err := c.codec.EncodeOutputGain(channel, volume)
	if err != nil {
		return err
	}
	if err := c.submit(opcode); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.settings.OutputGain[channel-1] = clampVolume(volume)

	return nil
}

// SetPhantomPower applies the 48V phantom switch of an analog channel
// (1-4).
func (c *Controller) SetPhantomPower(channel int, enabled bool) error {
	if c.codec == nil {
		return unsupported("phantom power")
	}

	opcode, err := c.codec.EncodePhantomPower(channel, enabled)
	if err != nil {
		return err
	}
	if err := c.submit(opcode); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.settings.SetPhantomPower(channel, enabled)
}

// PhantomPowerEnabled returns the mirrored phantom state of an analog
// channel (1-4).
func (c *Controller) PhantomPowerEnabled(channel int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.settings.PhantomPowerEnabled(channel)
}

// SetInputSource applies the input routing of a channel (1-8).
func (c *Controller) SetInputSource(channel int, src InputSource) error {
	if c.codec == nil {
		return unsupported("input source")
	}

	opcode, err := c.codec.EncodeInputSource(channel, src)
	if err != nil {
		return err
	}
	if err := c.submit(opcode); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.settings.SetInputSource(channel, src)
}

// InputSourceFor returns the mirrored input routing of a channel (1-8).
func (c *Controller) InputSourceFor(channel int) (InputSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.settings.InputSourceFor(channel)
}

// SetMonitorSource applies the monitor output path.
func (c *Controller) SetMonitorSource(src MonitorSource) error {
	if c.codec == nil {
		return unsupported("monitor source")
	}

	opcode, err := c.codec.EncodeMonitorSource(src)
	if err != nil {
		return err
	}
	if err := c.submit(opcode); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.settings.SetMonitorSource(src)
}

// MonitorSource returns the mirrored monitor output path.
func (c *Controller) MonitorSource() MonitorSource {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.settings.MonitorSource
}

// SetMonitorGain applies the monitor volume (0..100).
func (c *Controller) SetMonitorGain(volume float64) error {
	if c.codec == nil {
		return unsupported("monitor gain")
	}

	opcode, err := c.codec.EncodeMonitorGain(volume)
	if err != nil {
		return err
	}
	if err := c.submit(opcode); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.settings.MonitorGain = clampVolume(volume)

	return nil
}

// Apply pushes a full settings record to the device parameter by
// parameter, stopping at the first failure. The mirror tracks whatever was
// accepted.
func (c *Controller) Apply(s Settings) error {
	for i, g := range s.AnalogGain {
		if err := c.SetAnalogGain(i+1, g); err != nil {
			return err
		}
	}
	for i, v := range s.OutputGain {
		if err := c.SetOutputGain(i+1, v); err != nil {
			return err
		}
	}
	for i := range s.PhantomPower {
		if err := c.SetPhantomPower(i+1, s.PhantomPower[i]); err != nil {
			return err
		}
	}
	for i := range s.InputSource {
		if err := c.SetInputSource(i+1, s.InputSource[i]); err != nil {
			return err
		}
	}
	if err := c.SetMonitorSource(s.MonitorSource); err != nil {
		return err
	}
	if err := c.SetMonitorGain(s.MonitorGain); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.settings.HPFEnabled = s.HPFEnabled
	c.settings.HPFFreq = s.HPFFreq
	c.settings.PadEnabled = s.PadEnabled

	return nil
}

// Save persists the mirrored settings to path.
func (c *Controller) Save(path string) error {
	c.mu.Lock()
	s := c.settings
	c.mu.Unlock()

	return s.Save(path)
}

// Load reads a settings file and applies it to the device.
func (c *Controller) Load(path string) error {
	s := DefaultSettings()
	if err := s.Load(path); err != nil {
		return err
	}

	return c.Apply(s)
}

// NumCtls returns the number of named controls.
func (c *Controller) NumCtls() int {
	return len(c.ctls)
}

// Ctls returns the named control enumeration.
func (c *Controller) Ctls() []*Ctl {
	return c.ctls
}

// CtlByName returns the named control, or an error if no control carries
// that name.
func (c *Controller) CtlByName(name string) (*Ctl, error) {
	ctl, ok := c.ctlMap[name]
	if !ok {
		return nil, fmt.Errorf("control '%s' not found: %w", name, ErrInvalidParameter)
	}

	return ctl, nil
}

// buildCtls registers the named control surface: per-channel preamp gains
// and phantom switches, the stereo master volume, and the input / monitor
// routing enums.
func (c *Controller) buildCtls() {
	c.ctlMap = make(map[string]*Ctl)

	add := func(ctl *Ctl) {
		c.ctls = append(c.ctls, ctl)
		c.ctlMap[ctl.Name] = ctl
	}

	for ch := 1; ch <= 4; ch++ {
		add(&Ctl{
			Name:  fmt.Sprintf("Analog %d Gain", ch),
			Type:  CTRL_TYPE_INT,
			Count: 1,
			Min:   AnalogGainMinDB,
			Max:   AnalogGainMaxDB,
			get: func() []float64 {
				g, _ := c.AnalogGainDB(ch)

				return []float64{g}
			},
			set: func(values []float64) error {
				return c.SetAnalogGain(ch, values[0])
			},
		})
	}

	for ch := 1; ch <= 4; ch++ {
		add(&Ctl{
			Name:  fmt.Sprintf("Analog %d Phantom Power", ch),
			Type:  CTRL_TYPE_BOOL,
			Count: 1,
			Max:   1,
			get: func() []float64 {
				on, _ := c.PhantomPowerEnabled(ch)

				return []float64{float64(boolFlag(on))}
			},
			set: func(values []float64) error {
				return c.SetPhantomPower(ch, values[0] != 0)
			},
		})
	}

	add(&Ctl{
		Name:  "Master Playback Volume",
		Type:  CTRL_TYPE_INT,
		Count: 2,
		Min:   OutputVolumeMin,
		Max:   OutputVolumeMax,
		get: func() []float64 {
			s := c.Settings()

			return []float64{s.OutputGain[0], s.OutputGain[1]}
		},
		set: func(values []float64) error {
			if err := c.SetOutputGain(1, values[0]); err != nil {
				return err
			}

			return c.SetOutputGain(2, values[1])
		},
	})

	inputItems := make([]string, INPUT_DIGITAL2+1)
	for src, name := range InputSourceNames {
		inputItems[src] = name
	}
	add(&Ctl{
		Name:  "Input Source",
		Type:  CTRL_TYPE_ENUM,
		Count: 1,
		Max:   float64(len(inputItems) - 1),
		Items: inputItems,
		get: func() []float64 {
			src, _ := c.InputSourceFor(1)

			return []float64{float64(src)}
		},
		set: func(values []float64) error {
			return c.SetInputSource(1, InputSource(values[0]))
		},
	})

	monitorItems := make([]string, MONITOR_CUE+1)
	for src, name := range MonitorSourceNames {
		monitorItems[src] = name
	}
	add(&Ctl{
		Name:  "Monitor Source",
		Type:  CTRL_TYPE_ENUM,
		Count: 1,
		Max:   float64(len(monitorItems) - 1),
		Items: monitorItems,
		get: func() []float64 {
			return []float64{float64(c.MonitorSource())}
		},
		set: func(values []float64) error {
			return c.SetMonitorSource(MonitorSource(values[0]))
		},
	})
}
