package apollo

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Default locations of the persisted device configuration.
const (
	DefaultSettingsPath = "/etc/apollo.conf"
	DefaultPresetDir    = "/etc/apollo.d"
)

// Analog preamp gain range in dB. Values outside are clamped, not rejected.
const (
	AnalogGainMinDB = 0.0
	AnalogGainMaxDB = 65.0
)

// Output and monitor volume range, matching the Master Playback Volume
// control.
const (
	OutputVolumeMin = 0.0
	OutputVolumeMax = 100.0
)

// DefaultHPFFreq is the high-pass filter corner frequency in Hz installed
// by DefaultSettings.
const DefaultHPFFreq = 75.0

// MaxChannels is the widest channel count the device exposes.
const MaxChannels = 8

// InputSource selects which physical input feeds a channel.
type InputSource int32

const (
	INPUT_ANALOG1  InputSource = 0
	INPUT_ANALOG2  InputSource = 1
	INPUT_ANALOG3  InputSource = 2
	INPUT_ANALOG4  InputSource = 3
	INPUT_DIGITAL1 InputSource = 4
	INPUT_DIGITAL2 InputSource = 5
)

// InputSourceNames provides the identifiers used by tooling and presets.
var InputSourceNames = map[InputSource]string{
	INPUT_ANALOG1:  "analog1",
	INPUT_ANALOG2:  "analog2",
	INPUT_ANALOG3:  "analog3",
	INPUT_ANALOG4:  "analog4",
	INPUT_DIGITAL1: "digital1",
	INPUT_DIGITAL2: "digital2",
}

func (s InputSource) String() string {
	if name, ok := InputSourceNames[s]; ok {
		return name
	}

	return "unknown"
}

// ParseInputSource maps an identifier (analog1..analog4, digital1,
// digital2) to an InputSource.
func ParseInputSource(s string) (InputSource, error) {
	for src, name := range InputSourceNames {
		if name == s {
			return src, nil
		}
	}

	return 0, fmt.Errorf("unknown input source '%s': %w", s, ErrInvalidParameter)
}

// MonitorSource selects the monitor output path.
type MonitorSource int32

const (
	MONITOR_MAIN MonitorSource = 0
	MONITOR_ALT  MonitorSource = 1
	MONITOR_CUE  MonitorSource = 2
)

// MonitorSourceNames provides the identifiers used by tooling and presets.
var MonitorSourceNames = map[MonitorSource]string{
	MONITOR_MAIN: "main",
	MONITOR_ALT:  "alt",
	MONITOR_CUE:  "cue",
}

func (s MonitorSource) String() string {
	if name, ok := MonitorSourceNames[s]; ok {
		return name
	}

	return "unknown"
}

// ParseMonitorSource maps an identifier (main, alt, cue) to a
// MonitorSource.
func ParseMonitorSource(s string) (MonitorSource, error) {
	for src, name := range MonitorSourceNames {
		if name == s {
			return src, nil
		}
	}

	return 0, fmt.Errorf("unknown monitor source '%s': %w", s, ErrInvalidParameter)
}

// Settings is the persisted parameter record of one device: preamp gains,
// routing, phantom power, input conditioning and monitoring. It is a plain
// value external to the engine; applying it to hardware goes through a
// Controller.
type Settings struct {
	AnalogGain [4]float64 // dB, analog inputs 1-4
	OutputGain [2]float64 // main outputs L/R

	InputSource  [MaxChannels]InputSource
	PhantomPower [4]bool

	HPFEnabled [MaxChannels]bool
	HPFFreq    [MaxChannels]float64 // Hz

	PadEnabled [4]bool // -20 dB pad per analog input

	MonitorSource MonitorSource
	MonitorGain   float64
}

// DefaultSettings returns the factory configuration: unity gains, analog
// inputs mapped round-robin, phantom power off, filters off at 75 Hz, main
// monitor path.
func DefaultSettings() Settings {
	var s Settings

	for i := range s.InputSource {
		s.InputSource[i] = INPUT_ANALOG1 + InputSource(i%4)
	}
	for i := range s.HPFFreq {
		s.HPFFreq[i] = DefaultHPFFreq
	}

	return s
}

// clampGain bounds an analog gain value to the preamp range.
func clampGain(db float64) float64 {
	if db < AnalogGainMinDB {
		return AnalogGainMinDB
	}
	if db > AnalogGainMaxDB {
		return AnalogGainMaxDB
	}

	return db
}

// clampVolume bounds an output volume to the control range.
func clampVolume(v float64) float64 {
	if v < OutputVolumeMin {
		return OutputVolumeMin
	}
	if v > OutputVolumeMax {
		return OutputVolumeMax
	}

	return v
}

// analogChannel validates a 1-based analog channel number.
func analogChannel(channel int) (int, error) {
	if channel < 1 || channel > 4 {
		return 0, fmt.Errorf("invalid analog channel %d: %w", channel, ErrInvalidParameter)
	}

	return channel - 1, nil
}

// inputChannel validates a 1-based input channel number.
func inputChannel(channel int) (int, error) {
	if channel < 1 || channel > MaxChannels {
		return 0, fmt.Errorf("invalid channel %d: %w", channel, ErrInvalidParameter)
	}

	return channel - 1, nil
}

// SetAnalogGain stores a preamp gain for an analog channel (1-4), clamped
// to the 0..65 dB range.
func (s *Settings) SetAnalogGain(channel int, gainDB float64) error {
	i, err := analogChannel(channel)
	if err != nil {
		return err
	}

	s.AnalogGain[i] = clampGain(gainDB)

	return nil
}

// AnalogGainDB returns the stored preamp gain for an analog channel (1-4).
func (s *Settings) AnalogGainDB(channel int) (float64, error) {
	i, err := analogChannel(channel)
	if err != nil {
		return 0, err
	}

	return s.AnalogGain[i], nil
}

// SetPhantomPower stores the phantom power state for an analog channel
// (1-4).
func (s *Settings) SetPhantomPower(channel int, enabled bool) error {
	i, err := analogChannel(channel)
	if err != nil {
		return err
	}

	s.PhantomPower[i] = enabled

	return nil
}

// PhantomPowerEnabled returns the stored phantom power state of an analog
// channel (1-4).
func (s *Settings) PhantomPowerEnabled(channel int) (bool, error) {
	i, err := analogChannel(channel)
	if err != nil {
		return false, err
	}

	return s.PhantomPower[i], nil
}

// SetInputSource stores the input routing for a channel (1-8).
func (s *Settings) SetInputSource(channel int, src InputSource) error {
	i, err := inputChannel(channel)
	if err != nil {
		return err
	}
	if _, ok := InputSourceNames[src]; !ok {
		return fmt.Errorf("invalid input source %d: %w", src, ErrInvalidParameter)
	}

	s.InputSource[i] = src

	return nil
}

// InputSourceFor returns the stored input routing of a channel (1-8).
func (s *Settings) InputSourceFor(channel int) (InputSource, error) {
	i, err := inputChannel(channel)
	if err != nil {
		return 0, err
	}

	return s.InputSource[i], nil
}

// SetMonitorSource stores the monitor output path.
func (s *Settings) SetMonitorSource(src MonitorSource) error {
	if _, ok := MonitorSourceNames[src]; !ok {
		return fmt.Errorf("invalid monitor source %d: %w", src, ErrInvalidParameter)
	}

	s.MonitorSource = src

	return nil
}

// Save writes the settings as a flat key=value file, creating or
// truncating path.
func (s *Settings) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("settings save failed: %w", err)
	}

	w := bufio.NewWriter(f)

	fmt.Fprintf(w, "# Apollo Twin Configuration\n\n")

	for i, g := range s.AnalogGain {
		fmt.Fprintf(w, "analog_gain%d=%.1f\n", i+1, g)
	}
	fmt.Fprintf(w, "output_gain_l=%.1f\n", s.OutputGain[0])
	fmt.Fprintf(w, "output_gain_r=%.1f\n", s.OutputGain[1])

	for i, src := range s.InputSource {
		fmt.Fprintf(w, "input_source%d=%d\n", i+1, src)
	}
	for i, on := range s.PhantomPower {
		fmt.Fprintf(w, "phantom_power%d=%d\n", i+1, boolFlag(on))
	}

	for i, on := range s.HPFEnabled {
		fmt.Fprintf(w, "hpf_enabled%d=%d\n", i+1, boolFlag(on))
	}
	for i, hz := range s.HPFFreq {
		fmt.Fprintf(w, "hpf_freq%d=%.1f\n", i+1, hz)
	}
	for i, on := range s.PadEnabled {
		fmt.Fprintf(w, "pad_enabled%d=%d\n", i+1, boolFlag(on))
	}

	fmt.Fprintf(w, "monitor_source=%d\n", s.MonitorSource)
	fmt.Fprintf(w, "monitor_gain=%.1f\n", s.MonitorGain)

	if err := w.Flush(); err != nil {
		_ = f.Close()

		return fmt.Errorf("settings save failed: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("settings save failed: %w", err)
	}

	return nil
}

func boolFlag(b bool) int {
	if b {
		return 1
	}

	return 0
}

// Load reads a flat key=value settings file into s. Unknown keys and
// malformed values are skipped, so files written by older revisions stay
// loadable; loaded gains are clamped into range.
func (s *Settings) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("settings load failed: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		s.applyField(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("settings load failed: %w", err)
	}

	return nil
}

// applyField stores one parsed key=value pair, ignoring anything it does
// not recognize.
func (s *Settings) applyField(key, value string) {
	switch key {
	case "output_gain_l":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			s.OutputGain[0] = clampVolume(v)
		}

		return
	case "output_gain_r":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			s.OutputGain[1] = clampVolume(v)
		}

		return
	case "monitor_source":
		if v, err := strconv.Atoi(value); err == nil {
			if _, ok := MonitorSourceNames[MonitorSource(v)]; ok {
				s.MonitorSource = MonitorSource(v)
			}
		}

		return
	case "monitor_gain":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			s.MonitorGain = clampVolume(v)
		}

		return
	}

	base, n, ok := splitIndexedKey(key)
	if !ok {
		return
	}

	switch base {
	case "analog_gain":
		if v, err := strconv.ParseFloat(value, 64); err == nil && n >= 1 && n <= 4 {
			s.AnalogGain[n-1] = clampGain(v)
		}
	case "input_source":
		if v, err := strconv.Atoi(value); err == nil && n >= 1 && n <= MaxChannels {
			if _, ok := InputSourceNames[InputSource(v)]; ok {
				s.InputSource[n-1] = InputSource(v)
			}
		}
	case "phantom_power":
		if v, err := strconv.Atoi(value); err == nil && n >= 1 && n <= 4 {
			s.PhantomPower[n-1] = v != 0
		}
	case "hpf_enabled":
		if v, err := strconv.Atoi(value); err == nil && n >= 1 && n <= MaxChannels {
			s.HPFEnabled[n-1] = v != 0
		}
	case "hpf_freq":
		if v, err := strconv.ParseFloat(value, 64); err == nil && n >= 1 && n <= MaxChannels {
			s.HPFFreq[n-1] = v
		}
	case "pad_enabled":
		if v, err := strconv.Atoi(value); err == nil && n >= 1 && n <= 4 {
			s.PadEnabled[n-1] = v != 0
		}
	}
}

// splitIndexedKey splits a key like "analog_gain3" into its base name and
// 1-based index.
func splitIndexedKey(key string) (string, int, bool) {
	i := len(key)
	for i > 0 && key[i-1] >= '0' && key[i-1] <= '9' {
		i--
	}
	if i == 0 || i == len(key) {
		return key, 0, false
	}

	n, err := strconv.Atoi(key[i:])
	if err != nil {
		return key, 0, false
	}

	return key[:i], n, true
}

// presetPath validates a preset name and resolves it inside dir.
func presetPath(dir, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return "", fmt.Errorf("invalid preset name '%s': %w", name, ErrInvalidParameter)
	}

	return filepath.Join(dir, name+".conf"), nil
}

// SavePreset stores the settings under a named preset in dir, creating the
// directory as needed.
func (s *Settings) SavePreset(dir, name string) error {
	path, err := presetPath(dir, name)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("preset save failed: %w", err)
	}

	return s.Save(path)
}

// LoadPreset reads a named preset from dir into s.
func (s *Settings) LoadPreset(dir, name string) error {
	path, err := presetPath(dir, name)
	if err != nil {
		return err
	}

	return s.Load(path)
}

// Presets lists the preset names available in dir. A missing directory is
// an empty list.
func Presets(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("preset list failed: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(e.Name(), ".conf"); ok {
			names = append(names, name)
		}
	}

	return names, nil
}
