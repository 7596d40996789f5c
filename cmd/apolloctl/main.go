package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	apollo "github.com/bluebillshtml/apollodriversarchlinux"
)

const (
	defaultConfigFile = "/etc/apollo.conf"
	defaultPresetDir  = "/etc/apollo.d"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apolloctl",
		Short: "Apollo Twin control tool",
		Long: `apolloctl reads and changes Apollo Twin device parameters: analog input
gains, phantom power, input routing and monitor selection. Changes are
pushed to the device and persisted in the settings file, so they survive
across invocations and are picked up by apollod on its next reload.

Channels: 1-4 (analog inputs)
Sources: analog1, analog2, analog3, analog4, digital1, digital2
Monitor: main, alt, cue`,
		SilenceUsage: true,
	}

	viper.SetEnvPrefix("APOLLO")
	viper.AutomaticEnv()

	viper.SetDefault("config", defaultConfigFile)
	viper.SetDefault("presets", defaultPresetDir)

	cmd.PersistentFlags().String("config", viper.GetString("config"), "Settings file")
	cmd.PersistentFlags().String("presets", viper.GetString("presets"), "Preset directory")

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding flags: %v\n", err)
	}

	cmd.AddCommand(
		gainCommand(),
		phantomCommand(),
		inputCommand(),
		monitorCommand(),
		saveCommand(),
		loadCommand(),
		presetsCommand(),
		statusCommand(),
	)

	return cmd
}

// session is one connected control exchange: a device, its controller, and
// the settings file the controller state is persisted to.
type session struct {
	dev  *apollo.Device
	ctrl *apollo.Controller
	path string
	dir  string
}

// openSession brings up a device, then replays the stored settings so the
// controller mirror matches what previous invocations left behind. A missing
// settings file starts from the defaults.
func openSession() (*session, error) {
	sim := apollo.NewSimDevice(nil)
	dev, err := apollo.OpenDevice(sim, nil)
	if err != nil {
		_ = sim.Close()

		return nil, fmt.Errorf("failed to initialize Apollo control interface: %w", err)
	}

	ctrl := apollo.NewController(dev, apollo.SimCodec{})

	// A missing or unreadable settings file starts from the defaults.
	cfg := apollo.DefaultSettings()
	if err := cfg.Load(viper.GetString("config")); err != nil {
		cfg = apollo.DefaultSettings()
	}
	if err := ctrl.Apply(cfg); err != nil {
		_ = dev.Close()

		return nil, fmt.Errorf("failed to apply stored settings: %w", err)
	}

	return &session{
		dev:  dev,
		ctrl: ctrl,
		path: viper.GetString("config"),
		dir:  viper.GetString("presets"),
	}, nil
}

func (s *session) close() {
	_ = s.dev.Close()
}

// persist writes the controller's current settings back to the settings
// file.
func (s *session) persist() error {
	if err := s.ctrl.Save(s.path); err != nil {
		return fmt.Errorf("failed to save settings to %s: %w", s.path, err)
	}

	return nil
}

// withSession runs fn inside an open control session.
func withSession(fn func(s *session) error) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	return fn(s)
}
