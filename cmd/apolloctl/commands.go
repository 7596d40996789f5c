package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	apollo "github.com/bluebillshtml/apollodriversarchlinux"
)

func gainCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gain <channel> [value]",
		Short: "Get or set analog input gain (dB)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid channel: %s", args[0])
			}

			return withSession(func(s *session) error {
				if len(args) == 2 {
					gain, err := strconv.ParseFloat(args[1], 64)
					if err != nil {
						return fmt.Errorf("invalid gain: %s", args[1])
					}
					if err := s.ctrl.SetAnalogGain(channel, gain); err != nil {
						return err
					}
					if err := s.persist(); err != nil {
						return err
					}

					// Read back so clamping shows through.
					set, err := s.ctrl.AnalogGainDB(channel)
					if err != nil {
						return err
					}
					fmt.Printf("Set analog input %d gain to %.1f dB\n", channel, set)

					return nil
				}

				gain, err := s.ctrl.AnalogGainDB(channel)
				if err != nil {
					return err
				}
				fmt.Printf("Analog input %d gain: %.1f dB\n", channel, gain)

				return nil
			})
		},
	}
}

func phantomCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "phantom <channel> [on|off]",
		Short: "Get or set phantom power",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid channel: %s", args[0])
			}

			return withSession(func(s *session) error {
				if len(args) == 2 {
					var enabled bool
					switch args[1] {
					case "on":
						enabled = true
					case "off":
						enabled = false
					default:
						return fmt.Errorf("invalid value: %s (use 'on' or 'off')", args[1])
					}

					if err := s.ctrl.SetPhantomPower(channel, enabled); err != nil {
						return err
					}
					if err := s.persist(); err != nil {
						return err
					}
					fmt.Printf("Set phantom power for channel %d to %s\n", channel, args[1])

					return nil
				}

				enabled, err := s.ctrl.PhantomPowerEnabled(channel)
				if err != nil {
					return err
				}
				state := "off"
				if enabled {
					state = "on"
				}
				fmt.Printf("Phantom power for channel %d: %s\n", channel, state)

				return nil
			})
		},
	}
}

func inputCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "input <channel> [source]",
		Short: "Get or set input source",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid channel: %s", args[0])
			}

			return withSession(func(s *session) error {
				if len(args) == 2 {
					src, err := apollo.ParseInputSource(args[1])
					if err != nil {
						return err
					}
					if err := s.ctrl.SetInputSource(channel, src); err != nil {
						return err
					}
					if err := s.persist(); err != nil {
						return err
					}
					fmt.Printf("Set channel %d input to %s\n", channel, src)

					return nil
				}

				src, err := s.ctrl.InputSourceFor(channel)
				if err != nil {
					return err
				}
				fmt.Printf("Channel %d input: %s\n", channel, src)

				return nil
			})
		},
	}
}

func monitorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor [source]",
		Short: "Get or set monitor source",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(s *session) error {
				if len(args) == 1 {
					src, err := apollo.ParseMonitorSource(args[0])
					if err != nil {
						return err
					}
					if err := s.ctrl.SetMonitorSource(src); err != nil {
						return err
					}
					if err := s.persist(); err != nil {
						return err
					}
					fmt.Printf("Set monitor source to %s\n", src)

					return nil
				}

				fmt.Printf("Monitor source: %s\n", s.ctrl.MonitorSource())

				return nil
			})
		},
	}
}

func saveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "save <preset>",
		Short: "Save current settings to a named preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(s *session) error {
				cfg := s.ctrl.Settings()
				if err := cfg.SavePreset(s.dir, args[0]); err != nil {
					return err
				}
				fmt.Printf("Saving settings to preset: %s\n", args[0])

				return nil
			})
		},
	}
}

func loadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "load <preset>",
		Short: "Load settings from a named preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(s *session) error {
				cfg := apollo.DefaultSettings()
				if err := cfg.LoadPreset(s.dir, args[0]); err != nil {
					return err
				}
				if err := s.ctrl.Apply(cfg); err != nil {
					return err
				}
				if err := s.persist(); err != nil {
					return err
				}
				fmt.Printf("Loading settings from preset: %s\n", args[0])

				return nil
			})
		},
	}
}

func presetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List saved presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := apollo.Presets(viper.GetString("presets"))
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Println("No presets saved.")

				return nil
			}
			for _, name := range names {
				fmt.Println(name)
			}

			return nil
		},
	}
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show device status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(func(s *session) error {
				fmt.Println("Apollo Twin Status")
				fmt.Println("==================")
				fmt.Println()

				fmt.Println("Analog Input Gains:")
				for ch := 1; ch <= 4; ch++ {
					gain, err := s.ctrl.AnalogGainDB(ch)
					if err != nil {
						fmt.Printf("  Channel %d: Error\n", ch)

						continue
					}
					fmt.Printf("  Channel %d: %.1f dB\n", ch, gain)
				}

				fmt.Println()
				fmt.Println("Phantom Power:")
				for ch := 1; ch <= 4; ch++ {
					enabled, err := s.ctrl.PhantomPowerEnabled(ch)
					if err != nil {
						fmt.Printf("  Channel %d: Unknown\n", ch)

						continue
					}
					state := "OFF"
					if enabled {
						state = "ON"
					}
					fmt.Printf("  Channel %d: %s\n", ch, state)
				}

				fmt.Println()
				fmt.Println("Input Sources:")
				for ch := 1; ch <= apollo.MaxChannels; ch++ {
					src, err := s.ctrl.InputSourceFor(ch)
					if err != nil {
						fmt.Printf("  Channel %d: Unknown\n", ch)

						continue
					}
					fmt.Printf("  Channel %d: %s\n", ch, src)
				}

				fmt.Println()
				fmt.Printf("Monitor source: %s\n", s.ctrl.MonitorSource())

				return nil
			})
		},
	}
}
