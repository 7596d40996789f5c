package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	defaultConfigFile = "/etc/apollo.conf"
	defaultPresetDir  = "/etc/apollo.d"
	defaultListenAddr = "localhost:8090"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootCommand builds the apollod command with its flags bound to viper so
// every option can also come from the APOLLOD_* environment.
func rootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apollod",
		Short: "Apollo Twin control daemon",
		Long: `apollod owns an Apollo Twin interface: it applies the stored settings at
startup, reapplies them on SIGHUP, suspends and resumes the device on
SIGUSR1, and serves device status and Prometheus metrics over HTTP.

Without a register window path the daemon drives the built-in simulated
device, which is useful for exercising the control path on machines
without the hardware.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(optionsFromViper())
		},
	}

	setupFlags(cmd)

	return cmd
}

func setupFlags(cmd *cobra.Command) {
	viper.SetEnvPrefix("APOLLOD")
	viper.AutomaticEnv()

	viper.SetDefault("config", defaultConfigFile)
	viper.SetDefault("presets", defaultPresetDir)
	viper.SetDefault("listen", defaultListenAddr)
	viper.SetDefault("registers", "")
	viper.SetDefault("pidfile", "")

	cmd.Flags().String("config", viper.GetString("config"), "Settings file applied at startup and on SIGHUP")
	cmd.Flags().String("presets", viper.GetString("presets"), "Directory holding named settings presets")
	cmd.Flags().String("listen", viper.GetString("listen"), "Address of the metrics and status HTTP endpoint")
	cmd.Flags().String("registers", viper.GetString("registers"), "Path to a mapped register window (empty = simulated device)")
	cmd.Flags().String("pidfile", viper.GetString("pidfile"), "Write the daemon PID to this file")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		fmt.Fprintf(os.Stderr, "Error binding flags: %v\n", err)
	}
}

func optionsFromViper() daemonOptions {
	return daemonOptions{
		ConfigFile: viper.GetString("config"),
		PresetDir:  viper.GetString("presets"),
		Listen:     viper.GetString("listen"),
		Registers:  viper.GetString("registers"),
		PIDFile:    viper.GetString("pidfile"),
	}
}
