// Command pitwall reads vehicle telemetry from the onboard controller and
// distributes the decoded records to the dashboard, a CSV log, the MQTT
// broker and the archive database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/banshee-data/pitwall/internal/version"
)

const envPrefix = "PITWALL"

var cfgFile string

func newRootCmd(s *settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "pitwall",
		Short:        "Vehicle telemetry acquisition and distribution",
		Version:      version.Full(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *s)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"settings file (default is $HOME/.pitwall.yml)")
	cmd.PersistentFlags().StringVar(&s.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&s.Dev, "dev", false, "simulate the controller and use a development logger")
	cmd.PersistentFlags().StringVar(&s.ArchivePath, "archive-db", "pitwall.db", "SQLite archive database path")

	f := cmd.Flags()
	f.StringVar(&s.CarConfig, "car-config", "car_config.json", "vehicle sensor configuration file")
	f.StringVar(&s.Port, "port", "", "serial device (default: first /dev/ttyUSB* adapter)")
	f.IntVar(&s.Serial.BaudRate, "baud", 9600, "serial baud rate")
	f.IntVar(&s.Serial.DataBits, "data-bits", 8, "serial data bits")
	f.IntVar(&s.Serial.StopBits, "stop-bits", 1, "serial stop bits")
	f.StringVar(&s.Serial.Parity, "parity", "N", "serial parity (N, E or O)")
	f.DurationVar(&s.ReadTimeout, "read-timeout", 25*time.Millisecond, "serial read timeout")
	f.IntVar(&s.PacketSize, "packet-size", 23, "frame size in bytes")
	f.StringVar(&s.DataDir, "data-dir", "Data", "directory for session CSV files")
	f.StringVar(&s.Listen, "listen", ":8080", "dashboard listen address")

	f.BoolVar(&s.DisableLocal, "disable-local", false, "do not write session CSV files")
	f.BoolVar(&s.DisableRemote, "disable-remote", false, "do not publish to the MQTT broker")
	f.BoolVar(&s.DisableDisplay, "disable-display", false, "do not serve the dashboard")
	f.BoolVar(&s.DisableArchive, "disable-archive", false, "do not sample records into the archive database")
	f.IntVar(&s.ArchiveEvery, "archive-every", 20, "archive every Nth record")

	f.StringVar(&s.MQTT.Host, "mqtt-host", "", "MQTT broker host")
	f.IntVar(&s.MQTT.Port, "mqtt-port", 8883, "MQTT broker port")
	f.StringVar(&s.MQTT.Path, "mqtt-path", "", "websocket path for the wss transport")
	f.StringVar(&s.MQTT.Username, "mqtt-username", "", "MQTT username")
	f.StringVar(&s.MQTT.Password, "mqtt-password", "", "MQTT password")
	f.StringVar(&s.MQTT.PublishTopic, "mqtt-publish-topic", "", "topic records are published to")
	f.StringVar(&s.MQTT.SubscribeTopic, "mqtt-subscribe-topic", "", "topic configuration updates arrive on")
	f.StringVar(&s.MQTT.ClientID, "mqtt-client-id", "", "MQTT client id (default: random)")
	f.StringVar(&s.MQTT.CAFile, "mqtt-ca-file", "", "PEM bundle used to verify the broker")
	f.StringVar(&s.MQTT.Transport, "mqtt-transport", "tls", "MQTT transport (tls or wss)")
	f.DurationVar(&s.MQTT.Timeout, "mqtt-timeout", 2*time.Second, "bound on each broker round trip")

	f.StringVar(&s.NATS.URL, "nats-url", "", "NATS server URL (empty disables the bus sink)")
	f.StringVar(&s.NATS.Subject, "nats-subject", "pitwall.records", "subject records are published to")
	f.StringVar(&s.NATS.ConfigSubject, "nats-config-subject", "", "subject configuration updates arrive on")
	f.StringVar(&s.NATS.Token, "nats-token", "", "NATS auth token")

	cmd.AddCommand(newPortsCmd(), newMigrateCmd(s))
	return cmd
}

func main() {
	s := &settings{}
	rootCmd := newRootCmd(s)
	cobra.OnInitialize(func() { initConfig(rootCmd) })

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// initConfig reads in the settings file and ENV variables if set.
func initConfig(rootCmd *cobra.Command) {
	v := viper.GetViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		v.AddConfigPath(home)
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".pitwall")
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
	}

	bindFlags(rootCmd, v)
	for _, cmd := range rootCmd.Commands() {
		bindFlags(cmd, v)
	}
}

// bindFlags applies settings-file and environment values to every flag the
// user did not set on the command line.
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		// env vars can't have dashes: --mqtt-host is PITWALL_MQTT_HOST
		if strings.Contains(f.Name, "-") {
			envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			if err := v.BindEnv(f.Name, fmt.Sprintf("%s_%s", envPrefix, envVarSuffix)); err != nil {
				fmt.Fprintf(os.Stderr, "Could not bind env var %s: %v\n", f.Name, err)
			}
		}
		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val)); err != nil {
				fmt.Fprintf(os.Stderr, "Could not set flag value for %s: %v\n", f.Name, err)
			}
		}
	})
}
