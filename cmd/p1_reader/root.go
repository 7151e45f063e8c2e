package main

import (
	"fmt"
	"time"

	"github.com/NotCoffee418/meter_telegram/pkg/config"
	"github.com/NotCoffee418/meter_telegram/pkg/decoder"
	"github.com/NotCoffee418/meter_telegram/pkg/logging"
	"github.com/NotCoffee418/meter_telegram/pkg/pathing"
	"github.com/NotCoffee418/meter_telegram/pkg/telegram"
	"github.com/NotCoffee418/meter_telegram/pkg/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configDir string

	// Overrides for the config file
	device       string
	mode         string
	baudRate     int
	fallbackBaud int
	wakeUp       bool
	serialDriver string
	dumpFile     string
	logLevel     string
	logFile      string
)

var rootCmd = &cobra.Command{
	Use:   "p1_reader",
	Short: "Smart meter telegram reader",
	Long: `p1_reader reads DSMR P1 push telegrams or IEC 62056-21 (D0) telegrams
from a serial port or from a capture file and decodes them.

Input:
  P1:  --device /dev/ttyUSB0 [--baud 115200 --fallback-baud 9600]
  D0:  --device /dev/ttyUSB0 --mode d0 [--wake-up]
  File: --device capture.txt

Settings not given on the command line are read from p1_reader.toml in the
config directory, which is created with defaults when missing.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", pathing.GetConfigDir(), "Directory holding p1_reader.toml")

	rootCmd.PersistentFlags().StringVarP(&device, "device", "d", "", "Serial port or capture file")
	rootCmd.PersistentFlags().StringVarP(&mode, "mode", "m", "", "Protocol, p1 or d0")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 0, "P1 baud rate")
	rootCmd.PersistentFlags().IntVar(&fallbackBaud, "fallback-baud", 0, "P1 baud rate tried when nothing is found")
	rootCmd.PersistentFlags().BoolVar(&wakeUp, "wake-up", false, "Send the D0 wake-up sequence before signing on")
	rootCmd.PersistentFlags().StringVar(&serialDriver, "driver", "", "Serial driver, bugst or jacobsa")
	rootCmd.PersistentFlags().StringVar(&dumpFile, "dump-file", "", "Append telegrams with parse errors here")

	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Log to this file instead of stdout")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the config file and applies the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.ReaderConfig, error) {
	if err := pathing.EnsureDirs(); err != nil && !cmd.Flags().Changed("config-dir") {
		return nil, err
	}
	cfg, err := config.LoadReaderConfig(configDir)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("device") {
		cfg.SerialDevice = device
	}
	if flags.Changed("mode") {
		cfg.Mode = mode
	}
	if flags.Changed("baud") {
		cfg.Baudrate = baudRate
	}
	if flags.Changed("fallback-baud") {
		cfg.FallbackBaudrate = fallbackBaud
	}
	if flags.Changed("wake-up") {
		cfg.WakeUp = wakeUp
	}
	if flags.Changed("driver") {
		cfg.SerialDriver = serialDriver
	}
	if flags.Changed("dump-file") {
		cfg.DumpFile = dumpFile
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-file") {
		cfg.LogFile = logFile
	}
	return cfg, nil
}

// setup loads the config, builds the logger and opens the session. The
// returned cleanup closes both.
func setup(cmd *cobra.Command) (*config.ReaderConfig, *telegram.Session, logrus.FieldLogger, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	log, logCloser, err := logging.New(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return nil, nil, nil, nil, err
	}

	session, err := telegram.Open(sessionConfig(cfg), decoder.NewOBIS(log), log)
	if err != nil {
		log.Errorf("Could not open %s: %v", cfg.SerialDevice, err)
		logCloser.Close()
		return nil, nil, nil, nil, fmt.Errorf("open %s: %w", cfg.SerialDevice, err)
	}

	cleanup := func() {
		if err := session.Close(); err != nil {
			log.Warnf("Closing session: %v", err)
		}
		logCloser.Close()
	}
	return cfg, session, log, cleanup, nil
}

func sessionConfig(cfg *config.ReaderConfig) telegram.Config {
	return telegram.Config{
		Path:         cfg.SerialDevice,
		Mode:         telegram.Mode(cfg.Mode),
		Baud:         cfg.Baudrate,
		FallbackBaud: cfg.FallbackBaudrate,
		WakeUp:       cfg.WakeUp,
		Timeout:      time.Duration(cfg.TimeoutSeconds) * time.Second,
		DumpFile:     cfg.DumpFile,
		BufferSize:   cfg.BufferSize,
		MaxFailBytes: cfg.MaxFailBytes,
		Driver:       transport.Driver(cfg.SerialDriver),
	}
}
