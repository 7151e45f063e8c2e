package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/NotCoffee418/meter_telegram/pkg/pathing"
)

const (
	ReaderConfigFile         = "p1_reader.toml"
	MeterCollectorConfigFile = "meter_collector.toml"
)

func DefaultReaderConfig() *ReaderConfig {
	return &ReaderConfig{
		SerialDevice:     "/dev/ttyUSB0",
		Baudrate:         115200,
		FallbackBaudrate: 9600,
		Mode:             "p1",
		TimeoutSeconds:   15,
		DumpFile:         pathing.GetDumpPath(),
		BufferSize:       4096,
		MaxFailBytes:     4096,
		SerialDriver:     "bugst",
		LogLevel:         "info",
		ListenAddress:    "0.0.0.0",
		ListenPort:       9039,
	}
}

func DefaultMeterCollectorConfig() *MeterCollectorConfig {
	return &MeterCollectorConfig{
		InterpreterAPIHost: "localhost:9039",
		LogLevel:           "info",
	}
}

// LoadReaderConfig reads p1_reader.toml from dir, writing the defaults there
// first if it does not exist yet. Keys missing from an existing file keep
// their default value.
func LoadReaderConfig(dir string) (*ReaderConfig, error) {
	cfg := DefaultReaderConfig()
	if err := load(filepath.Join(dir, ReaderConfigFile), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadMeterCollectorConfig(dir string) (*MeterCollectorConfig, error) {
	cfg := DefaultMeterCollectorConfig()
	if err := load(filepath.Join(dir, MeterCollectorConfigFile), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(path string, cfg any) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return writeDefault(path, cfg)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func writeDefault(path string, cfg any) error {
	cfgFile, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create default config: %w", err)
	}
	defer cfgFile.Close()
	if err := toml.NewEncoder(cfgFile).Encode(cfg); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}
