package pathing

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	defaultDataDir   = "/var/lib/meter_telegram"
	defaultConfigDir = "/etc/meter_telegram"
)

// EnsureDirs creates the data and config directories.
// Called by the binaries on startup, not on import.
func EnsureDirs() error {
	for _, dir := range []string{GetDataDir(), GetConfigDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func GetMeterDbPath() string {
	return filepath.Join(GetDataDir(), "meter-readings.db")
}

func GetDumpPath() string {
	return filepath.Join(GetDataDir(), "telegram-dump.txt")
}

// MT_DATA_DIR overrides the default, mostly for tests and containers.
func GetDataDir() string {
	if dir := os.Getenv("MT_DATA_DIR"); dir != "" {
		return dir
	}
	return defaultDataDir
}

func GetConfigDir() string {
	if dir := os.Getenv("MT_CONFIG_DIR"); dir != "" {
		return dir
	}
	return defaultConfigDir
}
