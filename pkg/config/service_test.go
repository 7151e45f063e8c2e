package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReaderConfigWritesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadReaderConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, DefaultReaderConfig(), cfg)

	data, err := os.ReadFile(filepath.Join(dir, ReaderConfigFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `serial_device = "/dev/ttyUSB0"`)
	assert.Contains(t, string(data), "baudrate = 115200")

	// second load reads the file back
	again, err := LoadReaderConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadReaderConfigPartialFile(t *testing.T) {
	dir := t.TempDir()
	content := "serial_device = \"/dev/ttyAMA0\"\nmode = \"d0\"\nwake_up = true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ReaderConfigFile), []byte(content), 0o644))

	cfg, err := LoadReaderConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyAMA0", cfg.SerialDevice)
	assert.Equal(t, "d0", cfg.Mode)
	assert.True(t, cfg.WakeUp)
	assert.Equal(t, 15, cfg.TimeoutSeconds)
	assert.Equal(t, 4096, cfg.BufferSize)
	assert.Equal(t, 4096, cfg.MaxFailBytes)
}

func TestLoadReaderConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ReaderConfigFile), []byte("baudrate = ["), 0o644))

	_, err := LoadReaderConfig(dir)
	assert.Error(t, err)
}

func TestLoadMeterCollectorConfig(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadMeterCollectorConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9039", cfg.InterpreterAPIHost)
	assert.FileExists(t, filepath.Join(dir, MeterCollectorConfigFile))

	_, err = LoadMeterCollectorConfig(filepath.Join(dir, "missing", "dir"))
	assert.Error(t, err)
}
