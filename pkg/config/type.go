package config

type MeterCollectorConfig struct {
	InterpreterAPIHost string `toml:"interpreter_api_host"`
	TLSEnabled         bool   `toml:"tls_enabled"`
	LogLevel           string `toml:"log_level"`
}

type ReaderConfig struct {
	SerialDevice     string `toml:"serial_device"`
	Baudrate         int    `toml:"baudrate"`
	FallbackBaudrate int    `toml:"fallback_baudrate"`
	// p1 or d0
	Mode           string `toml:"mode"`
	WakeUp         bool   `toml:"wake_up"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	DumpFile       string `toml:"dump_file"`
	BufferSize     int    `toml:"buffer_size"`
	// -1 for no limit
	MaxFailBytes int `toml:"max_fail_bytes"`
	// bugst or jacobsa
	SerialDriver string `toml:"serial_driver"`

	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`

	ListenAddress string `toml:"listen_address"`
	ListenPort    int    `toml:"listen_port"`

	PackmsgServer  string `toml:"packmsg_server"`
	PackmsgPort    int    `toml:"packmsg_port"`
	PackmsgOutFile string `toml:"packmsg_out_file"`
}
