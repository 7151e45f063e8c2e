package transport

import (
	"fmt"
	"io"
	"time"

	jacobsa "github.com/jacobsa/go-serial/serial"
	"go.bug.st/serial"
)

type portOpener func(cfg Config, guard *termGuard) (Port, error)

var openers = map[Driver]portOpener{
	DriverBugst:   openBugst,
	DriverJacobsa: openJacobsa,
}

func bugstMode(cfg Config) *serial.Mode {
	mode := &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if cfg.Framing == FramingD0 {
		mode.DataBits = 7
		mode.Parity = serial.EvenParity
	}
	return mode
}

type bugstPort struct {
	port serial.Port
	mode *serial.Mode
}

func openBugst(cfg Config, _ *termGuard) (Port, error) {
	mode := bugstMode(cfg)
	port, err := serial.Open(cfg.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	if err := port.SetReadTimeout(cfg.Timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return &bugstPort{port: port, mode: mode}, nil
}

func (p *bugstPort) Read(b []byte) (int, error)  { return p.port.Read(b) }
func (p *bugstPort) Write(b []byte) (int, error) { return p.port.Write(b) }
func (p *bugstPort) Close() error                { return p.port.Close() }
func (p *bugstPort) ResetInput() error           { return p.port.ResetInputBuffer() }
func (p *bugstPort) Drain() error                { return p.port.Drain() }

func (p *bugstPort) Reconfigure(baud int) error {
	p.mode.BaudRate = baud
	return p.port.SetMode(p.mode)
}

// jacobsaOptions converts the session config. The library wants the
// inter-character timeout in multiples of 100ms, at most 25.5s.
func jacobsaOptions(cfg Config) jacobsa.OpenOptions {
	timeout := cfg.Timeout.Round(100 * time.Millisecond)
	if timeout < 100*time.Millisecond {
		timeout = 100 * time.Millisecond
	}
	if timeout > 25500*time.Millisecond {
		timeout = 25500 * time.Millisecond
	}

	options := jacobsa.OpenOptions{
		PortName:              cfg.Path,
		BaudRate:              uint(cfg.Baud),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            jacobsa.PARITY_NONE,
		InterCharacterTimeout: uint(timeout.Milliseconds()),
		MinimumReadSize:       0,
	}
	if cfg.Framing == FramingD0 {
		options.DataBits = 7
		options.ParityMode = jacobsa.PARITY_EVEN
	}
	return options
}

// jacobsaPort cannot change speed in place, it reopens the device.
// Flush and drain go through the terminal guard descriptor.
type jacobsaPort struct {
	rwc     io.ReadWriteCloser
	options jacobsa.OpenOptions
	guard   *termGuard
}

func openJacobsa(cfg Config, guard *termGuard) (Port, error) {
	options := jacobsaOptions(cfg)
	rwc, err := jacobsa.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return &jacobsaPort{rwc: rwc, options: options, guard: guard}, nil
}

func (p *jacobsaPort) Read(b []byte) (int, error)  { return p.rwc.Read(b) }
func (p *jacobsaPort) Write(b []byte) (int, error) { return p.rwc.Write(b) }
func (p *jacobsaPort) Close() error                { return p.rwc.Close() }
func (p *jacobsaPort) ResetInput() error           { return p.guard.flushInput() }
func (p *jacobsaPort) Drain() error                { return p.guard.drain() }

func (p *jacobsaPort) Reconfigure(baud int) error {
	if err := p.guard.drain(); err != nil {
		return err
	}
	if err := p.rwc.Close(); err != nil {
		return err
	}
	p.options.BaudRate = uint(baud)
	rwc, err := jacobsa.Open(p.options)
	if err != nil {
		return fmt.Errorf("failed to reopen serial port at %d baud: %w", baud, err)
	}
	p.rwc = rwc
	return nil
}
