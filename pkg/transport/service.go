// Transport owns the serial device or capture file a meter is read from.
// Terminal attributes found at open are restored on every close path.
package transport

import (
	"errors"
	"fmt"
	"os"

	"github.com/NotCoffee418/meter_telegram/pkg/esmerrors"
	"github.com/sirupsen/logrus"
)

// Open a device or file. If terminal attributes can be read from path it is
// treated as a serial line and configured through the selected driver,
// otherwise it is read as a plain file.
func Open(cfg Config, log logrus.FieldLogger) (*Session, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverBugst
	}

	opener, ok := openers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown serial driver %q", cfg.Driver)
	}

	file, err := openDevice(cfg.Path)
	if err != nil {
		log.Errorf("Could not open input file/device %s: %v", cfg.Path, err)
		return nil, fmt.Errorf("%w: open %s: %w", esmerrors.ErrIO, cfg.Path, err)
	}

	s := &Session{cfg: cfg, file: file, baud: cfg.Baud, log: log}

	guard, err := captureTerm(file)
	if err != nil {
		log.Debugf("%s is not a terminal, reading it as a file", cfg.Path)
		// Captures are never written to
		file.Close()
		if s.file, err = os.Open(cfg.Path); err != nil {
			return nil, fmt.Errorf("%w: open %s: %w", esmerrors.ErrIO, cfg.Path, err)
		}
		return s, nil
	}

	log.Debugf("%s seems to be a serial terminal", cfg.Path)
	s.guard = guard
	s.terminal = true

	port, err := opener(cfg, guard)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: %w", esmerrors.ErrIO, err)
	}
	s.port = port

	// Whatever arrived before we configured the line is noise
	if err := s.FlushInput(); err != nil {
		s.Close()
		return nil, err
	}

	log.Infof("Connected to %s at %d baud %s", cfg.Path, cfg.Baud, cfg.Framing)
	return s, nil
}

func (s *Session) Read(p []byte) (int, error) {
	if s.closed {
		return 0, esmerrors.ErrNotOpen
	}
	if s.terminal {
		return s.port.Read(p)
	}
	return s.file.Read(p)
}

// Write sends p to the meter. Without a terminal nobody listens and the
// bytes are dropped.
func (s *Session) Write(p []byte) (int, error) {
	if s.closed {
		return 0, esmerrors.ErrNotOpen
	}
	if !s.terminal {
		s.log.Debugf("Dropping %d byte write to plain file %s", len(p), s.cfg.Path)
		return len(p), nil
	}
	n, err := s.port.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: write: %w", esmerrors.ErrIO, err)
	}
	return n, nil
}

// SetBaud changes the line speed and drops pending input.
// For plain files only the bookkeeping changes.
func (s *Session) SetBaud(rate int) error {
	if s.closed {
		return esmerrors.ErrNotOpen
	}
	if rate == s.baud {
		return nil
	}
	if s.terminal {
		if err := s.port.Reconfigure(rate); err != nil {
			return fmt.Errorf("%w: set baud rate %d: %w", esmerrors.ErrIO, rate, err)
		}
		s.log.Debugf("Switched %s to %d baud", s.cfg.Path, rate)
	}
	s.baud = rate
	return s.FlushInput()
}

func (s *Session) FlushInput() error {
	if s.closed {
		return esmerrors.ErrNotOpen
	}
	if !s.terminal {
		return nil
	}
	if err := s.port.ResetInput(); err != nil {
		return fmt.Errorf("%w: flush input: %w", esmerrors.ErrIO, err)
	}
	return nil
}

// Drain waits until everything written has left the port.
func (s *Session) Drain() error {
	if s.closed {
		return esmerrors.ErrNotOpen
	}
	if !s.terminal {
		return nil
	}
	if err := s.port.Drain(); err != nil {
		return fmt.Errorf("%w: drain output: %w", esmerrors.ErrIO, err)
	}
	return nil
}

func (s *Session) Baud() int        { return s.baud }
func (s *Session) IsTerminal() bool { return s.terminal }
func (s *Session) Path() string     { return s.cfg.Path }

// Close restores the saved terminal attributes before any handle is
// released. Calling it again is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.guard != nil {
		if err := s.guard.restore(); err != nil {
			errs = append(errs, fmt.Errorf("restore terminal attributes: %w", err))
		}
	}
	if s.port != nil {
		if err := s.port.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close port: %w", err))
		}
	}
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.cfg.Path, err))
		}
	}

	if s.terminal {
		s.log.Infof("Disconnected from %s", s.cfg.Path)
	}
	return errors.Join(errs...)
}
