// Telegram ties transport, framing, handshake and decoder together into a
// single read cycle that reports an Outcome per telegram.
package telegram

import (
	"errors"
	"fmt"
	"os"

	"github.com/NotCoffee418/meter_telegram/pkg/checksum"
	"github.com/NotCoffee418/meter_telegram/pkg/d0"
	"github.com/NotCoffee418/meter_telegram/pkg/decoder"
	"github.com/NotCoffee418/meter_telegram/pkg/esmerrors"
	"github.com/NotCoffee418/meter_telegram/pkg/framereader"
	"github.com/NotCoffee418/meter_telegram/pkg/transport"
	"github.com/sirupsen/logrus"
)

type Session struct {
	cfg    Config
	link   link
	dec    decoder.Decoder
	engine *d0.Engine
	buf    []byte
	length int
	dump   *os.File
	state  State
	log    logrus.FieldLogger
}

// Open the input named in cfg. A failed open leaves nothing behind.
func Open(cfg Config, dec decoder.Decoder, log logrus.FieldLogger) (*Session, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg = withDefaults(cfg)

	tcfg := transport.Config{
		Path:    cfg.Path,
		Baud:    cfg.Baud,
		Timeout: cfg.Timeout,
		Driver:  cfg.Driver,
	}
	if cfg.Mode == ModeD0 {
		tcfg.Baud = d0.InitialBaud
		tcfg.Framing = transport.FramingD0
	}

	t, err := transport.Open(tcfg, log)
	if err != nil {
		return nil, err
	}
	s, err := newSession(cfg, t, dec, log)
	if err != nil {
		t.Close()
		return nil, err
	}
	return s, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Mode == "" {
		cfg.Mode = ModeP1
	}
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.FallbackBaud <= 0 {
		cfg.FallbackBaud = DefaultFallbackBaud
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = transport.DefaultTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	// A line at the wrong speed never goes quiet, so the scan needs a budget
	switch {
	case cfg.MaxFailBytes == 0:
		cfg.MaxFailBytes = cfg.BufferSize
	case cfg.MaxFailBytes < 0:
		cfg.MaxFailBytes = 0
	}
	return cfg
}

func newSession(cfg Config, l link, dec decoder.Decoder, log logrus.FieldLogger) (*Session, error) {
	if cfg.Mode != ModeP1 && cfg.Mode != ModeD0 {
		return nil, fmt.Errorf("%w: mode %q", esmerrors.ErrProtocolUnsupported, cfg.Mode)
	}
	s := &Session{
		cfg:  cfg,
		link: l,
		dec:  dec,
		buf:  make([]byte, cfg.BufferSize),
		log:  log,
	}

	if cfg.DumpFile != "" {
		f, err := os.OpenFile(cfg.DumpFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Errorf("Could not open output file %s: %v", cfg.DumpFile, err)
			return nil, fmt.Errorf("%w: open dump file: %w", esmerrors.ErrIO, err)
		}
		s.dump = f
	}

	if cfg.Mode == ModeD0 {
		opts := d0.DefaultOptions()
		opts.WakeUp = cfg.WakeUp
		s.engine = d0.NewEngine(l, opts, log)
	}
	return s, nil
}

// Read acquires and decodes one telegram. Framing and checksum problems
// are reported through the Outcome, the returned error is reserved for
// failures that end the session.
func (s *Session) Read() (ReadResult, error) {
	if s.link == nil {
		return ReadResult{Outcome: OutcomeIOError}, esmerrors.ErrNotOpen
	}
	if s.state == StateFailed {
		return ReadResult{Outcome: OutcomeIOError}, fmt.Errorf("%w: session failed earlier", esmerrors.ErrNotOpen)
	}
	s.state = StateReading
	s.length = 0

	var res ReadResult
	var err error
	if s.cfg.Mode == ModeD0 {
		res, err = s.readD0()
	} else {
		res, err = s.readP1()
	}
	if err != nil {
		s.state = StateFailed
		res.Outcome = OutcomeIOError
		return res, err
	}
	if res.Length == 0 {
		s.state = StateIdle
		return res, nil
	}

	s.length = res.Length
	s.decode(&res)
	s.state = StateIdle
	return res, nil
}

func (s *Session) readP1() (ReadResult, error) {
	var res ReadResult
	n, err := framereader.ReadTelegram(s.link, s.buf, s.cfg.MaxFailBytes, s.log)
	if err != nil {
		if esmerrors.IsFatal(err) {
			return res, err
		}
		res.Outcome = OutcomeNoFrameFound
		if errors.Is(err, esmerrors.ErrBufferOverflow) {
			res.Outcome = OutcomeBufferOverflow
		}
		if res.Outcome == OutcomeNoFrameFound && s.link.IsTerminal() {
			return res, s.toggleBaud()
		}
		return res, nil
	}
	res.Length = n
	return res, nil
}

// toggleBaud alternates between the DSMR 4+ and the DSMR 2/3 rate.
func (s *Session) toggleBaud() error {
	next := s.cfg.FallbackBaud
	if s.link.Baud() != s.cfg.Baud {
		next = s.cfg.Baud
	}
	s.log.Infof("No telegram found at %d baud, trying %d", s.link.Baud(), next)
	return s.link.SetBaud(next)
}

func (s *Session) readD0() (ReadResult, error) {
	var res ReadResult
	hs, err := s.engine.Run(s.buf)
	res.Handshake = hs
	switch {
	case err == nil:
	case esmerrors.IsFatal(err):
		return res, err
	case errors.Is(err, esmerrors.ErrBufferOverflow):
		res.Outcome = OutcomeBufferOverflow
		return res, nil
	default:
		s.log.Warnf("D0 handshake failed: %v", err)
		res.Outcome = OutcomeNoFrameFound
		return res, nil
	}

	res.Length = hs.Length
	if hs.Verdict == d0.VerdictFailed {
		res.Outcome = OutcomeLRCMismatch
	}
	return res, nil
}

func (s *Session) decode(res *ReadResult) {
	s.state = StateDecoding
	frame := s.buf[:res.Length]

	s.dec.Init()
	s.dec.Feed(frame, true)
	res.Status = s.dec.Finish()
	res.Reading = s.dec.Reading()
	res.ParseErrors = s.dec.ParseErrors()

	if s.cfg.Mode == ModeP1 {
		res.CRC = checksum.ClassifyAndChecksum(frame)
		embedded, ok := s.dec.CRC()
		if !ok {
			embedded, ok = checksum.EmbeddedCRC(frame)
		}
		if ok && embedded != res.CRC {
			s.log.Warnf("CRC mismatch, telegram 0x%04X, calculated 0x%04X", embedded, res.CRC)
			res.Outcome = OutcomeCRCMismatch
		} else {
			s.log.Debugf("Parsing %s, data CRC 0x%x, telegram CRC 0x%x", res.Status, res.CRC, embedded)
		}
	}

	if res.ParseErrors > 0 {
		s.log.Infof("Parse errors: %d", res.ParseErrors)
		s.dumpTelegram(frame)
	}
}

func (s *Session) dumpTelegram(frame []byte) {
	if s.dump == nil {
		return
	}
	if _, err := s.dump.Write(frame); err != nil {
		s.log.Warnf("Could not write to %s: %v", s.cfg.DumpFile, err)
	}
}

// Telegram returns the raw bytes of the last telegram read. They are only
// valid until the next Read.
func (s *Session) Telegram() []byte { return s.buf[:s.length] }

func (s *Session) State() State { return s.state }

// IsTerminal is false for capture files, those are read once.
func (s *Session) IsTerminal() bool { return s.link != nil && s.link.IsTerminal() }

// Close restores and releases the transport and closes the dump file.
func (s *Session) Close() error {
	var errs []error
	if s.link != nil {
		if err := s.link.FlushInput(); err != nil {
			errs = append(errs, err)
		}
		if err := s.link.Close(); err != nil {
			errs = append(errs, err)
		}
		s.link = nil
	}
	if s.dump != nil {
		if err := s.dump.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dump file: %w", err))
		}
		s.dump = nil
	}
	s.state = StateIdle
	return errors.Join(errs...)
}
