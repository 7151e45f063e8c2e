// D0 runs the IEC 62056-21 request/response exchange over an optical or
// electrical meter port. Every read cycle is a full handshake, no connection
// state survives between telegrams.
package d0

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/NotCoffee418/meter_telegram/pkg/checksum"
	"github.com/NotCoffee418/meter_telegram/pkg/esmerrors"
	"github.com/sirupsen/logrus"
)

const (
	soh byte = 0x01
	ack byte = 0x06
)

var signOn = []byte("/?!\r\n")

type Engine struct {
	link  Link
	opts  Options
	log   logrus.FieldLogger
	sleep func(time.Duration)
	one   [1]byte
}

func NewEngine(link Link, opts Options, log logrus.FieldLogger) *Engine {
	def := DefaultOptions()
	if opts.WakeUpBytes <= 0 {
		opts.WakeUpBytes = def.WakeUpBytes
	}
	if opts.SettleTime <= 0 {
		opts.SettleTime = def.SettleTime
	}
	if opts.AckDelay <= 0 {
		opts.AckDelay = def.AckDelay
	}
	if opts.TrailerBudget <= 0 {
		opts.TrailerBudget = def.TrailerBudget
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Engine{link: link, opts: opts, log: log, sleep: time.Sleep}
}

// Run performs one handshake and leaves the telegram in buf[:res.Length].
// A failed block check is reported in res.Verdict, the telegram is still
// returned. Errors are returned only when no telegram was obtained.
func (e *Engine) Run(buf []byte) (HandshakeResult, error) {
	res := HandshakeResult{Mode: ModeA, Baud: InitialBaud}

	if e.opts.WakeUp {
		if err := e.wakeUp(); err != nil {
			return res, err
		}
	}

	if err := e.link.SetBaud(InitialBaud); err != nil {
		return res, err
	}
	if err := e.link.FlushInput(); err != nil {
		return res, err
	}
	if err := e.write(signOn); err != nil {
		return res, err
	}

	ident, err := e.readIdent(buf)
	if err != nil {
		return res, err
	}
	res.Identification = ident
	e.log.Debugf("Meter identification: %s", ident)

	mode, baud, err := DetectMode(ident)
	res.Mode = mode
	if err != nil {
		return res, err
	}

	switch {
	case mode.Acknowledged():
		ackMsg := []byte{ack, '0', baudChar(baud), '0', '\r', '\n'}
		if err := e.write(ackMsg); err != nil {
			return res, err
		}
		if err := e.link.Drain(); err != nil {
			return res, err
		}
		// The meter switches first
		e.sleep(e.opts.AckDelay)
		fallthrough
	case mode == ModeB:
		if err := e.link.SetBaud(baud); err != nil {
			return res, err
		}
	}
	res.Baud = baud
	e.log.Debugf("Mode %s at %d baud", mode, baud)

	n, verdict, err := e.readTelegram(buf)
	if err != nil {
		return res, err
	}
	res.Length = n
	res.Verdict = verdict

	if mode.Negotiated() {
		if err := e.signOff(); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (e *Engine) wakeUp() error {
	if err := e.link.SetBaud(InitialBaud); err != nil {
		return err
	}
	e.log.Debugf("Sending %d wake-up bytes", e.opts.WakeUpBytes)
	if err := e.write(make([]byte, e.opts.WakeUpBytes)); err != nil {
		return err
	}
	if err := e.link.Drain(); err != nil {
		return err
	}
	e.sleep(e.opts.SettleTime)
	return nil
}

func (e *Engine) signOff() error {
	body := []byte{'B', '0', checksum.ETX}
	msg := append([]byte{soh}, body...)
	msg = append(msg, checksum.LRC(body))
	if err := e.write(msg); err != nil {
		return err
	}
	return e.link.Drain()
}

func (e *Engine) write(p []byte) error {
	if _, err := e.link.Write(p); err != nil {
		if errors.Is(err, esmerrors.ErrIO) {
			return err
		}
		return fmt.Errorf("%w: %w", esmerrors.ErrIO, err)
	}
	return nil
}

func (e *Engine) readByte() (byte, bool, error) {
	n, err := e.link.Read(e.one[:])
	if n == 1 {
		return e.one[0], true, nil
	}
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrDeadlineExceeded) {
		if errors.Is(err, esmerrors.ErrIO) {
			return 0, false, err
		}
		return 0, false, fmt.Errorf("%w: %w", esmerrors.ErrIO, err)
	}
	return 0, false, nil
}

// readIdent reads "/XXXZ...\r\n" and returns it without CR LF.
func (e *Engine) readIdent(buf []byte) (string, error) {
	n := 0
	for n < len(buf) {
		b, ok, err := e.readByte()
		if err != nil {
			return "", err
		}
		if !ok {
			break
		}
		if n == 0 && b != '/' {
			e.log.Warnf("Identification starts with 0x%02x instead of '/'", b)
			return "", fmt.Errorf("%w: starts with 0x%02x", esmerrors.ErrInvalidIdentification, b)
		}
		buf[n] = b
		n++
		if n >= 2 && buf[n-2] == '\r' && buf[n-1] == '\n' {
			return string(buf[:n-2]), nil
		}
	}

	if n == 0 {
		return "", fmt.Errorf("%w: no identification received", esmerrors.ErrTimeout)
	}
	e.log.Warnf("Incomplete identification %q", buf[:n])
	return "", fmt.Errorf("%w: not terminated by CR LF", esmerrors.ErrInvalidIdentification)
}

// readTelegram stores the data block in buf. STX opens the block check
// range and is not stored, ETX closes it and ends the read. Meters that
// omit STX/ETX end at '!' and its line end.
func (e *Engine) readTelegram(buf []byte) (int, Verdict, error) {
	offset, lrcStart := 0, -1
	bangAt := -1
	etx := false

	for {
		b, ok, err := e.readByte()
		if err != nil {
			return 0, VerdictNotApplicable, err
		}
		if !ok {
			break
		}

		if b == checksum.STX && lrcStart < 0 {
			lrcStart = offset
			continue
		}
		if b == checksum.ETX {
			etx = true
			break
		}

		if (b < 0x20 || b > 0x7E) && b != '\r' && b != '\n' {
			e.log.Warnf("Suspicious byte 0x%02x at offset %d", b, offset)
		}
		if offset >= len(buf) {
			e.log.Warnf("Telegram exceeds %d byte buffer", len(buf))
			return 0, VerdictNotApplicable, esmerrors.ErrBufferOverflow
		}
		buf[offset] = b
		offset++

		if b == '!' && bangAt < 0 {
			bangAt = offset
		}
		if bangAt >= 0 {
			trailing := offset - bangAt
			// Without STX no ETX will follow, stop at the line end
			if lrcStart < 0 && trailing >= 2 && buf[offset-1] == '\n' {
				break
			}
			if trailing >= e.opts.TrailerBudget {
				break
			}
		}
	}

	if bangAt < 0 && !etx {
		if offset > 0 {
			e.log.Warnf("Incomplete telegram of %d bytes", offset)
		}
		return 0, VerdictNotApplicable, esmerrors.ErrNoFrame
	}

	if lrcStart < 0 || !etx {
		if lrcStart >= 0 {
			e.log.Warn("STX without ETX, skipping block check")
		}
		return offset, VerdictNotApplicable, nil
	}

	expected := checksum.LRC(buf[lrcStart:offset]) ^ checksum.ETX
	bcc, ok, err := e.readByte()
	if err != nil {
		return 0, VerdictNotApplicable, err
	}
	if !ok {
		e.log.Warn("No block check character received")
		return offset, VerdictFailed, nil
	}
	if bcc != expected {
		e.log.Warnf("Block check failed, received 0x%02x, calculated 0x%02x", bcc, expected)
		return offset, VerdictFailed, nil
	}
	return offset, VerdictOk, nil
}
