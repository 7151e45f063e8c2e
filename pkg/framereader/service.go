// Framereader extracts complete P1 telegrams from a raw byte stream.
// The stream is read one byte at a time so that frame markers are found
// without look-ahead buffering; on slow serial links the cost is negligible.
package framereader

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/NotCoffee418/meter_telegram/pkg/esmerrors"
	"github.com/sirupsen/logrus"
)

const (
	startMarker = '/'
	endMarker   = '!'
)

type scanner struct {
	src io.Reader
	one [1]byte
	log logrus.FieldLogger
	err error
}

// readByte returns false when the source is dry (timeout, EOF) or broken.
func (s *scanner) readByte() (byte, bool) {
	n, err := s.src.Read(s.one[:])
	if n == 1 {
		return s.one[0], true
	}
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrDeadlineExceeded) {
		s.err = fmt.Errorf("%w: %w", esmerrors.ErrIO, err)
	}
	return 0, false
}

// readInto fills dst byte by byte and returns how many bytes arrived.
func (s *scanner) readInto(dst []byte) int {
	for i := range dst {
		b, ok := s.readByte()
		if !ok {
			return i
		}
		dst[i] = b
	}
	return len(dst)
}

// ReadTelegram tries to read a full P1 telegram from src into buf and
// returns its length. Bytes before a '/' are skipped and count as failed
// bytes. A candidate without a valid terminator, or one that does not fit in
// buf, is dropped and scanning resumes with the next byte. Once
// maxFailBytes bytes were dropped the read gives up; 0 means no limit.
//
// A return of 0 is accompanied by ErrNoFrame, ErrBufferOverflow or ErrIO.
func ReadTelegram(src io.Reader, buf []byte, maxFailBytes int, log logrus.FieldLogger) (int, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if len(buf) == 0 {
		return 0, esmerrors.ErrBufferOverflow
	}
	s := &scanner{src: src, log: log}

	inTelegram := false
	overflowed := false
	offset, failed := 0, 0

	for maxFailBytes == 0 || failed < maxFailBytes {
		b, ok := s.readByte()
		if !ok {
			break
		}

		switch {
		case !inTelegram && b == startMarker:
			log.Debugf("Possible telegram start, %d bytes dropped so far", failed)
			inTelegram = true
			buf[0] = b
			offset = 1

		case inTelegram && b == startMarker:
			log.Debugf("New telegram start inside candidate, dropping %d bytes", offset)
			failed += offset
			buf[0] = b
			offset = 1

		case inTelegram && offset < len(buf):
			buf[offset] = b
			offset++
			if b != endMarker {
				continue
			}

			log.Debugf("Possible telegram end at offset %d", offset)
			n, done, overflow := readTail(s, buf, offset)
			if done {
				return n, nil
			}
			if overflow {
				log.Debug("Telegram end does not fit in buffer, restart scanning")
			} else {
				log.Debug("Invalid telegram end, restart scanning")
			}
			failed += n
			overflowed = overflow
			inTelegram = false
			offset = 0

		case inTelegram:
			log.Debug("Buffer overflow before valid telegram end, restart scanning")
			failed += offset + 1
			overflowed = true
			inTelegram = false
			offset = 0

		default:
			failed++
		}
	}

	if s.err != nil {
		return 0, s.err
	}
	if overflowed {
		return 0, esmerrors.ErrBufferOverflow
	}
	return 0, esmerrors.ErrNoFrame
}

// readTail reads what follows '!' at buf[:offset]. If done, n is the
// telegram length. Otherwise n counts every byte consumed by the candidate
// and overflow reports a valid terminator that did not fit in buf.
func readTail(s *scanner, buf []byte, offset int) (n int, done, overflow bool) {
	var tail [6]byte

	got := s.readInto(tail[:2])
	if got < 2 {
		return offset + got, false, false
	}

	if tail[0] == '\r' && tail[1] == '\n' {
		if offset+2 > len(buf) {
			return offset + 2, false, true
		}
		copy(buf[offset:], tail[:2])
		s.log.Debugf("Old-style telegram with length %d", offset+2)
		return offset + 2, true, false
	}

	// Possible start of a CRC, 4 more bytes expected
	more := s.readInto(tail[2:6])
	consumed := offset + 2 + more
	if more < 4 || !isHex(tail[0]) || !isHex(tail[1]) || !isHex(tail[2]) || !isHex(tail[3]) ||
		tail[4] != '\r' || tail[5] != '\n' {
		return consumed, false, false
	}
	if offset+6 > len(buf) {
		return consumed, false, true
	}
	copy(buf[offset:], tail[:6])
	s.log.Debugf("New-style telegram with length %d", offset+6)
	return offset + 6, true, false
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'F') || (b >= 'a' && b <= 'f')
}
