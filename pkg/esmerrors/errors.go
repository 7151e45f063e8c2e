// Errors shared by the telegram acquisition packages.
// Framing and checksum problems are recoverable and normally end up as a
// read outcome; IO and unsupported protocol errors end the session.
package esmerrors

import (
	"errors"
	"fmt"
)

var (
	ErrIO                    = fmt.Errorf("io error")
	ErrTimeout               = fmt.Errorf("timeout waiting for data")
	ErrFraming               = fmt.Errorf("framing error")
	ErrNoFrame               = fmt.Errorf("%w: no valid telegram found", ErrFraming)
	ErrInvalidIdentification = fmt.Errorf("%w: invalid identification", ErrFraming)
	ErrBufferOverflow        = fmt.Errorf("telegram exceeds buffer capacity")
	ErrChecksumMismatch      = fmt.Errorf("checksum mismatch")
	ErrProtocolUnsupported   = fmt.Errorf("protocol unsupported")
	ErrNotOpen               = fmt.Errorf("session not open")
)

// IsFatal reports whether err requires the session to be torn down.
func IsFatal(err error) bool {
	return errors.Is(err, ErrIO) ||
		errors.Is(err, ErrProtocolUnsupported) ||
		errors.Is(err, ErrNotOpen)
}
