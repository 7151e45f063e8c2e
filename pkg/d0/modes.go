package d0

import (
	"fmt"

	"github.com/NotCoffee418/meter_telegram/pkg/esmerrors"
)

// InitialBaud is the speed every IEC 62056-21 exchange starts at.
const InitialBaud = 300

var baudTable = [...]int{300, 600, 1200, 2400, 4800, 9600, 19200}

// DetectMode reads the baud rate identifier, the 5th character of the
// identification line ("/XXXZ..."). Digits select mode C, the upper case
// letters A..G select mode B at the same rates. Anything else is mode A,
// which stays at 300 baud. A digit followed by "\W" is mode E, W == '2'
// announces binary HDLC which is not supported.
func DetectMode(ident string) (mode Mode, baud int, err error) {
	if len(ident) < 5 || ident[0] != '/' {
		return ModeA, InitialBaud, fmt.Errorf("%w: %q", esmerrors.ErrInvalidIdentification, ident)
	}

	c := ident[4]
	switch {
	case c >= '0' && c <= '6':
		mode, baud = ModeC, baudTable[c-'0']
		if len(ident) >= 7 && ident[5] == '\\' {
			if ident[6] == '2' {
				return ModeE, baud, fmt.Errorf("%w: binary HDLC mode announced by %q", esmerrors.ErrProtocolUnsupported, ident)
			}
			mode = ModeE
		}
	case c >= 'A' && c <= 'G':
		mode, baud = ModeB, baudTable[c-'A']
	default:
		mode, baud = ModeA, InitialBaud
	}
	return mode, baud, nil
}

// baudChar is the identifier echoed in the ACK message.
func baudChar(baud int) byte {
	for i, b := range baudTable {
		if b == baud {
			return byte('0' + i)
		}
	}
	return '0'
}
