package checksum

import (
	"strconv"

	"github.com/sigurn/crc16"
)

const (
	STX byte = 0x02
	ETX byte = 0x03
)

var (
	// DSMR telegram CRC, reflected 0xA001 starting at zero.
	arcTable = crc16.MakeTable(crc16.CRC16_ARC)

	// Alternate firmware variant, 0x1021 starting at 0xFFFF.
	ccittTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)
)

// CRC16 calculates the checksum used by new-style P1 telegrams.
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, arcTable)
}

// CRC16CCITT is not used for telegram verification,
// some meter firmware computes it instead of CRC16.
func CRC16CCITT(data []byte) uint16 {
	return crc16.Checksum(data, ccittTable)
}

// LRC returns the IEC 62056-21 block check character of data.
func LRC(data []byte) byte {
	lrc := byte(0xFF)
	for _, b := range data {
		lrc ^= b
	}
	return lrc ^ 0xFF
}

// BlockCheck computes the BCC of a frame containing STX ... ETX.
// The range starts after STX and includes ETX.
// ok is false when either marker is missing.
func BlockCheck(frame []byte) (bcc byte, ok bool) {
	start := -1
	for i, b := range frame {
		if b == STX && start < 0 {
			start = i + 1
			continue
		}
		if b == ETX && start >= 0 {
			return LRC(frame[start : i+1]), true
		}
	}
	return 0, false
}

// ClassifyAndChecksum inspects the telegram tail.
// Old-style telegrams end in "!\r\n" and carry no CRC, they return 0.
// New-style telegrams end in "!XXXX\r\n", the CRC16 is calculated from
// the start of the telegram until '!' (inclusive).
// Malformed tails also return 0, so 0 never means verified.
func ClassifyAndChecksum(buf []byte) uint16 {
	n := len(buf)
	if n >= 3 && buf[n-3] == '!' {
		return 0
	}
	if n >= 7 && buf[n-7] == '!' {
		// Full length minus CR LF minus 4 hex digits
		return CRC16(buf[:n-6])
	}
	return 0
}

// EmbeddedCRC parses the hex CRC of a new-style telegram tail.
func EmbeddedCRC(buf []byte) (uint16, bool) {
	n := len(buf)
	if n < 7 || buf[n-7] != '!' || buf[n-2] != '\r' || buf[n-1] != '\n' {
		return 0, false
	}
	v, err := strconv.ParseUint(string(buf[n-6:n-2]), 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}
