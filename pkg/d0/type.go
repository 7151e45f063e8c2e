package d0

import (
	"io"
	"time"
)

// Mode is the protocol variant a meter speaks.
// It is fixed by the identification exchange of a handshake.
type Mode uint8

const (
	ModeP1 Mode = iota
	ModeA
	ModeB
	ModeC
	ModeD
	ModeE
)

func (m Mode) String() string {
	switch m {
	case ModeP1:
		return "P1"
	case ModeA:
		return "A"
	case ModeB:
		return "B"
	case ModeC:
		return "C"
	case ModeD:
		return "D"
	case ModeE:
		return "E"
	}
	return "unknown"
}

// Negotiated modes switch speed, and get signed off after the readout.
func (m Mode) Negotiated() bool {
	return m == ModeB || m == ModeC || m == ModeD || m == ModeE
}

// Acknowledged modes need the ACK option select message.
func (m Mode) Acknowledged() bool {
	return m == ModeC || m == ModeD || m == ModeE
}

// Verdict of the block check.
type Verdict uint8

const (
	VerdictNotApplicable Verdict = iota
	VerdictOk
	VerdictFailed
)

func (v Verdict) String() string {
	switch v {
	case VerdictOk:
		return "ok"
	case VerdictFailed:
		return "failed"
	}
	return "n/a"
}

type HandshakeResult struct {
	Mode           Mode
	Baud           int
	Identification string
	Verdict        Verdict
	// Telegram bytes stored at the start of the read buffer
	Length int
}

// Link is the subset of a transport session the engine drives.
type Link interface {
	io.ReadWriter
	SetBaud(rate int) error
	FlushInput() error
	Drain() error
}

type Options struct {
	WakeUp bool
	// NUL bytes sent at 300 baud to rouse an optical head
	WakeUpBytes int
	SettleTime  time.Duration
	// Wait between the ACK and the local speed switch
	AckDelay time.Duration
	// Bytes accepted after '!' while waiting for ETX
	TrailerBudget int
}

func DefaultOptions() Options {
	return Options{
		WakeUpBytes:   65,
		SettleTime:    2700 * time.Millisecond,
		AckDelay:      300 * time.Millisecond,
		TrailerBudget: 4,
	}
}
