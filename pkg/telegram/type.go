package telegram

import (
	"io"
	"time"

	"github.com/NotCoffee418/meter_telegram/pkg/d0"
	"github.com/NotCoffee418/meter_telegram/pkg/decoder"
	"github.com/NotCoffee418/meter_telegram/pkg/transport"
	"github.com/NotCoffee418/meter_telegram/pkg/types"
)

type Mode string

const (
	ModeP1 Mode = "p1"
	ModeD0 Mode = "d0"
)

const (
	DefaultBufferSize   = 4096
	DefaultBaud         = 115200
	DefaultFallbackBaud = 9600
)

type State uint8

const (
	StateIdle State = iota
	StateReading
	StateDecoding
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateDecoding:
		return "decoding"
	case StateFailed:
		return "failed"
	}
	return "idle"
}

// Outcome of one read cycle.
type Outcome uint8

const (
	OutcomeOK Outcome = iota
	OutcomeCRCMismatch
	OutcomeLRCMismatch
	OutcomeNoFrameFound
	OutcomeBufferOverflow
	OutcomeIOError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeCRCMismatch:
		return "crc mismatch"
	case OutcomeLRCMismatch:
		return "lrc mismatch"
	case OutcomeNoFrameFound:
		return "no frame found"
	case OutcomeBufferOverflow:
		return "buffer overflow"
	}
	return "io error"
}

type Config struct {
	Path string
	Mode Mode
	// P1 starts at Baud and alternates with FallbackBaud while nothing is found
	Baud         int
	FallbackBaud int
	WakeUp       bool
	Timeout      time.Duration
	// Telegrams the decoder could not fully parse are appended here
	DumpFile   string
	BufferSize int
	// Bytes dropped before a read gives up. 0 means BufferSize, negative
	// means no limit.
	MaxFailBytes int
	Driver       transport.Driver
}

type ReadResult struct {
	Outcome Outcome
	Length  int
	Status  decoder.Status
	Reading *types.MeterReading
	// Computed over the telegram, 0 for old style telegrams
	CRC         uint16
	ParseErrors int
	// D0 only
	Handshake d0.HandshakeResult
}

// link is what a session needs from its transport.
type link interface {
	io.ReadWriteCloser
	SetBaud(rate int) error
	FlushInput() error
	Drain() error
	Baud() int
	IsTerminal() bool
}
