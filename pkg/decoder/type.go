package decoder

import "github.com/NotCoffee418/meter_telegram/pkg/types"

type Status int

const (
	StatusIncomplete Status = iota
	StatusComplete
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusError:
		return "error"
	}
	return "incomplete"
}

// Decoder turns complete telegram bytes into a reading. A telegram may be
// fed in several chunks, the last one with final set.
type Decoder interface {
	Init()
	Feed(buf []byte, final bool)
	Finish() Status
	// CRC embedded in the telegram tail, if there was one.
	CRC() (uint16, bool)
	ParseErrors() int
	Reading() *types.MeterReading
}

// One "(...)" group of a data line.
type value struct {
	raw  string
	num  float64
	unit string
	ok   bool
}
