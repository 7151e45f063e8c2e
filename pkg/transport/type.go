package transport

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Framing selects the character format of the line.
type Framing uint8

const (
	// 8 data bits, no parity, DSMR P1 push port
	FramingP1 Framing = iota
	// 7 data bits, even parity, IEC 62056-21 optical head
	FramingD0
)

func (f Framing) String() string {
	if f == FramingD0 {
		return "7E1"
	}
	return "8N1"
}

// Driver names the serial library used for real terminals.
type Driver string

const (
	DriverBugst   Driver = "bugst"
	DriverJacobsa Driver = "jacobsa"
)

const DefaultTimeout = 15 * time.Second

type Config struct {
	Path    string
	Baud    int
	Framing Framing
	// Inter-character timeout, a read returns empty once it elapses
	Timeout time.Duration
	Driver  Driver
}

// Port is the driver side of an open terminal.
type Port interface {
	io.ReadWriteCloser
	Reconfigure(baud int) error
	ResetInput() error
	Drain() error
}

// Session owns the byte stream of one meter.
type Session struct {
	cfg      Config
	port     Port
	file     *os.File
	guard    *termGuard
	terminal bool
	baud     int
	closed   bool
	log      logrus.FieldLogger
}
