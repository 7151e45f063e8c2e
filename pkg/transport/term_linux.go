package transport

import "golang.org/x/sys/unix"

const (
	reqGetTermios      = unix.TCGETS
	reqSetTermios      = unix.TCSETS
	reqSetTermiosFlush = unix.TCSETSF
	reqSetTermiosDrain = unix.TCSETSW
)
