package transport

import "golang.org/x/sys/unix"

const (
	reqGetTermios      = unix.TIOCGETA
	reqSetTermios      = unix.TIOCSETA
	reqSetTermiosFlush = unix.TIOCSETAF
	reqSetTermiosDrain = unix.TIOCSETAW
)
