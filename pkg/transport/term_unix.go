//go:build linux || darwin

package transport

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// termGuard keeps the attributes a terminal had before we touched it.
type termGuard struct {
	fd    int
	saved *unix.Termios
}

// openDevice opens path without making it the controlling terminal.
// Read-only captures are accepted when write access is refused.
func openDevice(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|syscall.O_NOCTTY, 0)
	if errors.Is(err, os.ErrPermission) {
		return os.OpenFile(path, os.O_RDONLY|syscall.O_NOCTTY, 0)
	}
	return f, err
}

// captureTerm fails for anything that is not a terminal.
func captureTerm(f *os.File) (*termGuard, error) {
	fd := int(f.Fd())
	saved, err := unix.IoctlGetTermios(fd, reqGetTermios)
	if err != nil {
		return nil, err
	}
	return &termGuard{fd: fd, saved: saved}, nil
}

func (g *termGuard) restore() error {
	return unix.IoctlSetTermios(g.fd, reqSetTermios, g.saved)
}

// flushInput discards unread input by reapplying the current attributes.
func (g *termGuard) flushInput() error {
	t, err := unix.IoctlGetTermios(g.fd, reqGetTermios)
	if err != nil {
		return err
	}
	return unix.IoctlSetTermios(g.fd, reqSetTermiosFlush, t)
}

// drain blocks until pending output has been transmitted.
func (g *termGuard) drain() error {
	t, err := unix.IoctlGetTermios(g.fd, reqGetTermios)
	if err != nil {
		return err
	}
	return unix.IoctlSetTermios(g.fd, reqSetTermiosDrain, t)
}
