//go:build !linux && !darwin

package transport

import (
	"fmt"
	"os"
)

var errNoTermios = fmt.Errorf("terminal attributes not supported on this platform")

// Without termios every input is treated as a plain file.
type termGuard struct{}

func openDevice(path string) (*os.File, error) {
	return os.Open(path)
}

func captureTerm(*os.File) (*termGuard, error) { return nil, errNoTermios }
func (g *termGuard) restore() error             { return errNoTermios }
func (g *termGuard) flushInput() error          { return errNoTermios }
func (g *termGuard) drain() error               { return errNoTermios }
