//go:build darwin

package rsp

import "golang.org/x/sys/unix"

const (
	ioctlGetTermios = unix.TIOCGETA
	ioctlSetTermios = unix.TIOCSETA
)

// applyBaud writes the literal rate into the speed fields; Darwin's B*
// constants are the rates themselves, not selector bits.
func applyBaud(t *unix.Termios, rate uint32) {
	t.Ispeed = uint64(rate)
	t.Ospeed = uint64(rate)
}
