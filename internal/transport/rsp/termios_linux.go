//go:build linux

package rsp

import "golang.org/x/sys/unix"

const (
	ioctlGetTermios = unix.TCGETS
	ioctlSetTermios = unix.TCSETS
)

// applyBaud selects rate through Cflag's CBAUD field, the Linux termios
// convention; Ispeed/Ospeed carry the same selector value.
func applyBaud(t *unix.Termios, rate uint32) {
	t.Cflag &^= unix.CBAUD
	t.Cflag |= rate
	t.Ispeed = rate
	t.Ospeed = rate
}
