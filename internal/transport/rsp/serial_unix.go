//go:build linux || darwin

// Hardware debug probes overwhelmingly speak RSP over a UART exposed as
// a USB-serial device (OpenOCD and probe-rs both default to this), not a
// TCP socket, so --probe=rsp needs a path into that device alongside
// Dial's "host:port" case.
//
// Raw-mode configuration (disabling canonical processing, parity, and
// software flow control so arbitrary binary RSP packets survive the
// line) goes through golang.org/x/sys/unix's termios ioctls; there is no
// portable way to express "give me a raw byte pipe to this tty" without
// reaching for the platform termios struct.
package rsp

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/fasthosting/log0/internal/ferr"
)

// DialSerial opens path (e.g. "/dev/ttyACM0") as a raw-mode serial line
// at baud and wraps it as a Client, for probes reached over USB-CDC or a
// UART bridge rather than a network socket.
func DialSerial(ctx context.Context, path string, baud int, cursorsAddr, bufferAddr uint64, capacity uint32) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, ferr.Transportf("RSP_SERIAL_OPEN", "opening %s: %v", path, err)
	}

	if err := configureRawSerial(fd, baud); err != nil {
		unix.Close(fd)
		return nil, err
	}

	f := os.NewFile(uintptr(fd), path)
	conn := &serialConn{f: f, name: path}

	return New(conn, cursorsAddr, bufferAddr, capacity), nil
}

// configureRawSerial puts fd into non-canonical, 8N1, no-flow-control
// mode at the requested baud rate.
func configureRawSerial(fd int, baud int) error {
	t, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return ferr.Transportf("RSP_SERIAL_TERMIOS", "reading termios: %v", err)
	}

	rate, ok := baudRates[baud]
	if !ok {
		return ferr.Transportf("RSP_SERIAL_BAUD", "unsupported baud rate %d", baud)
	}

	t.Iflag &^= unix.IXON | unix.IXOFF | unix.IXANY | unix.ICRNL | unix.INLCR
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ICANON | unix.ECHO | unix.ECHOE | unix.ISIG
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	applyBaud(t, rate)

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, t); err != nil {
		return ferr.Transportf("RSP_SERIAL_TERMIOS", "setting termios: %v", err)
	}

	return nil
}

// baudRates maps a numeric rate to the platform's B* constant: the CBAUD
// selector value on Linux, the literal rate on Darwin.
var baudRates = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

// serialConn adapts *os.File to net.Conn; a tty has no addresses and
// deadlines are set via SetReadDeadline's fallback (file-level deadlines
// are not portable across platforms for character devices), so those
// methods are no-ops rather than errors; log0's reader loop only relies
// on context cancellation, not I/O deadlines, for serial links.
type serialConn struct {
	f    *os.File
	name string
}

func (s *serialConn) Read(b []byte) (int, error)       { return s.f.Read(b) }
func (s *serialConn) Write(b []byte) (int, error)      { return s.f.Write(b) }
func (s *serialConn) Close() error                     { return s.f.Close() }
func (s *serialConn) LocalAddr() net.Addr              { return serialAddr(s.name) }
func (s *serialConn) RemoteAddr() net.Addr             { return serialAddr(s.name) }
func (s *serialConn) SetDeadline(time.Time) error      { return nil }
func (s *serialConn) SetReadDeadline(time.Time) error  { return nil }
func (s *serialConn) SetWriteDeadline(time.Time) error { return nil }

type serialAddr string

func (a serialAddr) Network() string { return "serial" }
func (a serialAddr) String() string  { return fmt.Sprintf("serial:%s", string(a)) }
