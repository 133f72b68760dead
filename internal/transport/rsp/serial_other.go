//go:build !linux && !darwin

package rsp

import (
	"context"

	"github.com/fasthosting/log0/internal/ferr"
)

// DialSerial is unavailable on this platform; use Dial with a network
// probe bridge instead (e.g. a USB-serial-to-TCP relay).
func DialSerial(ctx context.Context, path string, baud int, cursorsAddr, bufferAddr uint64, capacity uint32) (*Client, error) {
	return nil, ferr.Transportf("RSP_SERIAL_UNSUPPORTED", "direct serial dial is not supported on this platform; bridge %s over TCP instead", path)
}
