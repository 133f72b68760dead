// Package local implements transport.Probe directly over an in-process
// ring.Device, with no I/O and no serialization. It plays the role a real debug
// probe would for the "--probe=local" simulated-target mode (no hardware
// required) and for tests that want to drive a reader against a real
// ring.Writer without standing up a network listener.
// It is a thin wrapper that reaches directly into shared memory instead
// of crossing a real transport boundary.
package local

import (
	"context"
	"fmt"

	"github.com/fasthosting/log0/internal/ring"
)

// Probe implements transport.Probe over a *ring.Device living in the
// same process.
type Probe struct {
	device *ring.Device
	writer *ring.Writer
}

// New wraps a ring.Device for in-process access.
func New(device *ring.Device) *Probe {
	return &Probe{device: device}
}

// NewSimulated wraps a ring.Device alongside the ring.Writer that produces
// into it, for the "--probe=local" simulated-target mode: the caller
// drives writer.WriteFrame from a goroutine standing in for real target
// firmware, and the returned Probe can still report DroppedCount once the
// run ends, the one piece of writer-side observability the host process
// has any business asking a simulated target for.
func NewSimulated(device *ring.Device, writer *ring.Writer) *Probe {
	return &Probe{device: device, writer: writer}
}

// DroppedCount reports how many frames the attached writer has silently
// dropped under ring pressure, or 0 if this Probe was not constructed
// with one (the common case, where the host has no writer-side view of
// a real target's ring at all).
func (p *Probe) DroppedCount() uint64 {
	if p.writer == nil {
		return 0
	}

	return p.writer.DroppedCount()
}

func (p *Probe) ReadCursors(ctx context.Context) (uint32, uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	return p.device.Cursors.T.Load(), p.device.Cursors.H.Load(), nil
}

func (p *Probe) ReadBytes(ctx context.Context, offset, length uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := uint32(len(p.device.Buffer))
	if offset >= c || offset+length > c {
		return nil, fmt.Errorf("local: read [%d,%d) out of bounds for capacity %d", offset, offset+length, c)
	}

	out := make([]byte, length)
	copy(out, p.device.Buffer[offset:offset+length])

	return out, nil
}

func (p *Probe) WriteCursor(ctx context.Context, h uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.device.Cursors.H.Store(h)

	return nil
}

func (p *Probe) Capacity() uint32 { return uint32(len(p.device.Buffer)) }

func (p *Probe) Close() error { return nil }
