// Package hostreader implements the host-side ring consumer: it polls a
// transport.Probe for cursor movement, transfers newly written bytes out
// of the target's ring (splitting the read at the ring boundary when it
// wraps), feeds them to a frame.Parser, and publishes the advanced
// consumer cursor, the sole signal back to the target that space has
// been freed.
package hostreader

import (
	"context"
	"time"

	"github.com/fasthosting/log0/internal/ferr"
	"github.com/fasthosting/log0/internal/frame"
	"github.com/fasthosting/log0/internal/transport"
)

// DefaultPollInterval is how long the reader sleeps between polls when T
// has not moved.
const DefaultPollInterval = 2 * time.Millisecond

// Reader drives the poll/transfer/parse loop against a single probe.
type Reader struct {
	probe        transport.Probe
	parser       *frame.Parser
	onFrame      func(frame.Frame)
	pollInterval time.Duration
	lastT        uint32
	seenFirst    bool
}

// New creates a Reader. onFrame is invoked for every frame the parser
// completes, on the Reader's own goroutine (the caller must not block
// indefinitely inside it).
func New(probe transport.Probe, onFrame func(frame.Frame)) *Reader {
	return &Reader{
		probe:        probe,
		parser:       frame.NewParser(),
		onFrame:      onFrame,
		pollInterval: DefaultPollInterval,
	}
}

// SetPollInterval overrides DefaultPollInterval, mainly for tests.
func (r *Reader) SetPollInterval(d time.Duration) { r.pollInterval = d }

// Run executes the poll loop until ctx is cancelled. Cancellation is
// honored at the next poll boundary; a transfer already in progress runs
// to completion before the context is rechecked.
func (r *Reader) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		advanced, err := r.poll(ctx)
		if err != nil {
			return ferr.Transportf("PROBE_IO", "%v", err)
		}

		if !advanced {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.pollInterval):
			}
		}
	}
}

// poll performs one iteration: read cursors, and if T has moved, transfer
// the new bytes and publish H. It returns whether T had advanced.
func (r *Reader) poll(ctx context.Context) (bool, error) {
	t, h, err := r.probe.ReadCursors(ctx)
	if err != nil {
		return false, err
	}

	if !r.seenFirst {
		// Bytes already in the ring at attach time are drained on the
		// first poll rather than waiting for T to move again.
		r.seenFirst = true

		if t == h {
			r.lastT = t
			return false, nil
		}
	} else if t == r.lastT {
		return false, nil
	}

	r.lastT = t

	c := r.probe.Capacity()
	n := (t - h + c) % c

	data, err := r.transfer(ctx, h, n, c)
	if err != nil {
		return true, err
	}

	r.parser.Push(data)

	frames, perr := r.parser.Drain()
	for _, f := range frames {
		if r.onFrame != nil {
			r.onFrame(f)
		}
	}

	if perr != nil {
		return true, perr
	}

	newH := (h + n) % c
	if err := r.probe.WriteCursor(ctx, newH); err != nil {
		return true, err
	}

	return true, nil
}

// transfer reads n bytes starting at offset h out of a ring of capacity
// c, splitting into two reads when the range wraps past the end of the
// buffer.
func (r *Reader) transfer(ctx context.Context, h, n, c uint32) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}

	if h+n <= c {
		return r.probe.ReadBytes(ctx, h, n)
	}

	first, err := r.probe.ReadBytes(ctx, h, c-h)
	if err != nil {
		return nil, err
	}

	second, err := r.probe.ReadBytes(ctx, 0, n-(c-h))
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, n)
	out = append(out, first...)
	out = append(out, second...)

	return out, nil
}
