// Package ring implements the log0 target-side ring buffer and the
// single-producer, wait-free frame writer that publishes into it.
//
// The ring is a fixed-capacity byte region plus two word-sized cursors:
// T (producer, written only by the writer) and H (consumer, written only
// by the host reader). One slot is always left unused so "full" and
// "empty" remain distinguishable: bytes available is (T-H+C)%C, bytes
// free is C-1-available.
package ring

import (
	"sync/atomic"

	"github.com/fasthosting/log0/internal/leb128"
)

// Cursors is the target-side cursor pair. On real hardware this is the
// C-layout struct `{ uint32_t T; uint32_t H; uint8_t* buf; }` exported
// under the linker name LOG0_CURSORS; here the two words are atomics so a
// single process can play both producer and
// consumer roles (the in-process "local" transport) without a data race,
// mirroring the release/acquire discipline real hardware gets for free
// from independent cores.
type Cursors struct {
	T atomic.Uint32
	H atomic.Uint32
}

// Device is a simulated target: a Cursors pair plus the backing buffer,
// used by the local transport and by tests that want to drive a writer
// and a reader against the same memory without a real debug probe.
type Device struct {
	Cursors Cursors
	Buffer  []byte
}

// NewDevice allocates a simulated target ring of the given capacity.
func NewDevice(capacity int) *Device {
	return &Device{Buffer: make([]byte, capacity)}
}

// Writer is the single-producer frame writer. It is wait-free, bounded,
// and never allocates on the commit path; Buffer is sized once at
// construction. Concurrent calls from interrupt and non-interrupt
// contexts must be serialized by the caller (typically by masking
// interrupts); Writer itself assumes a single logical producer.
type Writer struct {
	cursors *Cursors
	buf     []byte
	dropped atomic.Uint64
}

// NewWriter creates a Writer over an existing Cursors/Buffer pair. On a
// real target these live at the fixed addresses LOG0_CURSORS/LOG0_BUFFER;
// in this port they are usually a *Device's fields.
func NewWriter(cursors *Cursors, buf []byte) *Writer {
	return &Writer{cursors: cursors, buf: buf}
}

// NewSimulatedWriter is a convenience constructor for tests and the
// simulated-target mode: it allocates its own Device and returns a Writer
// bound to it alongside the Device itself.
func NewSimulatedWriter(capacity int) (*Writer, *Device) {
	d := NewDevice(capacity)

	return NewWriter(&d.Cursors, d.Buffer), d
}

// Capacity returns C, the fixed ring size.
func (w *Writer) Capacity() int { return len(w.buf) }

// available returns the number of unread bytes currently in the ring.
func (w *Writer) available() uint32 {
	c := uint32(len(w.buf))
	t := w.cursors.T.Load()
	h := w.cursors.H.Load()

	return (t - h + c) % c
}

// Free returns the number of bytes that may still be written before the
// ring is considered full (one slot is always reserved).
func (w *Writer) Free() uint32 {
	return uint32(len(w.buf)) - 1 - w.available()
}

// DroppedCount reports how many frames have been silently dropped by the
// admission rule since this Writer was created. This is additive
// host-side observability: the wire protocol itself carries no record of
// drops; a frame that does not fit is dropped in full and never reported
// on the wire.
func (w *Writer) DroppedCount() uint64 { return w.dropped.Load() }

// WriteFrame appends one frame (payload_len/fmt_key/type_key LEB128
// headers followed by the raw payload) or drops it in full if the ring
// lacks room. It reports whether the frame was committed; there is no
// other signal on a drop.
//
// Admission is gated on payload_len+15, the fixed upper bound on
// the encoded header size (three LEB128 fields, 5 bytes max each), not on
// the actual encoded length of this particular fmt_key/type_key. A real
// target commits to the admission decision before it has necessarily
// computed the exact header size, so the bound has to be conservative
// rather than exact; matching that here keeps the decision identical to
// what a byte-at-a-time embedded writer would make.
func (w *Writer) WriteFrame(fmtKey, typeKey uint32, payload []byte) bool {
	if uint32(len(payload))+leb128.MaxBytes*3 > w.Free() {
		w.dropped.Add(1)

		return false
	}

	t := w.cursors.T.Load()

	t = w.pushLEB128(t, uint32(len(payload)))
	t = w.pushLEB128(t, fmtKey)
	t = w.pushLEB128(t, typeKey)

	c := uint32(len(w.buf))
	for _, b := range payload {
		w.buf[t] = b
		t = (t + 1) % c
	}

	// Release-publish: every byte above is committed to w.buf before T
	// is allowed to advance, so the host can never observe a new T value
	// naming bytes it has not yet written.
	w.cursors.T.Store(t)

	return true
}

// pushLEB128 encodes v byte-at-a-time into the ring at cursor t, wrapping
// modulo capacity, and returns the advanced cursor. No intermediate
// buffer: the commit path must not allocate.
func (w *Writer) pushLEB128(t, v uint32) uint32 {
	c := uint32(len(w.buf))

	for {
		b := byte(v & 0x7f)
		v >>= 7

		if v != 0 {
			b |= 0x80
		}

		w.buf[t] = b
		t = (t + 1) % c

		if v == 0 {
			return t
		}
	}
}
