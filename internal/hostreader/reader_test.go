package hostreader

import (
	"context"
	"testing"
	"time"

	"github.com/fasthosting/log0/internal/frame"
	"github.com/fasthosting/log0/internal/ring"
	"github.com/fasthosting/log0/internal/transport/local"
)

func TestReaderTransfersWrappedFrame(t *testing.T) {
	w, d := ring.NewSimulatedWriter(16)
	d.Cursors.T.Store(12)
	d.Cursors.H.Store(12)

	var got []frame.Frame

	r := New(local.New(d), func(f frame.Frame) { got = append(got, f) })
	r.SetPollInterval(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Prime the reader's baseline T before the target writes.
	if _, err := r.poll(ctx); err != nil {
		t.Fatalf("priming poll: %v", err)
	}

	// Zero-length payload: with 15 bytes free only payload_len == 0
	// passes the payload_len+15 admission gate, and the multi-byte keys
	// still force the 6-byte header to wrap past the buffer end.
	if !w.WriteFrame(200, 70000, nil) {
		t.Fatal("expected wrapping frame to commit")
	}

	advanced, err := r.poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}

	if !advanced {
		t.Fatal("expected poll to observe the new frame")
	}

	if len(got) != 1 {
		t.Fatalf("got %d frames, want 1", len(got))
	}

	if got[0].FmtKey != 200 || got[0].TypeKey != 70000 || len(got[0].Payload) != 0 {
		t.Errorf("got %+v", got[0])
	}

	if h := d.Cursors.H.Load(); h != d.Cursors.T.Load() {
		t.Errorf("H=%d not advanced to T=%d after transfer", h, d.Cursors.T.Load())
	}
}

func TestReaderRunStopsOnCancel(t *testing.T) {
	_, d := ring.NewSimulatedWriter(16)

	r := New(local.New(d), nil)
	r.SetPollInterval(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned %v, want nil on cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancellation")
	}
}

func TestReaderMultipleFramesAccumulate(t *testing.T) {
	w, d := ring.NewSimulatedWriter(64)

	var got []frame.Frame
	r := New(local.New(d), func(f frame.Frame) { got = append(got, f) })

	ctx := context.Background()
	if _, err := r.poll(ctx); err != nil {
		t.Fatalf("priming poll: %v", err)
	}

	for i := 0; i < 3; i++ {
		if !w.WriteFrame(uint32(i), uint32(i+100), []byte{byte(i)}) {
			t.Fatalf("frame %d did not commit", i)
		}
	}

	if _, err := r.poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("got %d frames, want 3", len(got))
	}
}
