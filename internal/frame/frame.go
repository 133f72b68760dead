// Package frame implements the log0 byte-stream parser: it turns an
// unbounded, arbitrarily chunked byte stream into complete Frame records.
//
// A frame is the concatenation of three LEB128 header fields
// (payload_len, fmt_key, type_key) followed by payload_len raw bytes. The
// parser fills those three slots in order and only then waits for the
// payload; a LEB128 decode that runs out of bytes leaves the queue
// untouched, so pushing the same stream in any chunking produces the same
// sequence of frames (see TestRestartabilityArbitraryChunking in
// frame_test.go).
package frame

import (
	"github.com/fasthosting/log0/internal/ferr"
	"github.com/fasthosting/log0/internal/leb128"
)

// DefaultMaxPayloadBytes is the soft cap on a single frame's payload,
// sized to absorb bursts without letting a corrupt length field pin
// host memory.
const DefaultMaxPayloadBytes = 10 * 1024 * 1024

// Frame is one fully decoded wire record.
type Frame struct {
	Payload []byte
	FmtKey  uint32
	TypeKey uint32
}

// slot identifies which header field the parser is currently collecting.
type slot int

const (
	slotPayloadLen slot = iota
	slotFmtKey
	slotTypeKey
	slotPayload
)

// Parser is a synchronous state machine. It owns an unbounded queue of
// pushed-but-not-yet-consumed bytes and the three header slots.
type Parser struct {
	queue   []byte
	current slot

	payloadLen uint32
	fmtKey     uint32
	typeKey    uint32

	MaxPayloadBytes int
}

// NewParser creates a parser with the default payload cap.
func NewParser() *Parser {
	return &Parser{MaxPayloadBytes: DefaultMaxPayloadBytes}
}

// Push appends data to the internal queue. It does not parse; call
// TryParse (directly or via Drain) afterwards.
func (p *Parser) Push(data []byte) {
	p.queue = append(p.queue, data...)
}

// TryParse attempts to produce one complete Frame from the queue. It
// returns (frame, true, nil) on success, (Frame{}, false, nil) when more
// bytes are needed, and a non-nil error when the stream is malformed.
// Malformed is fatal; the caller should stop feeding this parser.
func (p *Parser) TryParse() (Frame, bool, error) {
	for {
		switch p.current {
		case slotPayloadLen:
			v, ok, err := p.tryLEB128()
			if err != nil || !ok {
				return Frame{}, false, err
			}

			if int(v) > p.maxPayload() {
				return Frame{}, false, ferr.Parsef("PAYLOAD_TOO_LARGE",
					"payload length %d exceeds cap %d", v, p.maxPayload())
			}

			p.payloadLen = v
			p.current = slotFmtKey
		case slotFmtKey:
			v, ok, err := p.tryLEB128()
			if err != nil || !ok {
				return Frame{}, false, err
			}

			p.fmtKey = v
			p.current = slotTypeKey
		case slotTypeKey:
			v, ok, err := p.tryLEB128()
			if err != nil || !ok {
				return Frame{}, false, err
			}

			p.typeKey = v
			p.current = slotPayload
		case slotPayload:
			if len(p.queue) < int(p.payloadLen) {
				return Frame{}, false, nil
			}

			payload := make([]byte, p.payloadLen)
			copy(payload, p.queue[:p.payloadLen])
			p.queue = p.queue[p.payloadLen:]

			f := Frame{FmtKey: p.fmtKey, TypeKey: p.typeKey, Payload: payload}
			p.current = slotPayloadLen

			return f, true, nil
		}
	}
}

// Drain repeatedly calls TryParse until it needs more bytes or errors,
// returning every frame produced. A non-nil error is returned alongside
// whatever frames were already decoded.
func (p *Parser) Drain() ([]Frame, error) {
	var out []Frame

	for {
		f, ok, err := p.TryParse()
		if err != nil {
			return out, err
		}

		if !ok {
			return out, nil
		}

		out = append(out, f)
	}
}

func (p *Parser) maxPayload() int {
	if p.MaxPayloadBytes <= 0 {
		return DefaultMaxPayloadBytes
	}

	return p.MaxPayloadBytes
}

// tryLEB128 decodes one LEB128 value from the front of the queue without
// consuming anything if the queue is incomplete.
func (p *Parser) tryLEB128() (uint32, bool, error) {
	v, n, err := leb128.Decode(p.queue)
	if err != nil {
		return 0, false, ferr.Parsef("MALFORMED_LEB128", "%v", err)
	}

	if n == 0 {
		return 0, false, nil
	}

	p.queue = p.queue[n:]

	return v, true, nil
}
