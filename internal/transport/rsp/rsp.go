// Package rsp implements transport.Probe over a GDB Remote Serial
// Protocol connection to a target-side stub: the default hardware-probe
// transport, spoken to whatever debug-probe firmware exposes an RSP
// memory-access stub (the typical shape for e.g. OpenOCD- or
// probe-rs-fronted targets).
//
// Packet framing is $payload#checksum with '+'/'-' acknowledgement; the
// host is the client, issuing 'm addr,length' / 'M addr,length:data'
// memory commands against the stub.
package rsp

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"

	"github.com/fasthosting/log0/internal/ferr"
)

// Client is a transport.Probe implementation speaking RSP memory-access
// commands over a live connection (typically TCP) to a target stub.
//
// LOG0_CURSORS is assumed to be laid out as the C struct {uint32 T;
// uint32 H; uint8_t *buf}: T at CursorsAddr+0, H at CursorsAddr+4, both
// little-endian, word-aligned.
type Client struct {
	conn        net.Conn
	r           *bufio.Reader
	cursorsAddr uint64
	bufferAddr  uint64
	capacity    uint32
	noAck       bool
}

// Dial opens a TCP connection to a target RSP stub at addr
// ("host:port") and wraps it as a Client.
func Dial(ctx context.Context, addr string, cursorsAddr, bufferAddr uint64, capacity uint32) (*Client, error) {
	var d net.Dialer

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ferr.Transportf("RSP_DIAL", "%v", err)
	}

	return New(conn, cursorsAddr, bufferAddr, capacity), nil
}

// New wraps an already-established connection (useful for tests, which
// prefer net.Pipe to a real socket).
func New(conn net.Conn, cursorsAddr, bufferAddr uint64, capacity uint32) *Client {
	return &Client{
		conn:        conn,
		r:           bufio.NewReader(conn),
		cursorsAddr: cursorsAddr,
		bufferAddr:  bufferAddr,
		capacity:    capacity,
	}
}

// EnableNoAck switches off the '+'/'-' acknowledgement byte after
// QStartNoAckMode has been negotiated out of band; most calls leave this
// at its default (acknowledged) since log0 targets rarely bother
// implementing the negotiation.
func (c *Client) EnableNoAck() { c.noAck = true }

func (c *Client) Capacity() uint32 { return c.capacity }

func (c *Client) Close() error { return c.conn.Close() }

// ReadCursors reads the 8-byte {T, H} word pair at CursorsAddr in one RSP
// memory read, so both words come back from a single 'm' command and are
// mutually consistent.
func (c *Client) ReadCursors(ctx context.Context) (t, h uint32, err error) {
	buf, err := c.readMemory(ctx, c.cursorsAddr, 8)
	if err != nil {
		return 0, 0, err
	}

	t = le32(buf[0:4])
	h = le32(buf[4:8])

	return t, h, nil
}

// ReadBytes reads length bytes at bufferAddr+offset, the ring's backing
// storage rather than the cursor pair.
func (c *Client) ReadBytes(ctx context.Context, offset, length uint32) ([]byte, error) {
	return c.readMemory(ctx, c.bufferAddr+uint64(offset), length)
}

// WriteCursor writes the new H value (CursorsAddr+4) as a single 4-byte
// RSP memory write, the sole signal back to the target that space has
// been freed.
func (c *Client) WriteCursor(ctx context.Context, h uint32) error {
	var buf [4]byte
	buf[0] = byte(h)
	buf[1] = byte(h >> 8)
	buf[2] = byte(h >> 16)
	buf[3] = byte(h >> 24)

	return c.writeMemory(ctx, c.cursorsAddr+4, buf[:])
}

func (c *Client) readMemory(ctx context.Context, addr uint64, length uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reply, err := c.roundTrip(fmt.Sprintf("m%x,%x", addr, length))
	if err != nil {
		return nil, err
	}

	if len(reply) > 0 && reply[0] == 'E' {
		return nil, ferr.Transportf("RSP_ERROR", "target reported error %s reading [0x%x,+%d)", reply, addr, length)
	}

	data, err := hex.DecodeString(reply)
	if err != nil {
		return nil, ferr.Transportf("RSP_MALFORMED_REPLY", "decoding hex memory reply: %v", err)
	}

	if uint32(len(data)) != length {
		return nil, ferr.Transportf("RSP_SHORT_READ", "requested %d bytes at 0x%x, stub returned %d", length, addr, len(data))
	}

	return data, nil
}

func (c *Client) writeMemory(ctx context.Context, addr uint64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := fmt.Sprintf("M%x,%x:%s", addr, len(data), hex.EncodeToString(data))

	reply, err := c.roundTrip(cmd)
	if err != nil {
		return err
	}

	if reply != "OK" {
		return ferr.Transportf("RSP_WRITE_FAILED", "writing [0x%x,+%d): stub replied %q", addr, len(data), reply)
	}

	return nil
}

// roundTrip sends one RSP packet and returns the payload of the matching
// reply, retrying the send once on a '-' (checksum-rejected) ack.
func (c *Client) roundTrip(payload string) (string, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if err := c.send(payload); err != nil {
			return "", err
		}

		if !c.noAck {
			ok, err := c.readAck()
			if err != nil {
				return "", err
			}

			if !ok {
				continue
			}
		}

		return c.recv()
	}

	return "", ferr.Transportf("RSP_NACK", "stub rejected packet checksum twice")
}

func (c *Client) send(payload string) error {
	sum := byte(0)
	for i := 0; i < len(payload); i++ {
		sum += payload[i]
	}

	pkt := fmt.Sprintf("$%s#%02x", payload, sum)

	_, err := io.WriteString(c.conn, pkt)
	if err != nil {
		return ferr.Transportf("RSP_WRITE", "%v", err)
	}

	return nil
}

func (c *Client) readAck() (bool, error) {
	b, err := c.r.ReadByte()
	if err != nil {
		return false, ferr.Transportf("RSP_READ", "%v", err)
	}

	switch b {
	case '+':
		return true, nil
	case '-':
		return false, nil
	default:
		return false, ferr.Transportf("RSP_BAD_ACK", "expected '+' or '-', got %q", b)
	}
}

// recv reads one $payload#checksum packet and acknowledges it.
func (c *Client) recv() (string, error) {
	for {
		b, err := c.r.ReadByte()
		if err != nil {
			return "", ferr.Transportf("RSP_READ", "%v", err)
		}

		if b == '$' {
			break
		}
	}

	data := make([]byte, 0, 64)

	for {
		b, err := c.r.ReadByte()
		if err != nil {
			return "", ferr.Transportf("RSP_READ", "%v", err)
		}

		if b == '#' {
			break
		}

		data = append(data, b)
	}

	if _, err := io.ReadFull(c.r, make([]byte, 2)); err != nil {
		return "", ferr.Transportf("RSP_READ", "reading checksum: %v", err)
	}

	if !c.noAck {
		if _, err := io.WriteString(c.conn, "+"); err != nil {
			return "", ferr.Transportf("RSP_WRITE", "%v", err)
		}
	}

	return string(data), nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
