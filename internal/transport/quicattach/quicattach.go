// Package quicattach implements transport.Probe over a QUIC stream to a
// probe server running on a separate machine (e.g. a lab rig fronting
// several targets), for the "--probe=quic" network-attached mode.
//
// The link is a single bidirectional stream carrying a small framed
// request/response protocol (TLS 1.3 minimum, ALPN-pinned); the probe
// link doesn't need HTTP semantics, just one long-lived duplex channel.
package quicattach

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"io"
	"time"

	quic "github.com/quic-go/quic-go"

	"github.com/fasthosting/log0/internal/ferr"
	"github.com/fasthosting/log0/internal/protover"
)

// ALPN is the next-protocol identifier this package negotiates during
// the QUIC/TLS handshake, distinguishing a log0 probe link from any other
// service that might share a port.
const ALPN = "log0-probe/1"

const (
	opReadCursors byte = 1
	opReadBytes   byte = 2
	opWriteCursor byte = 3
)

// Options configures the QUIC dial.
type Options struct {
	// TLSConfig overrides the default TLS 1.3 / ALPN config. Left nil,
	// InsecureSkipVerify governs whether the default config verifies the
	// server's certificate (lab rigs commonly self-sign).
	TLSConfig          *tls.Config
	MaxIdleTimeout     time.Duration
	KeepAlivePeriod    time.Duration
	InsecureSkipVerify bool
	// MinProtocol is a semver constraint (e.g. ">=1.0.0") the server's
	// handshake-advertised protocol version must satisfy; empty accepts
	// any version.
	MinProtocol string
}

// Client is a transport.Probe implementation over one QUIC stream.
type Client struct {
	conn     *quic.Conn
	stream   *quic.Stream
	capacity uint32
}

// Dial opens a QUIC connection to addr, opens its one control stream,
// performs the version handshake, and returns a ready Client.
//
// Handshake: the server writes its protocol version as a 2-byte
// big-endian length prefix followed by the UTF-8 version string; the
// client checks it against opts.MinProtocol via internal/protover and
// replies with a single acknowledgement byte (1 = proceed, 0 = reject),
// after which ReadCursors/ReadBytes/WriteCursor requests may flow.
func Dial(ctx context.Context, addr string, capacity uint32, opts Options) (*Client, error) {
	tlsCfg := opts.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{
			MinVersion:         tls.VersionTLS13,
			NextProtos:         []string{ALPN},
			InsecureSkipVerify: opts.InsecureSkipVerify,
		}
	}

	qc := &quic.Config{}
	if opts.MaxIdleTimeout > 0 {
		qc.MaxIdleTimeout = opts.MaxIdleTimeout
	}

	if opts.KeepAlivePeriod > 0 {
		qc.KeepAlivePeriod = opts.KeepAlivePeriod
	}

	conn, err := quic.DialAddr(ctx, addr, tlsCfg, qc)
	if err != nil {
		return nil, ferr.Transportf("QUIC_DIAL", "%v", err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "stream open failed")
		return nil, ferr.Transportf("QUIC_OPEN_STREAM", "%v", err)
	}

	c := &Client{conn: conn, stream: stream, capacity: capacity}

	if err := c.handshake(opts.MinProtocol); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

func (c *Client) handshake(minProtocol string) error {
	var lenBuf [2]byte

	if _, err := io.ReadFull(c.stream, lenBuf[:]); err != nil {
		return ferr.Transportf("QUIC_HANDSHAKE", "reading version length: %v", err)
	}

	n := binary.BigEndian.Uint16(lenBuf[:])
	verBuf := make([]byte, n)

	if _, err := io.ReadFull(c.stream, verBuf); err != nil {
		return ferr.Transportf("QUIC_HANDSHAKE", "reading version string: %v", err)
	}

	if err := protover.Negotiate(string(verBuf), minProtocol); err != nil {
		c.stream.Write([]byte{0})
		return err
	}

	if _, err := c.stream.Write([]byte{1}); err != nil {
		return ferr.Transportf("QUIC_HANDSHAKE", "sending ack: %v", err)
	}

	return nil
}

func (c *Client) Capacity() uint32 { return c.capacity }

func (c *Client) Close() error {
	err := c.stream.Close()
	c.conn.CloseWithError(0, "done")

	return err
}

// ReadCursors requests the current (T, H) pair in one opReadCursors
// round trip.
func (c *Client) ReadCursors(ctx context.Context) (t, h uint32, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	if err := c.writeRequest(opReadCursors, nil); err != nil {
		return 0, 0, err
	}

	buf, err := c.readResponse(8)
	if err != nil {
		return 0, 0, err
	}

	return binary.BigEndian.Uint32(buf[0:4]), binary.BigEndian.Uint32(buf[4:8]), nil
}

// ReadBytes requests length bytes at offset within the target's ring.
func (c *Client) ReadBytes(ctx context.Context, offset, length uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var payload [8]byte
	binary.BigEndian.PutUint32(payload[0:4], offset)
	binary.BigEndian.PutUint32(payload[4:8], length)

	if err := c.writeRequest(opReadBytes, payload[:]); err != nil {
		return nil, err
	}

	return c.readResponse(int(length))
}

// WriteCursor publishes a new H value.
func (c *Client) WriteCursor(ctx context.Context, h uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var payload [4]byte
	binary.BigEndian.PutUint32(payload[:], h)

	if err := c.writeRequest(opWriteCursor, payload[:]); err != nil {
		return err
	}

	ack, err := c.readResponse(1)
	if err != nil {
		return err
	}

	if ack[0] != 1 {
		return ferr.Transportf("QUIC_WRITE_CURSOR", "server rejected WriteCursor(%d)", h)
	}

	return nil
}

// writeRequest frames one request as opcode + 2-byte big-endian payload
// length + payload.
func (c *Client) writeRequest(op byte, payload []byte) error {
	header := make([]byte, 3, 3+len(payload))
	header[0] = op
	binary.BigEndian.PutUint16(header[1:3], uint16(len(payload)))
	header = append(header, payload...)

	if _, err := c.stream.Write(header); err != nil {
		return ferr.Transportf("QUIC_WRITE", "%v", err)
	}

	return nil
}

// readResponse reads a fixed-size successful response, or decodes a
// 1-byte error-marker frame (0xFF followed by a 2-byte big-endian message
// length and the message) into a transport error.
func (c *Client) readResponse(want int) ([]byte, error) {
	var marker [1]byte
	if _, err := io.ReadFull(c.stream, marker[:]); err != nil {
		return nil, ferr.Transportf("QUIC_READ", "%v", err)
	}

	if marker[0] == 0xFF {
		var lenBuf [2]byte
		if _, err := io.ReadFull(c.stream, lenBuf[:]); err != nil {
			return nil, ferr.Transportf("QUIC_READ", "%v", err)
		}

		msg := make([]byte, binary.BigEndian.Uint16(lenBuf[:]))
		if _, err := io.ReadFull(c.stream, msg); err != nil {
			return nil, ferr.Transportf("QUIC_READ", "%v", err)
		}

		return nil, ferr.Transportf("QUIC_SERVER_ERROR", "%s", msg)
	}

	buf := make([]byte, want)
	if _, err := io.ReadFull(c.stream, buf); err != nil {
		return nil, ferr.Transportf("QUIC_READ", "%v", err)
	}

	return buf, nil
}
