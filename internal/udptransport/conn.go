// Package udptransport implements channel.Transport over a UDP socket,
// standing in for the embedded DTLS-over-datagrams record layer the real
// firmware runs underneath its CoAP channel. Grounded on conn.Connection's
// accept-then-own-the-socket lifecycle, adapted from a TCP accept loop to a
// single connected UDP peer.
package udptransport

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/alxayo/devlink/internal/protoerr"
)

// maxDatagramSize bounds a single Recv read, matching the original's
// on-stack receive buffer sizing for a UDP CoAP transport.
const maxDatagramSize = 1536

// Conn wraps a connected net.PacketConn as a channel.Transport. Not safe
// for concurrent Recv calls from multiple goroutines.
type Conn struct {
	pc   net.PacketConn
	peer net.Addr
	buf  []byte
}

// Dial opens a UDP socket and fixes peer as the only address it will ever
// exchange datagrams with.
func Dial(peer string) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return nil, protoerr.NewProtocolError("udptransport.dial.resolve", err)
	}
	pc, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, protoerr.NewProtocolError("udptransport.dial.listen", err)
	}
	return &Conn{pc: pc, peer: raddr, buf: make([]byte, maxDatagramSize)}, nil
}

// Listen opens a UDP socket bound to addr; peer is learned from the first
// received datagram and fixed from then on, matching a single-device
// simulator's one-peer-at-a-time model.
func Listen(addr string) (*Conn, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, protoerr.NewProtocolError("udptransport.listen.resolve", err)
	}
	pc, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, protoerr.NewProtocolError("udptransport.listen.bind", err)
	}
	return &Conn{pc: pc, buf: make([]byte, maxDatagramSize)}, nil
}

func (c *Conn) Send(ctx context.Context, data []byte) error {
	if c.peer == nil {
		return protoerr.NewProtocolError("udptransport.send", errNoPeer)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = c.pc.SetWriteDeadline(dl)
	}
	_, err := c.pc.WriteTo(data, c.peer)
	if err != nil {
		return protoerr.NewProtocolError("udptransport.send", err)
	}
	return nil
}

// Recv blocks until a datagram arrives or ctx's deadline passes. A ctx with
// no deadline blocks on the socket with no deadline at all; every caller in
// this module passes a bounded context (orchestrator.EventLoop's tick
// timeout), so this is never hit in practice.
func (c *Conn) Recv(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.pc.SetReadDeadline(dl)
	} else {
		_ = c.pc.SetReadDeadline(time.Time{})
	}
	n, addr, err := c.pc.ReadFrom(c.buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, context.DeadlineExceeded
		}
		return nil, protoerr.NewProtocolError("udptransport.recv", err)
	}
	if c.peer == nil {
		c.peer = addr
	}
	out := make([]byte, n)
	copy(out, c.buf[:n])
	return out, nil
}

func (c *Conn) Close() error { return c.pc.Close() }

var errNoPeer = errors.New("udptransport: no peer address known yet")
