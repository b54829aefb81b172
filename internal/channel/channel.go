// Package channel implements the layered channel abstractions the
// orchestrator talks to: a raw datagram Transport at the bottom, a codec
// adapter turning datagrams into coap.Message values, an id-assigning
// decorator, and a reliability decorator that drives the message store.
package channel

import (
	"context"

	"github.com/alxayo/devlink/internal/bufpool"
	"github.com/alxayo/devlink/internal/coap"
	"github.com/alxayo/devlink/internal/protoerr"
)

// sendBufferHint is the size class requested from bufpool for an outbound
// encode buffer; most messages are small control frames, and EncodeInto
// grows past it for the rare large DESCRIBE/chunk payload same as append
// would.
const sendBufferHint = 64

// Transport is the minimum datagram contract a concrete network (UDP
// socket, in-memory pipe, simulated lossy link) must satisfy. It stands in
// for the embedded DTLS record layer the real firmware uses underneath
// its CoAP channel.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// Channel is the application-facing contract: send and receive whole CoAP
// messages. Every decorator in this package implements it, so they
// compose: DatagramChannel -> IDChannel -> ReliableChannel.
type Channel interface {
	Send(ctx context.Context, msg *coap.Message) error
	Receive(ctx context.Context) (*coap.Message, error)
	Close() error
	// IsUnreliable reports whether the underlying transport can drop or
	// reorder datagrams (e.g. UDP); it is false for a transport that
	// already guarantees delivery (e.g. TCP).
	IsUnreliable() bool
}

// DatagramChannel is the base Channel: it just encodes/decodes coap.Message
// values across a raw Transport, with no id assignment or reliability.
type DatagramChannel struct {
	transport  Transport
	unreliable bool
}

// NewDatagramChannel wraps transport. unreliable should be true for a
// datagram transport (UDP-like) that can drop or reorder messages, false
// for a transport that already guarantees in-order delivery.
func NewDatagramChannel(transport Transport, unreliable bool) *DatagramChannel {
	return &DatagramChannel{transport: transport, unreliable: unreliable}
}

func (c *DatagramChannel) Send(ctx context.Context, msg *coap.Message) error {
	buf := bufpool.Get(sendBufferHint)[:0]
	raw, err := coap.EncodeInto(buf, msg)
	if err != nil {
		bufpool.Put(buf)
		return protoerr.NewProtocolError("channel.send.encode", err)
	}
	err = c.transport.Send(ctx, raw)
	bufpool.Put(raw)
	return err
}

func (c *DatagramChannel) Receive(ctx context.Context) (*coap.Message, error) {
	raw, err := c.transport.Recv(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := coap.Decode(raw)
	if err != nil {
		return nil, protoerr.NewProtocolError("channel.receive.decode", err)
	}
	return msg, nil
}

func (c *DatagramChannel) Close() error     { return c.transport.Close() }
func (c *DatagramChannel) IsUnreliable() bool { return c.unreliable }
