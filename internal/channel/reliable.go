package channel

import (
	"context"
	"errors"

	"github.com/alxayo/devlink/internal/coap"
	"github.com/alxayo/devlink/internal/metrics"
	"github.com/alxayo/devlink/internal/protoerr"
	"github.com/alxayo/devlink/internal/store"
)

// ReliableChannel decorates a Channel with the CON retransmission and
// inbound-duplicate suppression behavior from coap_channel.h's
// CoAPMessage bookkeeping: outbound CON messages are tracked in a
// store.Store and resent on Tick() until acknowledged, reset, or timed
// out; inbound CON requests that duplicate an already-answered message id
// are transparently replayed from store.Dedup instead of reaching the
// caller twice.
type ReliableChannel struct {
	Channel
	store *store.Store
	dedup *store.Dedup
}

// NewReliableChannel wraps next. If next.IsUnreliable() is false (the
// transport already guarantees delivery, e.g. a reliable stream), the
// decorator still tracks entries for API symmetry but Tick never has
// anything to retransmit in practice.
func NewReliableChannel(next Channel, reg *metrics.Registry) *ReliableChannel {
	return &ReliableChannel{
		Channel: next,
		store:   store.New(reg),
		dedup:   store.NewDedup(),
	}
}

// Send transmits msg. Confirmable messages are additionally registered in
// the message store so Tick retransmits them until acknowledged.
func (c *ReliableChannel) Send(ctx context.Context, msg *coap.Message) error {
	if err := c.Channel.Send(ctx, msg); err != nil {
		return err
	}
	if msg.Type != coap.Confirmable {
		return nil
	}
	raw, err := msg.Encode()
	if err != nil {
		return protoerr.NewProtocolError("reliable.send.encode", err)
	}
	return c.store.Add(msg.ID, raw, nil)
}

// SendTracked is like Send but invokes delivered exactly once when the
// message is acknowledged, reset, or gives up retransmitting — used by
// callers (the orchestrator) that need to know the outcome
// of a specific confirmable exchange rather than polling.
func (c *ReliableChannel) SendTracked(ctx context.Context, msg *coap.Message, delivered store.DeliveredFunc) error {
	if err := c.Channel.Send(ctx, msg); err != nil {
		return err
	}
	if msg.Type != coap.Confirmable {
		if delivered != nil {
			delivered(store.DeliveryOK)
		}
		return nil
	}
	raw, err := msg.Encode()
	if err != nil {
		return protoerr.NewProtocolError("reliable.send.encode", err)
	}
	return c.store.Add(msg.ID, raw, delivered)
}

// Receive returns the next application-actionable message: an inbound
// request, or a response to one of our own confirmable sends. ACKs that
// merely close out a tracked entry (with no payload carrying a reply) are
// absorbed without returning to the caller; RST is surfaced as
// protoerr.ErrMessageReset wrapped around the message id so the caller can
// clean up any state keyed by that id.
func (c *ReliableChannel) Receive(ctx context.Context) (*coap.Message, error) {
	for {
		msg, err := c.Channel.Receive(ctx)
		if err != nil {
			return nil, err
		}

		switch msg.Type {
		case coap.Acknowledgement:
			c.store.Ack(msg.ID, msg.Payload)
			if msg.Code == coap.CodeEmpty && len(msg.Payload) == 0 {
				continue // plain empty ack: nothing more to deliver
			}
			return msg, nil

		case coap.Reset:
			c.store.Reset(msg.ID)
			return nil, errResetWithID(msg.ID)

		case coap.Confirmable:
			if cached, ok := c.dedup.Lookup(msg.ID); ok {
				if err := c.replayFromCache(ctx, msg.ID, cached); err != nil {
					return nil, err
				}
				continue
			}
			return msg, nil

		default: // NON
			return msg, nil
		}
	}
}

// RememberResponse records the wire-encoded response sent for an inbound
// request so a retransmitted duplicate of that request is answered from
// cache instead of re-invoking the handler. Callers invoke this right
// after sending their reply to a Confirmable request.
func (c *ReliableChannel) RememberResponse(requestID uint16, responseRaw []byte) {
	c.dedup.Remember(requestID, responseRaw)
}

func (c *ReliableChannel) replayFromCache(ctx context.Context, id uint16, cached []byte) error {
	msg, err := coap.Decode(cached)
	if err != nil {
		return protoerr.NewProtocolError("reliable.replay.decode", err)
	}
	return c.Channel.Send(ctx, msg)
}

// Tick drives the retransmission clock: any tracked CON message whose
// backoff timer has elapsed is resent as-is; entries that exhaust
// MAX_RETRANSMIT or exceed MAX_TRANSMIT_SPAN are dropped and their
// delivered callback (if any) fires with store.DeliveryTimeout.
func (c *ReliableChannel) Tick(ctx context.Context) error {
	for _, raw := range c.store.Process() {
		msg, err := coap.Decode(raw)
		if err != nil {
			return protoerr.NewProtocolError("reliable.tick.decode", err)
		}
		if err := c.Channel.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// Active returns the number of confirmable messages currently awaiting
// acknowledgement.
func (c *ReliableChannel) Active() int { return c.store.Active() }

type resetError struct {
	id uint16
}

func (e *resetError) Error() string { return "peer reset message id " + itoa(e.id) }
func (e *resetError) Unwrap() error { return protoerr.ErrMessageReset }

func errResetWithID(id uint16) error {
	return &resetError{id: id}
}

func itoa(v uint16) string {
	if v == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// IsReset reports whether err originated from a peer RST, and if so the
// message id it referred to.
func IsReset(err error) (uint16, bool) {
	var re *resetError
	if errors.As(err, &re) {
		return re.id, true
	}
	return 0, false
}
