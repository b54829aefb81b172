package channel

import (
	"context"

	"github.com/alxayo/devlink/internal/coap"
)

// IDChannel decorates a Channel by assigning the next message id to any
// outbound message that doesn't already carry one, mirroring
// CoAPChannel<T>::send's "assign id if not already present" behavior. Ids
// are a monotonically increasing uint16 that wraps, skipping 0 (0 is
// reserved to mean "not yet assigned").
type IDChannel struct {
	Channel
	next uint16
}

// NewIDChannel wraps next, starting id assignment from start+1.
func NewIDChannel(next Channel, start uint16) *IDChannel {
	return &IDChannel{Channel: next, next: start}
}

// NextMessageID returns the next id to assign, wrapping past 0.
func (c *IDChannel) NextMessageID() uint16 {
	c.next++
	if c.next == 0 {
		c.next++
	}
	return c.next
}

func (c *IDChannel) Send(ctx context.Context, msg *coap.Message) error {
	if msg.ID == 0 {
		msg.ID = c.NextMessageID()
	}
	return c.Channel.Send(ctx, msg)
}
