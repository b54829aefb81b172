package pubsub

import (
	"context"

	"github.com/alxayo/devlink/internal/coap"
	"github.com/alxayo/devlink/internal/metrics"
	"github.com/alxayo/devlink/internal/protoerr"
)

// Sender is the subset of channel.Channel the publisher needs: enough to
// send an Event message. internal/channel.ReliableChannel satisfies this.
type Sender interface {
	Send(ctx context.Context, msg *coap.Message) error
}

// TrackedSender additionally supports delivery notification. Publisher
// does not use it: a WITH_ACK publish is sent confirmable through Send,
// and its delivery outcome is not reported to the caller.
type TrackedSender interface {
	Sender
	SendTracked(ctx context.Context, msg *coap.Message, delivered func(ok bool)) error
}

// Clock returns the current free-running millisecond tick used by the
// rate limiter (wraps at 2^32, same convention as every other tick in
// this protocol).
type Clock func() uint32

// Publisher rate-limits and sends application/system events, mirroring
// Publisher::send_event: event type and confirmability, Content-Format and
// Max-Age option suppression when they match the CoAP defaults, and
// payload truncation to the channel's max event data size.
type Publisher struct {
	sender          Sender
	clock           Clock
	limiter         *RateLimiter
	maxEventPayload int
	metrics         *metrics.Registry
	unreliable      bool
}

// NewPublisher builds a Publisher sending through sender. maxEventPayload
// bounds the payload length (get_max_event_data_size in the original);
// unreliable mirrors channel.is_unreliable(), the default confirmability
// used when the caller doesn't pass an explicit EventType override.
func NewPublisher(sender Sender, clock Clock, maxEventPayload int, unreliable bool, reg *metrics.Registry) *Publisher {
	return &Publisher{
		sender:          sender,
		clock:           clock,
		limiter:         NewRateLimiter(),
		maxEventPayload: maxEventPayload,
		metrics:         reg,
		unreliable:      unreliable,
	}
}

// Publish sends eventName/data as a CoAP Event message. ttl of 0 requests
// the CoAP default (60s, the Max-Age option is omitted). visibility
// selects the "E" (public/firehose-visible) or "e" (private, restricted to
// the publishing device's own devices) Uri-Path segment. Returns a
// ProtocolError-classified error wrapping protoerr.ErrBandwidthExceeded if
// the rate limiter rejects the publish.
func (p *Publisher) Publish(ctx context.Context, id uint16, eventName string, data []byte, ttl int, contentFormat coap.ContentFormat, eventType coap.EventType, visibility coap.EventVisibility) error {
	isSystem := IsSystemEvent(eventName)
	if !p.limiter.Allow(isSystem, p.clock()) {
		if p.metrics != nil {
			p.metrics.PublisherRateLimited.Inc()
		}
		return protoerr.NewProtocolError("publisher.publish", protoerr.ErrBandwidthExceeded)
	}

	if ttl == 0 {
		ttl = coap.DefaultMaxAge
	}
	if len(data) > p.maxEventPayload {
		data = data[:p.maxEventPayload]
	}

	confirmable := !p.unreliable
	if eventType == coap.EventTypeNoAck {
		confirmable = false
	} else if eventType == coap.EventTypeWithAck {
		confirmable = true
	}

	msg := coap.Event(id, eventName, data, ttl, contentFormat, eventType, visibility, confirmable)
	if err := p.sender.Send(ctx, msg); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.PublisherEventsSent.Inc()
	}
	return nil
}
