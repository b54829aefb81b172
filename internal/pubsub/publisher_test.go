package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/alxayo/devlink/internal/coap"
	"github.com/alxayo/devlink/internal/metrics"
	"github.com/alxayo/devlink/internal/protoerr"
)

type fakeSender struct {
	sent []*coap.Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, msg *coap.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func TestPublishEncodesEventAndSends(t *testing.T) {
	sender := &fakeSender{}
	tick := uint32(0)
	clock := func() uint32 { return tick }
	reg := metrics.New()
	pub := NewPublisher(sender, clock, 622, false, reg)

	if err := pub.Publish(context.Background(), 1, "sensors/outdoor", []byte("21.5"), 0, coap.ContentFormatTextPlain, coap.EventTypeNormal, coap.EventPublic); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one message sent, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if kind := coap.DecodeType(msg); kind != coap.KindEvent {
		t.Fatalf("expected KindEvent, got %v", kind)
	}
	if got := coap.JoinURIPath(msg); got != "E/sensors/outdoor" {
		t.Fatalf("unexpected Uri-Path: %q", got)
	}
	if msg.Type != coap.Confirmable {
		t.Fatalf("expected confirmable publish by default (reliable channel), got %v", msg.Type)
	}
}

func TestPublishEventTypeOverridesConfirmability(t *testing.T) {
	sender := &fakeSender{}
	clock := func() uint32 { return 0 }
	pub := NewPublisher(sender, clock, 622, false, nil)

	if err := pub.Publish(context.Background(), 1, "temp", nil, 0, coap.ContentFormatTextPlain, coap.EventTypeNoAck, coap.EventPublic); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.sent[0].Type != coap.NonConfirmable {
		t.Fatalf("expected EventTypeNoAck to force NonConfirmable, got %v", sender.sent[0].Type)
	}
}

func TestPublishTruncatesOversizedPayload(t *testing.T) {
	sender := &fakeSender{}
	clock := func() uint32 { return 0 }
	pub := NewPublisher(sender, clock, 4, false, nil)

	if err := pub.Publish(context.Background(), 1, "temp", []byte("toolong"), 0, coap.ContentFormatTextPlain, coap.EventTypeNormal, coap.EventPublic); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := string(sender.sent[0].Payload); got != "tool" {
		t.Fatalf("expected payload truncated to 4 bytes, got %q", got)
	}
}

func TestPublishAllowsABurstOfFiveThenThrottles(t *testing.T) {
	sender := &fakeSender{}
	tick := uint32(0)
	clock := func() uint32 { return tick }
	reg := metrics.New()
	pub := NewPublisher(sender, clock, 622, false, reg)

	for i := 0; i < appRingSize; i++ {
		if err := pub.Publish(context.Background(), uint16(i+1), "temp", nil, 0, coap.ContentFormatTextPlain, coap.EventTypeNormal, coap.EventPublic); err != nil {
			t.Fatalf("unexpected error on burst publish %d: %v", i, err)
		}
	}
	if len(sender.sent) != appRingSize {
		t.Fatalf("expected a full burst of %d events to send, got %d", appRingSize, len(sender.sent))
	}

	tick = 500
	err := pub.Publish(context.Background(), 99, "temp", nil, 0, coap.ContentFormatTextPlain, coap.EventTypeNormal, coap.EventPublic)
	if err == nil {
		t.Fatalf("expected rate limit error: the oldest ring slot is only 500ms in the past")
	}
	if !errors.Is(err, protoerr.ErrBandwidthExceeded) {
		t.Fatalf("expected ErrBandwidthExceeded, got %v", err)
	}
	if len(sender.sent) != appRingSize {
		t.Fatalf("expected the rate-limited publish to not reach the sender")
	}

	tick = 1500
	if err := pub.Publish(context.Background(), 100, "temp", nil, 0, coap.ContentFormatTextPlain, coap.EventTypeNormal, coap.EventPublic); err != nil {
		t.Fatalf("expected publish to succeed once the oldest slot is 1s in the past, got %v", err)
	}
	if len(sender.sent) != appRingSize+1 {
		t.Fatalf("expected the next publish to reach the sender")
	}
}

func TestPublishSystemEventsAreNotSubjectToAppSpacing(t *testing.T) {
	sender := &fakeSender{}
	tick := uint32(0)
	clock := func() uint32 { return tick }
	pub := NewPublisher(sender, clock, 622, false, nil)

	for i := 0; i < 10; i++ {
		if err := pub.Publish(context.Background(), uint16(i+1), "spark/status", nil, 0, coap.ContentFormatTextPlain, coap.EventTypeNormal, coap.EventPublic); err != nil {
			t.Fatalf("unexpected error on system event %d: %v", i, err)
		}
	}
	if len(sender.sent) != 10 {
		t.Fatalf("expected all 10 rapid system events to send, got %d", len(sender.sent))
	}
}

func TestPublishCapsSystemEventsPerWindow(t *testing.T) {
	sender := &fakeSender{}
	tick := uint32(0)
	clock := func() uint32 { return tick }
	pub := NewPublisher(sender, clock, 622, false, nil)

	for i := 0; i < systemEventCap; i++ {
		if err := pub.Publish(context.Background(), uint16(i+1), "spark/status", nil, 0, coap.ContentFormatTextPlain, coap.EventTypeNormal, coap.EventPublic); err != nil {
			t.Fatalf("unexpected error on system event %d: %v", i, err)
		}
	}
	err := pub.Publish(context.Background(), 9999, "spark/status", nil, 0, coap.ContentFormatTextPlain, coap.EventTypeNormal, coap.EventPublic)
	if err == nil {
		t.Fatalf("expected the event past systemEventCap in the same window to be rate limited")
	}
	if !errors.Is(err, protoerr.ErrBandwidthExceeded) {
		t.Fatalf("expected ErrBandwidthExceeded, got %v", err)
	}

	tick = 1 << 16
	if err := pub.Publish(context.Background(), 10000, "spark/status", nil, 0, coap.ContentFormatTextPlain, coap.EventTypeNormal, coap.EventPublic); err != nil {
		t.Fatalf("expected a new window to reset the system event counter, got %v", err)
	}
}

func TestPublishSurfacesSenderError(t *testing.T) {
	wantErr := errors.New("transport down")
	sender := &fakeSender{err: wantErr}
	clock := func() uint32 { return 0 }
	pub := NewPublisher(sender, clock, 622, false, nil)

	err := pub.Publish(context.Background(), 1, "temp", nil, 0, coap.ContentFormatTextPlain, coap.EventTypeNormal, coap.EventPublic)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected sender error to propagate, got %v", err)
	}
}
