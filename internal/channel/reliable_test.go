package channel

import (
	"context"
	"testing"
	"time"

	"github.com/alxayo/devlink/internal/coap"
)

// memTransport is an in-memory Transport pair used to test the channel
// decorators without a real socket.
type memTransport struct {
	out chan []byte
	in  chan []byte
}

func newMemTransportPair() (*memTransport, *memTransport) {
	a := make(chan []byte, 16)
	b := make(chan []byte, 16)
	return &memTransport{out: a, in: b}, &memTransport{out: b, in: a}
}

func (m *memTransport) Send(ctx context.Context, data []byte) error {
	cp := append([]byte(nil), data...)
	select {
	case m.out <- cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *memTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case data := <-m.in:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *memTransport) Close() error { return nil }

func TestIDChannelAssignsMissingID(t *testing.T) {
	client, server := newMemTransportPair()
	cCh := NewIDChannel(NewDatagramChannel(client, true), 0)
	sCh := NewDatagramChannel(server, true)

	ctx := context.Background()
	msg := &coap.Message{Type: coap.Confirmable, Code: coap.Get}
	if err := cCh.Send(ctx, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ID == 0 {
		t.Fatalf("expected non-zero assigned id")
	}

	got, err := sCh.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.ID != msg.ID {
		t.Fatalf("id mismatch: got %d want %d", got.ID, msg.ID)
	}
}

// TestIDChannelSequenceIsPreviousPlusOneStartingAtOneSkippingZero exercises
// the full assignment sequence NextMessageID promises: starting at start+1,
// each id is the previous plus one mod 2^16, and 0 is never handed out
// (reserved to mean "not yet assigned").
func TestIDChannelSequenceIsPreviousPlusOneStartingAtOneSkippingZero(t *testing.T) {
	client, _ := newMemTransportPair()
	cCh := NewIDChannel(NewDatagramChannel(client, true), 0)

	var prev uint16
	for i := 0; i < 500; i++ {
		msg := &coap.Message{Type: coap.Confirmable, Code: coap.Get}
		if err := cCh.Send(context.Background(), msg); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		if msg.ID == 0 {
			t.Fatalf("assignment %d: id 0 must never be handed out", i)
		}
		want := prev + 1
		if want == 0 {
			want = 1
		}
		if msg.ID != want {
			t.Fatalf("assignment %d: id = %d, want %d (previous+1 mod 2^16, skipping 0)", i, msg.ID, want)
		}
		prev = msg.ID
	}
}

// TestIDChannelSequenceWrapsPast65535SkippingZero pins the wrap boundary
// itself: the id after 0xFFFF is 1, never 0.
func TestIDChannelSequenceWrapsPast65535SkippingZero(t *testing.T) {
	client, _ := newMemTransportPair()
	cCh := NewIDChannel(NewDatagramChannel(client, true), 0xFFFE)

	first := &coap.Message{Type: coap.Confirmable, Code: coap.Get}
	if err := cCh.Send(context.Background(), first); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if first.ID != 0xFFFF {
		t.Fatalf("id = %#x, want 0xFFFF", first.ID)
	}

	second := &coap.Message{Type: coap.Confirmable, Code: coap.Get}
	if err := cCh.Send(context.Background(), second); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if second.ID != 1 {
		t.Fatalf("id after wrap = %d, want 1 (0 is reserved)", second.ID)
	}
}

func TestIDChannelPreservesExplicitID(t *testing.T) {
	client, _ := newMemTransportPair()
	cCh := NewIDChannel(NewDatagramChannel(client, true), 0)

	msg := &coap.Message{Type: coap.Confirmable, Code: coap.Get, ID: 99}
	if err := cCh.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ID != 99 {
		t.Fatalf("expected explicit id preserved, got %d", msg.ID)
	}
}

func TestReliableChannelAbsorbsEmptyAck(t *testing.T) {
	client, server := newMemTransportPair()
	cCh := NewReliableChannel(NewIDChannel(NewDatagramChannel(client, true), 0), nil)
	sCh := NewDatagramChannel(server, true)

	ctx := context.Background()
	req := &coap.Message{Type: coap.Confirmable, Code: coap.Get, ID: 1}
	if err := cCh.Send(ctx, req); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if cCh.Active() != 1 {
		t.Fatalf("expected 1 active tracked entry, got %d", cCh.Active())
	}

	got, err := sCh.Receive(ctx)
	if err != nil {
		t.Fatalf("server Receive: %v", err)
	}
	ack := coap.EmptyAck(got.ID)
	if err := sCh.Send(ctx, ack); err != nil {
		t.Fatalf("server ack send: %v", err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, recvErr := cCh.Receive(recvCtx)
	if recvErr == nil {
		t.Fatalf("expected Receive to block past the absorbed empty ack until the deadline")
	}
	if cCh.Active() != 0 {
		t.Fatalf("expected entry removed after ack, got %d active", cCh.Active())
	}
}

func TestReliableChannelSurfacesReset(t *testing.T) {
	client, server := newMemTransportPair()
	cCh := NewReliableChannel(NewIDChannel(NewDatagramChannel(client, true), 0), nil)
	sCh := NewDatagramChannel(server, true)

	ctx := context.Background()
	req := &coap.Message{Type: coap.Confirmable, Code: coap.Get, ID: 1}
	if err := cCh.Send(ctx, req); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := sCh.Receive(ctx)
	if err != nil {
		t.Fatalf("server receive: %v", err)
	}
	if err := sCh.Send(ctx, coap.ResetMessage(got.ID)); err != nil {
		t.Fatalf("server reset send: %v", err)
	}

	_, recvErr := cCh.Receive(ctx)
	id, isReset := IsReset(recvErr)
	if !isReset {
		t.Fatalf("expected IsReset to recognize the error, got %v", recvErr)
	}
	if id != got.ID {
		t.Fatalf("reset id mismatch: got %d want %d", id, got.ID)
	}
	if cCh.Active() != 0 {
		t.Fatalf("expected entry removed after reset, got %d active", cCh.Active())
	}
}
