package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/alxayo/devlink/internal/coap"
	"github.com/alxayo/devlink/internal/metrics"
)

type fakeSender struct {
	sent []*coap.Message
	err  error
}

func (s *fakeSender) Send(ctx context.Context, msg *coap.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func functionCallMessage(id uint16, key, arg string, token []byte) *coap.Message {
	return &coap.Message{
		Type:    coap.Confirmable,
		Code:    coap.Post,
		ID:      id,
		Token:   token,
		Options: []coap.Option{{Number: coap.OptionURIPath, Value: []byte("f")}, {Number: coap.OptionURIPath, Value: []byte(key)}},
		Payload: []byte(arg),
	}
}

func TestFunctionCallAcksThenInvokesAndSendsReturn(t *testing.T) {
	table := NewFunctionTable(metrics.New())
	called := false
	table.Register("toggle", func(ctx context.Context, arg string) (int32, error) {
		called = true
		if arg != "on" {
			t.Fatalf("expected arg %q, got %q", "on", arg)
		}
		return 1, nil
	})

	sender := &fakeSender{}
	msg := functionCallMessage(5, "toggle", "on", []byte{0xaa})
	if err := table.Call(context.Background(), sender, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatalf("expected handler to be invoked")
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected ack + function_return, got %d messages", len(sender.sent))
	}
	ack := sender.sent[0]
	if ack.Type != coap.Acknowledgement || ack.Code != coap.CodeEmpty || ack.ID != 5 {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	ret := sender.sent[1]
	if ret.Code != coap.Changed || string(ret.Token) != string([]byte{0xaa}) {
		t.Fatalf("unexpected function_return: %+v", ret)
	}
}

func TestFunctionCallRejectsOversizedArgument(t *testing.T) {
	table := NewFunctionTable(metrics.New())
	invoked := false
	table.Register("f", func(ctx context.Context, arg string) (int32, error) {
		invoked = true
		return 0, nil
	})

	longArg := make([]byte, MaxFunctionArgLength+1)
	for i := range longArg {
		longArg[i] = 'a'
	}
	sender := &fakeSender{}
	msg := functionCallMessage(1, "f", string(longArg), nil)
	if err := table.Call(context.Background(), sender, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if invoked {
		t.Fatalf("expected handler to not be invoked when the argument is too long")
	}
	if len(sender.sent) != 1 || sender.sent[0].Code != coap.BadRequest {
		t.Fatalf("expected a single 4.00 ack, got %+v", sender.sent)
	}
}

func TestFunctionCallUnregisteredKeyStillAcksButSkipsReturn(t *testing.T) {
	table := NewFunctionTable(metrics.New())
	sender := &fakeSender{}
	msg := functionCallMessage(2, "missing", "x", nil)
	if err := table.Call(context.Background(), sender, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].Code != coap.CodeEmpty {
		t.Fatalf("expected only the OK ack, got %+v", sender.sent)
	}
}

func TestFunctionCallHandlerErrorSuppressesReturn(t *testing.T) {
	table := NewFunctionTable(metrics.New())
	table.Register("boom", func(ctx context.Context, arg string) (int32, error) {
		return 0, errors.New("handler blew up")
	})
	sender := &fakeSender{}
	msg := functionCallMessage(3, "boom", "", nil)
	if err := table.Call(context.Background(), sender, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected only the ack when the handler errors, got %+v", sender.sent)
	}
}

func TestFunctionKeyTruncatedToMaxLength(t *testing.T) {
	table := NewFunctionTable(metrics.New())
	longName := "this-name-is-way-too-long-for-a-function-key"
	table.Register(longName, func(ctx context.Context, arg string) (int32, error) { return 0, nil })

	if _, ok := table.handlers[truncateKey(longName, MaxFunctionKeyLength)]; !ok {
		t.Fatalf("expected registration under the truncated key")
	}
}

func TestFunctionCallSurfacesAckSendError(t *testing.T) {
	table := NewFunctionTable(metrics.New())
	sender := &fakeSender{err: errors.New("channel closed")}
	msg := functionCallMessage(1, "f", "", nil)
	if err := table.Call(context.Background(), sender, msg); err == nil {
		t.Fatalf("expected an error when the ack send fails")
	}
}
