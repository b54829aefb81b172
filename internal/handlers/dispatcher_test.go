package handlers

import (
	"context"
	"testing"

	"github.com/alxayo/devlink/internal/coap"
	"github.com/alxayo/devlink/internal/metrics"
)

func TestDispatcherRoutesFunctionCall(t *testing.T) {
	functions := NewFunctionTable(metrics.New())
	functions.Register("f", func(ctx context.Context, arg string) (int32, error) { return 7, nil })
	d := NewDispatcher(functions, NewVariableTable(255, metrics.New()))

	sender := &fakeSender{}
	msg := functionCallMessage(1, "f", "", nil)
	if err := d.Dispatch(context.Background(), sender, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected ack + return, got %d", len(sender.sent))
	}
}

func TestDispatcherRoutesVariableRequest(t *testing.T) {
	variables := NewVariableTable(255, metrics.New())
	variables.Register("v", Variable{Kind: VariableBool, Get: func() any { return true }})
	d := NewDispatcher(NewFunctionTable(metrics.New()), variables)

	sender := &fakeSender{}
	msg := variableRequestMessage(2, "v", nil)
	if err := d.Dispatch(context.Background(), sender, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected a single reply, got %d", len(sender.sent))
	}
}

func TestDispatcherReturnsErrUnhandledForOtherKinds(t *testing.T) {
	d := NewDispatcher(NewFunctionTable(metrics.New()), NewVariableTable(255, metrics.New()))
	sender := &fakeSender{}
	msg := &coap.Message{Type: coap.Confirmable, Code: coap.Post, ID: 1, Options: []coap.Option{{Number: coap.OptionURIPath, Value: []byte("h")}}}
	if err := d.Dispatch(context.Background(), sender, msg); err != ErrUnhandled {
		t.Fatalf("expected ErrUnhandled, got %v", err)
	}
}
