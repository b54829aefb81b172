package handlers

import (
	"context"
	"log/slog"

	"github.com/alxayo/devlink/internal/coap"
	"github.com/alxayo/devlink/internal/logger"
	"github.com/alxayo/devlink/internal/metrics"
)

// FunctionHandler is a registered user function. It runs after the call has
// already been acknowledged, matching call_function's fire-and-forget
// signature: the caller never blocks a FUNCTION_CALL's ACK on the handler
// actually finishing.
type FunctionHandler func(ctx context.Context, arg string) (int32, error)

// FunctionTable holds the registered functions a FUNCTION_CALL request is
// dispatched against, mirroring the (function_key, arg, callback) triple
// Functions::handle_function_call hands to call_function.
type FunctionTable struct {
	handlers map[string]FunctionHandler
	metrics  *metrics.Registry
	log      *slog.Logger
}

func NewFunctionTable(reg *metrics.Registry) *FunctionTable {
	return &FunctionTable{
		handlers: make(map[string]FunctionHandler),
		metrics:  reg,
		log:      logger.Logger().With("component", "handlers.functions"),
	}
}

// Register adds or replaces the handler for name, truncated to
// MaxFunctionKeyLength as the cloud-side table does.
func (t *FunctionTable) Register(name string, h FunctionHandler) {
	t.handlers[truncateKey(name, MaxFunctionKeyLength)] = h
}

// Names returns the registered function keys, used to populate the
// DESCRIBE document's "f" array.
func (t *FunctionTable) Names() []string {
	names := make([]string, 0, len(t.handlers))
	for name := range t.handlers {
		names = append(names, name)
	}
	return names
}

// Call handles a decoded FUNCTION_CALL message: it always ACKs first (0.00
// if the argument fit within MaxFunctionArgLength, 4.00 BadRequest if not),
// then — only when the argument fit — looks up and invokes the registered
// handler, sending its result as a separate FunctionReturn message once the
// handler completes, exactly as handle_function_call's callback closure
// does. Callers that don't want a slow handler to stall the read loop
// should invoke Call from its own goroutine.
func (t *FunctionTable) Call(ctx context.Context, sender Sender, msg *coap.Message) error {
	key := truncateKey(keyFromPath(msg), MaxFunctionKeyLength)
	arg := string(msg.Payload)

	hasArg := len(arg) <= MaxFunctionArgLength
	ackCode := coap.CodeEmpty
	if !hasArg {
		ackCode = coap.BadRequest
		arg = arg[:MaxFunctionArgLength]
	}

	ack := coap.CodedAck(msg.ID, ackCode, msg.Token)
	if err := sender.Send(ctx, ack); err != nil {
		return err
	}
	if !hasArg {
		return nil
	}

	handler, ok := t.handlers[key]
	if !ok {
		if t.metrics != nil {
			t.metrics.HandlerNotFoundTotal.Inc()
		}
		t.log.Warn("function call for unregistered key", "key", key)
		return nil
	}
	if t.metrics != nil {
		t.metrics.HandlerFunctionCalls.Inc()
	}

	token := append([]byte(nil), msg.Token...)
	confirmable := msg.IsConfirmable()
	result, err := handler(ctx, arg)
	if err != nil {
		t.log.Error("function handler failed", "key", key, "err", err)
		return nil
	}
	ret := coap.FunctionReturn(0, token, result, confirmable)
	if sendErr := sender.Send(ctx, ret); sendErr != nil {
		t.log.Error("failed to send function_return", "key", key, "err", sendErr)
		return sendErr
	}
	return nil
}
