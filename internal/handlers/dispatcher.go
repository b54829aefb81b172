package handlers

import (
	"context"

	"github.com/alxayo/devlink/internal/coap"
)

// Dispatcher routes decoded FUNCTION_CALL and VARIABLE_REQUEST messages to
// a FunctionTable/VariableTable pair, mirroring the narrow routing role
// rpc.Dispatcher plays for RTMP command messages.
type Dispatcher struct {
	Functions *FunctionTable
	Variables *VariableTable
}

func NewDispatcher(functions *FunctionTable, variables *VariableTable) *Dispatcher {
	return &Dispatcher{Functions: functions, Variables: variables}
}

// Dispatch routes msg by its decoded kind. It returns ErrUnhandled for any
// kind other than KindFunctionCall/KindVariableRequest so callers can fold
// it into a larger orchestrator switch without special-casing this package.
func (d *Dispatcher) Dispatch(ctx context.Context, sender Sender, msg *coap.Message) error {
	switch coap.DecodeType(msg) {
	case coap.KindFunctionCall:
		return d.Functions.Call(ctx, sender, msg)
	case coap.KindVariableRequest:
		return d.Variables.Get(ctx, sender, msg)
	default:
		return ErrUnhandled
	}
}
