// Package handlers implements the device-side function-call and
// variable-request RPC surface: registering user callbacks under short
// string keys and replying to FUNCTION_CALL/VARIABLE_REQUEST messages,
// grounded on Functions::handle_function_call and
// Variables::handle_variable_request.
package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/alxayo/devlink/internal/coap"
)

// ErrUnhandled is returned by Dispatcher.Dispatch when msg is neither a
// FUNCTION_CALL nor a VARIABLE_REQUEST.
var ErrUnhandled = errors.New("handlers: message kind not handled")

// MaxFunctionKeyLength, MaxVariableKeyLength and MaxFunctionArgLength mirror
// SparkProtocol::MAX_FUNCTION_KEY_LENGTH, MAX_VARIABLE_KEY_LENGTH and
// MAX_FUNCTION_ARG_LENGTH: keys and inline arguments longer than these are
// truncated (keys) or rejected (the argument, since the cloud never resends
// a smaller one).
const (
	MaxFunctionKeyLength = 12
	MaxVariableKeyLength = 12
	MaxFunctionArgLength = 64
)

// Sender is the narrow send capability the dispatcher needs; satisfied by
// any of the channel decorators.
type Sender interface {
	Send(ctx context.Context, msg *coap.Message) error
}

// keyFromPath strips the leading "f"/"v" Uri-Path segment a FUNCTION_CALL or
// VARIABLE_REQUEST carries and returns whatever segments remain joined back
// with '/', matching how decode_function/decode_variable_request read the
// key out of the request's options rather than its payload.
func keyFromPath(m *coap.Message) string {
	path := coap.JoinURIPath(m)
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return ""
}

func truncateKey(key string, max int) string {
	if len(key) > max {
		return key[:max]
	}
	return key
}
