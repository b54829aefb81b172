package handlers

import (
	"context"
	"log/slog"

	"github.com/alxayo/devlink/internal/coap"
	"github.com/alxayo/devlink/internal/logger"
	"github.com/alxayo/devlink/internal/metrics"
)

// VariableKind mirrors SparkReturnType::Enum: the four value shapes a
// registered variable can report back as.
type VariableKind uint8

const (
	VariableBool VariableKind = iota
	VariableInt32
	VariableDouble
	VariableString
)

// Variable pairs a value kind with the getter invoked on every
// VARIABLE_REQUEST, matching the (variable_type, get_variable) function
// pointer pair handle_variable_request is given. Get's return value is
// type-asserted against Kind by VariableTable.Get: bool/int32/float64/string.
type Variable struct {
	Kind VariableKind
	Get  func() any
}

// VariableTable holds the registered variables a VARIABLE_REQUEST is looked
// up against.
type VariableTable struct {
	vars         map[string]Variable
	maxStringLen int
	metrics      *metrics.Registry
	log          *slog.Logger
}

// NewVariableTable builds a table. maxStringLen bounds how many bytes of a
// STRING variable's value are sent, matching handle_variable_request's
// truncation to message.capacity().
func NewVariableTable(maxStringLen int, reg *metrics.Registry) *VariableTable {
	return &VariableTable{
		vars:         make(map[string]Variable),
		maxStringLen: maxStringLen,
		metrics:      reg,
		log:          logger.Logger().With("component", "handlers.variables"),
	}
}

// Register adds or replaces the variable at name, truncated to
// MaxVariableKeyLength as decode_variable_request does.
func (t *VariableTable) Register(name string, v Variable) {
	t.vars[truncateKey(name, MaxVariableKeyLength)] = v
}

// Kinds returns the registered variable names and their kinds, used to
// populate the DESCRIBE document's "v" map.
func (t *VariableTable) Kinds() map[string]VariableKind {
	out := make(map[string]VariableKind, len(t.vars))
	for name, v := range t.vars {
		out[name] = v.Kind
	}
	return out
}

// String renders a VariableKind the way the DESCRIBE document's "v" map
// does: the lowercase type name a cloud-side client expects.
func (k VariableKind) String() string {
	switch k {
	case VariableBool:
		return "bool"
	case VariableInt32:
		return "int32"
	case VariableDouble:
		return "double"
	case VariableString:
		return "string"
	default:
		return "unknown"
	}
}

// Get handles a decoded VARIABLE_REQUEST message, replying synchronously:
// a Content response carrying the looked-up value, type-encoded per Kind,
// or a 4.04 Not Found coded ack when the key isn't registered — an explicit
// outcome the original leaves unhandled (an unmatched var_type falls
// through handle_variable_request with an empty response).
func (t *VariableTable) Get(ctx context.Context, sender Sender, msg *coap.Message) error {
	key := truncateKey(keyFromPath(msg), MaxVariableKeyLength)

	v, ok := t.vars[key]
	if !ok {
		if t.metrics != nil {
			t.metrics.HandlerNotFoundTotal.Inc()
		}
		t.log.Warn("variable request for unregistered key", "key", key)
		return sender.Send(ctx, coap.CodedAck(msg.ID, coap.NotFound, msg.Token))
	}
	if t.metrics != nil {
		t.metrics.HandlerVariableRequests.Inc()
	}

	value := v.Get()
	var reply *coap.Message
	switch v.Kind {
	case VariableBool:
		b, _ := value.(bool)
		reply = coap.VariableValueBool(msg.ID, msg.Token, b)
	case VariableInt32:
		i, _ := value.(int32)
		reply = coap.VariableValueInt32(msg.ID, msg.Token, i)
	case VariableDouble:
		d, _ := value.(float64)
		reply = coap.VariableValueDouble(msg.ID, msg.Token, d)
	case VariableString:
		s, _ := value.(string)
		if len(s) > t.maxStringLen {
			s = s[:t.maxStringLen]
		}
		reply = coap.VariableValueRaw(msg.ID, msg.Token, []byte(s))
	default:
		reply = coap.CodedAck(msg.ID, coap.BadRequest, msg.Token)
	}
	return sender.Send(ctx, reply)
}
