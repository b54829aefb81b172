package coap

import (
	"fmt"

	"github.com/alxayo/devlink/internal/protoerr"
)

// Option is a single CoAP option as it appears on the wire: a number and an
// opaque value. Callers reassemble repeated options (Uri-Path segments)
// themselves; see JoinURIPath.
type Option struct {
	Number uint16
	Value  []byte
}

// Message is the decoded, application-facing form of a single CoAP
// datagram. It is the unit every layer above the codec operates on.
type Message struct {
	Type      Type
	Code      Code
	ID        uint16
	Token     []byte
	Options   []Option
	Payload   []byte
}

// IsConfirmable reports whether this message demands an ACK or RST.
func (m *Message) IsConfirmable() bool { return m.Type == Confirmable }

// HasToken reports whether a token is present (length 1-8 bytes per spec).
func (m *Message) HasToken() bool { return len(m.Token) > 0 }

// Option returns the first option matching number, or (nil, false).
func (m *Message) Option(number uint16) ([]byte, bool) {
	for _, o := range m.Options {
		if o.Number == number {
			return o.Value, true
		}
	}
	return nil, false
}

// OptionAll returns all option values matching number, in wire order.
func (m *Message) OptionAll(number uint16) [][]byte {
	var out [][]byte
	for _, o := range m.Options {
		if o.Number == number {
			out = append(out, o.Value)
		}
	}
	return out
}

// Clone returns a deep copy of the message so callers may safely mutate a
// message decoded from a pooled buffer after it has been handed off.
func (m *Message) Clone() *Message {
	c := &Message{Type: m.Type, Code: m.Code, ID: m.ID}
	if m.Token != nil {
		c.Token = append([]byte(nil), m.Token...)
	}
	if m.Payload != nil {
		c.Payload = append([]byte(nil), m.Payload...)
	}
	if m.Options != nil {
		c.Options = make([]Option, len(m.Options))
		for i, o := range m.Options {
			c.Options[i] = Option{Number: o.Number, Value: append([]byte(nil), o.Value...)}
		}
	}
	return c
}

// DecodeUint parses a CoAP "uint" option value: big-endian, leading zero
// bytes stripped, and an absent/empty value meaning 0 — the encoding
// encodeUint produces for Content-Format, Max-Age and the chunk CRC/index
// options.
func DecodeUint(v []byte) uint32 {
	var out uint32
	for _, b := range v {
		out = out<<8 | uint32(b)
	}
	return out
}

func validateTokenLength(n int) error {
	if n > 8 {
		return protoerr.NewCodecError("token length", fmt.Errorf("token length %d exceeds 8", n))
	}
	return nil
}
