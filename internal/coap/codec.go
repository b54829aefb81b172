package coap

import (
	"fmt"

	"github.com/alxayo/devlink/internal/protoerr"
)

const headerSize = 4

// Decode parses a single complete CoAP datagram (as delivered whole by the
// underlying transport) into a Message. Unlike the teacher's chunk reader,
// there is no streaming Reader here: the device-cloud transport is
// message-oriented (one UDP-equivalent datagram in, one Message out), so
// decode operates on a byte slice rather than an io.Reader.
func Decode(raw []byte) (*Message, error) {
	if len(raw) < headerSize {
		return nil, protoerr.NewCodecError("decode header", fmt.Errorf("datagram too short: %d bytes", len(raw)))
	}

	version := raw[0] >> 6
	if version != 1 {
		return nil, protoerr.NewCodecError("decode header", fmt.Errorf("unsupported version %d", version))
	}
	typ := Type((raw[0] >> 4) & 0x3)
	tokenLen := int(raw[0] & 0x0F)
	if err := validateTokenLength(tokenLen); err != nil {
		return nil, err
	}

	code := Code(raw[1])
	id := uint16(raw[2])<<8 | uint16(raw[3])

	pos := headerSize
	if len(raw) < pos+tokenLen {
		return nil, protoerr.NewCodecError("decode token", fmt.Errorf("truncated token: need %d have %d", tokenLen, len(raw)-pos))
	}
	var token []byte
	if tokenLen > 0 {
		token = append([]byte(nil), raw[pos:pos+tokenLen]...)
	}
	pos += tokenLen

	opts, payloadStart, err := decodeOptions(raw, pos)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if payloadStart < len(raw) {
		payload = append([]byte(nil), raw[payloadStart:]...)
	}

	return &Message{
		Type:    typ,
		Code:    code,
		ID:      id,
		Token:   token,
		Options: opts,
		Payload: payload,
	}, nil
}

// decodeOptions parses the delta/length-encoded option sequence starting at
// pos, stopping at the 0xFF payload marker or end of buffer. It returns the
// parsed options and the offset of the first payload byte (len(raw) if
// there is no payload).
func decodeOptions(raw []byte, pos int) ([]Option, int, error) {
	var opts []Option
	var runningNumber uint16

	for pos < len(raw) {
		if raw[pos] == 0xFF {
			return opts, pos + 1, nil
		}

		deltaNibble := uint16(raw[pos] >> 4)
		lengthNibble := uint16(raw[pos] & 0x0F)
		pos++

		delta, pos2, err := extendOptionValue(raw, pos, deltaNibble)
		if err != nil {
			return nil, 0, protoerr.NewCodecError("decode option delta", err)
		}
		pos = pos2

		length, pos3, err := extendOptionValue(raw, pos, lengthNibble)
		if err != nil {
			return nil, 0, protoerr.NewCodecError("decode option length", err)
		}
		pos = pos3

		if pos+int(length) > len(raw) {
			return nil, 0, protoerr.NewCodecError("decode option value", fmt.Errorf("truncated option value: need %d have %d", length, len(raw)-pos))
		}

		runningNumber += delta
		var value []byte
		if length > 0 {
			value = append([]byte(nil), raw[pos:pos+int(length)]...)
		}
		opts = append(opts, Option{Number: runningNumber, Value: value})
		pos += int(length)
	}
	return opts, len(raw), nil
}

// extendOptionValue applies the CoAP 13/14 extended-value convention to a
// 4-bit nibble already read from the option header byte.
func extendOptionValue(raw []byte, pos int, nibble uint16) (uint16, int, error) {
	switch nibble {
	case 13:
		if pos >= len(raw) {
			return 0, pos, fmt.Errorf("truncated 1-byte extension")
		}
		return uint16(raw[pos]) + 13, pos + 1, nil
	case 14:
		if pos+1 >= len(raw) {
			return 0, pos, fmt.Errorf("truncated 2-byte extension")
		}
		return (uint16(raw[pos])<<8 | uint16(raw[pos+1])) + 269, pos + 2, nil
	case 15:
		return 0, pos, fmt.Errorf("reserved nibble value 15")
	default:
		return nibble, pos, nil
	}
}

// Encode serializes a Message into a freshly allocated byte slice. Callers
// on a hot path (the store's retransmit buffer, the chunked sender) should
// prefer EncodeInto to reuse a pooled buffer.
func (m *Message) Encode() ([]byte, error) {
	buf := make([]byte, 0, headerSize+len(m.Token)+optionsEncodedLen(m.Options)+1+len(m.Payload))
	return EncodeInto(buf, m)
}

// EncodeInto appends the wire encoding of m to dst and returns the result,
// following the append(dst, ...) idiom so callers can reuse a pooled
// backing array (dst[:0]).
func EncodeInto(dst []byte, m *Message) ([]byte, error) {
	if err := validateTokenLength(len(m.Token)); err != nil {
		return nil, err
	}

	first := byte(1<<6) | byte(m.Type&0x3)<<4 | byte(len(m.Token)&0x0F)
	dst = append(dst, first, byte(m.Code), byte(m.ID>>8), byte(m.ID))
	dst = append(dst, m.Token...)

	var err error
	dst, err = encodeOptions(dst, m.Options)
	if err != nil {
		return nil, err
	}

	if len(m.Payload) > 0 {
		dst = append(dst, 0xFF)
		dst = append(dst, m.Payload...)
	}
	return dst, nil
}

func optionsEncodedLen(opts []Option) int {
	n := 0
	for _, o := range opts {
		n += 1 + 2 + 2 + len(o.Value) // worst case: 1 header byte + 2 extended delta + 2 extended length
	}
	return n
}

// encodeOptions serializes options in ascending Number order (the caller is
// expected to have already sorted/grouped them; the reliable store and
// publisher both build option lists in number order directly).
func encodeOptions(dst []byte, opts []Option) ([]byte, error) {
	var running uint16
	for _, o := range opts {
		if o.Number < running {
			return nil, protoerr.NewCodecError("encode option", fmt.Errorf("option number %d out of order after %d", o.Number, running))
		}
		delta := o.Number - running
		running = o.Number

		deltaNibble, deltaExt := splitOptionValue(delta)
		lengthNibble, lengthExt := splitOptionValue(uint16(len(o.Value)))

		dst = append(dst, byte(deltaNibble<<4)|byte(lengthNibble))
		dst = append(dst, deltaExt...)
		dst = append(dst, lengthExt...)
		dst = append(dst, o.Value...)
	}
	return dst, nil
}

// splitOptionValue returns the 4-bit nibble to place in the option header
// byte and any extended bytes that must follow it, per RFC 7252 §3.1.
func splitOptionValue(v uint16) (nibble uint16, ext []byte) {
	switch {
	case v < 13:
		return v, nil
	case v < 269:
		return 13, []byte{byte(v - 13)}
	default:
		ev := v - 269
		return 14, []byte{byte(ev >> 8), byte(ev)}
	}
}
