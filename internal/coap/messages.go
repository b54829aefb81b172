package coap

import (
	"encoding/binary"
	"math"
	"strings"
)

// confirmableType returns Confirmable or NonConfirmable depending on the
// caller's reliability preference, matching the bool confirmable parameter
// threaded through every constructor in the original Messages class.
func confirmableType(confirmable bool) Type {
	if confirmable {
		return Confirmable
	}
	return NonConfirmable
}

// Hello builds the device-initiated (or cloud-initiated) handshake message:
// Uri-Path "h", a single-byte flags option is not used upstream — flags,
// platform id, product id and firmware version are carried in the payload
// exactly as particle's hello() packs them, followed by the device id.
func Hello(id uint16, flags uint8, platformID, productID, productFirmwareVersion uint16, confirmable bool, deviceID []byte) *Message {
	payload := make([]byte, 0, 7+len(deviceID))
	payload = append(payload, flags)
	payload = appendUint16(payload, platformID)
	payload = appendUint16(payload, productID)
	payload = appendUint16(payload, productFirmwareVersion)
	payload = append(payload, deviceID...)

	return &Message{
		Type:    confirmableType(confirmable),
		Code:    Post,
		ID:      id,
		Options: []Option{{Number: OptionURIPath, Value: []byte("h")}},
		Payload: payload,
	}
}

// UpdateDone signals that the device finished applying an OTA image. The
// result-bearing variant carries the bootloader's verdict as payload.
func UpdateDone(id uint16, confirmable bool) *Message {
	return &Message{
		Type:    confirmableType(confirmable),
		Code:    Post,
		ID:      id,
		Options: []Option{{Number: OptionURIPath, Value: []byte("ud")}},
	}
}

func UpdateDoneWithResult(id uint16, result []byte, confirmable bool) *Message {
	m := UpdateDone(id, confirmable)
	m.Payload = append([]byte(nil), result...)
	return m
}

// FunctionReturnSize mirrors Messages::function_return_size: the worst-case
// encoded size of a function_return message (header + token + int32 payload).
const FunctionReturnSize = 10

// FunctionReturn replies to a function-call request with a single int32
// result.
func FunctionReturn(id uint16, token []byte, returnValue int32, confirmable bool) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(returnValue))
	return &Message{
		Type:    confirmableType(confirmable),
		Code:    Changed,
		ID:      id,
		Token:   token,
		Payload: payload,
	}
}

// VariableValueBool, VariableValueInt32, VariableValueDouble and
// VariableValueRaw cover the four overloads of Messages::variable_value.
func VariableValueBool(id uint16, token []byte, value bool) *Message {
	var b byte
	if value {
		b = 1
	}
	return &Message{Type: Acknowledgement, Code: Content, ID: id, Token: token, Payload: []byte{b}}
}

func VariableValueInt32(id uint16, token []byte, value int32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(value))
	return &Message{Type: Acknowledgement, Code: Content, ID: id, Token: token, Payload: payload}
}

func VariableValueDouble(id uint16, token []byte, value float64) *Message {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, math.Float64bits(value))
	return &Message{Type: Acknowledgement, Code: Content, ID: id, Token: token, Payload: payload}
}

func VariableValueRaw(id uint16, token []byte, value []byte) *Message {
	return &Message{Type: Acknowledgement, Code: Content, ID: id, Token: token, Payload: append([]byte(nil), value...)}
}

// TimeRequest asks the cloud for the current Unix time.
func TimeRequest(id uint16, token []byte) *Message {
	return &Message{
		Type:    Confirmable,
		Code:    Get,
		ID:      id,
		Token:   token,
		Options: []Option{{Number: OptionURIPath, Value: []byte("t")}},
	}
}

// ChunkMissed requests retransmission of one firmware chunk by index.
func ChunkMissed(id uint16, chunkIndex uint16) *Message {
	return ChunkMissedBatch(id, []uint16{chunkIndex})
}

// ChunkMissedBatch requests retransmission of several chunks at once,
// matching ChunkedTransfer::send_missing_chunks: a GET to Uri-Path "c"
// whose payload is the concatenated big-endian chunk indices.
func ChunkMissedBatch(id uint16, chunkIndices []uint16) *Message {
	payload := make([]byte, 0, 2*len(chunkIndices))
	for _, idx := range chunkIndices {
		payload = appendUint16(payload, idx)
	}
	return &Message{
		Type:    Confirmable,
		Code:    Get,
		ID:      id,
		Options: []Option{{Number: OptionURIPath, Value: []byte("c")}},
		Payload: payload,
	}
}

// Chunk builds a firmware chunk POST: Uri-Path "c", a CRC32 option, an
// optional chunk-index option (present only in fast-OTA mode, where the
// cloud can't rely on stream order), followed by the chunk payload.
func Chunk(id uint16, crc uint32, chunkIndex *uint16, payload []byte, confirmable bool) *Message {
	opts := []Option{
		{Number: OptionURIPath, Value: []byte("c")},
		{Number: OptionChunkCRC, Value: encodeUint(crc)},
	}
	if chunkIndex != nil {
		idxBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(idxBuf, *chunkIndex)
		opts = append(opts, Option{Number: OptionChunkIndex, Value: idxBuf})
	}
	return &Message{
		Type:    confirmableType(confirmable),
		Code:    Post,
		ID:      id,
		Options: opts,
		Payload: append([]byte(nil), payload...),
	}
}

// ContentResponse builds an empty 2.05 Content response carrying only a
// token, used as the header for a subsequently streamed description
// payload.
func ContentResponse(id uint16, token []byte) *Message {
	return &Message{Type: Acknowledgement, Code: Content, ID: id, Token: token}
}

// Ping is the keepalive probe; an empty CON with no options or payload.
func Ping(id uint16) *Message {
	return &Message{Type: Confirmable, Code: CodeEmpty, ID: id}
}

// KeepAlive is the even cheaper NON variant some transports send instead
// of a confirmable Ping to avoid triggering retransmission bookkeeping.
func KeepAlive() *Message {
	return &Message{Type: NonConfirmable, Code: CodeEmpty}
}

// EmptyAck acknowledges a CON message with no payload and no token,
// matching Messages::empty_ack (0x60 header byte).
func EmptyAck(id uint16) *Message {
	return &Message{Type: Acknowledgement, Code: CodeEmpty, ID: id}
}

// CodedAck acknowledges with a response code and optional token, matching
// the two Messages::coded_ack overloads (4-byte no-token, 5-byte
// one-byte-token forms collapse into a single Go constructor since the
// wire encoder handles token length uniformly).
func CodedAck(id uint16, code Code, token []byte) *Message {
	return &Message{Type: Acknowledgement, Code: code, ID: id, Token: token}
}

// ResetMessage rejects an unparseable or unwanted CON/NON message.
func ResetMessage(id uint16) *Message {
	return &Message{Type: Reset, Code: CodeEmpty, ID: id}
}

// UpdateReady is the separate response telling the device whether the
// cloud accepted the UPDATE_BEGIN request, code 2.04 Changed with a
// single flags byte payload (fast-OTA bit, etc).
func UpdateReady(id uint16, token []byte, flags uint8, confirmable bool) *Message {
	return SeparateResponseWithPayload(id, token, Changed, []byte{flags}, confirmable)
}

// ChunkReceivedCode enumerates the chunk_received response codes: OK means
// the CRC matched, BAD means the chunk must be resent.
type ChunkReceivedCode uint8

const (
	ChunkReceivedOK  ChunkReceivedCode = 0
	ChunkReceivedBad ChunkReceivedCode = 1
)

func ChunkReceived(id uint16, token []byte, code ChunkReceivedCode, confirmable bool) *Message {
	respCode := Changed
	if code == ChunkReceivedBad {
		respCode = BadRequest
	}
	return SeparateResponse(id, token, respCode, confirmable)
}

func SeparateResponse(id uint16, token []byte, code Code, confirmable bool) *Message {
	return SeparateResponseWithPayload(id, token, code, nil, confirmable)
}

func SeparateResponseWithPayload(id uint16, token []byte, code Code, payload []byte, confirmable bool) *Message {
	return &Message{
		Type:    confirmableType(confirmable),
		Code:    code,
		ID:      id,
		Token:   token,
		Payload: append([]byte(nil), payload...),
	}
}

// Description is a Content response carrying the device's system/app
// describe document as payload (set by the caller after construction).
func Description(id uint16, token []byte) *Message {
	return ContentResponse(id, token)
}

// EventType mirrors EventType::Enum: whether the caller requires delivery
// confirmation beyond the CoAP transport's own CON/NON semantics.
type EventType uint8

const (
	EventTypeNormal EventType = iota
	EventTypeNoAck
	EventTypeWithAck
)

// EventVisibility selects the leading Uri-Path segment an Event is encoded
// with: "E" for an event any firehose listener may see, "e" for one
// restricted to the publishing device's own devices/target, matching the
// wire framing section's "Event POST: Uri-Path options E (public) or e
// (private)".
type EventVisibility uint8

const (
	EventPublic EventVisibility = iota
	EventPrivate
)

func (v EventVisibility) uriPathSegment() string {
	if v == EventPrivate {
		return "e"
	}
	return "E"
}

// Event builds a publish message. Uri-Path starts with "E" or "e" per
// visibility, followed by the event name segments (the name is split on
// '/' so multi-segment names round-trip through the same multi-option
// Uri-Path reassembly the subscriber side performs). Content-Format is
// only emitted when it differs from text/plain, and Max-Age only when ttl
// != DefaultMaxAge, exactly as publisher.cpp does.
func Event(id uint16, eventName string, data []byte, ttl int, contentFormat ContentFormat, eventType EventType, visibility EventVisibility, confirmable bool) *Message {
	opts := []Option{{Number: OptionURIPath, Value: []byte(visibility.uriPathSegment())}}
	for _, seg := range strings.Split(eventName, "/") {
		opts = append(opts, Option{Number: OptionURIPath, Value: []byte(seg)})
	}
	if contentFormat != ContentFormatTextPlain {
		opts = append(opts, Option{Number: OptionContentFormat, Value: encodeUint(uint32(contentFormat))})
	}
	if ttl != DefaultMaxAge {
		opts = append(opts, Option{Number: OptionMaxAge, Value: encodeUint(uint32(ttl))})
	}

	typ := confirmableType(confirmable)
	switch eventType {
	case EventTypeNoAck:
		typ = NonConfirmable
	case EventTypeWithAck:
		typ = Confirmable
	}

	return &Message{
		Type:    typ,
		Code:    Post,
		ID:      id,
		Options: opts,
		Payload: append([]byte(nil), data...),
	}
}

// JoinURIPath reassembles the Uri-Path option segments of a decoded message
// into a single '/'-joined name, as subscriptions.h's handle_event does
// when parsing an incoming EVENT message.
func JoinURIPath(m *Message) string {
	segs := m.OptionAll(OptionURIPath)
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = string(s)
	}
	return strings.Join(parts, "/")
}

func appendUint16(dst []byte, v uint16) []byte {
	return append(dst, byte(v>>8), byte(v))
}

// encodeUint trims leading zero bytes, matching CoAP's variable-length
// uint option encoding (Content-Format and Max-Age are both "uint" options).
func encodeUint(v uint32) []byte {
	if v == 0 {
		return nil
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	i := 0
	for i < 3 && b[i] == 0 {
		i++
	}
	return append([]byte(nil), b[i:]...)
}

// DecodeType classifies a decoded Message by inspecting its Code and, for
// requests, the first Uri-Path segment — mirroring Messages::decodeType,
// which dispatches on the raw option bytes before any higher-level parsing.
func DecodeType(m *Message) MessageKind {
	if m.Type == Acknowledgement && m.Code == CodeEmpty {
		return KindEmptyAck
	}
	if m.Type == Confirmable && m.Code == CodeEmpty {
		return KindPing
	}
	if m.Type == NonConfirmable && m.Code == CodeEmpty {
		return KindKeepAlive
	}
	if uint8(m.Code)>>5 >= 4 {
		return KindErrorResponse
	}
	if m.Code != Get && m.Code != Post && m.Code != Put && m.Code != Delete {
		return KindUnknown
	}

	path := JoinURIPath(m)
	switch {
	case path == "h":
		return KindHello
	case path == "d":
		return KindDescribe
	case path == "f" || strings.HasPrefix(path, "f/"):
		return KindFunctionCall
	case path == "v" || strings.HasPrefix(path, "v/"):
		return KindVariableRequest
	case path == "E" || strings.HasPrefix(path, "E/") || path == "e" || strings.HasPrefix(path, "e/"):
		return KindEvent
	case path == "s":
		return KindSaveBegin
	case path == "u":
		return KindUpdateBegin
	case path == "ud":
		return KindUpdateDone
	case path == "c":
		if m.Code == Post {
			return KindChunk
		}
		return KindChunkMissed
	case path == "sig/start":
		return KindSignalStart
	case path == "sig/stop":
		return KindSignalStop
	case path == "t":
		return KindTime
	case path == "k":
		return KindKeyChange
	default:
		return KindUnknown
	}
}
