package coap

import "github.com/alxayo/devlink/internal/protoerr"

// Buffer is a fixed-capacity scratch area message encoders write into
// directly, mirroring the original implementation's practice of encoding
// into a caller-supplied uint8_t buf[] rather than allocating per message.
// No other package in this module uses it at present.
type Buffer struct {
	data   []byte
	length int
}

// NewBuffer allocates a Buffer with the given fixed capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Capacity returns the maximum number of bytes this buffer can hold.
func (b *Buffer) Capacity() int { return len(b.data) }

// Length returns the number of valid bytes currently written.
func (b *Buffer) Length() int { return b.length }

// Bytes returns the valid prefix of the buffer.
func (b *Buffer) Bytes() []byte { return b.data[:b.length] }

// Reset empties the buffer without releasing its backing array.
func (b *Buffer) Reset() { b.length = 0 }

// SetLength fixes the valid length after the caller has written directly
// into Raw(). Returns an error if n exceeds capacity.
func (b *Buffer) SetLength(n int) error {
	if n < 0 || n > len(b.data) {
		return protoerr.NewCodecError("buffer.setLength", errLengthOutOfRange)
	}
	b.length = n
	return nil
}

// Raw exposes the full backing array for callers that encode into it in
// place and then call SetLength.
func (b *Buffer) Raw() []byte { return b.data }

// Fill replaces the buffer contents (up to capacity) and sets length.
func (b *Buffer) Fill(data []byte) error {
	if len(data) > len(b.data) {
		return protoerr.NewCodecError("buffer.fill", errLengthOutOfRange)
	}
	n := copy(b.data, data)
	b.length = n
	return nil
}

var errLengthOutOfRange = bufferError("length exceeds buffer capacity")

type bufferError string

func (e bufferError) Error() string { return string(e) }
