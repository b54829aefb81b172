// Package session implements the device-side session persistence record:
// a fixed-size binary blob capturing enough DTLS and protocol state to
// resume a connection without a full handshake, grounded on
// dtls_session_persist.h's SessionPersistData/SessionPersistOpaque.
package session

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/alxayo/devlink/internal/protoerr"
)

// MaximumSessionUses mirrors SessionPersistOpaque::MAXIMUM_SESSION_USES: a
// record is discarded once it has been retrieved this many times without a
// fully successful resumption.
const MaximumSessionUses = 3

// Record is the fixed-size, binary-encodable persisted session. Every field
// is a fixed-size value (no slices, strings or pointers) so the whole
// struct can be serialized with a single encoding/binary pass, matching the
// original's __attribute__((packed)) POD layout.
type Record struct {
	Size       uint16
	Persistent uint8
	UseCounter uint8

	// Connection is opaque to this package: external code (the transport
	// layer) stores whatever it needs to resume a lower-level connection
	// here, same as SessionPersistData::connection.
	Connection [32]byte

	KeysChecksum uint32

	// The DTLS session fields below are treated as an opaque blob: this
	// module does not implement TLS record-layer cryptography (spec
	// Non-goal), it only has to preserve whatever bytes the embedded DTLS
	// library produced across a save/restore cycle.
	CipherSuite  uint16
	Compression  uint8
	SessionIDLen uint8
	SessionID    [32]byte
	MasterSecret [48]byte
	Epoch        uint16
	OutCounter   uint64
	InWindowTop  uint64
	InWindow     uint64

	NextCoAPID uint16

	SubscriptionsCRC  uint32
	DescribeAppCRC    uint32
	DescribeSystemCRC uint32

	// ProtocolFlags mirrors the Hello feature flags negotiated for this
	// connection (OTA_OK, DIAGNOSTICS, IMMEDIATE_UPDATES, ...), included in
	// the session so a resumed connection doesn't have to re-negotiate.
	ProtocolFlags uint16

	// OTAMaxTransferSize supplements the original's comment about
	// "OTA-related maxima" persisted alongside the session.
	OTAMaxTransferSize uint32

	ConnectionID [8]byte
}

// RecordSize is the fixed wire size of an encoded Record.
var RecordSize = binary.Size(Record{})

// IsValid mirrors SessionPersistOpaque::is_valid: size must equal the
// expected encoded size exactly.
func (r *Record) IsValid() bool { return int(r.Size) == RecordSize }

// Invalidate mirrors SessionPersistOpaque::invalidate.
func (r *Record) Invalidate() { r.Size = 0 }

// IncrementUseCount mirrors increment_use_count.
func (r *Record) IncrementUseCount() { r.UseCounter++ }

// ClearUseCount mirrors clear_use_count.
func (r *Record) ClearUseCount() { r.UseCounter = 0 }

// HasExpired mirrors has_expired.
func (r *Record) HasExpired() bool { return r.UseCounter >= MaximumSessionUses }

// Encode serializes the record to its fixed-size wire form, stamping Size
// with the correct value first.
func (r *Record) Encode() ([]byte, error) {
	r.Size = uint16(RecordSize)
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, r); err != nil {
		return nil, protoerr.NewSessionError("session.record.encode", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a Record from its fixed-size wire form.
func Decode(data []byte) (*Record, error) {
	if len(data) != RecordSize {
		return nil, protoerr.NewSessionError("session.record.decode", fmt.Errorf("record size mismatch: got %d want %d", len(data), RecordSize))
	}
	r := &Record{}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, r); err != nil {
		return nil, protoerr.NewSessionError("session.record.decode", err)
	}
	return r, nil
}
