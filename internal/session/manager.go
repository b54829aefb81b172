package session

import "encoding/binary"

// RestoreStatus mirrors SessionPersist::RestoreStatus.
type RestoreStatus uint8

const (
	// StatusComplete: a valid, unexpired, matching-keys record was found
	// and restored; no handshake is needed.
	StatusComplete RestoreStatus = iota
	// StatusRenegotiate: restoration succeeded but the caller must still
	// complete a handshake (not reachable without real DTLS renegotiation
	// support; kept for interface parity with the original enum).
	StatusRenegotiate
	// StatusNoSession: no usable record was found (missing, invalid,
	// expired, or key-mismatched).
	StatusNoSession
	// StatusError: the store itself failed.
	StatusError
)

// Manager wraps a Store with the validity/expiry/key-match rules
// SessionPersist::restore applies before handing a record back to the
// caller.
type Manager struct {
	store Store
}

func NewManager(store Store) *Manager { return &Manager{store: store} }

// Restore attempts to resume a previous session. expectedKeysChecksum must
// match the record's KeysChecksum or the record is treated as absent,
// matching the original's key-mismatch discard.
func (m *Manager) Restore(expectedKeysChecksum uint32) (*Record, RestoreStatus, error) {
	data, found, err := m.store.Restore()
	if err != nil {
		return nil, StatusError, err
	}
	if !found {
		return nil, StatusNoSession, nil
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, StatusNoSession, nil
	}
	if !rec.IsValid() {
		return nil, StatusNoSession, nil
	}

	rec.IncrementUseCount()
	if rec.HasExpired() {
		_ = m.Clear()
		return nil, StatusNoSession, nil
	}
	if rec.KeysChecksum != expectedKeysChecksum {
		return nil, StatusNoSession, nil
	}

	if encoded, encErr := rec.Encode(); encErr == nil {
		_ = m.store.Save(encoded)
	}

	return rec, StatusComplete, nil
}

// Save persists rec as the session to resume next time, matching
// SessionPersist::save/update. Only effective when rec.Persistent is set;
// non-persistent records are accepted silently (matching
// save_this_with's persistent check) without touching the store.
func (m *Manager) Save(rec *Record) error {
	if rec.Persistent == 0 {
		return nil
	}
	data, err := rec.Encode()
	if err != nil {
		return err
	}
	return m.store.Save(data)
}

// Clear invalidates whatever session is currently persisted, matching
// SessionPersist::clear: save a record marked persistent whose Size field
// is zero, so a later Restore finds it invalid.
func (m *Manager) Clear() error {
	rec := &Record{Persistent: 1}
	rec.Invalidate()
	data, err := rec.Encode()
	if err != nil {
		return err
	}
	// Encode stamps Size; zero it again in the wire form (Size is the
	// leading little-endian uint16) so the saved record reads back invalid.
	data[0], data[1] = 0, 0
	return m.store.Save(data)
}

// ApplicationStateChecksum folds the three application-level checksums
// (subscriptions, describe-app, describe-system) through crc, matching
// SessionPersist::application_state_checksum's chained CRC.
func ApplicationStateChecksum(crc func([]byte) uint32, subscriptionsCRC, describeAppCRC, describeSystemCRC uint32) uint32 {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], subscriptionsCRC)
	binary.BigEndian.PutUint32(buf[4:8], describeAppCRC)
	binary.BigEndian.PutUint32(buf[8:12], describeSystemCRC)
	return crc(buf)
}
