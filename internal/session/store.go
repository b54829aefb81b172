package session

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/alxayo/devlink/internal/protoerr"
)

// Store is the save/restore callback pair threaded through the original's
// SessionPersist::save/restore: where the encoded Record actually lives is
// entirely up to the caller (flash-backed file, in-memory map for tests,
// ...).
type Store interface {
	Save(data []byte) error
	Restore() ([]byte, bool, error)
}

// FileStore persists the record to a single file, following the
// mutex-guarded, degrade-on-error style of media.Recorder: a write failure
// disables further saves rather than panicking the caller.
type FileStore struct {
	mu       sync.Mutex
	path     string
	logger   *slog.Logger
	disabled bool
}

// NewFileStore builds a Store backed by path. The file is created lazily on
// the first Save; Restore on a missing file returns (nil, false, nil).
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

func (s *FileStore) Save(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return protoerr.NewSessionError("session.store.save", fmt.Errorf("store disabled after a prior write failure"))
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		s.logger.Error("session store write failed", "path", s.path, "err", err)
		s.disabled = true
		return protoerr.NewSessionError("session.store.save", err)
	}
	return nil
}

func (s *FileStore) Restore() ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, protoerr.NewSessionError("session.store.restore", err)
	}
	return data, true, nil
}

// MemStore is an in-memory Store, used by tests and the device simulator's
// ephemeral mode.
type MemStore struct {
	mu   sync.Mutex
	data []byte
}

func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Save(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}

func (s *MemStore) Restore() ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, false, nil
	}
	return append([]byte(nil), s.data...), true, nil
}
