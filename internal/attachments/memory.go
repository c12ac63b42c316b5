package attachments

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"wikid/internal/wiki"
)

// ContentHash returns the SHA-256 hex digest used as the blob address.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MemoryStore is an in-memory implementation of the attachment store.
// It keeps all blobs in memory, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte // content hash -> payload
}

var _ wiki.AttachmentStore = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory attachment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put stores the payload under its content hash.
// Idempotent: storing identical content twice is safe.
func (m *MemoryStore) Put(data []byte, mimeType string) (string, error) {
	hash := ContentHash(data)
	return hash, m.PutAs(hash, data, mimeType)
}

// PutAs stores the payload under a caller-chosen hash.
func (m *MemoryStore) PutAs(hash string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[hash] = append([]byte(nil), data...)
	return nil
}

// Get retrieves a payload by content hash.
func (m *MemoryStore) Get(hash string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[hash]
	if !ok {
		return nil, fmt.Errorf("attachment %s: %w", hash, wiki.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Size returns the stored size for a content hash.
func (m *MemoryStore) Size(hash string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[hash]
	if !ok {
		return 0, fmt.Errorf("attachment %s: %w", hash, wiki.ErrNotFound)
	}
	return int64(len(data)), nil
}
