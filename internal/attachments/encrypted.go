package attachments

import (
	"fmt"

	"wikid/internal/wiki"
)

// Encryptor encrypts and decrypts blob payloads for at-rest protection.
// Implemented by internal/encryption.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Backend is an attachment store that can also file a payload under a
// caller-chosen hash. The encrypted wrapper needs this: it addresses blobs
// by the plaintext hash while storing ciphertext.
type Backend interface {
	wiki.AttachmentStore
	PutAs(hash string, data []byte, mimeType string) error
}

// EncryptedStore wraps a backend, encrypting every payload before it is
// stored. The content hash is computed over the plaintext so addressing
// stays stable across key rotations; Size reports the ciphertext size.
type EncryptedStore struct {
	inner     Backend
	encryptor Encryptor
}

var _ wiki.AttachmentStore = (*EncryptedStore)(nil)

// NewEncryptedStore wraps inner with at-rest encryption.
func NewEncryptedStore(inner Backend, encryptor Encryptor) *EncryptedStore {
	return &EncryptedStore{inner: inner, encryptor: encryptor}
}

// Put encrypts the payload and stores the ciphertext under the plaintext's
// content hash.
func (s *EncryptedStore) Put(data []byte, mimeType string) (string, error) {
	hash := ContentHash(data)

	ciphertext, err := s.encryptor.Encrypt(data)
	if err != nil {
		return "", fmt.Errorf("encrypting blob: %w", err)
	}
	if err := s.inner.PutAs(hash, ciphertext, mimeType); err != nil {
		return "", err
	}
	return hash, nil
}

// Get retrieves and decrypts a payload by its plaintext content hash.
func (s *EncryptedStore) Get(hash string) ([]byte, error) {
	ciphertext, err := s.inner.Get(hash)
	if err != nil {
		return nil, err
	}
	plaintext, err := s.encryptor.Decrypt(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypting blob %s: %w", hash, err)
	}
	return plaintext, nil
}

// Size reports the stored (ciphertext) size for a content hash.
func (s *EncryptedStore) Size(hash string) (int64, error) {
	return s.inner.Size(hash)
}
