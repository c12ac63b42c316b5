package encryption

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"

	"wikid/internal/config"
)

// AgeEncryptor encrypts attachment blobs with filippo.io/age X25519 keys.
// The recipient (public key) is used on every write; the identity file is
// read on demand for decryption. Both live on the server host, so this
// protects blobs at rest in remote backends, not against a compromised
// server.
type AgeEncryptor struct {
	publicKeyPath  string
	privateKeyPath string
}

// NewAgeEncryptor creates a new AgeEncryptor from configuration.
func NewAgeEncryptor(cfg config.EncryptionConfig) *AgeEncryptor {
	return &AgeEncryptor{
		publicKeyPath:  cfg.PublicKeyPath,
		privateKeyPath: cfg.PrivateKeyPath,
	}
}

// Setup generates a new X25519 key pair and writes both halves to the
// configured paths. The identity file is written with owner-only
// permissions. Fails if a key pair already exists.
func (e *AgeEncryptor) Setup() error {
	if e.IsConfigured() {
		return fmt.Errorf("key pair already exists at %s", e.privateKeyPath)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(e.publicKeyPath), 0700); err != nil {
		return fmt.Errorf("creating public key directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(e.privateKeyPath), 0700); err != nil {
		return fmt.Errorf("creating private key directory: %w", err)
	}

	if err := os.WriteFile(e.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	if err := os.WriteFile(e.privateKeyPath, []byte(identity.String()+"\n"), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}

// IsConfigured returns true if both key files exist at configured paths.
func (e *AgeEncryptor) IsConfigured() bool {
	if _, err := os.Stat(e.publicKeyPath); err != nil {
		return false
	}
	if _, err := os.Stat(e.privateKeyPath); err != nil {
		return false
	}
	return true
}

func (e *AgeEncryptor) loadRecipient() (age.Recipient, error) {
	data, err := os.ReadFile(e.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key file: %w", err)
	}
	recipient, err := age.ParseX25519Recipient(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	return recipient, nil
}

func (e *AgeEncryptor) loadIdentity() (age.Identity, error) {
	data, err := os.ReadFile(e.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}
	identities, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no identities found in private key")
	}
	return identities[0], nil
}

// Encrypt returns the age ciphertext of plaintext using the stored public key.
func (e *AgeEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	recipient, err := e.loadRecipient()
	if err != nil {
		return nil, fmt.Errorf("loading public key: %w", err)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("encrypting data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing encryption: %w", err)
	}
	return buf.Bytes(), nil
}

// Decrypt returns the plaintext of age ciphertext using the stored identity.
func (e *AgeEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	identity, err := e.loadIdentity()
	if err != nil {
		return nil, fmt.Errorf("loading private key: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting data: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted data: %w", err)
	}
	return plaintext, nil
}
