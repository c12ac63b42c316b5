package attachments

import (
	"fmt"

	"wikid/internal/config"
	"wikid/internal/wiki"
)

// NewStoreFromConfig creates an attachment store based on the config type.
// When encryptor is non-nil the backend is wrapped with at-rest encryption.
func NewStoreFromConfig(cfg config.AttachmentsConfig, encryptor Encryptor) (wiki.AttachmentStore, error) {
	backend, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	if encryptor == nil {
		return backend, nil
	}
	return NewEncryptedStore(backend, encryptor), nil
}

func newBackend(cfg config.AttachmentsConfig) (Backend, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "s3":
		return NewS3Store(cfg)
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem attachment store requires fs_root to be set")
		}
		return NewFileSystemStore(cfg.FSRoot)
	default:
		return nil, fmt.Errorf("unknown attachment store type: %s", cfg.Type)
	}
}
