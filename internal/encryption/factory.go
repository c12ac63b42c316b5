package encryption

import (
	"fmt"

	"wikid/internal/attachments"
	"wikid/internal/config"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration
// type. Returns (nil, nil) when encryption is disabled.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (attachments.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		enc := NewAgeEncryptor(cfg)
		if !enc.IsConfigured() {
			return nil, fmt.Errorf("age encryption enabled but key pair is missing; run `wikid keys init`")
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
