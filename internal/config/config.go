package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for wikid.
type Config struct {
	BaseDir     string            `toml:"base_dir"`
	Server      ServerConfig      `toml:"server"`
	Database    DatabaseConfig    `toml:"database"`
	Attachments AttachmentsConfig `toml:"attachments"`
	Encryption  EncryptionConfig  `toml:"encryption"`
	Log         LogConfig         `toml:"log"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	ListenAddr     string `toml:"listen_addr"`
	AnonymousRead  bool   `toml:"anonymous_read"`  // site-wide READ without authentication
	AnonymousWrite bool   `toml:"anonymous_write"` // site-wide WRITE without authentication
	EnablePush     bool   `toml:"enable_push"`     // serve the SSE event stream
	EnableMetrics  bool   `toml:"enable_metrics"`  // expose /metrics
}

// DatabaseConfig represents configuration for the tiddler store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// AttachmentsConfig represents configuration for the blob store backing
// large binary tiddler payloads.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type AttachmentsConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"

	// SizeThreshold is the payload size in bytes above which a
	// binary-encodable tiddler text is moved to the blob store.
	// Defaults to 10MB when zero.
	SizeThreshold int64 `toml:"size_threshold"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used to encrypt
// attachment blobs at rest.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default) or "age"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"` // "debug", "info", "warn", "error"
}

// NewConfig creates a new Config with the provided base directory and defaults.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		Server: ServerConfig{
			ListenAddr:    ":8088",
			EnablePush:    true,
			EnableMetrics: true,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "store"),
		},
		Attachments: AttachmentsConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, "files"),
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "wikid.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "wikid.key"),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
