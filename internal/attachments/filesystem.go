package attachments

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"wikid/internal/wiki"
)

// FileSystemStore stores attachment blobs as files named by their content
// hash:
//
//	<root>/
//	  content/
//	    <hash>
//
// Writes go through a temp file and rename so a crash never leaves a
// half-written blob under its final name.
type FileSystemStore struct {
	root       string
	contentDir string
}

var _ wiki.AttachmentStore = (*FileSystemStore)(nil)

// NewFileSystemStore creates a filesystem attachment store rooted at the
// given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	contentDir := filepath.Join(root, "content")
	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}
	return &FileSystemStore{root: root, contentDir: contentDir}, nil
}

// Put stores the payload under its content hash.
// Idempotent: an existing blob with the same hash is left untouched.
func (s *FileSystemStore) Put(data []byte, mimeType string) (string, error) {
	hash := ContentHash(data)
	return hash, s.PutAs(hash, data, mimeType)
}

// PutAs stores the payload under a caller-chosen hash.
func (s *FileSystemStore) PutAs(hash string, data []byte, _ string) error {
	destPath := filepath.Join(s.contentDir, hash)

	if _, err := os.Stat(destPath); err == nil {
		return nil
	}

	tmp, err := os.CreateTemp(s.contentDir, ".put-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing blob: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("placing blob: %w", err)
	}
	return nil
}

// Get retrieves a payload by content hash.
func (s *FileSystemStore) Get(hash string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.contentDir, hash))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("attachment %s: %w", hash, wiki.ErrNotFound)
		}
		return nil, fmt.Errorf("reading blob: %w", err)
	}
	return data, nil
}

// Size returns the stored size for a content hash.
func (s *FileSystemStore) Size(hash string) (int64, error) {
	info, err := os.Stat(filepath.Join(s.contentDir, hash))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("attachment %s: %w", hash, wiki.ErrNotFound)
		}
		return 0, fmt.Errorf("statting blob: %w", err)
	}
	return info.Size(), nil
}
