// Package blob is a thin filesystem wrapper for uploaded document files.
package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store writes and deletes document blobs under a single directory.
type Store struct {
	dir string
}

// NewStore creates the backing directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save writes contents under a sanitized version of filename and returns the
// absolute path.
func (s *Store) Save(filename string, contents []byte) (string, error) {
	path := filepath.Join(s.dir, sanitize(filename))
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		return "", fmt.Errorf("saving blob: %w", err)
	}
	return path, nil
}

// Delete removes the blob at path. A missing file is not an error.
func (s *Store) Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}

// sanitize strips path separators so an uploaded filename cannot escape the
// blob directory.
func sanitize(filename string) string {
	name := filepath.Base(filename)
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	if name == "" || name == "." || name == ".." {
		name = "upload"
	}
	return name
}
