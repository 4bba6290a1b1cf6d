package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const defaultContentType = "application/octet-stream"

// contentTypes maps upload extensions to MIME types for the static
// byte-serve route.
var contentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".mp4":  "video/mp4",
	".mp3":  "audio/mpeg",
}

// Store keeps uploaded media on local disk, addressed by sanitized
// filename.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("upload directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save streams r into the store under the base component of name. The
// returned string is the filename actually used.
func (s *Store) Save(name string, r io.Reader) (string, error) {
	safe := SanitizeName(name)
	if safe == "" {
		return "", fmt.Errorf("invalid filename %q", name)
	}

	// Write to a temp file first and rename into place so a failed upload
	// never leaves a truncated file behind.
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("write upload bytes: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close upload file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, filepath.Join(s.dir, safe)); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("move upload into place: %w", err)
	}
	return safe, nil
}

// Open returns the stored file for name, sanitized the same way as Save.
func (s *Store) Open(name string) (*os.File, error) {
	safe := SanitizeName(name)
	if safe == "" {
		return nil, os.ErrNotExist
	}
	return os.Open(filepath.Join(s.dir, safe))
}

// SanitizeName strips any path components from name. Returns "" when
// nothing usable remains.
func SanitizeName(name string) string {
	safe := filepath.Base(strings.TrimSpace(name))
	if safe == "." || safe == ".." || safe == string(filepath.Separator) {
		return ""
	}
	return safe
}

// ContentTypeFor infers a MIME type from the file extension.
func ContentTypeFor(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return defaultContentType
}
