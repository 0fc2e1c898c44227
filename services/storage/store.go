package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrObjectNotFound is returned when no object exists under a key
	ErrObjectNotFound = errors.New("storage object not found")

	// ErrInvalidKey is returned for empty keys or keys escaping the store root
	ErrInvalidKey = errors.New("invalid storage key")
)

// Object is an open object stream. The caller must close Body.
type Object struct {
	Body io.ReadCloser
	Size int64
}

// ObjectStore reads raw dataset bytes. Objects are written by the upload
// flow that creates dataset records.
type ObjectStore interface {
	// Open returns the object stored under key
	Open(ctx context.Context, key string) (*Object, error)
}

// FileStore keeps objects as files below a root directory
type FileStore struct {
	root   string
	logger *zap.Logger
}

// NewFileStore creates the root directory if needed and returns a store over it
func NewFileStore(root string, logger *zap.Logger) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}

	logger.Info("file object store ready", zap.String("root", abs))
	return &FileStore{root: abs, logger: logger}, nil
}

// Root returns the absolute root directory
func (s *FileStore) Root() string {
	return s.root
}

// Open returns the object stored under key
func (s *FileStore) Open(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to open object %s: %w", key, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}

	return &Object{Body: f, Size: info.Size()}, nil
}

// resolve maps a key to a path below root, rejecting traversal
func (s *FileStore) resolve(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}

	path := filepath.Join(s.root, filepath.FromSlash(filepath.Clean("/"+key)))
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	return path, nil
}
