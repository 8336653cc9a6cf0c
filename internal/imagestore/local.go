package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const localScheme = "local"

// LocalStore keeps images under a directory. References look like
// local://<key>.
type LocalStore struct {
	dir      string
	maxBytes int64
}

var _ Store = (*LocalStore)(nil)

func NewLocalStore(dir string, maxBytes int64) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create image directory %s: %w", dir, err)
	}
	return &LocalStore{dir: dir, maxBytes: maxBytes}, nil
}

func (s *LocalStore) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if err := checkPut(data, s.maxBytes); err != nil {
		return "", err
	}
	path, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("unable to create image directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("unable to write image: %w", err)
	}

	zap.L().Debug("Image stored locally",
		zap.String("key", key),
		zap.String("content_type", sniffContentType(contentType, data)),
		zap.Int("bytes", len(data)))

	return localScheme + "://" + key, nil
}

func (s *LocalStore) Get(ctx context.Context, ref string) (*Image, error) {
	key, ok := strings.CutPrefix(ref, localScheme+"://")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRef, ref)
	}
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("unable to open image: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			zap.L().Warn("Failed to close image file", zap.String("path", path), zap.Error(closeErr))
		}
	}()

	data, err := readCapped(f, s.maxBytes)
	if err != nil {
		return nil, err
	}
	return &Image{Data: data, ContentType: sniffContentType("", data)}, nil
}

// path keeps keys inside the store directory.
func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" || strings.ContainsRune(key, 0) {
		return "", fmt.Errorf("%w: invalid key %q", ErrUnsupportedRef, key)
	}
	return filepath.Join(s.dir, clean), nil
}
