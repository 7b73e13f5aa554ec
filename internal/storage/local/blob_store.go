// Package local implements a local filesystem blob store.
package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/itemrelay/internal/errors"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory archived items are written under.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes archived items to the local filesystem.
type BlobStore struct {
	baseDir string
}

// New creates the base directory when missing and checks it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, errors.Wrap(mkErr, "create base directory")
		}
	case err != nil:
		return nil, errors.Wrap(err, "stat base directory")
	case !info.IsDir():
		return nil, errors.New("base directory path is not a directory")
	}

	marker, err := os.CreateTemp(cfg.BaseDir, ".writable-*")
	if err != nil {
		return nil, errors.Wrap(err, "base directory is not writable")
	}
	_ = marker.Close()
	if err := os.Remove(marker.Name()); err != nil {
		return nil, errors.Wrap(err, "clean up marker file")
	}

	return &BlobStore{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// PutObject writes data under the base directory and returns a file:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}

	fullPath := filepath.Clean(filepath.Join(s.baseDir, path))
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", errors.New("path traversal detected")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", errors.Wrap(err, "create parent directories")
	}

	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", errors.Wrap(err, "open file")
	}
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		return "", errors.Wrap(err, "write file")
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrap(err, "close file")
	}
	return "file://" + fullPath, nil
}
