package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

// FileSystemStore keeps assets as files in a single directory.
type FileSystemStore struct {
	dir string
}

// NewFileSystemStore returns a store rooted at dir, creating it if absent.
func NewFileSystemStore(dir string) (*FileSystemStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &FileSystemStore{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *FileSystemStore) Dir() string {
	return s.dir
}

func (s *FileSystemStore) path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

// Save writes through a temp file and renames it into place, so readers never
// observe a partial asset and a failed write leaves no file.
func (s *FileSystemStore) Save(ctx context.Context, name string, r io.Reader) (int64, error) {
	path, err := s.path(name)
	if err != nil {
		return 0, err
	}
	counter := &countingReader{ctx: ctx, r: r}
	if err := atomic.WriteFile(path, counter); err != nil {
		if counter.err != nil {
			return 0, counter.err
		}
		return 0, fmt.Errorf("write asset %s: %w", name, err)
	}
	if err := os.Chmod(path, 0o644); err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("chmod asset %s: %w", name, err)
	}
	return counter.n, nil
}

func (s *FileSystemStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open asset %s: %w", name, err)
	}
	return f, nil
}

func (s *FileSystemStore) Delete(_ context.Context, name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete asset %s: %w", name, err)
	}
	return nil
}

func (s *FileSystemStore) Exists(_ context.Context, name string) (bool, error) {
	path, err := s.path(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat asset %s: %w", name, err)
	}
	return info.Mode().IsRegular(), nil
}

// countingReader counts bytes and remembers the first read error so the
// caller can recover it from atomic.WriteFile's flattened error.
type countingReader struct {
	ctx context.Context
	r   io.Reader
	n   int64
	err error
}

func (c *countingReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return 0, err
	}
	n, err := c.r.Read(p)
	c.n += int64(n)
	if err != nil && err != io.EOF && c.err == nil {
		c.err = err
	}
	return n, err
}
