// Package storage holds uploaded ticket assets. Assets are addressed by bare
// filenames; implementations reject anything that could escape the store.
package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound is returned by Open for unknown names.
	ErrNotFound = errors.New("asset not found")
	// ErrInvalidName is returned for empty names or names carrying a path.
	ErrInvalidName = errors.New("invalid asset name")
)

// AssetStore persists asset bytes under caller-chosen names.
type AssetStore interface {
	// Save writes r under name and returns the number of bytes written. A
	// failed Save leaves nothing behind.
	Save(ctx context.Context, name string, r io.Reader) (int64, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Delete removes name. Deleting an absent name is not an error.
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
}

// ValidateName rejects names that are empty, hidden, or contain a path.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return ErrInvalidName
	}
	return nil
}
