// Package storage provides the archive backends cycle reports are written to.
package storage

import (
	"context"
	"io"

	"github.com/forkscan/pkg/config"
	"github.com/forkscan/pkg/errors"
)

// Storage defines the interface for cycle-report archive backends.
type Storage interface {
	// Upload writes data from reader to the specified key.
	Upload(ctx context.Context, key string, reader io.Reader) error

	// Download reads the object at the specified key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if an object exists at the specified key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete deletes the object at the specified key.
	Delete(ctx context.Context, key string) error
}

// StorageType represents the type of archive backend.
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeCOS   StorageType = "cos"
)

// NewStorage creates a new Storage instance based on the configuration.
func NewStorage(cfg *config.ArchiveConfig) (Storage, error) {
	switch StorageType(cfg.Type) {
	case StorageTypeLocal:
		return NewLocalStorage(cfg.LocalPath)
	case StorageTypeCOS:
		return NewCOSStorage(cfg)
	default:
		return nil, errors.Ef(errors.Config, "unsupported archive type: %s", cfg.Type)
	}
}
