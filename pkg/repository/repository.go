// Package repository defines the contract for the version repository,
// the index that tracks logical versions across storage backends.
//
// The core packages depend only on this interface. The canonical
// implementation lives in pkg/repository/sqlite.
package repository

import (
	"context"
	"time"

	"github.com/meridianvfx/avf/pkg/model"
)

// FindQuery narrows a version search. Zero-valued fields do not
// filter; Tags requires every listed tag to be present.
type FindQuery struct {
	FilePath string
	Creator  string
	Tags     []string
	After    *time.Time
	Before   *time.Time
	_        struct{}
}

// Store is the version repository contract.
//
// CreateVersion registers a logical version and returns its id.
// AddStorageLocation records that a backend holds a copy of that
// version. Implementations wrap their failures in
// status.ErrRepositoryFailure; an unknown version id yields
// status.ErrNotFound.
type Store interface {
	CreateVersion(ctx context.Context, filePath string, meta model.AssetMetadata) (int64, error)
	AddStorageLocation(ctx context.Context, versionID int64, storageType, storageID string) error
	GetVersionInfo(ctx context.Context, versionID int64) (model.RepositoryVersion, error)
	GetStorageLocations(ctx context.Context, versionID int64) ([]model.StorageLocation, error)
	FindVersions(ctx context.Context, query FindQuery) ([]model.RepositoryVersion, error)
}
