// Package core implements the asset versioning orchestrator: one
// logical version fans out to any number of storage backends, with an
// optional version repository indexing the result.
package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/meridianvfx/avf/pkg/history"
	"github.com/meridianvfx/avf/pkg/model"
	"github.com/meridianvfx/avf/pkg/repository"
	"github.com/meridianvfx/avf/pkg/storage"
	"github.com/meridianvfx/avf/pkg/storage/status"
)

// Option tunes an AssetVersions instance
type Option func(*AssetVersions)

// Backend registers a named storage backend. Registration order is
// the store order of CreateVersion.
func Backend(name string, b storage.Backend) Option {
	return func(a *AssetVersions) {
		if b == nil {
			return
		}
		a.names = append(a.names, name)
		a.backends[name] = b
	}
}

// Repository attaches the version repository
func Repository(r repository.Store) Option {
	return func(a *AssetVersions) {
		a.repo = r
	}
}

// Logger injects a logging facility
func Logger(l *zap.Logger) Option {
	return func(a *AssetVersions) {
		if l != nil {
			a.l = l
		}
	}
}

// Clock overrides the time source
func Clock(now func() time.Time) Option {
	return func(a *AssetVersions) {
		if now != nil {
			a.clock = now
		}
	}
}

// AssetVersions orchestrates version creation across backends.
//
// Backends are driven strictly sequentially: branch and changelist
// backends are single-writer, so there is no parallel fan-out.
type AssetVersions struct {
	names    []string
	backends map[string]storage.Backend
	repo     repository.Store
	clock    func() time.Time
	l        *zap.Logger
}

// New builds an orchestrator over the registered backends
func New(opts ...Option) *AssetVersions {
	a := &AssetVersions{
		backends: make(map[string]storage.Backend),
		clock:    time.Now,
		l:        zap.NewNop(),
	}
	for _, apply := range opts {
		apply(a)
	}
	return a
}

// Backends returns the registered backend names in registration
// order.
func (a *AssetVersions) Backends() []string {
	names := make([]string, len(a.names))
	copy(names, a.names)
	return names
}

func (a *AssetVersions) backend(name string) (storage.Backend, error) {
	b, ok := a.backends[name]
	if !ok {
		return nil, status.ErrConfiguration.WrapMessage("unknown backend " + name)
	}
	return b, nil
}

// CreateVersion stores filePath on the selected backends (all of
// them when backendNames is empty) and returns one identifier per
// backend that stored it.
//
// Failure policy: a repository create failure aborts the call before
// any backend write. A backend store failure aborts immediately and
// is returned along with the identifiers of the backends that
// already stored the version in this call; nothing is rolled back.
// A storage location registration failure is logged and skipped.
func (a *AssetVersions) CreateVersion(ctx context.Context, filePath string, meta model.AssetMetadata, backendNames ...string) (map[string]model.VersionIdentifier, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	selected := backendNames
	if len(selected) == 0 {
		selected = a.names
	}
	for _, name := range selected {
		if _, err := a.backend(name); err != nil {
			return nil, err
		}
	}

	var versionID int64
	if a.repo != nil {
		var err error
		if versionID, err = a.repo.CreateVersion(ctx, filePath, meta); err != nil {
			return nil, err
		}
	}

	identifiers := make(map[string]model.VersionIdentifier, len(selected))
	for _, name := range selected {
		b := a.backends[name]
		storageID, err := b.Store(ctx, filePath, meta)
		if err != nil {
			a.l.Error("backend store failed, aborting remaining backends",
				zap.String("backend", name), zap.Error(err))
			return identifiers, err
		}
		identifiers[name] = model.VersionIdentifier{
			StorageType: name,
			StorageID:   storageID,
			FilePath:    filePath,
			Timestamp:   a.clock().UTC(),
			Metadata:    meta,
		}
		a.l.Debug("stored version",
			zap.String("backend", name), zap.String("storage_id", storageID))

		if a.repo == nil {
			continue
		}
		if err = a.repo.AddStorageLocation(ctx, versionID, name, storageID); err != nil {
			// accepted inconsistency: the backend holds a copy the
			// repository does not know about
			a.l.Warn("storage location registration failed",
				zap.String("backend", name),
				zap.Int64("version_id", versionID), zap.Error(err))
		}
	}
	return identifiers, nil
}

// Retrieve fetches a stored version from one backend
func (a *AssetVersions) Retrieve(ctx context.Context, backendName, storageID, targetPath string) (string, error) {
	b, err := a.backend(backendName)
	if err != nil {
		return "", err
	}
	return b.Retrieve(ctx, storageID, targetPath)
}

// Describe returns the asset metadata stored with one version
func (a *AssetVersions) Describe(ctx context.Context, backendName, storageID string) (model.AssetMetadata, error) {
	doc, err := a.DescribeRaw(ctx, backendName, storageID)
	if err != nil {
		return model.AssetMetadata{}, err
	}
	return model.MetadataFromMap(doc), nil
}

// DescribeRaw returns the full metadata document of one version,
// backend-injected keys included.
func (a *AssetVersions) DescribeRaw(ctx context.Context, backendName, storageID string) (map[string]interface{}, error) {
	b, err := a.backend(backendName)
	if err != nil {
		return nil, err
	}
	return b.Describe(ctx, storageID)
}

// CreateFromReference promotes an existing backend-native object
// into a tracked version on one backend.
func (a *AssetVersions) CreateFromReference(ctx context.Context, backendName string, ref model.StorageReference, meta model.AssetMetadata) (model.VersionIdentifier, error) {
	b, err := a.backend(backendName)
	if err != nil {
		return model.VersionIdentifier{}, err
	}
	storageID, err := b.CreateFromReference(ctx, ref, meta)
	if err != nil {
		return model.VersionIdentifier{}, err
	}
	return model.VersionIdentifier{
		StorageType: backendName,
		StorageID:   storageID,
		FilePath:    ref.Path,
		Timestamp:   a.clock().UTC(),
		Metadata:    meta,
	}, nil
}

// FindVersions queries the attached repository
func (a *AssetVersions) FindVersions(ctx context.Context, query repository.FindQuery) ([]model.RepositoryVersion, error) {
	if a.repo == nil {
		return nil, status.ErrConfiguration.WrapMessage("no version repository attached")
	}
	return a.repo.FindVersions(ctx, query)
}

// reconciler builds a history reconciler over the same backends, in
// the same order.
func (a *AssetVersions) reconciler() *history.Reconciler {
	opts := make([]history.Option, 0, len(a.names)+1)
	for _, name := range a.names {
		opts = append(opts, history.Backend(name, a.backends[name]))
	}
	opts = append(opts, history.Logger(a.l))
	return history.New(opts...)
}

// RepositoryRecord pairs one repository version with its known
// storage locations.
type RepositoryRecord struct {
	Version   model.RepositoryVersion `json:"version" yaml:"version"`
	Locations []model.StorageLocation `json:"locations,omitempty" yaml:"locations,omitempty"`
	_         struct{}
}

// AssetHistory is the combined backend and repository view of one
// asset path.
type AssetHistory struct {
	History         history.Report     `json:"history" yaml:"history"`
	Repository      []RepositoryRecord `json:"repository,omitempty" yaml:"repository,omitempty"`
	RepositoryError string             `json:"repository_error,omitempty" yaml:"repository_error,omitempty"`
	_               struct{}
}

// DumpAssetHistory composes the cross-backend history report with the
// repository's view of the same path. Repository failures are
// recorded in the report, never raised: the backend-side history is
// still worth returning.
func (a *AssetVersions) DumpAssetHistory(ctx context.Context, path string, includeStorageData, includeTimeline bool) AssetHistory {
	dump := AssetHistory{
		History: a.reconciler().DumpHistory(ctx, path, includeStorageData, includeTimeline),
	}
	if a.repo == nil {
		return dump
	}
	versions, err := a.repo.FindVersions(ctx, repository.FindQuery{FilePath: path})
	if err != nil {
		a.l.Warn("repository history lookup failed", zap.String("path", path), zap.Error(err))
		dump.RepositoryError = err.Error()
		return dump
	}
	for _, version := range versions {
		record := RepositoryRecord{Version: version}
		if record.Locations, err = a.repo.GetStorageLocations(ctx, version.ID); err != nil {
			a.l.Warn("storage location lookup failed",
				zap.Int64("version_id", version.ID), zap.Error(err))
			dump.RepositoryError = err.Error()
		}
		dump.Repository = append(dump.Repository, record)
	}
	return dump
}
