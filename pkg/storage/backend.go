package storage

import (
	"context"
	"io"

	"github.com/meridianvfx/avf/pkg/model"
)

// Sidecar keys injected by backends on top of the user metadata.
const (
	// KeyOriginalPath records the source path passed to Store
	KeyOriginalPath = "original_path"

	// KeyTimestamp records the instant the version was created
	KeyTimestamp = "timestamp"

	// KeyReference holds the full StorageReference payload for
	// reference-derived versions
	KeyReference = "reference"
)

// Backend implementations know how to persist versions of an asset
// file in one storage technology.
//
// A storage id handed out by one backend is opaque and only
// meaningful within that backend's namespace. Implementations are
// synchronous; long-running work honors ctx cancellation where the
// underlying technology permits.
type Backend interface {
	// String names the backend technology, e.g. "disk@/var/avf"
	String() string

	// Store persists the file at filePath together with its
	// metadata record and returns a new storage id.
	Store(ctx context.Context, filePath string, meta model.AssetMetadata) (string, error)

	// Retrieve places the stored bytes at targetPath when given,
	// else at a backend-owned read-only location, and returns the
	// resulting path.
	Retrieve(ctx context.Context, storageID, targetPath string) (string, error)

	// Describe returns the metadata document stored alongside the
	// version, augmented with backend-injected fields.
	Describe(ctx context.Context, storageID string) (map[string]interface{}, error)

	// CreateFromReference promotes pre-existing backend content
	// into a tracked version without necessarily re-copying bytes.
	CreateFromReference(ctx context.Context, ref model.StorageReference, meta model.AssetMetadata) (string, error)

	// ListReferences enumerates existing content. No matches is an
	// empty result, not an error.
	ListReferences(ctx context.Context, refType model.ReferenceType, pathPattern string) ([]model.StorageReference, error)
}

// PipeIO copies reader to writer with a bounded buffer.
func PipeIO(writer io.Writer, reader io.Reader) (n int64, err error) {
	buf := make([]byte, 32*1024)
	return io.CopyBuffer(writer, reader, buf)
}
