package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/meridianvfx/avf/pkg/model"
)

// Logged wraps a backend so every operation is traced with its
// duration and outcome. The wrapped backend is otherwise untouched.
func Logged(l *zap.Logger, b Backend) Backend {
	if l == nil {
		return b
	}
	return &loggedBackend{
		backend: b,
		l:       l.With(zap.String("backend", b.String())),
	}
}

type loggedBackend struct {
	backend Backend
	l       *zap.Logger
}

func (i *loggedBackend) String() string {
	return i.backend.String()
}

func (i *loggedBackend) trace(op string, start time.Time, err error, fields ...zap.Field) {
	fields = append(fields, zap.Duration("took", time.Since(start)))
	if err != nil {
		fields = append(fields, zap.Error(err))
		i.l.Warn(op, fields...)
		return
	}
	i.l.Debug(op, fields...)
}

func (i *loggedBackend) Store(ctx context.Context, filePath string, meta model.AssetMetadata) (string, error) {
	start := time.Now()
	storageID, err := i.backend.Store(ctx, filePath, meta)
	i.trace("storage store", start, err,
		zap.String("path", filePath), zap.String("storage_id", storageID))
	return storageID, err
}

func (i *loggedBackend) Retrieve(ctx context.Context, storageID, targetPath string) (string, error) {
	start := time.Now()
	path, err := i.backend.Retrieve(ctx, storageID, targetPath)
	i.trace("storage retrieve", start, err, zap.String("storage_id", storageID))
	return path, err
}

func (i *loggedBackend) Describe(ctx context.Context, storageID string) (map[string]interface{}, error) {
	start := time.Now()
	doc, err := i.backend.Describe(ctx, storageID)
	i.trace("storage describe", start, err, zap.String("storage_id", storageID))
	return doc, err
}

func (i *loggedBackend) CreateFromReference(ctx context.Context, ref model.StorageReference, meta model.AssetMetadata) (string, error) {
	start := time.Now()
	storageID, err := i.backend.CreateFromReference(ctx, ref, meta)
	i.trace("storage create from reference", start, err,
		zap.String("reference", ref.StorageID), zap.String("storage_id", storageID))
	return storageID, err
}

func (i *loggedBackend) ListReferences(ctx context.Context, refType model.ReferenceType, pathPattern string) ([]model.StorageReference, error) {
	start := time.Now()
	refs, err := i.backend.ListReferences(ctx, refType, pathPattern)
	i.trace("storage list references", start, err, zap.Int("count", len(refs)))
	return refs, err
}
