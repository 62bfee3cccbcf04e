// Package disk implements the content-addressed disk storage backend.
//
// Stored content lives under a two-level bucket tree derived from the
// first four hex characters of the version id, with one JSON metadata
// sidecar per version in a parallel _metadata directory. Content and
// sidecar are both staged and renamed into place so that a partially
// written version is never observable at its final path.
package disk

import (
	"context"
	"encoding/hex"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
	blake2b "github.com/minio/blake2b-simd"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/meridianvfx/avf/pkg/model"
	"github.com/meridianvfx/avf/pkg/storage"
	"github.com/meridianvfx/avf/pkg/storage/status"
)

const (
	metadataDir = "_metadata"
	stageDir    = ".stage"

	digestSize = 32
)

// Option tunes a disk Store
type Option func(*Store)

// Logger injects a logging facility
func Logger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.l = l
		}
	}
}

// SourceFs sets the filesystem source files are read from and
// retrieval targets are written to (OS filesystem by default).
func SourceFs(fs afero.Fs) Option {
	return func(s *Store) {
		if fs != nil {
			s.srcFs = fs
		}
	}
}

// BufferSize sets the copy/hash buffer size
func BufferSize(sz int64) Option {
	return func(s *Store) {
		if sz > 0 {
			s.bufSize = int(sz)
		}
	}
}

// Clock overrides the time source, for deterministic ids in tests
func Clock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.clock = now
		}
	}
}

// New creates a disk storage backend rooted at fs. A nil fs defaults
// to .avf/versions under the current directory.
func New(fs afero.Fs, opts ...Option) *Store {
	if fs == nil {
		fs = afero.NewBasePathFs(afero.NewOsFs(), path.Join(".avf", "versions"))
	}
	s := &Store{
		fs:      fs,
		srcFs:   afero.NewOsFs(),
		bufSize: 1 * units.MB,
		clock:   time.Now,
		l:       zap.NewNop(),
	}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

// Store is the content-addressed disk backend
type Store struct {
	fs      afero.Fs
	srcFs   afero.Fs
	bufSize int
	clock   func() time.Time
	l       *zap.Logger
}

func (s *Store) String() string {
	const disk = "disk"
	if fs, ok := s.fs.(*afero.BasePathFs); ok {
		if pp, err := fs.RealPath(""); err == nil {
			return disk + "@" + pp
		}
	}
	return disk
}

func versionPath(id string) string {
	return path.Join(id[:2], id[2:4], id)
}

func sidecarPath(id string) string {
	return path.Join(metadataDir, id+".json")
}

// validID guards bucket path construction: ids shorter than the
// bucket prefix cannot exist in the tree.
func validID(id string) bool {
	return len(id) > 4 && !strings.ContainsAny(id, "/\\")
}

// Store hashes the file content, places it in the bucket tree and
// writes the metadata sidecar. The id is the content digest plus the
// creation timestamp, so identical content stored at distinct
// instants yields distinct versions.
func (s *Store) Store(ctx context.Context, filePath string, meta model.AssetMetadata) (string, error) {
	if err := meta.Validate(); err != nil {
		return "", err
	}
	ts := s.clock().UTC()

	src, err := s.srcFs.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", status.ErrNotFound.Wrap(err)
		}
		return "", status.ErrBackendFailure.Wrap(err)
	}
	defer src.Close()

	id, stagePath, err := s.stageContent(ctx, src, ts)
	if err != nil {
		return "", err
	}

	if err = s.promoteContent(stagePath, id); err != nil {
		return "", err
	}

	doc := meta.ToMap()
	doc[storage.KeyOriginalPath] = filePath
	doc[storage.KeyTimestamp] = ts.Format(time.RFC3339Nano)
	if err = s.writeSidecar(id, doc); err != nil {
		return "", err
	}

	s.l.Debug("stored version", zap.String("backend", s.String()),
		zap.String("storage_id", id), zap.String("path", filePath))
	return id, nil
}

// stageContent streams the source into the staging area while
// computing its digest, and returns the resulting version id.
func (s *Store) stageContent(ctx context.Context, src io.Reader, ts time.Time) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if err := s.fs.MkdirAll(stageDir, 0700); err != nil {
		return "", "", status.ErrBackendFailure.Wrap(err)
	}
	stagePath := path.Join(stageDir, "content-"+strconv.FormatInt(ts.UnixNano(), 16))
	stage, err := s.fs.OpenFile(stagePath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return "", "", status.ErrBackendFailure.Wrap(err)
	}

	hasher, err := blake2b.New(&blake2b.Config{Size: digestSize})
	if err != nil {
		_ = stage.Close()
		return "", "", status.ErrBackendFailure.Wrap(err)
	}

	buf := make([]byte, s.bufSize)
	if _, err = io.CopyBuffer(io.MultiWriter(stage, hasher), src, buf); err != nil {
		_ = stage.Close()
		_ = s.fs.Remove(stagePath)
		return "", "", status.ErrBackendFailure.Wrap(err)
	}
	if err = stage.Close(); err != nil {
		_ = s.fs.Remove(stagePath)
		return "", "", status.ErrBackendFailure.Wrap(err)
	}

	id := hex.EncodeToString(hasher.Sum(nil)) + "_" + ts.Format(time.RFC3339Nano)
	return id, stagePath, nil
}

func (s *Store) promoteContent(stagePath, id string) error {
	vp := versionPath(id)
	if err := s.fs.MkdirAll(path.Dir(vp), 0700); err != nil {
		return status.ErrBackendFailure.Wrap(err)
	}
	if err := s.fs.Rename(stagePath, vp); err != nil {
		return status.ErrBackendFailure.Wrap(err)
	}
	return nil
}

// writeSidecar stages the sidecar and renames it into the metadata
// tree. The sidecar only appears once the content is durably placed.
func (s *Store) writeSidecar(id string, doc map[string]interface{}) error {
	payload, err := storage.EncodeSidecar(doc)
	if err != nil {
		return status.ErrBackendFailure.Wrap(err)
	}
	if err = s.fs.MkdirAll(stageDir, 0700); err != nil {
		return status.ErrBackendFailure.Wrap(err)
	}
	stagePath := path.Join(stageDir, id+".json")
	if err = afero.WriteFile(s.fs, stagePath, payload, 0600); err != nil {
		return status.ErrBackendFailure.Wrap(err)
	}
	if err = s.fs.MkdirAll(metadataDir, 0700); err != nil {
		return status.ErrBackendFailure.Wrap(err)
	}
	if err = s.fs.Rename(stagePath, sidecarPath(id)); err != nil {
		return status.ErrBackendFailure.Wrap(err)
	}
	return nil
}

// Retrieve copies the stored bytes to targetPath on the source
// filesystem, or returns the in-store location when no target is
// given.
func (s *Store) Retrieve(ctx context.Context, storageID, targetPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !validID(storageID) {
		return "", status.ErrNotFound.WrapMessage(storageID)
	}
	vp := versionPath(storageID)
	exists, err := afero.Exists(s.fs, vp)
	if err != nil {
		return "", status.ErrBackendFailure.Wrap(err)
	}
	if !exists {
		return "", status.ErrNotFound.WrapMessage(storageID)
	}

	if targetPath == "" {
		return s.realPath(vp), nil
	}

	src, err := s.fs.Open(vp)
	if err != nil {
		return "", status.ErrBackendFailure.Wrap(err)
	}
	defer src.Close()

	if dir := path.Dir(targetPath); dir != "" && dir != "." {
		if err = s.srcFs.MkdirAll(dir, 0700); err != nil {
			return "", status.ErrBackendFailure.Wrap(err)
		}
	}
	dst, err := s.srcFs.Create(targetPath)
	if err != nil {
		return "", status.ErrBackendFailure.Wrap(err)
	}
	if _, err = storage.PipeIO(dst, src); err != nil {
		_ = dst.Close()
		return "", status.ErrBackendFailure.Wrap(err)
	}
	if err = dst.Close(); err != nil {
		return "", status.ErrBackendFailure.Wrap(err)
	}
	return targetPath, nil
}

// Describe returns the sidecar document for a version
func (s *Store) Describe(ctx context.Context, storageID string) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validID(storageID) {
		return nil, status.ErrNotFound.WrapMessage(storageID)
	}
	payload, err := afero.ReadFile(s.fs, sidecarPath(storageID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, status.ErrNotFound.WrapMessage(storageID)
		}
		return nil, status.ErrBackendFailure.Wrap(err)
	}
	doc, err := storage.DecodeSidecar(payload)
	if err != nil {
		return nil, status.ErrBackendFailure.Wrap(err)
	}
	return doc, nil
}

// CreateFromReference promotes an existing file into a tracked
// version. A hard link is attempted first; when linking is not
// possible (cross-filesystem, or a non-OS backing store) the bytes
// are copied instead.
func (s *Store) CreateFromReference(ctx context.Context, ref model.StorageReference, meta model.AssetMetadata) (string, error) {
	if ref.ReferenceType != model.ReferenceTypeFile {
		return "", status.ErrUnsupportedReference.WrapMessage(string(ref.ReferenceType))
	}
	if err := meta.Validate(); err != nil {
		return "", err
	}
	ts := s.clock().UTC()

	srcFs, srcPath, err := s.locateReference(ref.Path)
	if err != nil {
		return "", err
	}

	id := ref.StorageID
	if !validID(id) {
		src, oErr := srcFs.Open(srcPath)
		if oErr != nil {
			return "", status.ErrBackendFailure.Wrap(oErr)
		}
		id, err = s.digest(src, ts)
		_ = src.Close()
		if err != nil {
			return "", err
		}
	}

	vp := versionPath(id)
	if vp != srcPath {
		if err = s.fs.MkdirAll(path.Dir(vp), 0700); err != nil {
			return "", status.ErrBackendFailure.Wrap(err)
		}
		if !s.tryLink(srcFs, srcPath, vp) {
			if err = s.copyIn(srcFs, srcPath, vp); err != nil {
				return "", err
			}
		}
	}

	doc := meta.ToMap()
	doc[storage.KeyOriginalPath] = ref.Path
	doc[storage.KeyTimestamp] = ts.Format(time.RFC3339Nano)
	doc[storage.KeyReference] = ref.ToMap()
	if err = s.writeSidecar(id, doc); err != nil {
		return "", err
	}

	s.l.Debug("created version from reference", zap.String("backend", s.String()),
		zap.String("storage_id", id), zap.String("reference_path", ref.Path))
	return id, nil
}

// locateReference resolves a reference path against the source
// filesystem first, then against the store tree itself.
func (s *Store) locateReference(p string) (afero.Fs, string, error) {
	if ok, _ := afero.Exists(s.srcFs, p); ok {
		return s.srcFs, p, nil
	}
	if ok, _ := afero.Exists(s.fs, p); ok {
		return s.fs, p, nil
	}
	return nil, "", status.ErrNotFound.WrapMessage(p)
}

func (s *Store) digest(src io.Reader, ts time.Time) (string, error) {
	hasher, err := blake2b.New(&blake2b.Config{Size: digestSize})
	if err != nil {
		return "", status.ErrBackendFailure.Wrap(err)
	}
	buf := make([]byte, s.bufSize)
	if _, err = io.CopyBuffer(hasher, src, buf); err != nil {
		return "", status.ErrBackendFailure.Wrap(err)
	}
	return hex.EncodeToString(hasher.Sum(nil)) + "_" + ts.Format(time.RFC3339Nano), nil
}

// tryLink hard-links src into the store when both sides resolve to
// real OS paths.
func (s *Store) tryLink(srcFs afero.Fs, srcPath, vp string) bool {
	realSrc, ok := osPath(srcFs, srcPath)
	if !ok {
		return false
	}
	realDst, ok := osPath(s.fs, vp)
	if !ok {
		return false
	}
	return os.Link(realSrc, realDst) == nil
}

func (s *Store) copyIn(srcFs afero.Fs, srcPath, vp string) error {
	src, err := srcFs.Open(srcPath)
	if err != nil {
		return status.ErrBackendFailure.Wrap(err)
	}
	defer src.Close()
	dst, err := s.fs.Create(vp)
	if err != nil {
		return status.ErrBackendFailure.Wrap(err)
	}
	if _, err = storage.PipeIO(dst, src); err != nil {
		_ = dst.Close()
		return status.ErrBackendFailure.Wrap(err)
	}
	if err = dst.Close(); err != nil {
		return status.ErrBackendFailure.Wrap(err)
	}
	return nil
}

// ListReferences walks the bucket tree and reports every stored
// version as a promotable file reference.
func (s *Store) ListReferences(ctx context.Context, refType model.ReferenceType, pathPattern string) ([]model.StorageReference, error) {
	if refType != model.ReferenceTypeAny && refType != model.ReferenceTypeFile {
		return nil, nil
	}
	refs := make([]model.StorageReference, 0)
	err := afero.Walk(s.fs, ".", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == metadataDir || info.Name() == stageDir {
				return filepath.SkipDir
			}
			return nil
		}
		if cErr := ctx.Err(); cErr != nil {
			return cErr
		}
		if pathPattern != "" && !strings.Contains(p, pathPattern) {
			return nil
		}
		refs = append(refs, model.StorageReference{
			StorageType:   "disk",
			StorageID:     info.Name(),
			Path:          s.realPath(p),
			ReferenceType: model.ReferenceTypeFile,
			Metadata: map[string]interface{}{
				"size":     info.Size(),
				"modified": info.ModTime().UTC().Format(time.RFC3339),
			},
		})
		return nil
	})
	if err != nil {
		return nil, status.ErrBackendFailure.Wrap(err)
	}
	return refs, nil
}

func (s *Store) realPath(p string) string {
	if rp, ok := osPath(s.fs, p); ok {
		return rp
	}
	return p
}

func osPath(fs afero.Fs, p string) (string, bool) {
	switch v := fs.(type) {
	case *afero.BasePathFs:
		rp, err := v.RealPath(p)
		if err != nil {
			return "", false
		}
		return rp, true
	case *afero.OsFs:
		return p, true
	default:
		return "", false
	}
}
