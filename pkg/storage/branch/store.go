// Package branch implements the branch-per-version storage backend on
// top of a git worktree.
//
// Every logical version is materialized as a dedicated branch created
// off the currently active branch. The working tree and the active
// branch pointer are shared mutable state: a Store instance is
// single-writer, concurrent calls on the same instance must be
// serialized by the caller (or use one instance per worktree).
package branch

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/meridianvfx/avf/pkg/model"
	"github.com/meridianvfx/avf/pkg/storage"
	"github.com/meridianvfx/avf/pkg/storage/status"
)

const (
	// DefaultPrefix namespaces version branches
	DefaultPrefix = "asset_versions"

	sidecarSuffix = ".metadata.json"
	readmeName    = "README.md"

	shortIDLen = 12
)

// Option tunes a branch Store
type Option func(*Store)

// Logger injects a logging facility
func Logger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.l = l
		}
	}
}

// Prefix overrides the version branch prefix
func Prefix(p string) Option {
	return func(s *Store) {
		if p != "" {
			s.prefix = p
		}
	}
}

// Runner overrides the git command runner, for tests
func Runner(r storage.CommandRunner) Option {
	return func(s *Store) {
		if r != nil {
			s.runner = r
		}
	}
}

// CacheDir sets the directory retrieved versions are materialized in
// when the caller supplies no target path.
func CacheDir(dir string) Option {
	return func(s *Store) {
		if dir != "" {
			s.cacheDir = dir
		}
	}
}

// Clock overrides the time source
func Clock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.clock = now
		}
	}
}

// Store is the git-branch-backed storage backend
type Store struct {
	repoPath string
	prefix   string
	cacheDir string
	runner   storage.CommandRunner
	fs       afero.Fs
	clock    func() time.Time
	l        *zap.Logger
}

// New opens (initializing when needed) the git repository at repoPath
// and returns a branch storage backend on top of it.
func New(repoPath string, opts ...Option) (*Store, error) {
	s := &Store{
		repoPath: repoPath,
		prefix:   DefaultPrefix,
		runner:   storage.NewExecRunner("git", "", "-C", repoPath),
		fs:       afero.NewOsFs(),
		clock:    time.Now,
		l:        zap.NewNop(),
	}
	for _, apply := range opts {
		apply(s)
	}
	if s.cacheDir == "" {
		dir, err := os.MkdirTemp("", "avf-branch-cache-")
		if err != nil {
			return nil, status.ErrBackendFailure.Wrap(err)
		}
		s.cacheDir = dir
	}
	if err := s.ensureRepo(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) String() string {
	return "branch@" + s.repoPath
}

// ensureRepo initializes the repository and an initial commit so that
// HEAD always resolves.
func (s *Store) ensureRepo(ctx context.Context) error {
	if err := s.fs.MkdirAll(s.repoPath, 0755); err != nil {
		return status.ErrBackendFailure.Wrap(err)
	}
	if _, err := s.runner.Run(ctx, "rev-parse", "--git-dir"); err != nil {
		if _, err = s.runner.Run(ctx, "init"); err != nil {
			return err
		}
	}
	if _, err := s.runner.Run(ctx, "rev-parse", "--verify", "HEAD"); err != nil {
		readme := filepath.Join(s.repoPath, readmeName)
		content := "# Asset Version Storage\nManaged by avf\n"
		if wErr := afero.WriteFile(s.fs, readme, []byte(content), 0644); wErr != nil {
			return status.ErrBackendFailure.Wrap(wErr)
		}
		if _, err = s.runner.Run(ctx, "add", readmeName); err != nil {
			return err
		}
		if _, err = s.runner.Run(ctx, "commit", "-m", "initialize asset version storage"); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) branchName(id string) string {
	return s.prefix + "/" + id
}

func (s *Store) currentBranch(ctx context.Context) (string, error) {
	out, err := s.runner.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// restoreBranch switches back to the branch active before the call.
// When the call already failed, a restore failure is logged so the
// primary error survives.
func (s *Store) restoreBranch(ctx context.Context, original string, errp *error) {
	if _, rerr := s.runner.Run(ctx, "checkout", original); rerr != nil {
		if *errp == nil {
			*errp = rerr
			return
		}
		s.l.Warn("failed to restore branch after error",
			zap.String("backend", s.String()),
			zap.String("branch", original),
			zap.Error(rerr))
	}
}

// branchExists maps an unknown version branch to NotFound
func (s *Store) branchExists(ctx context.Context, branch string) error {
	if _, err := s.runner.Run(ctx, "rev-parse", "--verify", "refs/heads/"+branch); err != nil {
		return status.ErrNotFound.WrapMessage(branch)
	}
	return nil
}

// Store creates a version branch off the active branch, commits the
// file plus its metadata sidecar on it, and restores the original
// branch on every exit path.
func (s *Store) Store(ctx context.Context, filePath string, meta model.AssetMetadata) (storageID string, err error) {
	if err = meta.Validate(); err != nil {
		return "", err
	}
	head, err := s.runner.Run(ctx, "rev-parse", "--short="+strconv.Itoa(shortIDLen), "HEAD")
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(head)

	original, err := s.currentBranch(ctx)
	if err != nil {
		return "", err
	}
	if _, err = s.runner.Run(ctx, "checkout", "-b", s.branchName(id)); err != nil {
		return "", err
	}
	defer s.restoreBranch(ctx, original, &err)

	name := filepath.Base(filePath)
	content, err := afero.ReadFile(s.fs, filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", status.ErrNotFound.Wrap(err)
		}
		return "", status.ErrBackendFailure.Wrap(err)
	}
	if err = afero.WriteFile(s.fs, filepath.Join(s.repoPath, name), content, 0644); err != nil {
		return "", status.ErrBackendFailure.Wrap(err)
	}

	doc := meta.ToMap()
	doc[storage.KeyOriginalPath] = filePath
	doc[storage.KeyTimestamp] = s.clock().UTC().Format(time.RFC3339Nano)
	if err = s.writeSidecar(name, doc); err != nil {
		return "", err
	}

	if _, err = s.runner.Run(ctx, "add", name, name+sidecarSuffix); err != nil {
		return "", err
	}
	if _, err = s.runner.Run(ctx, "commit", "-m", "store version of "+name); err != nil {
		return "", err
	}

	s.l.Debug("stored version", zap.String("backend", s.String()),
		zap.String("storage_id", id), zap.String("path", filePath))
	return id, nil
}

func (s *Store) writeSidecar(assetName string, doc map[string]interface{}) error {
	payload, err := storage.EncodeSidecar(doc)
	if err != nil {
		return status.ErrBackendFailure.Wrap(err)
	}
	sidecar := filepath.Join(s.repoPath, assetName+sidecarSuffix)
	if err = afero.WriteFile(s.fs, sidecar, payload, 0644); err != nil {
		return status.ErrBackendFailure.Wrap(err)
	}
	return nil
}

// Retrieve checks out the version branch read-only, copies the asset
// out, and restores the previously active branch before returning.
func (s *Store) Retrieve(ctx context.Context, storageID, targetPath string) (resultPath string, err error) {
	branch := s.branchName(storageID)
	if err = s.branchExists(ctx, branch); err != nil {
		return "", err
	}
	original, err := s.currentBranch(ctx)
	if err != nil {
		return "", err
	}
	if _, err = s.runner.Run(ctx, "checkout", branch); err != nil {
		return "", err
	}
	defer s.restoreBranch(ctx, original, &err)

	name, err := s.findAsset(storageID)
	if err != nil {
		return "", err
	}
	content, err := afero.ReadFile(s.fs, filepath.Join(s.repoPath, name))
	if err != nil {
		return "", status.ErrBackendFailure.Wrap(err)
	}

	// the worktree flips back to the original branch on return, so
	// the bytes must live outside of it
	if targetPath == "" {
		targetPath = filepath.Join(s.cacheDir, storageID, name)
	}
	if dir := filepath.Dir(targetPath); dir != "" && dir != "." {
		if err = s.fs.MkdirAll(dir, 0755); err != nil {
			return "", status.ErrBackendFailure.Wrap(err)
		}
	}
	if err = afero.WriteFile(s.fs, targetPath, content, 0644); err != nil {
		return "", status.ErrBackendFailure.Wrap(err)
	}
	return targetPath, nil
}

// findAsset locates the single non-sidecar asset file on the checked
// out version branch.
func (s *Store) findAsset(storageID string) (string, error) {
	entries, err := afero.ReadDir(s.fs, s.repoPath)
	if err != nil {
		return "", status.ErrBackendFailure.Wrap(err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, sidecarSuffix) || name == readmeName {
			continue
		}
		return name, nil
	}
	return "", status.ErrNotFound.WrapMessage("no asset file in version " + storageID)
}

// Describe reads the sidecar on the version branch and augments it
// with commit-level information.
func (s *Store) Describe(ctx context.Context, storageID string) (doc map[string]interface{}, err error) {
	branch := s.branchName(storageID)
	if err = s.branchExists(ctx, branch); err != nil {
		return nil, err
	}
	original, err := s.currentBranch(ctx)
	if err != nil {
		return nil, err
	}
	if _, err = s.runner.Run(ctx, "checkout", branch); err != nil {
		return nil, err
	}
	defer s.restoreBranch(ctx, original, &err)

	entries, err := afero.ReadDir(s.fs, s.repoPath)
	if err != nil {
		return nil, status.ErrBackendFailure.Wrap(err)
	}
	var sidecar string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), sidecarSuffix) {
			sidecar = entry.Name()
			break
		}
	}
	if sidecar == "" {
		return nil, status.ErrNotFound.WrapMessage("no metadata for version " + storageID)
	}
	payload, err := afero.ReadFile(s.fs, filepath.Join(s.repoPath, sidecar))
	if err != nil {
		return nil, status.ErrBackendFailure.Wrap(err)
	}
	doc, err = storage.DecodeSidecar(payload)
	if err != nil {
		return nil, status.ErrBackendFailure.Wrap(err)
	}

	hash, err := s.runner.Run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}
	date, err := s.runner.Run(ctx, "log", "-1", "--format=%cI")
	if err != nil {
		return nil, err
	}
	message, err := s.runner.Run(ctx, "log", "-1", "--format=%s")
	if err != nil {
		return nil, err
	}
	doc["commit_hash"] = strings.TrimSpace(hash)
	doc["commit_date"] = strings.TrimSpace(date)
	doc["commit_message"] = strings.TrimSpace(message)
	doc["branch"] = branch
	return doc, nil
}

// CreateFromReference promotes an existing commit into a tracked
// version by branching at it and committing a metadata sidecar.
func (s *Store) CreateFromReference(ctx context.Context, ref model.StorageReference, meta model.AssetMetadata) (storageID string, err error) {
	if ref.ReferenceType != model.ReferenceTypeCommit {
		return "", status.ErrUnsupportedReference.WrapMessage(string(ref.ReferenceType))
	}
	if err = meta.Validate(); err != nil {
		return "", err
	}
	if _, err = s.runner.Run(ctx, "cat-file", "-e", ref.StorageID+"^{commit}"); err != nil {
		return "", status.ErrNotFound.Wrap(err)
	}
	id := ref.StorageID
	if len(id) > shortIDLen {
		id = id[:shortIDLen]
	}
	branch := s.branchName(id)
	if _, err = s.runner.Run(ctx, "branch", branch, ref.StorageID); err != nil {
		return "", err
	}

	original, err := s.currentBranch(ctx)
	if err != nil {
		return "", err
	}
	if _, err = s.runner.Run(ctx, "checkout", branch); err != nil {
		return "", err
	}
	defer s.restoreBranch(ctx, original, &err)

	date, err := s.runner.Run(ctx, "log", "-1", "--format=%cI")
	if err != nil {
		return "", err
	}
	message, err := s.runner.Run(ctx, "log", "-1", "--format=%s")
	if err != nil {
		return "", err
	}

	name := filepath.Base(ref.Path)
	doc := meta.ToMap()
	doc[storage.KeyOriginalPath] = ref.Path
	doc[storage.KeyTimestamp] = s.clock().UTC().Format(time.RFC3339Nano)
	doc[storage.KeyReference] = ref.ToMap()
	doc["commit_hash"] = ref.StorageID
	doc["commit_date"] = strings.TrimSpace(date)
	doc["commit_message"] = strings.TrimSpace(message)
	if err = s.writeSidecar(name, doc); err != nil {
		return "", err
	}
	if _, err = s.runner.Run(ctx, "add", name+sidecarSuffix); err != nil {
		return "", err
	}
	if _, err = s.runner.Run(ctx, "commit", "-m", "add metadata for "+name); err != nil {
		return "", err
	}
	return id, nil
}

// log record separators, chosen to survive arbitrary commit subjects
const (
	recHeader = "\x01"
	recField  = "\x02"
)

// ListReferences enumerates commits touching asset files as commit
// references.
func (s *Store) ListReferences(ctx context.Context, refType model.ReferenceType, pathPattern string) ([]model.StorageReference, error) {
	if refType != model.ReferenceTypeAny && refType != model.ReferenceTypeCommit {
		return nil, nil
	}
	format := recHeader + "%H" + recField + "%cI" + recField + "%an" + recField + "%ae" + recField + "%s"
	out, err := s.runner.Run(ctx, "log", "--name-only", "--pretty=format:"+format)
	if err != nil {
		return nil, err
	}

	refs := make([]model.StorageReference, 0)
	var header []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, recHeader) {
			header = strings.Split(strings.TrimPrefix(line, recHeader), recField)
			continue
		}
		if line == "" || header == nil || len(header) < 5 {
			continue
		}
		file := line
		if strings.HasSuffix(file, sidecarSuffix) || file == readmeName {
			continue
		}
		if pathPattern != "" && !strings.Contains(file, pathPattern) {
			continue
		}
		refs = append(refs, model.StorageReference{
			StorageType:   "git",
			StorageID:     header[0],
			Path:          file,
			ReferenceType: model.ReferenceTypeCommit,
			Metadata: map[string]interface{}{
				"date":           header[1],
				"author":         header[2],
				"author_email":   header[3],
				"commit_message": header[4],
			},
		})
	}
	return refs, nil
}
