// Package changelist implements the storage backend wrapping a
// changelist-based version control server (p4 protocol).
//
// Every stored version is one submitted changelist carrying the asset
// file and a JSON metadata file under a dedicated depot location.
// Like the branch backend, an instance is single-writer: the client
// workspace is shared mutable state.
package changelist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/meridianvfx/avf/pkg/model"
	"github.com/meridianvfx/avf/pkg/storage"
	"github.com/meridianvfx/avf/pkg/storage/status"
)

// Config carries the connection settings for the changelist server
type Config struct {
	// Port is the server address (host:port)
	Port string
	// User authenticates against the server
	User string
	// Client is the workspace name
	Client string
	// Charset for server communication, optional
	Charset string
	// DepotRoot is the depot location holding assets, //depot by default
	DepotRoot string
	// MetadataDepot is the depot location holding metadata files,
	// <DepotRoot>/avf-metadata by default
	MetadataDepot string
}

// Option tunes a changelist Store
type Option func(*Store)

// Logger injects a logging facility
func Logger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.l = l
		}
	}
}

// Runner overrides the p4 command runner, for tests
func Runner(r storage.CommandRunner) Option {
	return func(s *Store) {
		if r != nil {
			s.runner = r
		}
	}
}

// StagingFs overrides the filesystem used to stage metadata payloads
func StagingFs(fs afero.Fs) Option {
	return func(s *Store) {
		if fs != nil {
			s.fs = fs
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

// Store is the changelist-backed storage backend
type Store struct {
	cfg    Config
	runner storage.CommandRunner
	fs     afero.Fs
	clock  func() time.Time
	l      *zap.Logger
}

// New creates a changelist storage backend for the given connection
// settings.
func New(cfg Config, opts ...Option) *Store {
	if cfg.DepotRoot == "" {
		cfg.DepotRoot = "//depot"
	}
	if cfg.MetadataDepot == "" {
		cfg.MetadataDepot = cfg.DepotRoot + "/avf-metadata"
	}
	s := &Store{
		cfg:   cfg,
		fs:    afero.NewOsFs(),
		clock: time.Now,
		l:     zap.NewNop(),
	}
	for _, apply := range opts {
		apply(s)
	}
	if s.runner == nil {
		prefix := []string{"-p", cfg.Port, "-u", cfg.User, "-c", cfg.Client}
		if cfg.Charset != "" {
			prefix = append(prefix, "-C", cfg.Charset)
		}
		s.runner = storage.NewExecRunner("p4", "", prefix...)
	}
	return s
}

func (s *Store) String() string {
	return "changelist@" + s.cfg.Port + "/" + s.cfg.Client
}

func (s *Store) metadataPath(changelist string) string {
	return s.cfg.MetadataDepot + "/" + changelist + ".json"
}

// newChangelist creates a pending changelist from a description form
// and returns its number.
func (s *Store) newChangelist(ctx context.Context, description string) (string, error) {
	form := "Change: new\n\nDescription:\n"
	for _, line := range strings.Split(description, "\n") {
		form += "\t" + line + "\n"
	}
	out, err := s.runner.RunInput(ctx, form, "change", "-i")
	if err != nil {
		return "", err
	}
	// expected: "Change 12345 created."
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "Change" {
			return fields[1], nil
		}
	}
	return "", status.ErrBackendFailure.WrapMessage("could not parse changelist number from: " + strings.TrimSpace(out))
}

// stageMetadata writes the sidecar payload to a temp file and hands
// it to cleanup-guaranteed code: the temp file is removed on every
// exit path of the calling operation.
func (s *Store) stageMetadata(doc map[string]interface{}) (string, func(), error) {
	payload, err := storage.EncodeSidecar(doc)
	if err != nil {
		return "", nil, status.ErrBackendFailure.Wrap(err)
	}
	tmp, err := afero.TempFile(s.fs, "", "avf-meta-*.json")
	if err != nil {
		return "", nil, status.ErrBackendFailure.Wrap(err)
	}
	name := tmp.Name()
	cleanup := func() { _ = s.fs.Remove(name) }
	if _, err = tmp.Write(payload); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", nil, status.ErrBackendFailure.Wrap(err)
	}
	if err = tmp.Close(); err != nil {
		cleanup()
		return "", nil, status.ErrBackendFailure.Wrap(err)
	}
	return name, cleanup, nil
}

// Store opens a changelist, attaches the asset and its metadata file,
// and submits.
func (s *Store) Store(ctx context.Context, filePath string, meta model.AssetMetadata) (string, error) {
	if err := meta.Validate(); err != nil {
		return "", err
	}
	name := baseName(filePath)
	changelist, err := s.newChangelist(ctx, "Store version of "+name+"\n\nManaged by avf")
	if err != nil {
		return "", err
	}

	if _, err = s.runner.Run(ctx, "add", "-c", changelist, filePath); err != nil {
		// the file may already be under depot control
		if _, err = s.runner.Run(ctx, "edit", "-c", changelist, filePath); err != nil {
			return "", err
		}
	}

	doc := meta.ToMap()
	doc[storage.KeyOriginalPath] = filePath
	doc[storage.KeyTimestamp] = s.clock().UTC().Format(time.RFC3339Nano)
	doc["changelist"] = changelist

	tmp, cleanup, err := s.stageMetadata(doc)
	if err != nil {
		return "", err
	}
	defer cleanup()

	if _, err = s.runner.Run(ctx, "add", "-c", changelist, "-t", "text", tmp, s.metadataPath(changelist)); err != nil {
		return "", err
	}
	if _, err = s.runner.Run(ctx, "submit", "-c", changelist); err != nil {
		return "", err
	}

	s.l.Debug("stored version", zap.String("backend", s.String()),
		zap.String("storage_id", changelist), zap.String("path", filePath))
	return changelist, nil
}

// assetFiles lists the depot files of a changelist, metadata files
// excluded.
func (s *Store) assetFiles(ctx context.Context, changelist string) ([]map[string]string, error) {
	out, err := s.runner.Run(ctx, "-ztag", "files", "@="+changelist)
	if err != nil {
		return nil, err
	}
	records := parseZtag(out)
	assets := make([]map[string]string, 0, len(records))
	for _, rec := range records {
		depotFile := rec["depotFile"]
		if depotFile == "" || strings.HasPrefix(depotFile, s.cfg.MetadataDepot) {
			continue
		}
		assets = append(assets, rec)
	}
	return assets, nil
}

// Retrieve syncs or prints the asset file of a submitted changelist
func (s *Store) Retrieve(ctx context.Context, storageID, targetPath string) (string, error) {
	assets, err := s.assetFiles(ctx, storageID)
	if err != nil {
		return "", err
	}
	if len(assets) == 0 {
		return "", status.ErrNotFound.WrapMessage("no asset files in changelist " + storageID)
	}
	depotFile := assets[0]["depotFile"]

	if targetPath != "" {
		if _, err = s.runner.Run(ctx, "print", "-o", targetPath, "-q", depotFile+"@="+storageID); err != nil {
			return "", err
		}
		return targetPath, nil
	}

	out, err := s.runner.Run(ctx, "-ztag", "fstat", depotFile+"@="+storageID)
	if err != nil {
		return "", err
	}
	records := parseZtag(out)
	if len(records) == 0 || records[0]["clientFile"] == "" {
		return "", status.ErrBackendFailure.WrapMessage("no client mapping for " + depotFile)
	}
	if _, err = s.runner.Run(ctx, "sync", depotFile+"@="+storageID); err != nil {
		return "", err
	}
	return records[0]["clientFile"], nil
}

// Describe reads the metadata file of a changelist and augments it
// with changelist-native fields.
func (s *Store) Describe(ctx context.Context, storageID string) (map[string]interface{}, error) {
	content, err := s.runner.Run(ctx, "print", "-q", s.metadataPath(storageID))
	if err != nil {
		return nil, status.ErrNotFound.Wrap(err)
	}
	doc, err := storage.DecodeSidecar([]byte(content))
	if err != nil {
		return nil, status.ErrBackendFailure.Wrap(err)
	}

	out, err := s.runner.Run(ctx, "-ztag", "describe", "-s", storageID)
	if err != nil {
		return nil, err
	}
	records := parseZtag(out)
	if len(records) > 0 {
		rec := records[0]
		doc["changelist"] = storageID
		doc["description"] = strings.TrimSpace(rec["desc"])
		doc["user"] = rec["user"]
		doc["client"] = rec["client"]
		doc["time"] = rec["time"]
	}
	return doc, nil
}

// CreateFromReference promotes an already-submitted changelist into a
// tracked version by submitting a metadata-only changelist that
// points back at it.
func (s *Store) CreateFromReference(ctx context.Context, ref model.StorageReference, meta model.AssetMetadata) (string, error) {
	if ref.ReferenceType != model.ReferenceTypeChangelist {
		return "", status.ErrUnsupportedReference.WrapMessage(string(ref.ReferenceType))
	}
	if err := meta.Validate(); err != nil {
		return "", err
	}

	out, err := s.runner.Run(ctx, "-ztag", "describe", "-s", ref.StorageID)
	if err != nil {
		return "", status.ErrNotFound.Wrap(err)
	}
	sourceRecords := parseZtag(out)
	if len(sourceRecords) == 0 {
		return "", status.ErrNotFound.WrapMessage("changelist " + ref.StorageID)
	}
	source := sourceRecords[0]

	changelist, err := s.newChangelist(ctx,
		fmt.Sprintf("Add metadata for %s\n\nReferencing change %s", ref.Path, ref.StorageID))
	if err != nil {
		return "", err
	}

	doc := meta.ToMap()
	doc[storage.KeyOriginalPath] = ref.Path
	doc[storage.KeyTimestamp] = s.clock().UTC().Format(time.RFC3339Nano)
	doc[storage.KeyReference] = ref.ToMap()
	doc["original_changelist"] = ref.StorageID
	doc["source_change"] = map[string]interface{}{
		"description": strings.TrimSpace(source["desc"]),
		"user":        source["user"],
		"client":      source["client"],
		"time":        source["time"],
	}

	tmp, cleanup, err := s.stageMetadata(doc)
	if err != nil {
		return "", err
	}
	defer cleanup()

	if _, err = s.runner.Run(ctx, "add", "-c", changelist, "-t", "text", tmp, s.metadataPath(changelist)); err != nil {
		return "", err
	}
	if _, err = s.runner.Run(ctx, "submit", "-c", changelist); err != nil {
		return "", err
	}
	return changelist, nil
}

// ListReferences enumerates submitted changelists carrying asset
// files.
func (s *Store) ListReferences(ctx context.Context, refType model.ReferenceType, pathPattern string) ([]model.StorageReference, error) {
	if refType != model.ReferenceTypeAny && refType != model.ReferenceTypeChangelist {
		return nil, nil
	}
	out, err := s.runner.Run(ctx, "changes", "-l", s.cfg.DepotRoot+"/...")
	if err != nil {
		return nil, err
	}

	refs := make([]model.StorageReference, 0)
	for _, change := range parseChanges(out) {
		assets, err := s.assetFiles(ctx, change.id)
		if err != nil {
			return nil, err
		}
		// metadata-only changes are bookkeeping, not versions
		if len(assets) == 0 {
			continue
		}
		for _, rec := range assets {
			depotFile := rec["depotFile"]
			if pathPattern != "" && !strings.Contains(depotFile, pathPattern) {
				continue
			}
			refs = append(refs, model.StorageReference{
				StorageType:   "changelist",
				StorageID:     change.id,
				Path:          depotFile,
				ReferenceType: model.ReferenceTypeChangelist,
				Metadata: map[string]interface{}{
					"description": change.description,
					"user":        change.user,
					"client":      change.client,
					"time":        change.date,
					"action":      rec["action"],
				},
			})
		}
	}
	return refs, nil
}

func baseName(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
