// Package sqlite implements the version repository over a single
// SQLite database file.
//
// The driver is modernc.org/sqlite, so the package builds without
// cgo. Schema creation happens on Open; there is no separate
// migration step.
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/meridianvfx/avf/pkg/model"
	"github.com/meridianvfx/avf/pkg/repository"
	"github.com/meridianvfx/avf/pkg/storage/status"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const schema = `
CREATE TABLE IF NOT EXISTS versions (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path    TEXT NOT NULL,
	creator      TEXT NOT NULL,
	tool_version TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	custom_data  TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_versions_file_path ON versions(file_path);

CREATE TABLE IF NOT EXISTS version_tags (
	version_id INTEGER NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
	tag        TEXT NOT NULL,
	PRIMARY KEY (version_id, tag)
);

CREATE TABLE IF NOT EXISTS storage_locations (
	version_id   INTEGER NOT NULL REFERENCES versions(id) ON DELETE CASCADE,
	storage_type TEXT NOT NULL,
	storage_id   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_locations_version ON storage_locations(version_id);
`

// Option tunes a sqlite Store
type Option func(*Store)

// Logger injects a logging facility
func Logger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.l = l
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

// Store implements repository.Store over a SQLite file
type Store struct {
	db    *sql.DB
	clock func() time.Time
	l     *zap.Logger
}

var _ repository.Store = (*Store)(nil)

// Open opens (and if necessary creates) the repository database at
// path and ensures the schema exists.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, status.ErrConfiguration.WrapMessage("repository path is required")
	}
	dsn := path + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, status.ErrRepositoryFailure.Wrap(err)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, status.ErrRepositoryFailure.Wrap(err)
	}
	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, status.ErrRepositoryFailure.Wrap(err)
	}

	s := &Store{
		db:    db,
		clock: time.Now,
		l:     zap.NewNop(),
	}
	for _, apply := range opts {
		apply(s)
	}
	return s, nil
}

// Close releases the underlying database handle
func (s *Store) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// CreateVersion inserts one logical version and its tags in a single
// transaction and returns the new version id.
func (s *Store) CreateVersion(ctx context.Context, filePath string, meta model.AssetMetadata) (int64, error) {
	if err := meta.Validate(); err != nil {
		return 0, err
	}
	customData := "{}"
	if len(meta.CustomData) > 0 {
		payload, err := json.Marshal(meta.CustomData)
		if err != nil {
			return 0, status.ErrRepositoryFailure.Wrap(err)
		}
		customData = string(payload)
	}
	createdAt := meta.CreationTime
	if createdAt.IsZero() {
		createdAt = s.clock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, status.ErrRepositoryFailure.Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
INSERT INTO versions (file_path, creator, tool_version, description, custom_data, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		filePath, meta.Creator, meta.ToolVersion, meta.Description, customData, toMillis(createdAt))
	if err != nil {
		return 0, status.ErrRepositoryFailure.Wrap(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, status.ErrRepositoryFailure.Wrap(err)
	}
	for _, tag := range meta.Tags {
		if _, err = tx.ExecContext(ctx, `
INSERT OR IGNORE INTO version_tags (version_id, tag) VALUES (?, ?)`, id, tag); err != nil {
			return 0, status.ErrRepositoryFailure.Wrap(err)
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, status.ErrRepositoryFailure.Wrap(err)
	}

	s.l.Debug("created repository version",
		zap.Int64("version_id", id), zap.String("file_path", filePath))
	return id, nil
}

// AddStorageLocation records that storageType holds storageID for the
// given version.
func (s *Store) AddStorageLocation(ctx context.Context, versionID int64, storageType, storageID string) error {
	if err := s.ensureVersion(ctx, versionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO storage_locations (version_id, storage_type, storage_id) VALUES (?, ?, ?)`,
		versionID, storageType, storageID)
	if err != nil {
		return status.ErrRepositoryFailure.Wrap(err)
	}
	return nil
}

func (s *Store) ensureVersion(ctx context.Context, versionID int64) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM versions WHERE id = ?`, versionID).Scan(&one)
	if err == sql.ErrNoRows {
		return status.ErrNotFound.WrapMessage("unknown version id")
	}
	if err != nil {
		return status.ErrRepositoryFailure.Wrap(err)
	}
	return nil
}

// GetVersionInfo returns the full record for one version id
func (s *Store) GetVersionInfo(ctx context.Context, versionID int64) (model.RepositoryVersion, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, file_path, creator, tool_version, description, custom_data, created_at
FROM versions WHERE id = ?`, versionID)
	version, err := scanVersion(row.Scan)
	if err == sql.ErrNoRows {
		return model.RepositoryVersion{}, status.ErrNotFound.WrapMessage("unknown version id")
	}
	if err != nil {
		return model.RepositoryVersion{}, status.ErrRepositoryFailure.Wrap(err)
	}
	if version.Tags, err = s.versionTags(ctx, versionID); err != nil {
		return model.RepositoryVersion{}, err
	}
	return version, nil
}

// GetStorageLocations lists the backend locations recorded for one
// version, in insertion order.
func (s *Store) GetStorageLocations(ctx context.Context, versionID int64) ([]model.StorageLocation, error) {
	if err := s.ensureVersion(ctx, versionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT version_id, storage_type, storage_id
FROM storage_locations WHERE version_id = ? ORDER BY rowid`, versionID)
	if err != nil {
		return nil, status.ErrRepositoryFailure.Wrap(err)
	}
	defer rows.Close()

	locations := make([]model.StorageLocation, 0)
	for rows.Next() {
		var loc model.StorageLocation
		if err = rows.Scan(&loc.VersionID, &loc.StorageType, &loc.StorageID); err != nil {
			return nil, status.ErrRepositoryFailure.Wrap(err)
		}
		locations = append(locations, loc)
	}
	if err = rows.Err(); err != nil {
		return nil, status.ErrRepositoryFailure.Wrap(err)
	}
	return locations, nil
}

// FindVersions returns the versions matching every populated field of
// the query, newest first.
func (s *Store) FindVersions(ctx context.Context, query repository.FindQuery) ([]model.RepositoryVersion, error) {
	clauses := make([]string, 0, 4+len(query.Tags))
	args := make([]interface{}, 0, 4+len(query.Tags))
	if query.FilePath != "" {
		clauses = append(clauses, "file_path = ?")
		args = append(args, query.FilePath)
	}
	if query.Creator != "" {
		clauses = append(clauses, "creator = ?")
		args = append(args, query.Creator)
	}
	if query.After != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, toMillis(*query.After))
	}
	if query.Before != nil {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, toMillis(*query.Before))
	}
	for _, tag := range query.Tags {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM version_tags t WHERE t.version_id = versions.id AND t.tag = ?)")
		args = append(args, tag)
	}

	q := `
SELECT id, file_path, creator, tool_version, description, custom_data, created_at
FROM versions`
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"

	return s.queryVersions(ctx, q, args...)
}

// GetVersionHistory lists every version of one asset path, newest
// first.
func (s *Store) GetVersionHistory(ctx context.Context, filePath string) ([]model.RepositoryVersion, error) {
	return s.FindVersions(ctx, repository.FindQuery{FilePath: filePath})
}

// GetAllTags returns the distinct tags known to the repository,
// sorted.
func (s *Store) GetAllTags(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT tag FROM version_tags ORDER BY tag`)
	if err != nil {
		return nil, status.ErrRepositoryFailure.Wrap(err)
	}
	defer rows.Close()

	tags := make([]string, 0)
	for rows.Next() {
		var tag string
		if err = rows.Scan(&tag); err != nil {
			return nil, status.ErrRepositoryFailure.Wrap(err)
		}
		tags = append(tags, tag)
	}
	if err = rows.Err(); err != nil {
		return nil, status.ErrRepositoryFailure.Wrap(err)
	}
	return tags, nil
}

// DeleteVersion removes a version, its tags and its storage
// locations.
func (s *Store) DeleteVersion(ctx context.Context, versionID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return status.ErrRepositoryFailure.Wrap(err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM versions WHERE id = ?`, versionID)
	if err != nil {
		return status.ErrRepositoryFailure.Wrap(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return status.ErrRepositoryFailure.Wrap(err)
	}
	if affected == 0 {
		return status.ErrNotFound.WrapMessage("unknown version id")
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM version_tags WHERE version_id = ?`, versionID); err != nil {
		return status.ErrRepositoryFailure.Wrap(err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM storage_locations WHERE version_id = ?`, versionID); err != nil {
		return status.ErrRepositoryFailure.Wrap(err)
	}
	if err = tx.Commit(); err != nil {
		return status.ErrRepositoryFailure.Wrap(err)
	}
	return nil
}

func (s *Store) queryVersions(ctx context.Context, query string, args ...interface{}) ([]model.RepositoryVersion, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, status.ErrRepositoryFailure.Wrap(err)
	}
	defer rows.Close()

	versions := make([]model.RepositoryVersion, 0)
	for rows.Next() {
		version, err := scanVersion(rows.Scan)
		if err != nil {
			return nil, status.ErrRepositoryFailure.Wrap(err)
		}
		versions = append(versions, version)
	}
	if err = rows.Err(); err != nil {
		return nil, status.ErrRepositoryFailure.Wrap(err)
	}
	for i := range versions {
		if versions[i].Tags, err = s.versionTags(ctx, versions[i].ID); err != nil {
			return nil, err
		}
	}
	return versions, nil
}

func (s *Store) versionTags(ctx context.Context, versionID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT tag FROM version_tags WHERE version_id = ? ORDER BY tag`, versionID)
	if err != nil {
		return nil, status.ErrRepositoryFailure.Wrap(err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err = rows.Scan(&tag); err != nil {
			return nil, status.ErrRepositoryFailure.Wrap(err)
		}
		tags = append(tags, tag)
	}
	if err = rows.Err(); err != nil {
		return nil, status.ErrRepositoryFailure.Wrap(err)
	}
	return tags, nil
}

func scanVersion(scan func(...interface{}) error) (model.RepositoryVersion, error) {
	var version model.RepositoryVersion
	var customData string
	var createdAt int64
	if err := scan(&version.ID, &version.FilePath, &version.Creator,
		&version.ToolVersion, &version.Description, &customData, &createdAt); err != nil {
		return model.RepositoryVersion{}, err
	}
	version.CreatedAt = fromMillis(createdAt)
	if customData != "" && customData != "{}" {
		if err := json.Unmarshal([]byte(customData), &version.CustomData); err != nil {
			return model.RepositoryVersion{}, err
		}
	}
	return version, nil
}
