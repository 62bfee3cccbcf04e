package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianvfx/avf/pkg/model"
	"github.com/meridianvfx/avf/pkg/repository"
	"github.com/meridianvfx/avf/pkg/storage/status"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "versions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testMeta() model.AssetMetadata {
	return model.AssetMetadata{
		Creator:     "jane_doe",
		ToolVersion: "maya_2024",
		Description: "hero model",
		Tags:        []string{"hero", "approved"},
		CustomData:  map[string]interface{}{"lod": "high"},
	}
}

func TestCreateAndGetVersion(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.CreateVersion(ctx, "/assets/model.fbx", testMeta())
	require.NoError(t, err)
	require.NotZero(t, id)

	version, err := s.GetVersionInfo(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, version.ID)
	assert.Equal(t, "/assets/model.fbx", version.FilePath)
	assert.Equal(t, "jane_doe", version.Creator)
	assert.Equal(t, "maya_2024", version.ToolVersion)
	assert.Equal(t, "hero model", version.Description)
	assert.Equal(t, []string{"approved", "hero"}, version.Tags)
	assert.Equal(t, "high", version.CustomData["lod"])
	assert.False(t, version.CreatedAt.IsZero())
}

func TestCreateVersionRejectsInvalidMetadata(t *testing.T) {
	s := setupStore(t)

	_, err := s.CreateVersion(context.Background(), "/assets/model.fbx", model.AssetMetadata{})
	assert.ErrorIs(t, err, model.ErrInvalidMetadata)
}

func TestGetVersionInfoUnknownID(t *testing.T) {
	s := setupStore(t)

	_, err := s.GetVersionInfo(context.Background(), 999)
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestStorageLocations(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.CreateVersion(ctx, "/assets/model.fbx", testMeta())
	require.NoError(t, err)

	require.NoError(t, s.AddStorageLocation(ctx, id, "disk", "abc123_2026"))
	require.NoError(t, s.AddStorageLocation(ctx, id, "branch", "deadbeef0001"))

	locations, err := s.GetStorageLocations(ctx, id)
	require.NoError(t, err)
	require.Len(t, locations, 2)
	assert.Equal(t, "disk", locations[0].StorageType)
	assert.Equal(t, "abc123_2026", locations[0].StorageID)
	assert.Equal(t, "branch", locations[1].StorageType)
	assert.Equal(t, id, locations[1].VersionID)
}

func TestAddStorageLocationUnknownVersion(t *testing.T) {
	s := setupStore(t)

	err := s.AddStorageLocation(context.Background(), 999, "disk", "abc")
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestFindVersions(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	first := testMeta()
	first.CreationTime = now.Add(-48 * time.Hour)
	_, err := s.CreateVersion(ctx, "/assets/model.fbx", first)
	require.NoError(t, err)

	second := testMeta()
	second.CreationTime = now
	second.Tags = []string{"hero", "final"}
	secondID, err := s.CreateVersion(ctx, "/assets/model.fbx", second)
	require.NoError(t, err)

	other := testMeta()
	other.Creator = "li_chen"
	other.CreationTime = now
	_, err = s.CreateVersion(ctx, "/assets/rig.ma", other)
	require.NoError(t, err)

	// by path, newest first
	versions, err := s.FindVersions(ctx, repository.FindQuery{FilePath: "/assets/model.fbx"})
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, secondID, versions[0].ID)

	// by creator
	versions, err = s.FindVersions(ctx, repository.FindQuery{Creator: "li_chen"})
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "/assets/rig.ma", versions[0].FilePath)

	// every tag must match
	versions, err = s.FindVersions(ctx, repository.FindQuery{Tags: []string{"hero", "final"}})
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, secondID, versions[0].ID)

	// time window
	after := now.Add(-time.Hour)
	versions, err = s.FindVersions(ctx, repository.FindQuery{FilePath: "/assets/model.fbx", After: &after})
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, secondID, versions[0].ID)

	before := now.Add(-time.Hour)
	versions, err = s.FindVersions(ctx, repository.FindQuery{FilePath: "/assets/model.fbx", Before: &before})
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.NotEqual(t, secondID, versions[0].ID)

	// no match is an empty list, not an error
	versions, err = s.FindVersions(ctx, repository.FindQuery{FilePath: "/assets/nope.fbx"})
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestGetVersionHistory(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	meta := testMeta()
	meta.CreationTime = time.Date(2026, 3, 13, 10, 0, 0, 0, time.UTC)
	_, err := s.CreateVersion(ctx, "/assets/model.fbx", meta)
	require.NoError(t, err)

	meta.CreationTime = meta.CreationTime.Add(24 * time.Hour)
	newest, err := s.CreateVersion(ctx, "/assets/model.fbx", meta)
	require.NoError(t, err)

	history, err := s.GetVersionHistory(ctx, "/assets/model.fbx")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, newest, history[0].ID)
}

func TestGetAllTags(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.CreateVersion(ctx, "/assets/model.fbx", testMeta())
	require.NoError(t, err)
	other := testMeta()
	other.Tags = []string{"hero", "wip"}
	_, err = s.CreateVersion(ctx, "/assets/rig.ma", other)
	require.NoError(t, err)

	tags, err := s.GetAllTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"approved", "hero", "wip"}, tags)
}

func TestDeleteVersion(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	id, err := s.CreateVersion(ctx, "/assets/model.fbx", testMeta())
	require.NoError(t, err)
	require.NoError(t, s.AddStorageLocation(ctx, id, "disk", "abc"))

	require.NoError(t, s.DeleteVersion(ctx, id))

	_, err = s.GetVersionInfo(ctx, id)
	assert.ErrorIs(t, err, status.ErrNotFound)
	_, err = s.GetStorageLocations(ctx, id)
	assert.ErrorIs(t, err, status.ErrNotFound)

	assert.ErrorIs(t, s.DeleteVersion(ctx, id), status.ErrNotFound)
}
