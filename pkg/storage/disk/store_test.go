package disk

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianvfx/avf/pkg/model"
	"github.com/meridianvfx/avf/pkg/storage/status"
)

func testMeta() model.AssetMetadata {
	return model.AssetMetadata{
		Creator:      "jane_doe",
		ToolVersion:  "maya_2024",
		Description:  "test asset",
		Tags:         []string{"character", "texture"},
		CustomData:   map[string]interface{}{"resolution": "4k"},
		CreationTime: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
}

func setupStore(t testing.TB, opts ...Option) (*Store, afero.Fs) {
	t.Helper()

	srcFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(srcFs, "assets/model.fbx", []byte("Model data v1"), 0644))

	all := append([]Option{SourceFs(srcFs)}, opts...)
	return New(afero.NewMemMapFs(), all...), srcFs
}

func TestStoreRetrieveRoundTrip(t *testing.T) {
	s, srcFs := setupStore(t)
	ctx := context.Background()

	id, err := s.Store(ctx, "assets/model.fbx", testMeta())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Retrieve(ctx, id, "out/restored.fbx")
	require.NoError(t, err)
	assert.Equal(t, "out/restored.fbx", got)

	content, err := afero.ReadFile(srcFs, "out/restored.fbx")
	require.NoError(t, err)
	assert.Equal(t, "Model data v1", string(content))
}

func TestStoreDistinctContentDistinctIDs(t *testing.T) {
	s, srcFs := setupStore(t)
	ctx := context.Background()

	id1, err := s.Store(ctx, "assets/model.fbx", testMeta())
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(srcFs, "assets/model.fbx", []byte("Model data v2"), 0644))
	id2, err := s.Store(ctx, "assets/model.fbx", testMeta())
	require.NoError(t, err)

	require.NotEqual(t, id1, id2)

	p1, err := s.Retrieve(ctx, id1, "out/v1")
	require.NoError(t, err)
	p2, err := s.Retrieve(ctx, id2, "out/v2")
	require.NoError(t, err)

	b1, _ := afero.ReadFile(srcFs, p1)
	b2, _ := afero.ReadFile(srcFs, p2)
	assert.Equal(t, "Model data v1", string(b1))
	assert.Equal(t, "Model data v2", string(b2))
}

func TestStoreSameContentDistinctTimestamps(t *testing.T) {
	instants := []time.Time{
		time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 14, 10, 0, 1, 0, time.UTC),
	}
	i := 0
	s, _ := setupStore(t, Clock(func() time.Time {
		ts := instants[i%len(instants)]
		i++
		return ts
	}))
	ctx := context.Background()

	id1, err := s.Store(ctx, "assets/model.fbx", testMeta())
	require.NoError(t, err)
	id2, err := s.Store(ctx, "assets/model.fbx", testMeta())
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	// same content digest, different timestamp suffix
	assert.Equal(t, strings.SplitN(id1, "_", 2)[0], strings.SplitN(id2, "_", 2)[0])
}

func TestDescribe(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	id, err := s.Store(ctx, "assets/model.fbx", testMeta())
	require.NoError(t, err)

	doc, err := s.Describe(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "jane_doe", doc["creator"])
	assert.Equal(t, "maya_2024", doc["tool_version"])
	assert.Equal(t, "assets/model.fbx", doc["original_path"])
	assert.NotEmpty(t, doc["timestamp"])
}

func TestNotFound(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	_, err := s.Retrieve(ctx, "deadbeef_2026-01-01T00:00:00Z", "")
	assert.ErrorIs(t, err, status.ErrNotFound)

	_, err = s.Describe(ctx, "deadbeef_2026-01-01T00:00:00Z")
	assert.ErrorIs(t, err, status.ErrNotFound)

	// ids too short for the bucket layout are unknown by definition
	_, err = s.Describe(ctx, "ab")
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestCreateFromReference(t *testing.T) {
	s, srcFs := setupStore(t)
	ctx := context.Background()

	require.NoError(t, afero.WriteFile(srcFs, "assets/existing.png", []byte("png bytes"), 0644))

	ref := model.StorageReference{
		StorageType:   "disk",
		Path:          "assets/existing.png",
		ReferenceType: model.ReferenceTypeFile,
	}
	id, err := s.CreateFromReference(ctx, ref, testMeta())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := s.Describe(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "assets/existing.png", doc["original_path"])
	refDoc, ok := doc["reference"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "file", refDoc["reference_type"])

	got, err := s.Retrieve(ctx, id, "out/promoted.png")
	require.NoError(t, err)
	content, _ := afero.ReadFile(srcFs, got)
	assert.Equal(t, "png bytes", string(content))
}

func TestCreateFromReferenceUnsupportedType(t *testing.T) {
	s, _ := setupStore(t)

	ref := model.StorageReference{
		StorageType:   "git",
		StorageID:     "abc",
		Path:          "assets/existing.png",
		ReferenceType: model.ReferenceTypeCommit,
	}
	_, err := s.CreateFromReference(context.Background(), ref, testMeta())
	assert.ErrorIs(t, err, status.ErrUnsupportedReference)
}

func TestCreateFromReferenceMissingFile(t *testing.T) {
	s, _ := setupStore(t)

	ref := model.StorageReference{
		StorageType:   "disk",
		Path:          "assets/nope.png",
		ReferenceType: model.ReferenceTypeFile,
	}
	_, err := s.CreateFromReference(context.Background(), ref, testMeta())
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestListReferences(t *testing.T) {
	s, srcFs := setupStore(t)
	ctx := context.Background()

	id1, err := s.Store(ctx, "assets/model.fbx", testMeta())
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(srcFs, "assets/model.fbx", []byte("Model data v2"), 0644))
	_, err = s.Store(ctx, "assets/model.fbx", testMeta())
	require.NoError(t, err)

	refs, err := s.ListReferences(ctx, model.ReferenceTypeAny, "")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	ids := []string{refs[0].StorageID, refs[1].StorageID}
	assert.Contains(t, ids, id1)
	for _, ref := range refs {
		assert.Equal(t, model.ReferenceTypeFile, ref.ReferenceType)
		assert.NotEmpty(t, ref.Metadata["modified"])
	}

	// commit references are not a disk concept
	refs, err = s.ListReferences(ctx, model.ReferenceTypeCommit, "")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestListReferencesNoMatch(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	_, err := s.Store(ctx, "assets/model.fbx", testMeta())
	require.NoError(t, err)

	refs, err := s.ListReferences(ctx, model.ReferenceTypeAny, "no-such-pattern")
	require.NoError(t, err)
	assert.Empty(t, refs)
}
