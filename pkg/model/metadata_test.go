package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataValidate(t *testing.T) {
	m := NewMetadata("jane_doe", "maya_2024")
	require.NoError(t, m.Validate())

	assert.Error(t, AssetMetadata{ToolVersion: "maya_2024"}.Validate())
	assert.Error(t, AssetMetadata{Creator: "jane_doe"}.Validate())
	assert.ErrorIs(t, AssetMetadata{}.Validate(), ErrInvalidMetadata)
}

func TestMetadataMapRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	m := AssetMetadata{
		Creator:     "jane_doe",
		ToolVersion: "maya_2024",
		Description: "initial model",
		Tags:        []string{"character", "model", "character"},
		CustomData: map[string]interface{}{
			"polygon_count": 1500,
			"texture_size":  "2k",
		},
		CreationTime: now,
	}

	doc := m.ToMap()
	assert.Equal(t, "jane_doe", doc["creator"])
	assert.Equal(t, "maya_2024", doc["tool_version"])
	assert.Equal(t, "initial model", doc["description"])
	// duplicate tags and their order survive the flattening
	assert.Equal(t, []interface{}{"character", "model", "character"}, doc["tags"])

	back := MetadataFromMap(doc)
	assert.Equal(t, m.Creator, back.Creator)
	assert.Equal(t, m.ToolVersion, back.ToolVersion)
	assert.Equal(t, m.Description, back.Description)
	assert.Equal(t, m.Tags, back.Tags)
	assert.Equal(t, "2k", back.CustomData["texture_size"])
	assert.True(t, now.Equal(back.CreationTime))
}

func TestMetadataFromMapIgnoresBackendKeys(t *testing.T) {
	doc := map[string]interface{}{
		"creator":       "li_wei",
		"tool_version":  "houdini_20",
		"original_path": "/assets/model.fbx",
		"timestamp":     "2026-01-02T03:04:05Z",
	}
	m := MetadataFromMap(doc)
	assert.Equal(t, "li_wei", m.Creator)
	assert.Equal(t, "houdini_20", m.ToolVersion)
	assert.Empty(t, m.Description)
	assert.True(t, m.CreationTime.IsZero())
}

func TestReferenceToMap(t *testing.T) {
	ref := StorageReference{
		StorageType:   "disk",
		StorageID:     "abc123",
		Path:          "/store/ab/c1/abc123",
		ReferenceType: ReferenceTypeFile,
		Metadata:      map[string]interface{}{"size": 42},
	}
	doc := ref.ToMap()
	assert.Equal(t, "disk", doc["storage_type"])
	assert.Equal(t, "file", doc["reference_type"])
	assert.Equal(t, map[string]interface{}{"size": 42}, doc["metadata"])
}
