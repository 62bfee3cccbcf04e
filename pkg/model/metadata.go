package model

import (
	"time"

	"github.com/meridianvfx/avf/pkg/errors"
)

// ErrInvalidMetadata indicates that required metadata fields are missing
var ErrInvalidMetadata = errors.New("invalid asset metadata")

// AssetMetadata is the user-supplied record attached to a stored
// version. It is immutable once a version has been created: backends
// copy it into their own metadata documents and never write back.
type AssetMetadata struct {
	Creator      string                 `json:"creator" yaml:"creator"`
	ToolVersion  string                 `json:"tool_version" yaml:"tool_version"`
	Description  string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Tags         []string               `json:"tags,omitempty" yaml:"tags,omitempty"`
	CustomData   map[string]interface{} `json:"custom_data,omitempty" yaml:"custom_data,omitempty"`
	CreationTime time.Time              `json:"creation_time,omitempty" yaml:"creation_time,omitempty"`
	_            struct{}
}

// NewMetadata builds an AssetMetadata stamped with the current instant.
func NewMetadata(creator, toolVersion string) AssetMetadata {
	return AssetMetadata{
		Creator:      creator,
		ToolVersion:  toolVersion,
		CreationTime: time.Now().UTC(),
	}
}

// Validate checks required fields
func (m AssetMetadata) Validate() error {
	if m.Creator == "" {
		return ErrInvalidMetadata.WrapMessage("creator is required")
	}
	if m.ToolVersion == "" {
		return ErrInvalidMetadata.WrapMessage("tool_version is required")
	}
	return nil
}

// ToMap flattens the metadata into the key/value form used by backend
// sidecar documents. Tag order is preserved.
func (m AssetMetadata) ToMap() map[string]interface{} {
	out := map[string]interface{}{
		"creator":      m.Creator,
		"tool_version": m.ToolVersion,
	}
	if m.Description != "" {
		out["description"] = m.Description
	}
	if len(m.Tags) > 0 {
		tags := make([]interface{}, 0, len(m.Tags))
		for _, tag := range m.Tags {
			tags = append(tags, tag)
		}
		out["tags"] = tags
	}
	if len(m.CustomData) > 0 {
		custom := make(map[string]interface{}, len(m.CustomData))
		for k, v := range m.CustomData {
			custom[k] = v
		}
		out["custom_data"] = custom
	}
	if !m.CreationTime.IsZero() {
		out["creation_time"] = m.CreationTime.UTC().Format(time.RFC3339Nano)
	}
	return out
}

// MetadataFromMap rebuilds an AssetMetadata from a sidecar document.
// Unknown keys are ignored, they belong to the backend.
func MetadataFromMap(doc map[string]interface{}) AssetMetadata {
	var m AssetMetadata
	m.Creator, _ = doc["creator"].(string)
	m.ToolVersion, _ = doc["tool_version"].(string)
	m.Description, _ = doc["description"].(string)
	if raw, ok := doc["tags"].([]interface{}); ok {
		for _, t := range raw {
			if s, ok := t.(string); ok {
				m.Tags = append(m.Tags, s)
			}
		}
	}
	if raw, ok := doc["tags"].([]string); ok {
		m.Tags = append(m.Tags, raw...)
	}
	if custom, ok := doc["custom_data"].(map[string]interface{}); ok {
		m.CustomData = custom
	}
	if ts, ok := doc["creation_time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			m.CreationTime = parsed
		}
	}
	return m
}
