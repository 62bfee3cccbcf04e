package model

import (
	"time"
)

// VersionIdentifier is the tuple returned for one logical version in
// one storage backend. Created once per (backend, version) and never
// mutated afterwards.
type VersionIdentifier struct {
	StorageType string        `json:"storage_type" yaml:"storage_type"`
	StorageID   string        `json:"storage_id" yaml:"storage_id"`
	FilePath    string        `json:"file_path" yaml:"file_path"`
	Timestamp   time.Time     `json:"timestamp" yaml:"timestamp"`
	Metadata    AssetMetadata `json:"metadata" yaml:"metadata"`
	_           struct{}
}

// RepositoryVersion is the canonical record kept by the version
// repository for one logical version across backends.
type RepositoryVersion struct {
	ID          int64                  `json:"id" yaml:"id"`
	FilePath    string                 `json:"file_path" yaml:"file_path"`
	Creator     string                 `json:"creator" yaml:"creator"`
	ToolVersion string                 `json:"tool_version" yaml:"tool_version"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time              `json:"created_at" yaml:"created_at"`
	CustomData  map[string]interface{} `json:"custom_data,omitempty" yaml:"custom_data,omitempty"`
	Tags        []string               `json:"tags,omitempty" yaml:"tags,omitempty"`
	_           struct{}
}

// StorageLocation records that one backend holds a copy of a
// repository version. Only backends whose store succeeded get a row.
type StorageLocation struct {
	VersionID   int64  `json:"version_id" yaml:"version_id"`
	StorageType string `json:"storage_type" yaml:"storage_type"`
	StorageID   string `json:"storage_id" yaml:"storage_id"`
	_           struct{}
}
