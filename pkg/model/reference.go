package model

// ReferenceType discriminates the kinds of pre-existing content a
// backend can promote into a tracked version.
type ReferenceType string

const (
	// ReferenceTypeFile is a direct file reference
	ReferenceTypeFile ReferenceType = "file"

	// ReferenceTypeCommit is a version-control commit
	ReferenceTypeCommit ReferenceType = "commit"

	// ReferenceTypeChangelist is a submitted changelist
	ReferenceTypeChangelist ReferenceType = "changelist"

	// ReferenceTypeSnapshot is a generic point-in-time reference
	ReferenceTypeSnapshot ReferenceType = "snapshot"

	// ReferenceTypeAny matches every reference type when filtering
	ReferenceTypeAny ReferenceType = ""
)

// StorageReference points at content that already exists in a storage
// backend. Its StorageID is only meaningful within the backend that
// produced it.
type StorageReference struct {
	StorageType   string                 `json:"storage_type" yaml:"storage_type"`
	StorageID     string                 `json:"storage_id" yaml:"storage_id"`
	Path          string                 `json:"path" yaml:"path"`
	ReferenceType ReferenceType          `json:"reference_type" yaml:"reference_type"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	_             struct{}
}

// ToMap renders the reference as the payload stored under the
// "reference" key of reference-derived version sidecars.
func (r StorageReference) ToMap() map[string]interface{} {
	out := map[string]interface{}{
		"storage_type":   r.StorageType,
		"storage_id":     r.StorageID,
		"path":           r.Path,
		"reference_type": string(r.ReferenceType),
	}
	if len(r.Metadata) > 0 {
		out["metadata"] = r.Metadata
	}
	return out
}
