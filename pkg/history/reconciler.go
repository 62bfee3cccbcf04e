// Package history reconciles version history across storage backends.
//
// The reconciler asks every backend for its references and folds them
// into summaries, a merged timeline, and a full report. It never
// writes to any backend.
package history

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/meridianvfx/avf/pkg/model"
	"github.com/meridianvfx/avf/pkg/storage"
)

// timestampKeys is the lookup priority for a best-effort event
// timestamp in reference metadata.
var timestampKeys = []string{"timestamp", "time", "date"}

// ReferenceDetail is the per-reference line of a backend summary
type ReferenceDetail struct {
	StorageID string              `json:"storage_id" yaml:"storage_id"`
	Path      string              `json:"path" yaml:"path"`
	Type      model.ReferenceType `json:"type" yaml:"type"`
	_         struct{}
}

// Summary aggregates one backend's references. Cardinality maps
// "unique_<key>" to the number of distinct values observed for that
// metadata key across the backend's references.
type Summary struct {
	VersionCount int               `json:"version_count" yaml:"version_count"`
	References   []ReferenceDetail `json:"references,omitempty" yaml:"references,omitempty"`
	Cardinality  map[string]int    `json:"metadata_cardinality,omitempty" yaml:"metadata_cardinality,omitempty"`
	_            struct{}
}

// Event is one timeline entry. Timestamp holds the raw textual value
// found in the reference metadata; backends emit different formats,
// so events only order lexicographically within one backend's format.
type Event struct {
	Backend   string                 `json:"backend" yaml:"backend"`
	StorageID string                 `json:"storage_id" yaml:"storage_id"`
	Path      string                 `json:"path" yaml:"path"`
	Type      model.ReferenceType    `json:"type" yaml:"type"`
	Timestamp string                 `json:"timestamp" yaml:"timestamp"`
	Action    string                 `json:"action" yaml:"action"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	_         struct{}
}

// ReportMetadata is the header block of a history report
type ReportMetadata struct {
	StorageSummary    map[string]Summary `json:"storage_summary" yaml:"storage_summary"`
	EarliestTimestamp string             `json:"earliest_timestamp,omitempty" yaml:"earliest_timestamp,omitempty"`
	LatestTimestamp   string             `json:"latest_timestamp,omitempty" yaml:"latest_timestamp,omitempty"`
	TotalReferences   int                `json:"total_references" yaml:"total_references"`
	_                 struct{}
}

// Report is the full history dump for one asset path
type Report struct {
	AssetPath       string                   `json:"asset_path" yaml:"asset_path"`
	Metadata        ReportMetadata           `json:"metadata" yaml:"metadata"`
	Timeline        []Event                  `json:"timeline,omitempty" yaml:"timeline,omitempty"`
	StorageVersions []map[string]interface{} `json:"storage_versions,omitempty" yaml:"storage_versions,omitempty"`
	_               struct{}
}

// Option tunes a Reconciler
type Option func(*Reconciler)

// Logger injects a logging facility
func Logger(l *zap.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.l = l
		}
	}
}

// Backend registers a named storage backend. Registration order
// drives the iteration order of every reconciler operation.
func Backend(name string, b storage.Backend) Option {
	return func(r *Reconciler) {
		if b == nil {
			return
		}
		r.names = append(r.names, name)
		r.backends[name] = b
	}
}

// Reconciler folds per-backend reference listings into history
// reports.
type Reconciler struct {
	names    []string
	backends map[string]storage.Backend
	l        *zap.Logger
}

// New builds a reconciler over the registered backends
func New(opts ...Option) *Reconciler {
	r := &Reconciler{
		backends: make(map[string]storage.Backend),
		l:        zap.NewNop(),
	}
	for _, apply := range opts {
		apply(r)
	}
	return r
}

// CollectReferences gathers references from every backend. A backend
// whose listing fails contributes an empty sequence: one misbehaving
// backend must not block the others.
func (r *Reconciler) CollectReferences(ctx context.Context, pathFilter string) map[string][]model.StorageReference {
	collected := make(map[string][]model.StorageReference, len(r.names))
	for _, name := range r.names {
		refs, err := r.backends[name].ListReferences(ctx, model.ReferenceTypeAny, pathFilter)
		if err != nil {
			r.l.Warn("reference listing failed, treating backend as empty",
				zap.String("backend", name), zap.Error(err))
			collected[name] = []model.StorageReference{}
			continue
		}
		if refs == nil {
			refs = []model.StorageReference{}
		}
		collected[name] = refs
	}
	return collected
}

// BuildSummary computes the per-backend reference summary
func (r *Reconciler) BuildSummary(references map[string][]model.StorageReference) map[string]Summary {
	summaries := make(map[string]Summary, len(references))
	for name, refs := range references {
		summary := Summary{VersionCount: len(refs)}
		distinct := make(map[string]map[string]struct{})
		for _, ref := range refs {
			summary.References = append(summary.References, ReferenceDetail{
				StorageID: ref.StorageID,
				Path:      ref.Path,
				Type:      ref.ReferenceType,
			})
			for key, value := range ref.Metadata {
				if distinct[key] == nil {
					distinct[key] = make(map[string]struct{})
				}
				distinct[key][coerce(value)] = struct{}{}
			}
		}
		if len(distinct) > 0 {
			summary.Cardinality = make(map[string]int, len(distinct))
			for key, values := range distinct {
				summary.Cardinality["unique_"+key] = len(values)
			}
		}
		summaries[name] = summary
	}
	return summaries
}

// ExtractTimeline flattens all references into one event sequence
// sorted by the raw timestamp string. Missing timestamps sort first.
func (r *Reconciler) ExtractTimeline(references map[string][]model.StorageReference) []Event {
	events := make([]Event, 0)
	for _, name := range r.orderedNames(references) {
		for _, ref := range references[name] {
			events = append(events, Event{
				Backend:   name,
				StorageID: ref.StorageID,
				Path:      ref.Path,
				Type:      ref.ReferenceType,
				Timestamp: eventTimestamp(ref.Metadata),
				Action:    eventAction(ref.Metadata),
				Metadata:  ref.Metadata,
			})
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
	return events
}

// DumpHistory composes the full report for one asset path
func (r *Reconciler) DumpHistory(ctx context.Context, path string, includeStorageData, includeTimeline bool) Report {
	references := r.CollectReferences(ctx, path)
	events := r.ExtractTimeline(references)

	report := Report{
		AssetPath: path,
		Metadata: ReportMetadata{
			StorageSummary:  r.BuildSummary(references),
			TotalReferences: len(events),
		},
	}
	if len(events) > 0 {
		earliest, latest := events[0].Timestamp, events[0].Timestamp
		for _, event := range events[1:] {
			if event.Timestamp < earliest {
				earliest = event.Timestamp
			}
			if event.Timestamp > latest {
				latest = event.Timestamp
			}
		}
		report.Metadata.EarliestTimestamp = earliest
		report.Metadata.LatestTimestamp = latest
	}
	if includeTimeline {
		report.Timeline = events
	}
	if includeStorageData {
		report.StorageVersions = r.describeAll(ctx, references)
	}
	return report
}

// describeAll resolves full storage metadata for every collected
// reference. A single failing describe drops that entry only.
func (r *Reconciler) describeAll(ctx context.Context, references map[string][]model.StorageReference) []map[string]interface{} {
	versions := make([]map[string]interface{}, 0)
	for _, name := range r.orderedNames(references) {
		backend := r.backends[name]
		for _, ref := range references[name] {
			if backend == nil {
				continue
			}
			doc, err := backend.Describe(ctx, ref.StorageID)
			if err != nil {
				r.l.Warn("describe failed, skipping entry",
					zap.String("backend", name),
					zap.String("storage_id", ref.StorageID), zap.Error(err))
				continue
			}
			versions = append(versions, map[string]interface{}{
				"backend":    name,
				"storage_id": ref.StorageID,
				"path":       ref.Path,
				"metadata":   doc,
			})
		}
	}
	return versions
}

// orderedNames walks registered backends first, then any extra map
// keys sorted, so callers feeding hand-built reference maps still get
// deterministic output.
func (r *Reconciler) orderedNames(references map[string][]model.StorageReference) []string {
	names := make([]string, 0, len(references))
	seen := make(map[string]bool, len(references))
	for _, name := range r.names {
		if _, ok := references[name]; ok {
			names = append(names, name)
			seen[name] = true
		}
	}
	extras := make([]string, 0)
	for name := range references {
		if !seen[name] {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	return append(names, extras...)
}

// eventTimestamp picks the first present timestamp-ish metadata value
// and coerces it to a string at ingestion. Values from different
// backends stay in their native textual formats.
func eventTimestamp(metadata map[string]interface{}) string {
	for _, key := range timestampKeys {
		if value, ok := metadata[key]; ok && value != nil {
			return coerce(value)
		}
	}
	return ""
}

func eventAction(metadata map[string]interface{}) string {
	if value, ok := metadata["action"]; ok && value != nil {
		if s := coerce(value); s != "" {
			return s
		}
	}
	return "unknown"
}

func coerce(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}
