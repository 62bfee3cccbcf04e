package history

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianvfx/avf/pkg/model"
	"github.com/meridianvfx/avf/pkg/storage/status"
)

// fakeBackend serves canned references and describe documents
type fakeBackend struct {
	name    string
	refs    []model.StorageReference
	listErr error
	docs    map[string]map[string]interface{}
	descErr map[string]error
}

func (f *fakeBackend) String() string { return f.name }

func (f *fakeBackend) Store(context.Context, string, model.AssetMetadata) (string, error) {
	return "", status.ErrBackendFailure.WrapMessage("not implemented")
}

func (f *fakeBackend) Retrieve(context.Context, string, string) (string, error) {
	return "", status.ErrBackendFailure.WrapMessage("not implemented")
}

func (f *fakeBackend) Describe(_ context.Context, storageID string) (map[string]interface{}, error) {
	if err := f.descErr[storageID]; err != nil {
		return nil, err
	}
	doc, ok := f.docs[storageID]
	if !ok {
		return nil, status.ErrNotFound.WrapMessage(storageID)
	}
	return doc, nil
}

func (f *fakeBackend) CreateFromReference(context.Context, model.StorageReference, model.AssetMetadata) (string, error) {
	return "", status.ErrUnsupportedReference.WrapMessage("fake")
}

func (f *fakeBackend) ListReferences(_ context.Context, _ model.ReferenceType, pathPattern string) ([]model.StorageReference, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if pathPattern == "" {
		return f.refs, nil
	}
	matched := make([]model.StorageReference, 0)
	for _, ref := range f.refs {
		if strings.Contains(ref.Path, pathPattern) {
			matched = append(matched, ref)
		}
	}
	return matched, nil
}

func diskRefs() []model.StorageReference {
	return []model.StorageReference{
		{
			StorageType:   "disk",
			StorageID:     "aaa_2026-03-14T10:00:00Z",
			Path:          "model.fbx",
			ReferenceType: model.ReferenceTypeFile,
			Metadata:      map[string]interface{}{"timestamp": "2026-03-14T10:00:00Z", "size": int64(1024)},
		},
		{
			StorageType:   "disk",
			StorageID:     "bbb_2026-03-15T10:00:00Z",
			Path:          "model.fbx",
			ReferenceType: model.ReferenceTypeFile,
			Metadata:      map[string]interface{}{"timestamp": "2026-03-15T10:00:00Z", "size": int64(1024)},
		},
	}
}

func gitRefs() []model.StorageReference {
	return []model.StorageReference{
		{
			StorageType:   "git",
			StorageID:     "sha1one",
			Path:          "model.fbx",
			ReferenceType: model.ReferenceTypeCommit,
			Metadata:      map[string]interface{}{"date": "2026-03-13T09:00:00+00:00", "author": "Jane", "action": "commit"},
		},
	}
}

func TestCollectReferencesSwallowsBackendFailure(t *testing.T) {
	disk := &fakeBackend{name: "disk", refs: diskRefs()}
	broken := &fakeBackend{name: "git", listErr: status.ErrBackendFailure.WrapMessage("not a git repository")}
	r := New(Backend("disk", disk), Backend("git", broken))

	collected := r.CollectReferences(context.Background(), "")
	require.Len(t, collected, 2)
	assert.Len(t, collected["disk"], 2)
	assert.Empty(t, collected["git"])
}

func TestCollectReferencesPathFilter(t *testing.T) {
	disk := &fakeBackend{name: "disk", refs: diskRefs()}
	r := New(Backend("disk", disk))

	collected := r.CollectReferences(context.Background(), "nothing-matches")
	require.Len(t, collected, 1)
	assert.Empty(t, collected["disk"])
}

func TestBuildSummary(t *testing.T) {
	r := New()
	references := map[string][]model.StorageReference{
		"disk": diskRefs(),
		"git":  {},
	}

	summaries := r.BuildSummary(references)
	require.Len(t, summaries, 2)

	disk := summaries["disk"]
	assert.Equal(t, 2, disk.VersionCount)
	require.Len(t, disk.References, 2)
	assert.Equal(t, "aaa_2026-03-14T10:00:00Z", disk.References[0].StorageID)
	assert.Equal(t, model.ReferenceTypeFile, disk.References[0].Type)
	// two distinct timestamps, one distinct size
	assert.Equal(t, 2, disk.Cardinality["unique_timestamp"])
	assert.Equal(t, 1, disk.Cardinality["unique_size"])

	git := summaries["git"]
	assert.Equal(t, 0, git.VersionCount)
	assert.Empty(t, git.References)
	assert.Empty(t, git.Cardinality)
}

func TestExtractTimelineOrdering(t *testing.T) {
	r := New()
	references := map[string][]model.StorageReference{
		"disk": diskRefs(),
		"p4": {
			{
				StorageType:   "changelist",
				StorageID:     "12345",
				Path:          "//depot/model.fbx",
				ReferenceType: model.ReferenceTypeChangelist,
				Metadata:      map[string]interface{}{"time": "1773482400", "action": "add"},
			},
			{
				StorageType:   "changelist",
				StorageID:     "12399",
				Path:          "//depot/model.fbx",
				ReferenceType: model.ReferenceTypeChangelist,
				Metadata:      map[string]interface{}{},
			},
		},
	}

	events := r.ExtractTimeline(references)
	require.Len(t, events, 4)

	// missing timestamp sorts first as the empty string
	assert.Equal(t, "", events[0].Timestamp)
	assert.Equal(t, "12399", events[0].StorageID)
	assert.Equal(t, "unknown", events[0].Action)

	// lexicographic on the raw strings: "1773…" sorts before "2026…"
	assert.Equal(t, "1773482400", events[1].Timestamp)
	assert.Equal(t, "add", events[1].Action)
	assert.Equal(t, "2026-03-14T10:00:00Z", events[2].Timestamp)
	assert.Equal(t, "2026-03-15T10:00:00Z", events[3].Timestamp)
}

func TestExtractTimelineKeyPriority(t *testing.T) {
	r := New()
	references := map[string][]model.StorageReference{
		"x": {
			{StorageID: "a", Metadata: map[string]interface{}{"time": "t2", "timestamp": "t1", "date": "t3"}},
			{StorageID: "b", Metadata: map[string]interface{}{"date": "t3", "time": "t2"}},
			{StorageID: "c", Metadata: map[string]interface{}{"date": 20260314}},
		},
	}

	events := r.ExtractTimeline(references)
	byID := map[string]string{}
	for _, event := range events {
		byID[event.StorageID] = event.Timestamp
	}
	assert.Equal(t, "t1", byID["a"])
	assert.Equal(t, "t2", byID["b"])
	assert.Equal(t, "20260314", byID["c"])
}

func TestDumpHistoryEmpty(t *testing.T) {
	disk := &fakeBackend{name: "disk"}
	git := &fakeBackend{name: "git"}
	r := New(Backend("disk", disk), Backend("git", git))

	report := r.DumpHistory(context.Background(), "model.fbx", true, true)
	assert.Equal(t, "model.fbx", report.AssetPath)
	require.Len(t, report.Metadata.StorageSummary, 2)
	assert.Equal(t, 0, report.Metadata.StorageSummary["disk"].VersionCount)
	assert.Equal(t, 0, report.Metadata.StorageSummary["git"].VersionCount)
	assert.Zero(t, report.Metadata.TotalReferences)
	assert.Empty(t, report.Metadata.EarliestTimestamp)
	assert.Empty(t, report.Timeline)
	assert.Empty(t, report.StorageVersions)
}

func TestDumpHistoryFull(t *testing.T) {
	disk := &fakeBackend{
		name: "disk",
		refs: diskRefs(),
		docs: map[string]map[string]interface{}{
			"aaa_2026-03-14T10:00:00Z": {"creator": "jane_doe"},
			"bbb_2026-03-15T10:00:00Z": {"creator": "jane_doe"},
		},
	}
	git := &fakeBackend{
		name:    "git",
		refs:    gitRefs(),
		descErr: map[string]error{"sha1one": status.ErrNotFound.WrapMessage("sha1one")},
	}
	r := New(Backend("disk", disk), Backend("git", git))

	report := r.DumpHistory(context.Background(), "model.fbx", true, true)
	assert.Equal(t, 3, report.Metadata.TotalReferences)
	assert.Equal(t, "2026-03-13T09:00:00+00:00", report.Metadata.EarliestTimestamp)
	assert.Equal(t, "2026-03-15T10:00:00Z", report.Metadata.LatestTimestamp)
	require.Len(t, report.Timeline, 3)

	// the git describe failure drops that entry only
	require.Len(t, report.StorageVersions, 2)
	assert.Equal(t, "disk", report.StorageVersions[0]["backend"])
	assert.Equal(t, "aaa_2026-03-14T10:00:00Z", report.StorageVersions[0]["storage_id"])

	// without the flags the report stays lean
	report = r.DumpHistory(context.Background(), "model.fbx", false, false)
	assert.Empty(t, report.Timeline)
	assert.Empty(t, report.StorageVersions)
	assert.Equal(t, 3, report.Metadata.TotalReferences)
}
