package status

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javanhut/brokkr/internal/cas"
	"github.com/javanhut/brokkr/internal/metrics"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/javanhut/brokkr/internal/store"
	"github.com/javanhut/brokkr/internal/wsindex"
)

type countingHasher struct {
	calls atomic.Int32
}

func (h *countingHasher) ComputeFingerprint(path string) (string, error) {
	h.calls.Add(1)
	hash, _, err := cas.SumFile(path)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

type fixture struct {
	t       *testing.T
	root    string
	records objects.RecordSet
	stage   []*objects.StageOp
	cache   map[string]*store.TimeEntry
	hasher  *countingHasher
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	return &fixture{
		t:       t,
		root:    t.TempDir(),
		records: objects.RecordSet{},
		hasher:  &countingHasher{},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
}

func (f *fixture) write(name, content string) {
	p := filepath.Join(f.root, filepath.FromSlash(name))
	require.NoError(f.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(f.t, os.WriteFile(p, []byte(content), 0o644))
}

// version records name as committed with content.
func (f *fixture) version(name, content string) *objects.Record {
	r := &objects.Record{
		ID:            objects.RecordID(len(f.records) + 1),
		CanonicalName: name,
		Fingerprint:   cas.SumB3([]byte(content)).String(),
		Size:          int64(len(content)),
	}
	if r.IsDir() {
		r.Fingerprint = name
		r.Size = 0
	}
	f.records[name] = r
	return r
}

func (f *fixture) tracked(name, content string) {
	f.version(name, content)
	f.write(name, content)
}

func (f *fixture) compute() *Status {
	f.t.Helper()
	logger, _ := test.NewNullLogger()
	ix, err := wsindex.NewScanner(f.root, ".brokkr", nil, 2, logger).Scan(context.Background())
	require.NoError(f.t, err)
	eng := New(f.root, f.hasher, 2, logger, f.metrics)
	st, err := eng.ComputeStatus(context.Background(), &Input{
		Records: f.records,
		Tree:    ix,
		Stage:   f.stage,
		Cache:   f.cache,
	})
	require.NoError(f.t, err)
	return st
}

func codes(st *Status) map[string]Code {
	out := make(map[string]Code)
	for _, e := range st.Entries {
		out[e.Name] = e.Code
	}
	return out
}

func TestComputeStatusClassification(t *testing.T) {
	f := newFixture(t)
	f.tracked("same.txt", "unchanged content")
	f.tracked("sized.txt", "short")
	f.write("sized.txt", "now much longer")
	f.tracked("edited.txt", "aaaa")
	f.write("edited.txt", "bbbb")
	f.version("gone.txt", "gone")
	f.version("removed.txt", "removed")
	f.version("dir/", "")
	f.tracked("dir/inner.txt", "inner")
	f.write("new.txt", "brand new")
	f.stage = []*objects.StageOp{{Kind: objects.StageRemove, Name: "removed.txt"}}

	st := f.compute()
	assert.Equal(t, map[string]Code{
		"dir/":          Unchanged,
		"dir/inner.txt": Unchanged,
		"edited.txt":    Modified,
		"gone.txt":      Missing,
		"new.txt":       Unversioned,
		"removed.txt":   Deleted,
		"same.txt":      Unchanged,
		"sized.txt":     Modified,
	}, codes(st))
	assert.True(t, st.Lookup("removed.txt").Staged)
	assert.False(t, st.Clean())
	assert.Len(t, st.Changes(), 4)

	// same.txt, edited.txt and dir/inner.txt need hashing; sized.txt is
	// decided by size and new.txt has no missing record of its size.
	assert.Equal(t, int32(3), f.hasher.calls.Load())
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.FilesHashed))

	for i := 1; i < len(st.Entries); i++ {
		assert.Less(t, st.Entries[i-1].Name, st.Entries[i].Name)
	}
}

func TestComputeStatusTimeCache(t *testing.T) {
	f := newFixture(t)
	f.tracked("a.txt", "alpha")
	f.tracked("b.txt", "bravo")

	st := f.compute()
	assert.True(t, st.Clean())
	require.Len(t, st.Refresh, 2)
	assert.Equal(t, int32(2), f.hasher.calls.Load())

	f.cache = st.Refresh
	st = f.compute()
	assert.True(t, st.Clean())
	assert.Equal(t, int32(2), f.hasher.calls.Load(), "cached files are not rehashed")
	assert.Empty(t, st.Refresh)

	// A cache entry for other content does not vouch for the file.
	f.cache["a.txt"].Fingerprint = "stale"
	f.compute()
	assert.Equal(t, int32(3), f.hasher.calls.Load())
}

func TestComputeStatusRename(t *testing.T) {
	f := newFixture(t)
	f.version("a.txt", "same content")
	f.write("b.txt", "same content")

	st := f.compute()
	require.Len(t, st.Entries, 1)
	e := st.Entries[0]
	assert.Equal(t, Renamed, e.Code)
	assert.Equal(t, "b.txt", e.Name)
	require.NotNil(t, e.Source)
	assert.Equal(t, "a.txt", e.Source.CanonicalName)
	assert.Equal(t, "R a.txt -> b.txt", e.String())
}

func TestComputeStatusRenameAndCopies(t *testing.T) {
	f := newFixture(t)
	f.version("orig.txt", "shared")
	f.write("copy1.txt", "shared")
	f.write("copy2.txt", "shared")
	f.write("copy3.txt", "shared")

	st := f.compute()
	assert.Equal(t, 1, st.Count(Renamed))
	assert.Equal(t, 2, st.Count(Copied))
	assert.Equal(t, Renamed, st.Lookup("copy1.txt").Code)
	assert.Nil(t, st.Lookup("orig.txt"))
	for _, e := range st.Entries {
		require.NotNil(t, e.Source)
		assert.Equal(t, "orig.txt", e.Source.CanonicalName)
	}
}

func TestComputeStatusCopyOfPresentFile(t *testing.T) {
	f := newFixture(t)
	f.tracked("kept.txt", "payload")
	f.version("moved.txt", "payload")
	f.write("x.txt", "payload")
	f.write("y.txt", "payload")

	st := f.compute()
	assert.Equal(t, Unchanged, st.Lookup("kept.txt").Code)
	assert.Equal(t, Renamed, st.Lookup("x.txt").Code)
	assert.Equal(t, "moved.txt", st.Lookup("x.txt").Source.CanonicalName)
	assert.Equal(t, Copied, st.Lookup("y.txt").Code)
	assert.Equal(t, "kept.txt", st.Lookup("y.txt").Source.CanonicalName)
}

func TestComputeStatusTwoRenames(t *testing.T) {
	f := newFixture(t)
	f.version("a1.txt", "dup")
	f.version("a2.txt", "dup")
	f.write("b1.txt", "dup")
	f.write("b2.txt", "dup")

	st := f.compute()
	assert.Equal(t, 2, st.Count(Renamed))
	assert.Equal(t, "a1.txt", st.Lookup("b1.txt").Source.CanonicalName)
	assert.Equal(t, "a2.txt", st.Lookup("b2.txt").Source.CanonicalName)
}

func TestComputeStatusEmptyFilesNotRenamed(t *testing.T) {
	f := newFixture(t)
	f.version("empty.txt", "")
	f.write("other.txt", "")

	st := f.compute()
	assert.Equal(t, Missing, st.Lookup("empty.txt").Code)
	assert.Equal(t, Unversioned, st.Lookup("other.txt").Code)
}

func TestComputeStatusStagedRename(t *testing.T) {
	f := newFixture(t)
	f.version("old.txt", "before")
	f.write("new.txt", "after the edit")
	f.stage = []*objects.StageOp{{Kind: objects.StageRename, Name: "new.txt", Source: "old.txt"}}

	st := f.compute()
	e := st.Lookup("new.txt")
	assert.Equal(t, Renamed, e.Code)
	assert.True(t, e.Staged)
	assert.Equal(t, "old.txt", e.Source.CanonicalName)
	assert.Nil(t, st.Lookup("old.txt"))
}

func TestComputeStatusStageOverlay(t *testing.T) {
	f := newFixture(t)
	f.tracked("conflicted.txt", "ours")
	f.write("added.txt", "new file")
	f.stage = []*objects.StageOp{
		{Kind: objects.StageAdd, Name: "added.txt"},
		{Kind: objects.StageConflict, Name: "conflicted.txt", Reason: "changed on both sides"},
		{Kind: objects.StageMerge, Version: objects.NewVersionID()},
	}

	st := f.compute()
	added := st.Lookup("added.txt")
	assert.Equal(t, Added, added.Code)
	assert.True(t, added.Staged)

	c := st.Lookup("conflicted.txt")
	assert.Equal(t, Conflict, c.Code)
	assert.Equal(t, "changed on both sides", c.Reason)
}

func TestComputeStatusStagedRemoveKeptOnDisk(t *testing.T) {
	f := newFixture(t)
	f.tracked("kept.txt", "still here")
	f.tracked("edited.txt", "before")
	f.write("edited.txt", "after the edit")
	f.stage = []*objects.StageOp{
		{Kind: objects.StageRemove, Name: "kept.txt"},
		{Kind: objects.StageRemove, Name: "edited.txt"},
	}

	st := f.compute()
	for _, name := range []string{"kept.txt", "edited.txt"} {
		e := st.Lookup(name)
		assert.Equal(t, Deleted, e.Code, name)
		assert.True(t, e.Staged, name)
		assert.NotNil(t, e.File, name)
	}
	assert.Len(t, st.Changes(), 2)
}

func TestNewWithoutLogger(t *testing.T) {
	f := newFixture(t)
	f.tracked("a.txt", "a")
	ix, err := wsindex.NewScanner(f.root, ".brokkr", nil, 1, nil).Scan(context.Background())
	require.NoError(t, err)

	st, err := New(f.root, f.hasher, 1, nil, nil).ComputeStatus(context.Background(), &Input{Records: f.records, Tree: ix})
	require.NoError(t, err)
	assert.Equal(t, Unchanged, st.Lookup("a.txt").Code)
}

func TestComputeStatusSymlink(t *testing.T) {
	f := newFixture(t)
	f.write("target.txt", "data")
	f.version("target.txt", "data")
	f.records["link"] = &objects.Record{
		ID:            99,
		CanonicalName: "link",
		Fingerprint:   "target.txt",
		Attributes:    objects.AttrSymlink,
	}
	require.NoError(t, os.Symlink("target.txt", filepath.Join(f.root, "link")))
	require.NoError(t, os.Symlink("elsewhere", filepath.Join(f.root, "other")))
	f.records["other"] = &objects.Record{
		ID:            100,
		CanonicalName: "other",
		Fingerprint:   "target.txt",
		Attributes:    objects.AttrSymlink,
	}

	st := f.compute()
	assert.Equal(t, Unchanged, st.Lookup("link").Code)
	assert.Equal(t, Modified, st.Lookup("other").Code)
	assert.Equal(t, "elsewhere", st.Lookup("other").Fingerprint)
}

func TestComputeStatusIgnored(t *testing.T) {
	f := newFixture(t)
	f.write("debug.log", "noise")
	logger, _ := test.NewNullLogger()
	ig, err := wsindex.NewIgnore([]string{"*.log"})
	require.NoError(t, err)
	ix, err := wsindex.NewScanner(f.root, ".brokkr", ig, 1, logger).Scan(context.Background())
	require.NoError(t, err)

	st, err := New(f.root, f.hasher, 1, logger, nil).ComputeStatus(context.Background(), &Input{
		Records: objects.RecordSet{},
		Tree:    ix,
	})
	require.NoError(t, err)
	require.Len(t, st.Entries, 1)
	assert.Equal(t, Ignored, st.Entries[0].Code)
	assert.True(t, st.Clean())
}

func TestCodeStrings(t *testing.T) {
	assert.Equal(t, "renamed", Renamed.String())
	assert.Equal(t, "U", Conflict.Short())
	assert.Equal(t, "code(42)", Code(42).String())
}
