package merge

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javanhut/brokkr/internal/cas"
	"github.com/javanhut/brokkr/internal/diffmerge"
	"github.com/javanhut/brokkr/internal/history"
	"github.com/javanhut/brokkr/internal/metrics"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/javanhut/brokkr/internal/stage"
)

// gone marks a path deleted by a version.
const gone = "\x00deleted"

// repo is an in-memory history: versions, their trees and the blobs behind
// them.
type repo struct {
	t        *testing.T
	versions map[objects.VersionID]*objects.Version
	merges   map[objects.VersionID][]objects.VersionID
	trees    map[objects.VersionID]objects.RecordSet
	content  *cas.Content
	nextID   objects.RecordID
}

func newRepo(t *testing.T) *repo {
	logger, _ := test.NewNullLogger()
	return &repo{
		t:        t,
		versions: make(map[objects.VersionID]*objects.Version),
		merges:   make(map[objects.VersionID][]objects.VersionID),
		trees:    map[objects.VersionID]objects.RecordSet{objects.NoVersion: {}},
		content:  cas.NewContent(cas.NewMemoryCAS(), logger),
	}
}

func (r *repo) Version(id objects.VersionID) (*objects.Version, error) {
	v, ok := r.versions[id]
	if !ok {
		return nil, fmt.Errorf("version %s not found", id)
	}
	return v, nil
}

func (r *repo) MergeSources(id objects.VersionID) ([]objects.VersionID, error) {
	return r.merges[id], nil
}

func (r *repo) Reconstruct(_ context.Context, id objects.VersionID) (objects.RecordSet, error) {
	set, ok := r.trees[id]
	if !ok {
		return nil, fmt.Errorf("no tree for %s", id)
	}
	return set.Clone(), nil
}

// commit records a version on top of parent with the given edits.
func (r *repo) commit(parent objects.VersionID, edits map[string]string, sources ...objects.VersionID) objects.VersionID {
	id := uuid.New()
	r.versions[id] = &objects.Version{ID: id, Parent: parent, Branch: "main"}
	if len(sources) > 0 {
		r.merges[id] = sources
	}
	set := r.trees[parent].Clone()
	for name, data := range edits {
		if data == gone {
			delete(set, name)
			continue
		}
		set[name] = r.record(set[name], name, data)
	}
	r.trees[id] = set
	return id
}

func (r *repo) record(prior *objects.Record, name, data string) *objects.Record {
	h, err := r.content.StoreBytes([]byte(data))
	require.NoError(r.t, err)
	var rec *objects.Record
	if prior != nil {
		rec = prior.Clone()
	} else {
		rec = &objects.Record{CanonicalName: name, UniqueID: uuid.New()}
	}
	r.nextID++
	rec.ID = r.nextID
	rec.Fingerprint = h.String()
	rec.Size = int64(len(data))
	return rec
}

func (r *repo) engine(resolver diffmerge.Resolver, m *metrics.Metrics) *Engine {
	logger, _ := test.NewNullLogger()
	return NewEngine(r, history.NewWalker(r), r.content, resolver, logger, m)
}

func (r *repo) read(rec *objects.Record) string {
	data, err := r.content.Read(context.Background(), rec)
	require.NoError(r.t, err)
	return string(data)
}

func resolveWith(d diffmerge.Decision) diffmerge.Resolver {
	return diffmerge.ResolverFunc(func(context.Context, *diffmerge.Question) (diffmerge.Decision, error) {
		return d, nil
	})
}

func writes(res *Result) map[string]*Write {
	out := make(map[string]*Write)
	for _, w := range res.Writes {
		out[w.Name] = w
	}
	return out
}

func kinds(res *Result) map[string]objects.StageKind {
	out := make(map[string]objects.StageKind)
	for _, op := range res.Ops {
		out[op.StageKey()] = op.Kind
	}
	return out
}

func TestPlan(t *testing.T) {
	r := newRepo(t)
	x := r.record(nil, "f", "x")
	y := r.record(nil, "f", "y")
	z := r.record(nil, "f", "z")

	tests := []struct {
		name                   string
		local, foreign, parent *objects.Record
		want                   Action
		class                  string
	}{
		{"added remotely", nil, x, nil, TakeForeign, ""},
		{"deleted locally", nil, x, x, 0, ""},
		{"deleted locally, changed remotely", nil, y, x, DeleteModifyConflict, DeletedLocallyModifiedRemotely},
		{"same on both sides", y, y, x, 0, ""},
		{"added on both sides", x, y, nil, ContentMerge2, AddedOnBothSides},
		{"changed remotely", x, y, x, TakeForeign, ""},
		{"changed locally", y, x, x, 0, ""},
		{"changed on both sides", y, z, x, ContentMerge3, ChangedOnBothSides},
		{"deleted remotely", x, nil, x, DeleteLocal, ""},
		{"changed locally, deleted remotely", y, nil, x, DeleteModifyConflict, ModifiedLocallyDeletedRemotely},
		{"deleted on both sides", nil, nil, x, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := func(rec *objects.Record) objects.RecordSet {
				if rec == nil {
					return objects.RecordSet{}
				}
				return objects.RecordSet{"f": rec}
			}
			plan := Plan(set(tt.local), set(tt.foreign), set(tt.parent))
			if tt.want == 0 {
				assert.Empty(t, plan)
				return
			}
			require.Len(t, plan, 1)
			assert.Equal(t, tt.want, plan[0].Action)
			assert.Equal(t, tt.class, plan[0].Classification)
		})
	}
}

func TestMergeSameVersion(t *testing.T) {
	r := newRepo(t)
	v := r.commit(objects.NoVersion, map[string]string{"a.txt": "a"})

	res, err := r.engine(nil, nil).Merge(context.Background(), v, v)
	require.NoError(t, err)
	assert.Equal(t, UpToDate, res.Kind)
	assert.Empty(t, res.Ops)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, []State{StateStart, StateCommit}, res.Trace)
}

func TestMergeFastForwardBothDirections(t *testing.T) {
	r := newRepo(t)
	v1 := r.commit(objects.NoVersion, map[string]string{"a.txt": "a", "b.txt": "b"})
	mid := r.commit(v1, map[string]string{"a.txt": "a2"})
	v2 := r.commit(mid, map[string]string{"b.txt": gone, "c.txt": "c"})
	e := r.engine(nil, nil)

	// Merging the ancestor into the tip changes nothing.
	res, err := e.Merge(context.Background(), v2, v1)
	require.NoError(t, err)
	assert.Equal(t, UpToDate, res.Kind)
	assert.True(t, res.Records.Equal(r.trees[v2]))
	assert.Empty(t, res.Ops)
	assert.Empty(t, res.Writes)

	res, err = e.Merge(context.Background(), v1, v2)
	require.NoError(t, err)
	assert.Equal(t, FastForward, res.Kind)
	assert.Contains(t, res.Trace, StateFastForward)
	assert.True(t, res.Records.Equal(r.trees[v2]))
	assert.Empty(t, res.Ops)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, []string{"b.txt"}, res.Removes)
	w := writes(res)
	assert.Len(t, w, 2)
	assert.Equal(t, "a2", r.read(w["a.txt"].Record))
	assert.Equal(t, "c", r.read(w["c.txt"].Record))
}

func TestNewEngineWithoutLogger(t *testing.T) {
	r := newRepo(t)
	base := r.commit(objects.NoVersion, map[string]string{"a.txt": "a", "b.txt": "b"})
	ours := r.commit(base, map[string]string{"a.txt": "ours"})
	theirs := r.commit(base, map[string]string{"b.txt": "theirs"})

	res, err := NewEngine(r, history.NewWalker(r), r.content, nil, nil, nil).Merge(context.Background(), ours, theirs)
	require.NoError(t, err)
	assert.Equal(t, Direct, res.Kind)
	assert.Empty(t, res.Conflicts)
}

func TestMergeDisjointChanges(t *testing.T) {
	r := newRepo(t)
	base := r.commit(objects.NoVersion, map[string]string{"a.txt": "a", "b.txt": "b"})
	ours := r.commit(base, map[string]string{"a.txt": "ours"})
	theirs := r.commit(base, map[string]string{"b.txt": "theirs"})
	m := metrics.New(prometheus.NewRegistry())

	res, err := r.engine(nil, m).Merge(context.Background(), ours, theirs)
	require.NoError(t, err)
	assert.Equal(t, Direct, res.Kind)
	assert.Equal(t, []objects.VersionID{base}, res.Ancestors)
	assert.Equal(t, []State{StateStart, StateDetermineAncestors, StateDirectMerge, StateReconcile, StateCommit}, res.Trace)
	assert.Empty(t, res.Conflicts)

	assert.Equal(t, "ours", r.read(res.Records["a.txt"]))
	assert.Equal(t, "theirs", r.read(res.Records["b.txt"]))
	assert.Equal(t, map[string]objects.StageKind{
		stage.Merge(theirs).StageKey(): objects.StageMerge,
		"b.txt":                        objects.StageMergeRecord,
	}, kinds(res))
	assert.Same(t, r.trees[theirs]["b.txt"], res.Ops[1].Record)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Merges.WithLabelValues("direct")))
}

func TestMergeConflictingChange(t *testing.T) {
	r := newRepo(t)
	base := r.commit(objects.NoVersion, map[string]string{"a": "x\n"})
	ours := r.commit(base, map[string]string{"a": "y\n"})
	theirs := r.commit(base, map[string]string{"a": "z\n"})
	m := metrics.New(prometheus.NewRegistry())

	res, err := r.engine(nil, m).Merge(context.Background(), ours, theirs)
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, Conflict{Path: "a", Kind: diffmerge.ContentMergeFailure, Classification: ChangedOnBothSides}, res.Conflicts[0])
	assert.Equal(t, "a: changed on both sides", res.Conflicts[0].String())

	w := writes(res)
	require.Len(t, w, 4)
	marked := string(w["a"].Data)
	assert.Contains(t, marked, diffmerge.MarkerOurs)
	assert.Contains(t, marked, diffmerge.MarkerTheirs)
	assert.Equal(t, "y\n", string(w["a.mine"].Data))
	assert.Equal(t, "z\n", string(w["a.theirs"].Data))
	assert.Equal(t, "x\n", string(w["a.base"].Data))

	assert.Equal(t, objects.StageConflict, kinds(res)["a"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Conflicts.WithLabelValues("content")))
	assert.Equal(t, r.trees[ours]["a"], res.Records["a"], "conflicted paths keep the local record")
}

func TestMergeCombinesTextChanges(t *testing.T) {
	r := newRepo(t)
	base := r.commit(objects.NoVersion, map[string]string{"a": "1\n2\n3\n4\n5\n"})
	ours := r.commit(base, map[string]string{"a": "one\n2\n3\n4\n5\n"})
	theirs := r.commit(base, map[string]string{"a": "1\n2\n3\n4\nfive\n"})

	res, err := r.engine(nil, nil).Merge(context.Background(), ours, theirs)
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)

	rec := res.Records["a"]
	assert.Equal(t, "one\n2\n3\n4\nfive\n", r.read(rec))
	assert.Equal(t, objects.NoRecord, rec.ID)
	assert.Equal(t, r.trees[ours]["a"].ID, rec.Parent)
	assert.Equal(t, r.trees[ours]["a"].UniqueID, rec.UniqueID)

	w := writes(res)["a"]
	require.NotNil(t, w)
	assert.Equal(t, "one\n2\n3\n4\nfive\n", string(w.Data))
	assert.Same(t, rec, w.Record)
	assert.Equal(t, objects.StageMergeRecord, kinds(res)["a"])
}

func TestMergeAddedOnBothSides(t *testing.T) {
	r := newRepo(t)
	base := r.commit(objects.NoVersion, map[string]string{"keep": "k"})
	ours := r.commit(base, map[string]string{"new": "a\n"})
	theirs := r.commit(base, map[string]string{"new": "a\nb\n"})

	res, err := r.engine(nil, nil).Merge(context.Background(), ours, theirs)
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, "a\nb\n", r.read(res.Records["new"]))
}

func TestMergeDeletions(t *testing.T) {
	r := newRepo(t)
	base := r.commit(objects.NoVersion, map[string]string{"dir/": "dir/", "dir/gone": "g", "mine": "m"})
	ours := r.commit(base, map[string]string{"mine": gone})
	theirs := r.commit(base, map[string]string{"dir/gone": gone, "dir/": gone})

	res, err := r.engine(nil, nil).Merge(context.Background(), ours, theirs)
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)
	assert.Equal(t, []string{"dir/gone", "dir/"}, res.Removes)
	assert.Empty(t, res.Records)
	ops := kinds(res)
	assert.Equal(t, objects.StageRemove, ops["dir/gone"])
	assert.NotContains(t, ops, "mine", "a path deleted locally stays deleted")
}

func TestMergeTreeConflicts(t *testing.T) {
	newHistory := func(t *testing.T) (*repo, objects.VersionID, objects.VersionID) {
		r := newRepo(t)
		base := r.commit(objects.NoVersion, map[string]string{"ldel": "1", "rdel": "2"})
		ours := r.commit(base, map[string]string{"ldel": gone, "rdel": "2 changed"})
		theirs := r.commit(base, map[string]string{"ldel": "1 changed", "rdel": gone})
		return r, ours, theirs
	}

	t.Run("raised", func(t *testing.T) {
		r, ours, theirs := newHistory(t)
		m := metrics.New(prometheus.NewRegistry())
		res, err := r.engine(nil, m).Merge(context.Background(), ours, theirs)
		require.NoError(t, err)
		assert.ElementsMatch(t, []Conflict{
			{Path: "ldel", Kind: diffmerge.TreeConflict, Classification: DeletedLocallyModifiedRemotely},
			{Path: "rdel", Kind: diffmerge.TreeConflict, Classification: ModifiedLocallyDeletedRemotely},
		}, res.Conflicts)
		assert.Equal(t, 2.0, testutil.ToFloat64(m.Conflicts.WithLabelValues("tree")))

		w := writes(res)
		require.Contains(t, w, "ldel", "the remotely changed file is restored")
		assert.Equal(t, "1 changed", r.read(w["ldel"].Record))
		assert.NotContains(t, w, "rdel")
		assert.Empty(t, res.Removes)
	})

	t.Run("theirs", func(t *testing.T) {
		r, ours, theirs := newHistory(t)
		res, err := r.engine(resolveWith(diffmerge.KeepTheirs), nil).Merge(context.Background(), ours, theirs)
		require.NoError(t, err)
		assert.Empty(t, res.Conflicts)
		ops := kinds(res)
		assert.Equal(t, objects.StageMergeRecord, ops["ldel"])
		assert.Equal(t, objects.StageRemove, ops["rdel"])
		assert.Equal(t, []string{"ldel"}, res.Records.Names())
	})

	t.Run("ours", func(t *testing.T) {
		r, ours, theirs := newHistory(t)
		res, err := r.engine(resolveWith(diffmerge.KeepOurs), nil).Merge(context.Background(), ours, theirs)
		require.NoError(t, err)
		assert.Empty(t, res.Conflicts)
		assert.Empty(t, res.Writes)
		assert.Len(t, res.Ops, 1, "only the merge entry")
		assert.True(t, res.Records.Equal(r.trees[ours]))
	})
}

func TestMergeResolverTakesTheirs(t *testing.T) {
	r := newRepo(t)
	base := r.commit(objects.NoVersion, map[string]string{"a": "x\n"})
	ours := r.commit(base, map[string]string{"a": "y\n"})
	theirs := r.commit(base, map[string]string{"a": "z\n"})

	var asked *diffmerge.Question
	resolver := diffmerge.ResolverFunc(func(_ context.Context, q *diffmerge.Question) (diffmerge.Decision, error) {
		asked = q
		return diffmerge.KeepTheirs, nil
	})
	res, err := r.engine(resolver, nil).Merge(context.Background(), ours, theirs)
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)
	require.NotNil(t, asked)
	assert.Equal(t, "a", asked.Path)
	assert.Equal(t, diffmerge.ContentMergeFailure, asked.Kind)
	assert.Same(t, r.trees[base]["a"], asked.Base)

	assert.Same(t, r.trees[theirs]["a"], res.Records["a"])
	assert.Equal(t, objects.StageMergeRecord, kinds(res)["a"])
}

func TestMergeBinaryConflict(t *testing.T) {
	r := newRepo(t)
	base := r.commit(objects.NoVersion, map[string]string{"img": "\x00base"})
	ours := r.commit(base, map[string]string{"img": "\x00ours"})
	theirs := r.commit(base, map[string]string{"img": "\x00theirs"})

	res, err := r.engine(nil, nil).Merge(context.Background(), ours, theirs)
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	w := writes(res)
	assert.NotContains(t, w, "img", "binary content is left alone")
	assert.Equal(t, "\x00theirs", string(w["img.theirs"].Data))
}

func TestMergeUnrelatedHistories(t *testing.T) {
	r := newRepo(t)
	a := r.commit(objects.NoVersion, map[string]string{"a": "a"})
	b := r.commit(objects.NoVersion, map[string]string{"b": "b"})

	res, err := r.engine(nil, nil).Merge(context.Background(), a, b)
	assert.ErrorIs(t, err, history.ErrNoCommonParent)
	assert.Equal(t, StateAbort, res.Trace[len(res.Trace)-1])
}

func TestMergeOctopusRejected(t *testing.T) {
	r := newRepo(t)
	root := r.commit(objects.NoVersion, map[string]string{"a": "a"})
	x := r.commit(root, map[string]string{"x": "x"})
	y := r.commit(root, map[string]string{"y": "y"})
	z := r.commit(root, map[string]string{"z": "z"})
	left := r.commit(x, nil, y, z)
	right := r.commit(y, nil, x, z)

	_, err := r.engine(nil, nil).Merge(context.Background(), left, right)
	assert.ErrorIs(t, err, history.ErrUnsupportedOctopusMerge)
}

// crissCross builds two tips with two independent common ancestors a1 and
// b1 that both edit a.txt.
func crissCross(r *repo) (root, a1, b1 objects.VersionID) {
	root = r.commit(objects.NoVersion, map[string]string{"a.txt": "1\n2\n3\n4\n5\n", "b.txt": "b\n"})
	a1 = r.commit(root, map[string]string{"a.txt": "one\n2\n3\n4\n5\n"})
	b1 = r.commit(root, map[string]string{"a.txt": "1\n2\n3\n4\nfive\n"})
	return root, a1, b1
}

func TestVirtualBaseStaysInMemory(t *testing.T) {
	r := newRepo(t)
	_, a1, b1 := crissCross(r)

	base, err := r.engine(nil, nil).VirtualBase(context.Background(), a1, b1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, base.Names())
	assert.Equal(t, cas.SumB3([]byte("one\n2\n3\n4\nfive\n")).String(), base["a.txt"].Fingerprint)

	ok, err := r.content.HasData(base["a.txt"])
	require.NoError(t, err)
	assert.False(t, ok, "virtual base content is not written to the store")
}

func TestMergeRecursive(t *testing.T) {
	r := newRepo(t)
	_, a1, b1 := crissCross(r)
	merged := "one\n2\n3\n4\nfive\n"
	a2 := r.commit(a1, map[string]string{"a.txt": merged}, b1)
	b2 := r.commit(b1, map[string]string{"a.txt": merged}, a1)
	ours := r.commit(a2, map[string]string{"a.txt": "one\n2\nthree\n4\nfive\n", "c.txt": "c\n"})
	theirs := r.commit(b2, map[string]string{"a.txt": merged + "six\n", "b.txt": "b3\n"})
	m := metrics.New(prometheus.NewRegistry())
	e := r.engine(nil, m)

	res, err := e.Merge(context.Background(), ours, theirs)
	require.NoError(t, err)
	assert.Equal(t, Recursive, res.Kind)
	assert.ElementsMatch(t, []objects.VersionID{a1, b1}, res.Ancestors)
	assert.Contains(t, res.Trace, StateRecursiveMerge)
	assert.Empty(t, res.Conflicts)

	virtual, err := e.VirtualBase(context.Background(), res.Ancestors[0], res.Ancestors[1])
	require.NoError(t, err)
	assert.True(t, res.Base.Equal(virtual))

	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, res.Records.Names())
	assert.Equal(t, "one\n2\nthree\n4\nfive\nsix\n", r.read(res.Records["a.txt"]))
	assert.Equal(t, "b3\n", r.read(res.Records["b.txt"]))
	assert.Equal(t, "c\n", r.read(res.Records["c.txt"]))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Merges.WithLabelValues("recursive")))
}

func TestMergeRecursiveConflictKeepsFirstAncestor(t *testing.T) {
	r := newRepo(t)
	root := r.commit(objects.NoVersion, map[string]string{"f": "x\n"})
	a1 := r.commit(root, map[string]string{"f": "y\n"})
	b1 := r.commit(root, map[string]string{"f": "z\n"})

	base, err := r.engine(nil, nil).VirtualBase(context.Background(), a1, b1)
	require.NoError(t, err)
	assert.Same(t, r.trees[a1]["f"], base["f"])
	assert.False(t, strings.Contains(r.read(base["f"]), diffmerge.MarkerOurs))
}
