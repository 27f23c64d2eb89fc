package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javanhut/brokkr/internal/objects"
	"github.com/javanhut/brokkr/internal/status"
)

func TestSetQueries(t *testing.T) {
	foreign := objects.NewVersionID()
	merged := &objects.Record{CanonicalName: "m.txt", Fingerprint: "abc", Size: 3}
	s := New([]*objects.StageOp{
		Add("b.txt"),
		Remove("gone.txt"),
		Merge(foreign),
		MergeRecord("m.txt", merged),
		Conflict("c.txt", "changed on both sides", nil),
		Add("gone.txt"), // replaces the removal
	})

	assert.Equal(t, 5, s.Len())
	ops := s.Ops()
	require.Len(t, ops, 5)
	assert.Equal(t, objects.StageMerge, ops[0].Kind, "merge entries sort first")

	assert.True(t, s.HasConflicts())
	require.Len(t, s.Conflicts(), 1)
	assert.Equal(t, "c.txt", s.Conflicts()[0].Name)

	assert.True(t, s.InMerge())
	assert.Equal(t, []objects.VersionID{foreign}, s.MergeVersions())
	assert.Same(t, merged, s.MergeRecord("m.txt"))
	assert.Nil(t, s.MergeRecord("b.txt"))

	assert.False(t, s.Removed("gone.txt"))
	assert.Equal(t, objects.StageAdd, s.Lookup("gone.txt").Kind)

	s.Delete("c.txt")
	assert.False(t, s.HasConflicts())
}

func TestEmptySet(t *testing.T) {
	s := New(nil)
	assert.Zero(t, s.Len())
	assert.False(t, s.InMerge())
	assert.False(t, s.HasConflicts())
	assert.Nil(t, s.Lookup("x"))
}

func TestMatcher(t *testing.T) {
	assert.True(t, Matcher(nil).Match("anything"))

	m := Matcher{"src", "./docs/readme.md", "lib/"}
	assert.True(t, m.Match("src/"))
	assert.True(t, m.Match("src/main.go"))
	assert.True(t, m.Match("docs/readme.md"))
	assert.True(t, m.Match("lib/a/b.go"))
	assert.False(t, m.Match("srcfile.go"))
	assert.False(t, m.Match("docs/other.md"))

	assert.True(t, Matcher{"."}.Match("top.txt"))
}

func TestGather(t *testing.T) {
	st := &status.Status{Entries: []*status.Entry{
		{Code: status.Unversioned, Name: "new.txt"},
		{Code: status.Missing, Name: "lost.txt"},
		{Code: status.Renamed, Name: "to.txt", Source: &objects.Record{CanonicalName: "from.txt"}},
		{Code: status.Modified, Name: "edit.txt"},
		{Code: status.Unversioned, Name: "other/x.txt"},
		{Code: status.Added, Name: "already.txt", Staged: true},
	}}

	ops := Gather(st, Matcher{"new.txt", "lost.txt", "to.txt", "edit.txt", "already.txt"})
	require.Len(t, ops, 3)
	assert.Equal(t, Add("new.txt"), ops[0])
	assert.Equal(t, Remove("lost.txt"), ops[1])
	assert.Equal(t, Rename("from.txt", "to.txt"), ops[2])

	assert.Len(t, Gather(st, nil), 4)
}

func TestUnstage(t *testing.T) {
	s := New([]*objects.StageOp{
		Add("a.txt"),
		Remove("dir/b.txt"),
		Conflict("dir/c.txt", "x", nil),
		Merge(objects.NewVersionID()),
	})
	assert.Equal(t, []string{"a.txt", "dir/b.txt"}, Unstage(s, nil))
	assert.Equal(t, []string{"dir/b.txt"}, Unstage(s, Matcher{"dir"}))
}
