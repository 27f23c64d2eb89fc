// Package stage holds the pending operations recorded between commits and
// the queries the commit assembler and merge engine run over them.
package stage

import (
	"path"
	"sort"
	"strings"

	"github.com/javanhut/brokkr/internal/objects"
	"github.com/javanhut/brokkr/internal/status"
)

// Set indexes stage operations by key.
type Set struct {
	ops map[string]*objects.StageOp
}

// New indexes ops. Later operations replace earlier ones with the same key.
func New(ops []*objects.StageOp) *Set {
	s := &Set{ops: make(map[string]*objects.StageOp, len(ops))}
	for _, op := range ops {
		s.Put(op)
	}
	return s
}

// Put records op, replacing any operation with the same key.
func (s *Set) Put(op *objects.StageOp) {
	s.ops[op.StageKey()] = op
}

// Delete drops the operation on name.
func (s *Set) Delete(name string) {
	delete(s.ops, name)
}

// Len returns the number of pending operations.
func (s *Set) Len() int {
	return len(s.ops)
}

// Ops returns the operations ordered by key, merge entries first.
func (s *Set) Ops() []*objects.StageOp {
	keys := make([]string, 0, len(s.ops))
	for k := range s.ops {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*objects.StageOp, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.ops[k])
	}
	return out
}

// Lookup returns the operation on name, or nil.
func (s *Set) Lookup(name string) *objects.StageOp {
	return s.ops[name]
}

func (s *Set) ofKind(kind objects.StageKind) []*objects.StageOp {
	var out []*objects.StageOp
	for _, op := range s.Ops() {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

// Conflicts returns the pending conflicts ordered by name.
func (s *Set) Conflicts() []*objects.StageOp {
	return s.ofKind(objects.StageConflict)
}

// HasConflicts reports whether any conflict is pending.
func (s *Set) HasConflicts() bool {
	for _, op := range s.ops {
		if op.Kind == objects.StageConflict {
			return true
		}
	}
	return false
}

// MergeVersions returns the foreign versions of an in-progress merge.
func (s *Set) MergeVersions() []objects.VersionID {
	var out []objects.VersionID
	for _, op := range s.ofKind(objects.StageMerge) {
		out = append(out, op.Version)
	}
	return out
}

// InMerge reports whether a merge is waiting to be committed.
func (s *Set) InMerge() bool {
	return len(s.MergeVersions()) > 0
}

// MergeRecord returns the record a merge produced for name, or nil.
func (s *Set) MergeRecord(name string) *objects.Record {
	if op := s.ops[name]; op != nil && op.Kind == objects.StageMergeRecord {
		return op.Record
	}
	return nil
}

// Removed reports whether name is staged for removal.
func (s *Set) Removed(name string) bool {
	op := s.ops[name]
	return op != nil && op.Kind == objects.StageRemove
}

// Add stages an unversioned path.
func Add(name string) *objects.StageOp {
	return &objects.StageOp{Kind: objects.StageAdd, Name: name}
}

// Remove stages the removal of a versioned path.
func Remove(name string) *objects.StageOp {
	return &objects.StageOp{Kind: objects.StageRemove, Name: name}
}

// Rename stages from as renamed to name.
func Rename(from, name string) *objects.StageOp {
	return &objects.StageOp{Kind: objects.StageRename, Name: name, Source: from}
}

// Conflict records an unresolved conflict on name. rec is the record to
// restore when the conflict is resolved in favour of the recorded side.
func Conflict(name, reason string, rec *objects.Record) *objects.StageOp {
	return &objects.StageOp{Kind: objects.StageConflict, Name: name, Reason: reason, Record: rec}
}

// Merge records foreign as an additional parent of the next commit.
func Merge(foreign objects.VersionID) *objects.StageOp {
	return &objects.StageOp{Kind: objects.StageMerge, Version: foreign}
}

// MergeRecord stores the record a merge wrote for name.
func MergeRecord(name string, rec *objects.Record) *objects.StageOp {
	return &objects.StageOp{Kind: objects.StageMergeRecord, Name: name, Record: rec}
}

// Matcher selects status entries by the paths a user named. An empty
// matcher selects everything. A path selects itself and, when it names a
// directory, everything below it.
type Matcher []string

// Match reports whether name is selected.
func (m Matcher) Match(name string) bool {
	if len(m) == 0 {
		return true
	}
	bare := strings.TrimSuffix(name, "/")
	for _, p := range m {
		p = strings.TrimSuffix(path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))[1:], "/")
		if p == "" || p == bare || strings.HasPrefix(bare, p+"/") {
			return true
		}
	}
	return false
}

// Gather returns the operations staging every selected change: unversioned
// paths become adds, missing paths removals and detected renames explicit
// renames. Entries that are already staged are skipped.
func Gather(st *status.Status, m Matcher) []*objects.StageOp {
	var out []*objects.StageOp
	for _, e := range st.Entries {
		if e.Staged || !m.Match(e.Name) {
			continue
		}
		switch e.Code {
		case status.Unversioned, status.Copied:
			out = append(out, Add(e.Name))
		case status.Missing:
			out = append(out, Remove(e.Name))
		case status.Renamed:
			out = append(out, Rename(e.Source.CanonicalName, e.Name))
		}
	}
	return out
}

// Unstage returns the keys of selected operations that may be dropped.
// Conflicts and merge entries stay: they are cleared by resolving or by
// aborting the merge.
func Unstage(s *Set, m Matcher) []string {
	var out []string
	for _, op := range s.Ops() {
		switch op.Kind {
		case objects.StageConflict, objects.StageMerge, objects.StageMergeRecord:
			continue
		}
		if m.Match(op.Name) {
			out = append(out, op.StageKey())
		}
	}
	return out
}
