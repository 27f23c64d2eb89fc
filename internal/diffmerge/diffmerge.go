// Package diffmerge implements the diff and merge tools used by the engine.
//
// This package provides:
// - Differences between two record sets (checkout, revert, log output)
// - Line based 2-way and 3-way content merges
// - Pluggable conflict resolution strategies
package diffmerge

import (
	"fmt"

	"github.com/javanhut/brokkr/internal/objects"
)

// ChangeType represents the type of change in a diff.
type ChangeType uint8

const (
	Added ChangeType = iota + 1
	Modified
	Removed
)

func (t ChangeType) String() string {
	switch t {
	case Added:
		return "A"
	case Modified:
		return "M"
	case Removed:
		return "D"
	}
	return "?"
}

// FileChange represents a change to a single path.
type FileChange struct {
	Type ChangeType
	Path string
	Old  *objects.Record // nil for Added
	New  *objects.Record // nil for Removed
}

func (c FileChange) String() string {
	return fmt.Sprintf("%s  %s", c.Type, c.Path)
}

// Diff lists the changes turning old into new, ordered by path. Records are
// compared by data; attribute-only changes count as modifications.
func Diff(old, new objects.RecordSet) []FileChange {
	var changes []FileChange
	for _, name := range old.Names() {
		o := old[name]
		n, ok := new[name]
		switch {
		case !ok:
			changes = append(changes, FileChange{Type: Removed, Path: name, Old: o})
		case !o.DataEqual(n) || o.Attributes != n.Attributes:
			changes = append(changes, FileChange{Type: Modified, Path: name, Old: o, New: n})
		}
	}
	for _, name := range new.Names() {
		if _, ok := old[name]; !ok {
			changes = append(changes, FileChange{Type: Added, Path: name, New: new[name]})
		}
	}
	sortChanges(changes)
	return changes
}

// sortChanges orders removals deepest first so files leave before their
// directories, then additions and modifications shallowest first so
// directories exist before their files.
func sortChanges(changes []FileChange) {
	less := func(a, b FileChange) bool {
		ar, br := a.Type == Removed, b.Type == Removed
		if ar != br {
			return ar
		}
		if ar {
			return a.Path > b.Path
		}
		return a.Path < b.Path
	}
	for i := 1; i < len(changes); i++ {
		for j := i; j > 0 && less(changes[j], changes[j-1]); j-- {
			changes[j], changes[j-1] = changes[j-1], changes[j]
		}
	}
}

// Summary counts changes by type.
func Summary(changes []FileChange) (added, modified, removed int) {
	for _, c := range changes {
		switch c.Type {
		case Added:
			added++
		case Modified:
			modified++
		case Removed:
			removed++
		}
	}
	return
}
