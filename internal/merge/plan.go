package merge

import (
	"sort"

	"github.com/javanhut/brokkr/internal/objects"
)

// Action is what reconciliation does with one path.
type Action uint8

const (
	// TakeForeign adopts the foreign record.
	TakeForeign Action = iota + 1
	// DeleteLocal removes a path the foreign side deleted.
	DeleteLocal
	// ContentMerge2 merges contents added on both sides without a base.
	ContentMerge2
	// ContentMerge3 merges contents changed on both sides against the base.
	ContentMerge3
	// DeleteModifyConflict is a deletion on one side against a change on
	// the other.
	DeleteModifyConflict
)

func (a Action) String() string {
	switch a {
	case TakeForeign:
		return "take"
	case DeleteLocal:
		return "delete"
	case ContentMerge2:
		return "merge2"
	case ContentMerge3:
		return "merge3"
	case DeleteModifyConflict:
		return "tree-conflict"
	}
	return "unknown"
}

// Conflict classifications reported to users and resolvers.
const (
	DeletedLocallyModifiedRemotely = "deleted locally and modified remotely"
	ModifiedLocallyDeletedRemotely = "modified locally and deleted remotely"
	ChangedOnBothSides             = "changed on both sides"
	AddedOnBothSides               = "added on both sides"
)

// Decision is the reconciliation of one path. Any record may be nil when
// that side does not have the path.
type Decision struct {
	Name           string
	Action         Action
	Local          *objects.Record
	Foreign        *objects.Record
	Parent         *objects.Record
	Classification string
}

// Plan reconciles local and foreign against their common parent set. Paths
// that need no work are left out. Decisions are ordered by name.
func Plan(local, foreign, parent objects.RecordSet) []Decision {
	var out []Decision
	for name, f := range foreign {
		l, p := local[name], parent[name]
		d := Decision{Name: name, Local: l, Foreign: f, Parent: p}
		switch {
		case l == nil && p == nil:
			d.Action = TakeForeign
		case l == nil && p.DataEqual(f):
			continue // deleted locally on purpose
		case l == nil:
			d.Action = DeleteModifyConflict
			d.Classification = DeletedLocallyModifiedRemotely
		case l.DataEqual(f):
			continue
		case p == nil:
			d.Action = ContentMerge2
			d.Classification = AddedOnBothSides
		case l.DataEqual(p):
			d.Action = TakeForeign
		case f.DataEqual(p):
			continue // only changed locally
		default:
			d.Action = ContentMerge3
			d.Classification = ChangedOnBothSides
		}
		out = append(out, d)
	}

	for name, p := range parent {
		if _, ok := foreign[name]; ok {
			continue
		}
		l := local[name]
		switch {
		case l == nil:
			continue
		case l.DataEqual(p):
			out = append(out, Decision{Name: name, Action: DeleteLocal, Local: l, Parent: p})
		default:
			out = append(out, Decision{
				Name:           name,
				Action:         DeleteModifyConflict,
				Local:          l,
				Parent:         p,
				Classification: ModifiedLocallyDeletedRemotely,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
