// Package tree reconstructs the full record set of any version by replaying
// the alteration chain that separates it from its nearest snapshot.
package tree

import (
	"errors"
	"fmt"
	"sort"

	"github.com/javanhut/brokkr/internal/objects"
)

// ErrReconstructionInconsistency signals an alteration chain that cannot be
// replayed, which means the record store is corrupt.
var ErrReconstructionInconsistency = errors.New("reconstruction inconsistency")

// RelinkMatch says how a dangling removal was repaired.
type RelinkMatch string

const (
	RelinkIdentity RelinkMatch = "identity"
	RelinkData     RelinkMatch = "data"
)

// Stats describes one replay.
type Stats struct {
	Base     int
	Replayed int
	Skipped  int
	Relinks  map[RelinkMatch]int
}

type addKey struct {
	owner string
	name  string
}

// removal is a prior record an alteration wanted gone but that was neither
// in the base nor produced by an older alteration.
type removal struct {
	alt   *objects.Alteration
	prior *objects.Record
}

// Replay applies alterations, given oldest first, on top of base and returns
// the resulting tree state.
//
// Alterations are walked newest first. A record superseded by a newer
// alteration is never inserted, so each name ends up with the most recent
// state. Removals whose prior record cannot be found are collected and
// repaired afterwards by Relink; if that fails the replay fails with
// ErrReconstructionInconsistency.
func Replay(base []*objects.Record, alterations []*objects.Alteration) (objects.RecordSet, *Stats, error) {
	stats := &Stats{Base: len(base), Relinks: make(map[RelinkMatch]int)}

	held := make(map[objects.RecordID]*objects.Record, len(base)+len(alterations))
	for _, r := range base {
		held[r.ID] = r
	}
	fromBase := make(map[objects.RecordID]bool, len(base))
	for id := range held {
		fromBase[id] = true
	}

	superseded := make(map[objects.RecordID]*objects.Alteration)
	consumed := make(map[objects.RecordID]bool)
	added := make(map[addKey]bool)
	var dangling []removal

	remove := func(a *objects.Alteration, prior *objects.Record) {
		if _, dup := superseded[prior.ID]; dup {
			dangling = append(dangling, removal{alt: a, prior: prior})
			return
		}
		superseded[prior.ID] = a
		if fromBase[prior.ID] {
			delete(held, prior.ID)
			consumed[prior.ID] = true
		}
	}

	insert := func(r *objects.Record) {
		if _, gone := superseded[r.ID]; gone {
			consumed[r.ID] = true
			stats.Skipped++
			return
		}
		if _, exists := held[r.ID]; exists {
			return
		}
		held[r.ID] = r
	}

	for i := len(alterations) - 1; i >= 0; i-- {
		a := alterations[i]
		if err := a.Validate(); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrReconstructionInconsistency, err)
		}
		stats.Replayed++

		switch a.Type {
		case objects.AlterationAdd, objects.AlterationCopy:
			key := addKey{owner: a.Owner.String(), name: a.NewRecord.CanonicalName}
			if added[key] {
				if _, gone := superseded[a.NewRecord.ID]; gone {
					consumed[a.NewRecord.ID] = true
				}
				stats.Skipped++
				continue
			}
			added[key] = true
			insert(a.NewRecord)

		case objects.AlterationUpdate, objects.AlterationMove:
			insert(a.NewRecord)
			remove(a, a.PriorRecord)

		case objects.AlterationDelete:
			remove(a, a.PriorRecord)
		}
	}

	// Removals never matched by the base or an older alteration.
	var ids []objects.RecordID
	for id := range superseded {
		if !consumed[id] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return superseded[ids[i]].ID > superseded[ids[j]].ID })
	for _, id := range ids {
		a := superseded[id]
		dangling = append(dangling, removal{alt: a, prior: a.PriorRecord})
	}

	for _, d := range dangling {
		exclude := objects.NoRecord
		if d.alt.NewRecord != nil {
			exclude = d.alt.NewRecord.ID
		}
		target, match := Relink(held, d.prior, exclude)
		if target == nil {
			return nil, nil, fmt.Errorf("%w: %s of %s (record %d) has no relink target",
				ErrReconstructionInconsistency, d.alt.Type, d.prior.CanonicalName, d.prior.ID)
		}
		delete(held, target.ID)
		stats.Relinks[match]++
	}

	set := make(objects.RecordSet, len(held))
	for _, r := range held {
		if other, dup := set[r.CanonicalName]; dup {
			return nil, nil, fmt.Errorf("%w: records %d and %d both claim %s",
				ErrReconstructionInconsistency, other.ID, r.ID, r.CanonicalName)
		}
		set[r.CanonicalName] = r
	}
	return set, stats, nil
}

// Relink finds the record standing in for a prior record that is no longer
// held. It first matches canonical name and unique identifier, then
// canonical name and data identifier. The record with ID exclude is never
// chosen. Ties are broken by the lowest record ID.
func Relink(held map[objects.RecordID]*objects.Record, prior *objects.Record, exclude objects.RecordID) (*objects.Record, RelinkMatch) {
	var byIdentity, byData *objects.Record
	for id, r := range held {
		if id == exclude || r.CanonicalName != prior.CanonicalName {
			continue
		}
		if r.UniqueID == prior.UniqueID && (byIdentity == nil || r.ID < byIdentity.ID) {
			byIdentity = r
		}
		if r.DataID() == prior.DataID() && (byData == nil || r.ID < byData.ID) {
			byData = r
		}
	}
	if byIdentity != nil {
		return byIdentity, RelinkIdentity
	}
	if byData != nil {
		return byData, RelinkData
	}
	return nil, ""
}
