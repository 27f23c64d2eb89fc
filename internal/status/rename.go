package status

import (
	"github.com/javanhut/brokkr/internal/objects"
)

// isRenameCandidate reports whether rec may be the source of a detected
// rename. Directories are matched by name and empty files carry no
// identifying content, so both are left out.
func isRenameCandidate(rec *objects.Record) bool {
	return !rec.IsDir() && !rec.IsSymlink() && rec.Size > 0
}

// detectRenames pairs unversioned files with versioned records of identical
// size and fingerprint.
//
// Explicitly staged renames are honoured first, whatever the content. The
// remaining unversioned files are then visited in name order and each takes
// the first unclaimed missing record with the same data, by name, becoming
// Renamed. A file whose data matches only claimed or still present records
// becomes Copied. Missing entries claimed by a rename are dropped from the
// result since the rename entry carries them as Source.
func detectRenames(entries, fresh []*Entry, staged map[string]*objects.StageOp) []*Entry {
	missing := make(map[string]*Entry)
	byData := make(map[string][]*Entry)
	for _, ent := range entries {
		if ent.Record == nil {
			continue
		}
		switch ent.Code {
		case Missing:
			missing[ent.Name] = ent
		case Unchanged:
		default:
			continue
		}
		if isRenameCandidate(ent.Record) {
			key := ent.Record.DataID()
			byData[key] = append(byData[key], ent)
		}
	}
	if len(missing) == 0 {
		return entries
	}

	claimed := make(map[string]bool)
	for _, ent := range fresh {
		op := staged[ent.Name]
		if op == nil || op.Kind != objects.StageRename {
			continue
		}
		if src, ok := missing[op.Source]; ok && !claimed[op.Source] {
			claimed[op.Source] = true
			ent.Code = Renamed
			ent.Source = src.Record
		}
	}

	for _, ent := range fresh {
		if ent.Code != Unversioned || ent.Fingerprint == "" {
			continue
		}
		want := objects.Record{Size: ent.File.Size, Fingerprint: ent.Fingerprint}
		candidates := byData[want.DataID()]
		if len(candidates) == 0 {
			continue
		}
		// candidates are in name order since entries were built that way.
		var pick *Entry
		for _, c := range candidates {
			if c.Code == Missing && !claimed[c.Name] {
				pick = c
				break
			}
		}
		if pick != nil {
			claimed[pick.Name] = true
			ent.Code = Renamed
			ent.Source = pick.Record
			continue
		}
		ent.Code = Copied
		ent.Source = candidates[0].Record
	}

	if len(claimed) == 0 {
		return entries
	}
	out := entries[:0]
	for _, ent := range entries {
		if ent.Record != nil && ent.Code == Missing && claimed[ent.Name] {
			continue
		}
		out = append(out, ent)
	}
	return out
}
