package workspace

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/javanhut/brokkr/internal/diffmerge"
	"github.com/javanhut/brokkr/internal/history"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/javanhut/brokkr/internal/stage"
	"github.com/javanhut/brokkr/internal/status"
	"github.com/javanhut/brokkr/internal/store"
)

// Travel switches the working copy to rev, a branch name or a version. The
// working copy must be clean. Travelling to a version that is not a branch
// tip leaves the working copy on that version's branch, where committing
// is refused until it is back at the head.
func (w *Workspace) Travel(ctx context.Context, rev string) (changes []diffmerge.FileChange, err error) {
	err = w.DB.Exclusive(func() error {
		branch, id, err := w.ResolveRevision(rev)
		if err != nil {
			return err
		}
		if err := w.requireClean(ctx); err != nil {
			return err
		}
		if branch == "" {
			v, err := w.DB.Version(id)
			if err != nil {
				return err
			}
			branch = v.Branch
		}
		from, err := w.Base(ctx)
		if err != nil {
			return err
		}
		to, err := w.Tree.Reconstruct(ctx, id)
		if err != nil {
			return err
		}

		changes = diffmerge.Diff(from, to)
		if err := w.materializer.ApplyChanges(ctx, changes); err != nil {
			return fmt.Errorf("failed to apply changes to workspace: %w", err)
		}
		if err := w.DB.Update(func(tx *store.Tx) error { return tx.SetCurrent(branch, id) }); err != nil {
			return err
		}
		added, modified, removed := diffmerge.Summary(changes)
		w.Logger.WithFields(logrus.Fields{
			"action":   "travel",
			"branch":   branch,
			"version":  objects.ShortID(id),
			"added":    added,
			"modified": modified,
			"removed":  removed,
		}).Info("switched working copy")
		return nil
	})
	return changes, err
}

// Revert puts the selected paths back to the working copy's version and
// drops their pending stage entries. Unversioned files are left alone;
// renamed and copied files keep their new copy while the original is
// restored.
func (w *Workspace) Revert(ctx context.Context, paths []string) (reverted []string, err error) {
	err = w.DB.Exclusive(func() error {
		st, err := w.status(ctx)
		if err != nil {
			return err
		}
		staged, err := w.Stage()
		if err != nil {
			return err
		}
		m := stage.Matcher(paths)

		restore := make(map[string]*objects.Record)
		for _, e := range st.Entries {
			if !m.Match(e.Name) {
				continue
			}
			switch e.Code {
			case status.Modified, status.Missing, status.Deleted:
				restore[e.Name] = e.Record
			case status.Conflict:
				if e.Record != nil {
					restore[e.Name] = e.Record
				}
				w.materializer.RemoveSideFiles(e.Name)
			case status.Renamed:
				restore[e.Source.CanonicalName] = e.Source
			}
		}

		names := make([]string, 0, len(restore))
		for name := range restore {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := w.materializer.Restore(ctx, name, restore[name]); err != nil {
				return err
			}
		}

		var keys []string
		for _, op := range staged.Ops() {
			if op.Kind != objects.StageMerge && m.Match(op.Name) {
				keys = append(keys, op.StageKey())
			}
		}
		err = w.DB.Update(func(tx *store.Tx) error {
			for _, k := range keys {
				if err := tx.DeleteStage(k); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		seen := make(map[string]bool)
		for _, name := range append(names, keys...) {
			if !seen[name] {
				seen[name] = true
				reverted = append(reverted, name)
			}
		}
		sort.Strings(reverted)
		return nil
	})
	return reverted, err
}

// Branches lists branches with their tips.
func (w *Workspace) Branches() (map[string][]objects.VersionID, error) {
	out := make(map[string][]objects.VersionID)
	err := w.DB.View(func(tx *store.Tx) error {
		names, err := tx.Branches()
		if err != nil {
			return err
		}
		for _, name := range names {
			if out[name], err = tx.Heads(name); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

// CreateBranch starts a branch at the working copy's version.
func (w *Workspace) CreateBranch(name string) error {
	return w.DB.Exclusive(func() error {
		_, id, err := w.Current()
		if err != nil {
			return err
		}
		if id == objects.NoVersion {
			return fmt.Errorf("create branch %s: nothing committed yet", name)
		}
		return w.DB.Update(func(tx *store.Tx) error {
			heads, err := tx.Heads(name)
			if err != nil {
				return err
			}
			if len(heads) > 0 {
				return fmt.Errorf("%s: %w", name, ErrBranchExists)
			}
			return tx.SetHead(name, id)
		})
	})
}

// Log lists the history of rev, or of the working copy when rev is empty,
// newest first.
func (w *Workspace) Log(ctx context.Context, rev string, limit int) ([]history.Entry, error) {
	var id objects.VersionID
	var err error
	if rev == "" {
		_, id, err = w.Current()
	} else {
		_, id, err = w.ResolveRevision(rev)
	}
	if err != nil {
		return nil, err
	}
	if id == objects.NoVersion {
		return nil, nil
	}
	return w.Walker.Log(ctx, id, limit)
}
