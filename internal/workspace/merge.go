package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/javanhut/brokkr/internal/cas"
	"github.com/javanhut/brokkr/internal/diffmerge"
	"github.com/javanhut/brokkr/internal/merge"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/javanhut/brokkr/internal/stage"
	"github.com/javanhut/brokkr/internal/store"
)

// Choice selects the content a conflict is resolved with.
type Choice string

const (
	ChoiceMine    Choice = "mine"    // The local side
	ChoiceTheirs  Choice = "theirs"  // The merged-in side
	ChoiceBase    Choice = "base"    // The common ancestor
	ChoiceCurrent Choice = "current" // The working file as edited
)

// Resolver returns the conflict resolver configured by core.merge_strategy.
func (w *Workspace) Resolver() (diffmerge.Resolver, error) {
	return diffmerge.NewStrategyResolver(diffmerge.StrategyType(w.Config.Core.MergeStrategy))
}

// Merge merges rev into the working copy. The working copy must be clean.
// A fast-forward moves the branch head at once; other merges leave their
// result staged for the next commit. A nil resolver uses the configured
// strategy.
func (w *Workspace) Merge(ctx context.Context, rev string, resolver diffmerge.Resolver) (res *merge.Result, err error) {
	if resolver == nil {
		if resolver, err = w.Resolver(); err != nil {
			return nil, err
		}
	}
	err = w.DB.Exclusive(func() error {
		if err := w.requireClean(ctx); err != nil {
			return err
		}
		branch, local, err := w.Current()
		if err != nil {
			return err
		}
		_, foreign, err := w.ResolveRevision(rev)
		if err != nil {
			return err
		}

		engine := merge.NewEngine(w.Tree, w.Walker, w.Content, resolver, w.Logger, w.Metrics)
		res, err = engine.Merge(ctx, local, foreign)
		if err != nil {
			return err
		}

		switch res.Kind {
		case merge.UpToDate:
			return nil
		case merge.FastForward:
			if err := w.apply(ctx, res); err != nil {
				return err
			}
			return w.DB.Update(func(tx *store.Tx) error {
				if err := tx.SetHead(branch, foreign); err != nil {
					return err
				}
				return tx.SetCurrent(branch, foreign)
			})
		}

		// The stage goes first so an interrupted apply can still be aborted.
		err = w.DB.Update(func(tx *store.Tx) error {
			for _, op := range res.Ops {
				if err := tx.PutStage(op); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("stage merge: %w", err)
		}
		return w.apply(ctx, res)
	})
	if err != nil {
		return res, err
	}
	w.Logger.WithFields(logrus.Fields{
		"action":    "merge",
		"kind":      res.Kind,
		"conflicts": len(res.Conflicts),
	}).Info("merged " + rev)
	return res, nil
}

func (w *Workspace) apply(ctx context.Context, res *merge.Result) error {
	if err := w.materializer.Remove(res.Removes); err != nil {
		return err
	}
	return w.materializer.Write(ctx, res.Writes)
}

// AbortMerge discards an in-progress merge: every path it touched is put
// back to the working copy's version and the stage is cleared.
func (w *Workspace) AbortMerge(ctx context.Context) error {
	return w.DB.Exclusive(func() error {
		staged, err := w.Stage()
		if err != nil {
			return err
		}
		if !staged.InMerge() {
			return ErrNoMergeInProgress
		}
		base, err := w.Base(ctx)
		if err != nil {
			return err
		}

		ops := staged.Ops()
		sort.Slice(ops, func(i, j int) bool { return ops[i].Name > ops[j].Name })
		for _, op := range ops {
			if op.Kind == objects.StageMerge {
				continue
			}
			if err := w.materializer.Restore(ctx, op.Name, base[op.Name]); err != nil {
				return err
			}
			w.materializer.RemoveSideFiles(op.Name)
		}
		if err := w.DB.Update(func(tx *store.Tx) error { return tx.ClearStage() }); err != nil {
			return err
		}
		w.Logger.WithField("action", "abort").Info("merge aborted")
		return nil
	})
}

// Resolve settles the conflict on name with the chosen content and removes
// the side files the merge left.
func (w *Workspace) Resolve(ctx context.Context, name string, choice Choice) error {
	name = objects.CanonicalName(name, false)
	return w.DB.Exclusive(func() error {
		staged, err := w.Stage()
		if err != nil {
			return err
		}
		op := staged.Lookup(name)
		if op == nil || op.Kind != objects.StageConflict {
			return fmt.Errorf("%s: %w", name, ErrNotInConflict)
		}
		base, err := w.Base(ctx)
		if err != nil {
			return err
		}
		local := base[name]

		var next *objects.StageOp
		switch choice {
		case ChoiceCurrent:
		case ChoiceMine:
			err = w.takeSide(ctx, name, ".mine", local)
		case ChoiceTheirs:
			err = w.takeSide(ctx, name, ".theirs", op.Record)
			if op.Record != nil {
				next = stage.MergeRecord(name, op.Record)
			}
		case ChoiceBase:
			if _, serr := os.Lstat(w.materializer.path(name + ".base")); serr != nil {
				return fmt.Errorf("%s: no base version to resolve with", name)
			}
			err = w.takeSide(ctx, name, ".base", nil)
		default:
			return fmt.Errorf("unknown resolution %q", choice)
		}
		if err != nil {
			return err
		}

		if next == nil {
			_, serr := os.Lstat(w.materializer.path(name))
			switch exists := serr == nil; {
			case exists && local == nil:
				next = stage.Add(name)
			case !exists && local != nil:
				next = stage.Remove(name)
			}
		}
		err = w.DB.Update(func(tx *store.Tx) error {
			if err := tx.DeleteStage(name); err != nil {
				return err
			}
			if next != nil {
				return tx.PutStage(next)
			}
			return nil
		})
		if err != nil {
			return err
		}
		w.materializer.RemoveSideFiles(name)
		w.Logger.WithField("path", name).WithField("action", "resolve").Info("resolved with " + string(choice))
		return nil
	})
}

// takeSide puts the side file name+suffix in place of name. Without a side
// file rec is restored instead, or name removed when rec is nil.
func (w *Workspace) takeSide(ctx context.Context, name, suffix string, rec *objects.Record) error {
	data, err := os.ReadFile(w.materializer.path(name + suffix))
	if os.IsNotExist(err) {
		return w.materializer.Restore(ctx, name, rec)
	}
	if err != nil {
		return err
	}
	var attrs *objects.Record
	if rec != nil {
		attrs = &objects.Record{Attributes: rec.Attributes}
	}
	dest := w.materializer.path(name)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	return cas.WriteFile(dest, data, attrs)
}
