package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javanhut/brokkr/internal/commit"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/javanhut/brokkr/internal/store"
)

// Commit records the working copy and the stage as a new version on the
// current branch.
func (w *Workspace) Commit(ctx context.Context, message string) (res *commit.Result, err error) {
	author, err := w.Config.Author()
	if err != nil {
		return nil, err
	}
	err = w.DB.Exclusive(func() error {
		res, err = w.commit(ctx, author, message)
		return err
	})
	if err != nil {
		return nil, err
	}
	w.Metrics.Commits.Inc()
	w.Logger.WithFields(logrus.Fields{
		"action":  "commit",
		"version": res.Version.Short(),
		"branch":  res.Version.Branch,
		"count":   len(res.Alterations),
	}).Info("created version")
	return res, nil
}

func (w *Workspace) commit(ctx context.Context, author, message string) (*commit.Result, error) {
	branch, parent, err := w.Current()
	if err != nil {
		return nil, err
	}
	heads, err := w.heads(branch)
	if err != nil {
		return nil, err
	}
	if len(heads) > 0 && !containsVersion(heads, parent) {
		return nil, fmt.Errorf("commit on %s from %s: %w", branch, objects.ShortID(parent), ErrNotAtHead)
	}

	records, err := w.Tree.Reconstruct(ctx, parent)
	if err != nil {
		return nil, err
	}
	st, err := w.statusAgainst(ctx, records)
	if err != nil {
		return nil, err
	}
	staged, err := w.Stage()
	if err != nil {
		return nil, err
	}
	chain, err := w.chain(parent)
	if err != nil {
		return nil, err
	}

	builder := commit.NewBuilder(w.Root, w.Content, w.Config.Core.Workers, w.Tree.ChainLimit(), w.Logger, w.Metrics)
	res, err := builder.AssembleCommit(ctx, &commit.Request{
		Branch:  branch,
		Parent:  parent,
		Author:  author,
		Message: message,
		Time:    time.Now(),
		Records: records,
		Status:  st,
		Stage:   staged,
		Chain:   chain,
	})
	if err != nil {
		return nil, err
	}
	if err := w.DB.Update(func(tx *store.Tx) error { return commit.Persist(tx, res) }); err != nil {
		return nil, fmt.Errorf("persist commit: %w", err)
	}
	if res.Snapshot {
		w.Metrics.SnapshotsMaterialized.Inc()
	}
	return res, nil
}

// chain measures the reconstruction chain a child of parent would extend.
func (w *Workspace) chain(parent objects.VersionID) (commit.Chain, error) {
	if parent == objects.NoVersion {
		return commit.Chain{}, nil
	}
	ref, base, err := w.DB.NearestSnapshot(parent)
	if err != nil {
		return commit.Chain{}, err
	}
	alts, err := w.DB.AlterationsFor(ref)
	if err != nil {
		return commit.Chain{}, err
	}
	return commit.Chain{BaseSize: len(base), Alterations: len(alts), Versions: len(ref.Chain)}, nil
}

func (w *Workspace) heads(branch string) (ids []objects.VersionID, err error) {
	err = w.DB.View(func(tx *store.Tx) error {
		ids, err = tx.Heads(branch)
		return err
	})
	return ids, err
}

func containsVersion(ids []objects.VersionID, id objects.VersionID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// requireClean fails when the working copy has uncommitted changes or the
// stage holds anything.
func (w *Workspace) requireClean(ctx context.Context) error {
	staged, err := w.Stage()
	if err != nil {
		return err
	}
	if staged.InMerge() {
		return ErrMergeInProgress
	}
	st, err := w.status(ctx)
	if err != nil {
		return err
	}
	if changes := st.Changes(); len(changes) > 0 {
		return fmt.Errorf("%d changed paths: %w", len(changes), ErrDirtyWorkingCopy)
	}
	if n := staged.Len(); n > 0 {
		return fmt.Errorf("%d staged operations: %w", n, ErrDirtyWorkingCopy)
	}
	return nil
}

// IsDirty reports whether err was caused by uncommitted changes.
func IsDirty(err error) bool {
	return errors.Is(err, ErrDirtyWorkingCopy) || errors.Is(err, ErrMergeInProgress)
}
