// Package workspace ties the engine together for one working copy.
//
// This package provides:
// - Repository creation and discovery of the .brokkr metadata directory
// - Status with the persisted time cache and ignore rules
// - Staging, commit, merge, conflict resolution and abort
// - Travel between versions and branches, revert and log
//
// Every sequence that reads the store, inspects the working copy and then
// writes the store runs inside the workspace lock of the shared database.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javanhut/brokkr/internal/cas"
	"github.com/javanhut/brokkr/internal/config"
	"github.com/javanhut/brokkr/internal/history"
	"github.com/javanhut/brokkr/internal/metrics"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/javanhut/brokkr/internal/seals"
	"github.com/javanhut/brokkr/internal/stage"
	"github.com/javanhut/brokkr/internal/status"
	"github.com/javanhut/brokkr/internal/store"
	"github.com/javanhut/brokkr/internal/tree"
	"github.com/javanhut/brokkr/internal/wsindex"
)

// DefaultBranch is the branch a new repository starts on.
const DefaultBranch = "main"

var (
	// ErrNotRepository is returned when no .brokkr directory is found.
	ErrNotRepository = errors.New("not a brokkr repository")

	// ErrAlreadyInitialized is returned by Init inside an existing repository.
	ErrAlreadyInitialized = errors.New("repository already initialized")

	// ErrDirtyWorkingCopy is returned when an operation needs a working copy
	// without uncommitted changes.
	ErrDirtyWorkingCopy = errors.New("working copy has uncommitted changes")

	// ErrMergeInProgress is returned while a merge waits to be committed.
	ErrMergeInProgress = errors.New("merge in progress")

	// ErrNoMergeInProgress is returned when aborting without a merge.
	ErrNoMergeInProgress = errors.New("no merge in progress")

	// ErrNotInConflict is returned when resolving a path without a conflict.
	ErrNotInConflict = errors.New("path is not in conflict")

	// ErrNotAtHead is returned when committing from a version that is no
	// longer the tip of its branch.
	ErrNotAtHead = errors.New("working copy is not at the branch head")

	// ErrUnknownRevision is returned when a name matches no branch or version.
	ErrUnknownRevision = errors.New("unknown revision")

	// ErrBranchExists is returned when creating a branch that already exists.
	ErrBranchExists = errors.New("branch already exists")
)

// Workspace is an open working copy and its repository.
type Workspace struct {
	Root    string
	Config  *config.Config
	DB      *store.SharedDB
	Content *cas.Content
	Tree    *tree.Consolidator
	Walker  *history.Walker
	Logger  logrus.FieldLogger
	Metrics *metrics.Metrics

	materializer *Materializer
}

// Find walks up from dir to the directory holding .brokkr.
func Find(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		info, err := os.Stat(filepath.Join(dir, config.MetaDir))
		if err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotRepository
		}
		dir = parent
	}
}

// Init creates a repository at root and opens it. The working copy starts
// on DefaultBranch with no version.
func Init(root string, logger logrus.FieldLogger, m *metrics.Metrics) (*Workspace, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	meta := filepath.Join(root, config.MetaDir)
	if _, err := os.Stat(meta); err == nil {
		return nil, fmt.Errorf("%s: %w", root, ErrAlreadyInitialized)
	}
	if err := os.MkdirAll(filepath.Join(meta, "objects"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", config.MetaDir, err)
	}

	ws, err := Open(root, logger, m)
	if err != nil {
		return nil, err
	}
	err = ws.DB.Update(func(tx *store.Tx) error {
		return tx.SetCurrent(DefaultBranch, objects.NoVersion)
	})
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("initialize workspace pointer: %w", err)
	}
	ws.Logger.WithField("action", "init").WithField("path", root).Info("initialized repository")
	return ws, nil
}

// Open opens the repository whose working copy is at root.
func Open(root string, logger logrus.FieldLogger, m *metrics.Metrics) (*Workspace, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	meta := filepath.Join(root, config.MetaDir)
	if info, err := os.Stat(meta); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s: %w", root, ErrNotRepository)
	}
	if logger == nil {
		logger = config.DiscardLogger()
	}
	if m == nil {
		m = metrics.Discard()
	}

	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	objs, err := cas.NewFileCAS(filepath.Join(meta, "objects"))
	if err != nil {
		return nil, fmt.Errorf("open content store: %w", err)
	}
	db, err := store.GetSharedDB(meta)
	if err != nil {
		return nil, err
	}
	consolidator, err := tree.New(db, tree.Options{
		ChainLimit: cfg.Core.SnapshotChainLimit,
		ReadOnly:   !cfg.Core.SnapshotOnRead,
	}, logger, m)
	if err != nil {
		db.Close()
		return nil, err
	}
	content := cas.NewContent(objs, logger)

	return &Workspace{
		Root:         root,
		Config:       cfg,
		DB:           db,
		Content:      content,
		Tree:         consolidator,
		Walker:       history.NewWalker(db),
		Logger:       logger,
		Metrics:      m,
		materializer: NewMaterializer(content, root, cfg.Core.Workers, logger),
	}, nil
}

// Close releases the database reference.
func (w *Workspace) Close() error {
	return w.DB.Close()
}

// SetFetcher installs the collaborator that supplies missing content.
func (w *Workspace) SetFetcher(f cas.Fetcher) {
	w.Content.SetFetcher(f)
}

// Current returns the branch and version the working copy is based on.
func (w *Workspace) Current() (string, objects.VersionID, error) {
	return w.DB.Current()
}

// Base reconstructs the version the working copy is based on.
func (w *Workspace) Base(ctx context.Context) (objects.RecordSet, error) {
	_, id, err := w.Current()
	if err != nil {
		return nil, err
	}
	return w.Tree.Reconstruct(ctx, id)
}

// Status computes the working-copy status and persists the time cache
// entries it confirmed.
func (w *Workspace) Status(ctx context.Context) (st *status.Status, err error) {
	err = w.DB.Exclusive(func() error {
		st, err = w.status(ctx)
		return err
	})
	return st, err
}

// status is Status without the workspace lock.
func (w *Workspace) status(ctx context.Context) (*status.Status, error) {
	base, err := w.Base(ctx)
	if err != nil {
		return nil, err
	}
	return w.statusAgainst(ctx, base)
}

func (w *Workspace) statusAgainst(ctx context.Context, base objects.RecordSet) (*status.Status, error) {
	ignore, err := wsindex.LoadIgnore(filepath.Join(w.Root, w.Config.Core.IgnoreFile))
	if err != nil {
		return nil, err
	}
	scanner := wsindex.NewScanner(w.Root, config.MetaDir, ignore, w.Config.Core.Workers, w.Logger)
	scanner.Track(base.Names())
	ix, err := scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}

	var ops []*objects.StageOp
	var cache map[string]*store.TimeEntry
	err = w.DB.View(func(tx *store.Tx) error {
		if ops, err = tx.StageOps(); err != nil {
			return err
		}
		cache, err = tx.TimeCache()
		return err
	})
	if err != nil {
		return nil, err
	}

	engine := status.New(w.Root, w.Content, w.Config.Core.Workers, w.Logger, w.Metrics)
	st, err := engine.ComputeStatus(ctx, &status.Input{Records: base, Tree: ix, Stage: ops, Cache: cache})
	if err != nil {
		return nil, err
	}
	if len(st.Refresh) > 0 {
		err = w.DB.Update(func(tx *store.Tx) error {
			for name, e := range st.Refresh {
				if err := tx.PutTimeEntry(name, e); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("refresh time cache: %w", err)
		}
	}
	return st, nil
}

// Stage returns the pending stage operations.
func (w *Workspace) Stage() (*stage.Set, error) {
	ops, err := w.DB.StageOps()
	if err != nil {
		return nil, err
	}
	return stage.New(ops), nil
}

// Gather stages every change below paths: new files are added, missing
// files removed and detected renames recorded. No paths means everything.
func (w *Workspace) Gather(ctx context.Context, paths []string) (ops []*objects.StageOp, err error) {
	err = w.DB.Exclusive(func() error {
		st, err := w.status(ctx)
		if err != nil {
			return err
		}
		ops = stage.Gather(st, stage.Matcher(paths))
		return w.DB.Update(func(tx *store.Tx) error {
			for _, op := range ops {
				if err := tx.PutStage(op); err != nil {
					return err
				}
			}
			return nil
		})
	})
	return ops, err
}

// Discard stages the removal of versioned paths below paths. With
// deleteFiles the working files are deleted too.
func (w *Workspace) Discard(ctx context.Context, paths []string, deleteFiles bool) (names []string, err error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("discard: no paths given")
	}
	err = w.DB.Exclusive(func() error {
		base, err := w.Base(ctx)
		if err != nil {
			return err
		}
		m := stage.Matcher(paths)
		for _, name := range base.Names() {
			if m.Match(name) {
				names = append(names, name)
			}
		}
		if len(names) == 0 {
			return fmt.Errorf("discard %s: %w", strings.Join(paths, ", "), store.ErrNotFound)
		}
		err = w.DB.Update(func(tx *store.Tx) error {
			for _, name := range names {
				if err := tx.PutStage(stage.Remove(name)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil || !deleteFiles {
			return err
		}
		// Deepest first so directories are empty by the time they are reached.
		reversed := make([]string, len(names))
		for i, name := range names {
			reversed[len(names)-1-i] = name
		}
		return w.materializer.Remove(reversed)
	})
	return names, err
}

// Unstage drops pending adds, removals and renames below paths.
func (w *Workspace) Unstage(paths []string) (keys []string, err error) {
	err = w.DB.Exclusive(func() error {
		return w.DB.Update(func(tx *store.Tx) error {
			ops, err := tx.StageOps()
			if err != nil {
				return err
			}
			keys = stage.Unstage(stage.New(ops), stage.Matcher(paths))
			for _, k := range keys {
				if err := tx.DeleteStage(k); err != nil {
					return err
				}
			}
			return nil
		})
	})
	return keys, err
}

// ResolveRevision maps a branch name, full version ID, seal name or unique
// ID prefix to a version. branch is empty for plain version references.
func (w *Workspace) ResolveRevision(rev string) (branch string, id objects.VersionID, err error) {
	err = w.DB.View(func(tx *store.Tx) error {
		heads, err := tx.Heads(rev)
		if err != nil {
			return err
		}
		if len(heads) > 0 {
			branch = rev
			id, err = tx.Head(rev)
			return err
		}
		if parsed, perr := uuid.Parse(rev); perr == nil {
			if _, err := tx.Version(parsed); err != nil {
				return fmt.Errorf("%s: %w", rev, ErrUnknownRevision)
			}
			id = parsed
			return nil
		}

		versions, err := tx.Versions()
		if err != nil {
			return err
		}
		prefix := rev
		short, named := seals.ShortHash(rev)
		if named {
			prefix = short
		}
		var matches []objects.VersionID
		for _, v := range versions {
			if prefix == "" || !strings.HasPrefix(v.ID.String(), prefix) {
				continue
			}
			if named && seals.Name(v.ID) != rev {
				continue
			}
			matches = append(matches, v.ID)
		}
		switch len(matches) {
		case 0:
			return fmt.Errorf("%s: %w", rev, ErrUnknownRevision)
		case 1:
			id = matches[0]
			return nil
		default:
			return fmt.Errorf("%s matches %d versions: %w", rev, len(matches), ErrUnknownRevision)
		}
	})
	return branch, id, err
}
