// Package commit turns a working-copy status and the pending stage into a
// new version.
//
// This package provides:
// - Assembly of one alteration per committed status entry
// - Reuse of records produced by an in-progress merge
// - The snapshot decision that keeps reconstruction chains bounded
// - Persistence of the version, its records and the branch head together
package commit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javanhut/brokkr/internal/config"
	"github.com/javanhut/brokkr/internal/metrics"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/javanhut/brokkr/internal/pool"
	"github.com/javanhut/brokkr/internal/stage"
	"github.com/javanhut/brokkr/internal/status"
	"github.com/javanhut/brokkr/internal/store"
	"github.com/javanhut/brokkr/internal/tree"
	"github.com/javanhut/brokkr/internal/wsindex"
)

var (
	// ErrUnresolvedConflicts is returned while conflict stage entries remain.
	ErrUnresolvedConflicts = errors.New("unresolved conflicts")

	// ErrNothingToCommit is returned when neither the working copy nor the
	// stage holds anything to record.
	ErrNothingToCommit = errors.New("nothing to commit")
)

// Content stores working files and returns their fingerprint and size.
type Content interface {
	StoreFile(path string) (string, int64, error)
}

// Chain describes the reconstruction chain the new version extends.
type Chain struct {
	BaseSize    int // Records in the nearest snapshot
	Alterations int // Alterations already replayed on top of it
	Versions    int // Versions between the snapshot and the parent, inclusive
}

// Request is everything a commit is assembled from.
type Request struct {
	Branch  string
	Parent  objects.VersionID
	Author  string
	Message string
	Time    time.Time
	Records objects.RecordSet // State of Parent
	Status  *status.Status
	Stage   *stage.Set
	Chain   Chain
}

// Result is an assembled, not yet persisted, version.
type Result struct {
	Version     *objects.Version
	Alterations []*objects.Alteration
	MergeInfos  []objects.MergeInfo
	Records     objects.RecordSet // State of the new version
	Snapshot    bool              // Materialize Records as a snapshot
	Cache       map[string]*store.TimeEntry
}

// Builder assembles commits.
type Builder struct {
	root       string
	content    Content
	workers    int
	chainLimit int
	logger     logrus.FieldLogger
	metrics    *metrics.Metrics
}

// NewBuilder creates a Builder for the working tree at root.
func NewBuilder(root string, content Content, workers, chainLimit int, logger logrus.FieldLogger, m *metrics.Metrics) *Builder {
	if logger == nil {
		logger = config.DiscardLogger()
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Builder{
		root:       root,
		content:    content,
		workers:    pool.Workers(workers),
		chainLimit: chainLimit,
		logger:     logger,
		metrics:    m,
	}
}

// change is one status entry that becomes an alteration.
type change struct {
	entry *status.Entry
	typ   objects.AlterationType
	prior *objects.Record
	rec   *objects.Record
}

// AssembleCommit builds the new version. Modified files become updates,
// staged additions adds, staged removals deletes, staged renames moves and
// staged copies copies. New paths get their missing parent directories
// added alongside.
func (b *Builder) AssembleCommit(ctx context.Context, req *Request) (*Result, error) {
	if req.Stage.HasConflicts() {
		return nil, ErrUnresolvedConflicts
	}
	var changes []*change
	for _, e := range req.Status.Entries {
		c := &change{entry: e}
		switch e.Code {
		case status.Conflict:
			return nil, fmt.Errorf("%w: %s", ErrUnresolvedConflicts, e.Name)
		case status.Modified:
			c.typ, c.prior = objects.AlterationUpdate, e.Record
		case status.Added:
			c.typ = objects.AlterationAdd
		case status.Deleted:
			c.typ, c.prior = objects.AlterationDelete, e.Record
		case status.Renamed:
			if !e.Staged {
				continue
			}
			c.typ, c.prior = objects.AlterationMove, e.Source
		case status.Copied:
			if !e.Staged {
				continue
			}
			c.typ, c.prior = objects.AlterationCopy, e.Source
		default:
			continue
		}
		changes = append(changes, c)
	}
	merges := req.Stage.MergeVersions()
	if len(changes) == 0 && len(merges) == 0 {
		return nil, ErrNothingToCommit
	}

	cache := make(map[string]*store.TimeEntry)
	var stored []*change
	for _, c := range changes {
		if c.typ != objects.AlterationDelete {
			stored = append(stored, c)
		}
	}
	err := pool.ForEach(ctx, b.workers, stored, func(_ context.Context, c *change) error {
		rec, err := b.record(c, req.Stage.MergeRecord(c.entry.Name))
		if err != nil {
			return err
		}
		c.rec = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	owner := uuid.New()
	next := req.Records.Clone()
	var alts []*objects.Alteration
	var added []string
	for _, c := range changes {
		a := &objects.Alteration{Owner: owner, Type: c.typ, NewRecord: c.rec, PriorRecord: c.prior}
		alts = append(alts, a)
		if c.prior != nil && c.typ != objects.AlterationCopy {
			delete(next, c.prior.CanonicalName)
		}
		if c.rec != nil {
			next[c.rec.CanonicalName] = c.rec
			added = append(added, c.rec.CanonicalName)
			if f := c.entry.File; f != nil && f.Kind == wsindex.KindFile {
				cache[c.rec.CanonicalName] = &store.TimeEntry{Size: f.Size, ModTime: f.ModTime, Fingerprint: c.rec.Fingerprint}
			}
		}
	}
	alts = append(alts, implicitDirs(owner, next, added, req.Time)...)

	v := &objects.Version{
		ID:             objects.NewVersionID(),
		Parent:         req.Parent,
		Branch:         req.Branch,
		Timestamp:      req.Time,
		Author:         req.Author,
		Message:        req.Message,
		AlterationList: owner,
	}
	res := &Result{
		Version:     v,
		Alterations: alts,
		Records:     next,
		Cache:       cache,
		Snapshot: tree.ShouldSnapshot(
			req.Chain.Alterations+len(alts), req.Chain.BaseSize,
			req.Chain.Versions+1, b.chainLimit),
	}
	for _, m := range merges {
		res.MergeInfos = append(res.MergeInfos, objects.MergeInfo{Source: m, Destination: v.ID})
	}

	b.logger.WithFields(logrus.Fields{
		"version":  v.Short(),
		"count":    len(alts),
		"snapshot": res.Snapshot,
	}).Debug("Assembled commit")
	return res, nil
}

// record builds the new record of a change, storing the file content.
func (b *Builder) record(c *change, merged *objects.Record) (*objects.Record, error) {
	e := c.entry
	f := e.File
	if f == nil {
		return nil, fmt.Errorf("commit %s: not in working tree", e.Name)
	}

	var rec *objects.Record
	if c.typ == objects.AlterationUpdate || c.typ == objects.AlterationMove {
		rec = c.prior.Clone()
	} else {
		rec = &objects.Record{}
	}
	rec.CanonicalName = e.Name
	rec.ModTime = f.ModTime
	rec.Attributes = f.Attributes()

	switch f.Kind {
	case wsindex.KindDir:
		rec.Fingerprint, rec.Size = e.Name, 0
		return rec, nil
	case wsindex.KindSymlink:
		rec.Fingerprint, rec.Size = f.LinkTarget, 0
		return rec, nil
	}

	if merged != nil && merged.Size == f.Size && merged.ModTime.Equal(f.ModTime) {
		return reuse(merged, c, rec), nil
	}
	fp, size, err := b.content.StoreFile(f.Path(b.root))
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", e.Name, err)
	}
	if merged != nil && merged.Size == size && merged.Fingerprint == fp {
		return reuse(merged, c, rec), nil
	}
	rec.Fingerprint, rec.Size = fp, size
	return rec, nil
}

// reuse adopts a record written by a merge. Records the merge took from the
// foreign side are referenced as they are; merged content is stored as a
// new record continuing the local one.
func reuse(merged *objects.Record, c *change, fresh *objects.Record) *objects.Record {
	if merged.ID != objects.NoRecord && merged.CanonicalName == c.entry.Name {
		return merged
	}
	fresh.Fingerprint, fresh.Size = merged.Fingerprint, merged.Size
	return fresh
}

// implicitDirs adds the parent directories the named paths need.
func implicitDirs(owner uuid.UUID, set objects.RecordSet, names []string, now time.Time) []*objects.Alteration {
	var missing []string
	seen := make(map[string]bool)
	for _, name := range names {
		for dir := objects.ParentDir(name); dir != ""; dir = objects.ParentDir(dir) {
			if _, ok := set[dir]; ok || seen[dir] {
				break
			}
			seen[dir] = true
			missing = append(missing, dir)
		}
	}
	sort.Strings(missing)

	var alts []*objects.Alteration
	for _, dir := range missing {
		rec := &objects.Record{CanonicalName: dir, Fingerprint: dir, ModTime: now}
		set[dir] = rec
		alts = append(alts, &objects.Alteration{Owner: owner, Type: objects.AlterationAdd, NewRecord: rec})
	}
	return alts
}

// Persist writes res in tx: records, alterations, the version, merge edges,
// the optional snapshot and the branch head. The stage is cleared and the
// time cache refreshed for the committed files.
func Persist(tx *store.Tx, res *Result) error {
	for _, a := range res.Alterations {
		if a.NewRecord != nil && a.NewRecord.ID == objects.NoRecord {
			if _, err := tx.PutRecord(a.NewRecord); err != nil {
				return fmt.Errorf("store record %s: %w", a.NewRecord.CanonicalName, err)
			}
		}
	}
	for _, a := range res.Alterations {
		if err := tx.PutAlteration(a); err != nil {
			return err
		}
	}
	v := res.Version
	if err := tx.PutVersion(v); err != nil {
		return err
	}
	for _, mi := range res.MergeInfos {
		if err := tx.AddMergeInfo(mi); err != nil {
			return err
		}
	}
	if res.Snapshot {
		key, err := tx.PersistSnapshot(v.ID, res.Records.Records())
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", v.Short(), err)
		}
		v.Snapshot = key
	}
	if err := tx.SetHead(v.Branch, v.ID); err != nil {
		return err
	}
	if err := tx.SetCurrent(v.Branch, v.ID); err != nil {
		return err
	}
	if err := tx.ClearStage(); err != nil {
		return err
	}
	for name, e := range res.Cache {
		if err := tx.PutTimeEntry(name, e); err != nil {
			return err
		}
	}
	return nil
}
