// Package status classifies every path of the working tree against the
// records of the current version and the pending stage.
package status

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/javanhut/brokkr/internal/config"
	"github.com/javanhut/brokkr/internal/metrics"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/javanhut/brokkr/internal/pool"
	"github.com/javanhut/brokkr/internal/store"
	"github.com/javanhut/brokkr/internal/wsindex"
)

// Code is the classification of a path.
type Code uint8

const (
	Unversioned Code = iota + 1
	Unchanged
	Added
	Modified
	Missing
	Deleted
	Renamed
	Copied
	Conflict
	Ignored
)

func (c Code) String() string {
	switch c {
	case Unversioned:
		return "unversioned"
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Missing:
		return "missing"
	case Deleted:
		return "deleted"
	case Renamed:
		return "renamed"
	case Copied:
		return "copied"
	case Conflict:
		return "conflict"
	case Ignored:
		return "ignored"
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

// Short is the one-letter code used in compact listings.
func (c Code) Short() string {
	switch c {
	case Unversioned:
		return "?"
	case Unchanged:
		return " "
	case Added:
		return "A"
	case Modified:
		return "M"
	case Missing:
		return "!"
	case Deleted:
		return "D"
	case Renamed:
		return "R"
	case Copied:
		return "C"
	case Conflict:
		return "U"
	case Ignored:
		return "I"
	}
	return "?"
}

// Entry is the status of one path. File is the working-tree side and Record
// the versioned side; either may be nil. Source is the original record of a
// rename or copy.
type Entry struct {
	Code        Code
	Name        string
	File        *wsindex.Entry
	Record      *objects.Record
	Source      *objects.Record
	Fingerprint string // Working-side fingerprint when it was computed
	Staged      bool
	Reason      string // Conflict classification
}

func (e *Entry) String() string {
	if e.Source != nil {
		return fmt.Sprintf("%s %s -> %s", e.Code.Short(), e.Source.CanonicalName, e.Name)
	}
	return fmt.Sprintf("%s %s", e.Code.Short(), e.Name)
}

// Status is the full classification of a working copy, ordered by name.
type Status struct {
	Entries []*Entry

	// Refresh holds time cache entries confirmed during the scan.
	Refresh map[string]*store.TimeEntry
}

// Changes returns every entry that a commit would record, including
// pending conflicts.
func (s *Status) Changes() []*Entry {
	var out []*Entry
	for _, e := range s.Entries {
		switch e.Code {
		case Added, Modified, Deleted, Missing, Renamed, Copied, Conflict:
			out = append(out, e)
		}
	}
	return out
}

// Clean reports whether the working copy matches its version. Unversioned
// and ignored paths do not count.
func (s *Status) Clean() bool {
	return len(s.Changes()) == 0
}

// Lookup returns the entry for name, or nil.
func (s *Status) Lookup(name string) *Entry {
	i := sort.Search(len(s.Entries), func(i int) bool { return s.Entries[i].Name >= name })
	if i < len(s.Entries) && s.Entries[i].Name == name {
		return s.Entries[i]
	}
	return nil
}

// Count returns how many entries carry code.
func (s *Status) Count(code Code) int {
	n := 0
	for _, e := range s.Entries {
		if e.Code == code {
			n++
		}
	}
	return n
}

// Hasher fingerprints working files.
type Hasher interface {
	ComputeFingerprint(path string) (string, error)
}

// Input is everything a status computation compares.
type Input struct {
	Records objects.RecordSet
	Tree    *wsindex.Index
	Stage   []*objects.StageOp
	Cache   map[string]*store.TimeEntry
}

// Engine computes working-copy status.
type Engine struct {
	root    string
	hasher  Hasher
	workers int
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

func New(root string, hasher Hasher, workers int, logger logrus.FieldLogger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = config.DiscardLogger()
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Engine{
		root:    root,
		hasher:  hasher,
		workers: pool.Workers(workers),
		logger:  logger,
		metrics: m,
	}
}

type hashJob struct {
	entry *Entry
	file  *wsindex.Entry
}

// ComputeStatus classifies every versioned record and every working-tree
// entry. Files of equal size are fingerprinted only when the time cache
// cannot vouch for them, and unversioned files only when a missing record
// of the same size could explain them as a rename.
func (e *Engine) ComputeStatus(ctx context.Context, in *Input) (*Status, error) {
	staged := make(map[string]*objects.StageOp, len(in.Stage))
	for _, op := range in.Stage {
		if op.Kind == objects.StageMerge {
			continue
		}
		staged[op.Name] = op
	}
	cache := in.Cache
	if cache == nil {
		cache = map[string]*store.TimeEntry{}
	}

	st := &Status{Refresh: make(map[string]*store.TimeEntry)}
	var jobs []hashJob
	missingSizes := make(map[int64]bool)

	for _, name := range in.Records.Names() {
		rec := in.Records[name]
		ent := &Entry{Name: name, Record: rec}
		st.Entries = append(st.Entries, ent)

		file := in.Tree.Entries[name]
		ent.File = file
		if file == nil {
			ent.Code = Missing
			if op := staged[name]; op != nil && op.Kind == objects.StageRemove {
				ent.Code = Deleted
			}
			if isRenameCandidate(rec) {
				missingSizes[rec.Size] = true
			}
			continue
		}

		switch {
		case rec.IsDir():
			ent.Code = Unchanged
		case file.Kind == wsindex.KindSymlink || rec.IsSymlink():
			ent.Fingerprint = file.LinkTarget
			if file.Kind == wsindex.KindSymlink && rec.IsSymlink() && file.LinkTarget == rec.Fingerprint {
				ent.Code = Unchanged
			} else {
				ent.Code = Modified
			}
		case file.Size != rec.Size:
			ent.Code = Modified
		default:
			if c := cache[name]; c.Matches(file.Size, file.ModTime) && c.Fingerprint == rec.Fingerprint {
				ent.Code = Unchanged
				ent.Fingerprint = c.Fingerprint
			} else {
				jobs = append(jobs, hashJob{entry: ent, file: file})
			}
		}
	}

	var fresh []*Entry
	for _, name := range in.Tree.Names() {
		if _, ok := in.Records[name]; ok {
			continue
		}
		file := in.Tree.Entries[name]
		ent := &Entry{Code: Unversioned, Name: name, File: file}
		st.Entries = append(st.Entries, ent)
		fresh = append(fresh, ent)
		if file.Kind == wsindex.KindFile && file.Size > 0 && missingSizes[file.Size] {
			jobs = append(jobs, hashJob{entry: ent, file: file})
		}
	}
	for _, name := range in.Tree.Ignored {
		st.Entries = append(st.Entries, &Entry{Code: Ignored, Name: name})
	}

	if err := e.hash(ctx, jobs); err != nil {
		return nil, err
	}
	for _, j := range jobs {
		ent := j.entry
		if ent.Record == nil {
			continue
		}
		if ent.Fingerprint == ent.Record.Fingerprint {
			ent.Code = Unchanged
			st.Refresh[ent.Name] = &store.TimeEntry{
				Size:        j.file.Size,
				ModTime:     j.file.ModTime,
				Fingerprint: ent.Fingerprint,
			}
		} else {
			ent.Code = Modified
		}
	}

	st.Entries = detectRenames(st.Entries, fresh, staged)
	applyStage(st.Entries, staged)

	sort.Slice(st.Entries, func(i, j int) bool { return st.Entries[i].Name < st.Entries[j].Name })

	e.logger.WithFields(logrus.Fields{
		"count":  len(st.Entries),
		"hashed": len(jobs),
	}).Debug("Computed status")
	return st, nil
}

func (e *Engine) hash(ctx context.Context, jobs []hashJob) error {
	if len(jobs) == 0 {
		return nil
	}
	err := pool.ForEach(ctx, e.workers, jobs, func(_ context.Context, j hashJob) error {
		fp, err := e.hasher.ComputeFingerprint(j.file.Path(e.root))
		if err != nil {
			return fmt.Errorf("fingerprint %s: %w", j.file.Name, err)
		}
		j.entry.Fingerprint = fp
		e.metrics.FilesHashed.Inc()
		return nil
	})
	return err
}

// applyStage overlays pending operations on the computed codes.
func applyStage(entries []*Entry, staged map[string]*objects.StageOp) {
	for _, ent := range entries {
		op := staged[ent.Name]
		if op == nil {
			continue
		}
		ent.Staged = true
		switch op.Kind {
		case objects.StageConflict:
			ent.Code = Conflict
			ent.Reason = op.Reason
		case objects.StageAdd, objects.StageMergeRecord:
			if ent.Code == Unversioned {
				ent.Code = Added
			}
		case objects.StageRemove:
			// A removal kept on disk leaves the file untracked after commit.
			if ent.Record != nil {
				ent.Code = Deleted
			}
		}
	}
}
