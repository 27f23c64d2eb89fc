// Package merge reconciles two versions of the tree.
//
// A merge walks a fixed sequence of states. Ancestors are determined first;
// a local tip that is itself the common ancestor fast-forwards, a single
// common ancestor leads to a direct merge and two independent ancestors to
// a recursive merge over a virtual base synthesized in memory. The outcome
// is a set of working-copy writes and stage operations. Nothing is
// committed here: the commit assembler turns the stage into a version once
// every conflict is resolved.
package merge

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javanhut/brokkr/internal/cas"
	"github.com/javanhut/brokkr/internal/config"
	"github.com/javanhut/brokkr/internal/diffmerge"
	"github.com/javanhut/brokkr/internal/history"
	"github.com/javanhut/brokkr/internal/metrics"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/javanhut/brokkr/internal/stage"
)

// Kind is the path a merge took.
type Kind string

const (
	UpToDate    Kind = "up_to_date"
	FastForward Kind = "fast_forward"
	Direct      Kind = "direct"
	Recursive   Kind = "recursive"
)

// State is a step of the merge state machine.
type State string

const (
	StateStart              State = "start"
	StateDetermineAncestors State = "determine-ancestors"
	StateFastForward        State = "fast-forward"
	StateDirectMerge        State = "direct-merge"
	StateRecursiveMerge     State = "recursive-merge"
	StateReconcile          State = "reconcile"
	StateCommit             State = "commit"
	StateAbort              State = "abort"
)

// Reconstructor yields the record set of a version.
type Reconstructor interface {
	Reconstruct(ctx context.Context, id objects.VersionID) (objects.RecordSet, error)
}

// Ancestry finds the minimal common ancestors of two versions.
type Ancestry interface {
	CommonAncestors(ctx context.Context, v1, v2 objects.VersionID) ([]objects.VersionID, error)
}

// Write is one file the merge puts into the working copy. When Data is nil
// the content of Record is restored; otherwise Data is written with the
// mode and mtime of Record, which may be nil.
type Write struct {
	Name   string
	Record *objects.Record
	Data   []byte
}

// Conflict is a path the merge could not reconcile on its own.
type Conflict struct {
	Path           string
	Kind           diffmerge.ConflictKind
	Classification string
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s: %s", c.Path, c.Classification)
}

// Result is the outcome of a merge.
type Result struct {
	Kind      Kind
	Local     objects.VersionID
	Foreign   objects.VersionID
	Ancestors []objects.VersionID

	// Base is the parent record set reconciliation ran against. For
	// recursive merges it is the virtual base.
	Base objects.RecordSet

	// Records is the tree the merge leaves behind once staged.
	Records objects.RecordSet

	Writes    []*Write
	Removes   []string // Deepest first
	Ops       []*objects.StageOp
	Conflicts []Conflict
	Trace     []State
}

func (r *Result) enter(s State) {
	r.Trace = append(r.Trace, s)
}

// Engine runs merges.
type Engine struct {
	records  Reconstructor
	ancestry Ancestry
	content  *cas.Content
	text     *diffmerge.TextMerger
	resolver diffmerge.Resolver
	logger   logrus.FieldLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewEngine creates a merge engine. A nil resolver leaves every conflict
// pending.
func NewEngine(records Reconstructor, ancestry Ancestry, content *cas.Content, resolver diffmerge.Resolver, logger logrus.FieldLogger, m *metrics.Metrics) *Engine {
	if resolver == nil {
		resolver, _ = diffmerge.NewStrategyResolver(diffmerge.StrategyConflict)
	}
	if logger == nil {
		logger = config.DiscardLogger()
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Engine{
		records:  records,
		ancestry: ancestry,
		content:  content,
		text:     diffmerge.NewTextMerger(),
		resolver: resolver,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Merge reconciles foreign into local.
func (e *Engine) Merge(ctx context.Context, local, foreign objects.VersionID) (*Result, error) {
	res := &Result{Local: local, Foreign: foreign}
	res.enter(StateStart)
	logger := e.logger.WithFields(logrus.Fields{
		"action":  "merge",
		"version": objects.ShortID(local),
		"foreign": objects.ShortID(foreign),
	})

	err := e.run(ctx, res)
	if err != nil {
		res.enter(StateAbort)
		logger.WithError(err).Debug("merge aborted")
		return res, err
	}
	res.enter(StateCommit)
	e.metrics.Merges.WithLabelValues(string(res.Kind)).Inc()
	logger.WithFields(logrus.Fields{
		"kind":      res.Kind,
		"count":     len(res.Ops),
		"conflicts": len(res.Conflicts),
	}).Info("merge staged")
	return res, nil
}

func (e *Engine) run(ctx context.Context, res *Result) error {
	if res.Local == res.Foreign {
		res.Kind = UpToDate
		return nil
	}

	res.enter(StateDetermineAncestors)
	if res.Local == objects.NoVersion {
		foreign, err := e.records.Reconstruct(ctx, res.Foreign)
		if err != nil {
			return err
		}
		res.enter(StateFastForward)
		res.Kind = FastForward
		res.Base = objects.RecordSet{}
		e.fastForward(res, res.Base, foreign)
		return nil
	}
	ancestors, err := e.ancestry.CommonAncestors(ctx, res.Local, res.Foreign)
	if err != nil {
		return fmt.Errorf("determine ancestors: %w", err)
	}
	res.Ancestors = ancestors

	local, err := e.records.Reconstruct(ctx, res.Local)
	if err != nil {
		return err
	}
	foreign, err := e.records.Reconstruct(ctx, res.Foreign)
	if err != nil {
		return err
	}

	switch len(ancestors) {
	case 0:
		return fmt.Errorf("%s and %s: %w", objects.ShortID(res.Local), objects.ShortID(res.Foreign), history.ErrNoCommonParent)
	case 1:
		switch ancestors[0] {
		case res.Foreign:
			res.Kind = UpToDate
			res.Records = local
			return nil
		case res.Local:
			res.enter(StateFastForward)
			res.Kind = FastForward
			res.Base = local
			e.fastForward(res, local, foreign)
			return nil
		}
		res.enter(StateDirectMerge)
		res.Kind = Direct
		base, err := e.records.Reconstruct(ctx, ancestors[0])
		if err != nil {
			return err
		}
		res.Base = base
		res.enter(StateReconcile)
		return e.reconcile(ctx, res, local, foreign, e.content)
	case 2:
		res.enter(StateRecursiveMerge)
		res.Kind = Recursive
		scratch := e.content.Scratch()
		base, err := e.virtualBase(ctx, ancestors[0], ancestors[1], scratch)
		if err != nil {
			return err
		}
		res.Base = base
		res.enter(StateReconcile)
		return e.reconcile(ctx, res, local, foreign, scratch)
	default:
		return fmt.Errorf("%d common ancestors: %w", len(ancestors), history.ErrUnsupportedOctopusMerge)
	}
}

// fastForward adopts the foreign tree as it is.
func (e *Engine) fastForward(res *Result, local, foreign objects.RecordSet) {
	res.Records = foreign
	for _, c := range diffmerge.Diff(local, foreign) {
		switch c.Type {
		case diffmerge.Removed:
			res.Removes = append(res.Removes, c.Path)
		default:
			res.Writes = append(res.Writes, &Write{Name: c.Path, Record: c.New})
		}
	}
}

// VirtualBase synthesizes the tree two versions would merge to, without
// touching the working copy or the content store.
func (e *Engine) VirtualBase(ctx context.Context, a, b objects.VersionID) (objects.RecordSet, error) {
	return e.virtualBase(ctx, a, b, e.content.Scratch())
}

// virtualBase merges a and b in memory. Merged contents are stored in
// scratch. Conflicts keep the record of a.
func (e *Engine) virtualBase(ctx context.Context, a, b objects.VersionID, scratch *cas.Content) (objects.RecordSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ancestors, err := e.ancestry.CommonAncestors(ctx, a, b)
	if err != nil {
		return nil, err
	}
	var parent objects.RecordSet
	switch len(ancestors) {
	case 0:
		parent = objects.RecordSet{}
	case 1:
		parent, err = e.records.Reconstruct(ctx, ancestors[0])
	case 2:
		parent, err = e.virtualBase(ctx, ancestors[0], ancestors[1], scratch)
	default:
		err = fmt.Errorf("%d common ancestors of %s and %s: %w",
			len(ancestors), objects.ShortID(a), objects.ShortID(b), history.ErrUnsupportedOctopusMerge)
	}
	if err != nil {
		return nil, err
	}

	ours, err := e.records.Reconstruct(ctx, a)
	if err != nil {
		return nil, err
	}
	theirs, err := e.records.Reconstruct(ctx, b)
	if err != nil {
		return nil, err
	}

	out := ours.Clone()
	for _, d := range Plan(ours, theirs, parent) {
		switch d.Action {
		case TakeForeign:
			out[d.Name] = d.Foreign
		case DeleteLocal:
			delete(out, d.Name)
		case ContentMerge2, ContentMerge3:
			data, ok, err := e.mergeContent(ctx, d, scratch)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			rec, err := e.mergedRecord(d.Local, data, scratch)
			if err != nil {
				return nil, err
			}
			out[d.Name] = rec
		}
	}
	e.logger.WithFields(logrus.Fields{
		"action":  "virtual-base",
		"version": objects.ShortID(a),
		"foreign": objects.ShortID(b),
		"count":   len(out),
	}).Debug("synthesized virtual base")
	return out, nil
}

// reconcile applies the plan of a direct or recursive merge. Contents are
// read through reader, which holds the virtual base blobs of a recursive
// merge; merged results always go to the engine's content store.
func (e *Engine) reconcile(ctx context.Context, res *Result, local, foreign objects.RecordSet, reader *cas.Content) error {
	res.Records = local.Clone()
	res.Ops = append(res.Ops, stage.Merge(res.Foreign))

	for _, d := range Plan(local, foreign, res.Base) {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		switch d.Action {
		case TakeForeign:
			res.take(d.Name, d.Foreign)
		case DeleteLocal:
			res.remove(d.Name)
		case DeleteModifyConflict:
			err = e.treeConflict(ctx, res, d)
		case ContentMerge2, ContentMerge3:
			err = e.contentMerge(ctx, res, d, reader)
		}
		if err != nil {
			return fmt.Errorf("merge %s: %w", d.Name, err)
		}
	}

	sort.Slice(res.Removes, func(i, j int) bool { return res.Removes[i] > res.Removes[j] })
	return nil
}

func (r *Result) take(name string, rec *objects.Record) {
	r.Records[name] = rec
	r.Writes = append(r.Writes, &Write{Name: name, Record: rec})
	r.Ops = append(r.Ops, stage.MergeRecord(name, rec))
}

func (r *Result) remove(name string) {
	delete(r.Records, name)
	r.Removes = append(r.Removes, name)
	r.Ops = append(r.Ops, stage.Remove(name))
}

func (e *Engine) raise(res *Result, d Decision, kind diffmerge.ConflictKind) {
	res.Conflicts = append(res.Conflicts, Conflict{Path: d.Name, Kind: kind, Classification: d.Classification})
	res.Ops = append(res.Ops, stage.Conflict(d.Name, d.Classification, d.Foreign))
	e.metrics.Conflicts.WithLabelValues(string(kind)).Inc()
	e.logger.WithFields(logrus.Fields{
		"path": d.Name,
		"kind": kind,
	}).Info(d.Classification)
}

func (e *Engine) ask(ctx context.Context, d Decision, kind diffmerge.ConflictKind) (diffmerge.Decision, error) {
	return e.resolver.Resolve(ctx, &diffmerge.Question{
		Path:           d.Name,
		Kind:           kind,
		Classification: d.Classification,
		Base:           d.Parent,
		Ours:           d.Local,
		Theirs:         d.Foreign,
	})
}

// treeConflict handles a deletion on one side against a change on the other.
// Keeping the deleting side removes the path; keeping the changing side
// leaves its record in place. An unresolved conflict leaves the changed
// file in the working copy.
func (e *Engine) treeConflict(ctx context.Context, res *Result, d Decision) error {
	choice, err := e.ask(ctx, d, diffmerge.TreeConflict)
	if err != nil {
		return err
	}
	deletedLocally := d.Local == nil
	switch choice {
	case diffmerge.KeepOurs:
		return nil
	case diffmerge.KeepTheirs:
		if deletedLocally {
			res.take(d.Name, d.Foreign)
		} else {
			res.remove(d.Name)
		}
		return nil
	}
	if deletedLocally {
		res.Records[d.Name] = d.Foreign
		res.Writes = append(res.Writes, &Write{Name: d.Name, Record: d.Foreign})
	}
	e.raise(res, d, diffmerge.TreeConflict)
	return nil
}

// contentMerge merges a path changed on both sides. A failed merge consults
// the resolver and, if the conflict stays, leaves marker content and the
// side files .mine, .theirs and .base next to the path.
func (e *Engine) contentMerge(ctx context.Context, res *Result, d Decision, reader *cas.Content) error {
	data, ok, err := e.mergeContent(ctx, d, reader)
	if err != nil {
		return err
	}
	if ok {
		rec, err := e.mergedRecord(d.Local, data, e.content)
		if err != nil {
			return err
		}
		res.Records[d.Name] = rec
		res.Writes = append(res.Writes, &Write{Name: d.Name, Record: rec, Data: data})
		res.Ops = append(res.Ops, stage.MergeRecord(d.Name, rec))
		return nil
	}

	choice, err := e.ask(ctx, d, diffmerge.ContentMergeFailure)
	if err != nil {
		return err
	}
	switch choice {
	case diffmerge.KeepOurs:
		return nil
	case diffmerge.KeepTheirs:
		res.take(d.Name, d.Foreign)
		return nil
	}

	if data != nil {
		res.Writes = append(res.Writes, &Write{Name: d.Name, Data: data})
	}
	sides := []struct {
		suffix string
		rec    *objects.Record
	}{{".mine", d.Local}, {".theirs", d.Foreign}, {".base", d.Parent}}
	for _, s := range sides {
		if s.rec == nil || s.rec.IsDir() {
			continue
		}
		b, err := reader.Read(ctx, s.rec)
		if err != nil {
			return err
		}
		res.Writes = append(res.Writes, &Write{Name: d.Name + s.suffix, Data: b})
	}
	e.raise(res, d, diffmerge.ContentMergeFailure)
	return nil
}

// mergeContent runs the 2-way or 3-way text merge of d. ok is false when
// the merge failed; data then holds the conflict-marked content, or nil
// for contents that cannot be merged as text.
func (e *Engine) mergeContent(ctx context.Context, d Decision, reader *cas.Content) ([]byte, bool, error) {
	for _, r := range []*objects.Record{d.Local, d.Foreign, d.Parent} {
		if r != nil && (r.IsDir() || r.IsSymlink()) {
			return nil, false, nil
		}
	}
	ours, err := reader.Read(ctx, d.Local)
	if err != nil {
		return nil, false, err
	}
	theirs, err := reader.Read(ctx, d.Foreign)
	if err != nil {
		return nil, false, err
	}

	var data []byte
	var ok bool
	if d.Action == ContentMerge2 {
		data, ok = e.text.Merge2Way(ours, theirs)
	} else {
		base, err := reader.Read(ctx, d.Parent)
		if err != nil {
			return nil, false, err
		}
		data, ok = e.text.Merge3Way(base, ours, theirs)
	}
	return data, ok, nil
}

// mergedRecord stores data and returns the record continuing local.
func (e *Engine) mergedRecord(local *objects.Record, data []byte, dst *cas.Content) (*objects.Record, error) {
	h, err := dst.StoreBytes(data)
	if err != nil {
		return nil, err
	}
	rec := local.Clone()
	rec.Fingerprint = h.String()
	rec.Size = int64(len(data))
	rec.ModTime = e.now().Truncate(time.Second)
	return rec, nil
}
