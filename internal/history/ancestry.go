// Package history walks the version graph: distance-labelled ancestor sets,
// minimal common ancestors and linear logs.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/javanhut/brokkr/internal/objects"
)

var (
	// ErrNoCommonParent is returned when two versions share no ancestor.
	ErrNoCommonParent = errors.New("no common parent")

	// ErrUnsupportedOctopusMerge is returned when two versions have three
	// or more independent common ancestors.
	ErrUnsupportedOctopusMerge = errors.New("unsupported octopus merge")
)

// Graph is the read side of the record store the walker needs.
type Graph interface {
	Version(id objects.VersionID) (*objects.Version, error)
	MergeSources(id objects.VersionID) ([]objects.VersionID, error)
}

// Walker computes ancestry over a Graph.
type Walker struct {
	graph Graph
}

func NewWalker(g Graph) *Walker {
	return &Walker{graph: g}
}

// Parents returns the primary parent followed by merge sources.
func (w *Walker) Parents(id objects.VersionID) ([]objects.VersionID, error) {
	v, err := w.graph.Version(id)
	if err != nil {
		return nil, err
	}
	var out []objects.VersionID
	if v.HasParent() {
		out = append(out, v.Parent)
	}
	sources, err := w.graph.MergeSources(id)
	if err != nil {
		return nil, fmt.Errorf("merge sources of %s: %w", id, err)
	}
	return append(out, sources...), nil
}

// ParentGraph maps every version reachable from id, through parent and
// merge edges, to its distance from id. id itself is at distance 0.
//
// The walk is breadth first, so each version is labelled with its shortest
// distance the first time it is seen and never expanded twice.
func (w *Walker) ParentGraph(ctx context.Context, id objects.VersionID) (map[objects.VersionID]int, error) {
	dist := map[objects.VersionID]int{id: 0}
	queue := []objects.VersionID{id}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := queue[0]
		queue = queue[1:]

		parents, err := w.Parents(cur)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			if _, seen := dist[p]; seen {
				continue
			}
			dist[p] = dist[cur] + 1
			queue = append(queue, p)
		}
	}
	return dist, nil
}

// CommonAncestors returns the minimal common ancestors of v1 and v2: the
// versions reachable from both that are not ancestors of another such
// version. Results are ordered by combined distance, then by ID.
func (w *Walker) CommonAncestors(ctx context.Context, v1, v2 objects.VersionID) ([]objects.VersionID, error) {
	g1, err := w.ParentGraph(ctx, v1)
	if err != nil {
		return nil, err
	}
	g2, err := w.ParentGraph(ctx, v2)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		id   objects.VersionID
		dist int
	}
	var cands []candidate
	for id, d1 := range g1 {
		if d2, ok := g2[id]; ok {
			cands = append(cands, candidate{id: id, dist: d1 + d2})
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].id.String() < cands[j].id.String()
	})

	removed := make(map[objects.VersionID]bool)
	for _, c := range cands {
		if removed[c.id] {
			continue
		}
		ancestors, err := w.ParentGraph(ctx, c.id)
		if err != nil {
			return nil, err
		}
		for id := range ancestors {
			if id != c.id {
				removed[id] = true
			}
		}
	}

	var out []objects.VersionID
	for _, c := range cands {
		if !removed[c.id] {
			out = append(out, c.id)
		}
	}
	return out, nil
}

// IsAncestor reports whether a is reachable from b.
func (w *Walker) IsAncestor(ctx context.Context, a, b objects.VersionID) (bool, error) {
	g, err := w.ParentGraph(ctx, b)
	if err != nil {
		return false, err
	}
	_, ok := g[a]
	return ok, nil
}

// Entry is one line of a log.
type Entry struct {
	Version      *objects.Version
	MergeSources []objects.VersionID
}

// Log follows primary parents from id, newest first. A non-positive limit
// means no limit.
func (w *Walker) Log(ctx context.Context, id objects.VersionID, limit int) ([]Entry, error) {
	var out []Entry
	for cur := id; cur != objects.NoVersion; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		v, err := w.graph.Version(cur)
		if err != nil {
			return nil, err
		}
		sources, err := w.graph.MergeSources(cur)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Version: v, MergeSources: sources})
		cur = v.Parent
	}
	return out, nil
}
