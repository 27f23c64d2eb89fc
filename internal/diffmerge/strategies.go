package diffmerge

import (
	"context"
	"fmt"

	"github.com/javanhut/brokkr/internal/objects"
)

// ConflictKind distinguishes structural conflicts from content conflicts.
type ConflictKind string

const (
	// TreeConflict is a concurrent delete/modify of the same path.
	TreeConflict ConflictKind = "tree"
	// ContentMergeFailure is a 2-way or 3-way content merge that could not
	// be resolved automatically.
	ContentMergeFailure ConflictKind = "content"
)

// Decision is the outcome a Resolver picks for an unresolved conflict.
type Decision int

const (
	// RaiseConflict leaves the conflict pending for manual resolution.
	RaiseConflict Decision = iota
	// KeepOurs keeps the local side, which may be a deletion.
	KeepOurs
	// KeepTheirs takes the foreign side, which may be a deletion.
	KeepTheirs
)

func (d Decision) String() string {
	switch d {
	case KeepOurs:
		return "ours"
	case KeepTheirs:
		return "theirs"
	default:
		return "conflict"
	}
}

// Question describes a conflict put to a Resolver. Any of the records may
// be nil when that side does not have the path.
type Question struct {
	Path           string
	Kind           ConflictKind
	Classification string
	Base           *objects.Record
	Ours           *objects.Record
	Theirs         *objects.Record
}

// Resolver decides unresolved conflicts. Implementations must not block on
// terminal input; interactive front ends adapt their prompts to this
// interface.
type Resolver interface {
	Resolve(ctx context.Context, q *Question) (Decision, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, q *Question) (Decision, error)

func (f ResolverFunc) Resolve(ctx context.Context, q *Question) (Decision, error) {
	return f(ctx, q)
}

// StrategyType names a fixed resolution policy.
type StrategyType string

const (
	StrategyConflict StrategyType = "conflict" // Leave every conflict pending (default)
	StrategyOurs     StrategyType = "ours"     // Keep the local side
	StrategyTheirs   StrategyType = "theirs"   // Take the foreign side
)

// NewStrategyResolver returns the resolver for a named policy.
func NewStrategyResolver(strategy StrategyType) (Resolver, error) {
	var d Decision
	switch strategy {
	case StrategyConflict, "":
		d = RaiseConflict
	case StrategyOurs:
		d = KeepOurs
	case StrategyTheirs:
		d = KeepTheirs
	default:
		return nil, fmt.Errorf("unknown strategy: %s", strategy)
	}
	return ResolverFunc(func(context.Context, *Question) (Decision, error) {
		return d, nil
	}), nil
}

// WithFallback asks primary first and consults fallback only when primary
// raises a conflict.
func WithFallback(primary, fallback Resolver) Resolver {
	return ResolverFunc(func(ctx context.Context, q *Question) (Decision, error) {
		d, err := primary.Resolve(ctx, q)
		if err != nil || d != RaiseConflict {
			return d, err
		}
		return fallback.Resolve(ctx, q)
	})
}
