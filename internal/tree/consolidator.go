package tree

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/javanhut/brokkr/internal/config"
	"github.com/javanhut/brokkr/internal/metrics"
	"github.com/javanhut/brokkr/internal/objects"
	"github.com/sirupsen/logrus"
)

// RecordStore is the part of the record store the consolidator reads and
// writes.
type RecordStore interface {
	NearestSnapshot(id objects.VersionID) (*objects.SnapshotRef, []*objects.Record, error)
	AlterationsFor(ref *objects.SnapshotRef) ([]*objects.Alteration, error)
	PersistSnapshot(id objects.VersionID, records []*objects.Record) (uuid.UUID, error)
}

// Options tunes reconstruction.
type Options struct {
	// ChainLimit is the number of versions a delta chain may span before a
	// snapshot is materialized regardless of its alteration count.
	ChainLimit int

	// CacheSize is the number of reconstructed record sets kept in memory.
	CacheSize int

	// ReadOnly disables snapshot materialization.
	ReadOnly bool
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{ChainLimit: 64, CacheSize: 32}
}

// Consolidator reconstructs record sets for versions.
type Consolidator struct {
	store   RecordStore
	opts    Options
	cache   *lru.Cache[objects.VersionID, objects.RecordSet]
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

// New creates a consolidator over store.
func New(store RecordStore, opts Options, logger logrus.FieldLogger, m *metrics.Metrics) (*Consolidator, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultOptions().CacheSize
	}
	if opts.ChainLimit <= 0 {
		opts.ChainLimit = DefaultOptions().ChainLimit
	}
	cache, err := lru.New[objects.VersionID, objects.RecordSet](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create reconstruction cache: %w", err)
	}
	if logger == nil {
		logger = config.DiscardLogger()
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Consolidator{store: store, opts: opts, cache: cache, logger: logger, metrics: m}, nil
}

// Reconstruct returns the exact tree state of version id. The returned set
// is a copy the caller may modify. NoVersion yields an empty set.
func (c *Consolidator) Reconstruct(ctx context.Context, id objects.VersionID) (objects.RecordSet, error) {
	if id == objects.NoVersion {
		return objects.RecordSet{}, nil
	}
	if set, ok := c.cache.Get(id); ok {
		c.metrics.ReconstructionHits.Inc()
		return set.Clone(), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ref, base, err := c.store.NearestSnapshot(id)
	if err != nil {
		return nil, fmt.Errorf("find snapshot for %s: %w", id, err)
	}
	alterations, err := c.store.AlterationsFor(ref)
	if err != nil {
		return nil, fmt.Errorf("load alterations for %s: %w", id, err)
	}

	set, stats, err := Replay(base, alterations)
	if err != nil {
		return nil, fmt.Errorf("reconstruct %s: %w", id, err)
	}

	logger := c.logger.WithField("version", objects.ShortID(id))
	c.metrics.Reconstructions.Inc()
	c.metrics.AlterationsReplayed.Add(float64(stats.Replayed))
	for match, n := range stats.Relinks {
		c.metrics.Relinks.WithLabelValues(string(match)).Add(float64(n))
		logger.WithField("match", match).WithField("count", n).Warn("relinked dangling alterations")
	}
	logger.WithField("base", stats.Base).WithField("count", stats.Replayed).Debug("reconstructed record set")

	if c.shouldMaterialize(ref, stats) {
		if _, err := c.store.PersistSnapshot(id, set.Records()); err != nil {
			logger.WithError(err).Warn("failed to materialize snapshot")
		} else {
			c.metrics.SnapshotsMaterialized.Inc()
			logger.WithField("count", len(set)).Info("materialized snapshot")
		}
	}

	c.cache.Add(id, set)
	return set.Clone(), nil
}

// ShouldSnapshot reports whether a chain of chainLen versions carrying
// replayed alterations on top of a base of baseLen records is worth
// replacing with a snapshot.
func ShouldSnapshot(replayed, baseLen, chainLen, chainLimit int) bool {
	if chainLen == 0 {
		return false
	}
	return replayed > baseLen || chainLen > chainLimit
}

func (c *Consolidator) shouldMaterialize(ref *objects.SnapshotRef, stats *Stats) bool {
	if c.opts.ReadOnly {
		return false
	}
	return ShouldSnapshot(stats.Replayed, stats.Base, len(ref.Chain), c.opts.ChainLimit)
}

// ChainLimit returns the configured chain limit.
func (c *Consolidator) ChainLimit() int {
	return c.opts.ChainLimit
}

// Forget drops a cached reconstruction.
func (c *Consolidator) Forget(id objects.VersionID) {
	c.cache.Remove(id)
}
