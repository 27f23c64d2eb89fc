// Package metrics exposes Prometheus counters for the history engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Reconstructions       prometheus.Counter
	ReconstructionHits    prometheus.Counter
	SnapshotsMaterialized prometheus.Counter
	AlterationsReplayed   prometheus.Counter
	Relinks               *prometheus.CounterVec
	Merges                *prometheus.CounterVec
	Conflicts             *prometheus.CounterVec
	FilesHashed           prometheus.Counter
	Commits               prometheus.Counter
}

// New registers the engine metrics with reg. A nil registerer yields
// working but unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Reconstructions: f.NewCounter(prometheus.CounterOpts{
			Name: "brokkr_reconstructions_total",
			Help: "Record sets reconstructed from snapshots and alteration chains",
		}),
		ReconstructionHits: f.NewCounter(prometheus.CounterOpts{
			Name: "brokkr_reconstruction_cache_hits_total",
			Help: "Reconstructions served from the in-memory cache",
		}),
		SnapshotsMaterialized: f.NewCounter(prometheus.CounterOpts{
			Name: "brokkr_snapshots_materialized_total",
			Help: "Snapshots persisted to bound alteration chains",
		}),
		AlterationsReplayed: f.NewCounter(prometheus.CounterOpts{
			Name: "brokkr_alterations_replayed_total",
			Help: "Alterations replayed during reconstruction",
		}),
		Relinks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "brokkr_relinks_total",
			Help: "Dangling alteration removals repaired by relinking",
		}, []string{"match"}), // identity, data
		Merges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "brokkr_merges_total",
			Help: "Merges by outcome",
		}, []string{"kind"}), // up_to_date, fast_forward, direct, recursive
		Conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "brokkr_conflicts_total",
			Help: "Conflicts raised during merges",
		}, []string{"kind"}), // tree, content
		FilesHashed: f.NewCounter(prometheus.CounterOpts{
			Name: "brokkr_files_hashed_total",
			Help: "Working files fingerprinted during status scans",
		}),
		Commits: f.NewCounter(prometheus.CounterOpts{
			Name: "brokkr_commits_total",
			Help: "Versions created by commit",
		}),
	}
}

// Discard returns metrics that are not registered anywhere.
func Discard() *Metrics {
	return New(nil)
}
