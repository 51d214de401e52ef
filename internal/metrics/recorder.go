// Package metrics exposes commit and reload counters for a workspace on a
// private Prometheus registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Commit outcomes.
const (
	CommitWritten = "written"
	CommitSkipped = "skipped"
	CommitFailed  = "failed"
)

// Reload outcomes.
const (
	ReloadLoaded  = "loaded"
	ReloadMissing = "missing"
	ReloadCorrupt = "corrupt"
	ReloadFailed  = "failed"
)

// Recorder records durability events. A nil *Recorder is a valid no-op.
type Recorder struct {
	registry       *prometheus.Registry
	commits        *prometheus.CounterVec
	reloads        *prometheus.CounterVec
	commitDuration prometheus.Histogram
	snapshotBytes  prometheus.Gauge
}

// New creates a Recorder with its own registry so several workspaces in one
// process never collide on metric names.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pocketdb_commits_total",
			Help: "Commit attempts by outcome.",
		}, []string{"outcome"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pocketdb_reloads_total",
			Help: "Snapshot reloads by outcome.",
		}, []string{"outcome"}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pocketdb_commit_duration_seconds",
			Help:    "Time spent encoding and saving a snapshot.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		snapshotBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pocketdb_snapshot_bytes",
			Help: "Size of the last snapshot written or loaded.",
		}),
	}
	r.registry.MustRegister(r.commits, r.reloads, r.commitDuration, r.snapshotBytes)
	return r
}

// Registry returns the registry holding the workspace metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Commit records a commit attempt. Duration and size are only observed for
// written snapshots.
func (r *Recorder) Commit(outcome string, took time.Duration, size int) {
	if r == nil {
		return
	}
	r.commits.WithLabelValues(outcome).Inc()
	if outcome == CommitWritten {
		r.commitDuration.Observe(took.Seconds())
		r.snapshotBytes.Set(float64(size))
	}
}

// Reload records a reload attempt.
func (r *Recorder) Reload(outcome string, size int) {
	if r == nil {
		return
	}
	r.reloads.WithLabelValues(outcome).Inc()
	if outcome == ReloadLoaded {
		r.snapshotBytes.Set(float64(size))
	}
}

// Commits returns the counter for outcome, for tests and inspectors.
func (r *Recorder) Commits(outcome string) prometheus.Counter {
	return r.commits.WithLabelValues(outcome)
}

// Reloads returns the counter for outcome.
func (r *Recorder) Reloads(outcome string) prometheus.Counter {
	return r.reloads.WithLabelValues(outcome)
}

// SnapshotBytes returns the last snapshot size gauge.
func (r *Recorder) SnapshotBytes() prometheus.Gauge { return r.snapshotBytes }
