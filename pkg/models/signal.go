// Package models defines the data model shared across the newsignals pipeline:
// entities, time buckets, per-entity signals, and the dataset/manifest schema
// that is serialized to disk.
package models

import (
	"fmt"
	"time"
)

// SchemaVersion is the on-disk dataset schema version. Bump only on
// incompatible changes to the artifact or manifest layout.
const SchemaVersion = "1"

// Entity is one tracked subject, keyed by a stable identifier
// (e.g. a Wikidata id like "Q312").
type Entity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DateRange is a half-open [Start, End) date interval. Both boundaries are
// UTC midnights; End is exclusive everywhere, including in backend queries.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate checks the Start < End invariant.
func (r DateRange) Validate() error {
	if !r.Start.Before(r.End) {
		return fmt.Errorf("invalid date range: start %s is not before end %s",
			r.Start.Format("2006/01/02"), r.End.Format("2006/01/02"))
	}
	return nil
}

// Days returns the number of whole days covered by the range.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours() / 24)
}

// BucketSize is the width of one aggregation bucket.
type BucketSize string

const (
	BucketDaily  BucketSize = "daily"
	BucketWeekly BucketSize = "weekly"
)

// Bucket is one half-open [Start, End) interval on the dataset's time axis.
type Bucket struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Story is a sampled news article attached to a bucket.
type Story struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Summary     string    `json:"summary,omitempty"`
}

// SignalPoint is one metric value for one entity in one bucket.
// Value is nil when the fetch for this bucket failed after the retry budget;
// missing values are explicit nulls, never omitted positions.
type SignalPoint struct {
	Bucket  Bucket   `json:"bucket"`
	Value   *float64 `json:"value"`
	Stories []Story  `json:"stories,omitempty"`
}

// SignalStatus classifies how completely an entity's signal was fetched.
type SignalStatus string

const (
	// StatusComplete means every bucket was fetched successfully.
	StatusComplete SignalStatus = "complete"
	// StatusPartial means some, but not all, buckets are missing.
	StatusPartial SignalStatus = "partial"
	// StatusFailed means no bucket could be fetched.
	StatusFailed SignalStatus = "failed"
)

// EntitySignal is one entity's bucketed time series. Points are always in
// chronological bucket order regardless of fetch completion order.
type EntitySignal struct {
	Entity Entity        `json:"entity"`
	Points []SignalPoint `json:"points"`
	Status SignalStatus  `json:"status"`
	// FailedBuckets counts buckets left without a value.
	FailedBuckets int `json:"failed_buckets,omitempty"`
	// Reason carries a short failure cause for failed entities
	// (e.g. "timeout" when the run deadline expired before the entity started).
	Reason string `json:"reason,omitempty"`
}

// Classify sets Status and FailedBuckets from the current Points.
func (s *EntitySignal) Classify() {
	missing := 0
	for _, p := range s.Points {
		if p.Value == nil {
			missing++
		}
	}
	s.FailedBuckets = missing
	switch {
	case missing == 0:
		s.Status = StatusComplete
	case missing == len(s.Points):
		s.Status = StatusFailed
	default:
		s.Status = StatusPartial
	}
}

// Dataset is the in-memory result of one generation run.
type Dataset struct {
	Range         DateRange      `json:"date_range"`
	BucketSize    BucketSize     `json:"bucket_size"`
	Signals       []EntitySignal `json:"signals"`
	GeneratedAt   time.Time      `json:"generated_at"`
	SchemaVersion string         `json:"schema_version"`
	// Source names the backend that produced the values. It also pins the
	// entity matching strategy (id-based for newsapi, name-based for rss),
	// which must never be mixed within one dataset.
	Source string `json:"source"`
}

// ManifestEntry is one entity's row in the manifest.
type ManifestEntry struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Status        SignalStatus `json:"status"`
	FailedBuckets int          `json:"failed_buckets,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	// Artifact is the entity's artifact filename relative to the dataset dir.
	Artifact string `json:"artifact"`
}

// Manifest is the dataset-level metadata artifact. It is written last;
// its presence signals that generation completed.
type Manifest struct {
	Name          string          `json:"name"`
	SchemaVersion string          `json:"schema_version"`
	Range         DateRange       `json:"date_range"`
	BucketSize    BucketSize      `json:"bucket_size"`
	Source        string          `json:"source"`
	GeneratedAt   time.Time       `json:"generated_at"`
	Entities      []ManifestEntry `json:"entities"`
}

// Counts returns the number of complete, partial and failed entities.
func (m *Manifest) Counts() (complete, partial, failed int) {
	for _, e := range m.Entities {
		switch e.Status {
		case StatusComplete:
			complete++
		case StatusPartial:
			partial++
		case StatusFailed:
			failed++
		}
	}
	return
}

// Float64 returns a pointer to v. Convenience for building SignalPoints.
func Float64(v float64) *float64 { return &v }
