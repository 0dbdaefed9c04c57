package dataset

import (
	"fmt"
	"time"

	"github.com/newsmap/newsignals/pkg/models"
	"github.com/newsmap/newsignals/pkg/utils"
)

// ConfigError means the date range or bucket size cannot produce a valid
// bucket axis. Fatal: the run aborts before any fetching.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string { return "config: " + e.Detail }

// Buckets splits a half-open [range.Start, range.End) into an ordered,
// contiguous, non-overlapping bucket sequence covering the range exactly:
// the first bucket starts at range.Start and the last ends at range.End.
//
// Both boundaries must be UTC day boundaries. Daily buckets always partition
// a date-granular range evenly; for weekly buckets the tail may be a shorter
// bucket. The same boundaries are used verbatim in fetch queries, so the
// series axis and the query windows can never disagree.
func Buckets(r models.DateRange, size models.BucketSize) ([]models.Bucket, error) {
	if err := r.Validate(); err != nil {
		return nil, &ConfigError{Detail: err.Error()}
	}
	if !utils.IsMidnight(r.Start) || !utils.IsMidnight(r.End) {
		return nil, &ConfigError{Detail: "date range boundaries must be UTC day boundaries"}
	}

	var step time.Duration
	switch size {
	case models.BucketDaily:
		step = 24 * time.Hour
	case models.BucketWeekly:
		step = 7 * 24 * time.Hour
	default:
		return nil, &ConfigError{Detail: fmt.Sprintf("unknown bucket size %q", size)}
	}

	var buckets []models.Bucket
	for start := r.Start; start.Before(r.End); start = start.Add(step) {
		end := start.Add(step)
		if end.After(r.End) {
			end = r.End
		}
		buckets = append(buckets, models.Bucket{Start: start, End: end})
	}
	return buckets, nil
}

// ParseBucketSize validates a bucket size string from the CLI.
func ParseBucketSize(s string) (models.BucketSize, error) {
	switch models.BucketSize(s) {
	case models.BucketDaily:
		return models.BucketDaily, nil
	case models.BucketWeekly:
		return models.BucketWeekly, nil
	default:
		return "", &ConfigError{Detail: fmt.Sprintf("unknown bucket size %q (want daily or weekly)", s)}
	}
}
