// Package aggregator orchestrates signal fetching across all entities and
// buckets: a bounded worker pool over the entity sequence, one normalized
// time series per entity, per-entity failure isolation, and incremental
// handoff to the dataset writer so partial progress survives a crash.
package aggregator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/newsmap/newsignals/internal/dataset"
	"github.com/newsmap/newsignals/internal/source"
	"github.com/newsmap/newsignals/pkg/models"
)

// ReasonTimeout marks entities that were not started before the run
// deadline expired.
const ReasonTimeout = "timeout"

// Options configure a run.
type Options struct {
	// Concurrency bounds the number of entities processed in parallel.
	Concurrency int
	// Deadline is the optional wall-clock budget for the whole run.
	// After it expires no new fetches are started. Zero means no deadline.
	Deadline time.Duration
	// StoriesPerBucket, when positive, samples up to that many stories for
	// each bucket with a non-zero count.
	StoriesPerBucket int
	// Resume reuses existing artifacts in the output directory instead of
	// refetching those entities.
	Resume bool
}

// Summary reports per-status entity counts after a run.
type Summary struct {
	Complete int `json:"complete"`
	Partial  int `json:"partial"`
	Failed   int `json:"failed"`
	// Resumed counts entities loaded from existing artifacts.
	Resumed int `json:"resumed"`
}

// Aggregator drives fetches for all entities and assembles the dataset.
type Aggregator struct {
	fetcher *source.Fetcher
	writer  *dataset.Writer
	log     logrus.FieldLogger
	opts    Options
}

// New creates an aggregator. The fetcher owns all retry/backoff and rate
// limiting; the aggregator only sees succeeded-or-failed-after-policy.
func New(fetcher *source.Fetcher, writer *dataset.Writer, log logrus.FieldLogger, opts Options) *Aggregator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Aggregator{fetcher: fetcher, writer: writer, log: log, opts: opts}
}

// Run fetches all buckets for all entities and returns the finalized
// in-memory dataset plus a status summary. A single entity's fetch failures
// never abort the run; only writer I/O errors are fatal.
//
// Re-running with identical inputs against a fully available backend yields
// a value-identical dataset modulo GeneratedAt: each worker owns its
// entity's pre-allocated point slots and fills them by bucket index, so
// completion order never affects the result.
func (a *Aggregator) Run(ctx context.Context, entities []models.Entity, buckets []models.Bucket, size models.BucketSize) (*models.Dataset, Summary, error) {
	runCtx := ctx
	if a.opts.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.opts.Deadline)
		defer cancel()
	}

	signals := make([]models.EntitySignal, len(entities))
	var resumed int

	var mu sync.Mutex // serializes writer access and the resumed counter

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(a.opts.Concurrency)

	for i, entity := range entities {
		i, entity := i, entity
		g.Go(func() error {
			sig, fromDisk := a.processEntity(gctx, entity, buckets)

			mu.Lock()
			defer mu.Unlock()
			if fromDisk {
				resumed++
				a.writer.MarkSkipped()
			} else if err := a.writer.WriteSignal(sig); err != nil {
				return err
			}
			signals[i] = sig
			a.log.WithFields(logrus.Fields{
				"entity": entity.ID,
				"status": sig.Status,
			}).Info("entity done")
			return nil
		})
	}

	if err := g.Wait(); err != nil && !isDeadline(err) {
		return nil, Summary{}, err
	}

	ds := &models.Dataset{
		Range:         models.DateRange{Start: buckets[0].Start, End: buckets[len(buckets)-1].End},
		BucketSize:    size,
		Signals:       signals,
		GeneratedAt:   time.Now().UTC(),
		SchemaVersion: models.SchemaVersion,
		Source:        a.fetcher.Source().Name(),
	}

	summary := Summary{Resumed: resumed}
	for _, sig := range signals {
		switch sig.Status {
		case models.StatusComplete:
			summary.Complete++
		case models.StatusPartial:
			summary.Partial++
		default:
			summary.Failed++
		}
	}
	a.log.WithFields(logrus.Fields{
		"complete": summary.Complete,
		"partial":  summary.Partial,
		"failed":   summary.Failed,
		"resumed":  summary.Resumed,
	}).Info("aggregation finished")

	return ds, summary, nil
}

// processEntity assembles one entity's signal. The returned signal always
// has one point per bucket in chronological order; failed buckets keep a
// nil value. fromDisk is true when an existing artifact was reused.
func (a *Aggregator) processEntity(ctx context.Context, entity models.Entity, buckets []models.Bucket) (models.EntitySignal, bool) {
	if a.opts.Resume && a.writer.HasArtifact(entity.ID) {
		if sig, err := dataset.LoadSignal(a.writer.Dir(), entity.ID); err == nil && len(sig.Points) == len(buckets) {
			a.log.Debugf("entity %s: artifact exists, skipping fetch", entity.ID)
			return *sig, true
		}
		a.log.Warnf("entity %s: existing artifact unusable, refetching", entity.ID)
	}

	sig := models.EntitySignal{
		Entity: entity,
		Points: make([]models.SignalPoint, len(buckets)),
	}
	for i, b := range buckets {
		sig.Points[i].Bucket = b
	}

	for i, b := range buckets {
		if ctx.Err() != nil {
			// Deadline or cancellation: stop issuing fetches, keep what we have.
			break
		}

		count, err := a.fetcher.Fetch(ctx, entity, b)
		if err != nil {
			a.log.WithFields(logrus.Fields{
				"entity": entity.ID,
				"bucket": b.Start.Format("2006-01-02"),
			}).Warnf("bucket fetch failed: %v", err)
			continue
		}
		sig.Points[i].Value = models.Float64(count)

		if a.opts.StoriesPerBucket > 0 && count > 0 {
			stories, err := a.fetcher.FetchStories(ctx, entity, b, a.opts.StoriesPerBucket)
			if err != nil {
				// Stories are enrichment; a miss does not fail the bucket.
				a.log.Debugf("entity %s: stories fetch failed for %s: %v",
					entity.ID, b.Start.Format("2006-01-02"), err)
			} else {
				sig.Points[i].Stories = stories
			}
		}
	}

	sig.Classify()
	if sig.Status == models.StatusFailed && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		sig.Reason = ReasonTimeout
	}
	return sig, false
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
