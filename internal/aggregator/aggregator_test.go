package aggregator

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/newsmap/newsignals/internal/dataset"
	"github.com/newsmap/newsignals/internal/infra"
	"github.com/newsmap/newsignals/internal/logger"
	"github.com/newsmap/newsignals/internal/source"
	"github.com/newsmap/newsignals/pkg/models"
)

var rangeStart = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeSource serves deterministic per-entity bucket values and scripted
// failures, keyed by bucket index. Safe for concurrent use.
type fakeSource struct {
	mu     sync.Mutex
	counts map[string][]float64    // entity id -> value per bucket index
	fail   map[string]map[int]bool // entity id -> bucket index -> always fail
	calls  map[string]int          // entity id -> Count invocations
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		counts: make(map[string][]float64),
		fail:   make(map[string]map[int]bool),
		calls:  make(map[string]int),
	}
}

func (f *fakeSource) failBucket(id string, idx int) {
	if f.fail[id] == nil {
		f.fail[id] = make(map[int]bool)
	}
	f.fail[id][idx] = true
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Count(_ context.Context, entity models.Entity, bucket models.Bucket) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[entity.ID]++

	idx := int(bucket.Start.Sub(rangeStart).Hours() / 24)
	if f.fail[entity.ID][idx] {
		return 0, &source.FetchError{Kind: source.KindPermanent, StatusCode: 400}
	}
	values, ok := f.counts[entity.ID]
	if !ok || idx >= len(values) {
		return 0, &source.FetchError{Kind: source.KindPermanent, StatusCode: 404}
	}
	return values[idx], nil
}

func (f *fakeSource) Stories(context.Context, models.Entity, models.Bucket, int) ([]models.Story, error) {
	return []models.Story{{Title: "stub", URL: "https://example.com"}}, nil
}

func (f *fakeSource) Ping(context.Context) error { return nil }

func dailyBuckets(t *testing.T, days int) []models.Bucket {
	t.Helper()
	r := models.DateRange{Start: rangeStart, End: rangeStart.AddDate(0, 0, days)}
	buckets, err := dataset.Buckets(r, models.BucketDaily)
	if err != nil {
		t.Fatal(err)
	}
	return buckets
}

func newTestAggregator(t *testing.T, src source.Source, dir string, opts Options) *Aggregator {
	t.Helper()
	writer, err := dataset.NewWriter(dir, true, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	fetcher := source.NewFetcher(src,
		infra.NewLimiter(10000, 100),
		infra.RetryPolicy{MaxRetries: 0, BaseDelay: time.Millisecond},
		time.Second,
	)
	if opts.Concurrency == 0 {
		opts.Concurrency = 3
	}
	return New(fetcher, writer, logger.Discard(), opts)
}

func entities(ids ...string) []models.Entity {
	out := make([]models.Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Entity{ID: id, Name: "Entity " + id})
	}
	return out
}

func values(sig models.EntitySignal) []*float64 {
	out := make([]*float64, len(sig.Points))
	for i, p := range sig.Points {
		out[i] = p.Value
	}
	return out
}

func TestRunEndToEnd(t *testing.T) {
	src := newFakeSource()
	src.counts["E1"] = []float64{1, 2, 3}
	src.counts["E2"] = []float64{0, 0, 0}
	src.counts["E3"] = []float64{5, 5, 5}
	src.failBucket("E3", 1)

	dir := t.TempDir()
	agg := newTestAggregator(t, src, dir, Options{})

	ds, summary, err := agg.Run(context.Background(), entities("E1", "E2", "E3"), dailyBuckets(t, 3), models.BucketDaily)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Complete != 2 || summary.Partial != 1 || summary.Failed != 0 {
		t.Errorf("expected 2 complete / 1 partial / 0 failed, got %+v", summary)
	}

	m, _, err := agg.writer.Finalize(ds, "e2e")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	// 3 entity artifacts + 1 manifest.
	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 4 {
		t.Errorf("expected 4 files, got %d", len(files))
	}

	statuses := make(map[string]models.SignalStatus)
	for _, e := range m.Entities {
		statuses[e.ID] = e.Status
	}
	if statuses["E1"] != models.StatusComplete || statuses["E2"] != models.StatusComplete {
		t.Errorf("E1/E2 should be complete: %v", statuses)
	}
	if statuses["E3"] != models.StatusPartial {
		t.Errorf("E3 should be partial: %v", statuses)
	}

	// E3's artifact must carry an explicit null at bucket 2.
	sig, err := dataset.LoadSignal(dir, "E3")
	if err != nil {
		t.Fatal(err)
	}
	v := values(*sig)
	if v[1] != nil {
		t.Error("failed bucket must be null in the artifact")
	}
	if v[0] == nil || *v[0] != 5 || v[2] == nil || *v[2] != 5 {
		t.Errorf("surviving buckets must keep their values: %v", v)
	}

	// A value of zero is a real measurement, not a hole.
	e2, _ := dataset.LoadSignal(dir, "E2")
	for i, p := range e2.Points {
		if p.Value == nil || *p.Value != 0 {
			t.Errorf("E2 bucket %d: expected explicit 0", i)
		}
	}
}

func TestRunIdempotent(t *testing.T) {
	run := func(dir string) *models.Dataset {
		src := newFakeSource()
		src.counts["E1"] = []float64{3, 1, 4, 1, 5}
		src.counts["E2"] = []float64{9, 2, 6, 5, 3}
		agg := newTestAggregator(t, src, dir, Options{Concurrency: 2})
		ds, _, err := agg.Run(context.Background(), entities("E1", "E2"), dailyBuckets(t, 5), models.BucketDaily)
		if err != nil {
			t.Fatal(err)
		}
		return ds
	}

	first := run(t.TempDir())
	second := run(t.TempDir())

	for i := range first.Signals {
		a, b := first.Signals[i], second.Signals[i]
		if a.Entity != b.Entity || a.Status != b.Status {
			t.Fatalf("signal %d differs between runs", i)
		}
		va, vb := values(a), values(b)
		for j := range va {
			if *va[j] != *vb[j] {
				t.Errorf("entity %s bucket %d: %v vs %v", a.Entity.ID, j, *va[j], *vb[j])
			}
		}
	}
}

func TestRunAllBucketsFailIsolation(t *testing.T) {
	src := newFakeSource()
	src.counts["GOOD"] = []float64{1, 2, 3}
	// BAD has no counts at all: every bucket fails permanently.

	agg := newTestAggregator(t, src, t.TempDir(), Options{})
	ds, summary, err := agg.Run(context.Background(), entities("BAD", "GOOD"), dailyBuckets(t, 3), models.BucketDaily)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 || summary.Complete != 1 {
		t.Errorf("expected 1 failed / 1 complete, got %+v", summary)
	}

	bad, good := ds.Signals[0], ds.Signals[1]
	if bad.Status != models.StatusFailed {
		t.Errorf("expected BAD failed, got %s", bad.Status)
	}
	for i, v := range values(bad) {
		if v != nil {
			t.Errorf("BAD bucket %d should be null", i)
		}
	}
	if good.Status != models.StatusComplete {
		t.Errorf("one entity's failures must not affect another: %s", good.Status)
	}
}

func TestRunSingleBucketFailure(t *testing.T) {
	src := newFakeSource()
	counts := make([]float64, 10)
	for i := range counts {
		counts[i] = float64(i + 1)
	}
	src.counts["E1"] = counts
	src.failBucket("E1", 2) // bucket 3 of 10

	agg := newTestAggregator(t, src, t.TempDir(), Options{})
	ds, _, err := agg.Run(context.Background(), entities("E1"), dailyBuckets(t, 10), models.BucketDaily)
	if err != nil {
		t.Fatal(err)
	}

	sig := ds.Signals[0]
	if sig.Status != models.StatusPartial || sig.FailedBuckets != 1 {
		t.Fatalf("expected partial with 1 failed bucket, got %s/%d", sig.Status, sig.FailedBuckets)
	}
	for i, p := range sig.Points {
		// Order must be chronological regardless of completion order.
		want := rangeStart.AddDate(0, 0, i)
		if !p.Bucket.Start.Equal(want) {
			t.Errorf("bucket %d out of order: %v", i, p.Bucket.Start)
		}
		if i == 2 {
			if p.Value != nil {
				t.Error("bucket 3 must be null")
			}
			continue
		}
		if p.Value == nil || *p.Value != float64(i+1) {
			t.Errorf("bucket %d lost its value", i)
		}
	}
}

func TestRunDeadlineMarksUnstartedEntitiesTimedOut(t *testing.T) {
	src := newFakeSource()
	src.counts["E1"] = []float64{1, 2, 3}
	src.counts["E2"] = []float64{1, 2, 3}

	agg := newTestAggregator(t, src, t.TempDir(), Options{
		Concurrency: 1,
		Deadline:    time.Nanosecond, // expired before any fetch starts
	})
	ds, summary, err := agg.Run(context.Background(), entities("E1", "E2"), dailyBuckets(t, 3), models.BucketDaily)
	if err != nil {
		t.Fatalf("an expired deadline must finalize, not fail: %v", err)
	}
	if summary.Failed != 2 {
		t.Errorf("expected both entities failed, got %+v", summary)
	}
	for _, sig := range ds.Signals {
		if sig.Status != models.StatusFailed {
			t.Errorf("entity %s: expected failed, got %s", sig.Entity.ID, sig.Status)
		}
		if sig.Reason != ReasonTimeout {
			t.Errorf("entity %s: expected timeout reason, got %q", sig.Entity.ID, sig.Reason)
		}
	}

	// The run must still finalize into a loadable dataset.
	if _, _, err := agg.writer.Finalize(ds, "deadline"); err != nil {
		t.Fatalf("Finalize after deadline: %v", err)
	}
}

func TestRunResumeSkipsExistingArtifacts(t *testing.T) {
	dir := t.TempDir()

	// First run produces E1's artifact.
	first := newFakeSource()
	first.counts["E1"] = []float64{7, 8, 9}
	agg := newTestAggregator(t, first, dir, Options{})
	if _, _, err := agg.Run(context.Background(), entities("E1"), dailyBuckets(t, 3), models.BucketDaily); err != nil {
		t.Fatal(err)
	}

	// Second run adds E2 with resume: E1 must not be refetched.
	second := newFakeSource()
	second.counts["E1"] = []float64{0, 0, 0} // would differ if refetched
	second.counts["E2"] = []float64{1, 1, 1}
	agg2 := newTestAggregator(t, second, dir, Options{Resume: true})
	ds, summary, err := agg2.Run(context.Background(), entities("E1", "E2"), dailyBuckets(t, 3), models.BucketDaily)
	if err != nil {
		t.Fatal(err)
	}

	if summary.Resumed != 1 {
		t.Errorf("expected 1 resumed entity, got %d", summary.Resumed)
	}
	if second.calls["E1"] != 0 {
		t.Errorf("E1 should be loaded from disk, saw %d fetches", second.calls["E1"])
	}
	if v := values(ds.Signals[0]); *v[0] != 7 {
		t.Errorf("resumed signal must keep first run's values, got %v", *v[0])
	}
	if ds.Signals[1].Status != models.StatusComplete {
		t.Errorf("new entity should still be fetched: %s", ds.Signals[1].Status)
	}
}

func TestRunStoriesSampledForNonEmptyBuckets(t *testing.T) {
	src := newFakeSource()
	src.counts["E1"] = []float64{0, 2, 0}

	agg := newTestAggregator(t, src, t.TempDir(), Options{StoriesPerBucket: 3})
	ds, _, err := agg.Run(context.Background(), entities("E1"), dailyBuckets(t, 3), models.BucketDaily)
	if err != nil {
		t.Fatal(err)
	}

	points := ds.Signals[0].Points
	if len(points[0].Stories) != 0 || len(points[2].Stories) != 0 {
		t.Error("empty buckets must not carry stories")
	}
	if len(points[1].Stories) == 0 {
		t.Error("non-empty bucket should carry sampled stories")
	}

	// Stories survive the artifact round trip.
	sig, err := dataset.LoadSignal(agg.writer.Dir(), "E1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sig.Points[1].Stories) == 0 {
		t.Error("stories missing from artifact")
	}
}
