package dataset

import (
	"errors"
	"testing"
	"time"

	"github.com/newsmap/newsignals/pkg/models"
)

func day(d int) time.Time {
	return time.Date(2022, 1, d, 0, 0, 0, 0, time.UTC)
}

// checkCover verifies the bucket axis invariants: first bucket starts at
// range start, last ends at range end, no gaps, no overlaps.
func checkCover(t *testing.T, r models.DateRange, buckets []models.Bucket) {
	t.Helper()
	if len(buckets) == 0 {
		t.Fatal("no buckets")
	}
	if !buckets[0].Start.Equal(r.Start) {
		t.Errorf("first bucket starts at %v, want %v", buckets[0].Start, r.Start)
	}
	if !buckets[len(buckets)-1].End.Equal(r.End) {
		t.Errorf("last bucket ends at %v, want %v", buckets[len(buckets)-1].End, r.End)
	}
	for i := 1; i < len(buckets); i++ {
		if !buckets[i].Start.Equal(buckets[i-1].End) {
			t.Errorf("gap or overlap between bucket %d and %d", i-1, i)
		}
	}
	for i, b := range buckets {
		if !b.Start.Before(b.End) {
			t.Errorf("bucket %d is empty or inverted", i)
		}
	}
}

func TestBucketsDaily(t *testing.T) {
	r := models.DateRange{Start: day(1), End: day(4)}
	buckets, err := Buckets(r, models.BucketDaily)
	if err != nil {
		t.Fatalf("Buckets: %v", err)
	}
	if len(buckets) != 3 {
		t.Fatalf("expected 3 daily buckets, got %d", len(buckets))
	}
	checkCover(t, r, buckets)
}

func TestBucketsDailyLongRange(t *testing.T) {
	r := models.DateRange{Start: day(1), End: time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC)}
	buckets, err := Buckets(r, models.BucketDaily)
	if err != nil {
		t.Fatalf("Buckets: %v", err)
	}
	if len(buckets) != r.Days() {
		t.Errorf("expected %d buckets, got %d", r.Days(), len(buckets))
	}
	checkCover(t, r, buckets)
}

func TestBucketsWeeklyTail(t *testing.T) {
	// 10 days: one full week plus a 3-day tail bucket.
	r := models.DateRange{Start: day(1), End: day(11)}
	buckets, err := Buckets(r, models.BucketWeekly)
	if err != nil {
		t.Fatalf("Buckets: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("expected 2 weekly buckets, got %d", len(buckets))
	}
	checkCover(t, r, buckets)
	if got := buckets[1].End.Sub(buckets[1].Start); got != 3*24*time.Hour {
		t.Errorf("expected 3-day tail bucket, got %v", got)
	}
}

func TestBucketsInvalidRange(t *testing.T) {
	if _, err := Buckets(models.DateRange{Start: day(4), End: day(1)}, models.BucketDaily); err == nil {
		t.Error("inverted range accepted")
	}
	var ce *ConfigError
	_, err := Buckets(models.DateRange{Start: day(1), End: day(1)}, models.BucketDaily)
	if err == nil {
		t.Fatal("empty range accepted")
	}
	if !errors.As(err, &ce) {
		t.Errorf("expected ConfigError, got %T", err)
	}
}

func TestBucketsNonMidnightBoundary(t *testing.T) {
	r := models.DateRange{
		Start: day(1).Add(6 * time.Hour),
		End:   day(4),
	}
	if _, err := Buckets(r, models.BucketDaily); err == nil {
		t.Error("non-midnight boundary accepted")
	}
}

func TestBucketsUnknownSize(t *testing.T) {
	if _, err := Buckets(models.DateRange{Start: day(1), End: day(4)}, "hourly"); err == nil {
		t.Error("unknown bucket size accepted")
	}
}

func TestParseBucketSize(t *testing.T) {
	if size, err := ParseBucketSize("daily"); err != nil || size != models.BucketDaily {
		t.Errorf("daily: got %v, %v", size, err)
	}
	if size, err := ParseBucketSize("weekly"); err != nil || size != models.BucketWeekly {
		t.Errorf("weekly: got %v, %v", size, err)
	}
	if _, err := ParseBucketSize("monthly"); err == nil {
		t.Error("monthly accepted")
	}
}
