// Package source provides news backends for the signal pipeline.
// It defines a common Source interface and implements concrete backends for
// an entity-id based news API and a name-based RSS search feed, plus the
// Fetcher that applies the shared rate budget and retry policy to either.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/newsmap/newsignals/internal/infra"
	"github.com/newsmap/newsignals/pkg/models"
)

// Source is an opaque news backend exposing a time-bucketed count/search
// operation for one entity. Each backend commits to exactly one entity
// matching strategy (id-based or name-based); strategies are never mixed
// within one dataset.
type Source interface {
	// Name returns the backend name recorded in the dataset manifest.
	Name() string

	// Count returns the number of matching articles published within the
	// half-open [bucket.Start, bucket.End) window.
	Count(ctx context.Context, entity models.Entity, bucket models.Bucket) (float64, error)

	// Stories returns up to limit sample articles for the bucket.
	Stories(ctx context.Context, entity models.Entity, bucket models.Bucket, limit int) ([]models.Story, error)

	// Ping verifies connectivity and credentials.
	Ping(ctx context.Context) error
}

// --- Fetch errors ---

// FetchKind classifies a fetch failure for retry purposes.
type FetchKind string

const (
	// KindTransient failures (timeouts, HTTP 429/5xx) may be retried.
	KindTransient FetchKind = "transient"
	// KindPermanent failures (auth, other 4xx) are never retried.
	KindPermanent FetchKind = "permanent"
)

// FetchError is a failed request to the news backend.
type FetchError struct {
	Kind       FetchKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s fetch failure (HTTP %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s fetch failure: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable fetch failure.
func IsTransient(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind == KindTransient
	}
	// Network-level errors without a status are treated as transient.
	var ne net.Error
	return errors.As(err, &ne)
}

// classifyHTTP maps an HTTP status to a FetchError.
func classifyHTTP(status int, body string) *FetchError {
	kind := KindPermanent
	if status == http.StatusTooManyRequests || status >= 500 {
		kind = KindTransient
	}
	return &FetchError{
		Kind:       kind,
		StatusCode: status,
		Err:        fmt.Errorf("%s", body),
	}
}

// --- Shared HTTP helpers ---

// HTTPClient is the pre-configured client used by all backends.
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

// doGet performs a GET request and returns the response body. Non-2xx
// responses are classified into transient/permanent FetchErrors. The caller
// must close the returned ReadCloser.
func doGet(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindPermanent, Err: fmt.Errorf("create request: %w", err)}
	}

	req.Header.Set("Accept", "application/json, application/xml, */*")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := HTTPClient.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: KindTransient, Err: fmt.Errorf("GET %s: %w", url, err)}
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, classifyHTTP(resp.StatusCode, string(body))
	}

	return resp.Body, nil
}

// --- Fetcher ---

// Fetcher wraps a Source with the shared rate budget, per-request timeout
// and bounded exponential-backoff retries. All retry logic lives here; the
// aggregator only sees succeeded-or-failed-after-policy.
type Fetcher struct {
	source  Source
	limiter *infra.Limiter
	retry   infra.RetryPolicy
	timeout time.Duration
}

// NewFetcher creates a fetcher over src. The limiter must be the single
// process-wide instance shared by all fetchers.
func NewFetcher(src Source, limiter *infra.Limiter, retry infra.RetryPolicy, timeout time.Duration) *Fetcher {
	return &Fetcher{source: src, limiter: limiter, retry: retry, timeout: timeout}
}

// Source returns the wrapped backend.
func (f *Fetcher) Source() Source { return f.source }

// Fetch returns the article count for one entity in one bucket, applying
// the rate budget and retrying transient failures.
func (f *Fetcher) Fetch(ctx context.Context, entity models.Entity, bucket models.Bucket) (float64, error) {
	var count float64
	err := f.retry.Retry(ctx, func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		c, err := f.source.Count(reqCtx, entity, bucket)
		if err != nil {
			return err
		}
		count = c
		return nil
	}, IsTransient)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// FetchStories returns up to limit sample stories for the bucket, under the
// same rate budget and retry policy as Fetch.
func (f *Fetcher) FetchStories(ctx context.Context, entity models.Entity, bucket models.Bucket, limit int) ([]models.Story, error) {
	var stories []models.Story
	err := f.retry.Retry(ctx, func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		s, err := f.source.Stories(reqCtx, entity, bucket, limit)
		if err != nil {
			return err
		}
		stories = s
		return nil
	}, IsTransient)
	if err != nil {
		return nil, err
	}
	return stories, nil
}
