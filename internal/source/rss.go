package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/newsmap/newsignals/pkg/models"
)

// RSS is a name-based backend over a Google-News-style RSS search feed.
// Entity matching is free-text: the entity's display name is the query,
// scoped to the bucket window with after/before qualifiers. Signal values
// are item counts, capped by the feed page size, so this backend is a
// coarser source than the id-based news API.
type RSS struct {
	baseURL  string
	language string
	parser   *gofeed.Parser
}

// NewRSS creates the RSS search backend.
func NewRSS(baseURL, language string) *RSS {
	if language == "" {
		language = "en"
	}
	return &RSS{
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: language,
		parser:   gofeed.NewParser(),
	}
}

// Name returns the backend name.
func (r *RSS) Name() string { return "rss" }

// feedURL builds the search feed URL for one entity and bucket. The
// after/before qualifiers are date-granular, matching the half-open
// [start, end) convention: after is inclusive of start's day, before
// excludes end's day.
func (r *RSS) feedURL(entity models.Entity, bucket models.Bucket) string {
	query := fmt.Sprintf("%q after:%s before:%s",
		entity.Name,
		bucket.Start.UTC().Format("2006-01-02"),
		bucket.End.UTC().Format("2006-01-02"),
	)
	q := url.Values{}
	q.Set("q", query)
	q.Set("hl", r.language)
	return r.baseURL + "?" + q.Encode()
}

func (r *RSS) fetchFeed(ctx context.Context, entity models.Entity, bucket models.Bucket) (*gofeed.Feed, error) {
	body, err := doGet(ctx, r.feedURL(entity, bucket), nil)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	feed, err := r.parser.Parse(body)
	if err != nil {
		return nil, &FetchError{Kind: KindPermanent, Err: fmt.Errorf("parse feed: %w", err)}
	}
	return feed, nil
}

// Count returns the number of feed items for the entity within the bucket.
func (r *RSS) Count(ctx context.Context, entity models.Entity, bucket models.Bucket) (float64, error) {
	feed, err := r.fetchFeed(ctx, entity, bucket)
	if err != nil {
		return 0, err
	}
	return float64(len(feed.Items)), nil
}

// Stories returns up to limit feed items as stories. Item descriptions are
// HTML in most news feeds; they are reduced to plain text.
func (r *RSS) Stories(ctx context.Context, entity models.Entity, bucket models.Bucket, limit int) ([]models.Story, error) {
	feed, err := r.fetchFeed(ctx, entity, bucket)
	if err != nil {
		return nil, err
	}

	items := feed.Items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	stories := make([]models.Story, 0, len(items))
	for _, item := range items {
		s := models.Story{
			Title:   item.Title,
			URL:     item.Link,
			Summary: cleanHTML(item.Description),
		}
		if item.PublishedParsed != nil {
			s.PublishedAt = item.PublishedParsed.UTC()
		}
		stories = append(stories, s)
	}
	return stories, nil
}

// Ping fetches the feed for a throwaway query to verify reachability.
func (r *RSS) Ping(ctx context.Context) error {
	body, err := doGet(ctx, r.baseURL+"?q=news&hl="+r.language, nil)
	if err != nil {
		return err
	}
	return body.Close()
}

// cleanHTML strips HTML tags from a string using goquery.
func cleanHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}
