package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/newsmap/newsignals/pkg/models"
)

// NewsAPI is an Aylien-style news API backend. Entity matching is id-based:
// queries are scoped by the entity's stable id (Wikidata), not its surface
// name, so renames and ambiguous names do not skew the signal.
type NewsAPI struct {
	baseURL string
	appID   string
	apiKey  string
}

// NewNewsAPI creates the news API backend.
func NewNewsAPI(baseURL, appID, apiKey string) *NewsAPI {
	return &NewsAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		appID:   appID,
		apiKey:  apiKey,
	}
}

// Name returns the backend name.
func (n *NewsAPI) Name() string { return "newsapi" }

// timeSeriesResponse is the JSON shape of the time series endpoint.
type timeSeriesResponse struct {
	TimeSeries []struct {
		PublishedAt time.Time `json:"published_at"`
		Count       int       `json:"count"`
	} `json:"time_series"`
}

// storiesResponse is the JSON shape of the stories endpoint.
type storiesResponse struct {
	Stories []struct {
		Title       string    `json:"title"`
		PublishedAt time.Time `json:"published_at"`
		Links       struct {
			Permalink string `json:"permalink"`
		} `json:"links"`
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Summary struct {
			Sentences []string `json:"sentences"`
		} `json:"summary"`
	} `json:"stories"`
}

// Count returns the article volume for the entity within the bucket window.
func (n *NewsAPI) Count(ctx context.Context, entity models.Entity, bucket models.Bucket) (float64, error) {
	q := url.Values{}
	q.Set("entity.id", entity.ID)
	q.Set("published_at.start", bucket.Start.UTC().Format(time.RFC3339))
	q.Set("published_at.end", bucket.End.UTC().Format(time.RFC3339))
	q.Set("period", "+1DAY")
	q.Set("language", "en")

	body, err := doGet(ctx, n.baseURL+"/time_series?"+q.Encode(), n.headers())
	if err != nil {
		return 0, err
	}
	defer body.Close()

	var resp timeSeriesResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return 0, &FetchError{Kind: KindPermanent, Err: fmt.Errorf("decode time series: %w", err)}
	}

	total := 0
	for _, p := range resp.TimeSeries {
		total += p.Count
	}
	return float64(total), nil
}

// Stories returns up to limit articles for the entity within the bucket.
func (n *NewsAPI) Stories(ctx context.Context, entity models.Entity, bucket models.Bucket, limit int) ([]models.Story, error) {
	q := url.Values{}
	q.Set("entity.id", entity.ID)
	q.Set("published_at.start", bucket.Start.UTC().Format(time.RFC3339))
	q.Set("published_at.end", bucket.End.UTC().Format(time.RFC3339))
	q.Set("per_page", fmt.Sprintf("%d", limit))
	q.Set("sort_by", "relevance")
	q.Set("language", "en")

	body, err := doGet(ctx, n.baseURL+"/stories?"+q.Encode(), n.headers())
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var resp storiesResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, &FetchError{Kind: KindPermanent, Err: fmt.Errorf("decode stories: %w", err)}
	}

	stories := make([]models.Story, 0, len(resp.Stories))
	for _, s := range resp.Stories {
		stories = append(stories, models.Story{
			Title:       s.Title,
			URL:         s.Links.Permalink,
			Source:      s.Source.Name,
			PublishedAt: s.PublishedAt,
			Summary:     strings.Join(s.Summary.Sentences, " "),
		})
	}
	return stories, nil
}

// Ping verifies connectivity and credentials with a minimal one-day query.
func (n *NewsAPI) Ping(ctx context.Context) error {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	_, err := n.Count(ctx, models.Entity{ID: "Q312", Name: "Apple Inc."}, models.Bucket{
		Start: end.AddDate(0, 0, -1),
		End:   end,
	})
	return err
}

func (n *NewsAPI) headers() map[string]string {
	return map[string]string{
		"X-Application-ID":  n.appID,
		"X-Application-Key": n.apiKey,
	}
}
