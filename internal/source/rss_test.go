package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>search results</title>
<item>
  <title>Apple unveils something</title>
  <link>https://example.com/a</link>
  <pubDate>Sat, 01 Jan 2022 08:00:00 GMT</pubDate>
  <description>&lt;a href="https://example.com/a"&gt;Apple unveils&lt;/a&gt;&amp;nbsp;&lt;font&gt;Example Wire&lt;/font&gt;</description>
</item>
<item>
  <title>Apple earnings</title>
  <link>https://example.com/b</link>
  <pubDate>Sat, 01 Jan 2022 17:30:00 GMT</pubDate>
  <description>Plain text summary</description>
</item>
</channel></rss>`

func TestRSSCount(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, testFeed)
	}))
	defer server.Close()

	rss := NewRSS(server.URL, "en")
	count, err := rss.Count(context.Background(), testEntity(), testBucket())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 items, got %v", count)
	}

	// Name-based matching: the query carries the entity name and the
	// half-open date window.
	if !strings.Contains(gotQuery, `"Apple Inc."`) {
		t.Errorf("query should quote the entity name, got %q", gotQuery)
	}
	if !strings.Contains(gotQuery, "after:2022-01-01") || !strings.Contains(gotQuery, "before:2022-01-02") {
		t.Errorf("query should scope the bucket window, got %q", gotQuery)
	}
}

func TestRSSStories(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testFeed)
	}))
	defer server.Close()

	rss := NewRSS(server.URL, "en")
	stories, err := rss.Stories(context.Background(), testEntity(), testBucket(), 1)
	if err != nil {
		t.Fatalf("Stories: %v", err)
	}
	if len(stories) != 1 {
		t.Fatalf("expected limit to cap stories at 1, got %d", len(stories))
	}
	s := stories[0]
	if s.Title != "Apple unveils something" || s.URL != "https://example.com/a" {
		t.Errorf("unexpected story: %+v", s)
	}
	if strings.Contains(s.Summary, "<") {
		t.Errorf("summary should have HTML stripped, got %q", s.Summary)
	}
	if s.PublishedAt.IsZero() {
		t.Error("expected parsed publish time")
	}
}

func TestRSSServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	rss := NewRSS(server.URL, "en")
	_, err := rss.Count(context.Background(), testEntity(), testBucket())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Error("503 must be transient")
	}
}

func TestCleanHTML(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"plain", "plain"},
		{"<b>bold</b> text", "bold text"},
		{`<a href="x">link</a>`, "link"},
	}
	for _, tt := range tests {
		if got := cleanHTML(tt.in); got != tt.want {
			t.Errorf("cleanHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
