package crawler

import (
	"context"
	"time"
)

// FetchRequest asks a Fetcher for one page. Render requests a headless
// browser pass for pages whose content needs JavaScript.
type FetchRequest struct {
	URL    string
	Render bool
}

// FetchResponse carries a fetched page. A nil error with an empty HTML
// body, or a StatusCode >= 400, still counts as a fetch failure for the
// job pipeline.
type FetchResponse struct {
	HTML       string
	FinalURL   string
	StatusCode int
	Duration   time.Duration
}

// Fetcher retrieves pages. Implementations own politeness and robots
// handling.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// SitemapLister returns the sitemap URLs a site advertises, usually from
// robots.txt.
type SitemapLister interface {
	SitemapURLs(ctx context.Context) ([]string, error)
}

// Document is the structured result of extracting one page.
type Document struct {
	URL      string            `json:"url"`
	Type     JobType           `json:"type"`
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content,omitempty"`
	Date     string            `json:"date,omitempty"`
	Author   string            `json:"author,omitempty"`
	Items    []ListItem        `json:"items,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListItem is one entry of a list page.
type ListItem struct {
	Title   string `json:"title,omitempty"`
	Link    string `json:"link,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Extractor pulls structured content out of a fetched page.
type Extractor interface {
	Extract(ctx context.Context, html, url string, jobType JobType) (Document, error)
}

// Classification labels extracted content.
type Classification struct {
	ContentType string
	Domains     []string
}

// Classifier assigns content type and domain labels to extracted text.
type Classifier interface {
	Classify(ctx context.Context, content string) (Classification, error)
}

// Record is what gets persisted for a processed page.
type Record struct {
	URL         string
	FinalURL    string
	StatusCode  int
	Document    Document
	ContentType string
	Domains     []string
	FetchedAt   time.Time
}

// Store persists records, deduplicating by content hash. Save returns the
// stored id, or the existing id when the content was seen before.
type Store interface {
	Save(ctx context.Context, record Record) (string, error)
}

// Publisher notifies downstream consumers that a record was stored.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }
