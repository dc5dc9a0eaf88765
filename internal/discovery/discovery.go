package discovery

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"smartcrawl/internal/crawler"
)

// Selectors learned from a page apply to another URL when their
// similarity exceeds this threshold.
const selectorSimilarityThreshold = 0.7

const defaultMaxSamplePages = 50

// Discovery samples a site, learns its URL patterns and page selectors,
// and answers job-typing and selector queries for the orchestrator.
type Discovery struct {
	baseURL  string
	host     string
	fetcher  crawler.Fetcher
	maxPages int
	logger   *zap.Logger

	urlPatternsPath  string
	htmlPatternsPath string

	mu         sync.RWMutex
	urls       *URLStructure
	html       *HTMLPatternFinder
	discovered bool
}

// Options configures a Discovery.
type Options struct {
	// Dir is where learned patterns persist between runs. Empty
	// disables persistence.
	Dir string
	// MaxPages caps the sampling crawl.
	MaxPages int
}

// New constructs a Discovery for one site and restores previously
// learned patterns when they exist on disk.
func New(baseURL string, fetcher crawler.Fetcher, opts Options, logger *zap.Logger) (*Discovery, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxSamplePages
	}

	d := &Discovery{
		baseURL:  baseURL,
		host:     strings.ToLower(parsed.Host),
		fetcher:  fetcher,
		maxPages: opts.MaxPages,
		logger:   logger,
		urls:     NewURLStructure(baseURL, logger),
		html:     NewHTMLPatternFinder(logger),
	}
	if opts.Dir != "" {
		d.urlPatternsPath = filepath.Join(opts.Dir, d.host+"_url_patterns.json")
		d.htmlPatternsPath = filepath.Join(opts.Dir, d.host+"_html_patterns.json")
		d.loadStored()
	}
	return d, nil
}

func (d *Discovery) loadStored() {
	urlErr := d.urls.Load(d.urlPatternsPath)
	htmlErr := d.html.Load(d.htmlPatternsPath)
	if urlErr == nil && htmlErr == nil {
		d.discovered = true
		d.logger.Info("restored structure patterns", zap.String("host", d.host))
	}
}

// Discovered reports whether patterns are available, learned or
// restored.
func (d *Discovery) Discovered() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.discovered
}

// Discover runs the sampling crawl: it walks up to MaxPages pages
// breadth-first from the base URL, feeds every link into the URL model
// and every page into the HTML analyzer, then derives patterns and
// persists them.
func (d *Discovery) Discover(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.logger.Info("starting structure discovery",
		zap.String("base_url", d.baseURL),
		zap.Int("max_pages", d.maxPages),
	)

	visited := map[string]struct{}{}
	frontier := []string{d.baseURL}
	pagesVisited := 0

	for len(frontier) > 0 && pagesVisited < d.maxPages {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("discovery interrupted: %w", err)
		}

		pageURL := frontier[0]
		frontier = frontier[1:]
		if _, seen := visited[pageURL]; seen {
			continue
		}
		visited[pageURL] = struct{}{}

		resp, err := d.fetcher.Fetch(ctx, crawler.FetchRequest{URL: pageURL})
		if err != nil || resp.HTML == "" || resp.StatusCode >= 400 {
			if pageURL == d.baseURL {
				return fmt.Errorf("fetch base page %s: status %d: %w", pageURL, resp.StatusCode, err)
			}
			d.logger.Warn("sample page fetch failed", zap.String("url", pageURL), zap.Error(err))
			continue
		}
		pagesVisited++

		links := crawler.ExtractLinks(resp.HTML, pageURL, d.host)
		d.urls.AddURLs(links)
		if _, err := d.html.AnalyzeHTML(resp.HTML, pageURL); err != nil {
			d.logger.Warn("html analysis failed", zap.String("url", pageURL), zap.Error(err))
		}

		for _, link := range links {
			if _, seen := visited[link]; !seen {
				frontier = append(frontier, link)
			}
		}
	}

	patterns := d.urls.DiscoverPatterns()
	d.discovered = true
	d.logger.Info("structure discovery finished",
		zap.Int("pages_sampled", pagesVisited),
		zap.Int("urls_seen", d.urls.URLCount()),
		zap.Int("patterns", len(patterns)),
	)

	if d.urlPatternsPath != "" {
		if err := d.urls.Save(d.urlPatternsPath); err != nil {
			d.logger.Warn("saving url patterns failed", zap.Error(err))
		}
		if err := d.html.Save(d.htmlPatternsPath); err != nil {
			d.logger.Warn("saving html patterns failed", zap.Error(err))
		}
	}
	return nil
}

// JobTypeFor maps a URL to a job type through the learned patterns.
// URLs no pattern covers are typed by the indicator heuristics alone.
func (d *Discovery) JobTypeFor(rawURL string) crawler.JobType {
	d.mu.RLock()
	defer d.mu.RUnlock()

	pattern := d.urls.PatternForURL(rawURL)
	if pattern == nil {
		return crawler.JobTypePage
	}
	switch {
	case pattern.IsList:
		return crawler.JobTypeList
	case pattern.IsDetail:
		return crawler.JobTypeDetail
	default:
		return crawler.JobTypePage
	}
}

// SelectorsFor returns the selectors learned from the most similar
// sampled page of the same type, or nil when none is similar enough.
func (d *Discovery) SelectorsFor(rawURL string, jobType crawler.JobType) map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var stored map[string]map[string]string
	switch jobType {
	case crawler.JobTypeList:
		stored = d.html.ListSelectors
	case crawler.JobTypeDetail:
		stored = d.html.DetailSelectors
	default:
		return nil
	}

	var best map[string]string
	bestScore := selectorSimilarityThreshold
	for sampleURL, selectors := range stored {
		if score := urlSimilarity(rawURL, sampleURL); score > bestScore {
			best = selectors
			bestScore = score
		}
	}
	return best
}

// Patterns returns the learned URL patterns.
func (d *Discovery) Patterns() []*URLPattern {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.urls.Patterns()
}

// urlSimilarity scores how alike two URLs are, from 0 to 1. Different
// hosts score near zero, different path depths score low, and equal
// depths score by the fraction of identical segments.
func urlSimilarity(url1, url2 string) float64 {
	parsed1, err1 := url.Parse(url1)
	parsed2, err2 := url.Parse(url2)
	if err1 != nil || err2 != nil {
		return 0
	}
	if parsed1.Host != parsed2.Host {
		return 0.1
	}

	path1 := pathParts(parsed1.Path)
	path2 := pathParts(parsed2.Path)
	if len(path1) != len(path2) {
		return 0.3
	}
	if len(path1) == 0 {
		return 1.0
	}

	common := 0
	for i := range path1 {
		if path1[i] == path2[i] {
			common++
		}
	}
	return float64(common) / float64(len(path1))
}
