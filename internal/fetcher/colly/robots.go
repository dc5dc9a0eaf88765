package collyfetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// RobotsGate caches parsed robots.txt per host and answers allow/deny
// and sitemap queries. Unreachable robots.txt fails open.
type RobotsGate struct {
	client    *http.Client
	cache     sync.Map
	userAgent string
	logger    *zap.Logger
}

// NewRobotsGate builds a gate with its own short-timeout HTTP client.
func NewRobotsGate(userAgent string, logger *zap.Logger) *RobotsGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsGate{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Allowed reports whether the user agent may fetch the URL.
func (g *RobotsGate) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	data, err := g.load(ctx, parsed)
	if err != nil {
		g.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	group := data.FindGroup(g.userAgent)
	if group == nil {
		return true
	}
	return group.Test(parsed.Path)
}

// Sitemaps returns the sitemap URLs the host's robots.txt advertises.
func (g *RobotsGate) Sitemaps(ctx context.Context, rawURL string) ([]string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url for sitemaps: %w", err)
	}
	data, err := g.load(ctx, parsed)
	if err != nil {
		return nil, err
	}
	return data.Sitemaps, nil
}

func (g *RobotsGate) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	hostKey := strings.ToLower(parsed.Host)
	if data, ok := g.cache.Load(hostKey); ok {
		cached, assertOK := data.(*robotstxt.RobotsData)
		if !assertOK {
			return nil, fmt.Errorf("robots cache type mismatch: %T", data)
		}
		return cached, nil
	}

	robotsURL := *parsed
	robotsURL.Path = path.Join("/", "robots.txt")
	robotsURL.RawQuery = ""
	robotsURL.Fragment = ""
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", g.userAgent)
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	g.cache.Store(hostKey, data)
	return data, nil
}

// SitemapSource implements crawler.SitemapLister for one site: sitemaps
// advertised by robots.txt first, with a probe of the conventional
// /sitemap.xml location as fallback.
type SitemapSource struct {
	baseURL string
	gate    *RobotsGate
	client  *http.Client
	logger  *zap.Logger
}

// NewSitemapSource builds a SitemapSource. gate may be nil, in which
// case only the conventional location is probed.
func NewSitemapSource(baseURL string, gate *RobotsGate, logger *zap.Logger) *SitemapSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SitemapSource{
		baseURL: baseURL,
		gate:    gate,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// SitemapURLs implements crawler.SitemapLister.
func (s *SitemapSource) SitemapURLs(ctx context.Context) ([]string, error) {
	if s.gate != nil {
		sitemaps, err := s.gate.Sitemaps(ctx, s.baseURL)
		if err == nil && len(sitemaps) > 0 {
			return sitemaps, nil
		}
		if err != nil {
			s.logger.Warn("robots sitemap lookup failed, probing default location", zap.Error(err))
		}
	}

	probe := strings.TrimRight(s.baseURL, "/") + "/sitemap.xml"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probe, nil)
	if err != nil {
		return nil, fmt.Errorf("new sitemap probe request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe sitemap: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Debug("failed to close sitemap probe body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	return []string{probe}, nil
}
