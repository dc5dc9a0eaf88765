// Package collyfetcher implements the crawl fetcher using gocolly, with
// per-host politeness and robots.txt enforcement.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"smartcrawl/internal/crawler"
)

// ErrRobotsDisallowed marks a URL the site's robots.txt forbids.
var ErrRobotsDisallowed = errors.New("url disallowed by robots.txt")

// Config controls collector behavior.
type Config struct {
	UserAgent         string
	Timeout           time.Duration
	RespectRobots     bool
	RequestsPerSecond float64
}

// Fetcher implements crawler.Fetcher using the Colly collector. Requests
// asking for a rendered page are delegated to the renderer when one is
// configured.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *rate.Limiter
	robots        *RobotsGate
	renderer      crawler.Fetcher
	logger        *zap.Logger
}

// New builds a Fetcher. renderer may be nil; Render requests then fall
// back to the plain collector.
func New(cfg Config, renderer crawler.Fetcher, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}

	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())

	var robots *RobotsGate
	if cfg.RespectRobots {
		robots = NewRobotsGate(cfg.UserAgent, logger)
	}

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       rate.NewLimiter(limit, 1),
		robots:        robots,
		renderer:      renderer,
		logger:        logger,
	}
}

// Fetch executes a single HTTP GET, waiting for the politeness budget
// and checking robots.txt first.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("politeness wait: %w", err)
	}
	if f.robots != nil && !f.robots.Allowed(ctx, request.URL) {
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, ErrRobotsDisallowed)
	}

	if request.Render && f.renderer != nil {
		return f.renderer.Fetch(ctx, request)
	}

	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return crawler.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(start time.Time, result *crawler.FetchResponse, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	// Robots handling lives in the gate; colly's own check would fetch
	// robots.txt a second time.
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		*result = crawler.FetchResponse{
			HTML:       string(r.Body),
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
		}
		*fetchErr = err
	})
	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
