package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Lifecycle errors.
var (
	ErrAlreadyRunning = errors.New("crawler is already running")
	ErrNotRunning     = errors.New("crawler is not running")
)

// Structure is the pattern-discovery collaborator consulted for job
// typing and selector lookup.
type Structure interface {
	Discover(ctx context.Context) error
	Discovered() bool
	JobTypeFor(url string) JobType
	SelectorsFor(url string, jobType JobType) map[string]string
}

// Config holds the settings for a crawl session.
type Config struct {
	BaseURL            string
	MaxWorkers         int
	MaxDepth           int
	MaxRetries         int
	MaxURLs            int
	PollInterval       time.Duration
	CheckpointPath     string
	CheckpointInterval time.Duration
	StopTimeout        time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = 5
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 5 * time.Minute
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
}

// Dependencies are the constructor-injected collaborators. Fetcher and
// Structure are required; the rest degrade gracefully when nil.
type Dependencies struct {
	Fetcher    Fetcher
	Sitemaps   SitemapLister
	Structure  Structure
	Extractor  Extractor
	Classifier Classifier
	Store      Store
	Publisher  Publisher
	Clock      Clock
}

// Result summarizes one processed job.
type Result struct {
	Success    bool
	URL        string
	FinalURL   string
	StatusCode int
	Err        string
	Document   Document
	NewLinks   int
}

type runPhase int

const (
	phaseIdle runPhase = iota
	phaseRunning
	phaseStopping
)

// Crawler owns the job queue, the shared state, and the worker pool, and
// wires pattern discovery with the fetch/extract/classify/store
// collaborators.
type Crawler struct {
	cfg      Config
	deps     Dependencies
	logger   *zap.Logger
	rootHost string

	queue    *JobQueue
	state    *State
	policies *PolicyManager

	mu             sync.Mutex
	phase          runPhase
	stopCh         chan struct{}
	wg             sync.WaitGroup
	lastCheckpoint time.Time
}

// New constructs a Crawler.
func New(cfg Config, deps Dependencies, logger *zap.Logger) (*Crawler, error) {
	cfg.applyDefaults()
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if deps.Structure == nil {
		return nil, fmt.Errorf("structure discovery is required")
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rootHost := Host(cfg.BaseURL)
	if rootHost == "" {
		return nil, fmt.Errorf("base url %q has no host", cfg.BaseURL)
	}
	return &Crawler{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		rootHost: rootHost,
		queue:    NewJobQueue(),
		state:    NewState(cfg.MaxURLs, logger),
		policies: DefaultPolicyManager(),
	}, nil
}

// State exposes the shared ledger, mainly for checkpoint tooling and tests.
func (c *Crawler) State() *State { return c.state }

// Start learns the site structure if needed, optionally restores a
// checkpoint, seeds the queue (sitemaps first), and launches the worker
// pool.
func (c *Crawler) Start(ctx context.Context, initialURLs []string, loadCheckpoint bool) error {
	c.mu.Lock()
	if c.phase != phaseIdle {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.phase = phaseRunning
	c.stopCh = make(chan struct{})
	c.lastCheckpoint = c.deps.Clock.Now()
	c.mu.Unlock()

	if !c.deps.Structure.Discovered() {
		if err := c.deps.Structure.Discover(ctx); err != nil {
			c.logger.Warn("structure discovery failed, continuing with generic handling", zap.Error(err))
		}
	}

	if loadCheckpoint && c.cfg.CheckpointPath != "" {
		if err := c.state.LoadCheckpoint(c.cfg.CheckpointPath); err != nil {
			c.logger.Warn("checkpoint load failed", zap.Error(err))
		}
	}

	if !c.seedFromSitemaps(ctx) {
		seeds := initialURLs
		if len(seeds) == 0 {
			seeds = []string{c.cfg.BaseURL}
		}
		for _, url := range seeds {
			c.AddJob(url, 0, "", JobTypePage)
		}
	}

	for i := 0; i < c.cfg.MaxWorkers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i+1)
	}
	c.logger.Info("crawler started",
		zap.String("base_url", c.cfg.BaseURL),
		zap.Int("workers", c.cfg.MaxWorkers),
		zap.Int("max_depth", c.cfg.MaxDepth),
	)
	return nil
}

func (c *Crawler) seedFromSitemaps(ctx context.Context) bool {
	if c.deps.Sitemaps == nil {
		return false
	}
	urls, err := c.deps.Sitemaps.SitemapURLs(ctx)
	if err != nil {
		c.logger.Warn("sitemap lookup failed", zap.Error(err))
		return false
	}
	if len(urls) == 0 {
		return false
	}
	for _, url := range urls {
		c.enqueueSitemap(url, 0, "")
	}
	c.logger.Info("seeded queue from sitemaps", zap.Int("count", len(urls)))
	return true
}

// enqueueSitemap admits a sitemap job unconditionally: sitemap entries
// bypass the visited, depth, and domain checks.
func (c *Crawler) enqueueSitemap(url string, depth int, parentURL string) {
	normalized, err := NormalizeURL(url, c.cfg.BaseURL)
	if err != nil {
		c.logger.Warn("skipping malformed sitemap url", zap.String("url", url), zap.Error(err))
		return
	}
	job := NewJob(normalized, depth, 0, parentURL, parentURL, JobTypeSitemap)
	job.Priority = c.policies.CalculatePriority(normalized, job)
	if err := c.queue.Push(job); err != nil {
		c.logger.Warn("enqueue sitemap failed", zap.String("url", normalized), zap.Error(err))
		return
	}
	QueueDepth.Set(float64(c.queue.Len()))
}

// AddJob normalizes and admits a URL with an automatically calculated
// priority. jobType "" means infer from the learned URL patterns. It
// returns false when the URL is rejected by the admission checks.
func (c *Crawler) AddJob(url string, depth int, parentURL string, jobType JobType) bool {
	normalized, err := NormalizeURL(url, c.cfg.BaseURL)
	if err != nil {
		c.state.AddSkipped()
		TotalJobsSkipped.Inc()
		return false
	}

	if jobType != JobTypeSitemap {
		if !c.admit(normalized, depth) {
			c.state.AddSkipped()
			TotalJobsSkipped.Inc()
			return false
		}
	}

	if jobType == "" {
		jobType = c.deps.Structure.JobTypeFor(normalized)
	}

	job := NewJob(normalized, depth, 0, parentURL, parentURL, jobType)
	job.Priority = c.policies.CalculatePriority(normalized, job)
	return c.push(job)
}

// AddJobWithPriority admits a URL with an explicit priority, skipping the
// policy manager.
func (c *Crawler) AddJobWithPriority(url string, depth, priority int, parentURL string, jobType JobType) bool {
	normalized, err := NormalizeURL(url, c.cfg.BaseURL)
	if err != nil {
		c.state.AddSkipped()
		TotalJobsSkipped.Inc()
		return false
	}
	if jobType != JobTypeSitemap && !c.admit(normalized, depth) {
		c.state.AddSkipped()
		TotalJobsSkipped.Inc()
		return false
	}
	if jobType == "" {
		jobType = c.deps.Structure.JobTypeFor(normalized)
	}
	return c.push(NewJob(normalized, depth, priority, parentURL, parentURL, jobType))
}

func (c *Crawler) admit(normalized string, depth int) bool {
	if c.state.WasVisited(normalized) || c.state.IsInProgress(normalized) {
		return false
	}
	if c.state.WasFailed(normalized) && !c.state.ShouldRetry(normalized, c.cfg.MaxRetries) {
		return false
	}
	if depth > c.cfg.MaxDepth {
		return false
	}
	if Host(normalized) != c.rootHost {
		return false
	}
	return true
}

func (c *Crawler) push(job Job) bool {
	if err := c.queue.Push(job); err != nil {
		c.state.AddSkipped()
		return false
	}
	QueueDepth.Set(float64(c.queue.Len()))
	return true
}

func (c *Crawler) worker(ctx context.Context, id int) {
	defer c.wg.Done()
	logger := c.logger.With(zap.Int("worker", id))
	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, ticket, ok := c.queue.Pop(c.cfg.PollInterval)
		if !ok {
			continue
		}
		c.runJob(ctx, logger, job, ticket)
		c.maybeCheckpoint()
	}
}

// runJob executes one job. The ticket completes in a defer so the queue
// sees exactly one completion per dequeue, panics included.
func (c *Crawler) runJob(ctx context.Context, logger *zap.Logger, job Job, ticket *Ticket) {
	defer ticket.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing job",
				zap.String("url", job.URL),
				zap.Any("panic", r),
			)
			c.state.AddFailed(job.URL, fmt.Errorf("panic: %v", r), 0)
			TotalPagesFailed.Inc()
		}
	}()

	result := c.process(ctx, job)
	QueueDepth.Set(float64(c.queue.Len()))

	if result.Success {
		logger.Info("crawled",
			zap.String("url", job.URL),
			zap.String("type", string(job.Type)),
			zap.Int("depth", job.Depth),
			zap.Int("priority", job.Priority),
			zap.Int("new_links", result.NewLinks),
		)
	} else {
		logger.Warn("crawl failed",
			zap.String("url", job.URL),
			zap.String("error", result.Err),
			zap.Int("status", result.StatusCode),
		)
	}
}

func (c *Crawler) maybeCheckpoint() {
	if c.cfg.CheckpointPath == "" {
		return
	}
	now := c.deps.Clock.Now()
	c.mu.Lock()
	due := now.Sub(c.lastCheckpoint) > c.cfg.CheckpointInterval
	if due {
		c.lastCheckpoint = now
	}
	c.mu.Unlock()
	if !due {
		return
	}
	if err := c.state.SaveCheckpoint(c.cfg.CheckpointPath); err != nil {
		c.logger.Warn("periodic checkpoint failed", zap.Error(err))
	}
}

// process runs the fetch/extract/classify/store pipeline for one job and
// harvests new links.
func (c *Crawler) process(ctx context.Context, job Job) Result {
	c.state.AddInProgress(job.URL)

	if job.Type == JobTypeSitemap {
		return c.processSitemap(ctx, job)
	}

	render := job.Type == JobTypeList || job.Type == JobTypeDetail
	resp, err := c.deps.Fetcher.Fetch(ctx, FetchRequest{URL: job.URL, Render: render})
	if err != nil || resp.HTML == "" || resp.StatusCode >= 400 {
		if err == nil {
			err = fmt.Errorf("fetch returned status %d with %d bytes", resp.StatusCode, len(resp.HTML))
		}
		c.state.AddFailed(job.URL, err, resp.StatusCode)
		TotalPagesFailed.Inc()
		return Result{URL: job.URL, StatusCode: resp.StatusCode, Err: err.Error()}
	}
	FetchDuration.WithLabelValues(string(job.Type)).Observe(resp.Duration.Seconds())

	finalURL := resp.FinalURL
	if finalURL == "" {
		finalURL = job.URL
	}

	doc := c.extract(ctx, resp.HTML, finalURL, job.Type)
	c.persist(ctx, job, finalURL, resp.StatusCode, doc)

	newLinks := 0
	if job.Depth < c.cfg.MaxDepth {
		newLinks = c.harvestLinks(resp.HTML, finalURL, job.Depth)
	}

	c.state.AddVisited(job.URL, resp.StatusCode, "text/html")
	TotalPagesCrawled.Inc()

	return Result{
		Success:    true,
		URL:        job.URL,
		FinalURL:   finalURL,
		StatusCode: resp.StatusCode,
		Document:   doc,
		NewLinks:   newLinks,
	}
}

func (c *Crawler) extract(ctx context.Context, html, url string, jobType JobType) Document {
	if c.deps.Extractor == nil {
		return Document{URL: url, Type: jobType}
	}
	doc, err := c.deps.Extractor.Extract(ctx, html, url, jobType)
	if err != nil {
		c.logger.Warn("extraction failed", zap.String("url", url), zap.Error(err))
		return Document{URL: url, Type: jobType}
	}
	return doc
}

func (c *Crawler) persist(ctx context.Context, job Job, finalURL string, statusCode int, doc Document) {
	if c.deps.Store == nil {
		return
	}
	record := Record{
		URL:        job.URL,
		FinalURL:   finalURL,
		StatusCode: statusCode,
		Document:   doc,
		FetchedAt:  c.deps.Clock.Now(),
	}
	if c.deps.Classifier != nil && doc.Content != "" {
		classification, err := c.deps.Classifier.Classify(ctx, doc.Content)
		if err != nil {
			c.logger.Warn("classification failed", zap.String("url", job.URL), zap.Error(err))
		} else {
			record.ContentType = classification.ContentType
			record.Domains = classification.Domains
		}
	}
	id, err := c.deps.Store.Save(ctx, record)
	if err != nil {
		c.logger.Warn("store failed", zap.String("url", job.URL), zap.Error(err))
		return
	}
	if c.deps.Publisher != nil {
		payload := map[string]any{
			"id":        id,
			"url":       job.URL,
			"final_url": finalURL,
			"type":      string(job.Type),
			"timestamp": c.deps.Clock.Now().Format(time.RFC3339),
		}
		if _, err := c.deps.Publisher.Publish(ctx, payload); err != nil {
			c.logger.Warn("publish failed", zap.String("url", job.URL), zap.Error(err))
		}
	}
}

func (c *Crawler) harvestLinks(html, finalURL string, depth int) int {
	added := 0
	for _, link := range ExtractLinks(html, finalURL, c.rootHost) {
		if c.AddJob(link, depth+1, finalURL, "") {
			added++
		}
	}
	return added
}

// processSitemap expands one sitemap document: nested sitemaps re-enqueue
// at depth+1, URL-set entries enter as page jobs at depth 0. The sitemap
// URL itself is marked visited whatever the body contained.
func (c *Crawler) processSitemap(ctx context.Context, job Job) Result {
	resp, err := c.deps.Fetcher.Fetch(ctx, FetchRequest{URL: job.URL})
	if err != nil || resp.HTML == "" || resp.StatusCode >= 400 {
		if err == nil {
			err = fmt.Errorf("sitemap fetch returned status %d with %d bytes", resp.StatusCode, len(resp.HTML))
		}
		c.state.AddFailed(job.URL, err, resp.StatusCode)
		TotalPagesFailed.Inc()
		return Result{URL: job.URL, StatusCode: resp.StatusCode, Err: err.Error()}
	}

	entries := parseSitemap(resp.HTML)
	added := 0
	for _, nested := range entries.nested {
		c.enqueueSitemap(nested, job.Depth+1, job.URL)
		added++
	}
	for _, page := range entries.pages {
		if c.AddJob(page, 0, job.URL, JobTypePage) {
			added++
		}
	}

	c.state.AddVisited(job.URL, resp.StatusCode, "application/xml")
	TotalPagesCrawled.Inc()
	c.logger.Info("sitemap processed",
		zap.String("url", job.URL),
		zap.Int("nested", len(entries.nested)),
		zap.Int("pages", len(entries.pages)),
	)
	return Result{Success: true, URL: job.URL, StatusCode: resp.StatusCode, NewLinks: added}
}

// Stop signals the workers to finish, optionally waiting for in-flight
// jobs and writing a final checkpoint.
func (c *Crawler) Stop(wait, saveCheckpoint bool) error {
	c.mu.Lock()
	if c.phase != phaseRunning {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.phase = phaseStopping
	close(c.stopCh)
	c.mu.Unlock()

	if wait {
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(c.cfg.StopTimeout):
			c.logger.Warn("stop timed out waiting for workers", zap.Duration("timeout", c.cfg.StopTimeout))
		}
	}

	if saveCheckpoint && c.cfg.CheckpointPath != "" {
		if err := c.state.SaveCheckpoint(c.cfg.CheckpointPath); err != nil {
			c.logger.Warn("final checkpoint failed", zap.Error(err))
		}
	}

	c.mu.Lock()
	c.phase = phaseIdle
	c.mu.Unlock()
	c.logger.Info("crawler stopped")
	return nil
}

// Running reports whether the crawler is in the running phase.
func (c *Crawler) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == phaseRunning
}

// WaitForCompletion blocks until all queued work has been completed or
// the timeout elapses. A zero timeout waits indefinitely.
func (c *Crawler) WaitForCompletion(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.queue.Wait()
		close(done)
	}()
	if timeout <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// RunStats extends the state snapshot with queue figures.
type RunStats struct {
	StatsSnapshot
	QueueLen    int `json:"queue_len"`
	MaxQueueLen int `json:"max_queue_len"`
}

// Stats returns combined crawl and queue statistics.
func (c *Crawler) Stats() RunStats {
	return RunStats{
		StatsSnapshot: c.state.Stats(),
		QueueLen:      c.queue.Len(),
		MaxQueueLen:   c.queue.MaxLen(),
	}
}
