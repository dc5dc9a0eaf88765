package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(FetchResponse), args.Error(1)
}

type MockSitemapLister struct {
	mock.Mock
}

func (m *MockSitemapLister) SitemapURLs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type MockStructure struct {
	mock.Mock
}

func (m *MockStructure) Discover(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStructure) Discovered() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockStructure) JobTypeFor(url string) JobType {
	args := m.Called(url)
	return args.Get(0).(JobType)
}

func (m *MockStructure) SelectorsFor(url string, jobType JobType) map[string]string {
	args := m.Called(url, jobType)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(map[string]string)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Save(ctx context.Context, record Record) (string, error) {
	args := m.Called(ctx, record)
	return args.String(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, payload any) (string, error) {
	args := m.Called(ctx, payload)
	return args.String(0), args.Error(1)
}

func genericStructure() *MockStructure {
	structure := new(MockStructure)
	structure.On("Discovered").Return(true).Maybe()
	structure.On("Discover", mock.Anything).Return(nil).Maybe()
	structure.On("JobTypeFor", mock.Anything).Return(JobTypePage).Maybe()
	structure.On("SelectorsFor", mock.Anything, mock.Anything).Return(nil).Maybe()
	return structure
}

func newTestCrawler(t *testing.T, cfg Config, deps Dependencies) *Crawler {
	t.Helper()
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://example.com"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if deps.Fetcher == nil {
		deps.Fetcher = new(MockFetcher)
	}
	if deps.Structure == nil {
		deps.Structure = genericStructure()
	}
	c, err := New(cfg, deps, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewValidation(t *testing.T) {
	fetcher := new(MockFetcher)
	structure := genericStructure()

	_, err := New(Config{}, Dependencies{Fetcher: fetcher, Structure: structure}, nil)
	assert.Error(t, err, "missing base url")

	_, err = New(Config{BaseURL: "https://example.com"}, Dependencies{Structure: structure}, nil)
	assert.Error(t, err, "missing fetcher")

	_, err = New(Config{BaseURL: "https://example.com"}, Dependencies{Fetcher: fetcher}, nil)
	assert.Error(t, err, "missing structure")

	c, err := New(Config{BaseURL: "https://example.com"}, Dependencies{Fetcher: fetcher, Structure: structure}, nil)
	require.NoError(t, err)
	assert.False(t, c.Running())
}

func TestAddJobAdmission(t *testing.T) {
	c := newTestCrawler(t, Config{MaxDepth: 3, MaxRetries: 2}, Dependencies{})

	assert.True(t, c.AddJob("https://example.com/fresh", 0, "", JobTypePage))

	c.state.AddVisited("https://example.com/seen", 200, "text/html")
	assert.False(t, c.AddJob("https://example.com/seen", 0, "", JobTypePage), "visited")

	c.state.AddInProgress("https://example.com/busy")
	assert.False(t, c.AddJob("https://example.com/busy", 0, "", JobTypePage), "in progress")

	assert.False(t, c.AddJob("https://example.com/deep", 4, "", JobTypePage), "beyond max depth")
	assert.True(t, c.AddJob("https://example.com/edge", 3, "", JobTypePage), "at max depth")

	assert.False(t, c.AddJob("https://other.org/page", 0, "", JobTypePage), "foreign host")

	c.state.AddFailed("https://example.com/dead", errors.New("x"), 500)
	c.state.AddFailed("https://example.com/dead", errors.New("x"), 500)
	assert.False(t, c.AddJob("https://example.com/dead", 0, "", JobTypePage), "retries exhausted")

	c.state.AddFailed("https://example.com/flaky", errors.New("x"), 500)
	assert.True(t, c.AddJob("https://example.com/flaky", 0, "", JobTypePage), "retry still available")

	stats := c.Stats()
	assert.Equal(t, 5, stats.SkippedURLs)
}

func TestAddJobNormalizesBeforeAdmission(t *testing.T) {
	c := newTestCrawler(t, Config{}, Dependencies{})
	c.state.AddVisited("https://example.com/news/1", 200, "text/html")
	assert.False(t, c.AddJob("https://example.com/news/1?utm_source=x#top", 0, "", JobTypePage))
	assert.True(t, c.AddJob("/news/2", 1, "https://example.com/news/1", JobTypePage), "relative resolved against base")
}

func TestAddJobInfersTypeFromStructure(t *testing.T) {
	structure := new(MockStructure)
	structure.On("JobTypeFor", "https://example.com/laws/42").Return(JobTypeDetail).Once()
	c := newTestCrawler(t, Config{}, Dependencies{Structure: structure})

	require.True(t, c.AddJob("https://example.com/laws/42", 0, "", ""))
	job, ticket, ok := c.queue.Pop(time.Second)
	require.True(t, ok)
	defer ticket.Done()
	assert.Equal(t, JobTypeDetail, job.Type)
	structure.AssertExpectations(t)
}

func TestSitemapJobsBypassAdmission(t *testing.T) {
	c := newTestCrawler(t, Config{MaxDepth: 1}, Dependencies{})
	c.state.AddVisited("https://example.com/sitemap.xml", 200, "application/xml")

	assert.True(t, c.AddJob("https://example.com/sitemap.xml", 5, "", JobTypeSitemap),
		"sitemap admitted despite visited state and depth")
	assert.Equal(t, 1, c.queue.Len())
}

func TestAddJobWithPriorityOverridesPolicies(t *testing.T) {
	c := newTestCrawler(t, Config{}, Dependencies{})
	require.True(t, c.AddJobWithPriority("https://example.com/urgent", 0, -99, "", JobTypePage))
	require.True(t, c.AddJob("https://example.com/normal", 0, "", JobTypePage))

	job, ticket, ok := c.queue.Pop(time.Second)
	require.True(t, ok)
	defer ticket.Done()
	assert.Equal(t, "https://example.com/urgent", job.URL)
	assert.Equal(t, -99, job.Priority)
}

func TestProcessSuccessPipeline(t *testing.T) {
	html := `<html><body>
		<a href="/news/1">one</a>
		<a href="/news/2">two</a>
		<a href="https://other.org/x">offsite</a>
		<a href="#frag">frag</a>
	</body></html>`

	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, FetchRequest{URL: "https://example.com/news"}).
		Return(FetchResponse{HTML: html, FinalURL: "https://example.com/news", StatusCode: 200, Duration: 10 * time.Millisecond}, nil).Once()

	store := new(MockStore)
	store.On("Save", mock.Anything, mock.MatchedBy(func(r Record) bool {
		return r.URL == "https://example.com/news" && r.StatusCode == 200
	})).Return("rec-1", nil).Once()

	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything).Return("msg-1", nil).Once()

	c := newTestCrawler(t, Config{MaxDepth: 2}, Dependencies{
		Fetcher:   fetcher,
		Store:     store,
		Publisher: publisher,
	})

	job := NewJob("https://example.com/news", 0, 0, "", "", JobTypePage)
	result := c.process(context.Background(), job)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.NewLinks, "same-host links only")
	assert.True(t, c.state.WasVisited("https://example.com/news"))
	assert.Equal(t, 2, c.queue.Len())

	fetcher.AssertExpectations(t)
	store.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestProcessRequestsRenderForStructuredTypes(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, FetchRequest{URL: "https://example.com/laws/1", Render: true}).
		Return(FetchResponse{HTML: "<html><body>x</body></html>", StatusCode: 200}, nil).Once()

	c := newTestCrawler(t, Config{}, Dependencies{Fetcher: fetcher})
	job := NewJob("https://example.com/laws/1", 0, 0, "", "", JobTypeDetail)
	result := c.process(context.Background(), job)

	assert.True(t, result.Success)
	fetcher.AssertExpectations(t)
}

func TestProcessFetchErrorRecordsFailure(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).
		Return(FetchResponse{}, errors.New("connection refused")).Once()

	c := newTestCrawler(t, Config{}, Dependencies{Fetcher: fetcher})
	job := NewJob("https://example.com/down", 0, 0, "", "", JobTypePage)
	result := c.process(context.Background(), job)

	assert.False(t, result.Success)
	assert.False(t, c.state.WasVisited("https://example.com/down"))
	rec, ok := c.state.Failure("https://example.com/down")
	require.True(t, ok)
	assert.Equal(t, 1, rec.Attempts)
	assert.Contains(t, rec.LastError, "connection refused")
}

func TestProcessHTTPErrorStatusRecordsFailure(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).
		Return(FetchResponse{HTML: "<html>not found</html>", StatusCode: 404}, nil).Once()

	c := newTestCrawler(t, Config{}, Dependencies{Fetcher: fetcher})
	result := c.process(context.Background(), NewJob("https://example.com/missing", 0, 0, "", "", JobTypePage))

	assert.False(t, result.Success)
	rec, ok := c.state.Failure("https://example.com/missing")
	require.True(t, ok)
	assert.Equal(t, 404, rec.LastStatusCode)
}

func TestProcessStoreFailureDoesNotFailJob(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).
		Return(FetchResponse{HTML: "<html><body>x</body></html>", StatusCode: 200}, nil).Once()

	store := new(MockStore)
	store.On("Save", mock.Anything, mock.Anything).Return("", errors.New("db down")).Once()

	c := newTestCrawler(t, Config{}, Dependencies{Fetcher: fetcher, Store: store})
	result := c.process(context.Background(), NewJob("https://example.com/a", 0, 0, "", "", JobTypePage))

	assert.True(t, result.Success, "persistence errors are logged, not fatal")
	store.AssertExpectations(t)
}

func TestProcessSitemapExpandsURLSet(t *testing.T) {
	body := `<?xml version="1.0"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/news/1</loc></url>
  <url><loc>https://example.com/news/2</loc></url>
</urlset>`

	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, FetchRequest{URL: "https://example.com/sitemap.xml"}).
		Return(FetchResponse{HTML: body, StatusCode: 200}, nil).Once()

	c := newTestCrawler(t, Config{MaxDepth: 2}, Dependencies{Fetcher: fetcher})
	result := c.process(context.Background(), NewJob("https://example.com/sitemap.xml", 0, 0, "", "", JobTypeSitemap))

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.NewLinks)
	assert.True(t, c.state.WasVisited("https://example.com/sitemap.xml"))
	assert.Equal(t, 2, c.queue.Len())
}

func TestProcessSitemapIndexEnqueuesNestedSitemaps(t *testing.T) {
	body := `<?xml version="1.0"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://example.com/sitemap-a.xml</loc></sitemap>
  <sitemap><loc>https://example.com/sitemap-b.xml</loc></sitemap>
</sitemapindex>`

	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).
		Return(FetchResponse{HTML: body, StatusCode: 200}, nil).Once()

	c := newTestCrawler(t, Config{}, Dependencies{Fetcher: fetcher})
	result := c.process(context.Background(), NewJob("https://example.com/sitemap.xml", 0, 0, "", "", JobTypeSitemap))

	assert.True(t, result.Success)
	require.Equal(t, 2, c.queue.Len())

	job, ticket, ok := c.queue.Pop(time.Second)
	require.True(t, ok)
	defer ticket.Done()
	assert.Equal(t, JobTypeSitemap, job.Type)
	assert.Equal(t, 1, job.Depth, "nested sitemaps descend one level")
}

func TestStartSeedsFromSitemapsWhenAvailable(t *testing.T) {
	sitemaps := new(MockSitemapLister)
	sitemaps.On("SitemapURLs", mock.Anything).
		Return([]string{"https://example.com/sitemap.xml"}, nil).Once()

	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).
		Return(FetchResponse{HTML: "<urlset></urlset>", StatusCode: 200}, nil).Maybe()

	c := newTestCrawler(t, Config{MaxWorkers: 1, PollInterval: 20 * time.Millisecond}, Dependencies{
		Fetcher:  fetcher,
		Sitemaps: sitemaps,
	})

	require.NoError(t, c.Start(context.Background(), nil, false))
	assert.True(t, c.Running())
	assert.ErrorIs(t, c.Start(context.Background(), nil, false), ErrAlreadyRunning)

	assert.True(t, c.WaitForCompletion(2*time.Second))
	require.NoError(t, c.Stop(true, false))
	assert.False(t, c.Running())
	sitemaps.AssertExpectations(t)
}

func TestStartFallsBackToSeedURLs(t *testing.T) {
	sitemaps := new(MockSitemapLister)
	sitemaps.On("SitemapURLs", mock.Anything).Return(nil, errors.New("no robots.txt")).Once()

	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).
		Return(FetchResponse{HTML: "<html><body>home</body></html>", StatusCode: 200}, nil)

	c := newTestCrawler(t, Config{MaxWorkers: 2, PollInterval: 20 * time.Millisecond}, Dependencies{
		Fetcher:  fetcher,
		Sitemaps: sitemaps,
	})

	require.NoError(t, c.Start(context.Background(), nil, false))
	assert.True(t, c.WaitForCompletion(2*time.Second))
	require.NoError(t, c.Stop(true, false))

	assert.True(t, c.state.WasVisited("https://example.com"))
	stats := c.Stats()
	assert.Equal(t, 1, stats.SuccessfulURLs)
}

func TestCrawlEndToEndSmallSite(t *testing.T) {
	pages := map[string]string{
		"https://example.com": `<html><body>
			<a href="/news/1">one</a>
			<a href="/news/2">two</a>
		</body></html>`,
		"https://example.com/news/1": `<html><body><a href="/news/2">two</a></body></html>`,
		"https://example.com/news/2": `<html><body>leaf</body></html>`,
	}

	fetcher := new(MockFetcher)
	for url, html := range pages {
		fetcher.On("Fetch", mock.Anything, FetchRequest{URL: url}).
			Return(FetchResponse{HTML: html, StatusCode: 200, FinalURL: url}, nil).Once()
	}

	c := newTestCrawler(t, Config{MaxWorkers: 3, MaxDepth: 3, PollInterval: 20 * time.Millisecond}, Dependencies{
		Fetcher: fetcher,
	})

	require.NoError(t, c.Start(context.Background(), nil, false))
	require.True(t, c.WaitForCompletion(5*time.Second))
	require.NoError(t, c.Stop(true, false))

	for url := range pages {
		assert.True(t, c.state.WasVisited(url), url)
	}
	stats := c.Stats()
	assert.Equal(t, 3, stats.SuccessfulURLs)
	assert.Equal(t, 0, stats.FailedURLs)
	assert.GreaterOrEqual(t, stats.MaxQueueLen, 2)
}

func TestStopWritesFinalCheckpoint(t *testing.T) {
	path := t.TempDir() + "/checkpoint.json"

	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).
		Return(FetchResponse{HTML: "<html><body>x</body></html>", StatusCode: 200}, nil)

	c := newTestCrawler(t, Config{
		MaxWorkers:     1,
		PollInterval:   20 * time.Millisecond,
		CheckpointPath: path,
	}, Dependencies{Fetcher: fetcher})

	require.NoError(t, c.Start(context.Background(), []string{"https://example.com/only"}, false))
	require.True(t, c.WaitForCompletion(2*time.Second))
	require.NoError(t, c.Stop(true, true))

	restored := NewState(0, zap.NewNop())
	require.NoError(t, restored.LoadCheckpoint(path))
	assert.True(t, restored.WasVisited("https://example.com/only"))
}

func TestResumeFromCheckpointSkipsVisited(t *testing.T) {
	path := t.TempDir() + "/checkpoint.json"

	prior := NewState(0, zap.NewNop())
	prior.AddVisited("https://example.com", 200, "text/html")
	require.NoError(t, prior.SaveCheckpoint(path))

	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).
		Return(FetchResponse{HTML: "<html></html>", StatusCode: 200}, nil).Maybe()

	c := newTestCrawler(t, Config{
		MaxWorkers:     1,
		PollInterval:   20 * time.Millisecond,
		CheckpointPath: path,
	}, Dependencies{Fetcher: fetcher})

	require.NoError(t, c.Start(context.Background(), nil, true))
	require.True(t, c.WaitForCompletion(2*time.Second))
	require.NoError(t, c.Stop(true, false))

	// The sole seed was already visited, so nothing was fetched.
	fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
	stats := c.Stats()
	assert.Equal(t, 0, stats.SuccessfulURLs)
	assert.Equal(t, 1, stats.SkippedURLs)
}

func TestWorkerRecoversFromPanic(t *testing.T) {
	fetcher := new(MockFetcher)
	fetcher.On("Fetch", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("boom") }).
		Return(FetchResponse{}, nil)

	c := newTestCrawler(t, Config{MaxWorkers: 1, PollInterval: 20 * time.Millisecond}, Dependencies{
		Fetcher: fetcher,
	})

	require.NoError(t, c.Start(context.Background(), []string{"https://example.com/panics"}, false))
	require.True(t, c.WaitForCompletion(2*time.Second), "ticket completes despite the panic")
	require.NoError(t, c.Stop(true, false))

	rec, ok := c.state.Failure("https://example.com/panics")
	require.True(t, ok)
	assert.Contains(t, rec.LastError, "panic")
}

func TestStopWhenNotRunning(t *testing.T) {
	c := newTestCrawler(t, Config{}, Dependencies{})
	assert.ErrorIs(t, c.Stop(true, false), ErrNotRunning)
}
