package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartcrawl/internal/crawler"
)

func TestFetchReturnsPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer server.Close()

	f := New(Config{UserAgent: "test-agent", Timeout: 5 * time.Second}, nil, zap.NewNop())
	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: server.URL + "/page"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.HTML, "hello")
	assert.Equal(t, server.URL+"/page", resp.FinalURL)
	assert.Greater(t, resp.Duration, time.Duration(0))
}

func TestFetchReportsHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer server.Close()

	f := New(Config{Timeout: 5 * time.Second}, nil, zap.NewNop())
	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: server.URL})
	assert.Error(t, err, "colly surfaces 4xx as an error")
}

func TestFetchHonorsRobotsDisallow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>ok</html>"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	f := New(Config{UserAgent: "test-agent", RespectRobots: true, Timeout: 5 * time.Second}, nil, zap.NewNop())

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: server.URL + "/private/secret"})
	assert.ErrorIs(t, err, ErrRobotsDisallowed)

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: server.URL + "/public"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type stubRenderer struct {
	called bool
}

func (s *stubRenderer) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	s.called = true
	return crawler.FetchResponse{HTML: "<html>rendered</html>", FinalURL: req.URL, StatusCode: 200}, nil
}

func TestFetchDelegatesRenderRequests(t *testing.T) {
	renderer := &stubRenderer{}
	f := New(Config{Timeout: time.Second}, renderer, zap.NewNop())

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/app", Render: true})
	require.NoError(t, err)
	assert.True(t, renderer.called)
	assert.Equal(t, "<html>rendered</html>", resp.HTML)
}

func TestFetchPolitenessDelay(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := New(Config{Timeout: 5 * time.Second, RequestsPerSecond: 20}, nil, zap.NewNop())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: server.URL})
		require.NoError(t, err)
	}
	// Burst 1 at 20 rps: the second and third request wait ~50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestFetchCanceledContext(t *testing.T) {
	f := New(Config{Timeout: time.Second, RequestsPerSecond: 0.001}, nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: "https://example.com"})
	assert.Error(t, err)
}
