package crawler

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStateVisitedLifecycle(t *testing.T) {
	s := NewState(0, zap.NewNop())
	url := "https://example.com/news/1"

	assert.False(t, s.WasVisited(url))
	s.AddInProgress(url)
	assert.True(t, s.IsInProgress(url))

	s.AddVisited(url, 200, "text/html")
	assert.True(t, s.WasVisited(url))
	assert.False(t, s.IsInProgress(url))
	assert.Equal(t, 1, s.VisitedCount())
}

func TestStateVisitedKeysAreNormalized(t *testing.T) {
	s := NewState(0, zap.NewNop())
	s.AddVisited("https://example.com/news/1?utm=x#top", 200, "text/html")
	assert.True(t, s.WasVisited("https://example.com/news/1"))
	assert.True(t, s.WasVisited("HTTPS://EXAMPLE.COM/news/1"))
}

func TestStateFailedAttemptsAccumulate(t *testing.T) {
	s := NewState(0, zap.NewNop())
	url := "https://example.com/broken"

	s.AddFailed(url, errors.New("timeout"), 0)
	s.AddFailed(url, errors.New("connection refused"), 0)
	s.AddFailed(url, nil, 503)

	rec, ok := s.Failure(url)
	require.True(t, ok)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, 503, rec.LastStatusCode)
	assert.False(t, rec.FirstAttempt.After(rec.LastAttempt))

	stats := s.Stats()
	assert.Equal(t, 3, stats.FailedURLs)
	assert.Equal(t, 3, stats.TotalURLs)
}

func TestStateShouldRetry(t *testing.T) {
	s := NewState(0, zap.NewNop())
	url := "https://example.com/flaky"

	assert.True(t, s.ShouldRetry(url, 3), "never-failed URL is always eligible")
	s.AddFailed(url, errors.New("boom"), 500)
	s.AddFailed(url, errors.New("boom"), 500)
	assert.True(t, s.ShouldRetry(url, 3))
	s.AddFailed(url, errors.New("boom"), 500)
	assert.False(t, s.ShouldRetry(url, 3))
}

func TestStateHistoryEvictionBatch(t *testing.T) {
	s := NewState(150, zap.NewNop())
	for i := 0; i < 151; i++ {
		s.AddVisited(fmt.Sprintf("https://example.com/p/%d", i), 200, "text/html")
	}

	// Crossing the cap evicts the oldest batch from history but never
	// from the visited set.
	s.mu.Lock()
	historyLen := len(s.history)
	visitedLen := len(s.visited)
	s.mu.Unlock()
	assert.Equal(t, 51, historyLen)
	assert.Equal(t, 151, visitedLen)

	assert.True(t, s.WasVisited("https://example.com/p/0"))
}

func TestStateFailedMapIsBounded(t *testing.T) {
	s := NewState(200, zap.NewNop())
	for i := 0; i < 250; i++ {
		s.AddFailed(fmt.Sprintf("https://example.com/f/%d", i), errors.New("x"), 500)
	}
	s.mu.Lock()
	failedLen := len(s.failed)
	s.mu.Unlock()
	assert.LessOrEqual(t, failedLen, 200)
}

func TestStateStatsCountersAreConsistent(t *testing.T) {
	s := NewState(0, zap.NewNop())
	s.AddVisited("https://example.com/a", 200, "text/html")
	s.AddVisited("https://example.com/b", 200, "text/html")
	s.AddFailed("https://example.com/c", errors.New("x"), 404)
	s.AddSkipped()

	stats := s.Stats()
	assert.Equal(t, 3, stats.TotalURLs)
	assert.Equal(t, 2, stats.SuccessfulURLs)
	assert.Equal(t, 1, stats.FailedURLs)
	assert.Equal(t, 1, stats.SkippedURLs)
	assert.Equal(t, stats.SuccessfulURLs+stats.FailedURLs, stats.TotalURLs)
	assert.GreaterOrEqual(t, stats.ElapsedSeconds, 0.0)
	assert.GreaterOrEqual(t, stats.URLsPerMinute, 0.0)
}

func TestStateCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")

	s := NewState(0, zap.NewNop())
	s.AddVisited("https://example.com/a", 200, "text/html")
	s.AddVisited("https://example.com/b", 301, "text/html")
	s.AddFailed("https://example.com/c", errors.New("gone"), 410)
	s.AddFailed("https://example.com/c", errors.New("gone"), 410)
	require.NoError(t, s.SaveCheckpoint(path))

	restored := NewState(0, zap.NewNop())
	require.NoError(t, restored.LoadCheckpoint(path))

	assert.True(t, restored.WasVisited("https://example.com/a"))
	assert.True(t, restored.WasVisited("https://example.com/b"))
	assert.False(t, restored.WasVisited("https://example.com/zzz"))

	rec, ok := restored.Failure("https://example.com/c")
	require.True(t, ok)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, 410, rec.LastStatusCode)

	stats := restored.Stats()
	assert.Equal(t, 4, stats.TotalURLs)
	assert.Equal(t, 2, stats.SuccessfulURLs)
	assert.Equal(t, 2, stats.FailedURLs)
}

func TestStateLoadCheckpointMissingFile(t *testing.T) {
	s := NewState(0, zap.NewNop())
	err := s.LoadCheckpoint(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
	assert.Equal(t, 0, s.VisitedCount())
}

func TestStateConcurrentAccess(t *testing.T) {
	s := NewState(0, zap.NewNop())
	const goroutines, perGoroutine = 8, 100

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				url := fmt.Sprintf("https://example.com/g%d/p%d", g, i)
				s.AddInProgress(url)
				if i%5 == 0 {
					s.AddFailed(url, errors.New("x"), 500)
				} else {
					s.AddVisited(url, 200, "text/html")
				}
				s.WasVisited(url)
				s.Stats()
			}
		}(g)
	}
	wg.Wait()

	stats := s.Stats()
	assert.Equal(t, goroutines*perGoroutine, stats.TotalURLs)
	assert.Equal(t, stats.SuccessfulURLs+stats.FailedURLs, stats.TotalURLs)
}
