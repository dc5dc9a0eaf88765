package crawler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// History eviction happens in batches so a full sort is amortized over
// many inserts.
const historyEvictionBatch = 100

// VisitRecord is the history entry kept for a visited URL.
type VisitRecord struct {
	VisitedAt   time.Time `json:"visited_at"`
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type,omitempty"`
}

// FailureRecord accumulates failed attempts for a URL.
type FailureRecord struct {
	Attempts       int       `json:"attempts"`
	FirstAttempt   time.Time `json:"first_attempt"`
	LastAttempt    time.Time `json:"last_attempt"`
	LastError      string    `json:"last_error,omitempty"`
	LastStatusCode int       `json:"last_status_code,omitempty"`
}

// Stats is the running tally for a crawl.
type Stats struct {
	TotalURLs      int       `json:"total_urls"`
	SuccessfulURLs int       `json:"successful_urls"`
	FailedURLs     int       `json:"failed_urls"`
	SkippedURLs    int       `json:"skipped_urls"`
	StartTime      time.Time `json:"start_time"`
	LastUpdate     time.Time `json:"last_update_time"`
}

// StatsSnapshot is Stats plus derived rates, returned by State.Stats.
type StatsSnapshot struct {
	Stats
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	URLsPerMinute  float64 `json:"urls_per_minute"`
}

// State is the shared crawl ledger. All methods serialize on one mutex so
// any number of workers may call them without external locking.
type State struct {
	mu         sync.Mutex
	visited    map[string]struct{}
	history    map[string]VisitRecord
	failed     map[string]FailureRecord
	inProgress map[string]struct{}
	stats      Stats
	maxURLs    int
	logger     *zap.Logger
}

// NewState constructs a State bounded to maxURLs history entries.
func NewState(maxURLs int, logger *zap.Logger) *State {
	if maxURLs <= 0 {
		maxURLs = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now()
	return &State{
		visited:    make(map[string]struct{}),
		history:    make(map[string]VisitRecord),
		failed:     make(map[string]FailureRecord),
		inProgress: make(map[string]struct{}),
		stats:      Stats{StartTime: now, LastUpdate: now},
		maxURLs:    maxURLs,
		logger:     logger,
	}
}

func (s *State) key(rawURL string) string {
	normalized, err := NormalizeURL(rawURL, "")
	if err != nil {
		return rawURL
	}
	return normalized
}

// AddVisited records a successful visit: the URL joins the visited set,
// gains a history entry, and leaves the in-progress set.
func (s *State) AddVisited(rawURL string, statusCode int, contentType string) {
	key := s.key(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.visited[key] = struct{}{}
	s.history[key] = VisitRecord{
		VisitedAt:   time.Now(),
		StatusCode:  statusCode,
		ContentType: contentType,
	}
	delete(s.inProgress, key)

	s.stats.TotalURLs++
	s.stats.SuccessfulURLs++
	s.stats.LastUpdate = time.Now()

	if len(s.history) > s.maxURLs {
		s.evictOldestHistoryLocked()
	}
}

func (s *State) evictOldestHistoryLocked() {
	type entry struct {
		url       string
		visitedAt time.Time
	}
	entries := make([]entry, 0, len(s.history))
	for url, rec := range s.history {
		entries = append(entries, entry{url: url, visitedAt: rec.VisitedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].visitedAt.Before(entries[j].visitedAt)
	})
	n := historyEvictionBatch
	if n > len(entries) {
		n = len(entries)
	}
	for _, e := range entries[:n] {
		delete(s.history, e.url)
	}
}

// AddFailed records a failed attempt, accumulating the attempt count if
// the URL failed before. The URL leaves the in-progress set.
func (s *State) AddFailed(rawURL string, failErr error, statusCode int) {
	key := s.key(rawURL)
	errText := ""
	if failErr != nil {
		errText = failErr.Error()
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.failed[key]; ok {
		rec.Attempts++
		rec.LastAttempt = now
		rec.LastError = errText
		rec.LastStatusCode = statusCode
		s.failed[key] = rec
	} else {
		if len(s.failed) >= s.maxURLs {
			s.evictOldestFailedLocked()
		}
		s.failed[key] = FailureRecord{
			Attempts:       1,
			FirstAttempt:   now,
			LastAttempt:    now,
			LastError:      errText,
			LastStatusCode: statusCode,
		}
	}
	delete(s.inProgress, key)

	s.stats.TotalURLs++
	s.stats.FailedURLs++
	s.stats.LastUpdate = now
}

func (s *State) evictOldestFailedLocked() {
	type entry struct {
		url         string
		lastAttempt time.Time
	}
	entries := make([]entry, 0, len(s.failed))
	for url, rec := range s.failed {
		entries = append(entries, entry{url: url, lastAttempt: rec.LastAttempt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAttempt.Before(entries[j].lastAttempt)
	})
	n := historyEvictionBatch
	if n > len(entries) {
		n = len(entries)
	}
	for _, e := range entries[:n] {
		delete(s.failed, e.url)
	}
}

// AddInProgress marks a URL as being processed. Idempotent.
func (s *State) AddInProgress(rawURL string) {
	key := s.key(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress[key] = struct{}{}
}

// AddSkipped bumps the skipped counter for a URL rejected at admission.
func (s *State) AddSkipped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.SkippedURLs++
}

// WasVisited reports whether the URL has been visited.
func (s *State) WasVisited(rawURL string) bool {
	key := s.key(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.visited[key]
	return ok
}

// IsInProgress reports whether the URL is currently being processed.
func (s *State) IsInProgress(rawURL string) bool {
	key := s.key(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inProgress[key]
	return ok
}

// WasFailed reports whether the URL has any recorded failure.
func (s *State) WasFailed(rawURL string) bool {
	key := s.key(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.failed[key]
	return ok
}

// Failure returns the failure record for a URL, if any.
func (s *State) Failure(rawURL string) (FailureRecord, bool) {
	key := s.key(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.failed[key]
	return rec, ok
}

// ShouldRetry reports whether the URL is still eligible: it never failed,
// or failed fewer than maxRetries times.
func (s *State) ShouldRetry(rawURL string, maxRetries int) bool {
	key := s.key(rawURL)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.failed[key]
	if !ok {
		return true
	}
	return rec.Attempts < maxRetries
}

// VisitedCount returns the size of the visited set.
func (s *State) VisitedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visited)
}

// Stats returns a snapshot with derived elapsed time and throughput.
func (s *State) Stats() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := time.Since(s.stats.StartTime).Seconds()
	denominator := elapsed
	if denominator < 1 {
		denominator = 1
	}
	return StatsSnapshot{
		Stats:          s.stats,
		ElapsedSeconds: elapsed,
		URLsPerMinute:  float64(s.stats.SuccessfulURLs) / denominator * 60,
	}
}

type checkpoint struct {
	VisitedURLs    []string                 `json:"visited_urls"`
	FailedURLs     map[string]FailureRecord `json:"failed_urls"`
	Stats          Stats                    `json:"stats"`
	CheckpointTime time.Time                `json:"checkpoint_time"`
}

// SaveCheckpoint serializes the visited set, failure map, and stats to a
// JSON file. Errors are returned for logging; a failed checkpoint never
// stops a crawl.
func (s *State) SaveCheckpoint(path string) error {
	if path == "" {
		return fmt.Errorf("checkpoint path is empty")
	}

	s.mu.Lock()
	cp := checkpoint{
		VisitedURLs:    make([]string, 0, len(s.visited)),
		FailedURLs:     make(map[string]FailureRecord, len(s.failed)),
		Stats:          s.stats,
		CheckpointTime: time.Now(),
	}
	for url := range s.visited {
		cp.VisitedURLs = append(cp.VisitedURLs, url)
	}
	for url, rec := range s.failed {
		cp.FailedURLs[url] = rec
	}
	s.mu.Unlock()

	sort.Strings(cp.VisitedURLs)
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	s.logger.Info("checkpoint saved",
		zap.String("path", path),
		zap.Int("visited", len(cp.VisitedURLs)),
		zap.Int("failed", len(cp.FailedURLs)),
	)
	return nil
}

// LoadCheckpoint restores a previously saved checkpoint into this state.
func (s *State) LoadCheckpoint(path string) error {
	if path == "" {
		return fmt.Errorf("checkpoint path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.visited = make(map[string]struct{}, len(cp.VisitedURLs))
	for _, url := range cp.VisitedURLs {
		s.visited[url] = struct{}{}
	}
	s.failed = make(map[string]FailureRecord, len(cp.FailedURLs))
	for url, rec := range cp.FailedURLs {
		s.failed[url] = rec
	}
	s.stats = cp.Stats
	if s.stats.StartTime.IsZero() {
		s.stats.StartTime = time.Now()
	}
	s.stats.LastUpdate = time.Now()

	s.logger.Info("checkpoint loaded",
		zap.String("path", path),
		zap.Int("visited", len(s.visited)),
		zap.Int("failed", len(s.failed)),
	)
	return nil
}
