// Package memory stores crawl records in-memory for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartcrawl/internal/crawler"
)

// Stats summarizes what the store has accepted so far.
type Stats struct {
	TotalStored       int            `json:"total_stored"`
	DuplicatesSkipped int            `json:"duplicates_skipped"`
	ByContentType     map[string]int `json:"by_content_type"`
	LastStoreTime     time.Time      `json:"last_store_time"`
}

// Store keeps records in maps keyed by id, content hash, and URL. Content
// hash collisions update the existing record instead of inserting a new row,
// mirroring the Postgres store's upsert.
type Store struct {
	mu      sync.RWMutex
	records map[string]crawler.Record
	byHash  map[string]string
	byURL   map[string]string
	stats   Stats
	logger  *zap.Logger
}

// New creates an empty in-memory store.
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		records: make(map[string]crawler.Record),
		byHash:  make(map[string]string),
		byURL:   make(map[string]string),
		stats:   Stats{ByContentType: make(map[string]int)},
		logger:  logger,
	}
}

// Save persists the record, or refreshes the existing one when its content
// hash was seen before. The returned id is stable across duplicate saves.
func (s *Store) Save(_ context.Context, record crawler.Record) (string, error) {
	hash := crawler.SimilarityHash(record.Document.Content, record.URL)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byHash[hash]; ok {
		s.records[id] = record
		s.byURL[record.URL] = id
		s.stats.DuplicatesSkipped++
		s.stats.LastStoreTime = time.Now()
		s.logger.Debug("duplicate content updated", zap.String("id", id), zap.String("url", record.URL))
		return id, nil
	}

	id := uuid.NewString()
	s.records[id] = record
	s.byHash[hash] = id
	s.byURL[record.URL] = id
	s.stats.TotalStored++
	if record.ContentType != "" {
		s.stats.ByContentType[record.ContentType]++
	}
	s.stats.LastStoreTime = time.Now()
	return id, nil
}

// Get returns the record stored under id.
func (s *Store) Get(id string) (crawler.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// GetByURL returns the most recent record stored for the URL.
func (s *Store) GetByURL(url string) (crawler.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[url]
	if !ok {
		return crawler.Record{}, false
	}
	rec, ok := s.records[id]
	return rec, ok
}

// Len returns the number of distinct records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Stats returns a copy of the store counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.stats
	out.ByContentType = make(map[string]int, len(s.stats.ByContentType))
	for k, v := range s.stats.ByContentType {
		out.ByContentType[k] = v
	}
	return out
}
