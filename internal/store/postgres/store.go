// Package postgres provides Postgres-backed persistence for crawl records.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"smartcrawl/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for content rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store writes extracted content rows into Postgres, deduplicating on the
// content similarity hash.
type Store struct {
	pool  queryCloser
	table string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "contents"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool queryCloser, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "contents"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

// Init creates the content table and its indexes when they do not exist.
func (s *Store) Init(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("store is not configured")
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	final_url TEXT NOT NULL,
	status_code INT NOT NULL,
	page_type TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL UNIQUE,
	content_type TEXT NOT NULL DEFAULT '',
	domains JSONB NOT NULL DEFAULT '[]',
	document JSONB NOT NULL DEFAULT '{}',
	fetched_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[1]s_url_idx ON %[1]s (url)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create content table: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Save upserts the record keyed by its content hash and returns the row id.
// A page whose content was stored before refreshes the existing row and
// returns its id rather than inserting a duplicate.
func (s *Store) Save(ctx context.Context, record crawler.Record) (string, error) {
	if s == nil || s.pool == nil {
		return "", fmt.Errorf("store is not configured")
	}
	hash := crawler.SimilarityHash(record.Document.Content, record.URL)

	domainsJSON, err := json.Marshal(normalizeDomains(record.Domains))
	if err != nil {
		return "", fmt.Errorf("marshal domains: %w", err)
	}
	documentJSON, err := json.Marshal(record.Document)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	url,
	final_url,
	status_code,
	page_type,
	title,
	content,
	content_hash,
	content_type,
	domains,
	document,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (content_hash) DO UPDATE SET
	url = EXCLUDED.url,
	final_url = EXCLUDED.final_url,
	status_code = EXCLUDED.status_code,
	page_type = EXCLUDED.page_type,
	title = EXCLUDED.title,
	content = EXCLUDED.content,
	content_type = EXCLUDED.content_type,
	domains = EXCLUDED.domains,
	document = EXCLUDED.document,
	fetched_at = EXCLUDED.fetched_at,
	updated_at = now()
RETURNING id`, s.table)

	args := []any{
		uuid.NewString(),
		record.URL,
		record.FinalURL,
		record.StatusCode,
		string(record.Document.Type),
		record.Document.Title,
		record.Document.Content,
		hash,
		record.ContentType,
		domainsJSON,
		documentJSON,
		record.FetchedAt,
	}

	var id string
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return "", fmt.Errorf("upsert content: %w", err)
	}
	return id, nil
}

func normalizeDomains(domains []string) []string {
	if len(domains) == 0 {
		return []string{}
	}
	return append([]string(nil), domains...)
}
