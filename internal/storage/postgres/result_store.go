// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sneaky-snake/internal/scrape"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "scrape_results"

// Config controls the Postgres connection pool used for result rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	AutoMigrate     bool
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ResultStore implements scrape.Store on Postgres.
type ResultStore struct {
	pool  pool
	table string
}

// NewResultStore connects to Postgres and optionally bootstraps the schema.
func NewResultStore(ctx context.Context, cfg Config) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &ResultStore{pool: p, table: table}
	if cfg.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewResultStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewResultStoreWithPool(p pool, table string) (*ResultStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ResultStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the results table and its cache-key index when missing.
func (s *ResultStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	request_id   TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	selector     TEXT NOT NULL DEFAULT '',
	timeout_ms   INTEGER NOT NULL,
	content      TEXT,
	errors       TEXT,
	processed    BOOLEAN NOT NULL DEFAULT FALSE,
	processed_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	index := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %[1]s_key_idx ON %[1]s (url, selector, created_at DESC)`, s.table)
	if _, err := s.pool.Exec(ctx, index); err != nil {
		return fmt.Errorf("create %s index: %w", s.table, err)
	}
	return nil
}

func (s *ResultStore) columns() string {
	return "request_id, url, selector, timeout_ms, content, errors, processed, processed_at, created_at"
}

// FindByKey returns the newest record for the exact (url, selector) pair.
func (s *ResultStore) FindByKey(ctx context.Context, url, selector string) (scrape.Result, error) {
	key := scrape.NewKey(url, selector)
	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE url = $1 AND selector = $2 ORDER BY created_at DESC LIMIT 1`,
		s.columns(), s.table)
	return scanResult(s.pool.QueryRow(ctx, query, key.URL, key.Selector))
}

// FindByID fetches a record by request ID.
func (s *ResultStore) FindByID(ctx context.Context, requestID string) (scrape.Result, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE request_id = $1`, s.columns(), s.table)
	return scanResult(s.pool.QueryRow(ctx, query, requestID))
}

// Create inserts a new pending record.
func (s *ResultStore) Create(ctx context.Context, result scrape.Result) error {
	if result.RequestID == "" {
		return fmt.Errorf("request id is required")
	}
	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	request_id,
	url,
	selector,
	timeout_ms,
	processed,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6
)`, s.table)
	args := []any{
		result.RequestID,
		result.URL,
		scrape.NewKey(result.URL, result.Selector).Selector,
		result.TimeoutMs,
		false,
		createdAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert result %s: %w", result.RequestID, err)
	}
	return nil
}

// Delete removes a record.
func (s *ResultStore) Delete(ctx context.Context, requestID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE request_id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, requestID)
	if err != nil {
		return fmt.Errorf("delete result %s: %w", requestID, err)
	}
	if tag.RowsAffected() == 0 {
		return scrape.ErrNotFound
	}
	return nil
}

// Commit writes terminal fields only while the row is still pending.
func (s *ResultStore) Commit(ctx context.Context, result scrape.Result) error {
	if !result.Terminal() {
		return scrape.ErrNotTerminal
	}
	query := fmt.Sprintf(`
UPDATE %s
SET content = $2, errors = $3, processed_at = $4, processed = TRUE
WHERE request_id = $1 AND processed = FALSE`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		result.RequestID, result.Content, result.Errors, result.ProcessedAt.UTC())
	if err != nil {
		return fmt.Errorf("commit result %s: %w", result.RequestID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	check := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE request_id = $1)`, s.table)
	if err := s.pool.QueryRow(ctx, check, result.RequestID).Scan(&exists); err != nil {
		return fmt.Errorf("check result %s: %w", result.RequestID, err)
	}
	if !exists {
		return scrape.ErrNotFound
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func scanResult(row pgx.Row) (scrape.Result, error) {
	var (
		res         scrape.Result
		content     *string
		errText     *string
		processedAt *time.Time
	)
	err := row.Scan(
		&res.RequestID,
		&res.URL,
		&res.Selector,
		&res.TimeoutMs,
		&content,
		&errText,
		&res.Processed,
		&processedAt,
		&res.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.Result{}, scrape.ErrNotFound
	}
	if err != nil {
		return scrape.Result{}, fmt.Errorf("scan result: %w", err)
	}
	res.Content = content
	res.Errors = errText
	if processedAt != nil {
		ts := processedAt.UTC()
		res.ProcessedAt = &ts
	}
	res.CreatedAt = res.CreatedAt.UTC()
	return res, nil
}
