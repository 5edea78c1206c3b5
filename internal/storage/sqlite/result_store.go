// Package sqlite persists result records in a local SQLite file through GORM.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/JakeFAU/sneaky-snake/internal/scrape"
)

// resultRow is the table layout for scrape results.
type resultRow struct {
	RequestID   string `gorm:"primaryKey;column:request_id"`
	URL         string `gorm:"column:url;not null;index:idx_scrape_results_key,priority:1"`
	Selector    string `gorm:"column:selector;not null;index:idx_scrape_results_key,priority:2"`
	TimeoutMs   int    `gorm:"column:timeout_ms;not null"`
	Content     *string
	Errors      *string
	Processed   bool `gorm:"not null;index"`
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

func (resultRow) TableName() string {
	return "scrape_results"
}

// Config controls where the database lives.
type Config struct {
	Path         string
	MaxOpenConns int
}

// ResultStore implements scrape.Store on SQLite.
type ResultStore struct {
	db *gorm.DB
}

// NewResultStore opens (and migrates) the database at cfg.Path.
func NewResultStore(ctx context.Context, cfg Config) (*ResultStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL lets the API read while workers commit.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", cfg.Path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql db: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 8
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(2)

	if err := db.WithContext(ctx).AutoMigrate(&resultRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate scrape_results: %w", err)
	}
	return &ResultStore{db: db}, nil
}

// FindByKey returns the newest record for the exact (url, selector) pair.
func (s *ResultStore) FindByKey(ctx context.Context, url, selector string) (scrape.Result, error) {
	key := scrape.NewKey(url, selector)
	var row resultRow
	err := s.db.WithContext(ctx).
		Where("url = ? AND selector = ?", key.URL, key.Selector).
		Order("created_at DESC").
		Order("rowid DESC").
		Take(&row).Error
	if err != nil {
		return scrape.Result{}, translate(err)
	}
	return row.toResult(), nil
}

// FindByID fetches a record by request ID.
func (s *ResultStore) FindByID(ctx context.Context, requestID string) (scrape.Result, error) {
	var row resultRow
	if err := s.db.WithContext(ctx).Where("request_id = ?", requestID).Take(&row).Error; err != nil {
		return scrape.Result{}, translate(err)
	}
	return row.toResult(), nil
}

// Create inserts a new pending record.
func (s *ResultStore) Create(ctx context.Context, result scrape.Result) error {
	if result.RequestID == "" {
		return fmt.Errorf("request id is required")
	}
	row := fromResult(result)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert result %s: %w", result.RequestID, err)
	}
	return nil
}

// Delete removes a record.
func (s *ResultStore) Delete(ctx context.Context, requestID string) error {
	res := s.db.WithContext(ctx).Where("request_id = ?", requestID).Delete(&resultRow{})
	if res.Error != nil {
		return fmt.Errorf("delete result %s: %w", requestID, res.Error)
	}
	if res.RowsAffected == 0 {
		return scrape.ErrNotFound
	}
	return nil
}

// Commit writes terminal fields only while the row is still pending.
func (s *ResultStore) Commit(ctx context.Context, result scrape.Result) error {
	if !result.Terminal() {
		return scrape.ErrNotTerminal
	}
	db := s.db.WithContext(ctx)
	res := db.Model(&resultRow{}).
		Where("request_id = ? AND processed = ?", result.RequestID, false).
		Updates(map[string]any{
			"content":      result.Content,
			"errors":       result.Errors,
			"processed_at": result.ProcessedAt.UTC(),
			"processed":    true,
		})
	if res.Error != nil {
		return fmt.Errorf("commit result %s: %w", result.RequestID, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := db.Model(&resultRow{}).Where("request_id = ?", result.RequestID).Count(&count).Error; err != nil {
		return fmt.Errorf("check result %s: %w", result.RequestID, err)
	}
	if count == 0 {
		return scrape.ErrNotFound
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *ResultStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return scrape.ErrNotFound
	}
	return err
}

func fromResult(r scrape.Result) resultRow {
	row := resultRow{
		RequestID:   r.RequestID,
		URL:         r.URL,
		Selector:    scrape.NewKey(r.URL, r.Selector).Selector,
		TimeoutMs:   r.TimeoutMs,
		Content:     r.Content,
		Errors:      r.Errors,
		Processed:   r.Processed,
		ProcessedAt: r.ProcessedAt,
		CreatedAt:   r.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return row
}

func (row resultRow) toResult() scrape.Result {
	res := scrape.Result{
		RequestID: row.RequestID,
		URL:       row.URL,
		Selector:  row.Selector,
		TimeoutMs: row.TimeoutMs,
		Content:   row.Content,
		Errors:    row.Errors,
		Processed: row.Processed,
		CreatedAt: row.CreatedAt.UTC(),
	}
	if row.ProcessedAt != nil {
		ts := row.ProcessedAt.UTC()
		res.ProcessedAt = &ts
	}
	return res
}
