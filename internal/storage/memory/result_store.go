// Package memory provides an in-memory result store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/sneaky-snake/internal/scrape"
)

// ResultStore keeps result records in maps guarded by a RWMutex.
type ResultStore struct {
	mu      sync.RWMutex
	records map[string]scrape.Result
	byKey   map[scrape.Key][]string
}

// NewResultStore constructs an empty ResultStore.
func NewResultStore() *ResultStore {
	return &ResultStore{
		records: make(map[string]scrape.Result),
		byKey:   make(map[scrape.Key][]string),
	}
}

// FindByKey returns the newest record stored for the exact (url, selector) pair.
func (s *ResultStore) FindByKey(_ context.Context, url, selector string) (scrape.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byKey[scrape.NewKey(url, selector)]
	if len(ids) == 0 {
		return scrape.Result{}, scrape.ErrNotFound
	}
	return clone(s.records[ids[len(ids)-1]]), nil
}

// FindByID fetches a record by request ID.
func (s *ResultStore) FindByID(_ context.Context, requestID string) (scrape.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[requestID]
	if !ok {
		return scrape.Result{}, scrape.ErrNotFound
	}
	return clone(rec), nil
}

// Create stores a new pending record.
func (s *ResultStore) Create(_ context.Context, result scrape.Result) error {
	if result.RequestID == "" {
		return fmt.Errorf("request id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[result.RequestID]; exists {
		return fmt.Errorf("result %s already exists", result.RequestID)
	}
	result.Selector = scrape.NewKey(result.URL, result.Selector).Selector
	s.records[result.RequestID] = clone(result)
	key := result.Key()
	s.byKey[key] = append(s.byKey[key], result.RequestID)
	return nil
}

// Delete removes a record. Deleting an unknown ID returns ErrNotFound.
func (s *ResultStore) Delete(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[requestID]
	if !ok {
		return scrape.ErrNotFound
	}
	delete(s.records, requestID)
	key := rec.Key()
	ids := s.byKey[key]
	for i, id := range ids {
		if id == requestID {
			ids = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(s.byKey, key)
	} else {
		s.byKey[key] = ids
	}
	return nil
}

// Commit writes the terminal fields of a pending record.
func (s *ResultStore) Commit(_ context.Context, result scrape.Result) error {
	if !result.Terminal() {
		return scrape.ErrNotTerminal
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[result.RequestID]
	if !ok {
		return scrape.ErrNotFound
	}
	if rec.Processed {
		return nil
	}
	rec.Content = result.Content
	rec.Errors = result.Errors
	rec.ProcessedAt = result.ProcessedAt
	rec.Processed = true
	s.records[result.RequestID] = clone(rec)
	return nil
}

// Close is a no-op.
func (s *ResultStore) Close() error {
	return nil
}

// Len reports how many records are stored.
func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func clone(r scrape.Result) scrape.Result {
	if r.Content != nil {
		r.Content = scrape.StringPtr(*r.Content)
	}
	if r.Errors != nil {
		r.Errors = scrape.StringPtr(*r.Errors)
	}
	if r.ProcessedAt != nil {
		ts := *r.ProcessedAt
		r.ProcessedAt = &ts
	}
	return r
}
