package scrape

import (
	"errors"
	"fmt"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("result not found")

// ErrNotTerminal is returned by Store.Commit for records that are not in terminal shape.
var ErrNotTerminal = errors.New("result is not terminal")

// FetchError describes a failed page fetch.
type FetchError struct {
	URL string
	Err error
}

// NewFetchError wraps err with the URL that failed.
func NewFetchError(url string, err error) *FetchError {
	return &FetchError{URL: url, Err: err}
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s failed", e.URL)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ErrQueueClosed is returned by queues after Close.
var ErrQueueClosed = errors.New("queue closed")
