package scrape

import (
	"strings"
	"time"
)

// Result is the persisted record for a single scrape attempt.
type Result struct {
	RequestID   string     `json:"request_id"`
	URL         string     `json:"url"`
	Selector    string     `json:"selector,omitempty"`
	TimeoutMs   int        `json:"timeout_ms"`
	Content     *string    `json:"content,omitempty"`
	Errors      *string    `json:"errors,omitempty"`
	Processed   bool       `json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Pending reports whether the record still waits for its fetch workflow.
func (r Result) Pending() bool {
	return !r.Processed
}

// Terminal reports whether the record satisfies the terminal shape:
// processed, stamped, and carrying exactly one of content or errors.
func (r Result) Terminal() bool {
	if !r.Processed || r.ProcessedAt == nil {
		return false
	}
	return (r.Content != nil) != (r.Errors != nil)
}

// Timeout converts the stored millisecond timeout to a duration.
func (r Result) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// Key returns the cache key for the record.
func (r Result) Key() Key {
	return NewKey(r.URL, r.Selector)
}

// Key identifies a cacheable (url, selector) pair.
type Key struct {
	URL      string
	Selector string
}

// NewKey normalises the selector so that absent and blank selectors match.
func NewKey(url, selector string) Key {
	return Key{URL: url, Selector: strings.TrimSpace(selector)}
}

// FetchRequest captures everything a Fetcher needs for one page.
type FetchRequest struct {
	RequestID string
	URL       string
	Selector  string
	Timeout   time.Duration
	Stealth   bool
}

// QueueItem is one scheduled fetch workflow invocation.
type QueueItem struct {
	RequestID string        `json:"request_id"`
	Stealth   bool          `json:"stealth"`
	Delay     time.Duration `json:"delay"`
	Submitted int64         `json:"submitted"`
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}
