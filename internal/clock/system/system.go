// Package system provides the wall clock used to stamp processed results.
package system

import "time"

// Precision is the resolution of stamped times. Every store backend round-trips it unchanged.
const Precision = time.Microsecond

// Clock implements scrape.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time truncated to Precision.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(Precision)
}
